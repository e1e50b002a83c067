package board

import (
	"time"

	"github.com/cptaffe/sketchfs/internal/discovery"
)

// Server is a sketchfs server advertised on the local link.
type Server = discovery.Entry

// Discover lists the servers that answer a multicast DNS query within
// timeout.  Connect to one with Dial("tcp", s.Addr).
func Discover(timeout time.Duration) ([]Server, error) {
	return discovery.Browse(timeout)
}
