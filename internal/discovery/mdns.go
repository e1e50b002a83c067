// Package discovery advertises and finds sketchfs servers on the local link
// with multicast DNS.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the DNS-SD service type of a sketchfs tcp listener.
const ServiceType = "_sketchfs._tcp"

// SessionKey prefixes the TXT record carrying the document session id.
const SessionKey = "session="

// Advertise announces a server listening on port.  Shut the returned server
// down to withdraw the announcement.
func Advertise(port int, session string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("hostname: %w", err)
	}
	svc, err := newService(host, "", port, nil, session)
	if err != nil {
		return nil, err
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("start mdns server: %w", err)
	}
	return server, nil
}

// newService builds the zone for one instance.  An empty hostName and nil
// ips are filled in from the local host.
func newService(instance, hostName string, port int, ips []net.IP, session string) (*mdns.MDNSService, error) {
	svc, err := mdns.NewMDNSService(instance, ServiceType, "", hostName, port, ips,
		[]string{SessionKey + session})
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	return svc, nil
}

// Entry is one server found by Browse.
type Entry struct {
	Instance string
	Addr     string // host:port
	Session  string
}

// Browse queries the local link for timeout and returns every server that
// answered with an IPv4 address.
func Browse(timeout time.Duration) ([]Entry, error) {
	ch := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	seen := make(map[string]bool)
	var found []Entry
	go func() {
		defer close(done)
		for e := range ch {
			if ent, ok := toEntry(e); ok && !seen[ent.Addr] {
				seen[ent.Addr] = true
				found = append(found, ent)
			}
		}
	}()
	err := mdns.Query(&mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     ch,
		DisableIPv6: true,
	})
	close(ch)
	<-done
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func toEntry(e *mdns.ServiceEntry) (Entry, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Entry{}, false
	}
	ent := Entry{
		Instance: e.Name,
		Addr:     net.JoinHostPort(e.AddrV4.String(), strconv.Itoa(e.Port)),
	}
	for _, f := range e.InfoFields {
		if len(f) > len(SessionKey) && f[:len(SessionKey)] == SessionKey {
			ent.Session = f[len(SessionKey):]
		}
	}
	return ent, true
}
