package server

import (
	"fmt"
	"path/filepath"

	"9fans.net/go/plan9/client"
	"github.com/caarlos0/env/v11"
	"github.com/cptaffe/sketchfs/sketch"
)

// Networks accepted by Config.Network.
const (
	NetworkUnix    = "unix"
	NetworkTCP     = "tcp"
	Network9PServe = "9pserve" // fork 9pserve and serve one multiplexed pipe
)

// DefaultTCPAddr is used when Network is tcp and no address was given.
const DefaultTCPAddr = ":5640"

// Config holds the process settings.  Every field can be set from the
// environment; command-line flags override it.
type Config struct {
	// Network is one of unix, tcp or 9pserve.
	Network string `env:"SKETCHFS_NETWORK" envDefault:"unix"`

	// Addr is the socket path or host:port.  Empty selects a default
	// for the network; see Address.
	Addr string `env:"SKETCHFS_ADDR"`

	// Layers is the number of empty layers the document starts with.
	Layers int `env:"SKETCHFS_LAYERS" envDefault:"1"`

	// MaxLayers caps how far clients may grow the document.
	MaxLayers int `env:"SKETCHFS_MAX_LAYERS" envDefault:"1024"`

	Verbose bool `env:"SKETCHFS_VERBOSE"`

	// MDNS advertises a tcp listener on the local link.
	MDNS bool `env:"SKETCHFS_MDNS"`

	// OTelEndpoint is an OTLP/HTTP collector URL.  Empty disables tracing.
	OTelEndpoint string `env:"SKETCHFS_OTEL_ENDPOINT"`
}

// LoadConfig reads a Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Network {
	case NetworkUnix, NetworkTCP, Network9PServe:
	default:
		return fmt.Errorf("unknown network %q (want unix, tcp or 9pserve)", c.Network)
	}
	if c.Layers < 0 {
		return fmt.Errorf("layers must not be negative, got %d", c.Layers)
	}
	if c.MDNS && c.Network != NetworkTCP {
		return fmt.Errorf("mdns requires the tcp network, got %s", c.Network)
	}
	if c.MaxLayers < 1 || c.Layers > c.MaxLayers {
		return fmt.Errorf("max layers %d must be at least 1 and at least layers (%d)", c.MaxLayers, c.Layers)
	}
	return nil
}

// Address returns Addr, or the default for Network when Addr is empty:
// $NAMESPACE/sketchfs for unix sockets and 9pserve, :5640 for tcp.
func (c Config) Address() string {
	if c.Addr != "" {
		return c.Addr
	}
	if c.Network == NetworkTCP {
		return DefaultTCPAddr
	}
	return filepath.Join(client.Namespace(), sketch.ServiceName)
}
