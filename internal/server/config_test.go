package server

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, k := range []string{"SKETCHFS_NETWORK", "SKETCHFS_ADDR", "SKETCHFS_LAYERS", "SKETCHFS_MAX_LAYERS", "SKETCHFS_VERBOSE", "SKETCHFS_MDNS", "SKETCHFS_OTEL_ENDPOINT"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Network != NetworkUnix || cfg.Layers != 1 || cfg.MaxLayers != DefaultMaxLayers || cfg.Verbose || cfg.MDNS || cfg.OTelEndpoint != "" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SKETCHFS_NETWORK", "tcp")
	t.Setenv("SKETCHFS_ADDR", "127.0.0.1:7000")
	t.Setenv("SKETCHFS_LAYERS", "4")
	t.Setenv("SKETCHFS_MAX_LAYERS", "64")
	t.Setenv("SKETCHFS_VERBOSE", "true")
	t.Setenv("SKETCHFS_MDNS", "true")
	t.Setenv("SKETCHFS_OTEL_ENDPOINT", "http://localhost:4318")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := Config{
		Network:      NetworkTCP,
		Addr:         "127.0.0.1:7000",
		Layers:       4,
		MaxLayers:    64,
		Verbose:      true,
		MDNS:         true,
		OTelEndpoint: "http://localhost:4318",
	}
	if cfg != want {
		t.Fatalf("LoadConfig = %+v, want %+v", cfg, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadConfigBadLayers(t *testing.T) {
	t.Setenv("SKETCHFS_LAYERS", "several")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig accepted a non-numeric layer count")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"unknown network", Config{Network: "udp"}, "unknown network"},
		{"negative layers", Config{Network: NetworkUnix, Layers: -1}, "negative"},
		{"mdns on unix", Config{Network: NetworkUnix, MDNS: true}, "mdns"},
		{"no max layers", Config{Network: NetworkUnix}, "max layers"},
		{"layers over max", Config{Network: NetworkUnix, Layers: 5, MaxLayers: 4}, "max layers"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.want)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	t.Setenv("NAMESPACE", "/tmp/ns.test")
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Network: NetworkTCP}, DefaultTCPAddr},
		{Config{Network: NetworkTCP, Addr: "host:1"}, "host:1"},
		{Config{Network: NetworkUnix}, filepath.Join("/tmp/ns.test", "sketchfs")},
		{Config{Network: Network9PServe}, filepath.Join("/tmp/ns.test", "sketchfs")},
	}
	for _, tc := range tests {
		if got := tc.cfg.Address(); got != tc.want {
			t.Errorf("%+v.Address() = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}
