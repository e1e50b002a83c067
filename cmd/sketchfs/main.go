// Command sketchfs serves a vector drawing document as a 9P file tree.
//
// Usage:
//
//	sketchfs [-net unix|tcp|9pserve] [-srv addr] [-layers n] [-maxlayers n] [-mdns] [-otel url] [-v]
//
// Every flag defaults to the matching SKETCHFS_* environment variable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/cptaffe/sketchfs/internal/discovery"
	"github.com/cptaffe/sketchfs/internal/document"
	"github.com/cptaffe/sketchfs/internal/server"
	"github.com/cptaffe/sketchfs/internal/telemetry"
	"github.com/cptaffe/sketchfs/logger"
	"github.com/cptaffe/sketchfs/sketch"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// shutdownTimeout bounds how long shutdown waits for open connections.
const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	flag.StringVar(&cfg.Network, "net", cfg.Network, "network: unix, tcp or 9pserve")
	flag.StringVar(&cfg.Addr, "srv", cfg.Addr, "socket path or host:port (default: $NAMESPACE/sketchfs, :5640 for tcp)")
	flag.IntVar(&cfg.Layers, "layers", cfg.Layers, "number of empty layers to start with")
	flag.IntVar(&cfg.MaxLayers, "maxlayers", cfg.MaxLayers, "most layers clients may grow the document to")
	flag.BoolVar(&cfg.MDNS, "mdns", cfg.MDNS, "advertise the tcp listener with multicast DNS")
	flag.StringVar(&cfg.OTelEndpoint, "otel", cfg.OTelEndpoint, "OTLP/HTTP endpoint for traces")
	flag.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	var l *zap.Logger
	if cfg.Verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	zap.ReplaceGlobals(l)
	defer l.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals...)
	defer stop()
	ctx = logger.NewContext(ctx, l)

	if err := run(ctx, cfg); err != nil {
		l.Error("exit", zap.Error(err))
		l.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

// run serves until ctx is cancelled, then shuts down.
func run(ctx context.Context, cfg server.Config) (err error) {
	l := logger.L(ctx)

	shutdownTracing, err := telemetry.Setup(ctx, sketch.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = multierr.Append(err, shutdownTracing(sctx))
	}()

	m := document.New(l)
	if err := m.GenerateLayers(cfg.Layers); err != nil {
		return err
	}
	s := server.New(ctx, m, server.WithMaxLayers(cfg.MaxLayers))
	addr := cfg.Address()
	l = l.With(zap.String("network", cfg.Network), zap.String("addr", addr))

	if cfg.Network == server.Network9PServe {
		err = servePipe(ctx, s, addr)
	} else {
		err = serveListener(ctx, s, cfg, addr)
	}

	l.Info("shutting down; waiting for connections")
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case cerr := <-done:
		err = multierr.Append(err, cerr)
		l.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		l.Warn("shutdown timed out; exiting anyway")
	}
	return err
}

// servePipe serves the single multiplexed pipe handed over by 9pserve
// until ctx is cancelled or 9pserve exits.
func servePipe(ctx context.Context, s *server.Server, addr string) error {
	rwc, cleanup, err := listen(addr)
	if err != nil {
		return err
	}
	defer cleanup()
	logger.L(ctx).Info("posted", zap.String("srv", addr), zap.String("session", s.Model().Session()))

	done := make(chan struct{})
	go func() {
		s.ServeConn(rwc)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	return nil
}

func serveListener(ctx context.Context, s *server.Server, cfg server.Config, addr string) error {
	l := logger.L(ctx)
	ln, err := announce(cfg.Network, addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	if cfg.Network == server.NetworkUnix {
		defer os.Remove(addr)
	}

	if cfg.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		adv, err := discovery.Advertise(port, s.Model().Session())
		if err != nil {
			return fmt.Errorf("advertise: %w", err)
		}
		defer adv.Shutdown() //nolint:errcheck
		l.Info("advertising", zap.String("service", discovery.ServiceType), zap.Int("port", port))
	}

	l.Info("listening",
		zap.Stringer("addr", ln.Addr()),
		zap.String("session", s.Model().Session()))
	return s.Serve(ln)
}

// announce opens the listener.  A unix socket replaces any stale socket
// left at path by an earlier run.
func announce(network, addr string) (net.Listener, error) {
	if network == server.NetworkUnix {
		if err := os.MkdirAll(filepath.Dir(addr), 0o700); err != nil {
			return nil, fmt.Errorf("namespace dir: %w", err)
		}
		os.Remove(addr)
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s!%s: %w", network, addr, err)
	}
	return ln, nil
}
