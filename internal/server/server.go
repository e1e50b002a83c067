// Package server exposes a document.Model as a 9P2000 file tree.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/cptaffe/sketchfs/internal/document"
	"github.com/cptaffe/sketchfs/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const tracerName = "github.com/cptaffe/sketchfs/internal/server"

// DefaultMaxLayers is the largest document a client may grow through the
// file tree unless WithMaxLayers says otherwise.
const DefaultMaxLayers = 1024

// Server is the global service state.
//
// model, tracer and maxLayers are read-only after New returns.  mu protects only the
// conns set; it is never held while doing any I/O.
type Server struct {
	ctx    context.Context // root context; cancelled on shutdown
	model     *document.Model
	tracer    trace.Tracer
	maxLayers int

	mu    sync.Mutex
	conns map[io.ReadWriteCloser]struct{}
	wg    sync.WaitGroup // tracks connections accepted by Serve
}

// An Option configures a Server.
type Option func(*Server)

// WithMaxLayers caps the number of layers ctl and layer writes may create.
// n <= 0 keeps DefaultMaxLayers.
func WithMaxLayers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLayers = n
		}
	}
}

// New returns a Server for m.  The logger in ctx is used for all output
// and cancelling ctx stops Serve.
func New(ctx context.Context, m *document.Model, opts ...Option) *Server {
	s := &Server{
		ctx:       ctx,
		model:     m,
		tracer:    otel.Tracer(tracerName),
		maxLayers: DefaultMaxLayers,
		conns:     make(map[io.ReadWriteCloser]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Model returns the document served by s.
func (s *Server) Model() *document.Model {
	return s.model
}

func (s *Server) log() *zap.Logger {
	return logger.L(s.ctx)
}

// Serve accepts connections on ln until the root context is cancelled or
// ln is closed.  It returns nil after a cancellation.
func (s *Server) Serve(ln net.Listener) error {
	log := logger.L(s.ctx)

	// Close the listener when the context is cancelled so that Accept
	// returns an error and the loop below can exit.
	stop := context.AfterFunc(s.ctx, func() { ln.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Error("accept", zap.Error(err))
			continue
		}
		log.Debug("accepted", zap.Stringer("remote", c.RemoteAddr()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(c)
		}()
	}
}

// ServeConn speaks 9P on c until the peer hangs up or s is closed.  It
// closes c before returning.
func (s *Server) ServeConn(c io.ReadWriteCloser) {
	defer c.Close()
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
	}()
	s.handleConn(c)
}

// Close hangs up every live connection and waits for the connections
// accepted by Serve to finish.
func (s *Server) Close() error {
	var err error
	s.mu.Lock()
	for c := range s.conns {
		if cerr := c.Close(); cerr != nil && !isClosed(cerr) {
			err = multierr.Append(err, cerr)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
