// Package server runs the TCP listener and owns the per-connection
// workers. Each accepted socket gets a goroutine that runs the
// handshake once, then the pump loop until a terminal result; the
// server tracks live connections in a registry the host application
// queries by name.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/optseb/spinemlnet/engine"
	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/handoff"
	"github.com/optseb/spinemlnet/metric"
	"github.com/optseb/spinemlnet/pkg/retry"
)

// Publisher is the frame tap sink. natsclient.Client implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Config holds the server settings.
type Config struct {
	ListenAddr string
	Engine     engine.Config

	// TapSubjectPrefix prefixes the per-connection tap subject; frames
	// from a source connection named N go to "<prefix>.<N>".
	TapSubjectPrefix string
}

// Deps carries the server's injected collaborators.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional
	Cache   *handoff.Cache  // required
	Tap     Publisher       // optional
}

// Server accepts SpineML stream connections and pumps them to
// completion.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	cache   *handoff.Cache
	tap     Publisher

	initialized bool
	running     atomic.Bool
	shutdown    chan struct{}

	listener net.Listener
	group    *errgroup.Group
	connWG   sync.WaitGroup

	// Throttles the accept loop after transient accept errors.
	acceptLimiter *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*engine.Connection // by pre-handshake id
	byName   map[string]*engine.Connection // established only
}

// New creates an uninitialized server.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		metrics: deps.Metrics,
		cache:   deps.Cache,
		tap:     deps.Tap,
	}
}

// Initialize validates dependencies and prepares internal state. Must
// be called before Start.
func (s *Server) Initialize() error {
	if s.initialized {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Initialize", "initialize")
	}
	if s.cache == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Server", "Initialize", "handoff cache required")
	}
	if s.cfg.ListenAddr == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Server", "Initialize", "listen address required")
	}

	s.shutdown = make(chan struct{})
	s.sessions = make(map[string]*engine.Connection)
	s.byName = make(map[string]*engine.Connection)
	s.acceptLimiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	s.initialized = true
	return nil
}

// Start binds the listener and launches the accept loop. Returns once
// the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	if !s.initialized {
		return errors.WrapInvalid(errors.ErrNotStarted, "Server", "Start", "initialize first")
	}
	if !s.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Server", "Start", "start")
	}

	err := retry.Do(ctx, retry.Quick(), func() error {
		l, lerr := net.Listen("tcp", s.cfg.ListenAddr)
		if lerr != nil {
			s.logger.Warn("listener bind failed, retrying", "addr", s.cfg.ListenAddr, "error", lerr)
			return lerr
		}
		s.listener = l
		return nil
	})
	if err != nil {
		s.running.Store(false)
		return errors.WrapFatal(err, "Server", "Start", "listener bind")
	}

	s.logger.Info("listening", "addr", s.listener.Addr().String())

	s.group, _ = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		s.acceptLoop(ctx)
		return nil
	})
	return nil
}

// Addr returns the bound listener address, useful when the configured
// port is 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every live socket, then waits up to
// timeout for the workers to drain. Leftover buffered samples are
// discarded with their connections.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.running.CompareAndSwap(true, false) {
		return errors.WrapInvalid(errors.ErrNotStarted, "Server", "Stop", "stop")
	}

	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}

	// Force blocked pumps out of their reads.
	s.mu.RLock()
	for _, c := range s.sessions {
		_ = c.Close()
	}
	s.mu.RUnlock()

	_ = s.group.Wait()

	drained := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		s.logger.Info("server stopped")
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Server", "Stop", "worker drain")
	}
}

// Connection returns the established connection with the given
// negotiated name, or nil.
func (s *Server) Connection(name string) *engine.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byName[name]
}

// Connections returns a snapshot of all live connections, established
// or still handshaking.
func (s *Server) Connections() []*engine.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*engine.Connection, 0, len(s.sessions))
	for _, c := range s.sessions {
		out = append(out, c)
	}
	return out
}

// Cache returns the shared handoff cache, for host-side staging.
func (s *Server) Cache() *handoff.Cache {
	return s.cache
}

// ActiveCount returns the number of live connections.
func (s *Server) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		netConn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn("accept failed", "error", err)
			if werr := s.acceptLimiter.Wait(ctx); werr != nil {
				return
			}
			continue
		}

		id := uuid.NewString()
		s.logger.Debug("accepted connection",
			"connection_id", id,
			"remote", netConn.RemoteAddr().String(),
		)

		s.connWG.Add(1)
		go s.runConnection(id, netConn)
	}
}

// runConnection is the per-connection worker: handshake once, then
// pump until terminal, then tear down.
func (s *Server) runConnection(id string, netConn net.Conn) {
	defer s.connWG.Done()

	c := engine.NewConnection(netConn, id, s.cfg.Engine, engine.Deps{
		Logger:   s.logger,
		Metrics:  s.metrics,
		FrameTap: s.frameTap(),
	})

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	defer func() {
		_ = c.Close()
		s.mu.Lock()
		delete(s.sessions, id)
		if name := c.Name(); name != "" && s.byName[name] == c {
			delete(s.byName, name)
		}
		s.mu.Unlock()
	}()

	if err := c.Handshake(s.cache); err != nil {
		s.logger.Warn("handshake failed, dropping connection",
			"connection_id", id,
			"error", err,
		)
		return
	}

	s.mu.Lock()
	if prev, ok := s.byName[c.Name()]; ok && prev != c {
		s.logger.Warn("duplicate connection name, replacing registry entry",
			"name", c.Name(),
		)
	}
	s.byName[c.Name()] = c
	s.mu.Unlock()

	direction := c.Direction().String()
	if s.metrics != nil {
		s.metrics.RecordConnectionOpened(direction)
	}

	outcome := "completed"
	for {
		select {
		case <-s.shutdown:
			outcome = "shutdown"
			if s.metrics != nil {
				s.metrics.RecordConnectionClosed(direction, outcome)
			}
			return
		default:
		}

		switch c.Pump() {
		case engine.StepContinue:
			continue
		case engine.StepFailed:
			outcome = "failed"
		case engine.StepCompleted:
			outcome = "completed"
		}
		break
	}

	if s.metrics != nil {
		s.metrics.RecordConnectionClosed(direction, outcome)
	}
}

// frameEvent is the tap payload published per source frame.
type frameEvent struct {
	Connection string    `json:"connection"`
	Samples    []float64 `json:"samples"`
	Timestamp  time.Time `json:"timestamp"`
}

// frameTap builds the engine callback that mirrors source frames to
// the tap publisher. Returns nil when no tap is configured.
func (s *Server) frameTap() func(string, []float64) {
	if s.tap == nil {
		return nil
	}
	return func(name string, samples []float64) {
		payload, err := json.Marshal(frameEvent{
			Connection: name,
			Samples:    samples,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			return
		}
		subject := s.cfg.TapSubjectPrefix + "." + name
		if perr := s.tap.Publish(subject, payload); perr != nil {
			s.logger.Debug("frame tap publish failed", "subject", subject, "error", perr)
			if s.metrics != nil {
				s.metrics.RecordTapPublishError()
			}
		}
	}
}
