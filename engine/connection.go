package engine

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/metric"
	"github.com/optseb/spinemlnet/pkg/buffer"
	"github.com/optseb/spinemlnet/protocol"
)

// Config holds the per-connection protocol tunables.
type Config struct {
	// RetryBudget is the number of consecutive no-data read attempts
	// tolerated before a handshake stage fails or a pump step treats
	// the stream as ended.
	RetryBudget int

	// PollInterval is the read deadline applied to each attempt; an
	// expiry with no bytes consumed is one no-data attempt.
	PollInterval time.Duration

	// WriteTimeout bounds every socket write.
	WriteTimeout time.Duration

	// MaxNameLength is the ceiling on the client-declared name length.
	MaxNameLength int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		RetryBudget:   protocol.DefaultRetryBudget,
		PollInterval:  10 * time.Millisecond,
		WriteTimeout:  10 * time.Second,
		MaxNameLength: protocol.DefaultMaxNameLength,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RetryBudget <= 0 {
		c.RetryBudget = d.RetryBudget
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = d.MaxNameLength
	}
	return c
}

// Deps carries the injected collaborators of a Connection.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metric.Metrics // optional

	// FrameTap, when set, is called with every complete frame read
	// from a source client, after the samples are buffered. Best
	// effort: the tap must not block for long and its errors are its
	// own concern.
	FrameTap func(name string, samples []float64)
}

// Connection is the per-stream protocol engine aggregate. One goroutine
// (the orchestrator's worker) drives Handshake and Pump; the host
// application goroutine uses the buffer API concurrently. The sample
// queue has its own lock; negotiated fields are guarded by stateMu; the
// two are never held together.
type Connection struct {
	conn    net.Conn
	id      string
	cfg     Config
	logger  *slog.Logger
	metrics *metric.Metrics
	tap     func(string, []float64)

	// Lifecycle flags. failed and finished are monotonic.
	established atomic.Bool
	failed      atomic.Bool
	finished    atomic.Bool

	// Negotiated during the handshake, set exactly once.
	stateMu    sync.RWMutex
	direction  protocol.Direction
	dataKind   protocol.DataKind
	frameWidth int
	name       string
	queue      buffer.Queue[float64]

	// Worker-goroutine state, never touched by the host.
	awaitingAck  bool
	noDataStreak int
	scratch      []byte // frameWidth*8 wire bytes, allocated at handshake

	closeOnce sync.Once
	closeErr  error
}

// NewConnection wraps an accepted socket. id is a pre-handshake
// identifier used in logs and the session registry until the client
// names itself.
func NewConnection(conn net.Conn, id string, cfg Config, deps Deps) *Connection {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		conn:    conn,
		id:      id,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "connection", "connection_id", id),
		metrics: deps.Metrics,
		tap:     deps.FrameTap,
	}
}

// ID returns the pre-handshake connection identifier.
func (c *Connection) ID() string { return c.id }

// Established reports whether the handshake completed successfully.
func (c *Connection) Established() bool { return c.established.Load() }

// Failed reports whether the connection hit a protocol or transport
// error. Monotonic.
func (c *Connection) Failed() bool { return c.failed.Load() }

// Finished reports whether the connection reached a terminal state,
// graceful or not. Monotonic.
func (c *Connection) Finished() bool { return c.finished.Load() }

// Direction returns the negotiated data-flow direction.
func (c *Connection) Direction() protocol.Direction {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.direction
}

// DataKind returns the negotiated payload kind.
func (c *Connection) DataKind() protocol.DataKind {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.dataKind
}

// FrameWidth returns the negotiated samples-per-frame count.
func (c *Connection) FrameWidth() int {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.frameWidth
}

// Name returns the client-declared connection name, empty before the
// handshake completes.
func (c *Connection) Name() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.name
}

func (c *Connection) buffer() buffer.Queue[float64] {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.queue
}

// AddNum appends one sample to the connection's buffer.
//
// CAUTION: this is silently a no-op unless the connection is
// established and not failed. Callers cannot distinguish "not yet
// ready" from "permanently failed" through this call; poll
// Established/Failed/Finished to tell the states apart.
func (c *Connection) AddNum(value float64) {
	if !c.established.Load() || c.failed.Load() {
		return
	}
	if q := c.buffer(); q != nil {
		_ = q.Push(value)
	}
}

// AddData appends samples to the connection's buffer in order. Same
// silent no-op contract as AddNum.
func (c *Connection) AddData(values []float64) {
	if !c.established.Load() || c.failed.Load() {
		return
	}
	if q := c.buffer(); q != nil {
		_ = q.PushBatch(values)
	}
}

// DataSize returns the number of buffered samples.
func (c *Connection) DataSize() int {
	q := c.buffer()
	if q == nil {
		return 0
	}
	return q.Len()
}

// PopFront removes and returns the oldest buffered sample. Returns
// ErrEmptyBuffer when nothing is buffered; callers should check
// DataSize first or handle the error.
func (c *Connection) PopFront() (float64, error) {
	q := c.buffer()
	if q == nil {
		return 0, errors.WrapInvalid(errors.ErrEmptyBuffer, "Connection", "PopFront", "buffer access")
	}
	v, ok := q.Pop()
	if !ok {
		return 0, errors.WrapInvalid(errors.ErrEmptyBuffer, "Connection", "PopFront", "buffer access")
	}
	return v, nil
}

// Close closes the socket exactly once. Safe to call from any
// goroutine; the orchestrator uses it both for teardown and to force a
// blocked pump out of its read.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// fail marks the connection failed and finished, logs the cause and
// counts it. Returns StepFailed for use in pump return paths.
func (c *Connection) fail(op string, err error) StepResult {
	c.failed.Store(true)
	c.finished.Store(true)
	c.logger.Error("connection failed",
		"operation", op,
		"name", c.Name(),
		"error", err,
	)
	if c.metrics != nil {
		c.metrics.RecordProtocolError(c.Name(), errors.Classify(err).String())
	}
	return StepFailed
}

// complete marks the connection gracefully finished.
func (c *Connection) complete(reason string) StepResult {
	c.finished.Store(true)
	c.logger.Info("connection completed",
		"name", c.Name(),
		"reason", reason,
	)
	return StepCompleted
}
