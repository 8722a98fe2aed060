package engine

import (
	"fmt"
	"time"

	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/protocol"
)

// StepResult is the outcome of one pump invocation.
type StepResult int

const (
	// StepContinue means the step made progress or idled under budget;
	// call Pump again.
	StepContinue StepResult = iota
	// StepCompleted means the stream ended gracefully; finished is set.
	StepCompleted
	// StepFailed means a protocol or transport error; failed and
	// finished are set.
	StepFailed
)

// String implements fmt.Stringer.
func (r StepResult) String() string {
	switch r {
	case StepContinue:
		return "continue"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pump performs one directional I/O step. The orchestrator calls it in
// a loop on the worker goroutine, only while the connection is
// established and not terminal.
func (c *Connection) Pump() StepResult {
	if !c.established.Load() {
		return c.fail("Pump", errors.WrapInvalid(errors.ErrNotStarted, "Connection", "Pump", "pump before handshake"))
	}
	if c.finished.Load() {
		if c.failed.Load() {
			return StepFailed
		}
		return StepCompleted
	}

	switch c.Direction() {
	case protocol.DirectionSource:
		return c.pumpSource()
	case protocol.DirectionTarget:
		return c.pumpTarget()
	default:
		// Unreachable given the handshake's validation; report but do
		// not terminate.
		c.logger.Error("pump invoked with invalid direction", "direction", int(c.Direction()))
		return StepContinue
	}
}

// pumpTarget moves one frame from the buffer to the peer: wait for the
// previous frame's ack, then write the next frame when a full one is
// buffered. Repeated no-progress attempts past the retry budget mean
// the peer (while awaiting an ack) or the host (while awaiting data)
// has stopped, which ends the stream gracefully.
func (c *Connection) pumpTarget() StepResult {
	if c.awaitingAck {
		b, ok, err := c.tryReadByte()
		switch {
		case err != nil && errors.Is(err, errors.ErrPeerClosed):
			return c.complete("peer disconnected while acking")
		case err != nil:
			return c.fail("pumpTarget", err)
		case !ok:
			c.noDataStreak++
			if c.noDataStreak >= c.cfg.RetryBudget {
				return c.complete("no ack within retry budget, peer presumed gone")
			}
			return StepContinue
		case b != protocol.Ack:
			return c.fail("pumpTarget", errors.WrapInvalid(
				fmt.Errorf("%w: unexpected ack byte %d", errors.ErrProtocolViolation, b),
				"Connection", "pumpTarget", "ack read"))
		}
		c.awaitingAck = false
		c.noDataStreak = 0
	}

	q := c.buffer()
	frame, ok := q.PopN(c.FrameWidth())
	if !ok {
		// Not enough buffered for a whole frame. Frames go out whole
		// or not at all. Pace the attempt like a deadline-bounded read
		// so the budget measures time, not loop speed.
		time.Sleep(c.cfg.PollInterval)
		c.noDataStreak++
		if c.noDataStreak >= c.cfg.RetryBudget {
			return c.complete("host stopped producing")
		}
		return StepContinue
	}

	wire := protocol.EncodeFrame(c.scratch[:0], frame)
	if err := c.writeFull(wire); err != nil {
		return c.fail("pumpTarget", err)
	}

	c.awaitingAck = true
	c.noDataStreak = 0
	if c.metrics != nil {
		c.metrics.RecordFrame(c.Name(), c.Direction().String(), len(wire))
	}
	return StepContinue
}

// pumpSource moves one frame from the peer to the buffer: read a whole
// frame, push it, acknowledge it. An orderly disconnect at a frame
// boundary ends the stream gracefully, as does running out the retry
// budget with no data.
func (c *Connection) pumpSource() StepResult {
	got, err := c.readFrame()
	switch {
	case err != nil && errors.Is(err, errors.ErrPeerClosed):
		return c.complete("peer closed the stream")
	case err != nil:
		return c.fail("pumpSource", err)
	case !got:
		c.noDataStreak++
		if c.noDataStreak >= c.cfg.RetryBudget {
			return c.complete("no data within retry budget, peer presumed gone")
		}
		return StepContinue
	}

	samples := make([]float64, c.FrameWidth())
	protocol.DecodeFrame(samples, c.scratch)

	if perr := c.buffer().PushBatch(samples); perr != nil {
		return c.fail("pumpSource", perr)
	}
	c.noDataStreak = 0

	if err := c.writeControl(protocol.Ack); err != nil {
		// A reset here means the client sent its last frame and went
		// away without waiting for the ack.
		if errors.Is(err, errors.ErrPeerClosed) {
			return c.complete("peer disconnected after final frame")
		}
		return c.fail("pumpSource", err)
	}

	if c.metrics != nil {
		c.metrics.RecordFrame(c.Name(), c.Direction().String(), len(c.scratch))
		c.metrics.RecordAck(c.Name())
	}
	if c.tap != nil {
		c.tap(c.Name(), samples)
	}
	return StepContinue
}
