package engine

import (
	"fmt"

	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/handoff"
	"github.com/optseb/spinemlnet/protocol"
)

// Handshake stage names, used in logs and metrics labels.
const (
	stageDirection = "direction"
	stageDataKind  = "data_kind"
	stageWidth     = "frame_width"
	stageName      = "name"
)

// Handshake runs the four-stage negotiation on the worker goroutine:
// direction, data kind, frame width, name. Each stage shares the
// no-data retry budget, which resets whenever bytes arrive. On success
// the connection adopts its sample queue from the cache (or a fresh
// one) and becomes established; on any failure the failed flag is set
// and the returned error names the terminal stage.
func (c *Connection) Handshake(cache *handoff.Cache) error {
	if c.established.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Connection", "Handshake", "handshake")
	}

	c.noDataStreak = 0

	if err := c.negotiateDirection(); err != nil {
		return c.failHandshake(stageDirection, err)
	}
	if err := c.negotiateDataKind(); err != nil {
		return c.failHandshake(stageDataKind, err)
	}
	if err := c.negotiateFrameWidth(); err != nil {
		return c.failHandshake(stageWidth, err)
	}
	if err := c.negotiateName(cache); err != nil {
		return c.failHandshake(stageName, err)
	}

	c.established.Store(true)
	if c.metrics != nil {
		c.metrics.RecordHandshake(stageName, "established")
	}
	c.logger.Info("connection established",
		"name", c.Name(),
		"direction", c.Direction().String(),
		"data_kind", c.DataKind().String(),
		"frame_width", c.FrameWidth(),
	)
	return nil
}

// failHandshake marks the connection failed and wraps the stage error.
func (c *Connection) failHandshake(stage string, err error) error {
	c.failed.Store(true)
	if c.metrics != nil {
		c.metrics.RecordHandshake(stage, "failed")
	}
	c.logger.Error("handshake failed", "stage", stage, "error", err)
	return errors.Wrap(err, "Connection", "Handshake", stage+" stage")
}

func (c *Connection) negotiateDirection() error {
	var b [1]byte
	if err := c.readMessage(b[:]); err != nil {
		return err
	}

	dir, ok := protocol.ParseDirection(b[0])
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unexpected direction byte %d", errors.ErrProtocolViolation, b[0]),
			"Connection", "negotiateDirection", "direction parse")
	}

	if err := c.writeControl(protocol.Handshake); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.direction = dir
	c.stateMu.Unlock()
	c.noDataStreak = 0
	return nil
}

func (c *Connection) negotiateDataKind() error {
	var b [1]byte
	if err := c.readMessage(b[:]); err != nil {
		return err
	}

	kind, ok := protocol.ParseDataKind(b[0])
	if !ok {
		return errors.WrapInvalid(
			fmt.Errorf("%w: unexpected data-kind byte %d", errors.ErrProtocolViolation, b[0]),
			"Connection", "negotiateDataKind", "data-kind parse")
	}
	if kind != protocol.KindAnalog {
		// Spike and impulse streams are part of the wire protocol but
		// this server does not serve them.
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrUnsupportedDataKind, kind),
			"Connection", "negotiateDataKind", "data-kind check")
	}

	if err := c.writeControl(protocol.Ack); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.dataKind = kind
	c.stateMu.Unlock()
	c.noDataStreak = 0
	return nil
}

func (c *Connection) negotiateFrameWidth() error {
	var b [protocol.U32Size]byte
	if err := c.readMessage(b[:]); err != nil {
		return err
	}

	width := protocol.U32(b[:])
	if width == 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: zero frame width", errors.ErrProtocolViolation),
			"Connection", "negotiateFrameWidth", "width check")
	}

	if err := c.writeControl(protocol.Ack); err != nil {
		return err
	}

	c.stateMu.Lock()
	c.frameWidth = int(width)
	c.stateMu.Unlock()
	c.scratch = make([]byte, protocol.FrameBytes(int(width)))
	c.noDataStreak = 0
	return nil
}

func (c *Connection) negotiateName(cache *handoff.Cache) error {
	var lenBuf [protocol.U32Size]byte
	if err := c.readMessage(lenBuf[:]); err != nil {
		return err
	}

	nameLen := protocol.U32(lenBuf[:])
	if int(nameLen) > c.cfg.MaxNameLength {
		return errors.WrapInvalid(
			fmt.Errorf("%w: declared length %d", errors.ErrNameTooLong, nameLen),
			"Connection", "negotiateName", "name length check")
	}

	nameBuf := make([]byte, nameLen)
	if err := c.readMessage(nameBuf); err != nil {
		return err
	}

	if err := c.writeControl(protocol.Ack); err != nil {
		return err
	}

	name := string(nameBuf)

	// Cache handoff: adopt any queue the host staged under this name
	// before the client connected. The cache lock is released before
	// the queue is touched.
	queue, err := cache.TakeOrCreate(name)
	if err != nil {
		return errors.WrapFatal(err, "Connection", "negotiateName", "queue handoff")
	}

	c.stateMu.Lock()
	c.name = name
	c.queue = queue
	c.stateMu.Unlock()
	c.logger = c.logger.With("name", name)
	c.noDataStreak = 0
	return nil
}
