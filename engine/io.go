package engine

import (
	"io"
	"net"
	"syscall"
	"time"

	"github.com/optseb/spinemlnet/errors"
)

// isPeerGone reports whether err means the stream ended rather than
// broke: an orderly close, a connection reset, or our own socket being
// closed by the orchestrator to force a shutdown.
func isPeerGone(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// isNoData reports whether err is a read-deadline expiry, the "no data
// yet" signal of the polling read model.
func isNoData(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readMessage reads exactly len(buf) bytes, polling with PollInterval
// read deadlines. Every no-progress attempt increments the no-data
// streak; any progress resets it. Terminal conditions:
//
//   - streak reaches RetryBudget with nothing consumed: ErrBudgetExhausted
//   - streak reaches RetryBudget with a partial message: ErrShortMessage
//   - peer gone with nothing consumed: ErrPeerClosed
//   - peer gone mid-message: ErrShortMessage
//   - anything else: fatal transport error
func (c *Connection) readMessage(buf []byte) error {
	got := 0
	for got < len(buf) {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); err != nil {
			return errors.WrapFatal(err, "Connection", "readMessage", "set read deadline")
		}

		n, err := c.conn.Read(buf[got:])
		if n > 0 {
			got += n
			c.noDataStreak = 0
			if got == len(buf) {
				return nil
			}
		}
		if err == nil {
			continue
		}

		switch {
		case isNoData(err):
			c.noDataStreak++
			if c.noDataStreak >= c.cfg.RetryBudget {
				if got > 0 {
					return errors.WrapInvalid(errors.ErrShortMessage, "Connection", "readMessage", "message read")
				}
				return errors.WrapTransient(errors.ErrBudgetExhausted, "Connection", "readMessage", "message read")
			}
		case isPeerGone(err):
			if got > 0 {
				return errors.WrapInvalid(errors.ErrShortMessage, "Connection", "readMessage", "message read")
			}
			return errors.WrapTransient(errors.ErrPeerClosed, "Connection", "readMessage", "message read")
		default:
			return errors.WrapFatal(err, "Connection", "readMessage", "socket read")
		}
	}
	return nil
}

// tryReadByte performs one deadline-bounded attempt to read a single
// control byte. ok is false with a nil error when no data arrived this
// attempt; errors are ErrPeerClosed or fatal transport errors.
func (c *Connection) tryReadByte() (b byte, ok bool, err error) {
	if derr := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); derr != nil {
		return 0, false, errors.WrapFatal(derr, "Connection", "tryReadByte", "set read deadline")
	}

	var buf [1]byte
	n, rerr := c.conn.Read(buf[:])
	if n == 1 {
		return buf[0], true, nil
	}
	if rerr == nil {
		return 0, false, nil
	}

	switch {
	case isNoData(rerr):
		return 0, false, nil
	case isPeerGone(rerr):
		return 0, false, errors.WrapTransient(errors.ErrPeerClosed, "Connection", "tryReadByte", "socket read")
	default:
		return 0, false, errors.WrapFatal(rerr, "Connection", "tryReadByte", "socket read")
	}
}

// readFrame performs one attempt to read a whole frame into the
// scratch buffer. A deadline expiry before the first byte is "no frame
// this attempt" (false, nil). Once any byte arrives the rest of the
// frame is committed: a stream that ends or stalls mid-frame is a
// short-message protocol failure.
func (c *Connection) readFrame() (bool, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PollInterval)); err != nil {
		return false, errors.WrapFatal(err, "Connection", "readFrame", "set read deadline")
	}

	n, err := c.conn.Read(c.scratch)
	if n == 0 {
		switch {
		case err == nil || isNoData(err):
			return false, nil
		case isPeerGone(err):
			return false, errors.WrapTransient(errors.ErrPeerClosed, "Connection", "readFrame", "frame read")
		default:
			return false, errors.WrapFatal(err, "Connection", "readFrame", "socket read")
		}
	}

	c.noDataStreak = 0
	if n < len(c.scratch) {
		if rerr := c.readMessage(c.scratch[n:]); rerr != nil {
			if errors.Is(rerr, errors.ErrBudgetExhausted) || errors.Is(rerr, errors.ErrPeerClosed) {
				return false, errors.WrapInvalid(errors.ErrShortMessage, "Connection", "readFrame", "frame read")
			}
			return false, rerr
		}
	}
	return true, nil
}

// writeFull writes all of buf under the write timeout. net.Conn
// already promises an error on short writes, so a nil return means the
// whole buffer went out.
func (c *Connection) writeFull(buf []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return errors.WrapFatal(err, "Connection", "writeFull", "set write deadline")
	}
	if _, err := c.conn.Write(buf); err != nil {
		if isPeerGone(err) {
			return errors.WrapTransient(errors.ErrPeerClosed, "Connection", "writeFull", "socket write")
		}
		return errors.WrapFatal(err, "Connection", "writeFull", "socket write")
	}
	return nil
}

// writeControl writes a single control byte.
func (c *Connection) writeControl(b byte) error {
	return c.writeFull([]byte{b})
}
