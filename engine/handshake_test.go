package engine

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optseb/spinemlnet/errors"
	"github.com/optseb/spinemlnet/handoff"
	"github.com/optseb/spinemlnet/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		RetryBudget:   50,
		PollInterval:  2 * time.Millisecond,
		WriteTimeout:  time.Second,
		MaxNameLength: 1024,
	}
}

// clientHandshake drives the client side of the four stages on conn,
// asserting each server reply. Returns false if any stage misbehaved.
func clientHandshake(t *testing.T, conn net.Conn, direction, kind byte, width uint32, name string) bool {
	t.Helper()
	ok := true

	step := func(payload []byte, wantReply byte) {
		if !ok {
			return
		}
		if _, err := conn.Write(payload); err != nil {
			ok = false
			return
		}
		var reply [1]byte
		if _, err := io.ReadFull(conn, reply[:]); err != nil {
			ok = false
			return
		}
		ok = assert.Equal(t, wantReply, reply[0])
	}

	step([]byte{direction}, protocol.Handshake)
	step([]byte{kind}, protocol.Ack)

	var widthBuf [protocol.U32Size]byte
	protocol.PutU32(widthBuf[:], width)
	step(widthBuf[:], protocol.Ack)

	var lenBuf [protocol.U32Size]byte
	protocol.PutU32(lenBuf[:], uint32(len(name)))
	step(append(lenBuf[:], name...), protocol.Ack)

	return ok
}

func TestHandshakeEstablishesTargetConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})
	cache := handoff.NewCache()

	done := make(chan bool, 1)
	go func() {
		done <- clientHandshake(t, client, protocol.ClientTarget, protocol.AnalogData, 4, "pop1")
	}()

	require.NoError(t, c.Handshake(cache))
	require.True(t, <-done, "client side saw a bad reply")

	assert.True(t, c.Established())
	assert.False(t, c.Failed())
	assert.False(t, c.Finished())
	assert.Equal(t, protocol.DirectionTarget, c.Direction())
	assert.Equal(t, protocol.KindAnalog, c.DataKind())
	assert.Equal(t, 4, c.FrameWidth())
	assert.Equal(t, "pop1", c.Name())
}

func TestHandshakeAdoptsStagedQueue(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cache := handoff.NewCache()
	require.NoError(t, cache.Stage("pop1", 1.0, 2.0, 3.0))

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})

	done := make(chan bool, 1)
	go func() {
		done <- clientHandshake(t, client, protocol.ClientTarget, protocol.AnalogData, 2, "pop1")
	}()

	require.NoError(t, c.Handshake(cache))
	require.True(t, <-done)

	assert.Equal(t, 0, cache.Len(), "staged entry must transfer out of the cache")
	require.Equal(t, 3, c.DataSize())
	for want := 1.0; want <= 3.0; want++ {
		got, err := c.PopFront()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestHandshakeBudgetExhaustion(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cfg := testConfig()
	cfg.RetryBudget = 5
	cfg.PollInterval = time.Millisecond

	c := NewConnection(server, "conn-1", cfg, Deps{Logger: testLogger()})

	// Client never sends anything.
	err := c.Handshake(handoff.NewCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrBudgetExhausted))
	assert.True(t, c.Failed())
	assert.False(t, c.Established())
}

func TestHandshakeMalformedFrameWidth(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})

	go func() {
		var reply [1]byte
		client.Write([]byte{protocol.ClientTarget})
		io.ReadFull(client, reply[:])
		client.Write([]byte{protocol.AnalogData})
		io.ReadFull(client, reply[:])
		// Three bytes of width instead of four, then hang up.
		client.Write([]byte{0x04, 0x00, 0x00})
		client.Close()
	}()

	err := c.Handshake(handoff.NewCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrShortMessage))
	assert.True(t, c.Failed())
	assert.False(t, c.Established())
}

func TestHandshakeRejectsUnknownDirectionByte(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})

	go client.Write([]byte{0x7F})

	err := c.Handshake(handoff.NewCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProtocolViolation))
	assert.True(t, c.Failed())
}

func TestHandshakeRejectsSpikeStreams(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})

	go func() {
		var reply [1]byte
		client.Write([]byte{protocol.ClientSource})
		io.ReadFull(client, reply[:])
		client.Write([]byte{protocol.EventData})
	}()

	err := c.Handshake(handoff.NewCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnsupportedDataKind))
	assert.True(t, c.Failed())
}

func TestHandshakeRejectsOversizedName(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cfg := testConfig()
	cfg.MaxNameLength = 16

	c := NewConnection(server, "conn-1", cfg, Deps{Logger: testLogger()})

	go func() {
		var reply [1]byte
		client.Write([]byte{protocol.ClientTarget})
		io.ReadFull(client, reply[:])
		client.Write([]byte{protocol.AnalogData})
		io.ReadFull(client, reply[:])
		var widthBuf [protocol.U32Size]byte
		protocol.PutU32(widthBuf[:], 1)
		client.Write(widthBuf[:])
		io.ReadFull(client, reply[:])
		var lenBuf [protocol.U32Size]byte
		protocol.PutU32(lenBuf[:], 9000)
		client.Write(lenBuf[:])
	}()

	err := c.Handshake(handoff.NewCache())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNameTooLong))
	assert.True(t, c.Failed())
}

func TestHandshakeTwiceIsAnError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := NewConnection(server, "conn-1", testConfig(), Deps{Logger: testLogger()})
	cache := handoff.NewCache()

	done := make(chan bool, 1)
	go func() {
		done <- clientHandshake(t, client, protocol.ClientSource, protocol.AnalogData, 1, "p")
	}()
	require.NoError(t, c.Handshake(cache))
	require.True(t, <-done)

	err := c.Handshake(cache)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))
}
