package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optseb/spinemlnet/engine"
	"github.com/optseb/spinemlnet/handoff"
	"github.com/optseb/spinemlnet/protocol"
)

func testServer(t *testing.T, cache *handoff.Cache, tap Publisher) *Server {
	t.Helper()

	cfg := Config{
		ListenAddr: "127.0.0.1:0",
		Engine: engine.Config{
			RetryBudget:   200,
			PollInterval:  2 * time.Millisecond,
			WriteTimeout:  time.Second,
			MaxNameLength: 1024,
		},
		TapSubjectPrefix: "spineml.frames",
	}
	s := New(cfg, Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cache:  cache,
		Tap:    tap,
	})
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(5 * time.Second) })
	return s
}

// dialAndHandshake opens a TCP client and walks the four stages.
func dialAndHandshake(t *testing.T, addr string, direction byte, width uint32, name string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)

	step := func(payload []byte, wantReply byte) {
		_, werr := conn.Write(payload)
		require.NoError(t, werr)
		var reply [1]byte
		_, rerr := io.ReadFull(conn, reply[:])
		require.NoError(t, rerr)
		require.Equal(t, wantReply, reply[0])
	}

	step([]byte{direction}, protocol.Handshake)
	step([]byte{protocol.AnalogData}, protocol.Ack)

	var widthBuf [protocol.U32Size]byte
	protocol.PutU32(widthBuf[:], width)
	step(widthBuf[:], protocol.Ack)

	var lenBuf [protocol.U32Size]byte
	protocol.PutU32(lenBuf[:], uint32(len(name)))
	step(append(lenBuf[:], name...), protocol.Ack)

	return conn
}

func TestServerLifecycle(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"}, Deps{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cache:  handoff.NewCache(),
	})

	require.Error(t, s.Start(context.Background()), "start before initialize must fail")

	require.NoError(t, s.Initialize())
	require.Error(t, s.Initialize(), "double initialize must fail")

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()), "double start must fail")
	require.NotNil(t, s.Addr())

	require.NoError(t, s.Stop(5*time.Second))
	require.Error(t, s.Stop(time.Second), "double stop must fail")
}

func TestServerRequiresCache(t *testing.T) {
	s := New(Config{ListenAddr: "127.0.0.1:0"}, Deps{})
	require.Error(t, s.Initialize())
}

func TestServerSourceConnectionEndToEnd(t *testing.T) {
	cache := handoff.NewCache()
	s := testServer(t, cache, nil)

	client := dialAndHandshake(t, s.Addr().String(), protocol.ClientSource, 2, "src1")
	defer client.Close()

	require.Eventually(t, func() bool {
		return s.Connection("src1") != nil
	}, 2*time.Second, 5*time.Millisecond, "connection must register under its name")

	c := s.Connection("src1")
	assert.Equal(t, protocol.DirectionSource, c.Direction())
	assert.Equal(t, 2, c.FrameWidth())

	_, err := client.Write(protocol.EncodeFrame(nil, []float64{4.5, 5.5}))
	require.NoError(t, err)

	var ack [1]byte
	_, err = io.ReadFull(client, ack[:])
	require.NoError(t, err)
	assert.Equal(t, protocol.Ack, ack[0])

	require.Eventually(t, func() bool { return c.DataSize() == 2 }, 2*time.Second, 5*time.Millisecond)

	got, err := c.PopFront()
	require.NoError(t, err)
	assert.Equal(t, 4.5, got)
	got, err = c.PopFront()
	require.NoError(t, err)
	assert.Equal(t, 5.5, got)

	// An orderly client disconnect drains the worker and the registry.
	client.Close()
	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Finished())
	assert.False(t, c.Failed())
}

func TestServerTargetConnectionDrainsStagedData(t *testing.T) {
	cache := handoff.NewCache()
	require.NoError(t, cache.Stage("tgt1", 1, 2, 3, 4))

	s := testServer(t, cache, nil)

	client := dialAndHandshake(t, s.Addr().String(), protocol.ClientTarget, 2, "tgt1")
	defer client.Close()

	require.Eventually(t, func() bool { return cache.Len() == 0 },
		2*time.Second, 5*time.Millisecond, "staged entry must hand off at handshake")

	var received []float64
	wire := make([]byte, protocol.FrameBytes(2))
	frame := make([]float64, 2)
	for len(received) < 4 {
		_, err := io.ReadFull(client, wire)
		require.NoError(t, err)
		protocol.DecodeFrame(frame, wire)
		received = append(received, frame...)
		_, err = client.Write([]byte{protocol.Ack})
		require.NoError(t, err)
	}

	assert.Equal(t, []float64{1, 2, 3, 4}, received)
}

func TestServerHandshakeFailureCleansUp(t *testing.T) {
	s := testServer(t, handoff.NewCache(), nil)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// Garbage direction byte: the engine drops the connection.
	_, err = conn.Write([]byte{0x7F})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.ActiveCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, append([]byte(nil), data...))
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subjects)
}

func TestServerFrameTapPublishesSourceFrames(t *testing.T) {
	tap := &recordingPublisher{}
	s := testServer(t, handoff.NewCache(), tap)

	client := dialAndHandshake(t, s.Addr().String(), protocol.ClientSource, 3, "popX")
	defer client.Close()

	_, err := client.Write(protocol.EncodeFrame(nil, []float64{7, 8, 9}))
	require.NoError(t, err)
	var ack [1]byte
	_, err = io.ReadFull(client, ack[:])
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tap.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	tap.mu.Lock()
	defer tap.mu.Unlock()
	assert.Equal(t, "spineml.frames.popX", tap.subjects[0])

	var event struct {
		Connection string    `json:"connection"`
		Samples    []float64 `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(tap.payloads[0], &event))
	assert.Equal(t, "popX", event.Connection)
	assert.Equal(t, []float64{7, 8, 9}, event.Samples)
}

func TestServerStopClosesLiveConnections(t *testing.T) {
	cache := handoff.NewCache()
	s := testServer(t, cache, nil)

	client := dialAndHandshake(t, s.Addr().String(), protocol.ClientSource, 1, "stopper")
	defer client.Close()

	require.Eventually(t, func() bool { return s.ActiveCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(5*time.Second))
	assert.Equal(t, 0, s.ActiveCount())
}
