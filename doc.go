// Package spinemlnet implements the host side of the SpineML analog
// data streaming protocol: a TCP server that exchanges fixed-width
// frames of double-precision samples with remote simulation clients.
//
// Each client opens one TCP connection per data stream. A short binary
// handshake negotiates the stream direction (the client is either a
// source feeding samples into the host, or a target draining samples
// the host produces), the data kind, the frame width, and the stream
// name. After the handshake the connection pumps frames in its one
// direction until the peer disconnects.
//
// # Architecture
//
//	┌───────────────────────────────┐
//	│         cmd/spinemlnetd       │  config, logging, signals
//	└───────────────┬───────────────┘
//	                │
//	┌───────────────▼───────────────┐
//	│            server             │  listener, accept loop,
//	│   (one goroutine per stream)  │  session registry, teardown
//	└───────────────┬───────────────┘
//	                │
//	┌───────────────▼───────────────┐
//	│            engine             │  handshake state machine,
//	│   (Connection + I/O pump)     │  directional frame pump
//	└───────┬───────────────┬───────┘
//	        │               │
//	┌───────▼──────┐ ┌──────▼───────┐
//	│  pkg/buffer  │ │   handoff    │  per-stream FIFO and the
//	│ (frame FIFO) │ │   (cache)    │  pre-staging cache
//	└──────────────┘ └──────────────┘
//
// The host application thread interacts with established connections
// through the buffer API (AddNum, AddData, DataSize, PopFront) while
// each connection's own goroutine drives the socket. Frames received
// from source connections can optionally be mirrored to NATS for
// downstream monitoring pipelines.
package spinemlnet
