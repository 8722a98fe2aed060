// Package engine implements the per-connection protocol engine: the
// four-stage handshake state machine, the directional I/O pump, and
// the Connection aggregate that binds the socket, the lifecycle flags
// and the sample queue together.
//
// A Connection does not own its execution context. The orchestrator
// (see the server package) runs Handshake once on a goroutine of its
// choosing, then calls Pump in a loop until it returns a terminal
// StepResult. The host application talks to an established Connection
// only through the buffer API (AddNum, AddData, DataSize, PopFront)
// and the flag accessors.
package engine
