// Package protocol defines the SpineML network wire protocol: the
// control byte table shared with simulation clients, the direction and
// data-kind enumerations negotiated during the handshake, and the
// little-endian codec for sizes and sample frames.
//
// The byte values are fixed by the existing client implementations and
// must never change.
package protocol

// Control bytes exchanged on the wire. A client opens with a data-kind
// byte (AnalogData, EventData or ImpulseData) and a direction byte
// (ClientSource or ClientTarget); both sides use Handshake/Ack for
// stage confirmation and frame acknowledgement.
const (
	// Data kinds offered by the client.
	AnalogData  byte = 31 // continuously-valued samples (the only kind served)
	EventData   byte = 32 // spike events; recognized and rejected
	ImpulseData byte = 33 // impulses; recognized and rejected

	// Connection control.
	Handshake byte = 41 // stage accepted / hello
	Ack       byte = 42 // frame received
	Abort     byte = 43 // protocol failure, tear down
	Finished  byte = 44 // graceful end of stream

	// Direction of data flow, from the client's point of view.
	ClientSource byte = 45 // client sends frames to the server
	ClientTarget byte = 46 // client receives frames from the server
)

// Direction is the negotiated data-flow direction of a connection,
// named from the client's point of view: a Source client produces
// frames for the host, a Target client consumes them.
type Direction int

const (
	DirectionUnset Direction = iota
	DirectionSource
	DirectionTarget
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case DirectionSource:
		return "source"
	case DirectionTarget:
		return "target"
	default:
		return "unset"
	}
}

// ParseDirection maps a wire control byte to a Direction. The second
// return is false when the byte is not a direction byte.
func ParseDirection(b byte) (Direction, bool) {
	switch b {
	case ClientSource:
		return DirectionSource, true
	case ClientTarget:
		return DirectionTarget, true
	default:
		return DirectionUnset, false
	}
}

// DataKind is the negotiated payload type of a connection. Only
// KindAnalog is served; the others are recognized so they can be
// rejected with a clear error rather than a generic protocol failure.
type DataKind int

const (
	KindUnset DataKind = iota
	KindAnalog
	KindEvent
	KindImpulse
)

// String implements fmt.Stringer.
func (k DataKind) String() string {
	switch k {
	case KindAnalog:
		return "analog"
	case KindEvent:
		return "event"
	case KindImpulse:
		return "impulse"
	default:
		return "unset"
	}
}

// ParseDataKind maps a wire control byte to a DataKind. The second
// return is false when the byte is not a data-kind byte.
func ParseDataKind(b byte) (DataKind, bool) {
	switch b {
	case AnalogData:
		return KindAnalog, true
	case EventData:
		return KindEvent, true
	case ImpulseData:
		return KindImpulse, true
	default:
		return KindUnset, false
	}
}

// DefaultMaxNameLength is the ceiling on the connection-name length a
// client may declare during the handshake.
const DefaultMaxNameLength = 1024

// DefaultRetryBudget is the number of consecutive no-data read attempts
// tolerated before a handshake stage or a pump step gives up.
const DefaultRetryBudget = 100
