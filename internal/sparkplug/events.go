package sparkplug

// EventType identifies a client lifecycle or message event.
type EventType int

// Client event types, delivered in arrival order on the client's event
// channel and consumed by a single dispatch loop.
const (
	// EventConnect fires when the transport reaches the broker.
	EventConnect EventType = iota

	// EventBirth fires once the client's retained online announcement has
	// been acknowledged; collaborators may begin relying on the session.
	EventBirth

	// EventReconnect fires when the transport re-establishes a lost
	// connection.
	EventReconnect

	// EventOffline fires when the transport loses the broker and begins
	// reconnecting.
	EventOffline

	// EventDisconnect fires when the connection drops; Reason describes
	// the cause.
	EventDisconnect

	// EventClose fires when Close is called and the session ends cleanly.
	EventClose

	// EventEnd fires after the event channel is about to shut down; no
	// further events follow.
	EventEnd

	// EventError reports a transport-level failure; Err is set.
	EventError

	// EventMessage carries one successfully decoded inbound payload with
	// its parsed topic context.
	EventMessage
)

// String returns the event type name for logging.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventBirth:
		return "birth"
	case EventReconnect:
		return "reconnect"
	case EventOffline:
		return "offline"
	case EventDisconnect:
		return "disconnect"
	case EventClose:
		return "close"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is the tagged union delivered on the client's event channel.
// Topic and Payload are set only for EventMessage; Err only for
// EventError; Reason only for EventDisconnect.
type Event struct {
	Type    EventType
	Topic   Topic
	Payload *Payload
	Err     error
	Reason  string
}
