package connection

import "github.com/johndosdos/supportchat/internal/transport"

// State is a connection lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Event describes one state transition. Conn is set when To is Connected;
// Err carries the transport error behind a Disconnected transition.
type Event struct {
	From State
	To   State
	Conn transport.Conn
	Err  error
}
