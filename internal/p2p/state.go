package p2p

// State of a session. A session moves Connected → Handshaking → Ready and
// then between Ready and Requesting until it is Closed.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateHandshaking
	StateReady
	StateRequesting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateRequesting:
		return "requesting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
