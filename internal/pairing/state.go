package pairing

// State is a session's position in the connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingCode
	StateOpen
	// StateClosing covers releasing a handle, before the session either
	// reconnects or terminates.
	StateClosing
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingCode:
		return "awaiting-code"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
