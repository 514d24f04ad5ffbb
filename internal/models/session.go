package models

// SessionState is the lifecycle state of the transport connection for the active symbol.
type SessionState int

const (
	Idle SessionState = iota
	Connecting
	Open
	Reconnecting
	Closed
	Failed
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	}
	return "unknown"
}
