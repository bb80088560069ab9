package gateway

// State is the connection lifecycle of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Synced
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Synced:
		return "synced"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}
