package session

// State is the lifecycle state of a RemoteSession.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Live reports whether the session holds, or is acquiring, a transport.
func (s State) Live() bool {
	return s == Connecting || s == Connected
}

// Status is a read-only view of one session.
type Status struct {
	Key       string `json:"key"`
	Address   string `json:"address"`
	State     State  `json:"state"`
	Failures  int    `json:"consecutive_failures"`
	LastError string `json:"last_error,omitempty"`
}
