package feed

// State is the lifecycle position of the current connection attempt.
type State int

const (
	Disconnected State = iota
	Authenticating
	Connected
	Subscribed
	Closing
)

var stateNames = map[State]string{
	Disconnected:   "disconnected",
	Authenticating: "authenticating",
	Connected:      "connected",
	Subscribed:     "subscribed",
	Closing:        "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}
