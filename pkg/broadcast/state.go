package broadcast

// State is the lifecycle state of a subscriber.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateFailed
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateFailed:
		return "failed"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateRemoved
}
