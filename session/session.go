// Package session describes the seat session that a compositor's
// devices belong to. While a session is paused, such as after a switch
// to another virtual terminal, its devices must not be used.
package session

// Event is a change in the state of a session.
type Event uint8

const (
	// Paused means that every device of the session should be
	// considered unusable.
	Paused Event = iota + 1

	// Activated means that the session has been given its devices
	// back. Their state is unknown and must be restored.
	Activated
)

func (ev Event) String() string {
	switch ev {
	case Paused:
		return "paused"
	case Activated:
		return "activated"
	default:
		return "unknown"
	}
}

// Session is a handle to a seat session.
type Session interface {
	Active() bool
	Seat() string
	Events() <-chan Event
}
