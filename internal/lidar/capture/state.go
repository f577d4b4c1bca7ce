package capture

import "fmt"

// State is the lifecycle position of a Session.
type State int32

const (
	StateUninit State = iota
	StateInitialized
	StateRunning
	StateFrameDone
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateFrameDone:
		return "frame-done"
	case StateTimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
