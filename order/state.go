package order

import "fmt"

// State is the internal lifecycle state of an order.
type State int32

const (
	None State = iota
	WaitPlacement
	RequestedPlacement
	Placed
	Executed
	Filled
	Killed
	ErrorRejected
)

var stateNames = map[State]string{
	None:               "None",
	WaitPlacement:      "WaitPlacement",
	RequestedPlacement: "RequestedPlacement",
	Placed:             "Placed",
	Executed:           "Executed",
	Filled:             "Filled",
	Killed:             "Killed",
	ErrorRejected:      "ErrorRejected",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Terminal reports whether no further transition can occur. Executed
// is not terminal: a stop order sits there until its child resolves.
func (s State) Terminal() bool {
	return s == Filled || s == Killed || s == ErrorRejected
}

// TransitionError marks an illegal lifecycle transition. It is a
// programming error, distinct from a business-logic rejection.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal order state transition %s -> %s", e.From, e.To)
}

// allowed reports whether from -> to is a legal transition. Killed is
// handled by the caller as an absorbing no-op and never reaches here.
func allowed(from, to State) bool {
	switch from {
	case None, WaitPlacement, RequestedPlacement, ErrorRejected:
		// recovery path: anything goes
		return true
	case Placed:
		return to == Executed || to == ErrorRejected || to == Filled || to == Killed
	case Executed:
		return to == Filled || to == Killed
	case Filled:
		return false
	default:
		return false
	}
}
