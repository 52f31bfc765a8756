package controlloop

import "fmt"

type State int

const (
	StateInit State = iota
	StateConnecting
	StateSubscribed
	StateEvaluating
	StateActuating
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateEvaluating:
		return "EVALUATING"
	case StateActuating:
		return "ACTUATING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// ValidateTransition reports whether the loop may move from one state to another.
// TERMINATED is absorbing.
func ValidateTransition(from, to State) error {
	validTransitions := map[State][]State{
		StateInit:       {StateConnecting, StateTerminated},
		StateConnecting: {StateSubscribed, StateTerminated},
		StateSubscribed: {StateEvaluating, StateTerminated},
		StateEvaluating: {StateActuating, StateTerminated},
		StateActuating:  {StateSubscribed, StateTerminated},
		StateTerminated: {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid state transition: %s -> %s", from, to)
}
