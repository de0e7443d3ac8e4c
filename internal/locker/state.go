package locker

// State is the lifecycle phase of a locker
type State int32

const (
	StateFunding State = iota
	StateCancelled
	StateActive
	StateLiquidated
	StateRepaid
)

func (s State) String() string {
	switch s {
	case StateFunding:
		return "Funding"
	case StateCancelled:
		return "Cancelled"
	case StateActive:
		return "Active"
	case StateLiquidated:
		return "Liquidated"
	case StateRepaid:
		return "Repaid"
	default:
		return "Unknown"
	}
}

// ParseState is the inverse of String.
func ParseState(s string) (State, bool) {
	for st := StateFunding; st <= StateRepaid; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

// IsTerminal reports whether no further transition is possible
func (s State) IsTerminal() bool {
	return s == StateCancelled || s == StateLiquidated || s == StateRepaid
}

// HoldsCollateral reports whether the locker keeps custody in this state
func (s State) HoldsCollateral() bool {
	return s == StateFunding || s == StateActive
}

// CanTransitionTo validates state transitions. No state is re-entered.
func (s State) CanTransitionTo(next State) bool {
	validTransitions := map[State][]State{
		StateFunding: {
			StateCancelled,
			StateActive,
		},
		StateActive: {
			StateLiquidated,
			StateRepaid,
		},
	}

	allowed, ok := validTransitions[s]
	if !ok {
		return false
	}

	for _, allowedState := range allowed {
		if next == allowedState {
			return true
		}
	}

	return false
}
