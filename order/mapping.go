package order

// MapLimitState maps a terminal-reported raw state onto the internal
// lifecycle state of a limit order.
func MapLimitState(raw RawState) State {
	switch raw {
	case RawActive:
		return Placed
	case RawCompleted:
		return Filled
	case RawCanceled:
		return Killed
	default:
		return ErrorRejected
	}
}

// MapStopState maps a terminal-reported raw state plus flags onto the
// internal state of a stop order. linkedPending is true while the
// child limit order (or co-order) this stop depends on has not reached
// a terminal state, which keeps a completed stop in Executed rather
// than Filled.
func MapStopState(raw RawState, stopFlags uint32, linkedPending bool) State {
	switch raw {
	case RawActive:
		return Placed
	case RawCompleted:
		// a rejected trigger is terminal regardless of the child order:
		// there is nothing left to wait for
		if stopFlags&StopFlagRejected != 0 {
			return ErrorRejected
		}
		if linkedPending {
			return Executed
		}
		return Filled
	case RawCanceled:
		// withdraw reason decides: a stop withdrawn because its linked
		// order filled is done, not killed
		switch {
		case stopFlags&StopFlagWithdrawnByFill != 0:
			return Filled
		case stopFlags&StopFlagRejected != 0:
			return ErrorRejected
		default:
			return Killed
		}
	default:
		return ErrorRejected
	}
}
