package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

func newTestOrder(state State) *Order {
	return &Order{State: state, Qty: 10, Balance: 10}
}

func TestStateTransitions(t *testing.T) {
	all := []State{None, WaitPlacement, RequestedPlacement, Placed, Executed, Filled, Killed, ErrorRejected}

	// early states allow anything (recovery path)
	for _, from := range []State{None, WaitPlacement, RequestedPlacement, ErrorRejected} {
		for _, to := range all {
			if from == to {
				continue
			}
			o := newTestOrder(from)
			changed, err := o.SetState(to)
			require.NoError(t, err, "%s -> %s", from, to)
			require.True(t, changed)
		}
	}

	// Placed is restricted
	for _, to := range []State{Executed, ErrorRejected, Filled, Killed} {
		o := newTestOrder(Placed)
		_, err := o.SetState(to)
		require.NoError(t, err)
	}
	for _, to := range []State{None, WaitPlacement, RequestedPlacement} {
		o := newTestOrder(Placed)
		_, err := o.SetState(to)
		require.Error(t, err)
		require.Equal(t, Placed, o.State)
	}

	// Executed only resolves
	for _, to := range []State{Filled, Killed} {
		o := newTestOrder(Executed)
		_, err := o.SetState(to)
		require.NoError(t, err)
	}
	o := newTestOrder(Executed)
	_, err := o.SetState(Placed)
	require.Error(t, err)
}

func TestStateFilledIsFinal(t *testing.T) {
	o := newTestOrder(Filled)
	_, err := o.SetState(Placed)
	require.Error(t, err)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, Filled, terr.From)
	require.Equal(t, Placed, terr.To)
}

func TestStateKilledIsAbsorbing(t *testing.T) {
	o := newTestOrder(Killed)
	for _, to := range []State{None, Placed, Executed, Filled, ErrorRejected} {
		changed, err := o.SetState(to)
		require.NoError(t, err)
		require.False(t, changed)
		require.Equal(t, Killed, o.State)
	}
}

func TestQuantityInvariant(t *testing.T) {
	o := NewLimitOrder("TQBR", "SBER", transaction.Buy, decimal.NewFromInt(100), 10)
	require.EqualValues(t, 10, o.Qty)
	require.EqualValues(t, 0, o.Traded)
	require.EqualValues(t, 10, o.Balance)

	newly := o.AddTraded(4)
	require.EqualValues(t, 4, newly)
	require.Equal(t, o.Qty, o.Traded+o.Balance)

	newly = o.AddTraded(6)
	require.EqualValues(t, 6, newly)
	require.Equal(t, o.Qty, o.Traded+o.Balance)
	require.True(t, o.Completed())

	// overfill is clamped
	require.EqualValues(t, 0, o.AddTraded(3))
	require.Equal(t, o.Qty, o.Traded+o.Balance)
}

func TestSetBalanceDedupesWithTrades(t *testing.T) {
	o := NewLimitOrder("TQBR", "SBER", transaction.Buy, decimal.NewFromInt(100), 10)

	// trade event first, then the refresh reporting the same fill
	require.EqualValues(t, 4, o.AddTraded(4))
	require.EqualValues(t, 0, o.SetBalance(6))
	require.EqualValues(t, 4, o.Traded)

	// refresh first, then the trade event for the same fill: the
	// trade only adds what the refresh did not cover
	require.EqualValues(t, 3, o.SetBalance(3))
	require.EqualValues(t, 3, o.AddTraded(3))
	require.EqualValues(t, 10, o.Traded)
	require.True(t, o.Completed())
}

func TestSetBalanceMonotonic(t *testing.T) {
	o := NewLimitOrder("TQBR", "SBER", transaction.Sell, decimal.NewFromInt(200), 10)
	require.EqualValues(t, 5, o.SetBalance(5))
	// stale refresh with a larger remaining is ignored
	require.EqualValues(t, 0, o.SetBalance(8))
	require.EqualValues(t, 5, o.Balance)
	require.EqualValues(t, 0, o.SetBalance(-1))
	require.EqualValues(t, 5, o.Balance)
}

func TestMapStopState(t *testing.T) {
	cases := []struct {
		name    string
		raw     RawState
		flags   uint32
		pending bool
		want    State
	}{
		{"active", RawActive, 0, false, Placed},
		{"completed resolved", RawCompleted, 0, false, Filled},
		{"completed child pending", RawCompleted, 0, true, Executed},
		{"completed rejected", RawCompleted, StopFlagRejected, false, ErrorRejected},
		{"completed rejected no child", RawCompleted, StopFlagRejected, true, ErrorRejected},
		{"canceled", RawCanceled, 0, false, Killed},
		{"canceled by fill", RawCanceled, StopFlagWithdrawnByFill, false, Filled},
		{"canceled rejected", RawCanceled, StopFlagRejected, false, ErrorRejected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, MapStopState(c.raw, c.flags, c.pending))
		})
	}
}
