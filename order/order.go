package order

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// Order is the part shared by limit and stop orders. An order is
// created in memory before any network interaction; the ledger owns it
// from the moment an order number is known. Records are mutated only
// under the ledger's lock.
type Order struct {
	ClassCode  string
	SecCode    string
	Account    string
	ClientCode string
	Operation  transaction.Operation
	Price      decimal.Decimal

	// quantity bookkeeping, in lots; Qty == Traded + Balance holds
	// after every update
	Qty     int64
	Traded  int64
	Balance int64

	OrderNum uint64
	TransID  int64
	State    State

	// last terminal-reported raw status
	RawState RawState
	Flags    uint32

	Expiry  string
	Updated time.Time
}

// TransactionID implements transaction.Identified.
func (o *Order) TransactionID() int64 {
	return o.TransID
}

// SetState requests a lifecycle transition. Killed is absorbing: any
// request while Killed is a no-op. An illegal transition returns a
// *TransitionError and leaves the order untouched.
func (o *Order) SetState(to State) (bool, error) {
	if o.State == Killed {
		return false, nil
	}
	if o.State == to {
		return false, nil
	}
	if !allowed(o.State, to) {
		return false, &TransitionError{From: o.State, To: to}
	}
	o.State = to
	o.Updated = time.Now()
	return true, nil
}

// AddTraded applies a fill of qty lots from a trade event. The newly
// traded amount is clamped to the known remaining quantity so that a
// trade and an order refresh reporting the same fill are not counted
// twice. Returns how much was actually new.
func (o *Order) AddTraded(qty int64) int64 {
	if qty <= 0 || o.Balance <= 0 {
		return 0
	}
	newly := qty
	if newly > o.Balance {
		newly = o.Balance
	}
	o.Balance -= newly
	o.Traded = o.Qty - o.Balance
	o.Updated = time.Now()
	return newly
}

// SetBalance applies a remaining-quantity report from an order refresh
// event. Remaining only decreases; a report above the known remaining
// is stale and ignored. Returns the newly traded amount.
func (o *Order) SetBalance(remaining int64) int64 {
	if remaining < 0 || remaining >= o.Balance {
		return 0
	}
	newly := o.Balance - remaining
	o.Balance = remaining
	o.Traded = o.Qty - o.Balance
	o.Updated = time.Now()
	return newly
}

// Completed reports whether the full ordered quantity has traded.
func (o *Order) Completed() bool {
	return o.Balance == 0
}
