package ledger

import (
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// RecordOrderEvent ingests one limit-order push event. Safe for
// concurrent use with the other entry points.
func (b *Book) RecordOrderEvent(ev *order.OrderEvent) {
	b.lock.Lock()
	notices := b.applyOrderLocked(ev, false)
	b.lock.Unlock()
	b.deliver(notices)
	b.resolveFromOrder(ev)
}

func (b *Book) resolveFromOrder(ev *order.OrderEvent) {
	if b.resolver == nil || ev.TransID == 0 {
		return
	}
	if b.resolver.Resolve(ev.TransID, outcomeFromOrderEvent(ev.RawState(), ev.RejectReason, ev.OrderNum)) {
		b.Sugar.Debugf("transaction %d resolved by order event %d", ev.TransID, ev.OrderNum)
	}
}

func outcomeFromOrderEvent(raw order.RawState, rejectReason string, orderNum uint64) transaction.Outcome {
	if raw == order.RawRejected {
		return transaction.Outcome{
			Result:    transaction.QuikError,
			ResultMsg: rejectReason,
			OrderNum:  orderNum,
		}
	}
	return transaction.Outcome{Result: transaction.Success, OrderNum: orderNum}
}

// applyOrderLocked is the single update path for limit-order
// information: push events, snapshot rows and replacements all land
// here. Caller holds the lock.
func (b *Book) applyOrderLocked(ev *order.OrderEvent, suppress bool) []notice {
	var notices []notice
	o, known := b.limits[ev.OrderNum]
	if !known {
		o = order.NewLimitOrder(ev.ClassCode, ev.SecCode, ev.Operation(), ev.Price, ev.Qty)
		o.Account = ev.Account
		o.OrderNum = ev.OrderNum
		o.TransID = ev.TransID
		o.Expiry = ev.Expiry
		b.limits[ev.OrderNum] = o
	}
	b.registerNum(ev.TransID, ev.OrderNum)

	o.Flags = ev.Flags
	o.RawState = ev.RawState()
	if newly := o.SetBalance(ev.Balance); newly > 0 {
		b.Sugar.Debugf("order %d balance %d, newly traded %d", o.OrderNum, o.Balance, newly)
	}

	// half-link from the limit side: the event names the stop order
	// that spawned this order
	if ev.Linked != 0 && o.LinkedStopNum == 0 {
		o.LinkedStopNum = ev.Linked
		o.LinkRole = order.RoleChildOfStop
		if stop, ok := b.stops[ev.Linked]; ok {
			if stop.ChildLimitNum == 0 {
				stop.ChildLimitNum = ev.OrderNum
			}
			if stop.ChildLimitNum == ev.OrderNum {
				o.DependentStopNum = stop.OrderNum
			}
		}
	}
	// half-link recorded earlier from the stop side: we are someone's
	// co-order
	var linkNotices []notice
	if stopNum, ok := b.coIndex[ev.OrderNum]; ok {
		delete(b.coIndex, ev.OrderNum)
		o.LinkedStopNum = stopNum
		o.LinkRole = order.RoleCoOrder
		o.DependentStopNum = stopNum
		linkNotices = b.stopLinkedLocked(stopNum, suppress)
	}

	changed, err := o.SetState(order.MapLimitState(o.RawState))
	if err != nil {
		// stale event after a terminal state; drop, never crash the
		// dispatch path
		b.Sugar.Warnf("order %d: %s, event dropped", o.OrderNum, err)
	}

	tradeNotices := b.drainAdvanceLocked(o, suppress)

	if !suppress {
		snapshot := *o
		if !known {
			notices = append(notices, notice{fire: func() { b.events.NewLimitOrder(snapshot) }})
		} else if changed || len(tradeNotices) > 0 {
			notices = append(notices, notice{fire: func() { b.events.UpdateLimitOrder(snapshot) }})
		}
	}
	notices = append(notices, tradeNotices...)
	notices = append(notices, linkNotices...)

	// the dependent stop order re-evaluates after our own callback
	if o.State.Terminal() && o.DependentStopNum != 0 {
		notices = append(notices, b.reevalStopLocked(o.DependentStopNum, suppress)...)
	}
	return notices
}

// AdoptLimit promotes a caller-built order into the ledger once its
// order number is known. If an event already created the record, the
// caller's construction-time fields are merged into it; the ledger
// record stays authoritative for quantities and state.
func (b *Book) AdoptLimit(o *order.LimitOrder) order.LimitOrder {
	b.lock.Lock()
	var notices []notice
	existing, known := b.limits[o.OrderNum]
	if known {
		existing.ExecCondition = o.ExecCondition
		existing.Market = o.Market
		existing.ClientCode = o.ClientCode
		if existing.Account == "" {
			existing.Account = o.Account
		}
		if existing.TransID == 0 {
			existing.TransID = o.TransID
		}
		o = existing
	} else {
		if _, err := o.SetState(order.Placed); err != nil {
			b.Sugar.Warnf("adopt order %d: %s", o.OrderNum, err)
		}
		o.RawState = order.RawActive
		b.limits[o.OrderNum] = o
		snapshot := *o
		notices = append(notices, notice{fire: func() { b.events.NewLimitOrder(snapshot) }})
	}
	b.registerNum(o.TransID, o.OrderNum)
	notices = append(notices, b.drainAdvanceLocked(o, false)...)
	snapshot := *o
	b.lock.Unlock()
	b.deliver(notices)
	return snapshot
}

// MarkLimitKilled commits a kill acknowledged by reply before the
// matching order event arrives. Idempotent with the later event.
func (b *Book) MarkLimitKilled(orderNum uint64) {
	b.lock.Lock()
	var notices []notice
	if o, ok := b.limits[orderNum]; ok {
		changed, err := o.SetState(order.Killed)
		if err != nil {
			b.Sugar.Warnf("kill order %d: %s", orderNum, err)
		}
		if changed {
			o.RawState = order.RawCanceled
			snapshot := *o
			notices = append(notices, notice{fire: func() { b.events.UpdateLimitOrder(snapshot) }})
			if o.DependentStopNum != 0 {
				notices = append(notices, b.reevalStopLocked(o.DependentStopNum, false)...)
			}
		}
	}
	b.lock.Unlock()
	b.deliver(notices)
}

// NotifyLimitMoved fires an update callback for the old order of a
// replacement before its killed/placed callbacks, preserving the
// moved -> killed -> placed sequence.
func (b *Book) NotifyLimitMoved(orderNum uint64) {
	b.lock.RLock()
	o, ok := b.limits[orderNum]
	var snapshot order.LimitOrder
	if ok {
		snapshot = *o
	}
	b.lock.RUnlock()
	if ok {
		b.events.UpdateLimitOrder(snapshot)
	}
}
