package ledger

import (
	"github.com/x5500/QUIKSharp-sub000/order"
)

// RecordTradeEvent ingests one fill report. A trade for an order the
// ledger has not seen yet is parked as an advance trade and applied
// when the order appears. Re-delivery of the same trade number is a
// no-op.
func (b *Book) RecordTradeEvent(ev *order.TradeEvent) {
	b.lock.Lock()
	var notices []notice
	o, ok := b.limits[ev.OrderNum]
	if !ok {
		if b.parkAdvanceLocked(ev) {
			b.Sugar.Debugf("advance trade %d for unknown order %d parked", ev.TradeNum, ev.OrderNum)
		}
		b.lock.Unlock()
		return
	}
	notices = b.applyTradeLocked(o, ev, false)
	b.lock.Unlock()
	b.deliver(notices)
}

// parkAdvanceLocked stores an early trade, deduplicated by trade
// number. Caller holds the lock.
func (b *Book) parkAdvanceLocked(ev *order.TradeEvent) bool {
	trades, ok := b.advance[ev.OrderNum]
	if !ok {
		trades = make(map[uint64]order.TradeEvent)
		b.advance[ev.OrderNum] = trades
	}
	if _, dup := trades[ev.TradeNum]; dup {
		return false
	}
	trades[ev.TradeNum] = *ev
	return true
}

// markTradeSeenLocked records a trade number without applying its
// quantity. Caller holds the lock.
func (b *Book) markTradeSeenLocked(orderNum, tradeNum uint64) {
	seen, ok := b.seen[orderNum]
	if !ok {
		seen = make(map[uint64]struct{})
		b.seen[orderNum] = seen
	}
	seen[tradeNum] = struct{}{}
}

// applyTradeLocked applies one fill to a ledger order. Caller holds
// the lock.
func (b *Book) applyTradeLocked(o *order.LimitOrder, ev *order.TradeEvent, suppress bool) []notice {
	seen, ok := b.seen[ev.OrderNum]
	if !ok {
		seen = make(map[uint64]struct{})
		b.seen[ev.OrderNum] = seen
	}
	if _, dup := seen[ev.TradeNum]; dup {
		b.Sugar.Debugf("duplicate trade %d for order %d dropped", ev.TradeNum, ev.OrderNum)
		return nil
	}
	seen[ev.TradeNum] = struct{}{}

	newly := o.AddTraded(ev.Qty)
	if newly == 0 {
		// the order refresh already accounted for this fill
		return nil
	}
	var notices []notice
	changed := false
	if o.Completed() {
		var err error
		changed, err = o.SetState(order.Filled)
		if err != nil {
			b.Sugar.Warnf("order %d filled: %s", o.OrderNum, err)
		}
	}
	if suppress {
		return nil
	}
	tradeCopy := *ev
	snapshot := *o
	notices = append(notices,
		notice{fire: func() { b.events.Trade(tradeCopy) }},
		notice{fire: func() { b.events.UpdateLimitOrder(snapshot) }},
	)
	if changed && o.DependentStopNum != 0 {
		notices = append(notices, b.reevalStopLocked(o.DependentStopNum, suppress)...)
	}
	return notices
}

// drainAdvanceLocked applies any parked trades for a newly known
// order. Caller holds the lock.
func (b *Book) drainAdvanceLocked(o *order.LimitOrder, suppress bool) []notice {
	trades, ok := b.advance[o.OrderNum]
	if !ok {
		return nil
	}
	delete(b.advance, o.OrderNum)
	var notices []notice
	for _, ev := range trades {
		tradeCopy := ev
		notices = append(notices, b.applyTradeLocked(o, &tradeCopy, suppress)...)
	}
	return notices
}
