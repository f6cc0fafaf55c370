package ledger

import (
	"github.com/x5500/QUIKSharp-sub000/order"
)

// RecordStopOrderEvent ingests one stop-order push event.
func (b *Book) RecordStopOrderEvent(ev *order.StopOrderEvent) {
	b.lock.Lock()
	notices := b.applyStopLocked(ev, false)
	b.lock.Unlock()
	b.deliver(notices)
	if b.resolver != nil && ev.TransID != 0 {
		if b.resolver.Resolve(ev.TransID, outcomeFromOrderEvent(ev.RawState(), ev.RejectReason, ev.OrderNum)) {
			b.Sugar.Debugf("transaction %d resolved by stop-order event %d", ev.TransID, ev.OrderNum)
		}
	}
}

// applyStopLocked is the single update path for stop-order
// information. Caller holds the lock.
func (b *Book) applyStopLocked(ev *order.StopOrderEvent, suppress bool) []notice {
	var notices []notice
	s, known := b.stops[ev.OrderNum]
	if !known {
		s = order.NewStopOrder(ev.Variant(), ev.ClassCode, ev.SecCode, ev.Operation(), ev.ConditionPrice, ev.Price, ev.Qty)
		s.Account = ev.Account
		s.OrderNum = ev.OrderNum
		s.TransID = ev.TransID
		b.stops[ev.OrderNum] = s
	}
	b.registerNum(ev.TransID, ev.OrderNum)

	s.Flags = ev.Flags
	s.StopFlags = ev.StopFlags
	s.RawState = ev.RawState()
	if !ev.ConditionPrice2.IsZero() {
		s.ConditionPrice2 = ev.ConditionPrice2
	}
	s.SetBalance(ev.Balance)

	notices = append(notices, b.linkStopLocked(s, ev.LinkedOrder, ev.CoOrderNum, suppress)...)

	changed, err := s.SetState(order.MapStopState(s.RawState, s.StopFlags, b.linkedPendingLocked(s)))
	if err != nil {
		b.Sugar.Warnf("stop order %d: %s, event dropped", s.OrderNum, err)
	}
	if !suppress {
		snapshot := *s
		if !known {
			notices = append([]notice{{fire: func() { b.events.NewStopOrder(snapshot) }}}, notices...)
		} else if changed {
			notices = append([]notice{{fire: func() { b.events.UpdateStopOrder(snapshot) }}}, notices...)
		}
	}
	return notices
}

// linkStopLocked records the stop side of the stop<->limit links.
// Whichever side arrives first leaves a half-link; the second arrival
// completes it and re-evaluates the counterpart. Idempotent regardless
// of arrival order.
func (b *Book) linkStopLocked(s *order.StopOrder, childNum, coNum uint64, suppress bool) []notice {
	var notices []notice
	if childNum != 0 {
		s.ChildLimitNum = childNum
		if lo, ok := b.limits[childNum]; ok && lo.DependentStopNum == 0 {
			lo.LinkedStopNum = s.OrderNum
			lo.LinkRole = order.RoleChildOfStop
			lo.DependentStopNum = s.OrderNum
			if !suppress {
				snapshot := *lo
				notices = append(notices, notice{fire: func() { b.events.UpdateLimitOrder(snapshot) }})
			}
		}
	}
	if coNum != 0 {
		s.CoOrderNum = coNum
		if lo, ok := b.limits[coNum]; ok {
			if lo.DependentStopNum == 0 {
				lo.LinkedStopNum = s.OrderNum
				lo.LinkRole = order.RoleCoOrder
				lo.DependentStopNum = s.OrderNum
				if !suppress {
					snapshot := *lo
					notices = append(notices, notice{fire: func() { b.events.UpdateLimitOrder(snapshot) }})
				}
			}
		} else {
			b.coIndex[coNum] = s.OrderNum
		}
	}
	return notices
}

// linkedPendingLocked reports whether the order this stop depends on
// is still unresolved, which keeps a completed stop in Executed.
func (b *Book) linkedPendingLocked(s *order.StopOrder) bool {
	if s.RawState != order.RawCompleted {
		return false
	}
	linked := s.Linked()
	if linked == 0 {
		// no child reported yet; the completion event is ahead of the
		// child order's
		return true
	}
	lo, ok := b.limits[linked]
	if !ok {
		return true
	}
	return !lo.State.Terminal()
}

// stopLinkedLocked handles the stop side of a half-link completed by
// the arrival of its counterpart order: the stop re-evaluates and fires
// exactly one update callback even when its state does not move.
// Caller holds the lock.
func (b *Book) stopLinkedLocked(stopNum uint64, suppress bool) []notice {
	notices := b.reevalStopLocked(stopNum, suppress)
	if len(notices) > 0 || suppress {
		return notices
	}
	s, ok := b.stops[stopNum]
	if !ok {
		return nil
	}
	snapshot := *s
	return []notice{{fire: func() { b.events.UpdateStopOrder(snapshot) }}}
}

// reevalStopLocked recomputes a stop order's state from its last
// reported raw status, typically after its linked order changed.
func (b *Book) reevalStopLocked(stopNum uint64, suppress bool) []notice {
	s, ok := b.stops[stopNum]
	if !ok {
		return nil
	}
	changed, err := s.SetState(order.MapStopState(s.RawState, s.StopFlags, b.linkedPendingLocked(s)))
	if err != nil {
		b.Sugar.Warnf("stop order %d re-evaluation: %s", stopNum, err)
		return nil
	}
	if !changed || suppress {
		return nil
	}
	snapshot := *s
	return []notice{{fire: func() { b.events.UpdateStopOrder(snapshot) }}}
}

// AdoptStop promotes a caller-built stop order into the ledger once
// its order number is known.
func (b *Book) AdoptStop(s *order.StopOrder) order.StopOrder {
	b.lock.Lock()
	var notices []notice
	existing, known := b.stops[s.OrderNum]
	if known {
		if existing.TransID == 0 {
			existing.TransID = s.TransID
		}
		existing.Offset, existing.OffsetUnits = s.Offset, s.OffsetUnits
		existing.Spread, existing.SpreadUnits = s.Spread, s.SpreadUnits
		s = existing
	} else {
		if _, err := s.SetState(order.Placed); err != nil {
			b.Sugar.Warnf("adopt stop order %d: %s", s.OrderNum, err)
		}
		s.RawState = order.RawActive
		b.stops[s.OrderNum] = s
		notices = append(notices, b.linkStopLocked(s, s.ChildLimitNum, s.CoOrderNum, false)...)
		snapshot := *s
		notices = append([]notice{{fire: func() { b.events.NewStopOrder(snapshot) }}}, notices...)
	}
	b.registerNum(s.TransID, s.OrderNum)
	snapshot := *s
	b.lock.Unlock()
	b.deliver(notices)
	return snapshot
}

// MarkStopKilled commits a kill acknowledged by reply before the
// matching stop-order event arrives. Idempotent with the later event.
func (b *Book) MarkStopKilled(orderNum uint64) {
	b.lock.Lock()
	var notices []notice
	if s, ok := b.stops[orderNum]; ok {
		changed, err := s.SetState(order.Killed)
		if err != nil {
			b.Sugar.Warnf("kill stop order %d: %s", orderNum, err)
		}
		if changed {
			s.RawState = order.RawCanceled
			snapshot := *s
			notices = append(notices, notice{fire: func() { b.events.UpdateStopOrder(snapshot) }})
		}
	}
	b.lock.Unlock()
	b.deliver(notices)
}
