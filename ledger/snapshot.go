package ledger

import (
	"github.com/x5500/QUIKSharp-sub000/order"
)

// ReplaySnapshot reconciles the ledger against full order, stop-order
// and trade tables fetched on (re)connect. The rows run through the
// same update paths as live events with callbacks suppressed, so
// cold start and steady state share one reconciliation logic.
func (b *Book) ReplaySnapshot(orders []order.OrderEvent, stops []order.StopOrderEvent, trades []order.TradeEvent) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for i := range orders {
		b.applyOrderLocked(&orders[i], true)
	}
	for i := range stops {
		b.applyStopLocked(&stops[i], true)
	}
	for i := range trades {
		ev := trades[i]
		if _, ok := b.limits[ev.OrderNum]; ok {
			// the orders table balance already reflects this fill;
			// just remember the trade so a live re-delivery is a no-op
			b.markTradeSeenLocked(ev.OrderNum, ev.TradeNum)
		} else {
			b.parkAdvanceLocked(&ev)
		}
	}
	b.Sugar.Infof("snapshot replayed: %d orders, %d stop orders, %d trades", len(orders), len(stops), len(trades))
}
