package ledger

import (
	"context"
	"sync"

	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"go.uber.org/zap"
)

// Events receives ledger notifications. Within one triggering update
// the calls arrive in a fixed order: the order's own change first,
// then any dependent linked order's change. Implementations route
// through a serialized dispatch queue.
type Events interface {
	NewLimitOrder(o order.LimitOrder)
	UpdateLimitOrder(o order.LimitOrder)
	NewStopOrder(o order.StopOrder)
	UpdateStopOrder(o order.StopOrder)
	Trade(t order.TradeEvent)
}

// Resolver lets the ledger resolve a pending transaction when an
// order or stop-order event beats the reply.
type Resolver interface {
	Resolve(id int64, o transaction.Outcome) bool
}

// Book is the internal ledger: every live limit and stop order keyed
// by exchange-assigned order number, plus trades that arrived before
// their order ("advance trades"). All three event entry points and the
// action worker mutate it under one lock; callbacks fire after the
// critical section, already ordered.
type Book struct {
	lock    sync.RWMutex
	limits  map[uint64]*order.LimitOrder
	stops   map[uint64]*order.StopOrder
	advance map[uint64]map[uint64]order.TradeEvent
	seen    map[uint64]map[uint64]struct{}

	// co-order number -> stop order number, for stop events that name
	// a co-order the ledger has not seen yet
	coIndex map[uint64]uint64

	byTrans    map[int64]uint64
	numWaiters map[int64][]chan uint64

	events   Events
	resolver Resolver
	Sugar    *zap.SugaredLogger
}

func NewBook(events Events, resolver Resolver, sugar *zap.SugaredLogger) *Book {
	return &Book{
		limits:     make(map[uint64]*order.LimitOrder),
		stops:      make(map[uint64]*order.StopOrder),
		advance:    make(map[uint64]map[uint64]order.TradeEvent),
		seen:       make(map[uint64]map[uint64]struct{}),
		coIndex:    make(map[uint64]uint64),
		byTrans:    make(map[int64]uint64),
		numWaiters: make(map[int64][]chan uint64),
		events:     events,
		resolver:   resolver,
		Sugar:      sugar,
	}
}

// notice is one callback queued during a locked update, delivered
// after unlock in queue order.
type notice struct {
	fire func()
}

func (b *Book) deliver(notices []notice) {
	for _, n := range notices {
		n.fire()
	}
}

// GetLimitOrder returns a snapshot copy; the ledger keeps ownership of
// the record itself.
func (b *Book) GetLimitOrder(orderNum uint64) (order.LimitOrder, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if o, ok := b.limits[orderNum]; ok {
		return *o, true
	}
	return order.LimitOrder{}, false
}

// GetStopOrder returns a snapshot copy.
func (b *Book) GetStopOrder(orderNum uint64) (order.StopOrder, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	if o, ok := b.stops[orderNum]; ok {
		return *o, true
	}
	return order.StopOrder{}, false
}

// OrderNumByTrans returns the order number assigned to a transaction
// id, 0 while unknown.
func (b *Book) OrderNumByTrans(transID int64) uint64 {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.byTrans[transID]
}

// WaitOrderNum blocks until the terminal assigns an order number to
// the given transaction, or ctx ends. Used by kill requests issued
// while the placement is still in flight.
func (b *Book) WaitOrderNum(ctx context.Context, transID int64) (uint64, error) {
	b.lock.Lock()
	if num, ok := b.byTrans[transID]; ok && num != 0 {
		b.lock.Unlock()
		return num, nil
	}
	ch := make(chan uint64, 1)
	b.numWaiters[transID] = append(b.numWaiters[transID], ch)
	b.lock.Unlock()

	select {
	case num := <-ch:
		return num, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// registerNum records the trans-id -> order-number binding and wakes
// waiters. Caller holds the lock.
func (b *Book) registerNum(transID int64, orderNum uint64) {
	if transID == 0 || orderNum == 0 {
		return
	}
	b.byTrans[transID] = orderNum
	for _, ch := range b.numWaiters[transID] {
		ch <- orderNum
	}
	delete(b.numWaiters, transID)
}

// Size reports (limit, stop) order counts.
func (b *Book) Size() (int, int) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return len(b.limits), len(b.stops)
}
