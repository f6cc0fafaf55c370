package engine

import (
	"context"
	"sync"

	"github.com/x5500/QUIKSharp-sub000/ledger"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"go.uber.org/zap"
)

// TransactionFailure is the payload of the transaction-error callback.
type TransactionFailure struct {
	TransID   int64
	OrderNum  uint64
	Result    transaction.Result
	Status    int
	ErrorCode int64
	Message   string
}

// Notifier is the callback hub. Subscribers are invoked one at a time
// from a dedicated dispatch goroutine, in enqueue order, so a slow or
// panicking subscriber cannot interleave with ledger mutation.
type Notifier struct {
	lock        sync.RWMutex
	newLimit    []func(order.LimitOrder)
	updateLimit []func(order.LimitOrder)
	newStop     []func(order.StopOrder)
	updateStop  []func(order.StopOrder)
	trade       []func(order.TradeEvent)
	txError     []func(TransactionFailure)

	queue    chan func()
	stopOnce sync.Once
	stopped  chan struct{}
	Sugar    *zap.SugaredLogger
}

var _ ledger.Events = (*Notifier)(nil)

func NewNotifier(sugar *zap.SugaredLogger) *Notifier {
	return &Notifier{
		queue:   make(chan func(), 256),
		stopped: make(chan struct{}),
		Sugar:   sugar,
	}
}

// Run drains the dispatch queue until ctx ends.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.stopOnce.Do(func() { close(n.stopped) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-n.queue:
			n.invoke(f)
		}
	}
}

func (n *Notifier) invoke(f func()) {
	defer func() {
		if r := recover(); r != nil {
			n.Sugar.Errorf("callback panic: %v", r)
		}
	}()
	f()
}

func (n *Notifier) enqueue(f func()) {
	select {
	case n.queue <- f:
		return
	default:
	}
	// queue full; block until the dispatcher catches up so that
	// delivery order is preserved. Dropped if the dispatcher is gone.
	n.Sugar.Warn("callback queue full, waiting for dispatcher")
	select {
	case n.queue <- f:
	case <-n.stopped:
	}
}

func (n *Notifier) SubscribeNewLimitOrder(f func(order.LimitOrder)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.newLimit = append(n.newLimit, f)
}

func (n *Notifier) SubscribeUpdateLimitOrder(f func(order.LimitOrder)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.updateLimit = append(n.updateLimit, f)
}

func (n *Notifier) SubscribeNewStopOrder(f func(order.StopOrder)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.newStop = append(n.newStop, f)
}

func (n *Notifier) SubscribeUpdateStopOrder(f func(order.StopOrder)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.updateStop = append(n.updateStop, f)
}

func (n *Notifier) SubscribeTrade(f func(order.TradeEvent)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.trade = append(n.trade, f)
}

func (n *Notifier) SubscribeTransactionError(f func(TransactionFailure)) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.txError = append(n.txError, f)
}

func (n *Notifier) NewLimitOrder(o order.LimitOrder) {
	n.lock.RLock()
	subs := n.newLimit
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(o) })
	}
}

func (n *Notifier) UpdateLimitOrder(o order.LimitOrder) {
	n.lock.RLock()
	subs := n.updateLimit
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(o) })
	}
}

func (n *Notifier) NewStopOrder(o order.StopOrder) {
	n.lock.RLock()
	subs := n.newStop
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(o) })
	}
}

func (n *Notifier) UpdateStopOrder(o order.StopOrder) {
	n.lock.RLock()
	subs := n.updateStop
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(o) })
	}
}

func (n *Notifier) Trade(t order.TradeEvent) {
	n.lock.RLock()
	subs := n.trade
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(t) })
	}
}

func (n *Notifier) TransactionError(fail TransactionFailure) {
	n.lock.RLock()
	subs := n.txError
	n.lock.RUnlock()
	for _, f := range subs {
		f := f
		n.enqueue(func() { f(fail) })
	}
}
