package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/ledger"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"go.uber.org/zap"
)

// Config holds the engine's retry policy.
type Config struct {
	TimeoutMs        int `json:"timeoutMs"`
	DelayOnTimeoutMs int `json:"delayOnTimeoutMs"`
	// terminal error codes treated as retryable on move, best effort:
	// the terminal does not document a stable contract for them
	RetryableMoveCodes []int64 `json:"retryableMoveCodes"`
}

func (c Config) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

func (c Config) DelayOnTimeout() time.Duration {
	if c.DelayOnTimeoutMs <= 0 {
		return time.Second
	}
	return time.Duration(c.DelayOnTimeoutMs) * time.Millisecond
}

// ConnSignal reports terminal connectivity. ReconnectSignal returns a
// channel closed on the next reconnect; NoConnection retries block on
// it instead of polling.
type ConnSignal interface {
	Connected() bool
	ReconnectSignal() <-chan struct{}
}

// ActionResult is the terminal outcome of one place/move/kill action.
type ActionResult struct {
	Outcome transaction.Outcome
	// snapshots valid on success, per action kind
	Order order.LimitOrder
	Stop  order.StopOrder
	Err   error
}

func (r ActionResult) Success() bool {
	return r.Err == nil && r.Outcome.Result == transaction.Success
}

var (
	ErrKillUnplaced = errors.New("order was never submitted, nothing to kill")
	ErrMoveUnplaced = errors.New("order has no order number, nothing to move")
	ErrShutdown     = errors.New("engine is shut down")
)

type actionKind int

const (
	actPlaceLimit actionKind = iota
	actPlaceStop
	actKillLimit
	actKillStop
	actMoveLimit
)

type action struct {
	kind     actionKind
	limit    *order.LimitOrder
	stop     *order.StopOrder
	newPrice decimal.Decimal
	newQty   int64
	retries  int
	ctx      context.Context
	done     chan ActionResult
}

// Engine drains place/move/kill actions strictly one at a time, so
// transaction submission order stays deterministic per instance. Each
// action is retried internally under the timeout/no-connection policy
// until a terminal outcome.
type Engine struct {
	cfg       Config
	submitter *transaction.Submitter
	book      *ledger.Book
	conn      ConnSignal
	notifier  *Notifier
	queue     chan *action
	Sugar     *zap.SugaredLogger
}

func New(cfg Config, submitter *transaction.Submitter, book *ledger.Book, conn ConnSignal, notifier *Notifier, sugar *zap.SugaredLogger) *Engine {
	return &Engine{
		cfg:       cfg,
		submitter: submitter,
		book:      book,
		conn:      conn,
		notifier:  notifier,
		queue:     make(chan *action, 64),
		Sugar:     sugar,
	}
}

// Run is the single consumer of the action queue.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			e.drainShutdown()
			return ctx.Err()
		case a := <-e.queue:
			e.execute(ctx, a)
		}
	}
}

func (e *Engine) drainShutdown() {
	for {
		select {
		case a := <-e.queue:
			a.finish(ActionResult{Outcome: transaction.Outcome{Result: transaction.Cancelled}, Err: ErrShutdown})
		default:
			return
		}
	}
}

func (a *action) finish(r ActionResult) {
	if a.done != nil {
		a.done <- r
	}
}

func (e *Engine) execute(runCtx context.Context, a *action) {
	ctx := a.ctx
	if ctx == nil {
		ctx = runCtx
	}
	var r ActionResult
	switch a.kind {
	case actPlaceLimit:
		r = e.doPlaceLimit(ctx, a)
	case actPlaceStop:
		r = e.doPlaceStop(ctx, a)
	case actKillLimit:
		r = e.doKillLimit(ctx, a)
	case actKillStop:
		r = e.doKillStop(ctx, a)
	case actMoveLimit:
		r = e.doMoveLimit(ctx, a)
	}
	a.finish(r)
}

func (e *Engine) enqueue(a *action) error {
	select {
	case e.queue <- a:
		return nil
	default:
		return errors.New("action queue is full")
	}
}

func (e *Engine) run(ctx context.Context, a *action) ActionResult {
	a.ctx = ctx
	a.done = make(chan ActionResult, 1)
	if err := e.enqueue(a); err != nil {
		return ActionResult{Err: err}
	}
	select {
	case r := <-a.done:
		return r
	case <-ctx.Done():
		// the worker still finishes the action; its per-action ctx is
		// already cancelled with ours
		return ActionResult{Outcome: transaction.Outcome{Result: transaction.Cancelled}, Err: ctx.Err()}
	}
}

// PlaceOrder queues a limit-order placement and waits for its terminal
// outcome.
func (e *Engine) PlaceOrder(ctx context.Context, o *order.LimitOrder, retries int) ActionResult {
	if _, err := o.SetState(order.WaitPlacement); err != nil {
		return ActionResult{Err: err}
	}
	return e.run(ctx, &action{kind: actPlaceLimit, limit: o, retries: retries})
}

// PlaceStopOrder queues a stop-order placement and waits.
func (e *Engine) PlaceStopOrder(ctx context.Context, s *order.StopOrder, retries int) ActionResult {
	if _, err := s.SetState(order.WaitPlacement); err != nil {
		return ActionResult{Err: err}
	}
	return e.run(ctx, &action{kind: actPlaceStop, stop: s, retries: retries})
}

// KillOrder queues a limit-order cancel and waits. A kill issued while
// the placement is still in flight waits for the order number instead
// of racing a second transaction.
func (e *Engine) KillOrder(ctx context.Context, o *order.LimitOrder, retries int) ActionResult {
	return e.run(ctx, &action{kind: actKillLimit, limit: o, retries: retries})
}

// KillStopOrder queues a stop-order cancel and waits.
func (e *Engine) KillStopOrder(ctx context.Context, s *order.StopOrder, retries int) ActionResult {
	return e.run(ctx, &action{kind: actKillStop, stop: s, retries: retries})
}

// MoveOrder replaces a placed order with a new price and quantity. The
// exchange issues a new order number; the old record is killed and a
// new one placed, with callbacks delivered moved, killed, placed.
func (e *Engine) MoveOrder(ctx context.Context, o *order.LimitOrder, newPrice decimal.Decimal, newQty int64, retries int) ActionResult {
	return e.run(ctx, &action{kind: actMoveLimit, limit: o, newPrice: newPrice, newQty: newQty, retries: retries})
}

// RequestPlaceOrder enqueues a placement without waiting.
func (e *Engine) RequestPlaceOrder(o *order.LimitOrder, retries int) error {
	if _, err := o.SetState(order.WaitPlacement); err != nil {
		return err
	}
	return e.enqueue(&action{kind: actPlaceLimit, limit: o, retries: retries})
}

// RequestPlaceStopOrder enqueues a stop placement without waiting.
func (e *Engine) RequestPlaceStopOrder(s *order.StopOrder, retries int) error {
	if _, err := s.SetState(order.WaitPlacement); err != nil {
		return err
	}
	return e.enqueue(&action{kind: actPlaceStop, stop: s, retries: retries})
}

// RequestKillOrder enqueues a cancel without waiting.
func (e *Engine) RequestKillOrder(o *order.LimitOrder, retries int) error {
	return e.enqueue(&action{kind: actKillLimit, limit: o, retries: retries})
}

// RequestKillStopOrder enqueues a stop cancel without waiting.
func (e *Engine) RequestKillStopOrder(s *order.StopOrder, retries int) error {
	return e.enqueue(&action{kind: actKillStop, stop: s, retries: retries})
}

// RequestMoveOrder enqueues a replacement without waiting.
func (e *Engine) RequestMoveOrder(o *order.LimitOrder, newPrice decimal.Decimal, newQty int64, retries int) error {
	return e.enqueue(&action{kind: actMoveLimit, limit: o, newPrice: newPrice, newQty: newQty, retries: retries})
}
