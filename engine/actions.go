package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// submitWithRetry drives one action to a terminal outcome. build must
// return a fresh transaction with no id on every call: a retried
// attempt gets a new correlation id so that a late reply to the
// previous attempt cannot resolve the new awaiter.
func (e *Engine) submitWithRetry(ctx context.Context, build func() *transaction.Transaction, retries int, retryable func(transaction.Outcome) bool) (transaction.Outcome, *transaction.Transaction, error) {
	attempt := 0
	for {
		tx := build()
		out, err := e.submitter.Submit(ctx, tx, e.cfg.Timeout())
		if err != nil {
			return out, tx, err
		}
		switch out.Result {
		case transaction.Success, transaction.Cancelled:
			return out, tx, nil
		case transaction.TimeoutWaitReply, transaction.SendReceiveTimeout:
			attempt++
			if attempt > retries {
				return out, tx, nil
			}
			e.Sugar.Infof("transaction %d: %s, retry %d/%d after %s",
				tx.TransID, out.Result, attempt, retries, e.cfg.DelayOnTimeout())
			if err := sleepCtx(ctx, e.cfg.DelayOnTimeout()); err != nil {
				return out, tx, err
			}
		case transaction.NoConnection:
			// bounded only by ctx, not by the retry count
			e.Sugar.Warnf("transaction %d: no connection, waiting for reconnect", tx.TransID)
			if err := e.waitReconnect(ctx); err != nil {
				return out, tx, err
			}
		default:
			if retryable != nil && retryable(out) {
				attempt++
				if attempt > retries {
					return out, tx, nil
				}
				e.Sugar.Infof("transaction %d: retryable error code %d, retry %d/%d",
					tx.TransID, out.ErrorCode, attempt, retries)
				if err := sleepCtx(ctx, e.cfg.DelayOnTimeout()); err != nil {
					return out, tx, err
				}
				continue
			}
			return out, tx, nil
		}
	}
}

func (e *Engine) waitReconnect(ctx context.Context) error {
	sig := e.conn.ReconnectSignal()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sig:
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) doPlaceLimit(ctx context.Context, a *action) ActionResult {
	o := a.limit
	out, tx, err := e.submitWithRetry(ctx, func() *transaction.Transaction {
		if _, serr := o.SetState(order.RequestedPlacement); serr != nil {
			e.Sugar.Warnf("place order: %s", serr)
		}
		return o.PlaceTransaction()
	}, a.retries, nil)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	if out.Result != transaction.Success {
		e.failPlacement(&o.Order, tx.TransID, out)
		return ActionResult{Outcome: out}
	}
	o.TransID = tx.TransID
	num, err := e.orderNumAfterSuccess(ctx, tx.TransID, out)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	o.OrderNum = num
	snap := e.book.AdoptLimit(o)
	e.Sugar.Infof("order placed, num %d, trans %d, %s %s@%s x%d",
		num, tx.TransID, o.Operation, o.SecCode, o.Price, o.Qty)
	return ActionResult{Outcome: out, Order: snap}
}

func (e *Engine) doPlaceStop(ctx context.Context, a *action) ActionResult {
	s := a.stop
	out, tx, err := e.submitWithRetry(ctx, func() *transaction.Transaction {
		if _, serr := s.SetState(order.RequestedPlacement); serr != nil {
			e.Sugar.Warnf("place stop order: %s", serr)
		}
		return s.PlaceTransaction()
	}, a.retries, nil)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	if out.Result != transaction.Success {
		e.failPlacement(&s.Order, tx.TransID, out)
		return ActionResult{Outcome: out}
	}
	s.TransID = tx.TransID
	num, err := e.orderNumAfterSuccess(ctx, tx.TransID, out)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	s.OrderNum = num
	snap := e.book.AdoptStop(s)
	e.Sugar.Infof("stop order placed, num %d, trans %d, %s condition %s",
		num, tx.TransID, s.Variant, s.ConditionPrice)
	return ActionResult{Outcome: out, Stop: snap}
}

// failPlacement commits a protocol-terminal failure: state to
// ErrorRejected and the error surfaced via callback. Retryable results
// that ran out of attempts leave the state untouched, since the order
// may yet exist on the terminal.
func (e *Engine) failPlacement(o *order.Order, transID int64, out transaction.Outcome) {
	if out.Result.Retryable() || out.Result == transaction.Cancelled {
		return
	}
	if _, err := o.SetState(order.ErrorRejected); err != nil {
		e.Sugar.Warnf("reject order: %s", err)
	}
	e.notifier.TransactionError(TransactionFailure{
		TransID:   transID,
		OrderNum:  out.OrderNum,
		Result:    out.Result,
		Status:    out.Status,
		ErrorCode: out.ErrorCode,
		Message:   out.ResultMsg,
	})
}

// orderNumAfterSuccess extracts the order number from the outcome, or
// waits for the order event carrying it.
func (e *Engine) orderNumAfterSuccess(ctx context.Context, transID int64, out transaction.Outcome) (uint64, error) {
	if out.OrderNum != 0 {
		return out.OrderNum, nil
	}
	if num := e.book.OrderNumByTrans(transID); num != 0 {
		return num, nil
	}
	wctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()
	num, err := e.book.WaitOrderNum(wctx, transID)
	if err != nil {
		return 0, errors.Wrapf(err, "transaction %d succeeded but no order number arrived", transID)
	}
	return num, nil
}

// resolveOrderNum finds the order number for a kill/move, waiting for
// a still-in-flight placement to be assigned one rather than racing a
// second transaction against it.
func (e *Engine) resolveOrderNum(ctx context.Context, o *order.Order) (uint64, error) {
	if o.OrderNum != 0 {
		return o.OrderNum, nil
	}
	if o.TransID == 0 {
		return 0, ErrKillUnplaced
	}
	return e.book.WaitOrderNum(ctx, o.TransID)
}

func (e *Engine) doKillLimit(ctx context.Context, a *action) ActionResult {
	o := a.limit
	num, err := e.resolveOrderNum(ctx, &o.Order)
	if err != nil {
		return ActionResult{Err: err}
	}
	o.OrderNum = num
	if snap, ok := e.book.GetLimitOrder(num); ok {
		if snap.State == order.Killed {
			return ActionResult{Outcome: transaction.Outcome{Result: transaction.Success, OrderNum: num}, Order: snap}
		}
		if snap.State.Terminal() {
			return ActionResult{Err: errors.Errorf("order %d is already %s", num, snap.State)}
		}
	}
	out, tx, err := e.submitWithRetry(ctx, o.KillTransaction, a.retries, nil)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	if out.Result != transaction.Success {
		e.notifyFailure(tx.TransID, num, out)
		return ActionResult{Outcome: out}
	}
	e.book.MarkLimitKilled(num)
	snap, _ := e.book.GetLimitOrder(num)
	e.Sugar.Infof("order %d killed, trans %d", num, tx.TransID)
	return ActionResult{Outcome: out, Order: snap}
}

func (e *Engine) doKillStop(ctx context.Context, a *action) ActionResult {
	s := a.stop
	num, err := e.resolveOrderNum(ctx, &s.Order)
	if err != nil {
		return ActionResult{Err: err}
	}
	s.OrderNum = num
	if snap, ok := e.book.GetStopOrder(num); ok {
		if snap.State == order.Killed {
			return ActionResult{Outcome: transaction.Outcome{Result: transaction.Success, OrderNum: num}, Stop: snap}
		}
		if snap.State.Terminal() {
			return ActionResult{Err: errors.Errorf("stop order %d is already %s", num, snap.State)}
		}
	}
	out, tx, err := e.submitWithRetry(ctx, s.KillTransaction, a.retries, nil)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	if out.Result != transaction.Success {
		e.notifyFailure(tx.TransID, num, out)
		return ActionResult{Outcome: out}
	}
	e.book.MarkStopKilled(num)
	snap, _ := e.book.GetStopOrder(num)
	e.Sugar.Infof("stop order %d killed, trans %d", num, tx.TransID)
	return ActionResult{Outcome: out, Stop: snap}
}

func (e *Engine) doMoveLimit(ctx context.Context, a *action) ActionResult {
	o := a.limit
	num, err := e.resolveOrderNum(ctx, &o.Order)
	if err != nil {
		if errors.Is(err, ErrKillUnplaced) {
			err = ErrMoveUnplaced
		}
		return ActionResult{Err: err}
	}
	o.OrderNum = num
	out, tx, err := e.submitWithRetry(ctx, func() *transaction.Transaction {
		return o.MoveTransaction(a.newPrice, a.newQty)
	}, a.retries, e.moveRetryable)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}
	if out.Result != transaction.Success {
		e.notifyFailure(tx.TransID, num, out)
		return ActionResult{Outcome: out}
	}
	newNum, err := e.orderNumAfterSuccess(ctx, tx.TransID, out)
	if err != nil {
		return ActionResult{Outcome: out, Err: err}
	}

	// fixed delivery order even though the underlying events race:
	// moved on the old order, killed on the old, placed on the new
	e.book.NotifyLimitMoved(num)
	e.book.MarkLimitKilled(num)

	replacement := order.NewLimitOrder(o.ClassCode, o.SecCode, o.Operation, a.newPrice, a.newQty)
	replacement.Account = o.Account
	replacement.ClientCode = o.ClientCode
	replacement.ExecCondition = o.ExecCondition
	replacement.Market = o.Market
	replacement.Expiry = o.Expiry
	replacement.TransID = tx.TransID
	replacement.OrderNum = newNum
	snap := e.book.AdoptLimit(replacement)
	e.Sugar.Infof("order %d moved to %d, price %s, qty %d", num, newNum, a.newPrice, a.newQty)
	return ActionResult{Outcome: out, Order: snap}
}

// moveRetryable classifies terminal error codes on move, best effort:
// some codes mean "temporary rejection, try again" rather than "no
// active order".
func (e *Engine) moveRetryable(out transaction.Outcome) bool {
	if out.Result != transaction.QuikError {
		return false
	}
	for _, code := range e.cfg.RetryableMoveCodes {
		if out.ErrorCode == code {
			return true
		}
	}
	return false
}

func (e *Engine) notifyFailure(transID int64, orderNum uint64, out transaction.Outcome) {
	if out.Result.Retryable() || out.Result == transaction.Cancelled {
		return
	}
	e.notifier.TransactionError(TransactionFailure{
		TransID:   transID,
		OrderNum:  orderNum,
		Result:    out.Result,
		Status:    out.Status,
		ErrorCode: out.ErrorCode,
		Message:   out.ResultMsg,
	})
}
