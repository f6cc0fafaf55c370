package transaction

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrNoIdentifier is returned by Submit when no identifier is
// configured, before anything reaches the wire.
var ErrNoIdentifier = errors.New("no transaction identifier configured")

// Sender pushes one transaction toward the terminal and reports the
// synchronous acknowledgment: ok=false or an error means the terminal
// never accepted the instruction for processing.
type Sender interface {
	SendTransaction(ctx context.Context, tx *Transaction) (ok bool, err error)
	Connected() bool
}

// Submitter sends transactions and races the synchronous send
// acknowledgment against the asynchronous reply/order events, a
// timeout, and caller cancellation.
type Submitter struct {
	id     *Identifier
	table  *PendingTable
	sender Sender
	Sugar  *zap.SugaredLogger
}

func NewSubmitter(id *Identifier, table *PendingTable, sender Sender, sugar *zap.SugaredLogger) *Submitter {
	return &Submitter{id: id, table: table, sender: sender, Sugar: sugar}
}

// Table exposes the pending table so event routes can resolve awaiters.
func (s *Submitter) Table() *PendingTable {
	return s.table
}

// Submit sends tx and waits up to timeout for a resolution. The
// awaiter is resolved by the first of: a terminal-status reply, an
// order or stop-order event carrying the same transaction id, a send
// failure, the timeout, or ctx cancellation. A NoConnection outcome is
// not failure-terminal; callers wait for reconnect and retry.
func (s *Submitter) Submit(ctx context.Context, tx *Transaction, timeout time.Duration) (Outcome, error) {
	if s.id == nil {
		return Outcome{}, ErrNoIdentifier
	}
	id := s.id.IdentifyTransaction(tx)
	p, err := s.table.Register(id)
	if err != nil {
		return Outcome{}, err
	}

	if !s.sender.Connected() {
		s.table.Resolve(id, Outcome{Result: NoConnection})
		return p.Outcome(), nil
	}

	go func() {
		ok, sendErr := s.sender.SendTransaction(ctx, tx)
		if sendErr != nil {
			s.table.Resolve(id, Outcome{Result: classifySendError(sendErr), Err: sendErr})
			return
		}
		if !ok {
			s.table.Resolve(id, Outcome{Result: FailedToSend})
		}
		// ok: the resolution comes from the reply or an order event.
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
	case <-timer.C:
		if !s.table.Resolve(id, Outcome{Result: TimeoutWaitReply}) {
			s.Sugar.Debugf("transaction %d resolved while timing out", id)
		}
		<-p.Done()
	case <-ctx.Done():
		if !s.table.Resolve(id, Outcome{Result: Cancelled, Err: ctx.Err()}) {
			s.Sugar.Debugf("transaction %d resolved while cancelling", id)
		}
		<-p.Done()
	}

	o := p.Outcome()
	if o.Result == TimeoutWaitReply {
		s.Sugar.Warnf("no reply for transaction %d within %s; a late reply will be dropped", id, timeout)
	}
	return o, nil
}

func classifySendError(err error) Result {
	var luaErr *LuaError
	var txErr *TransactionError
	switch {
	case errors.As(err, &luaErr):
		return LuaException
	case errors.As(err, &txErr):
		return TransactionException
	case errors.Is(err, context.DeadlineExceeded):
		return SendReceiveTimeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	case errors.Is(err, ErrNotConnected):
		return NoConnection
	default:
		return FailedToSend
	}
}

// ErrNotConnected is reported by senders when the terminal link is
// down. Submissions classify it as NoConnection and wait for the
// reconnect signal instead of burning retries.
var ErrNotConnected = errors.New("not connected to terminal")
