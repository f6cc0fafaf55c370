package transaction

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrDuplicateID is returned when a correlation id is registered
// twice. Ids are unique per session, so this is a programming error.
var ErrDuplicateID = errors.New("duplicate transaction id")

// Pending is one outstanding transaction awaiter. It is resolved
// exactly once by whichever of {reply event, order event, stop-order
// event, send failure, timeout, cancellation} arrives first; later
// attempts are no-ops.
type Pending struct {
	id      int64
	done    chan struct{}
	once    sync.Once
	outcome Outcome
}

// Done is closed when the awaiter has been resolved.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Outcome is valid only after Done is closed.
func (p *Pending) Outcome() Outcome {
	return p.outcome
}

func (p *Pending) resolve(o Outcome) bool {
	won := false
	p.once.Do(func() {
		p.outcome = o
		close(p.done)
		won = true
	})
	return won
}

// PendingTable maps correlation ids to outstanding awaiters. It is the
// single synchronization point between the send path and the reply,
// order-event and stop-order-event delivery paths.
type PendingTable struct {
	lock    sync.Mutex
	waiters map[int64]*Pending
	Sugar   *zap.SugaredLogger
}

func NewPendingTable(sugar *zap.SugaredLogger) *PendingTable {
	return &PendingTable{
		waiters: make(map[int64]*Pending),
		Sugar:   sugar,
	}
}

// Register creates the awaiter for id. Registering an id that is
// already present fails: correlation ids never repeat within a session.
func (t *PendingTable) Register(id int64) (*Pending, error) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if _, ok := t.waiters[id]; ok {
		return nil, errors.Wrapf(ErrDuplicateID, "id %d", id)
	}
	p := &Pending{id: id, done: make(chan struct{})}
	t.waiters[id] = p
	return p, nil
}

// Resolve delivers an outcome to the awaiter for id, removing it from
// the table. Returns false when no awaiter exists: a late or duplicate
// event, logged and dropped by the caller.
func (t *PendingTable) Resolve(id int64, o Outcome) bool {
	t.lock.Lock()
	p, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.lock.Unlock()
	if !ok {
		return false
	}
	if !p.resolve(o) {
		// Lost the race against another resolver that is about to
		// remove the entry itself; treat as late.
		return false
	}
	return true
}

// Size reports the number of outstanding awaiters.
func (t *PendingTable) Size() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.waiters)
}

// CancelAll resolves every outstanding awaiter with a cancelled
// outcome. Used on shutdown.
func (t *PendingTable) CancelAll() {
	t.lock.Lock()
	waiters := t.waiters
	t.waiters = make(map[int64]*Pending)
	t.lock.Unlock()
	for id, p := range waiters {
		if p.resolve(Outcome{Result: Cancelled}) && t.Sugar != nil {
			t.Sugar.Debugf("cancelled pending transaction %d", id)
		}
	}
}
