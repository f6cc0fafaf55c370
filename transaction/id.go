package transaction

import (
	"go.uber.org/atomic"
)

// IDSource produces correlation ids for outgoing transactions. The
// default is a session-local atomic counter; callers may substitute
// their own source, e.g. one persisted across restarts.
type IDSource interface {
	NextID() int64
}

// Identified is anything carrying an originating transaction id:
// replies, order events, stop-order events. Events for orders
// discovered at startup carry no id and report 0.
type Identified interface {
	TransactionID() int64
}

// Identifier assigns and extracts correlation ids. Ids are unique for
// the lifetime of the session.
type Identifier struct {
	source IDSource
}

func NewIdentifier(source IDSource) *Identifier {
	if source == nil {
		source = NewCounterSource(0)
	}
	return &Identifier{source: source}
}

// IdentifyTransaction assigns a fresh id if the transaction has none
// yet, otherwise returns the existing one.
func (i *Identifier) IdentifyTransaction(tx *Transaction) int64 {
	if tx.TransID == 0 {
		tx.TransID = i.source.NextID()
	}
	return tx.TransID
}

// IdentifyReply extracts the correlation id from a reply.
func (i *Identifier) IdentifyReply(r *Reply) int64 {
	return r.TransID
}

// IdentifyEvent extracts the correlation id from an order or
// stop-order event; 0 means the event has no originating transaction.
func (i *Identifier) IdentifyEvent(ev Identified) int64 {
	return ev.TransactionID()
}

// CounterSource is the default IDSource: an atomic counter starting
// above the given floor.
type CounterSource struct {
	last atomic.Int64
}

func NewCounterSource(floor int64) *CounterSource {
	s := &CounterSource{}
	s.last.Store(floor)
	return s
}

func (s *CounterSource) NextID() int64 {
	return s.last.Inc()
}
