package order

import (
	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// Order status flag bits as the terminal reports them.
const (
	FlagActive   uint32 = 1 << 0
	FlagCanceled uint32 = 1 << 1
	FlagSell     uint32 = 1 << 2
	FlagLimited  uint32 = 1 << 3
)

// Stop-order flag bits. The withdraw-reason bits are terminal-specific
// and treated as best effort.
const (
	StopFlagRejected        uint32 = 1 << 4
	StopFlagExecuted        uint32 = 1 << 5
	StopFlagWithdrawnByFill uint32 = 1 << 6
)

// RawState is the coarse status the terminal reports for an order,
// before mapping to the internal lifecycle state.
type RawState int

const (
	RawActive RawState = iota
	RawCompleted
	RawCanceled
	RawRejected
)

var rawNames = map[RawState]string{
	RawActive:    "Active",
	RawCompleted: "Completed",
	RawCanceled:  "Canceled",
	RawRejected:  "Rejected",
}

func (s RawState) String() string {
	if n, ok := rawNames[s]; ok {
		return n
	}
	return "RawState(?)"
}

func rawFromFlags(flags uint32, rejectReason string) RawState {
	switch {
	case rejectReason != "":
		return RawRejected
	case flags&FlagActive != 0:
		return RawActive
	case flags&FlagCanceled != 0:
		return RawCanceled
	default:
		return RawCompleted
	}
}

// OrderEvent is the terminal's push event for a limit order, also the
// row shape of the orders snapshot table.
type OrderEvent struct {
	OrderNum     uint64          `json:"order_num"`
	TransID      int64           `json:"trans_id"`
	ClassCode    string          `json:"class_code"`
	SecCode      string          `json:"sec_code"`
	Account      string          `json:"account"`
	Price        decimal.Decimal `json:"price"`
	Qty          int64           `json:"qty"`
	Balance      int64           `json:"balance"`
	Flags        uint32          `json:"flags"`
	RejectReason string          `json:"reject_reason"`
	Expiry       string          `json:"expiry"`
	// stop order that spawned this order, 0 when standalone
	Linked uint64 `json:"linkedorder"`
}

func (e *OrderEvent) TransactionID() int64 { return e.TransID }

func (e *OrderEvent) RawState() RawState {
	return rawFromFlags(e.Flags, e.RejectReason)
}

func (e *OrderEvent) Operation() transaction.Operation {
	if e.Flags&FlagSell != 0 {
		return transaction.Sell
	}
	return transaction.Buy
}

// StopOrderEvent is the terminal's push event for a stop order.
type StopOrderEvent struct {
	OrderNum        uint64          `json:"order_num"`
	TransID         int64           `json:"trans_id"`
	ClassCode       string          `json:"class_code"`
	SecCode         string          `json:"sec_code"`
	Account         string          `json:"account"`
	Price           decimal.Decimal `json:"price"`
	ConditionPrice  decimal.Decimal `json:"condition_price"`
	ConditionPrice2 decimal.Decimal `json:"condition_price2"`
	Qty             int64           `json:"qty"`
	Balance         int64           `json:"balance"`
	Flags           uint32          `json:"flags"`
	StopFlags       uint32          `json:"stop_flags"`
	Kind            int             `json:"stop_order_type"`
	RejectReason    string          `json:"reject_reason"`
	// limit order issued alongside this stop (linked variant)
	CoOrderNum uint64 `json:"co_order_num"`
	// limit order the terminal placed when the condition fired
	LinkedOrder uint64 `json:"linked_order"`
}

func (e *StopOrderEvent) TransactionID() int64 { return e.TransID }

func (e *StopOrderEvent) RawState() RawState {
	return rawFromFlags(e.Flags, e.RejectReason)
}

func (e *StopOrderEvent) Operation() transaction.Operation {
	if e.Flags&FlagSell != 0 {
		return transaction.Sell
	}
	return transaction.Buy
}

// Variant maps the terminal's numeric stop-order type onto the closed
// variant set.
func (e *StopOrderEvent) Variant() StopVariant {
	switch e.Kind {
	case 2:
		return VariantWithLinkedOrder
	case 6:
		return VariantTakeProfit
	case 9:
		return VariantTakeProfitStopLimit
	default:
		return VariantSimpleStop
	}
}

// TradeEvent is one fill report. Trades referencing an order number
// not yet in the ledger are held as advance trades.
type TradeEvent struct {
	TradeNum  uint64          `json:"trade_num"`
	OrderNum  uint64          `json:"order_num"`
	TransID   int64           `json:"trans_id"`
	ClassCode string          `json:"class_code"`
	SecCode   string          `json:"sec_code"`
	Price     decimal.Decimal `json:"price"`
	Qty       int64           `json:"qty"`
	Flags     uint32          `json:"flags"`
}

func (e *TradeEvent) TransactionID() int64 { return e.TransID }
