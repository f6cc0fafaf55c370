package transaction

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Action is the ACTION field of a terminal transaction.
type Action string

const (
	ActionNewOrder      Action = "NEW_ORDER"
	ActionNewStopOrder  Action = "NEW_STOP_ORDER"
	ActionKillOrder     Action = "KILL_ORDER"
	ActionKillStopOrder Action = "KILL_STOP_ORDER"
	ActionMoveOrders    Action = "MOVE_ORDERS"
)

type Operation string

const (
	Buy  Operation = "B"
	Sell Operation = "S"
)

type ExecutionCondition string

const (
	PutInQueue  ExecutionCondition = "PUT_IN_QUEUE"
	FillOrKill  ExecutionCondition = "FILL_OR_KILL"
	KillBalance ExecutionCondition = "KILL_BALANCE"
)

type StopOrderKind string

const (
	SimpleStopOrder        StopOrderKind = "SIMPLE_STOP_ORDER"
	TakeProfitStopOrder    StopOrderKind = "TAKE_PROFIT_STOP_ORDER"
	TakeProfitAndStopLimit StopOrderKind = "TAKE_PROFIT_AND_STOP_LIMIT_ORDER"
	WithLinkedLimitOrder   StopOrderKind = "WITH_LINKED_LIMIT_ORDER"
)

// Transaction is one order/cancel/move instruction for the terminal.
// Field names follow the terminal's transaction dictionary; empty
// fields are omitted from the wire message.
type Transaction struct {
	TransID    int64  `json:"TRANS_ID,string,omitempty"`
	Action     Action `json:"ACTION"`
	ClassCode  string `json:"CLASSCODE,omitempty"`
	SecCode    string `json:"SECCODE,omitempty"`
	Account    string `json:"ACCOUNT,omitempty"`
	ClientCode string `json:"CLIENT_CODE,omitempty"`

	Operation Operation       `json:"OPERATION,omitempty"`
	Type      string          `json:"TYPE,omitempty"` // "L" limit, "M" market
	Price     decimal.Decimal `json:"PRICE,omitempty"`
	Quantity  int64           `json:"QUANTITY,string,omitempty"`

	ExecutionCondition ExecutionCondition `json:"EXECUTION_CONDITION,omitempty"`
	ExpiryDate         string             `json:"EXPIRY_DATE,omitempty"`

	// stop-order fields
	StopOrderKind    StopOrderKind   `json:"STOP_ORDER_KIND,omitempty"`
	StopPrice        decimal.Decimal `json:"STOPPRICE,omitempty"`
	StopPrice2       decimal.Decimal `json:"STOPPRICE2,omitempty"`
	Offset           decimal.Decimal `json:"OFFSET,omitempty"`
	OffsetUnits      string          `json:"OFFSET_UNITS,omitempty"`
	Spread           decimal.Decimal `json:"SPREAD,omitempty"`
	SpreadUnits      string          `json:"SPREAD_UNITS,omitempty"`
	LinkedOrderPrice decimal.Decimal `json:"LINKED_ORDER_PRICE,omitempty"`
	MarketStopLimit  string          `json:"MARKET_STOP_LIMIT,omitempty"`
	MarketTakeProfit string          `json:"MARKET_TAKE_PROFIT,omitempty"`

	// kill/move fields
	OrderKey              string `json:"ORDER_KEY,omitempty"`
	StopOrderKey          string `json:"STOP_ORDER_KEY,omitempty"`
	Mode                  string `json:"MODE,omitempty"`
	FirstOrderNumber      string `json:"FIRST_ORDER_NUMBER,omitempty"`
	FirstOrderNewPrice    string `json:"FIRST_ORDER_NEW_PRICE,omitempty"`
	FirstOrderNewQuantity string `json:"FIRST_ORDER_NEW_QUANTITY,omitempty"`
}

// Reply is the asynchronous acknowledgment the terminal pushes for a
// sent transaction, distinct from order and trade events.
type Reply struct {
	TransID     int64  `json:"trans_id"`
	Status      int    `json:"status"`
	ResultMsg   string `json:"result_msg"`
	OrderNum    uint64 `json:"order_num"`
	Balance     int64  `json:"balance"`
	Quantity    int64  `json:"quantity"`
	Uid         int64  `json:"uid"`
	ErrorCode   int64  `json:"error_code"`
	ErrorSource int    `json:"error_source"`
}

// Reply status codes as the terminal defines them. Statuses below
// StatusExecuted are intermediate routing acknowledgments and never
// resolve a pending transaction.
const (
	StatusSent           = 0
	StatusReceivedByGate = 1
	StatusReceivedByDealer = 2
	StatusExecuted       = 3
	StatusNotExecuted    = 4
	StatusFailedCheck    = 5
	StatusNotEnoughFunds = 6
	StatusNotSupported   = 10
	StatusBadSignature   = 11
	StatusTimeout        = 12
	StatusCrossTrade     = 13
)

// Terminal reports whether the reply status is final for its
// transaction. Intermediate statuses keep the awaiter pending.
func (r *Reply) Terminal() bool {
	return r.Status >= StatusExecuted
}

func (r *Reply) Success() bool {
	return r.Status == StatusExecuted
}

// Result classifies the outcome of one transaction submission. Every
// downstream retry/abort decision switches on this classification.
type Result int

const (
	Success Result = iota
	LuaException
	TransactionException
	QuikError
	TimeoutWaitReply
	SendReceiveTimeout
	FailedToSend
	NoConnection
	Cancelled
)

var resultNames = map[Result]string{
	Success:              "Success",
	LuaException:         "LuaException",
	TransactionException: "TransactionException",
	QuikError:            "QuikError",
	TimeoutWaitReply:     "TimeoutWaitReply",
	SendReceiveTimeout:   "SendReceiveTimeout",
	FailedToSend:         "FailedToSend",
	NoConnection:         "NoConnection",
	Cancelled:            "Cancelled",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Retryable reports whether the result class allows another attempt.
// Connectivity loss is retryable but gated on a reconnect signal
// rather than a backoff delay.
func (r Result) Retryable() bool {
	switch r {
	case TimeoutWaitReply, SendReceiveTimeout, NoConnection:
		return true
	default:
		return false
	}
}

// Outcome is the resolved result of one submission: the winning
// classification plus whatever the resolving event carried.
type Outcome struct {
	Result    Result
	Status    int
	ErrorCode int64
	ResultMsg string
	OrderNum  uint64
	Err       error
}

// FromReply maps a terminal reply to a submission outcome.
func FromReply(r *Reply) Outcome {
	o := Outcome{
		Status:    r.Status,
		ErrorCode: r.ErrorCode,
		ResultMsg: r.ResultMsg,
		OrderNum:  r.OrderNum,
	}
	if r.Success() {
		o.Result = Success
	} else {
		o.Result = QuikError
	}
	return o
}
