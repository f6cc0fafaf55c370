package order

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// LinkRole describes why a limit order is linked to a stop order.
type LinkRole int

const (
	RoleNone LinkRole = iota
	// RoleChildOfStop: the terminal placed this limit order when the
	// linked stop order triggered.
	RoleChildOfStop
	// RoleCoOrder: this limit order was issued alongside the linked
	// stop order (stop-with-linked-order variant).
	RoleCoOrder
)

// LimitOrder is a plain exchange order, limit or market.
type LimitOrder struct {
	Order

	ExecCondition transaction.ExecutionCondition
	Market        bool

	// stop order that caused this order's placement, and our role in
	// that link; 0 when standalone
	LinkedStopNum uint64
	LinkRole      LinkRole

	// stop order whose fate depends on this order; 0 when none
	DependentStopNum uint64
}

func NewLimitOrder(classCode, secCode string, op transaction.Operation, price decimal.Decimal, qty int64) *LimitOrder {
	return &LimitOrder{
		Order: Order{
			ClassCode: classCode,
			SecCode:   secCode,
			Operation: op,
			Price:     price,
			Qty:       qty,
			Balance:   qty,
		},
		ExecCondition: transaction.PutInQueue,
	}
}

// PlaceTransaction builds the NEW_ORDER instruction for this order.
func (o *LimitOrder) PlaceTransaction() *transaction.Transaction {
	tx := &transaction.Transaction{
		TransID:            o.TransID,
		Action:             transaction.ActionNewOrder,
		ClassCode:          o.ClassCode,
		SecCode:            o.SecCode,
		Account:            o.Account,
		ClientCode:         o.ClientCode,
		Operation:          o.Operation,
		Quantity:           o.Qty,
		ExecutionCondition: o.ExecCondition,
		ExpiryDate:         o.Expiry,
	}
	if o.Market {
		tx.Type = "M"
	} else {
		tx.Type = "L"
		tx.Price = o.Price
	}
	return tx
}

// KillTransaction builds the KILL_ORDER instruction. Only valid once
// the order number is known.
func (o *LimitOrder) KillTransaction() *transaction.Transaction {
	return &transaction.Transaction{
		Action:    transaction.ActionKillOrder,
		ClassCode: o.ClassCode,
		SecCode:   o.SecCode,
		OrderKey:  strconv.FormatUint(o.OrderNum, 10),
	}
}

// MoveTransaction builds the MOVE_ORDERS instruction replacing this
// order with a new price and quantity. The exchange issues a fresh
// order number for the replacement.
func (o *LimitOrder) MoveTransaction(newPrice decimal.Decimal, newQty int64) *transaction.Transaction {
	return &transaction.Transaction{
		Action:                transaction.ActionMoveOrders,
		ClassCode:             o.ClassCode,
		SecCode:               o.SecCode,
		Mode:                  "1",
		FirstOrderNumber:      strconv.FormatUint(o.OrderNum, 10),
		FirstOrderNewPrice:    newPrice.String(),
		FirstOrderNewQuantity: strconv.FormatInt(newQty, 10),
	}
}
