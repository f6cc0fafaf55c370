package order

import (
	"strconv"

	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

// StopVariant is the closed set of stop-order kinds. Every decision
// point (transaction construction, state mapping, linkage) switches
// exhaustively over it.
type StopVariant int

const (
	VariantSimpleStop StopVariant = iota
	VariantTakeProfit
	VariantTakeProfitStopLimit
	VariantWithLinkedOrder
)

var variantNames = map[StopVariant]string{
	VariantSimpleStop:          "SimpleStop",
	VariantTakeProfit:          "TakeProfit",
	VariantTakeProfitStopLimit: "TakeProfitStopLimit",
	VariantWithLinkedOrder:     "WithLinkedOrder",
}

func (v StopVariant) String() string {
	if n, ok := variantNames[v]; ok {
		return n
	}
	return "StopVariant(" + strconv.Itoa(int(v)) + ")"
}

func (v StopVariant) kind() transaction.StopOrderKind {
	switch v {
	case VariantSimpleStop:
		return transaction.SimpleStopOrder
	case VariantTakeProfit:
		return transaction.TakeProfitStopOrder
	case VariantTakeProfitStopLimit:
		return transaction.TakeProfitAndStopLimit
	case VariantWithLinkedOrder:
		return transaction.WithLinkedLimitOrder
	default:
		return transaction.SimpleStopOrder
	}
}

// StopOrder is a conditional order. Completion is two-phase: a stop
// order the terminal reports completed is only Filled once the limit
// order it spawned (or its co-order, for the linked variant) reaches a
// terminal state itself; until then it sits in Executed.
type StopOrder struct {
	Order

	Variant StopVariant

	// condition prices; ConditionPrice2 only for the TPSL variant
	ConditionPrice  decimal.Decimal
	ConditionPrice2 decimal.Decimal
	// price of the limit order placed on activation
	DealPrice decimal.Decimal

	// take-profit trailing parameters
	Offset      decimal.Decimal
	OffsetUnits string
	Spread      decimal.Decimal
	SpreadUnits string

	// limit order issued alongside this stop (WithLinkedOrder); 0
	// until known
	CoOrderNum   uint64
	CoOrderPrice decimal.Decimal

	// limit order the terminal placed when the condition fired; 0
	// until known
	ChildLimitNum uint64

	// last terminal-reported stop-specific flags
	StopFlags uint32
}

func NewStopOrder(variant StopVariant, classCode, secCode string, op transaction.Operation, conditionPrice, dealPrice decimal.Decimal, qty int64) *StopOrder {
	return &StopOrder{
		Order: Order{
			ClassCode: classCode,
			SecCode:   secCode,
			Operation: op,
			Price:     dealPrice,
			Qty:       qty,
			Balance:   qty,
		},
		Variant:        variant,
		ConditionPrice: conditionPrice,
		DealPrice:      dealPrice,
	}
}

// PlaceTransaction builds the NEW_STOP_ORDER instruction. The field
// set differs per variant.
func (o *StopOrder) PlaceTransaction() *transaction.Transaction {
	tx := &transaction.Transaction{
		TransID:       o.TransID,
		Action:        transaction.ActionNewStopOrder,
		ClassCode:     o.ClassCode,
		SecCode:       o.SecCode,
		Account:       o.Account,
		ClientCode:    o.ClientCode,
		Operation:     o.Operation,
		Quantity:      o.Qty,
		StopOrderKind: o.kindField(),
		StopPrice:     o.ConditionPrice,
		Price:         o.DealPrice,
		ExpiryDate:    o.Expiry,
	}
	switch o.Variant {
	case VariantSimpleStop:
		// condition price plus deal price only
	case VariantTakeProfit:
		tx.Offset = o.Offset
		tx.OffsetUnits = o.OffsetUnits
		tx.Spread = o.Spread
		tx.SpreadUnits = o.SpreadUnits
		tx.MarketTakeProfit = marketFlag(o.DealPrice)
	case VariantTakeProfitStopLimit:
		tx.StopPrice2 = o.ConditionPrice2
		tx.Offset = o.Offset
		tx.OffsetUnits = o.OffsetUnits
		tx.Spread = o.Spread
		tx.SpreadUnits = o.SpreadUnits
		tx.MarketStopLimit = marketFlag(o.DealPrice)
	case VariantWithLinkedOrder:
		tx.LinkedOrderPrice = o.CoOrderPrice
	}
	return tx
}

func (o *StopOrder) kindField() transaction.StopOrderKind {
	return o.Variant.kind()
}

func marketFlag(dealPrice decimal.Decimal) string {
	if dealPrice.IsZero() {
		return "YES"
	}
	return "NO"
}

// KillTransaction builds the KILL_STOP_ORDER instruction. Only valid
// once the order number is known.
func (o *StopOrder) KillTransaction() *transaction.Transaction {
	return &transaction.Transaction{
		Action:       transaction.ActionKillStopOrder,
		ClassCode:    o.ClassCode,
		SecCode:      o.SecCode,
		StopOrderKey: strconv.FormatUint(o.OrderNum, 10),
	}
}

// Linked reports the order number this stop order's completion depends
// on: the spawned child for most variants, the co-order for the linked
// variant when no child exists yet.
func (o *StopOrder) Linked() uint64 {
	switch o.Variant {
	case VariantWithLinkedOrder:
		if o.ChildLimitNum != 0 {
			return o.ChildLimitNum
		}
		return o.CoOrderNum
	default:
		return o.ChildLimitNum
	}
}
