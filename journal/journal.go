package journal

import (
	"context"
	"time"

	"github.com/x5500/QUIKSharp-sub000/order"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	collNameOrder     = "order"
	collNameStopOrder = "stopOrder"
	collNameTrade     = "trade"
)

// Journal persists every order and trade the ledger touches. It is
// optional; a nil *Journal is a no-op on every method.
type Journal struct {
	orders *mongo.Collection
	stops  *mongo.Collection
	trades *mongo.Collection
	Sugar  *zap.SugaredLogger
}

func New(db *mongo.Database, sugar *zap.SugaredLogger) *Journal {
	return &Journal{
		orders: db.Collection(collNameOrder),
		stops:  db.Collection(collNameStopOrder),
		trades: db.Collection(collNameTrade),
		Sugar:  sugar,
	}
}

// RecordOrder upserts the current shape of a limit order.
func (j *Journal) RecordOrder(ctx context.Context, o order.LimitOrder) {
	if j == nil {
		return
	}
	option := options.FindOneAndUpdate().SetUpsert(true)
	r := j.orders.FindOneAndUpdate(
		ctx,
		bson.D{{Key: "_id", Value: o.OrderNum}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "transId", Value: o.TransID},
				{Key: "classCode", Value: o.ClassCode},
				{Key: "secCode", Value: o.SecCode},
				{Key: "operation", Value: string(o.Operation)},
				{Key: "price", Value: o.Price.String()},
				{Key: "qty", Value: o.Qty},
				{Key: "traded", Value: o.Traded},
				{Key: "balance", Value: o.Balance},
				{Key: "state", Value: o.State.String()},
				{Key: "linkedStop", Value: o.LinkedStopNum},
				{Key: "updated", Value: time.Now()},
			}},
		},
		option,
	)
	if r.Err() != nil && r.Err() != mongo.ErrNoDocuments {
		j.Sugar.Errorf("journal order %d: %s", o.OrderNum, r.Err())
	}
}

// RecordStopOrder upserts the current shape of a stop order.
func (j *Journal) RecordStopOrder(ctx context.Context, s order.StopOrder) {
	if j == nil {
		return
	}
	option := options.FindOneAndUpdate().SetUpsert(true)
	r := j.stops.FindOneAndUpdate(
		ctx,
		bson.D{{Key: "_id", Value: s.OrderNum}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "transId", Value: s.TransID},
				{Key: "classCode", Value: s.ClassCode},
				{Key: "secCode", Value: s.SecCode},
				{Key: "operation", Value: string(s.Operation)},
				{Key: "variant", Value: s.Variant.String()},
				{Key: "conditionPrice", Value: s.ConditionPrice.String()},
				{Key: "price", Value: s.Price.String()},
				{Key: "qty", Value: s.Qty},
				{Key: "balance", Value: s.Balance},
				{Key: "state", Value: s.State.String()},
				{Key: "coOrder", Value: s.CoOrderNum},
				{Key: "childOrder", Value: s.ChildLimitNum},
				{Key: "updated", Value: time.Now()},
			}},
		},
		option,
	)
	if r.Err() != nil && r.Err() != mongo.ErrNoDocuments {
		j.Sugar.Errorf("journal stop order %d: %s", s.OrderNum, r.Err())
	}
}

// RecordTrade inserts one fill, tolerating re-delivery.
func (j *Journal) RecordTrade(ctx context.Context, t order.TradeEvent) {
	if j == nil {
		return
	}
	doc := bson.D{
		{Key: "_id", Value: t.TradeNum},
		{Key: "orderNum", Value: t.OrderNum},
		{Key: "secCode", Value: t.SecCode},
		{Key: "price", Value: t.Price.String()},
		{Key: "qty", Value: t.Qty},
		{Key: "date", Value: time.Now()},
	}
	if _, err := j.trades.InsertOne(ctx, doc); err != nil {
		if !isDuplicateError(err) {
			j.Sugar.Errorf("journal trade %d: %s", t.TradeNum, err)
		}
	}
}

func isDuplicateError(err error) bool {
	e, ok := err.(mongo.WriteException)
	if !ok {
		return false
	}
	if e.WriteConcernError == nil && len(e.WriteErrors) == 1 && e.WriteErrors[0].Code == 11000 {
		return true
	}
	return false
}
