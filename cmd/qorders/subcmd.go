package main

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"github.com/x5500/QUIKSharp-sub000/cmd/utils"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/quik"
	"github.com/x5500/QUIKSharp-sub000/transaction"
)

var (
	placeCommand = &cli.Command{
		Action: place,
		Name:   "place",
		Usage:  "Place a limit or market order",
		Flags: []cli.Flag{
			utils.ClassCodeFlag,
			utils.SecCodeFlag,
			utils.PriceFlag,
			utils.QuantityFlag,
			utils.SellFlag,
			utils.RetriesFlag,
		},
	}
	killCommand = &cli.Command{
		Action: kill,
		Name:   "kill",
		Usage:  "Cancel a placed order",
		Flags: []cli.Flag{
			utils.ClassCodeFlag,
			utils.SecCodeFlag,
			utils.OrderNumFlag,
			utils.RetriesFlag,
		},
	}
	watchCommand = &cli.Command{
		Action: watch,
		Name:   "watch",
		Usage:  "Print order and trade events as they arrive",
	}
)

func getService(ctx *cli.Context) (*quik.Service, error) {
	return quik.NewService(ctx.Context, ctx.String(utils.ConfigFlag.Name))
}

func place(ctx *cli.Context) error {
	s, err := getService(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx.Context)
	go func() { _ = s.Run(ctx.Context) }()

	op := transaction.Buy
	if ctx.Bool(utils.SellFlag.Name) {
		op = transaction.Sell
	}
	price, err := decimal.NewFromString(ctx.String(utils.PriceFlag.Name))
	if err != nil {
		return err
	}
	o := order.NewLimitOrder(
		ctx.String(utils.ClassCodeFlag.Name),
		ctx.String(utils.SecCodeFlag.Name),
		op, price, ctx.Int64(utils.QuantityFlag.Name),
	)
	o.Market = price.IsZero()

	r := s.PlaceOrder(ctx.Context, o, ctx.Int(utils.RetriesFlag.Name))
	if r.Err != nil {
		return r.Err
	}
	s.Sugar.Infof("result: %s, order number %d", r.Outcome.Result, r.Order.OrderNum)
	return nil
}

func kill(ctx *cli.Context) error {
	s, err := getService(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx.Context)
	go func() { _ = s.Run(ctx.Context) }()

	o := order.NewLimitOrder(
		ctx.String(utils.ClassCodeFlag.Name),
		ctx.String(utils.SecCodeFlag.Name),
		transaction.Buy, decimal.Zero, 0,
	)
	o.OrderNum = ctx.Uint64(utils.OrderNumFlag.Name)

	r := s.KillOrder(ctx.Context, o, ctx.Int(utils.RetriesFlag.Name))
	if r.Err != nil {
		return r.Err
	}
	s.Sugar.Infof("result: %s", r.Outcome.Result)
	return nil
}

func watch(ctx *cli.Context) error {
	s, err := getService(ctx)
	if err != nil {
		return err
	}
	defer s.Close(ctx.Context)

	s.OnNewLimitOrder(func(o order.LimitOrder) {
		s.Sugar.Infof("new order %d: %s %s@%s x%d, %s",
			o.OrderNum, o.Operation, o.SecCode, o.Price, o.Qty, o.State)
	})
	s.OnUpdateLimitOrder(func(o order.LimitOrder) {
		s.Sugar.Infof("order %d: %s, traded %d, remaining %d",
			o.OrderNum, o.State, o.Traded, o.Balance)
	})
	s.OnNewStopOrder(func(o order.StopOrder) {
		s.Sugar.Infof("new stop order %d: %s condition %s", o.OrderNum, o.Variant, o.ConditionPrice)
	})
	s.OnUpdateStopOrder(func(o order.StopOrder) {
		s.Sugar.Infof("stop order %d: %s", o.OrderNum, o.State)
	})
	s.OnTrade(func(t order.TradeEvent) {
		s.Sugar.Infof("trade %d: order %d, %d @ %s", t.TradeNum, t.OrderNum, t.Qty, t.Price)
	})

	err = s.Run(ctx.Context)
	// give queued callbacks a moment on shutdown
	time.Sleep(100 * time.Millisecond)
	return err
}
