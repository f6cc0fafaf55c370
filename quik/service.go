package quik

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/x5500/QUIKSharp-sub000/engine"
	"github.com/x5500/QUIKSharp-sub000/journal"
	"github.com/x5500/QUIKSharp-sub000/ledger"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"github.com/x5500/QUIKSharp-sub000/transport"
	"github.com/xyths/hs"
	"github.com/xyths/hs/broadcast"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is the bridge between application code and the terminal:
// typed order management over the asynchronous request/reply channel,
// with out-of-band callback events.
type Service struct {
	config Config
	Sugar  *zap.SugaredLogger
	db     *mongo.Database
	robots []broadcast.Broadcaster

	channel   transport.Channel
	id        *transaction.Identifier
	table     *transaction.PendingTable
	submitter *transaction.Submitter
	book      *ledger.Book
	notifier  *engine.Notifier
	engine    *engine.Engine
	journal   *journal.Journal
}

// NewService reads the JSON config and wires a service around a TCP
// channel to the terminal.
func NewService(ctx context.Context, configFilename string) (*Service, error) {
	cfg := Config{}
	if err := hs.ParseJsonConfig(configFilename, &cfg); err != nil {
		return nil, err
	}
	s := &Service{config: cfg}
	if err := s.initLogger(); err != nil {
		return nil, err
	}
	if cfg.Mongo != nil {
		db, err := hs.ConnectMongo(ctx, *cfg.Mongo)
		if err != nil {
			return nil, err
		}
		s.db = db
	}
	s.initRobots()
	s.channel = transport.NewTCPChannel(cfg.Transport, s.Sugar)
	s.wire()
	s.Sugar.Info("service initialized")
	return s, nil
}

// NewServiceWithChannel wires a service around an externally supplied
// channel. Used by tests and by applications with their own transport.
func NewServiceWithChannel(cfg Config, ch transport.Channel, sugar *zap.SugaredLogger) *Service {
	s := &Service{config: cfg, Sugar: sugar, channel: ch}
	s.wire()
	return s
}

func (s *Service) initLogger() error {
	l, err := hs.NewZapLogger(s.config.Log)
	if err != nil {
		return err
	}
	s.Sugar = l.Sugar()
	s.Sugar.Info("logger initialized")
	return nil
}

func (s *Service) initRobots() {
	for _, conf := range s.config.Robots {
		s.robots = append(s.robots, broadcast.New(conf))
	}
}

func (s *Service) wire() {
	s.id = transaction.NewIdentifier(nil)
	s.table = transaction.NewPendingTable(s.Sugar)
	s.submitter = transaction.NewSubmitter(s.id, s.table, &channelSender{ch: s.channel}, s.Sugar)
	s.notifier = engine.NewNotifier(s.Sugar)
	s.book = ledger.NewBook(s.notifier, s.table, s.Sugar)
	s.engine = engine.New(s.config.Engine, s.submitter, s.book, s.channel, s.notifier, s.Sugar)

	if s.db != nil {
		s.journal = journal.New(s.db, s.Sugar)
		s.notifier.SubscribeNewLimitOrder(func(o order.LimitOrder) {
			s.journal.RecordOrder(context.Background(), o)
		})
		s.notifier.SubscribeUpdateLimitOrder(func(o order.LimitOrder) {
			s.journal.RecordOrder(context.Background(), o)
		})
		s.notifier.SubscribeNewStopOrder(func(o order.StopOrder) {
			s.journal.RecordStopOrder(context.Background(), o)
		})
		s.notifier.SubscribeUpdateStopOrder(func(o order.StopOrder) {
			s.journal.RecordStopOrder(context.Background(), o)
		})
		s.notifier.SubscribeTrade(func(t order.TradeEvent) {
			s.journal.RecordTrade(context.Background(), t)
		})
	}
	if len(s.robots) > 0 {
		s.notifier.SubscribeTransactionError(func(fail engine.TransactionFailure) {
			s.Broadcast("transaction %d failed: %s, code %d, %s",
				fail.TransID, fail.Result, fail.ErrorCode, fail.Message)
		})
	}

	s.channel.Subscribe(transport.EventTransReply, s.onTransReply)
	s.channel.Subscribe(transport.EventOrder, s.onOrder)
	s.channel.Subscribe(transport.EventStopOrder, s.onStopOrder)
	s.channel.Subscribe(transport.EventTrade, s.onTrade)
	s.channel.Subscribe(transport.EventBridgeUp, s.onBridgeUp)
	s.channel.Subscribe(transport.EventBridgeDown, s.onBridgeDown)
}

// Run pumps the channel, the action worker and the callback
// dispatcher until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.notifier.Run(ctx) })
	g.Go(func() error { return s.engine.Run(ctx) })
	if r, ok := s.channel.(interface{ Run(context.Context) error }); ok {
		g.Go(func() error { return r.Run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) Close(ctx context.Context) {
	s.table.CancelAll()
	_ = s.channel.Close()
	if s.db != nil {
		_ = s.db.Client().Disconnect(ctx)
	}
	if s.Sugar != nil {
		s.Sugar.Info("service stopped")
		_ = s.Sugar.Sync()
	}
}

func (s *Service) IsConnected() bool {
	return s.channel.Connected()
}

// Book exposes read access to the ledger.
func (s *Service) Book() *ledger.Book {
	return s.book
}

func (s *Service) Broadcast(format string, a ...interface{}) {
	message := fmt.Sprintf(format, a...)
	timeStr := time.Now().Format("2006-01-02 15:04:05")
	msg := fmt.Sprintf("%s [quik] %s", timeStr, message)
	for _, robot := range s.robots {
		if err := robot.SendText(msg); err != nil {
			s.Sugar.Infof("broadcast error: %s", err)
		}
	}
}

// event routing

func (s *Service) onTransReply(data json.RawMessage) {
	var r transaction.Reply
	if err := json.Unmarshal(data, &r); err != nil {
		s.Sugar.Warnf("bad transaction reply dropped: %s", err)
		return
	}
	if !r.Terminal() {
		s.Sugar.Debugf("intermediate reply for transaction %d, status %d", r.TransID, r.Status)
		return
	}
	id := s.id.IdentifyReply(&r)
	if !s.table.Resolve(id, transaction.FromReply(&r)) {
		s.Sugar.Infof("orphaned reply for transaction %d dropped, status %d", id, r.Status)
	}
}

func (s *Service) onOrder(data json.RawMessage) {
	var ev order.OrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.Sugar.Warnf("bad order event dropped: %s", err)
		return
	}
	s.book.RecordOrderEvent(&ev)
}

func (s *Service) onStopOrder(data json.RawMessage) {
	var ev order.StopOrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.Sugar.Warnf("bad stop-order event dropped: %s", err)
		return
	}
	s.book.RecordStopOrderEvent(&ev)
}

func (s *Service) onTrade(data json.RawMessage) {
	var ev order.TradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		s.Sugar.Warnf("bad trade event dropped: %s", err)
		return
	}
	s.book.RecordTradeEvent(&ev)
}

func (s *Service) onBridgeUp(json.RawMessage) {
	// reconciliation issues requests; run off the receive loop
	go s.reconcile(context.Background())
}

func (s *Service) onBridgeDown(json.RawMessage) {
	s.Sugar.Warn("bridge disconnected")
}

// reconcile fetches the full order/stop-order/trade tables and replays
// them through the live event path with callbacks suppressed, so cold
// start and steady state reconcile identically.
func (s *Service) reconcile(ctx context.Context) {
	var orders []order.OrderEvent
	var stops []order.StopOrderEvent
	var trades []order.TradeEvent
	if err := s.fetch(ctx, "get_orders", &orders); err != nil {
		s.Sugar.Errorf("fetch orders: %s", err)
		return
	}
	if err := s.fetch(ctx, "get_stop_orders", &stops); err != nil {
		s.Sugar.Errorf("fetch stop orders: %s", err)
		return
	}
	if err := s.fetch(ctx, "get_trades", &trades); err != nil {
		s.Sugar.Errorf("fetch trades: %s", err)
		return
	}
	s.book.ReplaySnapshot(orders, stops, trades)
}

func (s *Service) fetch(ctx context.Context, cmd string, out interface{}) error {
	resp, err := s.channel.SendRequest(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}

// public order API

func (s *Service) PlaceOrder(ctx context.Context, o *order.LimitOrder, retries int) engine.ActionResult {
	return s.engine.PlaceOrder(ctx, o, retries)
}

func (s *Service) PlaceStopOrder(ctx context.Context, o *order.StopOrder, retries int) engine.ActionResult {
	return s.engine.PlaceStopOrder(ctx, o, retries)
}

func (s *Service) MoveOrder(ctx context.Context, o *order.LimitOrder, newPrice decimal.Decimal, newQty int64, retries int) engine.ActionResult {
	return s.engine.MoveOrder(ctx, o, newPrice, newQty, retries)
}

func (s *Service) KillOrder(ctx context.Context, o *order.LimitOrder, retries int) engine.ActionResult {
	return s.engine.KillOrder(ctx, o, retries)
}

func (s *Service) KillStopOrder(ctx context.Context, o *order.StopOrder, retries int) engine.ActionResult {
	return s.engine.KillStopOrder(ctx, o, retries)
}

func (s *Service) RequestPlaceOrder(o *order.LimitOrder, retries int) error {
	return s.engine.RequestPlaceOrder(o, retries)
}

func (s *Service) RequestPlaceStopOrder(o *order.StopOrder, retries int) error {
	return s.engine.RequestPlaceStopOrder(o, retries)
}

func (s *Service) RequestMoveOrder(o *order.LimitOrder, newPrice decimal.Decimal, newQty int64, retries int) error {
	return s.engine.RequestMoveOrder(o, newPrice, newQty, retries)
}

func (s *Service) RequestKillOrder(o *order.LimitOrder, retries int) error {
	return s.engine.RequestKillOrder(o, retries)
}

func (s *Service) RequestKillStopOrder(o *order.StopOrder, retries int) error {
	return s.engine.RequestKillStopOrder(o, retries)
}

// callback registration

func (s *Service) OnNewLimitOrder(f func(order.LimitOrder)) {
	s.notifier.SubscribeNewLimitOrder(f)
}

func (s *Service) OnUpdateLimitOrder(f func(order.LimitOrder)) {
	s.notifier.SubscribeUpdateLimitOrder(f)
}

func (s *Service) OnNewStopOrder(f func(order.StopOrder)) {
	s.notifier.SubscribeNewStopOrder(f)
}

func (s *Service) OnUpdateStopOrder(f func(order.StopOrder)) {
	s.notifier.SubscribeUpdateStopOrder(f)
}

func (s *Service) OnTrade(f func(order.TradeEvent)) {
	s.notifier.SubscribeTrade(f)
}

func (s *Service) OnTransactionError(f func(engine.TransactionFailure)) {
	s.notifier.SubscribeTransactionError(f)
}

// channelSender adapts the transport channel to the submitter's
// synchronous-ack contract.
type channelSender struct {
	ch transport.Channel
}

func (c *channelSender) SendTransaction(ctx context.Context, tx *transaction.Transaction) (bool, error) {
	resp, err := c.ch.SendRequest(ctx, "sendTransaction", tx)
	if err != nil {
		var luaErr *transaction.LuaError
		if errors.As(err, &luaErr) {
			// the bridge script checked the transaction and rejected
			// it; a script runtime failure reports differently
			if strings.Contains(strings.ToLower(luaErr.Msg), "exception") {
				return false, luaErr
			}
			return false, &transaction.TransactionError{Msg: luaErr.Msg}
		}
		return false, err
	}
	var ok bool
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &ok); err != nil {
			return false, errors.Wrap(err, "bad sendTransaction response")
		}
	}
	return ok, nil
}

func (c *channelSender) Connected() bool {
	return c.ch.Connected()
}
