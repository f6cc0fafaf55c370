package quik

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/x5500/QUIKSharp-sub000/engine"
	"github.com/x5500/QUIKSharp-sub000/order"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"github.com/x5500/QUIKSharp-sub000/transport"
	"go.uber.org/zap"
)

// fakeChannel plays the bridge: requests go to a scripted responder,
// push events are injected directly into the subscribed handlers.
type fakeChannel struct {
	mu        sync.Mutex
	subs      map[string][]transport.Handler
	connected bool
	up        chan struct{}
	requests  []string
	respond   func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error)
}

func newFakeChannel() *fakeChannel {
	up := make(chan struct{})
	close(up)
	return &fakeChannel{
		subs:      make(map[string][]transport.Handler),
		connected: true,
		up:        up,
	}
}

func (c *fakeChannel) SendRequest(ctx context.Context, cmd string, payload interface{}) (*transport.Envelope, error) {
	c.mu.Lock()
	c.requests = append(c.requests, cmd)
	respond := c.respond
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil, transaction.ErrNotConnected
	}
	if respond == nil {
		return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`true`)}, nil
	}
	return respond(c, cmd, payload)
}

func (c *fakeChannel) Subscribe(event string, h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[event] = append(c.subs[event], h)
}

func (c *fakeChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeChannel) ReconnectSignal() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *fakeChannel) Close() error { return nil }

func (c *fakeChannel) push(t *testing.T, event string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	c.mu.Lock()
	handlers := append([]transport.Handler(nil), c.subs[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

func newTestService(t *testing.T) (*Service, *fakeChannel) {
	ch := newFakeChannel()
	cfg := Config{Engine: engine.Config{TimeoutMs: 500, DelayOnTimeoutMs: 10}}
	s := NewServiceWithChannel(cfg, ch, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(cancel)
	return s, ch
}

// ackAndReply acknowledges sendTransaction and pushes the terminal
// reply for it before returning.
func ackAndReply(t *testing.T, orderNum uint64) func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
	return func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		require.Equal(t, "sendTransaction", cmd)
		tx, ok := payload.(*transaction.Transaction)
		require.True(t, ok)
		c.push(t, transport.EventTransReply, map[string]interface{}{
			"trans_id":  tx.TransID,
			"status":    transaction.StatusExecuted,
			"order_num": orderNum,
		})
		return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`true`)}, nil
	}
}

func TestService_PlaceAndFill(t *testing.T) {
	s, ch := newTestService(t)

	filled := make(chan order.LimitOrder, 4)
	s.OnUpdateLimitOrder(func(o order.LimitOrder) {
		if o.State == order.Filled {
			filled <- o
		}
	})
	tradeSeen := make(chan order.TradeEvent, 4)
	s.OnTrade(func(tr order.TradeEvent) { tradeSeen <- tr })

	ch.respond = ackAndReply(t, 555)

	o := order.NewLimitOrder("TQBR", "SBER", transaction.Buy, decimal.NewFromInt(100), 10)
	res := s.PlaceOrder(context.Background(), o, 0)
	require.True(t, res.Success())
	require.EqualValues(t, 555, res.Order.OrderNum)
	require.Equal(t, order.Placed, res.Order.State)

	ch.push(t, transport.EventTrade, map[string]interface{}{
		"trade_num": 9001, "order_num": 555, "price": 100, "qty": 4,
	})
	ch.push(t, transport.EventTrade, map[string]interface{}{
		"trade_num": 9002, "order_num": 555, "price": 100, "qty": 6,
	})

	select {
	case got := <-filled:
		require.EqualValues(t, 10, got.Traded)
		require.EqualValues(t, 0, got.Balance)
	case <-time.After(2 * time.Second):
		t.Fatal("no filled callback")
	}

	// duplicate delivery changes nothing
	ch.push(t, transport.EventTrade, map[string]interface{}{
		"trade_num": 9002, "order_num": 555, "price": 100, "qty": 6,
	})
	<-tradeSeen
	<-tradeSeen
	select {
	case <-tradeSeen:
		t.Fatal("duplicate trade dispatched")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-filled:
		t.Fatal("second filled callback")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_IntermediateRepliesDoNotResolve(t *testing.T) {
	s, ch := newTestService(t)

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		tx := payload.(*transaction.Transaction)
		for _, status := range []int{transaction.StatusSent, transaction.StatusReceivedByGate} {
			c.push(t, transport.EventTransReply, map[string]interface{}{
				"trans_id": tx.TransID, "status": status,
			})
		}
		c.push(t, transport.EventTransReply, map[string]interface{}{
			"trans_id": tx.TransID, "status": transaction.StatusExecuted, "order_num": 600,
		})
		return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`true`)}, nil
	}

	o := order.NewLimitOrder("TQBR", "SBER", transaction.Buy, decimal.NewFromInt(100), 10)
	res := s.PlaceOrder(context.Background(), o, 0)
	require.True(t, res.Success())
	require.EqualValues(t, 600, res.Order.OrderNum)
}

func TestService_RejectedReplyFailsPlacement(t *testing.T) {
	s, ch := newTestService(t)

	failures := make(chan engine.TransactionFailure, 1)
	s.OnTransactionError(func(f engine.TransactionFailure) { failures <- f })

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		tx := payload.(*transaction.Transaction)
		c.push(t, transport.EventTransReply, map[string]interface{}{
			"trans_id":   tx.TransID,
			"status":     transaction.StatusNotEnoughFunds,
			"result_msg": "not enough funds",
		})
		return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`true`)}, nil
	}

	o := order.NewLimitOrder("TQBR", "SBER", transaction.Buy, decimal.NewFromInt(100), 10)
	res := s.PlaceOrder(context.Background(), o, 2)
	require.False(t, res.Success())
	require.Equal(t, transaction.QuikError, res.Outcome.Result)
	require.Equal(t, order.ErrorRejected, o.State)

	select {
	case f := <-failures:
		require.Equal(t, "not enough funds", f.Message)
		require.Equal(t, transaction.StatusNotEnoughFunds, f.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no transaction-error callback")
	}
}

func TestService_BridgeUpReconciles(t *testing.T) {
	s, ch := newTestService(t)

	var cbCount int
	var cbMu sync.Mutex
	count := func() { cbMu.Lock(); cbCount++; cbMu.Unlock() }
	s.OnNewLimitOrder(func(order.LimitOrder) { count() })
	s.OnUpdateLimitOrder(func(order.LimitOrder) { count() })
	s.OnTrade(func(order.TradeEvent) { count() })

	orders, err := json.Marshal([]order.OrderEvent{
		{OrderNum: 555, TransID: 1, ClassCode: "TQBR", SecCode: "SBER",
			Price: decimal.NewFromInt(100), Qty: 10, Balance: 6, Flags: order.FlagActive},
	})
	require.NoError(t, err)
	trades, err := json.Marshal([]order.TradeEvent{
		{TradeNum: 1, OrderNum: 555, Price: decimal.NewFromInt(100), Qty: 4},
	})
	require.NoError(t, err)

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		switch cmd {
		case "get_orders":
			return &transport.Envelope{Cmd: cmd, Data: orders}, nil
		case "get_stop_orders":
			return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`[]`)}, nil
		case "get_trades":
			return &transport.Envelope{Cmd: cmd, Data: trades}, nil
		}
		return &transport.Envelope{Cmd: cmd}, nil
	}

	ch.push(t, transport.EventBridgeUp, nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if o, ok := s.Book().GetLimitOrder(555); ok {
			require.Equal(t, order.Placed, o.State)
			require.EqualValues(t, 4, o.Traded)
			require.EqualValues(t, 6, o.Balance)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reconciliation did not populate the ledger")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// replayed snapshot rows fire no callbacks
	time.Sleep(50 * time.Millisecond)
	cbMu.Lock()
	defer cbMu.Unlock()
	require.Zero(t, cbCount)
}

func TestChannelSender_ErrorClassification(t *testing.T) {
	ch := newFakeChannel()
	sender := &channelSender{ch: ch}

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		return nil, &transaction.LuaError{Msg: "Exception: field CLASSCODE"}
	}
	_, err := sender.SendTransaction(context.Background(), &transaction.Transaction{})
	var luaErr *transaction.LuaError
	require.True(t, errors.As(err, &luaErr))

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		return nil, &transaction.LuaError{Msg: "order price out of range"}
	}
	_, err = sender.SendTransaction(context.Background(), &transaction.Transaction{})
	var txErr *transaction.TransactionError
	require.True(t, errors.As(err, &txErr))

	ch.respond = func(c *fakeChannel, cmd string, payload interface{}) (*transport.Envelope, error) {
		return &transport.Envelope{Cmd: cmd, Data: json.RawMessage(`false`)}, nil
	}
	ok, err := sender.SendTransaction(context.Background(), &transaction.Transaction{})
	require.NoError(t, err)
	require.False(t, ok)
}
