package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxLineBytes = 1 << 20

type Config struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// optional second socket the bridge script pushes callbacks on;
	// 0 means callbacks share the request socket
	CallbackPort     int `json:"callbackPort"`
	RequestTimeoutMs int `json:"requestTimeoutMs"`
	ReconnectDelayMs int `json:"reconnectDelayMs"`
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c Config) reconnectDelay() time.Duration {
	if c.ReconnectDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// TCPChannel talks to the terminal's bridge script over newline/JSON
// TCP sockets, reconnecting with a fixed delay until its context ends.
type TCPChannel struct {
	cfg   Config
	Sugar *zap.SugaredLogger

	connLock  sync.RWMutex
	conn      net.Conn
	connected bool
	upCh      chan struct{}

	writeLock sync.Mutex

	pendingLock sync.Mutex
	pending     map[int64]chan *Envelope
	nextID      atomic.Int64

	subsLock sync.RWMutex
	subs     map[string][]Handler

	closed atomic.Bool
}

func NewTCPChannel(cfg Config, sugar *zap.SugaredLogger) *TCPChannel {
	return &TCPChannel{
		cfg:     cfg,
		Sugar:   sugar,
		upCh:    make(chan struct{}),
		pending: make(map[int64]chan *Envelope),
		subs:    make(map[string][]Handler),
	}
}

// Subscribe registers a push-event handler. Registration is expected
// before Run; handlers for one event fire in registration order.
func (c *TCPChannel) Subscribe(event string, h Handler) {
	c.subsLock.Lock()
	defer c.subsLock.Unlock()
	c.subs[event] = append(c.subs[event], h)
}

func (c *TCPChannel) Connected() bool {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	return c.connected
}

func (c *TCPChannel) ReconnectSignal() <-chan struct{} {
	c.connLock.RLock()
	defer c.connLock.RUnlock()
	return c.upCh
}

// Run maintains the socket(s) until ctx ends.
func (c *TCPChannel) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.maintain(ctx, c.cfg.Port, true)
	})
	if c.cfg.CallbackPort != 0 {
		g.Go(func() error {
			return c.maintain(ctx, c.cfg.CallbackPort, false)
		})
	}
	return g.Wait()
}

func (c *TCPChannel) Close() error {
	c.closed.Store(true)
	c.connLock.Lock()
	conn := c.conn
	c.connLock.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// maintain dials one socket and pumps its receive loop, reconnecting
// with a fixed delay. The request socket also carries connection
// state; the callback socket only feeds the dispatcher.
func (c *TCPChannel) maintain(ctx context.Context, port int, primary bool) error {
	addr := fmt.Sprintf("%s:%d", c.cfg.Host, port)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		dialer := net.Dialer{Timeout: c.cfg.requestTimeout()}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			c.Sugar.Warnf("dial %s: %s, retry in %s", addr, err, c.cfg.reconnectDelay())
			if err := sleepCtx(ctx, c.cfg.reconnectDelay()); err != nil {
				return err
			}
			continue
		}
		c.Sugar.Infof("connected to %s", addr)
		if primary {
			c.markConnected(conn)
			c.dispatch(EventBridgeUp, nil)
		}

		readErr := c.readLoop(ctx, conn)
		_ = conn.Close()
		if primary {
			c.markDisconnected()
			c.dispatch(EventBridgeDown, nil)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.closed.Load() {
			return nil
		}
		c.Sugar.Warnf("connection to %s lost: %s", addr, readErr)
		if err := sleepCtx(ctx, c.cfg.reconnectDelay()); err != nil {
			return err
		}
	}
}

func (c *TCPChannel) markConnected(conn net.Conn) {
	c.connLock.Lock()
	c.conn = conn
	c.connected = true
	close(c.upCh)
	c.connLock.Unlock()
}

func (c *TCPChannel) markDisconnected() {
	c.connLock.Lock()
	c.conn = nil
	c.connected = false
	c.upCh = make(chan struct{})
	c.connLock.Unlock()
	c.failPending()
}

func (c *TCPChannel) failPending() {
	c.pendingLock.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan *Envelope)
	c.pendingLock.Unlock()
	for id, ch := range pending {
		c.Sugar.Debugf("request %d failed by disconnect", id)
		close(ch)
	}
}

func (c *TCPChannel) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			c.Sugar.Warnf("bad message dropped: %s", err)
			continue
		}
		if env.ID != 0 && c.deliverResponse(&env) {
			continue
		}
		c.dispatch(env.Cmd, env.Data)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("connection closed by peer")
}

func (c *TCPChannel) deliverResponse(env *Envelope) bool {
	c.pendingLock.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingLock.Unlock()
	if !ok {
		return false
	}
	ch <- env
	return true
}

func (c *TCPChannel) dispatch(event string, data json.RawMessage) {
	c.subsLock.RLock()
	handlers := c.subs[event]
	c.subsLock.RUnlock()
	for _, h := range handlers {
		c.safeHandle(event, h, data)
	}
}

func (c *TCPChannel) safeHandle(event string, h Handler, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.Sugar.Errorf("handler for %s panicked: %v", event, r)
		}
	}()
	h(data)
}

// SendRequest writes one request envelope and waits for the response
// with the same id, the request timeout, or ctx.
func (c *TCPChannel) SendRequest(ctx context.Context, cmd string, payload interface{}) (*Envelope, error) {
	c.connLock.RLock()
	conn := c.conn
	up := c.connected
	c.connLock.RUnlock()
	if !up || conn == nil {
		return nil, transaction.ErrNotConnected
	}

	env := Envelope{
		ID:   c.nextID.Inc(),
		Cmd:  cmd,
		Time: time.Now().UnixMilli(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		env.Data = data
	}
	line, err := json.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(err, "marshal envelope")
	}
	line = append(line, '\n')

	ch := make(chan *Envelope, 1)
	c.pendingLock.Lock()
	c.pending[env.ID] = ch
	c.pendingLock.Unlock()

	c.writeLock.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.requestTimeout()))
	_, err = conn.Write(line)
	c.writeLock.Unlock()
	if err != nil {
		c.dropPending(env.ID)
		return nil, errors.Wrap(err, "write request")
	}

	timer := time.NewTimer(c.cfg.requestTimeout())
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, transaction.ErrNotConnected
		}
		if resp.LuaError != "" {
			return resp, &transaction.LuaError{Msg: resp.LuaError}
		}
		return resp, nil
	case <-timer.C:
		c.dropPending(env.ID)
		return nil, errors.Wrap(context.DeadlineExceeded, cmd)
	case <-ctx.Done():
		c.dropPending(env.ID)
		return nil, ctx.Err()
	}
}

func (c *TCPChannel) dropPending(id int64) {
	c.pendingLock.Lock()
	delete(c.pending, id)
	c.pendingLock.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
