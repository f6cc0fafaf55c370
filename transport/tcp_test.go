package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/x5500/QUIKSharp-sub000/transaction"
	"go.uber.org/zap"
)

func startChannel(t *testing.T, port int) *TCPChannel {
	t.Helper()
	c := NewTCPChannel(Config{
		Host:             "127.0.0.1",
		Port:             port,
		RequestTimeoutMs: 2000,
		ReconnectDelayMs: 20,
	}, zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = c.Close()
	})
	return c
}

func waitConnected(t *testing.T, c *TCPChannel) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("channel never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, l.Addr().(*net.TCPAddr).Port
}

func writeEnvelope(t *testing.T, conn net.Conn, env *Envelope) {
	t.Helper()
	line, err := json.Marshal(env)
	require.NoError(t, err)
	_, err = conn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func TestTCPChannel_RequestResponseAndPush(t *testing.T) {
	l, port := listen(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var env Envelope
			if json.Unmarshal(scanner.Bytes(), &env) != nil {
				continue
			}
			// a push event interleaved before the response must not be
			// mistaken for it
			writeEnvelope(t, conn, &Envelope{
				Cmd:  EventTransReply,
				Data: json.RawMessage(`{"trans_id":7,"status":3}`),
			})
			writeEnvelope(t, conn, &Envelope{
				ID:   env.ID,
				Cmd:  env.Cmd,
				Data: json.RawMessage(`true`),
			})
		}
	}()

	c := startChannel(t, port)
	pushes := make(chan json.RawMessage, 1)
	c.Subscribe(EventTransReply, func(data json.RawMessage) { pushes <- data })
	waitConnected(t, c)

	resp, err := c.SendRequest(context.Background(), "sendTransaction", map[string]string{"ACTION": "NEW_ORDER"})
	require.NoError(t, err)
	require.JSONEq(t, `true`, string(resp.Data))

	select {
	case data := <-pushes:
		require.JSONEq(t, `{"trans_id":7,"status":3}`, string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("push event not dispatched")
	}
}

func TestTCPChannel_LuaErrorResponse(t *testing.T) {
	l, port := listen(t)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var env Envelope
			if json.Unmarshal(scanner.Bytes(), &env) != nil {
				continue
			}
			writeEnvelope(t, conn, &Envelope{
				ID:       env.ID,
				Cmd:      env.Cmd,
				LuaError: "sendTransaction: table expected",
			})
		}
	}()

	c := startChannel(t, port)
	waitConnected(t, c)

	_, err := c.SendRequest(context.Background(), "sendTransaction", nil)
	require.Error(t, err)
	var luaErr *transaction.LuaError
	require.True(t, errors.As(err, &luaErr))
	require.Contains(t, luaErr.Error(), "table expected")
}

func TestTCPChannel_DisconnectFailsPendingAndReconnects(t *testing.T) {
	l, port := listen(t)
	accepted := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted <- conn
		}
	}()

	c := startChannel(t, port)
	ups := make(chan struct{}, 4)
	downs := make(chan struct{}, 4)
	c.Subscribe(EventBridgeUp, func(json.RawMessage) { ups <- struct{}{} })
	c.Subscribe(EventBridgeDown, func(json.RawMessage) { downs <- struct{}{} })
	waitConnected(t, c)

	var first net.Conn
	select {
	case first = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
	}

	// kill the socket mid-request: the in-flight request fails fast
	// rather than timing out
	go func() {
		scanner := bufio.NewScanner(first)
		scanner.Scan()
		_ = first.Close()
	}()
	_, err := c.SendRequest(context.Background(), "getOrders", nil)
	require.ErrorIs(t, err, transaction.ErrNotConnected)

	select {
	case <-downs:
	case <-time.After(2 * time.Second):
		t.Fatal("no bridge-down event")
	}

	// the channel dials again on its own
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not reconnect")
	}
	waitConnected(t, c)
	select {
	case <-ups:
	default:
	}
}

func TestTCPChannel_SendRequestWhileDown(t *testing.T) {
	c := NewTCPChannel(Config{Host: "127.0.0.1", Port: 1}, zap.NewNop().Sugar())
	_, err := c.SendRequest(context.Background(), "ping", nil)
	require.ErrorIs(t, err, transaction.ErrNotConnected)
}

func TestTCPChannel_ReconnectSignal(t *testing.T) {
	l, port := listen(t)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
				}
			}(conn)
		}
	}()

	c := startChannel(t, port)
	waitConnected(t, c)

	// while connected the signal reads as already fired
	select {
	case <-c.ReconnectSignal():
	case <-time.After(time.Second):
		t.Fatal("signal not closed while connected")
	}
}
