package transport

import (
	"context"
	"encoding/json"
)

// Push event names as the terminal's bridge script publishes them.
const (
	EventOrder      = "OnOrder"
	EventStopOrder  = "OnStopOrder"
	EventTrade      = "OnTrade"
	EventTransReply = "OnTransReply"
	// terminal <-> exchange session state
	EventConnected    = "OnConnected"
	EventDisconnected = "OnDisconnected"
	// client <-> terminal socket state, synthesized locally
	EventBridgeUp   = "BridgeConnected"
	EventBridgeDown = "BridgeDisconnected"
)

// Envelope is one newline-delimited JSON message on the bridge socket.
// Requests and responses correlate by ID; push events carry no ID.
type Envelope struct {
	ID       int64           `json:"id,omitempty"`
	Cmd      string          `json:"cmd"`
	Time     int64           `json:"t,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	LuaError string          `json:"lua_error,omitempty"`
}

// Handler consumes the data payload of one push event. Handlers run on
// the receive loop's goroutine and must be quick and panic-free;
// panics are caught and logged.
type Handler func(data json.RawMessage)

// Channel is the async request/response plus push-event link to the
// terminal. Request/response correlation is internal to the channel
// and distinct from the order engine's transaction-id correlation.
type Channel interface {
	SendRequest(ctx context.Context, cmd string, payload interface{}) (*Envelope, error)
	Subscribe(event string, h Handler)
	Connected() bool
	// ReconnectSignal returns a channel that is closed while the link
	// is up; waiting on it blocks exactly until the next connect.
	ReconnectSignal() <-chan struct{}
	Close() error
}
