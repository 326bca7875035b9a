// Package realtime is a Go client for the fleetsync realtime channel:
// dial, declare a subscription level, receive snapshots and batch deltas,
// keep the connection alive, reconnect on loss.
package realtime

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// connectionState represents the WebSocket connection status
type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnecting
	stateConnected
	stateReconnecting
)

// Client is the fleetsync realtime WebSocket client.
type Client struct {
	Url   string // WebSocket URL, e.g. ws://host:8080/ws
	Token string // optional bearer token, appended as ?token=

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	state    connectionState
	shutdown bool

	subscription *SubscriptionOptions
	handlers     Handlers

	logger            *zap.Logger
	reconnectMu       sync.Mutex
	dialTimeout       time.Duration
	reconnectInterval time.Duration
	keepAliveInterval time.Duration
	keepAliveCancel   context.CancelFunc
}

// Handlers receive the server's pushes. Nil handlers are skipped.
type Handlers struct {
	OnSnapshot func(map[string]any)
	OnDelta    func(map[string]any)
	OnAck      func(map[string]any)
	OnError    func(map[string]any)
}

// NewClient initializes a client for the given endpoint.
func NewClient(url, token string, handlers Handlers, logger *zap.Logger) *Client {
	if token != "" {
		url = url + "?token=" + token
	}
	return &Client{
		Url:               url,
		Token:             token,
		handlers:          handlers,
		logger:            logger,
		dialTimeout:       10 * time.Second,
		keepAliveInterval: 20 * time.Second,
		reconnectInterval: 500 * time.Millisecond,
		state:             stateDisconnected,
	}
}

// Connect establishes the WebSocket connection.
func (client *Client) Connect() error {
	client.mu.Lock()
	if client.ctx != nil && client.state == stateConnected && client.conn != nil {
		client.mu.Unlock()
		return nil
	}

	client.ctx, client.cancel = context.WithCancel(context.Background())
	client.closed = make(chan struct{})
	client.state = stateConnecting
	client.mu.Unlock()

	if err := client.dialServer(); err != nil {
		return err
	}

	client.startKeepAlive()
	go client.listenForMessages()

	client.mu.Lock()
	client.state = stateConnected
	client.mu.Unlock()

	return nil
}

// Disconnect gracefully closes the WebSocket connection.
func (client *Client) Disconnect() error {
	client.mu.Lock()
	defer client.mu.Unlock()

	client.shutdown = true // mark client as intentionally shutting down

	if client.keepAliveCancel != nil {
		client.keepAliveCancel()
		client.keepAliveCancel = nil
	}

	if client.cancel != nil {
		client.cancel()
		client.cancel = nil
		client.ctx = nil
	}

	if client.conn != nil {
		_ = client.conn.Close(websocket.StatusNormalClosure, "client disconnect")
		client.conn = nil
	}

	if client.closed != nil {
		close(client.closed)
		client.closed = nil
	}

	client.state = stateDisconnected
	return nil
}

// IsConnected checks if the client is connected.
func (client *Client) IsConnected() bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.state == stateConnected && client.conn != nil && client.closed != nil
}

// dialServer connects to the WebSocket server.
func (client *Client) dialServer() error {
	client.mu.Lock()
	defer client.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), client.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, client.Url, nil)
	if err != nil {
		client.logger.Error("Dial failed", zap.Error(err))
		return err
	}

	client.conn = conn
	return nil
}

// reconnect attempts to reconnect until it succeeds or the client shuts
// down, then re-declares the previous subscription.
func (client *Client) reconnect(ctx context.Context) {
	client.reconnectMu.Lock()
	defer client.reconnectMu.Unlock()

	client.mu.Lock()
	if client.shutdown {
		client.mu.Unlock()
		client.logger.Info("Reconnect skipped: client is shutting down")
		return
	}
	client.state = stateReconnecting
	client.mu.Unlock()

	client.logger.Warn("Starting reconnect loop...")

	retryTicker := time.NewTicker(client.reconnectInterval)
	defer retryTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.logger.Warn("Reconnect context done, giving up")
			return
		case <-retryTicker.C:
			client.mu.Lock()
			if client.shutdown {
				client.mu.Unlock()
				client.logger.Info("Reconnect stopped: client is shutting down")
				return
			}
			client.mu.Unlock()

			if err := client.Connect(); err == nil {
				client.logger.Info("Reconnected successfully")
				client.resubscribe()
				return
			} else {
				client.logger.Warn("Reconnect failed", zap.Error(err))
			}
		}
	}
}

// isConnectionAlive determines if a connection error means a dead connection
func (client *Client) isConnectionAlive(err error) bool {
	return !(errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, new(net.Error)) ||
		errors.As(err, new(websocket.CloseError)))
}
