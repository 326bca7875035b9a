package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// SubscriptionOptions declares the client's interest level and optional
// per-site overrides.
type SubscriptionOptions struct {
	Level      string            // "minimal", "standard" or "detailed"
	SiteLevels map[string]string // per-site overrides, keyed by site name
}

// Subscribe declares the subscription level; the server acknowledges with
// an ack message. The subscription is re-declared after every reconnect.
func (client *Client) Subscribe(opts SubscriptionOptions) error {
	if !client.IsConnected() {
		return errors.New("client not connected")
	}

	client.mu.Lock()
	client.subscription = &opts
	client.mu.Unlock()

	return client.sendSubscription(opts)
}

// RequestSnapshot asks for the full filtered state, for a cold start or
// after a suspected gap.
func (client *Client) RequestSnapshot() error {
	return client.send(map[string]any{"action": "snapshot"})
}

// resubscribe re-declares the stored subscription after a reconnect.
func (client *Client) resubscribe() {
	client.mu.Lock()
	sub := client.subscription
	client.mu.Unlock()

	if sub != nil {
		_ = client.sendSubscription(*sub)
	}
}

func (client *Client) sendSubscription(opts SubscriptionOptions) error {
	msg := map[string]any{
		"action": "subscribe",
		"level":  opts.Level,
	}
	if len(opts.SiteLevels) > 0 {
		msg["site_levels"] = opts.SiteLevels
	}
	return client.send(msg)
}

func (client *Client) send(msg map[string]any) error {
	client.mu.Lock()
	conn := client.conn
	ctx := client.ctx
	client.mu.Unlock()

	if conn == nil || ctx == nil {
		return errors.New("send: no active connection")
	}

	ctx, cancel := context.WithTimeout(ctx, client.dialTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, msg)
}

// startKeepAlive pings the server periodically so the hub's sweeper keeps
// this client in the active set.
func (client *Client) startKeepAlive() {
	client.mu.Lock()
	if client.keepAliveCancel != nil {
		client.keepAliveCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	client.keepAliveCancel = cancel
	interval := client.keepAliveInterval
	client.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.send(map[string]any{"action": "ping"}); err != nil {
					client.logger.Warn("keep-alive failed", zap.Error(err))
				}
			}
		}
	}()
}

// listenForMessages reads messages from the WebSocket server and
// dispatches them to the registered handlers.
func (client *Client) listenForMessages() {
	for {
		client.mu.Lock()
		ctx := client.ctx
		conn := client.conn
		client.mu.Unlock()

		if ctx == nil || ctx.Err() != nil {
			client.logger.Info("Listener exiting")
			return
		}

		var msg map[string]any
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if !client.isConnectionAlive(err) {
				client.logger.Warn("Connection lost during message read")
				go client.reconnect(context.Background())
				return
			}
			continue
		}

		msgType, _ := msg["type"].(string)
		var handler func(map[string]any)
		switch msgType {
		case "snapshot":
			handler = client.handlers.OnSnapshot
		case "delta":
			handler = client.handlers.OnDelta
		case "ack":
			handler = client.handlers.OnAck
		case "error":
			handler = client.handlers.OnError
		case "pong":
			// keep-alive answer, nothing to dispatch
		default:
			client.logger.Warn("Unknown message type", zap.String("type", msgType))
		}

		if handler != nil {
			go handler(msg)
		}
	}
}
