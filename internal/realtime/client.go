package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"fleetsync/internal/model"

	"github.com/gorilla/websocket"
)

// Client is one connected realtime consumer. Its send channel is written
// by the hub's publish path and drained by WritePump; ReadPump handles the
// inbound subscribe/ping/snapshot messages.
type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	hub       *Hub
	userID    string
	lastSeen  atomic.Int64 // unix nanos of the last inbound frame
	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, userID string) *Client {
	c := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		hub:    hub,
		userID: userID,
	}
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) lastSeenTime() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// trySend enqueues a payload without blocking. False means the client is
// gone or not draining its buffer and should be dropped.
func (c *Client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// sendJSON marshals and enqueues one control message to this client only.
func (c *Client) sendJSON(v any) {
	payload, err := jsonFast.Marshal(v)
	if err != nil {
		c.hub.logger.Errorw("control message marshal failed", "error", err)
		return
	}
	c.trySend(payload)
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ReadPump consumes inbound frames until the connection errors, then
// disconnects the client.
func (c *Client) ReadPump() {
	defer c.hub.Disconnect(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.hub.logger.Debugw("read ended", "user", c.userID, "error", err)
			return
		}
		c.touch()

		var msg model.ClientMessage
		if err := jsonFast.Unmarshal(raw, &msg); err != nil {
			c.sendJSON(model.ErrorMessage{Type: model.TypeError, Reason: "malformed message"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg model.ClientMessage) {
	switch msg.Action {
	case model.ActionSubscribe:
		c.handleSubscribe(msg)

	case model.ActionPing:
		c.sendJSON(model.PongMessage{Type: model.TypePong})

	case model.ActionSnapshot:
		sub := c.hub.SubscriptionOf(c)
		c.sendJSON(model.SnapshotMessage{
			Type:      model.TypeSnapshot,
			Equipment: c.hub.SnapshotFor(sub),
		})

	default:
		c.sendJSON(model.ErrorMessage{Type: model.TypeError, Reason: "unknown action"})
	}
}

func (c *Client) handleSubscribe(msg model.ClientMessage) {
	level, err := model.ParseLevel(msg.Level)
	if err != nil {
		c.sendJSON(model.ErrorMessage{Type: model.TypeError, Reason: err.Error()})
		return
	}

	sub := &Subscription{Level: level}
	if len(msg.SiteLevels) > 0 {
		sub.SiteLevels = make(map[string]model.Level, len(msg.SiteLevels))
		for site, name := range msg.SiteLevels {
			siteLevel, err := model.ParseLevel(name)
			if err != nil {
				c.sendJSON(model.ErrorMessage{Type: model.TypeError, Reason: err.Error()})
				return
			}
			sub.SiteLevels[site] = siteLevel
		}
	}

	c.hub.SetSubscription(c, sub)

	ack := model.AckMessage{Type: model.TypeAck, Level: level.String()}
	if len(sub.SiteLevels) > 0 {
		ack.SiteLevels = make(map[string]string, len(sub.SiteLevels))
		for site, l := range sub.SiteLevels {
			ack.SiteLevels[site] = l.String()
		}
	}
	c.sendJSON(ack)
}

// WritePump drains the send channel onto the connection until the client
// is closed.
func (c *Client) WritePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debugw("write ended", "user", c.userID, "error", err)
				c.hub.Disconnect(c)
				return
			}
		}
	}
}
