package realtime

import (
	"context"
	"sync"
	"time"

	"fleetsync/internal/model"
	"fleetsync/internal/store"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var jsonFast = jsoniter.ConfigFastest

// Resolver maps an equipment identity to the identifier the frontend
// displays.
type Resolver interface {
	Resolve(key model.EquipmentKey) (string, bool)
}

// Hub is the broadcast fan-out: it owns the set of connected clients and
// their subscriptions, filters every published batch per client, and
// prunes clients that stop answering keep-alives. It runs no diff loop of
// its own; it is driven entirely by the poll engine's batches and inbound
// client messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]*Subscription

	snapshots        *store.SnapshotStore
	resolver         Resolver
	keepAliveTimeout time.Duration
	logger           *zap.SugaredLogger
}

func NewHub(snapshots *store.SnapshotStore, resolver Resolver, keepAliveTimeout time.Duration, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:          make(map[*Client]*Subscription),
		snapshots:        snapshots,
		resolver:         resolver,
		keepAliveTimeout: keepAliveTimeout,
		logger:           logger,
	}
}

// Connect registers a client at the standard level.
func (h *Hub) Connect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = &Subscription{Level: model.LevelStandard}
}

// Disconnect removes a client and closes its connection. Idempotent and
// safe to call from error paths and concurrently with a publish.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		h.logger.Infow("client disconnected", "user", c.userID)
	}
	c.close()
}

// SetSubscription installs a client's new subscription. It takes effect
// with the next batch; a publish already in flight keeps the subscription
// it snapshotted.
func (h *Hub) SetSubscription(c *Client, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		h.clients[c] = sub
	}
}

// SubscriptionOf returns the client's current subscription.
func (h *Hub) SubscriptionOf(c *Client) *Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sub, ok := h.clients[c]; ok {
		return sub
	}
	return &Subscription{Level: model.LevelStandard}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish delivers one batch delta to every connected client, filtered to
// each client's subscription. A client whose send buffer is full is
// treated as gone and disconnected; delivery to the rest continues.
func (h *Hub) Publish(batch model.BatchDelta) {
	h.mu.RLock()
	subs := make(map[*Client]*Subscription, len(h.clients))
	for c, sub := range h.clients {
		subs[c] = sub
	}
	h.mu.RUnlock()

	var dead []*Client
	for c, sub := range subs {
		filtered, ok := FilterBatch(batch, sub)
		if !ok {
			continue
		}

		payload, err := jsonFast.Marshal(model.DeltaMessage{Type: model.TypeDelta, Batch: filtered})
		if err != nil {
			h.logger.Errorw("delta marshal failed", "error", err)
			continue
		}

		if !c.trySend(payload) {
			dead = append(dead, c)
		}
	}

	for _, c := range dead {
		h.logger.Warnw("send buffer full, dropping client", "user", c.userID)
		h.Disconnect(c)
	}
}

// SnapshotFor builds the full-state cold-start view for one subscription,
// filtered the same way deltas are. Identities with no display mapping are
// omitted.
func (h *Hub) SnapshotFor(sub *Subscription) []model.SnapshotEntry {
	snaps := h.snapshots.All()

	entries := make([]model.SnapshotEntry, 0, len(snaps))
	for _, snap := range snaps {
		displayID, ok := h.resolver.Resolve(snap.Key)
		if !ok {
			continue
		}
		fields := FilterFields(model.SnapshotFields(snap), sub.LevelFor(snap.Key.Site))
		if len(fields) == 0 {
			continue
		}
		entries = append(entries, model.SnapshotEntry{
			Site:      snap.Key.Site,
			DisplayID: displayID,
			Fields:    fields,
		})
	}
	return entries
}

// RunKeepAliveSweeper disconnects clients that have been silent past the
// keep-alive timeout. Runs until the context is canceled.
func (h *Hub) RunKeepAliveSweeper(ctx context.Context) {
	interval := h.keepAliveTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-h.keepAliveTimeout)

			h.mu.RLock()
			var stale []*Client
			for c := range h.clients {
				if c.lastSeenTime().Before(cutoff) {
					stale = append(stale, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range stale {
				h.logger.Infow("keep-alive timeout", "user", c.userID)
				h.Disconnect(c)
			}
		}
	}
}
