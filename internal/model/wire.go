package model

// Inbound client actions on the realtime channel.
const (
	ActionSubscribe = "subscribe"
	ActionPing      = "ping"
	ActionSnapshot  = "snapshot"
)

// Outbound message types.
const (
	TypeAck      = "ack"
	TypeError    = "error"
	TypePong     = "pong"
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
)

// ClientMessage is the single inbound frame shape. Level is required for
// subscribe; SiteLevels optionally pins a different tier per site.
type ClientMessage struct {
	Action     string            `json:"action"`
	Level      string            `json:"level,omitempty"`
	SiteLevels map[string]string `json:"site_levels,omitempty"`
}

// AckMessage confirms a subscription change back to the requesting client.
type AckMessage struct {
	Type       string            `json:"type"`
	Level      string            `json:"level"`
	SiteLevels map[string]string `json:"site_levels,omitempty"`
}

// ErrorMessage reports a rejected inbound frame to the offending client
// only. It is never broadcast.
type ErrorMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PongMessage answers a keep-alive ping.
type PongMessage struct {
	Type string `json:"type"`
}

// SnapshotMessage is the cold-start full-state response, already filtered
// to the requesting client's level.
type SnapshotMessage struct {
	Type      string          `json:"type"`
	Equipment []SnapshotEntry `json:"equipment"`
}

// SnapshotEntry is one identity's full state projected onto the canonical
// field map, the same shape delta fields use.
type SnapshotEntry struct {
	Site      string         `json:"site"`
	DisplayID string         `json:"display_id"`
	Fields    map[string]any `json:"fields"`
}

// DeltaMessage wraps one batch delta for the wire.
type DeltaMessage struct {
	Type  string     `json:"type"`
	Batch BatchDelta `json:"batch"`
}
