package model

import (
	"fmt"
	"time"
)

// Status is the enumerated operating state of one piece of equipment.
type Status string

const (
	StatusRun          Status = "RUN"
	StatusIdle         Status = "IDLE"
	StatusStop         Status = "STOP"
	StatusSuddenStop   Status = "SUDDEN_STOP"
	StatusDisconnected Status = "DISCONNECTED"
)

// ParseStatus maps a raw status string from the equipment store to a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRun, StatusIdle, StatusStop, StatusSuddenStop, StatusDisconnected:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown equipment status %q", s)
}

// EquipmentKey identifies one piece of equipment. The numeric ID is only
// unique within its site; the pair is the identity.
type EquipmentKey struct {
	Site string `json:"site"`
	ID   int64  `json:"id"`
}

func (k EquipmentKey) String() string {
	return fmt.Sprintf("%s/%d", k.Site, k.ID)
}

// Lot is the production run currently assigned to a piece of equipment.
type Lot struct {
	ProductModel string    `json:"product_model"`
	LotID        string    `json:"lot_id"`
	StartedAt    time.Time `json:"started_at"`
}

// HostMetrics is secondary-system telemetry reported alongside equipment
// state. Updated independently of the production fields.
type HostMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// Snapshot is the complete last-known state of one equipment identity.
// Owned exclusively by the snapshot store; the poll engine replaces whole
// snapshots, never patches fields in place.
type Snapshot struct {
	Key             EquipmentKey `json:"key"`
	Status          Status       `json:"status"`
	StatusChangedAt time.Time    `json:"status_changed_at"`
	Lot             *Lot         `json:"lot,omitempty"`
	ProductionCount int64        `json:"production_count"`
	TactTimeSeconds *float64     `json:"tact_time_seconds,omitempty"`
	HostMetrics     *HostMetrics `json:"host_metrics,omitempty"`
	LastSeenAt      time.Time    `json:"last_seen_at"`
}

// Delta carries only the fields of one identity that changed in a poll
// cycle, keyed by the canonical field names in fields.go. Immutable once
// built; never retried after broadcast.
type Delta struct {
	Key       EquipmentKey   `json:"-"`
	Site      string         `json:"site"`
	DisplayID string         `json:"display_id"`
	Seq       uint64         `json:"seq"`
	Fields    map[string]any `json:"fields"`
}

// BatchDelta groups every delta of one poll cycle into a single outbound
// unit so message count per cycle stays bounded regardless of fleet size.
type BatchDelta struct {
	Seq    uint64    `json:"seq"`
	At     time.Time `json:"at"`
	Deltas []Delta   `json:"deltas"`
}
