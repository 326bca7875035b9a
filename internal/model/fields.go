package model

import "math"

// Canonical field names shared by the diff engine, the subscription filter
// and the wire format. A delta's Fields map only ever uses these keys.
const (
	FieldStatus          = "status"
	FieldStatusChangedAt = "status_changed_at"
	FieldLot             = "lot"
	FieldProductionCount = "production_count"
	FieldTactTime        = "tact_time_seconds"
	FieldHostMetrics     = "host_metrics"
	FieldLastSeenAt      = "last_seen_at"
)

// DiffedFields lists the fields the poll engine compares cycle-to-cycle.
// LastSeenAt is deliberately absent: it advances every cycle and would turn
// every identity into a delta.
var DiffedFields = []string{
	FieldStatus,
	FieldStatusChangedAt,
	FieldLot,
	FieldProductionCount,
	FieldTactTime,
	FieldHostMetrics,
}

// SnapshotFields projects a full snapshot onto the canonical field map, the
// same shape a delta uses, so cold-start snapshots and deltas go through
// the same subscription filter.
func SnapshotFields(s Snapshot) map[string]any {
	fields := map[string]any{
		FieldStatus:          s.Status,
		FieldStatusChangedAt: s.StatusChangedAt,
		FieldProductionCount: s.ProductionCount,
		FieldLastSeenAt:      s.LastSeenAt,
	}
	if s.Lot != nil {
		fields[FieldLot] = *s.Lot
	}
	if s.TactTimeSeconds != nil {
		fields[FieldTactTime] = SanitizeFloat(*s.TactTimeSeconds)
	}
	if s.HostMetrics != nil {
		fields[FieldHostMetrics] = SanitizeMetrics(*s.HostMetrics)
	}
	return fields
}

// SanitizeFloat maps Inf/NaN to nil so the value stays JSON serializable.
// Host telemetry comes from an external collector and has produced both.
func SanitizeFloat(f float64) any {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return f
}

// SanitizeMetrics clamps non-serializable utilization values to zero.
func SanitizeMetrics(m HostMetrics) HostMetrics {
	if math.IsInf(m.CPUPercent, 0) || math.IsNaN(m.CPUPercent) {
		m.CPUPercent = 0
	}
	if math.IsInf(m.MemoryPercent, 0) || math.IsNaN(m.MemoryPercent) {
		m.MemoryPercent = 0
	}
	if math.IsInf(m.DiskPercent, 0) || math.IsNaN(m.DiskPercent) {
		m.DiskPercent = 0
	}
	return m
}
