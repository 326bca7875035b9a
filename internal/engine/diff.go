package engine

import (
	"time"

	"fleetsync/internal/db"
	"fleetsync/internal/model"
)

// buildSnapshot assembles the new full snapshot of one identity from its
// fetched row and cycle aggregate. production_count and tact_time are
// derived here so the diff below treats them like any other field.
func buildSnapshot(site string, row db.EquipmentRow, cyc *db.CycleAggregate, at time.Time) (model.Snapshot, error) {
	status, err := model.ParseStatus(row.Status)
	if err != nil {
		return model.Snapshot{}, err
	}

	snap := model.Snapshot{
		Key:             model.EquipmentKey{Site: site, ID: row.ID},
		Status:          status,
		StatusChangedAt: row.StatusChangedAt,
		LastSeenAt:      at,
	}

	if row.LotID != nil {
		lot := model.Lot{LotID: *row.LotID}
		if row.ProductModel != nil {
			lot.ProductModel = *row.ProductModel
		}
		if row.LotStartedAt != nil {
			lot.StartedAt = *row.LotStartedAt
		}
		snap.Lot = &lot
	}

	if row.CPUPercent != nil || row.MemoryPercent != nil || row.DiskPercent != nil {
		m := model.HostMetrics{}
		if row.CPUPercent != nil {
			m.CPUPercent = *row.CPUPercent
		}
		if row.MemoryPercent != nil {
			m.MemoryPercent = *row.MemoryPercent
		}
		if row.DiskPercent != nil {
			m.DiskPercent = *row.DiskPercent
		}
		m = model.SanitizeMetrics(m)
		snap.HostMetrics = &m
	}

	if cyc != nil {
		snap.ProductionCount = cyc.Count
		// Tact time needs two completed cycles in the current lot window.
		if cyc.LastCycle != nil && cyc.PrevCycle != nil {
			tact := cyc.LastCycle.Sub(*cyc.PrevCycle).Seconds()
			snap.TactTimeSeconds = &tact
		}
	}

	return snap, nil
}

// diffSnapshots compares every tracked field of the new snapshot against
// the prior one and returns a map of only the fields whose value differs,
// keyed by the canonical field names. Nil result means nothing changed.
// last_seen_at is not compared; it advances every cycle by definition.
func diffSnapshots(prev, next model.Snapshot) map[string]any {
	var fields map[string]any
	set := func(name string, v any) {
		if fields == nil {
			fields = make(map[string]any)
		}
		fields[name] = v
	}

	if prev.Status != next.Status {
		set(model.FieldStatus, next.Status)
	}
	if !prev.StatusChangedAt.Equal(next.StatusChangedAt) {
		set(model.FieldStatusChangedAt, next.StatusChangedAt)
	}
	if !lotEqual(prev.Lot, next.Lot) {
		if next.Lot != nil {
			set(model.FieldLot, *next.Lot)
		} else {
			set(model.FieldLot, nil)
		}
	}
	// A drop is a legitimate diff: a lot reset pulls the count back down
	// and that must reach clients, not be suppressed as an anomaly.
	if prev.ProductionCount != next.ProductionCount {
		set(model.FieldProductionCount, next.ProductionCount)
	}
	if !floatPtrEqual(prev.TactTimeSeconds, next.TactTimeSeconds) {
		if next.TactTimeSeconds != nil {
			set(model.FieldTactTime, model.SanitizeFloat(*next.TactTimeSeconds))
		} else {
			set(model.FieldTactTime, nil)
		}
	}
	if !metricsEqual(prev.HostMetrics, next.HostMetrics) {
		if next.HostMetrics != nil {
			set(model.FieldHostMetrics, *next.HostMetrics)
		} else {
			set(model.FieldHostMetrics, nil)
		}
	}

	return fields
}

func lotEqual(a, b *model.Lot) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.LotID == b.LotID &&
		a.ProductModel == b.ProductModel &&
		a.StartedAt.Equal(b.StartedAt)
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func metricsEqual(a, b *model.HostMetrics) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
