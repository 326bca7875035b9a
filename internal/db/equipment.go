package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EquipmentRow is one identity's latest status, lot and host-metric values
// as read from a site's equipment store.
type EquipmentRow struct {
	ID              int64
	Status          string
	StatusChangedAt time.Time
	ProductModel    *string
	LotID           *string
	LotStartedAt    *time.Time
	CPUPercent      *float64
	MemoryPercent   *float64
	DiskPercent     *float64
}

// CycleAggregate summarizes the production-cycle events of one identity
// within its current lot window: the completed count and the two most
// recent completion timestamps (for tact time).
type CycleAggregate struct {
	ID        int64
	Count     int64
	LastCycle *time.Time
	PrevCycle *time.Time
}

// SiteBatch is the result of one per-site fetch.
type SiteBatch struct {
	Site   string
	At     time.Time
	Rows   []EquipmentRow
	Cycles []CycleAggregate
}

// The site databases are under constant write load from the lines; the
// monitor must never block a writer. Both queries run in a read-only
// READ UNCOMMITTED transaction and tolerate in-flight rows.
var fetchTxOptions = pgx.TxOptions{
	IsoLevel:   pgx.ReadUncommitted,
	AccessMode: pgx.ReadOnly,
}

const equipmentRowsSQL = `
SELECT e.equipment_id,
       s.status,
       s.changed_at,
       l.product_model,
       l.lot_id,
       l.started_at,
       h.cpu_percent,
       h.memory_percent,
       h.disk_percent
FROM unnest($1::bigint[]) AS e(equipment_id)
JOIN LATERAL (
    SELECT status, changed_at
    FROM equipment_status
    WHERE equipment_id = e.equipment_id
    ORDER BY changed_at DESC
    LIMIT 1
) s ON TRUE
LEFT JOIN LATERAL (
    SELECT product_model, lot_id, started_at
    FROM production_lots
    WHERE equipment_id = e.equipment_id
    ORDER BY started_at DESC
    LIMIT 1
) l ON TRUE
LEFT JOIN LATERAL (
    SELECT cpu_percent, memory_percent, disk_percent
    FROM host_metrics
    WHERE equipment_id = e.equipment_id
    ORDER BY reported_at DESC
    LIMIT 1
) h ON TRUE
`

const cycleAggregatesSQL = `
WITH current_lot AS (
    SELECT DISTINCT ON (equipment_id) equipment_id, started_at
    FROM production_lots
    WHERE equipment_id = ANY($1::bigint[])
    ORDER BY equipment_id, started_at DESC
)
SELECT c.equipment_id,
       COUNT(*)::bigint AS cycle_count,
       (ARRAY_AGG(c.completed_at ORDER BY c.completed_at DESC))[1] AS last_cycle,
       (ARRAY_AGG(c.completed_at ORDER BY c.completed_at DESC))[2] AS prev_cycle
FROM production_cycles c
JOIN current_lot l ON l.equipment_id = c.equipment_id
WHERE c.completed_at >= l.started_at
GROUP BY c.equipment_id
`

// FetchSiteBatch reads the full state of the given identities from one
// site's equipment store in a single dirty-read transaction.
func FetchSiteBatch(ctx context.Context, pool *pgxpool.Pool, site string, ids []int64, logger *zap.SugaredLogger) (*SiteBatch, error) {
	tx, err := pool.BeginTx(ctx, fetchTxOptions)
	if err != nil {
		return nil, fmt.Errorf("begin fetch tx for %s: %w", site, err)
	}
	defer tx.Rollback(ctx)

	batch := &SiteBatch{Site: site, At: time.Now()}

	rows, err := tx.Query(ctx, equipmentRowsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("query equipment rows for %s: %w", site, err)
	}
	for rows.Next() {
		var r EquipmentRow
		if err := rows.Scan(
			&r.ID, &r.Status, &r.StatusChangedAt,
			&r.ProductModel, &r.LotID, &r.LotStartedAt,
			&r.CPUPercent, &r.MemoryPercent, &r.DiskPercent,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan equipment row for %s: %w", site, err)
		}
		batch.Rows = append(batch.Rows, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read equipment rows for %s: %w", site, err)
	}

	cycles, err := tx.Query(ctx, cycleAggregatesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("query cycle aggregates for %s: %w", site, err)
	}
	for cycles.Next() {
		var c CycleAggregate
		if err := cycles.Scan(&c.ID, &c.Count, &c.LastCycle, &c.PrevCycle); err != nil {
			cycles.Close()
			return nil, fmt.Errorf("scan cycle aggregate for %s: %w", site, err)
		}
		batch.Cycles = append(batch.Cycles, c)
	}
	cycles.Close()
	if err := cycles.Err(); err != nil {
		return nil, fmt.Errorf("read cycle aggregates for %s: %w", site, err)
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Debugw("fetch tx commit failed, result kept", "site", site, "error", err)
	}

	return batch, nil
}

// Fetcher wires the registry and the queries into the poll engine's fetch
// step: one batch per site, through that site's pooled connection.
type Fetcher struct {
	registry *Registry
	source   SiteSource
	logger   *zap.SugaredLogger
}

func NewFetcher(registry *Registry, source SiteSource, logger *zap.SugaredLogger) *Fetcher {
	return &Fetcher{registry: registry, source: source, logger: logger}
}

// FetchSite fetches the batch for one site. Disabled or unknown pairs and
// connection failures surface as errors; the engine skips the site for the
// cycle and retries on the next tick.
func (f *Fetcher) FetchSite(ctx context.Context, site string, ids []int64) (*SiteBatch, error) {
	database, ok := f.source.SiteDatabase(site)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, site)
	}
	if !f.registry.IsEnabled(site, database) {
		return nil, fmt.Errorf("%w: %s/%s", ErrDisabled, site, database)
	}

	pool, err := f.registry.Acquire(ctx, site, database)
	if err != nil {
		return nil, err
	}

	return FetchSiteBatch(ctx, pool, site, ids, f.logger)
}
