// Package engine drives the poll-and-diff cycle: fetch the fleet state
// from every active site, diff it against the snapshot store, publish the
// changes as one batch delta.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fleetsync/internal/db"
	"fleetsync/internal/model"
	"fleetsync/internal/store"

	"go.uber.org/zap"
)

// State is the engine's position in its cycle. A failed cycle always
// returns to StateIdle; the loop never terminates on a cycle error.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDiffing
	StatePublishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDiffing:
		return "diffing"
	case StatePublishing:
		return "publishing"
	}
	return "unknown"
}

// Source fetches one site's batch. Implemented by db.Fetcher; faked in
// tests.
type Source interface {
	FetchSite(ctx context.Context, site string, ids []int64) (*db.SiteBatch, error)
}

// Universe supplies the set of identities to poll and resolves them to
// display identifiers. Derived from the active mapping configuration, not
// the database schema.
type Universe interface {
	Sites() []string
	EquipmentIDs(site string) []int64
	Resolve(key model.EquipmentKey) (string, bool)
}

// Publisher receives the non-empty batch delta of each cycle.
type Publisher interface {
	Publish(batch model.BatchDelta)
}

type Engine struct {
	source    Source
	universe  Universe
	snapshots *store.SnapshotStore
	publisher Publisher
	stats     *db.CycleStats
	logger    *zap.SugaredLogger

	interval     time.Duration
	fetchTimeout time.Duration

	state atomic.Int32
	seq   atomic.Uint64
}

func New(source Source, universe Universe, snapshots *store.SnapshotStore, publisher Publisher, stats *db.CycleStats, interval, fetchTimeout time.Duration, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		source:       source,
		universe:     universe,
		snapshots:    snapshots,
		publisher:    publisher,
		stats:        stats,
		interval:     interval,
		fetchTimeout: fetchTimeout,
		logger:       logger,
	}
}

// State returns the engine's current cycle phase.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// Run drives the fixed-period poll loop until the context is canceled.
// Cycles never overlap: the next tick is not acted on until the previous
// cycle's publish completes.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Infow("poll engine started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// First cycle immediately so clients have a baseline without waiting
	// out a full interval.
	e.safeCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("poll engine stopped")
			return
		case <-ticker.C:
			e.safeCycle(ctx)
		}
	}
}

// safeCycle is the cycle boundary of the error contract: anything a cycle
// throws is caught and logged here, and the loop continues on the next
// tick. Stale data is preferred over a dead background task.
func (e *Engine) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("poll cycle panicked, skipping cycle", "panic", r)
		}
		e.setState(StateIdle)
	}()
	e.RunCycle(ctx)
}

// RunCycle executes exactly one fetch/diff/publish cycle.
func (e *Engine) RunCycle(ctx context.Context) {
	e.setState(StateFetching)
	batches := e.fetchAll(ctx)
	if len(batches) == 0 {
		e.logger.Warn("no site produced a batch this cycle")
		return
	}

	e.setState(StateDiffing)
	snapshots, deltas := e.diffBatches(batches)

	// The store write must land before the batch reaches the fan-out, so a
	// concurrent snapshot read never lags a delta already delivered.
	e.snapshots.ApplyCycle(snapshots)

	e.setState(StatePublishing)
	if len(deltas) > 0 {
		batchSeq := deltas[0].Seq
		e.publisher.Publish(model.BatchDelta{
			Seq:    batchSeq,
			At:     time.Now(),
			Deltas: deltas,
		})
		e.stats.AddDeltas(len(deltas))
	}
	e.stats.IncrementCycle()
}

// fetchAll fans one bounded fetch out per active site and joins the
// results. A failed or timed-out site is skipped for this cycle; its
// identities stay untouched in the store and retry on the next tick.
func (e *Engine) fetchAll(ctx context.Context) []*db.SiteBatch {
	sites := e.universe.Sites()

	var (
		mu      sync.Mutex
		batches []*db.SiteBatch
		wg      sync.WaitGroup
	)

	for _, site := range sites {
		ids := e.universe.EquipmentIDs(site)
		if len(ids) == 0 {
			continue
		}

		wg.Add(1)
		go func(site string, ids []int64) {
			defer wg.Done()

			fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
			defer cancel()

			batch, err := e.source.FetchSite(fetchCtx, site, ids)
			if err != nil {
				e.logger.Warnw("site fetch skipped this cycle", "site", site, "error", err)
				e.stats.IncrementSiteFailure()
				return
			}

			mu.Lock()
			batches = append(batches, batch)
			mu.Unlock()
		}(site, ids)
	}
	wg.Wait()

	return batches
}

// diffBatches turns the fetched batches into the cycle's full snapshots
// and the sparse deltas against the store's prior state. On the very first
// populated cycle the result is the baseline and no deltas are emitted.
func (e *Engine) diffBatches(batches []*db.SiteBatch) ([]model.Snapshot, []model.Delta) {
	baseline := e.snapshots.Empty()

	var snapshots []model.Snapshot
	var deltas []model.Delta
	var batchSeq uint64

	for _, batch := range batches {
		cyclesByID := make(map[int64]*db.CycleAggregate, len(batch.Cycles))
		for i := range batch.Cycles {
			cyclesByID[batch.Cycles[i].ID] = &batch.Cycles[i]
		}

		for _, row := range batch.Rows {
			next, err := buildSnapshot(batch.Site, row, cyclesByID[row.ID], batch.At)
			if err != nil {
				e.logger.Warnw("row skipped", "site", batch.Site, "equipment", row.ID, "error", err)
				continue
			}
			snapshots = append(snapshots, next)

			if baseline {
				continue
			}

			// Unknown identity after the baseline: every populated field
			// counts as changed (diff against the zero snapshot).
			prev, _ := e.snapshots.Get(next.Key)
			fields := diffSnapshots(prev, next)
			if len(fields) == 0 {
				continue
			}

			displayID, ok := e.universe.Resolve(next.Key)
			if !ok {
				e.logger.Warnw("no display mapping, delta dropped", "equipment", next.Key.String())
				e.stats.IncrementDropped()
				continue
			}

			if batchSeq == 0 {
				batchSeq = e.seq.Add(1)
			}
			deltas = append(deltas, model.Delta{
				Key:       next.Key,
				Site:      next.Key.Site,
				DisplayID: displayID,
				Seq:       batchSeq,
				Fields:    fields,
			})
		}
	}

	return snapshots, deltas
}
