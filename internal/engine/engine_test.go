package engine

import (
	"context"
	"testing"
	"time"

	"fleetsync/internal/db"
	"fleetsync/internal/model"
	"fleetsync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	batches map[string]*db.SiteBatch
	errs    map[string]error
}

func (f *fakeSource) FetchSite(ctx context.Context, site string, ids []int64) (*db.SiteBatch, error) {
	if err, ok := f.errs[site]; ok {
		return nil, err
	}
	if batch, ok := f.batches[site]; ok {
		return batch, nil
	}
	return &db.SiteBatch{Site: site, At: time.Now()}, nil
}

type fakeUniverse struct {
	sites   []string
	ids     map[string][]int64
	display map[model.EquipmentKey]string
}

func (f *fakeUniverse) Sites() []string                 { return f.sites }
func (f *fakeUniverse) EquipmentIDs(s string) []int64   { return f.ids[s] }
func (f *fakeUniverse) Resolve(k model.EquipmentKey) (string, bool) {
	d, ok := f.display[k]
	return d, ok
}

type capturePublisher struct {
	batches []model.BatchDelta
}

func (p *capturePublisher) Publish(b model.BatchDelta) {
	p.batches = append(p.batches, b)
}

func newTestEngine(src Source, uni Universe, snaps *store.SnapshotStore, pub Publisher) *Engine {
	logger := zap.NewNop().Sugar()
	return New(src, uni, snaps, pub, db.NewCycleStats(logger), time.Second, time.Second, logger)
}

func statusRow(id int64, status string, changedAt time.Time) db.EquipmentRow {
	return db.EquipmentRow{ID: id, Status: status, StatusChangedAt: changedAt}
}

func singleSiteUniverse() *fakeUniverse {
	return &fakeUniverse{
		sites: []string{"osaka"},
		ids:   map[string][]int64{"osaka": {101}},
		display: map[model.EquipmentKey]string{
			{Site: "osaka", ID: 101}: "OSK-PRESS-01",
		},
	}
}

func TestEngine_BaselineEmitsNoDeltas(t *testing.T) {
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, singleSiteUniverse(), snaps, pub)

	eng.RunCycle(context.Background())

	assert.Empty(t, pub.batches)
	assert.Equal(t, 1, snaps.Len())
	snap, ok := snaps.Get(model.EquipmentKey{Site: "osaka", ID: 101})
	require.True(t, ok)
	assert.Equal(t, model.StatusIdle, snap.Status)
}

func TestEngine_StatusAndCountChange(t *testing.T) {
	// Baseline: E1 IDLE, count 0. Next cycle: RUN, count 3.
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, singleSiteUniverse(), snaps, pub)

	eng.RunCycle(context.Background())
	require.Empty(t, pub.batches)

	last := t1
	prev := t0
	src.batches["osaka"] = &db.SiteBatch{
		Site: "osaka",
		At:   t1.Add(10 * time.Second),
		Rows: []db.EquipmentRow{statusRow(101, "RUN", t0)},
		Cycles: []db.CycleAggregate{
			{ID: 101, Count: 3, LastCycle: &last, PrevCycle: &prev},
		},
	}
	eng.RunCycle(context.Background())

	require.Len(t, pub.batches, 1)
	batch := pub.batches[0]
	require.Len(t, batch.Deltas, 1)
	delta := batch.Deltas[0]
	assert.Equal(t, "OSK-PRESS-01", delta.DisplayID)
	assert.Equal(t, "osaka", delta.Site)
	assert.Equal(t, batch.Seq, delta.Seq)
	assert.Equal(t, model.StatusRun, delta.Fields[model.FieldStatus])
	assert.Equal(t, int64(3), delta.Fields[model.FieldProductionCount])
}

func TestEngine_UnchangedIdentityEmitsNothing(t *testing.T) {
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, singleSiteUniverse(), snaps, pub)

	eng.RunCycle(context.Background())
	// Same fetch result again: idempotent, no second batch.
	src.batches["osaka"].At = t1.Add(10 * time.Second)
	eng.RunCycle(context.Background())

	assert.Empty(t, pub.batches)
}

func TestEngine_TimedOutSiteLeavesStoreUntouched(t *testing.T) {
	uni := &fakeUniverse{
		sites: []string{"osaka", "nagoya"},
		ids:   map[string][]int64{"osaka": {101}, "nagoya": {201}},
		display: map[model.EquipmentKey]string{
			{Site: "osaka", ID: 101}:  "OSK-PRESS-01",
			{Site: "nagoya", ID: 201}: "NGY-WELD-01",
		},
	}
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka":  {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
		"nagoya": {Site: "nagoya", At: t1, Rows: []db.EquipmentRow{statusRow(201, "RUN", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, uni, snaps, pub)

	eng.RunCycle(context.Background())
	require.Equal(t, 2, snaps.Len())

	// Second cycle: nagoya times out, osaka changes.
	src.errs = map[string]error{"nagoya": context.DeadlineExceeded}
	src.batches["osaka"] = &db.SiteBatch{
		Site: "osaka", At: t1.Add(10 * time.Second),
		Rows: []db.EquipmentRow{statusRow(101, "RUN", t0)},
	}
	eng.RunCycle(context.Background())

	// Osaka's change still went out.
	require.Len(t, pub.batches, 1)
	require.Len(t, pub.batches[0].Deltas, 1)
	assert.Equal(t, "OSK-PRESS-01", pub.batches[0].Deltas[0].DisplayID)

	// Nagoya's entry is exactly as the first cycle left it.
	snap, ok := snaps.Get(model.EquipmentKey{Site: "nagoya", ID: 201})
	require.True(t, ok)
	assert.Equal(t, model.StatusRun, snap.Status)
	assert.Equal(t, t1, snap.LastSeenAt)
}

func TestEngine_UnresolvableIdentityDropped(t *testing.T) {
	uni := singleSiteUniverse()
	uni.display = map[model.EquipmentKey]string{} // mapping removed

	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, uni, snaps, pub)

	eng.RunCycle(context.Background())
	src.batches["osaka"] = &db.SiteBatch{
		Site: "osaka", At: t1.Add(10 * time.Second),
		Rows: []db.EquipmentRow{statusRow(101, "RUN", t0)},
	}
	eng.RunCycle(context.Background())

	// No delta went out, but the snapshot was still replaced.
	assert.Empty(t, pub.batches)
	snap, _ := snaps.Get(model.EquipmentKey{Site: "osaka", ID: 101})
	assert.Equal(t, model.StatusRun, snap.Status)
}

func TestEngine_AllSitesFailingSkipsCycle(t *testing.T) {
	src := &fakeSource{errs: map[string]error{"osaka": context.DeadlineExceeded}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, singleSiteUniverse(), snaps, pub)

	eng.RunCycle(context.Background())

	assert.Empty(t, pub.batches)
	assert.Equal(t, 0, snaps.Len())
}

func TestEngine_CyclePanicRecovered(t *testing.T) {
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	eng := newTestEngine(src, singleSiteUniverse(), snaps, panickyPublisher{})

	eng.safeCycle(context.Background()) // baseline, publisher untouched

	src.batches["osaka"] = &db.SiteBatch{
		Site: "osaka", At: t1.Add(10 * time.Second),
		Rows: []db.EquipmentRow{statusRow(101, "RUN", t0)},
	}
	assert.NotPanics(t, func() {
		eng.safeCycle(context.Background())
	})
	assert.Equal(t, StateIdle, eng.State())
}

type panickyPublisher struct{}

func (panickyPublisher) Publish(model.BatchDelta) { panic("publisher down") }

func TestEngine_SequenceIncreasesAcrossBatches(t *testing.T) {
	src := &fakeSource{batches: map[string]*db.SiteBatch{
		"osaka": {Site: "osaka", At: t1, Rows: []db.EquipmentRow{statusRow(101, "IDLE", t0)}},
	}}
	snaps := store.NewSnapshotStore()
	pub := &capturePublisher{}
	eng := newTestEngine(src, singleSiteUniverse(), snaps, pub)

	eng.RunCycle(context.Background())
	src.batches["osaka"].Rows[0].Status = "RUN"
	eng.RunCycle(context.Background())
	src.batches["osaka"].Rows[0].Status = "STOP"
	eng.RunCycle(context.Background())

	require.Len(t, pub.batches, 2)
	assert.Less(t, pub.batches[0].Seq, pub.batches[1].Seq)
}
