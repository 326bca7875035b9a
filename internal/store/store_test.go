package store

import (
	"sync"
	"testing"
	"time"

	"fleetsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(site string, id int64, status model.Status, seen time.Time) model.Snapshot {
	return model.Snapshot{
		Key:        model.EquipmentKey{Site: site, ID: id},
		Status:     status,
		LastSeenAt: seen,
	}
}

func TestApplyCycle_FullOverwrite(t *testing.T) {
	s := NewSnapshotStore()
	t0 := time.Now()

	lot := &model.Lot{LotID: "LOT-1", StartedAt: t0}
	first := snap("osaka", 101, model.StatusRun, t0)
	first.Lot = lot
	first.ProductionCount = 10
	s.ApplyCycle([]model.Snapshot{first})

	// The replacement carries no lot: the old one must not survive as a
	// leftover field.
	second := snap("osaka", 101, model.StatusIdle, t0.Add(10*time.Second))
	s.ApplyCycle([]model.Snapshot{second})

	got, ok := s.Get(model.EquipmentKey{Site: "osaka", ID: 101})
	require.True(t, ok)
	assert.Equal(t, model.StatusIdle, got.Status)
	assert.Nil(t, got.Lot)
	assert.Equal(t, int64(0), got.ProductionCount)
}

func TestApplyCycle_NeverDeletesAbsentIdentities(t *testing.T) {
	s := NewSnapshotStore()
	t0 := time.Now()

	s.ApplyCycle([]model.Snapshot{
		snap("osaka", 101, model.StatusRun, t0),
		snap("osaka", 102, model.StatusIdle, t0),
	})

	// 102 disappears from the next cycle's result.
	s.ApplyCycle([]model.Snapshot{snap("osaka", 101, model.StatusStop, t0.Add(time.Second))})

	require.Equal(t, 2, s.Len())
	got, ok := s.Get(model.EquipmentKey{Site: "osaka", ID: 102})
	require.True(t, ok)
	assert.Equal(t, model.StatusIdle, got.Status)
	assert.Equal(t, t0, got.LastSeenAt)
}

func TestAll_ReturnsCopy(t *testing.T) {
	s := NewSnapshotStore()
	t0 := time.Now()
	s.ApplyCycle([]model.Snapshot{snap("osaka", 101, model.StatusRun, t0)})

	all := s.All()
	require.Len(t, all, 1)
	all[0].Status = model.StatusStop

	got, _ := s.Get(model.EquipmentKey{Site: "osaka", ID: 101})
	assert.Equal(t, model.StatusRun, got.Status)
}

func TestConcurrentReadersDuringApply(t *testing.T) {
	s := NewSnapshotStore()
	t0 := time.Now()
	s.ApplyCycle([]model.Snapshot{snap("osaka", 101, model.StatusIdle, t0)})

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = s.All()
					_, _ = s.Get(model.EquipmentKey{Site: "osaka", ID: 101})
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		s.ApplyCycle([]model.Snapshot{snap("osaka", 101, model.StatusRun, t0.Add(time.Duration(i)*time.Second))})
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 1, s.Len())
}

func TestEmpty(t *testing.T) {
	s := NewSnapshotStore()
	assert.True(t, s.Empty())
	s.ApplyCycle([]model.Snapshot{snap("osaka", 101, model.StatusRun, time.Now())})
	assert.False(t, s.Empty())
}
