// Package store holds the in-memory snapshot cache: the last-known full
// state of every equipment identity, and the baseline the poll engine
// diffs against.
package store

import (
	"sync"

	"fleetsync/internal/model"
)

// SnapshotStore maps equipment identity to its last-known full state.
// Written only by the poll engine, one whole cycle at a time; read by any
// number of concurrent readers. Entries are never deleted: an identity
// missing from one poll is left untouched, since one faulty fetch must not
// look like decommissioning.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[model.EquipmentKey]model.Snapshot
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[model.EquipmentKey]model.Snapshot),
	}
}

// Get returns the snapshot for one identity.
func (s *SnapshotStore) Get(key model.EquipmentKey) (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[key]
	return snap, ok
}

// All returns a copy of every snapshot. Safe to hold across the next
// cycle's write.
func (s *SnapshotStore) All() []model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Snapshot, 0, len(s.snapshots))
	for _, snap := range s.snapshots {
		out = append(out, snap)
	}
	return out
}

// ApplyCycle replaces the entries for every identity in the batch with its
// new full value under one write lock, so a concurrent reader sees either
// the whole pre-cycle or the whole post-cycle state, never a mix.
func (s *SnapshotStore) ApplyCycle(snapshots []model.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snapshots {
		s.snapshots[snap.Key] = snap
	}
}

// Len returns the number of known identities.
func (s *SnapshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Empty reports whether a baseline has been established yet.
func (s *SnapshotStore) Empty() bool {
	return s.Len() == 0
}
