package db

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CycleStats keeps track of poll cycle outcomes.
type CycleStats struct {
	sync.Mutex
	Cycles       int
	DeltasSent   int
	SiteFailures int
	Dropped      int // identities without a display mapping
}

// NewCycleStats starts the periodic summary logger.
func NewCycleStats(logger *zap.SugaredLogger) *CycleStats {
	stats := &CycleStats{}
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			stats.Lock()
			logger.Infow("poll summary",
				"cycles", stats.Cycles,
				"deltas", stats.DeltasSent,
				"site_failures", stats.SiteFailures,
				"dropped_identities", stats.Dropped)
			stats.Unlock()
		}
	}()
	return stats
}

// IncrementCycle counts one completed poll cycle.
func (s *CycleStats) IncrementCycle() {
	s.Lock()
	s.Cycles++
	s.Unlock()
}

// AddDeltas counts deltas handed to the fan-out.
func (s *CycleStats) AddDeltas(n int) {
	s.Lock()
	s.DeltasSent += n
	s.Unlock()
}

// IncrementSiteFailure counts one skipped per-site fetch.
func (s *CycleStats) IncrementSiteFailure() {
	s.Lock()
	s.SiteFailures++
	s.Unlock()
}

// IncrementDropped counts one identity dropped for lack of a mapping.
func (s *CycleStats) IncrementDropped() {
	s.Lock()
	s.Dropped++
	s.Unlock()
}
