package service

import (
	"context"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/db"
	"fleetsync/internal/model"

	"go.uber.org/zap"
)

// siteState is the immutable product of one site-document load: the parsed
// document plus the lookup tables derived from it. A reload builds a fresh
// one and swaps the pointer wholesale; nothing mutates a published state.
type siteState struct {
	doc          *config.SiteDocument
	displayByKey map[model.EquipmentKey]string
	idsBySite    map[string][]int64
	enabledSites []string
	mtime        time.Time
}

// SiteService owns the externally maintained site configuration: the
// equipment-to-display mapping and the (site, database) activation set. It
// serves as the poll engine's universe, the hub's resolver and the
// connection registry's activation source, and watches the document file
// for operator edits.
type SiteService struct {
	path   string
	logger *zap.SugaredLogger
	state  atomic.Pointer[siteState]

	mu       sync.Mutex
	onReload []func()
}

func NewSiteService(path string, logger *zap.SugaredLogger) *SiteService {
	return &SiteService{path: path, logger: logger}
}

// Load reads the document from disk and swaps the active state.
func (s *SiteService) Load() error {
	doc, err := config.LoadSiteDocument(s.path)
	if err != nil {
		return err
	}

	var mtime time.Time
	if info, err := os.Stat(s.path); err == nil {
		mtime = info.ModTime()
	}

	s.state.Store(buildSiteState(doc, mtime))
	s.logger.Infow("site configuration loaded", "sites", len(doc.Sites))
	return nil
}

func buildSiteState(doc *config.SiteDocument, mtime time.Time) *siteState {
	st := &siteState{
		doc:          doc,
		displayByKey: make(map[model.EquipmentKey]string),
		idsBySite:    make(map[string][]int64),
		mtime:        mtime,
	}
	for _, site := range doc.Sites {
		for _, eq := range site.Equipment {
			st.displayByKey[model.EquipmentKey{Site: site.Name, ID: eq.ID}] = eq.DisplayID
			st.idsBySite[site.Name] = append(st.idsBySite[site.Name], eq.ID)
		}
		if site.Enabled {
			st.enabledSites = append(st.enabledSites, site.Name)
		}
	}
	sort.Strings(st.enabledSites)
	return st
}

// OnReload registers a callback fired after every successful re-load.
func (s *SiteService) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}

// Watch polls the document's mtime and reloads on change, firing the
// registered callbacks (registry reload, typically). Runs until the
// context is canceled.
func (s *SiteService) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				s.logger.Warnw("site config stat failed", "path", s.path, "error", err)
				continue
			}
			cur := s.state.Load()
			if cur != nil && !info.ModTime().After(cur.mtime) {
				continue
			}

			if err := s.Load(); err != nil {
				// Keep serving the previous document on a bad edit.
				s.logger.Errorw("site config reload failed, keeping previous", "error", err)
				continue
			}

			s.mu.Lock()
			callbacks := append([]func(){}, s.onReload...)
			s.mu.Unlock()
			for _, fn := range callbacks {
				fn()
			}
		}
	}
}

// --- db.SiteSource ---

func (s *SiteService) IsEnabled(site, database string) bool {
	st := s.state.Load()
	if st == nil {
		return false
	}
	sc, ok := st.doc.Site(site)
	return ok && sc.Enabled && sc.Database.Name == database
}

func (s *SiteService) EnabledPairs() []db.Pair {
	st := s.state.Load()
	if st == nil {
		return nil
	}
	pairs := make([]db.Pair, 0, len(st.enabledSites))
	for _, name := range st.enabledSites {
		sc, _ := st.doc.Site(name)
		pairs = append(pairs, db.Pair{Site: name, Database: sc.Database.Name})
	}
	return pairs
}

func (s *SiteService) Connection(site, database string) (config.DatabaseConfig, bool) {
	st := s.state.Load()
	if st == nil {
		return config.DatabaseConfig{}, false
	}
	sc, ok := st.doc.Site(site)
	if !ok || sc.Database.Name != database {
		return config.DatabaseConfig{}, false
	}
	return sc.Database, true
}

func (s *SiteService) SiteDatabase(site string) (string, bool) {
	st := s.state.Load()
	if st == nil {
		return "", false
	}
	sc, ok := st.doc.Site(site)
	if !ok {
		return "", false
	}
	return sc.Database.Name, true
}

// --- engine.Universe / realtime.Resolver ---

// Sites returns the enabled sites, the universe of each poll cycle.
func (s *SiteService) Sites() []string {
	st := s.state.Load()
	if st == nil {
		return nil
	}
	return st.enabledSites
}

// EquipmentIDs returns the mapped identities of one site.
func (s *SiteService) EquipmentIDs(site string) []int64 {
	st := s.state.Load()
	if st == nil {
		return nil
	}
	return st.idsBySite[site]
}

// Resolve maps an equipment identity to its display identifier.
func (s *SiteService) Resolve(key model.EquipmentKey) (string, bool) {
	st := s.state.Load()
	if st == nil {
		return "", false
	}
	displayID, ok := st.displayByKey[key]
	return displayID, ok
}

// ResolveDisplay finds the identity behind a display identifier; used by
// the single-equipment REST lookup.
func (s *SiteService) ResolveDisplay(displayID string) (model.EquipmentKey, bool) {
	st := s.state.Load()
	if st == nil {
		return model.EquipmentKey{}, false
	}
	for key, d := range st.displayByKey {
		if d == displayID {
			return key, true
		}
	}
	return model.EquipmentKey{}, false
}
