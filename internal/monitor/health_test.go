package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/db"
	"fleetsync/internal/engine"
	"fleetsync/internal/model"
	"fleetsync/internal/realtime"
	"fleetsync/internal/service"
	"fleetsync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSitesDoc = `
sites:
  - name: osaka
    enabled: true
    database:
      name: line1
      host: db.osaka.example
      user: monitor
      password: secret
    equipment:
      - id: 101
        display_id: OSK-PRESS-01
`

func testMux(t *testing.T) *http.ServeMux {
	t.Helper()
	logger := zap.NewNop().Sugar()

	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSitesDoc), 0o644))
	sites := service.NewSiteService(path, logger)
	require.NoError(t, sites.Load())

	snaps := store.NewSnapshotStore()
	snaps.ApplyCycle([]model.Snapshot{{
		Key:             model.EquipmentKey{Site: "osaka", ID: 101},
		Status:          model.StatusRun,
		StatusChangedAt: time.Now(),
		ProductionCount: 7,
		LastSeenAt:      time.Now(),
	}})

	registry := db.NewRegistry(&config.Config{}, sites, logger)
	hub := realtime.NewHub(snaps, sites, time.Minute, logger)
	eng := engine.New(nil, nil, snaps, nil, db.NewCycleStats(logger), time.Second, time.Second, logger)

	return NewMux(registry, eng, hub, sites, snaps, "", logger)
}

func TestHealthEndpoint(t *testing.T) {
	mux := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "alive", out.Status)
}

func TestReadyEndpoint(t *testing.T) {
	mux := testMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	// Baseline is present and no pools are registered, so ready.
	require.Equal(t, http.StatusOK, rec.Code)
	var out HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ready", out.Status)
	assert.Equal(t, "idle", out.Details["engine"])
}

func TestEquipmentList_LevelFilter(t *testing.T) {
	mux := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/equipment?level=minimal", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out model.SnapshotMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.Equipment, 1)
	assert.Equal(t, "OSK-PRESS-01", out.Equipment[0].DisplayID)
	assert.Contains(t, out.Equipment[0].Fields, model.FieldStatus)
	assert.NotContains(t, out.Equipment[0].Fields, model.FieldProductionCount)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/equipment?level=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEquipmentLookup(t *testing.T) {
	mux := testMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/equipment/OSK-PRESS-01?level=standard", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var out model.SnapshotEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "osaka", out.Site)
	assert.Contains(t, out.Fields, model.FieldProductionCount)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/equipment/NOPE", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubscriptionFromQuery_Defaults(t *testing.T) {
	sub, err := subscriptionFromQuery(httptest.NewRequest(http.MethodGet, "/api/equipment", nil))
	require.NoError(t, err)
	assert.Equal(t, model.LevelStandard, sub.Level)
}
