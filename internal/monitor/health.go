package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetsync/internal/db"
	"fleetsync/internal/engine"
	"fleetsync/internal/model"
	"fleetsync/internal/realtime"
	"fleetsync/internal/service"
	"fleetsync/internal/store"

	"go.uber.org/zap"
)

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// StartServer starts the HTTP server: health checks, the websocket
// endpoint, and the synchronous snapshot reads.
func StartServer(registry *db.Registry, eng *engine.Engine, hub *realtime.Hub, sites *service.SiteService, snapshots *store.SnapshotStore, secret, addr string, logger *zap.SugaredLogger) {
	mux := NewMux(registry, eng, hub, sites, snapshots, secret, logger)

	logger.Infof("starting http server on %s", addr)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http server stopped", "error", err)
		}
	}()
}

// NewMux builds the route table.
func NewMux(registry *db.Registry, eng *engine.Engine, hub *realtime.Hub, sites *service.SiteService, snapshots *store.SnapshotStore, secret string, logger *zap.SugaredLogger) *http.ServeMux {
	mux := http.NewServeMux()

	// --- Liveness ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "alive",
			Message: "Service is running",
		})
	})

	// --- Readiness ---
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		healthDetails := make(map[string]string)
		var errors []string

		if err := registry.Ping(ctx); err != nil {
			healthDetails["databases"] = "unhealthy"
			errors = append(errors, fmt.Sprintf("registry unhealthy: %v", err))
		} else {
			healthDetails["databases"] = "healthy"
		}

		healthDetails["engine"] = eng.State().String()
		if snapshots.Empty() {
			healthDetails["baseline"] = "missing"
			errors = append(errors, "no baseline yet")
		} else {
			healthDetails["baseline"] = "established"
		}
		healthDetails["clients"] = fmt.Sprintf("%d", hub.ClientCount())

		statusCode := http.StatusOK
		statusMsg := "ready"
		if len(errors) > 0 {
			statusCode = http.StatusServiceUnavailable
			statusMsg = fmt.Sprintf("%d component(s) failing", len(errors))
		}

		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  statusMsg,
			Details: healthDetails,
		})
	})

	// --- WebSocket endpoint ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		realtime.ServeWS(hub, secret, w, r)
	})

	// --- On-demand full read, filtered by declared level ---
	mux.HandleFunc("/api/equipment", func(w http.ResponseWriter, r *http.Request) {
		sub, err := subscriptionFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.SnapshotMessage{
			Type:      model.TypeSnapshot,
			Equipment: hub.SnapshotFor(sub),
		})
	})

	// --- Single-identity lookup by display id ---
	mux.HandleFunc("/api/equipment/", func(w http.ResponseWriter, r *http.Request) {
		displayID := strings.TrimPrefix(r.URL.Path, "/api/equipment/")
		if displayID == "" {
			http.Error(w, "display id required", http.StatusBadRequest)
			return
		}
		sub, err := subscriptionFromQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		key, ok := sites.ResolveDisplay(displayID)
		if !ok {
			logger.Debugw("lookup for unmapped display id", "display_id", displayID)
			http.Error(w, "unknown display id", http.StatusNotFound)
			return
		}
		snap, ok := snapshots.Get(key)
		if !ok {
			http.Error(w, "no snapshot yet", http.StatusNotFound)
			return
		}

		fields := realtime.FilterFields(model.SnapshotFields(snap), sub.LevelFor(key.Site))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(model.SnapshotEntry{
			Site:      key.Site,
			DisplayID: displayID,
			Fields:    fields,
		})
	})

	return mux
}

func subscriptionFromQuery(r *http.Request) (*realtime.Subscription, error) {
	level := model.LevelStandard
	if name := r.URL.Query().Get("level"); name != "" {
		parsed, err := model.ParseLevel(name)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	return &realtime.Subscription{Level: level}, nil
}
