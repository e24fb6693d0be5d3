package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/marketfeed/internal/connection"
	"github.com/rickgao/marketfeed/internal/feed"
	"github.com/rickgao/marketfeed/internal/model"
	"github.com/rickgao/marketfeed/internal/router"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type managerStats interface {
	Stats() connection.ManagerStats
}

// newHTTPHandler serves metrics, health and per-security history.
func newHTTPHandler(metricsPath string, gatherer prometheus.Gatherer, f *feed.Feed, db pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mountStatus(r, f.Manager(), f.Router(), db)

	return r
}

func mountStatus(r chi.Router, mgr managerStats, rt router.Router, db pinger) {
	r.Get("/health", healthHandler(mgr, rt, db))
	r.Get("/history/{security}", historyHandler(rt))
}

func healthHandler(mgr managerStats, rt router.Router, db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		stats := mgr.Stats()
		routerStats := rt.Stats()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		health.Components["feed"] = map[string]any{
			"state":              stats.State.String(),
			"reconnect_attempts": stats.ReconnectAttempts,
			"opens":              stats.Opens,
			"messages":           stats.Messages,
			"malformed":          stats.Malformed,
			"errors":             stats.Errors,
			"queued":             stats.Queue.Pending,
		}
		switch stats.State {
		case connection.StateOpen:
		case connection.StateConnecting, connection.StateReconnectWaiting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		health.Components["router"] = map[string]any{
			"subscribed":   rt.Subscribed(),
			"securities":   routerStats.Securities,
			"ticks":        routerStats.TicksRouted,
			"parse_errors": routerStats.ParseErrors,
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["timescaledb"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["timescaledb"] = "connected"
			}
		}

		status := http.StatusOK
		if health.Status == "unhealthy" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, health)
	}
}

type historyPoint struct {
	model.Tick
	ReceivedAt time.Time `json:"received_at"`
}

func historyHandler(rt router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		security := chi.URLParam(r, "security")

		snap := rt.History().Snapshot(security)
		if len(snap) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no history for " + security})
			return
		}

		points := make([]historyPoint, len(snap))
		for i, msg := range snap {
			points[i] = historyPoint{Tick: msg.Tick, ReceivedAt: msg.ReceivedAt}
		}
		writeJSON(w, http.StatusOK, points)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
