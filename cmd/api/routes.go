package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/festalink/backend/internal/app"
	"github.com/festalink/backend/internal/httpx"
	"github.com/festalink/backend/internal/router"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// newMux mounts the API next to the health and metrics endpoints.
func newMux(a *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/", router.New(a.Handlers(), a.Auth))
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /health/db", dbHealth(a.Pool))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func health(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func dbHealth(db pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
