// Package server assembles the HTTP control API: router, middleware chain,
// and route registration over a running hub.
package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hgdev/sonos-bridge/internal/api"
	"github.com/hgdev/sonos-bridge/internal/auth"
	"github.com/hgdev/sonos-bridge/internal/config"
	"github.com/hgdev/sonos-bridge/internal/hub"
)

// requestLoggerMiddleware logs all incoming HTTP requests. The chi wrapper
// keeps Hijacker and Flusher intact, which the websocket upgrade on
// /v1/events depends on.
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Printf("API: %s %s %d %s rid=%s",
			r.Method, r.URL.Path, status, time.Since(start).Round(time.Millisecond), api.GetRequestID(r))
	})
}

// NewHandler builds the HTTP handler over the hub and returns a shutdown
// function for the background pieces the handler owns.
func NewHandler(cfg config.Config, bridge *hub.Hub) (http.Handler, func(context.Context) error) {
	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(api.RequestIDMiddleware)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg.APISecret))

	registerHealthRoutes(router)

	pairingStore := auth.NewPairingStore(5 * time.Minute)
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	pairingStore.StartCleanup(shutdownCtx, time.Minute)
	auth.RegisterRoutes(router, pairingStore, cfg.APISecret)

	api.RegisterRoutes(router, bridge)
	api.RegisterEventRoutes(router, bridge.Events())

	shutdown := func(ctx context.Context) error {
		shutdownCancel()
		return nil
	}
	return router, shutdown
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "sonos-bridge",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
