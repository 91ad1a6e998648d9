// ABOUTME: HTTP route table and cross-cutting middleware for the gateway
// ABOUTME: Uses chi for routing, go-chi/cors for browser clients and promhttp for scraping

package gateway

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	if g.config.Metrics.Enabled {
		r.Use(instrument)
	}
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(g.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: g.config.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/start", g.handleStart)
		r.Post("/stop", g.handleStop)
		r.Post("/send-message", g.handleSendMessage)
		r.Get("/token", g.handleToken)
		r.Post("/callbacks", g.handleCallback)
		r.Get("/instances", g.handleListInstances)
		r.Get("/rooms/{roomID}/ws", g.handleRoomSocket)
	})

	return r
}

// recoverer turns a handler panic into a JSON 500.
func (g *Gateway) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			g.logger.Error("unhandled error",
				"error", fmt.Sprint(rec),
				"path", r.URL.Path,
				"request_id", chimw.GetReqID(r.Context()),
				"stack", string(debug.Stack()),
			)
			g.sendJSONError(w, http.StatusInternalServerError, "Internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}
