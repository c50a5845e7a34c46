package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tymbalhq/tymbal/internal/agent"
	"github.com/tymbalhq/tymbal/internal/config"
	"github.com/tymbalhq/tymbal/internal/connmgr"
	"github.com/tymbalhq/tymbal/internal/store"
	"github.com/tymbalhq/tymbal/internal/tymbal"
)

// New constructs the HTTP handler for the service: the runtime websocket
// endpoint, health, the agent state snapshot, per-agent sync and assembled
// messages, and Prometheus metrics.
func New(mgr *connmgr.Manager, states *store.States, cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Handle(cfg.WSPath, mgr.WSHandler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(states.Snapshot())
	})
	r.Route("/agents/{channel}/{session}", func(ar chi.Router) {
		ar.Get("/sync", func(w http.ResponseWriter, r *http.Request) {
			id := agent.ID{Channel: chi.URLParam(r, "channel"), Session: chi.URLParam(r, "session")}
			var lastSeq uint64
			if v := r.URL.Query().Get("lastSeq"); v != "" {
				n, err := strconv.ParseUint(v, 10, 64)
				if err != nil {
					http.Error(w, "invalid lastSeq", http.StatusBadRequest)
					return
				}
				lastSeq = n
			}
			frame, ok := mgr.SyncAgent(id, lastSeq)
			if !ok {
				http.Error(w, "unknown agent", http.StatusNotFound)
				return
			}
			b, err := tymbal.MarshalFrame(frame)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(b)
		})
		ar.Get("/messages", func(w http.ResponseWriter, r *http.Request) {
			id := agent.ID{Channel: chi.URLParam(r, "channel"), Session: chi.URLParam(r, "session")}
			msgs, ok := mgr.AgentMessages(id)
			if !ok {
				http.Error(w, "unknown agent", http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(msgs)
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
