// Package api serves entries, flows and entities over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/indoorsun/internal/coordinator"
	"github.com/dokzlo13/indoorsun/internal/entity"
	"github.com/dokzlo13/indoorsun/internal/flow"
	"github.com/dokzlo13/indoorsun/internal/ledger"
	"github.com/dokzlo13/indoorsun/internal/registry"
)

// Entries is the runtime view of configured entries.
type Entries interface {
	Statuses(ctx context.Context) ([]registry.EntryStatus, error)
	Status(ctx context.Context, id string) (registry.EntryStatus, error)
	Remove(ctx context.Context, id string) error
	Refresh(ctx context.Context, id string) (coordinator.Snapshot, error)
	Snapshot(id string) (coordinator.Snapshot, error)
	Entities() []entity.Entity
	Entity(entityID string) (entity.Entity, bool)
	ImageEntity(entryID string) (*entity.ImageEntity, bool)
	Ready() bool
}

// Flows drives setup and options flows.
type Flows interface {
	StartSetup(ctx context.Context) (*flow.Result, error)
	StartOptions(ctx context.Context, entryID string) (*flow.Result, error)
	Configure(ctx context.Context, flowID string, input map[string]any) (*flow.Result, error)
	Get(flowID string) (*flow.Result, error)
	Abort(flowID string) error
}

// History returns recorded events of an entry.
type History interface {
	History(entryID string, limit int) ([]*ledger.Record, error)
}

// Server is the REST API server.
type Server struct {
	addr       string
	entries    Entries
	flows      Flows
	history    History
	httpServer *http.Server
}

// NewServer creates a new API server. history may be nil.
func NewServer(addr string, entries Entries, flows Flows, history History) *Server {
	return &Server{
		addr:    addr,
		entries: entries,
		flows:   flows,
		history: history,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	registerHealth(mux, s.entries.Ready)

	mux.HandleFunc("GET /api/entries", s.handleListEntries)
	mux.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	mux.HandleFunc("DELETE /api/entries/{id}", s.handleDeleteEntry)
	mux.HandleFunc("POST /api/entries/{id}/refresh", s.handleRefreshEntry)
	mux.HandleFunc("GET /api/entries/{id}/history", s.handleEntryHistory)
	mux.HandleFunc("GET /api/entries/{id}/image", s.handleEntryImage)
	mux.HandleFunc("GET /api/entries/{id}/options", s.handleStartOptions)
	mux.HandleFunc("POST /api/entries/{id}/options", s.handleSubmitOptions)

	mux.HandleFunc("POST /api/flows", s.handleStartFlow)
	mux.HandleFunc("GET /api/flows/{id}", s.handleGetFlow)
	mux.HandleFunc("POST /api/flows/{id}", s.handleConfigureFlow)
	mux.HandleFunc("DELETE /api/flows/{id}", s.handleAbortFlow)

	mux.HandleFunc("GET /api/entities", s.handleListEntities)
	mux.HandleFunc("GET /api/entities/{entity_id}", s.handleGetEntity)

	return withLogging(mux)
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// HealthHandler serves only /health and /ready.
func HealthHandler(ready func() bool) http.Handler {
	mux := http.NewServeMux()
	registerHealth(mux, ready)
	return mux
}

func registerHealth(mux *http.ServeMux, ready func() bool) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once every entry has been set up
	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request and turns handler panics into 500s.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if p := recover(); p != nil {
				log.Error().Interface("panic", p).Str("path", r.URL.Path).Msg("API handler panicked")
				writeError(rec, http.StatusInternalServerError, "internal error")
			}
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("API request")
		}()

		next.ServeHTTP(rec, r)
	})
}
