// Package api exposes the sync orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/ingest"
	"github.com/sells-group/provider-sync/internal/merge"
	"github.com/sells-group/provider-sync/internal/model"
	"github.com/sells-group/provider-sync/internal/providersync"
)

// Engine is the orchestrator surface the handlers call.
type Engine interface {
	RunFull(ctx context.Context, opts providersync.FullOpts) (*model.SyncResult, error)
	RunIngestion(ctx context.Context, opts ingest.IngestOpts) (*model.SyncResult, error)
	RunMatchAndMerge(ctx context.Context, categories []string) (*model.SyncResult, error)
	SyncProvider(ctx context.Context, name, category, location string) (*model.SingleResult, error)
	RebuildRankings(ctx context.Context, category string) (*model.SyncResult, error)
	ResetMatches(ctx context.Context, category string) (*model.SyncResult, error)
	Stats(ctx context.Context) (*model.SyncStats, error)
	IsSyncNeeded(ctx context.Context, window time.Duration) (bool, *model.RunRecord, error)
	History(ctx context.Context, limit int) ([]model.RunRecord, error)
}

// Handler serves the v1 sync API.
type Handler struct {
	engine Engine
	window time.Duration
}

// NewRouter builds the chi router. window is the default staleness window
// for /v1/sync/status.
func NewRouter(engine Engine, corsOrigins []string, window time.Duration) http.Handler {
	h := &Handler{engine: engine, window: window}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sync/full", h.runFull)
		r.Post("/sync/ingest", h.runIngest)
		r.Post("/sync/match-merge", h.runMatchMerge)
		r.Post("/sync/provider", h.syncProvider)
		r.Post("/sync/reset-matches", h.resetMatches)
		r.Post("/rankings/rebuild", h.rebuildRankings)
		r.Get("/sync/stats", h.stats)
		r.Get("/sync/status", h.status)
		r.Get("/sync/runs", h.runs)
	})
	return r
}

type ingestRequest struct {
	Categories []string `json:"categories"`
	Location   string   `json:"location"`
	Limit      int      `json:"limit"`
	SkipGoogle bool     `json:"skip_google"`
	SkipYelp   bool     `json:"skip_yelp"`
}

func (r ingestRequest) opts() ingest.IngestOpts {
	return ingest.IngestOpts{
		Categories: r.Categories,
		Location:   r.Location,
		Limit:      r.Limit,
		SkipGoogle: r.SkipGoogle,
		SkipYelp:   r.SkipYelp,
	}
}

type fullRequest struct {
	ingestRequest
	SkipIngest   bool `json:"skip_ingest"`
	SkipMatch    bool `json:"skip_match"`
	SkipMerge    bool `json:"skip_merge"`
	SkipRankings bool `json:"skip_rankings"`
}

type providerRequest struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Location string `json:"location"`
}

// Runs are detached from the request so a dropped client does not abort
// a run halfway.
func runContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (h *Handler) runFull(w http.ResponseWriter, r *http.Request) {
	var req fullRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.RunFull(runContext(r), providersync.FullOpts{
		Ingest:       req.opts(),
		SkipIngest:   req.SkipIngest,
		SkipMatch:    req.SkipMatch,
		SkipMerge:    req.SkipMerge,
		SkipRankings: req.SkipRankings,
	})
	respond(w, res, err)
}

func (h *Handler) runIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.RunIngestion(runContext(r), req.opts())
	respond(w, res, err)
}

func (h *Handler) runMatchMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Categories []string `json:"categories"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.RunMatchAndMerge(runContext(r), req.Categories)
	respond(w, res, err)
}

func (h *Handler) syncProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" || req.Category == "" {
		writeError(w, http.StatusBadRequest, "name and category are required")
		return
	}
	res, err := h.engine.SyncProvider(runContext(r), req.Name, req.Category, req.Location)
	respond(w, res, err)
}

func (h *Handler) rebuildRankings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.RebuildRankings(runContext(r), req.Category)
	respond(w, res, err)
}

func (h *Handler) resetMatches(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Category string `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := h.engine.ResetMatches(runContext(r), req.Category)
	respond(w, res, err)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Stats(r.Context())
	respond(w, res, err)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	window := h.window
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}
	needed, last, err := h.engine.IsSyncNeeded(r.Context(), window)
	if err != nil {
		respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sync_needed": needed,
		"window":      window.String(),
		"last_run":    last,
	})
}

func (h *Handler) runs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := h.engine.History(r.Context(), limit)
	if err != nil {
		respond(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// decode reads an optional JSON body. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respond(w http.ResponseWriter, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v)
		return
	}
	switch {
	case errors.Is(err, providersync.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, merge.ErrCategoryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		zap.L().Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
