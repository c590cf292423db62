// Package handler exposes the search evaluator over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/LuizLemos21/FileExplorer/internal/analytics"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/cache"
	"github.com/LuizLemos21/FileExplorer/internal/searcher/evaluator"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
	"github.com/LuizLemos21/FileExplorer/pkg/logger"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
	"github.com/LuizLemos21/FileExplorer/pkg/middleware"
	"github.com/LuizLemos21/FileExplorer/pkg/resilience"
	"github.com/LuizLemos21/FileExplorer/pkg/tracing"
)

// VolumeFromPath derives the volume hint from a caller-supplied directory:
// its first character, e.g. "C" for `C:\Users` and "/" for "/home".
func VolumeFromPath(dir string) (string, error) {
	if dir == "" {
		return "", apperrors.InvalidInput("query parameter 'dir' is required")
	}
	r, _ := utf8.DecodeRuneInString(dir)
	return string(r), nil
}

type Handler struct {
	state     *fsindex.State
	evaluator *evaluator.Evaluator
	cache     *cache.QueryCache
	collector *analytics.Collector
	metrics   *metrics.Metrics
	slots     *semaphore.Weighted
	cfg       config.SearchConfig
	logger    *slog.Logger
}

// New wires a Handler. queryCache, collector and m may be nil.
func New(
	state *fsindex.State,
	ev *evaluator.Evaluator,
	queryCache *cache.QueryCache,
	collector *analytics.Collector,
	m *metrics.Metrics,
	cfg config.SearchConfig,
) *Handler {
	slots := cfg.MaxConcurrentQueries
	if slots < 1 {
		slots = 1
	}
	return &Handler{
		state:     state,
		evaluator: ev,
		cache:     queryCache,
		collector: collector,
		metrics:   m,
		slots:     semaphore.NewWeighted(int64(slots)),
		cfg:       cfg,
		logger:    slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/volumes", h.Volumes)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	Query      string             `json:"query"`
	Volume     string             `json:"volume"`
	Generation uint64             `json:"generation"`
	Returned   int                `json:"returned"`
	CacheHit   bool               `json:"cache_hit"`
	Results    []evaluator.Result `json:"results"`
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q, err := h.parseQuery(r)
	if err != nil {
		h.countQuery(metrics.ResultBadRequest)
		h.writeError(w, err)
		return
	}

	ctx, span := tracing.StartSpan(ctx, "search", middleware.GetRequestID(ctx))
	defer func() {
		span.End()
		span.Log(ctx, log)
	}()

	snap := h.state.Load()
	span.SetAttr("volume", q.VolumeID)
	span.SetAttr("generation", snap.Generation)
	compute := func(ctx context.Context) ([]evaluator.Result, error) {
		return h.evaluate(ctx, snap, q)
	}

	var results []evaluator.Result
	cacheHit := false
	if h.cache != nil {
		vol, _ := snap.Index.Volume(q.VolumeID)
		results, cacheHit, err = h.cache.GetOrCompute(ctx, cache.Key(vol.Fingerprint(), q), compute)
	} else {
		results, err = compute(ctx)
	}
	if err != nil {
		status := metrics.ResultError
		if errors.Is(err, apperrors.ErrTimeout) {
			status = metrics.ResultTimeout
		}
		h.countQuery(status)
		log.Error("search failed",
			"query", q.Text,
			"volume", q.VolumeID,
			"error", err,
		)
		if ctx.Err() != nil {
			err = apperrors.New(apperrors.ErrTimeout, http.StatusServiceUnavailable, "request cancelled")
		}
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []evaluator.Result{}
	}
	span.SetAttr("cache_hit", cacheHit)
	span.SetAttr("returned", len(results))

	latency := time.Since(start)
	h.observe(results, cacheHit, latency)
	log.Info("search completed",
		"query", q.Text,
		"volume", q.VolumeID,
		"generation", snap.Generation,
		"returned", len(results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	if h.collector != nil {
		files, dirs := evaluator.Counts(results)
		h.collector.Track(analytics.SearchEvent{
			Type:              analytics.TypeFor(len(results), cacheHit),
			Query:             q.Text,
			Volume:            q.VolumeID,
			Extension:         q.Extension,
			AcceptFiles:       q.AcceptFiles,
			AcceptDirectories: q.AcceptDirectories,
			Returned:          len(results),
			Files:             files,
			Directories:       dirs,
			LatencyMs:         latency.Milliseconds(),
			CacheHit:          cacheHit,
			Generation:        snap.Generation,
			Timestamp:         time.Now().UTC(),
			RequestID:         middleware.GetRequestID(ctx),
		})
	}

	h.writeJSON(w, http.StatusOK, searchResponse{
		Query:      q.Text,
		Volume:     q.VolumeID,
		Generation: snap.Generation,
		Returned:   len(results),
		CacheHit:   cacheHit,
		Results:    results,
	})
}

// evaluate waits for a scan slot, then runs the scan. Both the wait and the
// scan are bounded by the configured timeout, since ctx may be detached from
// the request when the scan is shared through the cache. A timed-out scan is
// abandoned.
func (h *Handler) evaluate(ctx context.Context, snap *fsindex.Snapshot, q evaluator.Query) ([]evaluator.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, wait := tracing.StartChildSpan(ctx, "wait_slot")
	err := h.acquireSlot(ctx)
	wait.End()
	if err != nil {
		return nil, err
	}
	defer h.slots.Release(1)

	ctx, scan := tracing.StartChildSpan(ctx, "scan")
	defer scan.End()
	var results []evaluator.Result
	err = resilience.WithTimeout(ctx, h.cfg.Timeout, "search", func(ctx context.Context) error {
		var err error
		results, err = h.evaluator.EvaluateSnapshot(ctx, snap, q)
		return err
	})
	if err != nil {
		return nil, err
	}
	scan.SetAttr("results", len(results))
	return results, nil
}

func (h *Handler) acquireSlot(ctx context.Context) error {
	if h.cfg.Timeout <= 0 {
		return h.slots.Acquire(ctx, 1)
	}
	waitCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	err := h.slots.Acquire(waitCtx, 1)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("waiting for scan slot: %w: %w", apperrors.ErrTimeout, err)
	}
	return err
}

func (h *Handler) parseQuery(r *http.Request) (evaluator.Query, error) {
	params := r.URL.Query()
	dir := params.Get("dir")
	volume, err := VolumeFromPath(dir)
	if err != nil {
		return evaluator.Query{}, err
	}
	q := evaluator.Query{
		Text:      params.Get("q"),
		VolumeID:  volume,
		Extension: params.Get("ext"),
		Limit:     h.cfg.MaxResults,
	}
	if q.AcceptFiles, err = parseBool(params.Get("files"), "files"); err != nil {
		return evaluator.Query{}, err
	}
	if q.AcceptDirectories, err = parseBool(params.Get("dirs"), "dirs"); err != nil {
		return evaluator.Query{}, err
	}
	if s := params.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return evaluator.Query{}, apperrors.InvalidInput("limit must be a positive integer")
		}
		if h.cfg.MaxResults <= 0 || n < h.cfg.MaxResults {
			q.Limit = n
		}
	}
	if h.cfg.ScopeToDirectory {
		q.Scope = dir
	}
	return q, nil
}

// parseBool treats an absent flag as true.
func parseBool(s, name string) (bool, error) {
	if s == "" {
		return true, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, apperrors.InvalidInput("%s must be a boolean", name)
	}
	return v, nil
}

type volumeInfo struct {
	ID        string `json:"id"`
	Filenames int    `json:"filenames"`
	Entries   int    `json:"entries"`
}

// Volumes lists the indexed volumes in the current snapshot.
func (h *Handler) Volumes(w http.ResponseWriter, r *http.Request) {
	snap := h.state.Load()
	ids := snap.Index.VolumeIDs()
	volumes := make([]volumeInfo, 0, len(ids))
	for _, id := range ids {
		vol, _ := snap.Index.Volume(id)
		volumes = append(volumes, volumeInfo{ID: id, Filenames: vol.Len(), Entries: vol.EntryCount()})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"generation":   snap.Generation,
		"published_at": snap.PublishedAt,
		"volumes":      volumes,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	var hitRate float64
	if total := stats.Hits + stats.Misses; total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    stats,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "caching is disabled"})
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cache invalidation failed"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) observe(results []evaluator.Result, cacheHit bool, latency time.Duration) {
	if h.metrics == nil {
		return
	}
	cacheStatus := "miss"
	result := metrics.ResultMiss
	if cacheHit {
		cacheStatus = "hit"
		result = metrics.ResultHit
	}
	if len(results) == 0 {
		result = metrics.ResultZero
	}
	h.metrics.SearchQueriesTotal.WithLabelValues(result).Inc()
	h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	h.metrics.SearchResultsCount.Observe(float64(len(results)))
}

func (h *Handler) countQuery(result string) {
	if h.metrics != nil {
		h.metrics.SearchQueriesTotal.WithLabelValues(result).Inc()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": apperrors.Message(err)})
}
