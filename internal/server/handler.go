// Package server is the HTTP surface of the search service: search and
// reverse endpoints rendered as GeoJSON, document ingestion, cache and
// analytics administration.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/karteio/geosearch/internal/analytics"
	"github.com/karteio/geosearch/internal/document"
	"github.com/karteio/geosearch/internal/ingestion/publisher"
	"github.com/karteio/geosearch/internal/ingestion/validator"
	"github.com/karteio/geosearch/internal/search"
	"github.com/karteio/geosearch/internal/server/cache"
	"github.com/karteio/geosearch/internal/store"
	apperrors "github.com/karteio/geosearch/pkg/errors"
	"github.com/karteio/geosearch/pkg/logger"
	"github.com/karteio/geosearch/pkg/metrics"
)

// Handler serves the search API.
type Handler struct {
	engine    *search.Engine
	store     store.Reader
	cache     *cache.ResultCache
	publisher *publisher.Publisher
	collector *analytics.Collector
	cfg       HandlerConfig
	logger    *slog.Logger
}

// HandlerConfig is the request-shaping subset of the search configuration.
type HandlerConfig struct {
	DefaultLimit    int
	MaxResults      int
	Autocomplete    bool
	FuzzyEditBudget int
	FilterFields    []string
}

// New builds a Handler. cache, publisher, and collector may be nil; the
// matching endpoints then degrade or report unavailable.
func New(engine *search.Engine, st store.Reader, resultCache *cache.ResultCache, pub *publisher.Publisher, collector *analytics.Collector, cfg HandlerConfig) *Handler {
	return &Handler{
		engine:    engine,
		store:     st,
		cache:     resultCache,
		publisher: pub,
		collector: collector,
		cfg:       cfg,
		logger:    logger.WithComponent("search-handler"),
	}
}

// Search handles GET /api/v1/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	q, err := h.parseQuery(r)
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}

	var results []*search.Result
	cacheHit := false
	if h.cache != nil {
		results, cacheHit, err = h.cache.GetOrCompute(ctx, q, func() ([]*search.Result, error) {
			return h.engine.Search(ctx, q)
		})
	} else {
		results, err = h.engine.Search(ctx, q)
	}
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		log.Error("search failed", "query", q.Text, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "search failed")
		return
	}

	latency := time.Since(start)
	h.observe("search", q.Text, results, latency, cacheHit, q)
	log.Info("search completed",
		"query", q.Text,
		"results", len(results),
		"cache_hit", cacheHit,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, toFeatureCollection(q.Text, q.Limit, results))
}

// Reverse handles GET /api/v1/reverse.
func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	lat, lon, err := parseLatLon(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Reverse geocoding answers "what is here", so one hit unless asked.
	limit, err := h.parseLimit(r, 1)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.engine.Reverse(ctx, lat, lon, limit, filters)
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		log.Error("reverse failed", "lat", lat, "lon", lon, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "reverse geocoding failed")
		return
	}

	latency := time.Since(start)
	h.observeReverse(results, latency)
	log.Info("reverse completed",
		"lat", lat, "lon", lon,
		"results", len(results),
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, toFeatureCollection("", limit, results))
}

// IngestDocuments handles POST /api/v1/documents. The body is either a
// single document or an array; accepted documents are published for
// asynchronous indexing.
func (h *Handler) IngestDocuments(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ingestion is disabled")
		return
	}
	ctx := r.Context()
	log := logger.FromContext(ctx)

	docs, err := decodeDocuments(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(docs) == 0 {
		h.writeError(w, http.StatusBadRequest, "no documents in request body")
		return
	}

	resp, err := h.publisher.PublishIndex(ctx, docs)
	if err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		log.Error("ingestion failed", "count", len(docs), "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "ingestion failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, resp)
}

// DeleteDocument handles DELETE /api/v1/documents/{id}.
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ingestion is disabled")
		return
	}
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	if err := h.publisher.PublishDelete(r.Context(), id); err != nil {
		logger.FromContext(r.Context()).Error("delete failed", "id", id, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "delete failed")
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "accepted"})
}

// GetDocument handles GET /api/v1/documents/{id}.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "document id is required")
		return
	}
	doc, err := h.store.DocGet(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "document not found")
		return
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("document fetch failed", "id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "document fetch failed")
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": strconv.FormatFloat(hitRate, 'f', 1, 64) + "%",
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// parseQuery builds a search.Query from request parameters.
func (h *Handler) parseQuery(r *http.Request) (search.Query, error) {
	q := search.Query{
		Text:         r.URL.Query().Get("q"),
		Autocomplete: h.cfg.Autocomplete,
		Fuzzy:        h.cfg.FuzzyEditBudget,
	}
	if q.Text == "" {
		return q, apperrors.New(apperrors.ErrEmptyQuery, http.StatusBadRequest, "query parameter 'q' is required")
	}
	limit, err := h.parseLimit(r, h.cfg.DefaultLimit)
	if err != nil {
		return q, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
	}
	q.Limit = limit

	if v := r.URL.Query().Get("autocomplete"); v != "" {
		q.Autocomplete = v == "1" || v == "true"
	}
	if v := r.URL.Query().Get("fuzzy"); v != "" {
		if v == "1" || v == "true" {
			q.Fuzzy = h.cfg.FuzzyEditBudget
		} else {
			q.Fuzzy = 0
		}
	}
	if latStr, lonStr := r.URL.Query().Get("lat"), lonParam(r); latStr != "" && lonStr != "" {
		lat, lon, err := parseLatLon(r)
		if err != nil {
			return q, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, err.Error())
		}
		q.Center = &search.Point{Lat: lat, Lon: lon}
	}
	filters, err := h.parseFilters(r)
	if err != nil {
		return q, err
	}
	q.Filters = filters
	return q, nil
}

func (h *Handler) parseLimit(r *http.Request, fallback int) (int, error) {
	limit := fallback
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return 0, errors.New("limit must be a positive integer")
		}
		if parsed > h.cfg.MaxResults {
			parsed = h.cfg.MaxResults
		}
		limit = parsed
	}
	return limit, nil
}

// parseFilters collects filter parameters for the configured filter fields.
// Repeated parameters OR together.
func (h *Handler) parseFilters(r *http.Request) (map[string][]string, error) {
	var filters map[string][]string
	for _, field := range h.cfg.FilterFields {
		values := r.URL.Query()[field]
		if len(values) == 0 {
			continue
		}
		for _, v := range values {
			if v == "" {
				return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "filter %s must not be empty", field)
			}
		}
		if filters == nil {
			filters = make(map[string][]string)
		}
		filters[field] = values
	}
	return filters, nil
}

func parseLatLon(r *http.Request) (float64, float64, error) {
	latStr := r.URL.Query().Get("lat")
	lonStr := lonParam(r)
	if latStr == "" || lonStr == "" {
		return 0, 0, errors.New("parameters 'lat' and 'lon' are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, errors.New("lat must be a number within [-90, 90]")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, errors.New("lon must be a number within [-180, 180]")
	}
	return lat, lon, nil
}

// lonParam accepts both lon and lng spellings.
func lonParam(r *http.Request) string {
	if v := r.URL.Query().Get("lon"); v != "" {
		return v
	}
	return r.URL.Query().Get("lng")
}

// decodeDocuments accepts a single document object or an array of them.
func decodeDocuments(r *http.Request) ([]*document.Document, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	var docs []*document.Document
	if err := json.Unmarshal(raw, &docs); err == nil {
		return docs, nil
	}
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.New("body must be a document or an array of documents")
	}
	return []*document.Document{&doc}, nil
}

func (h *Handler) observe(kind, query string, results []*search.Result, latency time.Duration, cacheHit bool, q search.Query) {
	outcome := "results"
	if len(results) == 0 {
		outcome = "zero_results"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.WithLabelValues(kind).Observe(latency.Seconds())
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:         analytics.EventSearch,
			Query:        query,
			Results:      len(results),
			LatencyMs:    latency.Milliseconds(),
			CacheHit:     cacheHit,
			Fuzzy:        q.Fuzzy > 0,
			Autocomplete: q.Autocomplete,
			Timestamp:    time.Now().UTC(),
		})
	}
}

func (h *Handler) observeReverse(results []*search.Result, latency time.Duration) {
	outcome := "results"
	if len(results) == 0 {
		outcome = "zero_results"
	}
	metrics.SearchesTotal.WithLabelValues(outcome).Inc()
	metrics.SearchDuration.WithLabelValues("reverse").Observe(latency.Seconds())
	if h.collector != nil {
		h.collector.Track(analytics.SearchEvent{
			Type:      analytics.EventReverse,
			Results:   len(results),
			LatencyMs: latency.Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
