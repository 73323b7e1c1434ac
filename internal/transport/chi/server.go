// Package chi exposes the ingestion and query engines over a small HTTP API
// for downstream consumers (analytics scripts, schedulers, CLIs).
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	dombatch "github.com/ent-agency/campaignsearch/internal/domain/batch"
	domdoc "github.com/ent-agency/campaignsearch/internal/domain/document"
	"github.com/ent-agency/campaignsearch/internal/domain/partition"
	"github.com/ent-agency/campaignsearch/internal/domain/record"
	"github.com/ent-agency/campaignsearch/internal/domain/search/filter"
	"github.com/ent-agency/campaignsearch/internal/domain/search/request"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
	"github.com/ent-agency/campaignsearch/internal/transform"
	analyticsuc "github.com/ent-agency/campaignsearch/internal/usecase/analytics"
	healthuc "github.com/ent-agency/campaignsearch/internal/usecase/health"
	ingestuc "github.com/ent-agency/campaignsearch/internal/usecase/ingest"
	queryuc "github.com/ent-agency/campaignsearch/internal/usecase/query"
)

// StatsFunc reads index statistics for the stats endpoint.
type StatsFunc func(ctx context.Context) (retrieval.Stats, error)

// Server wires the usecases to HTTP handlers.
type Server struct {
	writer    *ingestuc.Service
	engine    *queryuc.Service
	analytics *analyticsuc.Service
	health    *healthuc.Service
	stats     StatsFunc
	logger    *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(
	writer *ingestuc.Service,
	engine *queryuc.Service,
	analytics *analyticsuc.Service,
	health *healthuc.Service,
	stats StatsFunc,
	logger *zap.Logger,
) *Server {
	return &Server{
		writer:    writer,
		engine:    engine,
		analytics: analytics,
		health:    health,
		stats:     stats,
		logger:    logger,
	}
}

// Routes registers the API endpoints on the given router. Middleware is
// assembled by the caller.
func (s *Server) Routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/campaigns", s.handleIngest)
	r.Post("/search", s.handleSearch)
	r.Get("/stats", s.handleStats)
	r.Get("/analytics/brands/{brand}", s.handleByBrand)
	r.Get("/analytics/creators/{creator}", s.handleByCreator)
	r.Get("/analytics/best-performing", s.handleBestPerforming)
	r.Get("/analytics/trends", s.handleTrends)
	r.Get("/analytics/compare-creators", s.handleCompareCreators)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthToDTO(report))
}

// handleIngest accepts a bulk of campaign records, transforms them, groups
// them by partition, and writes each group. Transform failures join the write
// report as permanent failures rather than aborting the call.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload []campaignPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(payload) == 0 {
		writeError(w, http.StatusBadRequest, "at least one campaign record is required")
		return
	}

	report := dombatch.NewReport()
	groups := make(map[string][]domdoc.Document)

	for i, p := range payload {
		doc, period, err := p.toDocument()
		if err != nil {
			id := p.ID
			if id == "" {
				id = "record[" + strconv.Itoa(i) + "]"
			}
			report.MarkAttempted(1)
			report.MarkFailed(id, err)
			continue
		}
		name := partition.Resolve(period)
		groups[name] = append(groups[name], doc)
	}

	for name, docs := range groups {
		groupReport, err := s.writer.Write(r.Context(), docs, name)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		report.Merge(groupReport)
	}

	status := http.StatusOK
	if report.Succeeded() == 0 && report.Failed() > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, reportToDTO(report))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var payload searchPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := payload.toRequest()
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	results, err := s.engine.Search(r.Context(), req)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resultsToDTO(results))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsDTO{
		Dimension:    stats.Dimension,
		TotalRecords: stats.TotalRecords,
		Partitions:   stats.Partitions,
	})
}

func (s *Server) handleByBrand(w http.ResponseWriter, r *http.Request) {
	brand := chi.URLParam(r, "brand")
	results, err := s.analytics.ByBrand(r.Context(), brand, queryTopK(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsToDTO(results))
}

func (s *Server) handleByCreator(w http.ResponseWriter, r *http.Request) {
	creator := chi.URLParam(r, "creator")
	results, err := s.analytics.ByCreator(r.Context(), creator, queryTopK(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsToDTO(results))
}

func (s *Server) handleBestPerforming(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric")
	if metric == "" {
		metric = "engagement"
	}
	period := r.URL.Query().Get("period")

	results, err := s.analytics.BestPerforming(r.Context(), metric, period, queryTopK(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultsToDTO(results))
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topic := q.Get("topic")
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	metric := q.Get("metric")
	if metric == "" {
		metric = "engagement"
	}
	periods := strings.Split(q.Get("periods"), ",")
	if len(periods) == 1 && periods[0] == "" {
		writeError(w, http.StatusBadRequest, "periods is required (comma-separated)")
		return
	}

	points, err := s.analytics.Trends(r.Context(), topic, periods, metric, queryTopK(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trendsToDTO(points))
}

func (s *Server) handleCompareCreators(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	creatorA, creatorB := q.Get("a"), q.Get("b")
	if creatorA == "" || creatorB == "" {
		writeError(w, http.StatusBadRequest, "both a and b creators are required")
		return
	}
	metric := q.Get("metric")
	if metric == "" {
		metric = "engagement"
	}

	a, b, err := s.analytics.CompareCreators(r.Context(), creatorA, creatorB, metric, queryTopK(r))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comparisonToDTO(a, b))
}

// handleDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		s.logger.Error("Configuration error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, domain.ErrEmbeddingProvider), errors.Is(err, domain.ErrRetrievalService):
		s.logger.Error("Upstream provider error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("Unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func queryTopK(r *http.Request) int {
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return request.DefaultTopK
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorDTO{Error: msg})
}

// campaignPayload is the wire shape of one campaign record.
type campaignPayload struct {
	ID           string         `json:"id"`
	Period       string         `json:"period"`
	Creator      string         `json:"creator"`
	Brand        string         `json:"brand"`
	CampaignType string         `json:"campaign_type"`
	Platform     string         `json:"platform"`
	Date         string         `json:"date"`
	Metrics      map[string]any `json:"metrics"`
	Revenue      *float64       `json:"revenue"`
	Content      string         `json:"content_description"`
	Notes        string         `json:"notes"`
}

func (p campaignPayload) toDocument() (domdoc.Document, string, error) {
	parsed, err := record.ParseMetrics(p.Metrics)
	if err != nil {
		return domdoc.Document{}, "", err
	}
	rec, err := record.New(record.Params{
		ID:           p.ID,
		Period:       p.Period,
		Creator:      p.Creator,
		Brand:        p.Brand,
		CampaignType: p.CampaignType,
		Platform:     p.Platform,
		Date:         p.Date,
		Metrics:      parsed,
		Revenue:      p.Revenue,
		Content:      p.Content,
		Notes:        p.Notes,
	})
	if err != nil {
		return domdoc.Document{}, "", err
	}
	doc, err := transform.Document(rec)
	return doc, rec.Period(), err
}

// searchPayload is the wire shape of a search request.
type searchPayload struct {
	Query     string            `json:"query"`
	TopK      *int              `json:"top_k"`
	Partition string            `json:"partition"`
	Filters   []filterCondition `json:"filters"`
}

type filterCondition struct {
	Key   string   `json:"key"`
	Match string   `json:"match,omitempty"`
	GT    *float64 `json:"gt,omitempty"`
	GTE   *float64 `json:"gte,omitempty"`
	LT    *float64 `json:"lt,omitempty"`
	LTE   *float64 `json:"lte,omitempty"`
}

func (p searchPayload) toRequest() (request.Request, error) {
	conditions := make([]filter.Condition, 0, len(p.Filters))
	for _, f := range p.Filters {
		var cond filter.Condition
		var err error
		if f.Match != "" {
			cond, err = filter.NewMatch(f.Key, f.Match)
		} else {
			var rng filter.Range
			rng, err = filter.NewRangeFilter(f.GT, f.GTE, f.LT, f.LTE)
			if err == nil {
				cond, err = filter.NewRange(f.Key, rng)
			}
		}
		if err != nil {
			return request.Request{}, err
		}
		conditions = append(conditions, cond)
	}

	expr, err := filter.NewExpression(conditions)
	if err != nil {
		return request.Request{}, err
	}

	topK := request.DefaultTopK
	if p.TopK != nil {
		topK = *p.TopK
	}
	return request.New(p.Query, expr, p.Partition, topK)
}
