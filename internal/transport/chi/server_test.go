package chi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	chirouter "github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
	analyticsuc "github.com/ent-agency/campaignsearch/internal/usecase/analytics"
	healthuc "github.com/ent-agency/campaignsearch/internal/usecase/health"
	ingestuc "github.com/ent-agency/campaignsearch/internal/usecase/ingest"
	queryuc "github.com/ent-agency/campaignsearch/internal/usecase/query"
)

// fullStore backs both the write and the read side of the API in tests.
type fullStore struct {
	mu sync.Mutex

	upsertPartitions []string
	upsertCounts     []int

	hits      []retrieval.Hit
	searchErr error
	lastTopK  int

	stats retrieval.Stats
}

func (s *fullStore) SupportsIntegratedEmbedding(_ context.Context) (bool, error) {
	return true, nil
}

func (s *fullStore) UpsertRecords(_ context.Context, partitionName string, records []retrieval.TextRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertPartitions = append(s.upsertPartitions, partitionName)
	s.upsertCounts = append(s.upsertCounts, len(records))
	return nil
}

func (s *fullStore) UpsertVectors(_ context.Context, _ string, _ []retrieval.VectorRecord) error {
	return nil
}

func (s *fullStore) SearchRecords(
	_ context.Context, _, _ string, _ map[string]any, topK int, _ string,
) ([]retrieval.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTopK = topK
	return s.hits, s.searchErr
}

func (s *fullStore) QueryVectors(
	_ context.Context, _ string, _ []float32, _ map[string]any, topK int,
) ([]retrieval.Match, error) {
	return nil, nil
}

func (s *fullStore) Stats(_ context.Context) (retrieval.Stats, error) {
	return s.stats, nil
}

type noopEmbedder struct{}

func (noopEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{0.1}}, nil
}

type healthProbe struct{ err error }

func (h healthProbe) HealthCheck(_ context.Context) error { return h.err }

func newTestRouter(store *fullStore) http.Handler {
	return newTestRouterWithHealth(store, healthProbe{})
}

func newTestRouterWithHealth(store *fullStore, check healthuc.EmbeddingChecker) http.Handler {
	logger := zap.NewNop()
	writer := ingestuc.New(store, noopEmbedder{}, logger)
	engine := queryuc.New(store, noopEmbedder{}, "bge-reranker-v2-m3", logger)
	analytics := analyticsuc.New(engine, logger)
	server := NewServer(writer, engine, analytics, healthuc.New(check, nil), store.Stats, logger)

	r := chirouter.NewRouter()
	server.Routes(r)
	return r
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestIngestEndpoint(t *testing.T) {
	store := &fullStore{}
	handler := newTestRouter(store)

	body := `[
		{"id":"campaign_001","period":"2024 Q4","creator":"Alex Rivera","brand":"GlowCo",
		 "metrics":{"engagement":"4.2%","impressions":120000},"revenue":1500},
		{"period":"2024 Q4","creator":"Jordan Lee","brand":"FitFuel","content_description":"Protein launch"},
		{"period":"2025 Q1","creator":"Alex Rivera","brand":"GlowCo","notes":"Renewal"}
	]`
	rr := doRequest(t, handler, "POST", "/campaigns", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var report reportDTO
	if err := json.NewDecoder(rr.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Attempted != 3 || report.Succeeded != 3 || report.Failed != 0 {
		t.Errorf("report = %+v", report)
	}

	// Records group by resolved partition: two in 2024_q4, one in 2025_q1.
	if len(store.upsertPartitions) != 2 {
		t.Fatalf("upsert calls = %d, want one per partition", len(store.upsertPartitions))
	}
	counts := map[string]int{}
	for i, p := range store.upsertPartitions {
		counts[p] = store.upsertCounts[i]
	}
	if counts["2024_q4"] != 2 || counts["2025_q1"] != 1 {
		t.Errorf("partition counts = %v", counts)
	}
}

func TestIngestBadRecordIsolated(t *testing.T) {
	store := &fullStore{}
	handler := newTestRouter(store)

	body := `[
		{"id":"campaign_001","creator":"Alex","metrics":{"engagement":4.2}},
		{"id":"campaign_002","creator":"Jordan","metrics":{"breakdown":{"likes":1}}}
	]`
	rr := doRequest(t, handler, "POST", "/campaigns", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var report reportDTO
	_ = json.NewDecoder(rr.Body).Decode(&report)
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want the bad record isolated", report)
	}
	if report.Failures[0].ID != "campaign_002" {
		t.Errorf("failure = %+v", report.Failures[0])
	}
}

func TestIngestInvalidBody(t *testing.T) {
	handler := newTestRouter(&fullStore{})

	rr := doRequest(t, handler, "POST", "/campaigns", `{"not":"a list"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, handler, "POST", "/campaigns", `[]`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty list status = %d, want 400", rr.Code)
	}
}

func TestSearchEndpoint(t *testing.T) {
	store := &fullStore{hits: []retrieval.Hit{
		{ID: "a", Score: 0.9, Fields: map[string]any{"text": "Brand: GlowCo", "brand": "GlowCo"}},
	}}
	handler := newTestRouter(store)

	body := `{"query":"skincare","filters":[{"key":"brand","match":"GlowCo"}],"top_k":3}`
	rr := doRequest(t, handler, "POST", "/search", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp resultListDTO
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ID != "a" {
		t.Errorf("results = %+v", resp.Results)
	}
	if store.lastTopK != 3 {
		t.Errorf("topK = %d, want 3", store.lastTopK)
	}
}

func TestSearchDefaultTopK(t *testing.T) {
	store := &fullStore{}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "POST", "/search", `{"query":"skincare"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if store.lastTopK != 10 {
		t.Errorf("topK = %d, want default 10", store.lastTopK)
	}
}

func TestSearchValidationError(t *testing.T) {
	handler := newTestRouter(&fullStore{})

	rr := doRequest(t, handler, "POST", "/search", `{"query":"   "}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, handler, "POST", "/search", `{"query":"q","top_k":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("top_k=0 status = %d, want 400", rr.Code)
	}
}

func TestSearchRangeFilter(t *testing.T) {
	store := &fullStore{}
	handler := newTestRouter(store)

	body := `{"query":"q","filters":[{"key":"metric_engagement","gte":3,"lte":10}]}`
	rr := doRequest(t, handler, "POST", "/search", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestSearchUpstreamErrorMapping(t *testing.T) {
	store := &fullStore{
		searchErr: domain.NewRetrievalError("search_records", 429, true, domain.ErrRateLimited),
	}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "POST", "/search", `{"query":"q"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rr.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	store := &fullStore{stats: retrieval.Stats{
		Dimension:    1536,
		TotalRecords: 42,
		Partitions:   map[string]int{"2024_q4": 42},
	}}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "GET", "/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var stats statsDTO
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalRecords != 42 || stats.Partitions["2024_q4"] != 42 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBestPerformingEndpoint(t *testing.T) {
	store := &fullStore{hits: []retrieval.Hit{
		{ID: "low", Score: 0.9, Fields: map[string]any{"metric_engagement": 1.0}},
		{ID: "high", Score: 0.5, Fields: map[string]any{"metric_engagement": 9.0}},
	}}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "GET", "/analytics/best-performing?metric=engagement", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp resultListDTO
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Results) != 2 || resp.Results[0].ID != "high" {
		t.Errorf("results = %+v, want metric-sorted order", resp.Results)
	}
}

func TestTrendsEndpointValidation(t *testing.T) {
	handler := newTestRouter(&fullStore{})

	rr := doRequest(t, handler, "GET", "/analytics/trends?periods=2024+Q4", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing topic status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, handler, "GET", "/analytics/trends?topic=skincare", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing periods status = %d, want 400", rr.Code)
	}
}

func TestTrendsEndpoint(t *testing.T) {
	store := &fullStore{hits: []retrieval.Hit{
		{ID: "a", Score: 0.9, Fields: map[string]any{"metric_engagement": 4.0}},
	}}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "GET",
		"/analytics/trends?topic=skincare&metric=engagement&periods=2024+Q3,2024+Q4", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp trendsDTO
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Points) != 2 {
		t.Fatalf("points = %+v", resp.Points)
	}
	if resp.Points[0].Period != "2024 Q3" || resp.Points[0].Average != 4.0 {
		t.Errorf("points[0] = %+v", resp.Points[0])
	}
}

func TestCompareCreatorsEndpoint(t *testing.T) {
	store := &fullStore{hits: []retrieval.Hit{
		{ID: "a", Score: 0.9, Fields: map[string]any{"metric_engagement": 4.0}},
	}}
	handler := newTestRouter(store)

	rr := doRequest(t, handler, "GET", "/analytics/compare-creators?a=Alex&b=Jordan", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp comparisonDTO
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.A.Creator != "Alex" || resp.A.Campaigns != 1 || resp.A.Average != 4.0 {
		t.Errorf("a = %+v", resp.A)
	}

	rr = doRequest(t, handler, "GET", "/analytics/compare-creators?a=Alex", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing b status = %d, want 400", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestRouter(&fullStore{})

	rr := doRequest(t, handler, "GET", "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var resp healthDTO
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Checks["embedding"] != "ok" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealthEndpointDegraded(t *testing.T) {
	handler := newTestRouterWithHealth(&fullStore{}, healthProbe{err: errors.New("provider down")})

	rr := doRequest(t, handler, "GET", "/healthz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}

	var resp healthDTO
	_ = json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.Checks["embedding"] != "error" {
		t.Errorf("health = %+v", resp)
	}
}
