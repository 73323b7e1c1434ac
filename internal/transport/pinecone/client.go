// Package pinecone is the retrieval service adapter: a thin client over the
// provider's REST API. It maps wire failures onto domain.RetrievalError and
// passes result shapes through untouched; normalization belongs to the query
// engine.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/metrics"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

const (
	defaultControlHost = "https://api.pinecone.io"
	defaultTimeout     = 30 * time.Second
	apiVersion         = "2025-01"
)

// Operation names for error context and metrics.
const (
	opDescribeIndex = "describe_index"
	opUpsertRecords = "upsert_records"
	opSearchRecords = "search_records"
	opUpsertVectors = "upsert_vectors"
	opQueryVectors  = "query_vectors"
	opIndexStats    = "index_stats"
)

// Config holds the retrieval service connection settings.
type Config struct {
	APIKey      string
	Host        string // index data-plane host, e.g. https://my-index-abc123.svc.pinecone.io
	ControlHost string // control-plane host; defaults to the public API
	Index       string
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Client talks to one index of the managed retrieval service. The capability
// probe is memoized per client, so each session pays for one describe call.
type Client struct {
	httpClient  *http.Client
	apiKey      string
	host        string
	controlHost string
	index       string
	logger      *zap.Logger

	probeOnce sync.Once
	probe     indexDescription
	probeErr  error
}

var _ retrieval.Store = (*Client)(nil)

// New creates a retrieval service client.
func New(cfg Config) *Client {
	controlHost := cfg.ControlHost
	if controlHost == "" {
		controlHost = defaultControlHost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		host:        cfg.Host,
		controlHost: controlHost,
		index:       cfg.Index,
		logger:      logger,
	}
}

// SupportsIntegratedEmbedding reports whether the index embeds text server-side.
func (c *Client) SupportsIntegratedEmbedding(ctx context.Context) (bool, error) {
	desc, err := c.describe(ctx)
	if err != nil {
		return false, err
	}
	return desc.Embed != nil, nil
}

// Dimension returns the index vector dimensionality, used for the startup
// configuration check against the embedding provider.
func (c *Client) Dimension(ctx context.Context) (int, error) {
	desc, err := c.describe(ctx)
	if err != nil {
		return 0, err
	}
	return desc.Dimension, nil
}

func (c *Client) describe(ctx context.Context) (indexDescription, error) {
	c.probeOnce.Do(func() {
		var desc indexDescription
		err := c.call(ctx, opDescribeIndex, http.MethodGet,
			c.controlHost+"/indexes/"+url.PathEscape(c.index), nil, &desc)
		if err != nil {
			c.probeErr = err
			return
		}
		c.probe = desc
		c.logger.Debug("Index described",
			zap.String("index", c.index),
			zap.Int("dimension", desc.Dimension),
			zap.Bool("integrated_embedding", desc.Embed != nil),
		)
	})
	return c.probe, c.probeErr
}

// UpsertRecords writes text records to a partition over the text-native path.
// The retrieval service computes embeddings server-side.
func (c *Client) UpsertRecords(ctx context.Context, partitionName string, records []retrieval.TextRecord) error {
	if len(records) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, r := range records {
		line := make(map[string]any, len(r.Fields)+2)
		for k, v := range r.Fields {
			line[k] = v
		}
		line["_id"] = r.ID
		line["text"] = r.Text
		if err := enc.Encode(line); err != nil {
			return domain.NewRetrievalError(opUpsertRecords, 0, false, err)
		}
	}

	endpoint := c.host + "/records/namespaces/" + url.PathEscape(partitionName) + "/upsert"
	return c.callNDJSON(ctx, opUpsertRecords, endpoint, body.Bytes())
}

// UpsertVectors writes client-computed vectors to a partition (legacy path).
func (c *Client) UpsertVectors(ctx context.Context, partitionName string, vectors []retrieval.VectorRecord) error {
	if len(vectors) == 0 {
		return nil
	}

	type wireVector struct {
		ID       string         `json:"id"`
		Values   []float32      `json:"values"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	req := struct {
		Vectors   []wireVector `json:"vectors"`
		Namespace string       `json:"namespace"`
	}{Namespace: partitionName}
	for _, v := range vectors {
		req.Vectors = append(req.Vectors, wireVector{ID: v.ID, Values: v.Values, Metadata: v.Metadata})
	}

	return c.call(ctx, opUpsertVectors, http.MethodPost, c.host+"/vectors/upsert", req, nil)
}

// SearchRecords runs the rank-enabled server-side search with a rerank stage.
func (c *Client) SearchRecords(
	ctx context.Context, partitionName, query string,
	providerFilter map[string]any, topK int, rerankModel string,
) ([]retrieval.Hit, error) {
	type searchQuery struct {
		TopK   int            `json:"top_k"`
		Inputs map[string]any `json:"inputs"`
		Filter map[string]any `json:"filter,omitempty"`
	}
	req := struct {
		Query  searchQuery    `json:"query"`
		Rerank map[string]any `json:"rerank,omitempty"`
	}{
		Query: searchQuery{
			TopK:   topK,
			Inputs: map[string]any{"text": query},
			Filter: providerFilter,
		},
	}
	if rerankModel != "" {
		req.Rerank = map[string]any{
			"model":       rerankModel,
			"top_n":       topK,
			"rank_fields": []string{"text"},
		}
	}

	var resp struct {
		Result struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float64        `json:"_score"`
				Fields map[string]any `json:"fields"`
			} `json:"hits"`
		} `json:"result"`
	}

	endpoint := c.host + "/records/namespaces/" + url.PathEscape(partitionName) + "/search"
	if err := c.call(ctx, opSearchRecords, http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}

	hits := make([]retrieval.Hit, len(resp.Result.Hits))
	for i, h := range resp.Result.Hits {
		hits[i] = retrieval.Hit{ID: h.ID, Score: h.Score, Fields: h.Fields}
	}
	return hits, nil
}

// QueryVectors runs the legacy vector-similarity query.
func (c *Client) QueryVectors(
	ctx context.Context, partitionName string, vector []float32,
	providerFilter map[string]any, topK int,
) ([]retrieval.Match, error) {
	req := struct {
		Vector          []float32      `json:"vector"`
		TopK            int            `json:"topK"`
		Namespace       string         `json:"namespace,omitempty"`
		Filter          map[string]any `json:"filter,omitempty"`
		IncludeMetadata bool           `json:"includeMetadata"`
	}{
		Vector:          vector,
		TopK:            topK,
		Namespace:       partitionName,
		Filter:          providerFilter,
		IncludeMetadata: true,
	}

	var resp struct {
		Matches []struct {
			ID       string         `json:"id"`
			Score    float64        `json:"score"`
			Metadata map[string]any `json:"metadata"`
		} `json:"matches"`
	}

	if err := c.call(ctx, opQueryVectors, http.MethodPost, c.host+"/query", req, &resp); err != nil {
		return nil, err
	}

	matches := make([]retrieval.Match, len(resp.Matches))
	for i, m := range resp.Matches {
		matches[i] = retrieval.Match{ID: m.ID, Score: m.Score, Metadata: m.Metadata}
	}
	return matches, nil
}

// Stats returns per-partition record counts.
func (c *Client) Stats(ctx context.Context) (retrieval.Stats, error) {
	var resp struct {
		Dimension        int `json:"dimension"`
		TotalVectorCount int `json:"totalVectorCount"`
		Namespaces       map[string]struct {
			VectorCount int `json:"vectorCount"`
		} `json:"namespaces"`
	}

	err := c.call(ctx, opIndexStats, http.MethodPost, c.host+"/describe_index_stats", struct{}{}, &resp)
	if err != nil {
		return retrieval.Stats{}, err
	}

	stats := retrieval.Stats{
		Dimension:    resp.Dimension,
		TotalRecords: resp.TotalVectorCount,
		Partitions:   make(map[string]int, len(resp.Namespaces)),
	}
	for ns, n := range resp.Namespaces {
		stats.Partitions[ns] = n.VectorCount
	}
	return stats, nil
}

// call performs a JSON request/response round trip.
func (c *Client) call(ctx context.Context, op, method, endpoint string, reqBody, respBody any) error {
	var reader io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return domain.NewRetrievalError(op, 0, false, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return domain.NewRetrievalError(op, 0, false, err)
	}
	c.setHeaders(req, "application/json")

	return c.do(req, op, respBody)
}

// callNDJSON performs an NDJSON upload (text-record upsert path).
func (c *Client) callNDJSON(ctx context.Context, op, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.NewRetrievalError(op, 0, false, err)
	}
	c.setHeaders(req, "application/x-ndjson")

	return c.do(req, op, nil)
}

func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Pinecone-Api-Version", apiVersion)
}

func (c *Client) do(req *http.Request, op string, respBody any) error {
	start := time.Now()

	resp, err := c.httpClient.Do(req)

	duration := time.Since(start)

	if err != nil {
		metrics.RetrievalRequestsTotal.WithLabelValues(op, "error").Inc()
		// Timeouts and transport failures are retryable.
		return domain.NewRetrievalError(op, 0, true, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		metrics.RetrievalRequestsTotal.WithLabelValues(op, "error").Inc()
		return c.statusError(op, resp)
	}

	metrics.RetrievalRequestsTotal.WithLabelValues(op, "success").Inc()
	metrics.RetrievalRequestDuration.WithLabelValues(op).Observe(duration.Seconds())

	if respBody == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return domain.NewRetrievalError(op, resp.StatusCode, false, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// statusError maps HTTP failure statuses onto the domain error taxonomy.
// 429 and 5xx are transient; 404 on a record path means the index has no
// text-native surface (no integrated embedding); 422 on search means the
// rerank stage was rejected.
func (c *Client) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := providerMessage(body)

	switch {
	case resp.StatusCode == http.StatusNotFound &&
		(op == opUpsertRecords || op == opSearchRecords):
		return domain.NewRetrievalError(op, resp.StatusCode, false,
			fmt.Errorf("%s: %w", msg, domain.ErrIntegratedEmbeddingUnsupported))
	case resp.StatusCode == http.StatusUnprocessableEntity && op == opSearchRecords:
		return domain.NewRetrievalError(op, resp.StatusCode, false,
			fmt.Errorf("%s: %w", msg, domain.ErrRerankUnavailable))
	case resp.StatusCode == http.StatusTooManyRequests:
		return domain.NewRetrievalError(op, resp.StatusCode, true,
			fmt.Errorf("%s: %w", msg, domain.ErrRateLimited))
	case resp.StatusCode >= http.StatusInternalServerError:
		return domain.NewRetrievalError(op, resp.StatusCode, true, errors.New(msg))
	default:
		return domain.NewRetrievalError(op, resp.StatusCode, false, errors.New(msg))
	}
}

type indexDescription struct {
	Name      string         `json:"name"`
	Dimension int            `json:"dimension"`
	Host      string         `json:"host"`
	Embed     map[string]any `json:"embed"` // present only for integrated-embedding indexes
}

// providerMessage extracts the error message from a provider error body.
func providerMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Error.Message != "" {
			return parsed.Error.Message
		}
	}
	if len(body) == 0 {
		return "no error detail"
	}
	return string(body)
}
