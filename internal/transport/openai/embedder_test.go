package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

// embeddingResponse mirrors the OpenAI-compatible API embedding response.
type embeddingResponse struct {
	Object string          `json:"object"`
	Data   []embeddingData `json:"data"`
	Model  string          `json:"model"`
	Usage  struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type embeddingData struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func newTestEmbedder(serverURL string, dimensions int) *Embedder {
	return NewEmbedder(&Config{
		APIKey:     "test-key",
		BaseURL:    serverURL,
		Model:      "text-embedding-3-small",
		Dimensions: dimensions,
		Logger:     zap.NewNop(),
	})
}

func embeddingServer(t *testing.T, resp embeddingResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbed(t *testing.T) {
	resp := embeddingResponse{Object: "list", Model: "text-embedding-3-small"}
	resp.Data = []embeddingData{{Object: "embedding", Embedding: []float32{0.1, 0.2, 0.3}, Index: 0}}
	resp.Usage.PromptTokens = 10
	resp.Usage.TotalTokens = 10

	server := embeddingServer(t, resp)
	defer server.Close()

	e := newTestEmbedder(server.URL, 3)
	res, err := e.Embed(context.Background(), "Brand: GlowCo")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(res.Embedding) != 3 || res.Embedding[0] != 0.1 {
		t.Errorf("Embedding = %v", res.Embedding)
	}
	if res.TotalTokens != 10 {
		t.Errorf("TotalTokens = %d, want 10", res.TotalTokens)
	}
}

func TestBatchEmbedOrdering(t *testing.T) {
	// Vectors returned out of order must still land at their input index.
	resp := embeddingResponse{Object: "list", Model: "text-embedding-3-small"}
	resp.Data = []embeddingData{
		{Object: "embedding", Embedding: []float32{2, 2}, Index: 1},
		{Object: "embedding", Embedding: []float32{1, 1}, Index: 0},
	}

	server := embeddingServer(t, resp)
	defer server.Close()

	e := newTestEmbedder(server.URL, 2)
	res, err := e.BatchEmbed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("BatchEmbed() error = %v", err)
	}
	if res.Embeddings[0][0] != 1 || res.Embeddings[1][0] != 2 {
		t.Errorf("Embeddings = %v, want input order restored", res.Embeddings)
	}
}

func TestBatchEmbedEmpty(t *testing.T) {
	e := newTestEmbedder("http://unused", 2)
	res, err := e.BatchEmbed(context.Background(), nil)
	if err != nil {
		t.Fatalf("BatchEmbed(nil) error = %v", err)
	}
	if len(res.Embeddings) != 0 {
		t.Errorf("Embeddings = %v, want empty", res.Embeddings)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	resp := embeddingResponse{Object: "list"}
	resp.Data = []embeddingData{{Object: "embedding", Embedding: []float32{0.1, 0.2}, Index: 0}}

	server := embeddingServer(t, resp)
	defer server.Close()

	e := newTestEmbedder(server.URL, 1536)
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Embed() error = %v, want ErrConfiguration", err)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	resp := embeddingResponse{Object: "list"}
	resp.Data = []embeddingData{{Object: "embedding", Embedding: []float32{0.1}, Index: 0}}

	server := embeddingServer(t, resp)
	defer server.Close()

	e := newTestEmbedder(server.URL, 1)
	_, err := e.BatchEmbed(context.Background(), []string{"a", "b"})
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("BatchEmbed() error = %v, want ErrEmbeddingProvider", err)
	}
}

func TestEmbedRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded","type":"requests"}}`))
	}))
	defer server.Close()

	e := newTestEmbedder(server.URL, 2)
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("Embed() error = %v, want ErrRateLimited", err)
	}
}

func TestEmbedServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"backend exploded"}`))
	}))
	defer server.Close()

	e := newTestEmbedder(server.URL, 2)
	_, err := e.Embed(context.Background(), "text")
	if !errors.Is(err, domain.ErrEmbeddingProvider) {
		t.Errorf("Embed() error = %v, want ErrEmbeddingProvider", err)
	}
}

func TestHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer server.Close()

	e := newTestEmbedder(server.URL, 2)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
