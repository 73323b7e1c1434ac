package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	domdoc "github.com/ent-agency/campaignsearch/internal/domain/document"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

// --- Mocks ---

type mockStore struct {
	mu sync.Mutex

	integrated bool
	probeErr   error
	probeCalls int

	recordCalls  int
	recordBatches [][]retrieval.TextRecord
	recordErrs   []error // consumed per call, nil past the end

	vectorCalls   int
	vectorBatches [][]retrieval.VectorRecord
	vectorErr     error
}

func (m *mockStore) SupportsIntegratedEmbedding(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probeCalls++
	return m.integrated, m.probeErr
}

func (m *mockStore) UpsertRecords(_ context.Context, _ string, records []retrieval.TextRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.recordCalls
	m.recordCalls++
	m.recordBatches = append(m.recordBatches, records)
	if call < len(m.recordErrs) {
		return m.recordErrs[call]
	}
	return nil
}

func (m *mockStore) UpsertVectors(_ context.Context, _ string, vectors []retrieval.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vectorCalls++
	m.vectorBatches = append(m.vectorBatches, vectors)
	return m.vectorErr
}

type mockEmbedder struct {
	mu         sync.Mutex
	embedCalls int
	failTexts  map[string]bool
}

func (m *mockEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	if m.failTexts[text] {
		return domain.EmbeddingResult{}, fmt.Errorf("bad input: %w", domain.ErrEmbeddingProvider)
	}
	return domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}, TotalTokens: 7}, nil
}

type mockBatchEmbedder struct {
	mockEmbedder
	batchCalls int
	batchErr   error
}

func (m *mockBatchEmbedder) BatchEmbed(_ context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchCalls++
	if m.batchErr != nil {
		return domain.BatchEmbeddingResult{}, m.batchErr
	}
	embeddings := make([][]float32, len(texts))
	for i := range texts {
		embeddings[i] = []float32{0.1, 0.2}
	}
	return domain.BatchEmbeddingResult{Embeddings: embeddings}, nil
}

func makeDocs(t *testing.T, n int) []domdoc.Document {
	t.Helper()
	docs := make([]domdoc.Document, n)
	for i := range docs {
		doc, err := domdoc.New(
			fmt.Sprintf("campaign_%03d", i),
			fmt.Sprintf("Creator: Creator %d", i),
			map[string]string{"creator": fmt.Sprintf("Creator %d", i)},
			map[string]float64{"metric_engagement": float64(i)},
		)
		if err != nil {
			t.Fatalf("document.New() error = %v", err)
		}
		docs[i] = doc
	}
	return docs
}

// --- Tests ---

func TestWriteEmpty(t *testing.T) {
	store := &mockStore{integrated: true}
	svc := New(store, &mockEmbedder{}, zap.NewNop())

	report, err := svc.Write(context.Background(), nil, "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if report.Attempted() != 0 || store.probeCalls != 0 {
		t.Errorf("empty write touched the store: attempted=%d probes=%d",
			report.Attempted(), store.probeCalls)
	}
}

func TestWriteIntegratedBatching(t *testing.T) {
	store := &mockStore{integrated: true}
	svc := New(store, &mockEmbedder{}, zap.NewNop()).WithMaxBatchSize(10)

	report, err := svc.Write(context.Background(), makeDocs(t, 25), "2024_q4")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if store.recordCalls != 3 {
		t.Errorf("UpsertRecords calls = %d, want ceil(25/10) = 3", store.recordCalls)
	}
	if report.Attempted() != 25 || report.Succeeded() != 25 || report.Failed() != 0 {
		t.Errorf("report = (%d, %d, %d), want (25, 25, 0)",
			report.Attempted(), report.Succeeded(), report.Failed())
	}

	total := 0
	for _, b := range store.recordBatches {
		if len(b) > 10 {
			t.Errorf("batch size %d exceeds cap 10", len(b))
		}
		total += len(b)
	}
	if total != 25 {
		t.Errorf("dispatched %d records, want 25", total)
	}
}

func TestWriteProbeOnce(t *testing.T) {
	store := &mockStore{integrated: true}
	svc := New(store, &mockEmbedder{}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if _, err := svc.Write(context.Background(), makeDocs(t, 2), "default"); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if store.probeCalls != 1 {
		t.Errorf("probe calls = %d, want memoized single call", store.probeCalls)
	}
}

func TestWriteProbeFailure(t *testing.T) {
	store := &mockStore{probeErr: domain.NewRetrievalError("describe_index", 500, true, errors.New("down"))}
	svc := New(store, &mockEmbedder{}, zap.NewNop())

	_, err := svc.Write(context.Background(), makeDocs(t, 2), "default")
	if !errors.Is(err, domain.ErrRetrievalService) {
		t.Errorf("Write() error = %v, want retrieval service error", err)
	}
	if store.recordCalls != 0 || store.vectorCalls != 0 {
		t.Error("failed probe must not dispatch any batch")
	}
}

func TestWritePartialBatchFailure(t *testing.T) {
	permanent := domain.NewRetrievalError("upsert_records", 400, false, errors.New("bad metadata"))
	store := &mockStore{integrated: true, recordErrs: []error{nil, permanent}}
	svc := New(store, &mockEmbedder{}, zap.NewNop()).WithMaxBatchSize(5).WithMaxParallel(1)

	report, err := svc.Write(context.Background(), makeDocs(t, 10), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if report.Attempted() != 10 {
		t.Errorf("Attempted() = %d, want 10", report.Attempted())
	}
	if report.Succeeded() != 5 {
		t.Errorf("Succeeded() = %d, want the intact batch only", report.Succeeded())
	}
	if report.Failed() != 5 {
		t.Errorf("Failed() = %d, want the rejected batch", report.Failed())
	}
}

func TestWriteRetriesTransient(t *testing.T) {
	transient := domain.NewRetrievalError("upsert_records", 503, true, errors.New("overloaded"))
	store := &mockStore{integrated: true, recordErrs: []error{transient, transient}}
	svc := New(store, &mockEmbedder{}, zap.NewNop()).WithRetry(3, time.Millisecond)

	report, err := svc.Write(context.Background(), makeDocs(t, 3), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.recordCalls != 3 {
		t.Errorf("UpsertRecords calls = %d, want 2 failures + 1 success", store.recordCalls)
	}
	if report.Succeeded() != 3 {
		t.Errorf("Succeeded() = %d, want 3 after retry", report.Succeeded())
	}
}

func TestWriteDoesNotRetryPermanent(t *testing.T) {
	permanent := domain.NewRetrievalError("upsert_records", 400, false, errors.New("rejected"))
	store := &mockStore{integrated: true, recordErrs: []error{permanent}}
	svc := New(store, &mockEmbedder{}, zap.NewNop()).WithRetry(3, time.Millisecond)

	report, err := svc.Write(context.Background(), makeDocs(t, 3), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.recordCalls != 1 {
		t.Errorf("UpsertRecords calls = %d, want no retry on permanent failure", store.recordCalls)
	}
	if report.Failed() != 3 {
		t.Errorf("Failed() = %d, want whole batch", report.Failed())
	}
}

func TestWriteManualPath(t *testing.T) {
	store := &mockStore{integrated: false}
	embedder := &mockEmbedder{}
	svc := New(store, embedder, zap.NewNop())

	report, err := svc.Write(context.Background(), makeDocs(t, 4), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.recordCalls != 0 {
		t.Error("manual path must not call UpsertRecords")
	}
	if store.vectorCalls != 1 {
		t.Errorf("UpsertVectors calls = %d, want 1", store.vectorCalls)
	}
	if embedder.embedCalls != 4 {
		t.Errorf("Embed calls = %d, want one per document", embedder.embedCalls)
	}
	if report.Succeeded() != 4 {
		t.Errorf("Succeeded() = %d, want 4", report.Succeeded())
	}

	// Manual-path metadata carries the text blob for parity with the
	// integrated path.
	if store.vectorBatches[0][0].Metadata["text"] == "" {
		t.Error("vector metadata is missing the text field")
	}
}

func TestWriteManualUsesBatchEmbed(t *testing.T) {
	store := &mockStore{integrated: false}
	embedder := &mockBatchEmbedder{}
	svc := New(store, embedder, zap.NewNop())

	if _, err := svc.Write(context.Background(), makeDocs(t, 4), "default"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if embedder.batchCalls != 1 {
		t.Errorf("BatchEmbed calls = %d, want 1", embedder.batchCalls)
	}
	if embedder.embedCalls != 0 {
		t.Errorf("Embed calls = %d, want batch call only", embedder.embedCalls)
	}
}

func TestWriteManualEmbedFailureIsolated(t *testing.T) {
	store := &mockStore{integrated: false}
	embedder := &mockEmbedder{failTexts: map[string]bool{"Creator: Creator 1": true}}
	svc := New(store, embedder, zap.NewNop())

	report, err := svc.Write(context.Background(), makeDocs(t, 3), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	// The aggregate pass aborts at the bad document (2 calls), then the
	// per-document pass covers all 3.
	if embedder.embedCalls != 5 {
		t.Errorf("Embed calls = %d, want aborted aggregate pass plus per-document pass", embedder.embedCalls)
	}
	if report.Succeeded() != 2 {
		t.Errorf("Succeeded() = %d, want the embeddable documents", report.Succeeded())
	}
	if report.Failed() != 1 {
		t.Fatalf("Failed() = %d, want the single bad document", report.Failed())
	}
	f := report.Failures()[0]
	if f.ID() != "campaign_001" {
		t.Errorf("failure ID = %q, want campaign_001", f.ID())
	}
	if !errors.Is(f.Err(), domain.ErrEmbeddingProvider) {
		t.Errorf("failure error = %v, want embedding provider error", f.Err())
	}
}

func TestWriteCapabilityFlip(t *testing.T) {
	// Probe says integrated, the write path disagrees. The batch must land
	// over the manual path and later writes must skip the integrated attempt.
	unsupported := domain.NewRetrievalError(
		"upsert_records", 404, false, domain.ErrIntegratedEmbeddingUnsupported)
	store := &mockStore{integrated: true, recordErrs: []error{unsupported}}
	svc := New(store, &mockEmbedder{}, zap.NewNop())

	report, err := svc.Write(context.Background(), makeDocs(t, 2), "default")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if report.Succeeded() != 2 {
		t.Errorf("Succeeded() = %d, want fallback to land the batch", report.Succeeded())
	}
	if store.vectorCalls != 1 {
		t.Errorf("UpsertVectors calls = %d, want 1", store.vectorCalls)
	}

	if _, err := svc.Write(context.Background(), makeDocs(t, 2), "default"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if store.recordCalls != 1 {
		t.Errorf("UpsertRecords calls = %d, want no further integrated attempts", store.recordCalls)
	}
}

func TestWriteCancelledContext(t *testing.T) {
	store := &mockStore{integrated: true}
	svc := New(store, &mockEmbedder{}, zap.NewNop()).WithMaxBatchSize(5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.Write(ctx, makeDocs(t, 20), "default")
	if err != nil {
		t.Fatalf("Write() error = %v, cancellation must return the partial report", err)
	}
	if report.Attempted() != 0 {
		t.Errorf("Attempted() = %d, want no batch dispatched after cancel", report.Attempted())
	}
}
