// Package ingest implements the batch writer: it splits documents into
// size-bounded batches and commits them to the retrieval service over the best
// available write path.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	dombatch "github.com/ent-agency/campaignsearch/internal/domain/batch"
	domdoc "github.com/ent-agency/campaignsearch/internal/domain/document"
	"github.com/ent-agency/campaignsearch/internal/metrics"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

// Defaults for the write discipline. MaxBatchSize is the hard cap of the
// text-native write path.
const (
	MaxBatchSize   = 96
	MaxParallel    = 4
	MaxAttempts    = 3
	BackoffBase    = 500 * time.Millisecond
	maxBackoffWait = 8 * time.Second
)

// Service is the batch writer. The integrated-vs-manual path decision is made
// once per service session and cached; a capability mismatch discovered
// mid-write flips the session to manual without a per-batch retry storm.
type Service struct {
	store        Store
	embed        domain.Embedder
	logger       *zap.Logger
	maxBatchSize int
	maxParallel  int
	maxAttempts  int
	backoffBase  time.Duration

	pathOnce sync.Once
	pathErr  error
	manual   atomic.Bool
}

// New creates a batch writer.
func New(store Store, embed domain.Embedder, logger *zap.Logger) *Service {
	return &Service{
		store:        store,
		embed:        embed,
		logger:       logger,
		maxBatchSize: MaxBatchSize,
		maxParallel:  MaxParallel,
		maxAttempts:  MaxAttempts,
		backoffBase:  BackoffBase,
	}
}

// WithMaxBatchSize configures the maximum batch size.
func (s *Service) WithMaxBatchSize(size int) *Service {
	if size > 0 {
		s.maxBatchSize = size
	}
	return s
}

// WithMaxParallel configures the outstanding batch request cap.
func (s *Service) WithMaxParallel(n int) *Service {
	if n > 0 {
		s.maxParallel = n
	}
	return s
}

// WithRetry configures the per-batch transient retry policy.
func (s *Service) WithRetry(attempts int, backoff time.Duration) *Service {
	if attempts > 0 {
		s.maxAttempts = attempts
	}
	if backoff > 0 {
		s.backoffBase = backoff
	}
	return s
}

// Write commits documents to the given partition in size-bounded batches.
// Batches are independent partial-failure units executed in parallel under the
// request cap; per-batch and per-document failures land in the report, never
// abort the call. Cancellation is honored between batches and returns the
// partial report.
func (s *Service) Write(
	ctx context.Context, docs []domdoc.Document, partitionName string,
) (*dombatch.Report, error) {
	report := dombatch.NewReport()
	if len(docs) == 0 {
		return report, nil
	}

	if err := s.resolvePath(ctx); err != nil {
		return nil, fmt.Errorf("resolve write path: %w", err)
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.maxParallel)
	)

	for start := 0; start < len(docs); start += s.maxBatchSize {
		if ctx.Err() != nil {
			s.logger.Warn("Bulk write cancelled",
				zap.String("partition", partitionName),
				zap.Int("dispatched", start),
				zap.Int("total", len(docs)),
			)
			break
		}

		end := min(start+s.maxBatchSize, len(docs))
		batch := docs[start:end]

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			succeeded, failures := s.runBatch(ctx, partitionName, batch)

			mu.Lock()
			report.MarkAttempted(len(batch))
			report.MarkSucceeded(succeeded)
			for _, f := range failures {
				report.MarkFailed(f.ID(), f.Err())
			}
			mu.Unlock()
		}()
	}

	wg.Wait()

	s.logger.Info("Bulk write finished",
		zap.String("partition", partitionName),
		zap.Int("attempted", report.Attempted()),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()),
	)
	return report, nil
}

// resolvePath probes the index capability once per session.
func (s *Service) resolvePath(ctx context.Context) error {
	s.pathOnce.Do(func() {
		supported, err := s.store.SupportsIntegratedEmbedding(ctx)
		if err != nil {
			s.pathErr = err
			return
		}
		s.manual.Store(!supported)
		if !supported {
			s.logger.Info("Index lacks integrated embedding, using manual write path")
		}
	})
	return s.pathErr
}

// runBatch writes one batch and reports per-document outcomes.
func (s *Service) runBatch(
	ctx context.Context, partitionName string, batch []domdoc.Document,
) (succeeded int, failures []dombatch.Failure) {
	if !s.manual.Load() {
		err := s.withRetry(ctx, func() error {
			return s.store.UpsertRecords(ctx, partitionName, textRecords(batch))
		})
		switch {
		case err == nil:
			metrics.IngestedDocumentsTotal.WithLabelValues("integrated", "ok").Add(float64(len(batch)))
			return len(batch), nil
		case errors.Is(err, domain.ErrIntegratedEmbeddingUnsupported):
			// The probe said integrated but the write path disagreed. Flip the
			// session once and fall through to the manual path.
			s.manual.Store(true)
			s.logger.Warn("Integrated write rejected, session falling back to manual path", zap.Error(err))
		default:
			metrics.IngestedDocumentsTotal.WithLabelValues("integrated", "error").Add(float64(len(batch)))
			return 0, batchFailures(batch, err)
		}
	}

	return s.runManualBatch(ctx, partitionName, batch)
}

// runManualBatch embeds each document client-side and writes vectors over the
// legacy path. Embedding failures are per-document: the rest of the batch
// still ships.
func (s *Service) runManualBatch(
	ctx context.Context, partitionName string, batch []domdoc.Document,
) (succeeded int, failures []dombatch.Failure) {
	vectors, failures := s.vectorize(ctx, batch)
	if len(vectors) == 0 {
		return 0, failures
	}

	err := s.withRetry(ctx, func() error {
		return s.store.UpsertVectors(ctx, partitionName, vectors)
	})
	if err != nil {
		metrics.IngestedDocumentsTotal.WithLabelValues("manual", "error").Add(float64(len(vectors)))
		for _, v := range vectors {
			failures = append(failures, dombatch.NewFailure(v.ID, fmt.Errorf("upsert vectors: %w", err)))
		}
		return 0, failures
	}

	metrics.IngestedDocumentsTotal.WithLabelValues("manual", "ok").Add(float64(len(vectors)))
	return len(vectors), failures
}

// vectorize computes embeddings for a batch, then falls back to per-document
// calls on failure so a single bad document cannot sink its neighbours.
func (s *Service) vectorize(
	ctx context.Context, batch []domdoc.Document,
) (vectors []retrieval.VectorRecord, failures []dombatch.Failure) {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text()
	}

	res, err := s.batchEmbed(ctx, texts)
	if err == nil {
		for i := range batch {
			vectors = append(vectors, vectorRecord(&batch[i], res.Embeddings[i]))
		}
		return vectors, nil
	}
	s.logger.Warn("Batch embed failed, embedding documents individually", zap.Error(err))

	for i := range batch {
		r, err := s.embed.Embed(ctx, texts[i])
		if err != nil {
			failures = append(failures, dombatch.NewFailure(batch[i].ID(), fmt.Errorf("embed: %w", err)))
			continue
		}
		vectors = append(vectors, vectorRecord(&batch[i], r.Embedding))
	}
	return vectors, failures
}

// batchEmbed uses the provider's native batch call when available and
// domain.BatchFallback otherwise.
func (s *Service) batchEmbed(ctx context.Context, texts []string) (domain.BatchEmbeddingResult, error) {
	if be, ok := s.embed.(domain.BatchEmbedder); ok {
		return be.BatchEmbed(ctx, texts)
	}
	return domain.BatchFallback(ctx, s.embed, texts)
}

// withRetry runs fn with bounded exponential backoff. Only transient failures
// are retried; validation-grade errors surface immediately.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !domain.IsTransient(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}

		wait := s.backoffBase << (attempt - 1)
		if wait > maxBackoffWait {
			wait = maxBackoffWait
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(wait):
		}
	}
	return err
}

func textRecords(batch []domdoc.Document) []retrieval.TextRecord {
	records := make([]retrieval.TextRecord, len(batch))
	for i := range batch {
		records[i] = retrieval.TextRecord{
			ID:     batch[i].ID(),
			Text:   batch[i].Text(),
			Fields: metadataFields(&batch[i]),
		}
	}
	return records
}

func vectorRecord(doc *domdoc.Document, vec []float32) retrieval.VectorRecord {
	meta := metadataFields(doc)
	meta["text"] = doc.Text()
	return retrieval.VectorRecord{ID: doc.ID(), Values: vec, Metadata: meta}
}

func metadataFields(doc *domdoc.Document) map[string]any {
	fields := make(map[string]any, len(doc.Tags())+len(doc.Numerics()))
	for k, v := range doc.Tags() {
		fields[k] = v
	}
	for k, v := range doc.Numerics() {
		fields[k] = v
	}
	return fields
}

func batchFailures(batch []domdoc.Document, err error) []dombatch.Failure {
	failures := make([]dombatch.Failure, len(batch))
	for i := range batch {
		failures[i] = dombatch.NewFailure(batch[i].ID(), err)
	}
	return failures
}
