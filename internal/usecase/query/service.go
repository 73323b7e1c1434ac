// Package query implements the query engine: it resolves the target
// partition, builds the request for whichever retrieval path is active, and
// normalizes both raw response shapes into one result schema.
package query

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/domain/partition"
	"github.com/ent-agency/campaignsearch/internal/domain/search/request"
	"github.com/ent-agency/campaignsearch/internal/domain/search/result"
	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

// Service is the query engine.
type Service struct {
	store       Store
	embed       domain.Embedder
	rerankModel string
	logger      *zap.Logger
}

// New creates a query engine. The rerank stage is always requested on the
// primary path; precision is worth the marginal latency here.
func New(store Store, embed domain.Embedder, rerankModel string, logger *zap.Logger) *Service {
	return &Service{store: store, embed: embed, rerankModel: rerankModel, logger: logger}
}

// Search resolves a free-text query plus optional structured filter into a
// ranked result list. Provider order is authoritative and never re-sorted
// locally. A partition with no documents yields an empty list, as do filters
// on fields no ingested document carries.
func (s *Service) Search(ctx context.Context, req request.Request) ([]result.Result, error) {
	partitionName := s.resolvePartition(req)
	providerFilter := retrieval.FilterMap(req.Filters())

	supported, err := s.store.SupportsIntegratedEmbedding(ctx)
	if err != nil {
		return nil, fmt.Errorf("capability probe: %w", err)
	}

	if supported {
		hits, err := s.store.SearchRecords(
			ctx, partitionName, req.Query(), providerFilter, req.TopK(), s.rerankModel,
		)
		if err == nil {
			s.logger.Debug("Query served by rank search",
				zap.String("partition", partitionName), zap.Int("hits", len(hits)))
			return normalizeHits(hits), nil
		}
		if !degradable(err) {
			return nil, fmt.Errorf("rank search: %w", err)
		}
		// Partial provider degradation must not fail the call.
		s.logger.Warn("Rank search unavailable, falling back to vector query", zap.Error(err))
	}

	emb, err := s.embed.Embed(ctx, req.Query())
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}

	matches, err := s.store.QueryVectors(ctx, partitionName, emb.Embedding, providerFilter, req.TopK())
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	s.logger.Debug("Query served by vector query",
		zap.String("partition", partitionName), zap.Int("matches", len(matches)))
	return normalizeMatches(matches), nil
}

// resolvePartition picks the partition: explicit request argument, else the
// filter-supplied period, else the default.
func (s *Service) resolvePartition(req request.Request) string {
	if p := req.Partition(); p != "" {
		return p
	}
	if period, ok := req.Filters().MatchValue("period"); ok {
		return partition.Resolve(period)
	}
	return partition.Default
}

// degradable reports whether a rank-search failure should silently fall back
// to the legacy path instead of failing the call.
func degradable(err error) bool {
	return errors.Is(err, domain.ErrRerankUnavailable) ||
		errors.Is(err, domain.ErrIntegratedEmbeddingUnsupported)
}

// normalizeHits converts rank-search hits, preserving provider order.
func normalizeHits(hits []retrieval.Hit) []result.Result {
	results := make([]result.Result, len(hits))
	for i, h := range hits {
		text, tags, numerics := splitFields(h.Fields)
		results[i] = result.New(h.ID, h.Score, text, tags, numerics)
	}
	return results
}

// normalizeMatches converts vector-query matches, preserving provider order.
func normalizeMatches(matches []retrieval.Match) []result.Result {
	results := make([]result.Result, len(matches))
	for i, m := range matches {
		text, tags, numerics := splitFields(m.Metadata)
		results[i] = result.New(m.ID, m.Score, text, tags, numerics)
	}
	return results
}

// splitFields separates raw provider metadata into the normalized shape:
// the echoed text blob, categorical tags, and numeric fields. JSON numbers
// arrive as float64; anything else is ignored rather than guessed at.
func splitFields(fields map[string]any) (text string, tags map[string]string, numerics map[string]float64) {
	tags = make(map[string]string)
	numerics = make(map[string]float64)
	for k, v := range fields {
		if k == "text" {
			if s, ok := v.(string); ok {
				text = s
			}
			continue
		}
		switch val := v.(type) {
		case string:
			tags[k] = val
		case float64:
			numerics[k] = val
		}
	}
	return text, tags, numerics
}
