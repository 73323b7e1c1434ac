// Package retrieval defines the contract between the engine and the external
// managed retrieval service. The record, hit, and match shapes mirror the
// provider wire format; interpretation of results belongs to the query engine.
package retrieval

import (
	"context"

	"github.com/ent-agency/campaignsearch/internal/domain/search/filter"
)

// TextRecord is the text-native upsert unit for indexes with integrated embedding.
type TextRecord struct {
	ID     string
	Text   string
	Fields map[string]any
}

// VectorRecord is the legacy upsert unit carrying a client-computed embedding.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Hit is a raw result from the rank-enabled search path.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// Match is a raw result from the legacy vector-similarity path.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Stats describes the index contents.
type Stats struct {
	Dimension    int
	TotalRecords int
	Partitions   map[string]int
}

// Store is the full retrieval service surface. Implementations report failures
// as domain.RetrievalError so callers can decide retry eligibility.
type Store interface {
	// SupportsIntegratedEmbedding probes whether the index embeds text
	// server-side. Memoized per instance for the session lifetime.
	SupportsIntegratedEmbedding(ctx context.Context) (bool, error)

	UpsertRecords(ctx context.Context, partitionName string, records []TextRecord) error
	UpsertVectors(ctx context.Context, partitionName string, vectors []VectorRecord) error

	SearchRecords(
		ctx context.Context, partitionName, query string,
		providerFilter map[string]any, topK int, rerankModel string,
	) ([]Hit, error)
	QueryVectors(
		ctx context.Context, partitionName string, vector []float32,
		providerFilter map[string]any, topK int,
	) ([]Match, error)

	Stats(ctx context.Context) (Stats, error)
}

// FilterMap converts a filter expression into the provider's JSON filter
// syntax ($eq for matches, $gt/$gte/$lt/$lte for ranges).
func FilterMap(expr filter.Expression) map[string]any {
	if expr.IsEmpty() {
		return nil
	}
	out := make(map[string]any, len(expr.Conditions()))
	for _, c := range expr.Conditions() {
		switch {
		case c.IsMatch():
			out[c.Key()] = map[string]any{"$eq": c.Match()}
		case c.IsRange():
			r := c.Range()
			bounds := make(map[string]any, 2)
			if v := r.GT(); v != nil {
				bounds["$gt"] = *v
			}
			if v := r.GTE(); v != nil {
				bounds["$gte"] = *v
			}
			if v := r.LT(); v != nil {
				bounds["$lt"] = *v
			}
			if v := r.LTE(); v != nil {
				bounds["$lte"] = *v
			}
			out[c.Key()] = bounds
		}
	}
	return out
}
