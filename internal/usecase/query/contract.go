package query

import (
	"context"

	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

// Store is the read-side retrieval service contract the engine consumes.
type Store interface {
	SupportsIntegratedEmbedding(ctx context.Context) (bool, error)
	SearchRecords(
		ctx context.Context, partitionName, query string,
		providerFilter map[string]any, topK int, rerankModel string,
	) ([]retrieval.Hit, error)
	QueryVectors(
		ctx context.Context, partitionName string, vector []float32,
		providerFilter map[string]any, topK int,
	) ([]retrieval.Match, error)
}
