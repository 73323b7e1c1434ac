package ingest

import (
	"context"

	"github.com/ent-agency/campaignsearch/internal/retrieval"
)

// Store is the write-side retrieval service contract the batch writer consumes.
type Store interface {
	SupportsIntegratedEmbedding(ctx context.Context) (bool, error)
	UpsertRecords(ctx context.Context, partitionName string, records []retrieval.TextRecord) error
	UpsertVectors(ctx context.Context, partitionName string, vectors []retrieval.VectorRecord) error
}
