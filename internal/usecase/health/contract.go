package health

import "context"

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CachePinger checks embedding cache connectivity.
type CachePinger interface {
	Ping(ctx context.Context) error
}
