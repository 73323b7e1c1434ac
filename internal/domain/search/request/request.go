package request

import (
	"fmt"
	"strings"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/domain/search/filter"
)

// Search parameter limits.
const (
	// MaxQueryLength is the maximum allowed query text length.
	MaxQueryLength = 4096
	DefaultTopK    = 10
	MaxTopK        = 100
)

// Request is a validated search query.
type Request struct {
	query     string
	filters   filter.Expression
	partition string
	topK      int
}

// New validates and normalizes search parameters.
// Query text is required; topK must be positive and is clamped to MaxTopK.
// Partition is optional: the engine resolves one when it is empty.
func New(query string, filters filter.Expression, partitionName string, topK int) (Request, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Request{}, fmt.Errorf("query text is required: %w", domain.ErrValidation)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("query too long (max %d chars): %w", MaxQueryLength, domain.ErrValidation)
	}
	if topK <= 0 {
		return Request{}, fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrValidation)
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	return Request{query: query, filters: filters, partition: partitionName, topK: topK}, nil
}

// Query returns the free-text query.
func (r Request) Query() string { return r.query }

// Filters returns the structured filter expression.
func (r Request) Filters() filter.Expression { return r.filters }

// Partition returns the explicitly requested partition, empty when unset.
func (r Request) Partition() string { return r.partition }

// TopK returns the number of results to retrieve.
func (r Request) TopK() int { return r.topK }
