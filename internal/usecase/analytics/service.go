// Package analytics composes query engine calls into the common campaign
// question shapes: by brand, by creator, by performance metric, and trend
// comparison across partitions.
package analytics

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ent-agency/campaignsearch/internal/domain/partition"
	"github.com/ent-agency/campaignsearch/internal/domain/search/filter"
	"github.com/ent-agency/campaignsearch/internal/domain/search/request"
	"github.com/ent-agency/campaignsearch/internal/domain/search/result"
	"github.com/ent-agency/campaignsearch/internal/transform"
)

// Searcher is the query engine contract the builders consume.
type Searcher interface {
	Search(ctx context.Context, req request.Request) ([]result.Result, error)
}

// Service builds and runs the fixed analytic query shapes.
type Service struct {
	engine Searcher
	logger *zap.Logger
}

// New creates an analytics service.
func New(engine Searcher, logger *zap.Logger) *Service {
	return &Service{engine: engine, logger: logger}
}

// ByBrand finds campaigns for one brand.
func (s *Service) ByBrand(ctx context.Context, brand string, topK int) ([]result.Result, error) {
	return s.byTag(ctx, "brand", brand, topK)
}

// ByCreator finds campaigns for one creator.
func (s *Service) ByCreator(ctx context.Context, creator string, topK int) ([]result.Result, error) {
	return s.byTag(ctx, "creator", creator, topK)
}

func (s *Service) byTag(ctx context.Context, key, value string, topK int) ([]result.Result, error) {
	cond, err := filter.NewMatch(key, value)
	if err != nil {
		return nil, err
	}
	expr, err := filter.NewExpression([]filter.Condition{cond})
	if err != nil {
		return nil, err
	}
	req, err := request.New(value+" campaigns", expr, "", topK)
	if err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, req)
}

// BestPerforming finds the top campaigns for a named metric, optionally scoped
// to a period. The result set is reordered client-side by the structured
// metric field; this is the one place local reordering is legitimate, since it
// sorts by a measured value rather than semantic score.
func (s *Service) BestPerforming(
	ctx context.Context, metric, period string, topK int,
) ([]result.Result, error) {
	var conditions []filter.Condition
	if period != "" {
		cond, err := filter.NewMatch("period", period)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	expr, err := filter.NewExpression(conditions)
	if err != nil {
		return nil, err
	}
	req, err := request.New(fmt.Sprintf("campaigns with high %s", metric), expr, "", topK)
	if err != nil {
		return nil, err
	}

	results, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	field := transform.MetricPrefix + metric
	sort.SliceStable(results, func(i, j int) bool {
		vi, _ := results[i].Numeric(field)
		vj, _ := results[j].Numeric(field)
		return vi > vj
	})
	return results, nil
}

// TrendPoint summarizes one partition's slice of a trend analysis.
type TrendPoint struct {
	Period  string
	Matches int
	Average float64 // mean of the named metric over matches carrying it
}

// Trends runs one search per period partition and aggregates match counts and
// the average of the named metric.
func (s *Service) Trends(
	ctx context.Context, topic string, periods []string, metric string, topK int,
) ([]TrendPoint, error) {
	field := transform.MetricPrefix + metric
	points := make([]TrendPoint, 0, len(periods))

	for _, period := range periods {
		req, err := request.New(topic, filter.Expression{}, partition.Resolve(period), topK)
		if err != nil {
			return nil, err
		}
		results, err := s.engine.Search(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("trend search for %q: %w", period, err)
		}

		point := TrendPoint{Period: period, Matches: len(results)}
		var sum float64
		var n int
		for i := range results {
			if v, ok := results[i].Numeric(field); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			point.Average = sum / float64(n)
		}
		points = append(points, point)
	}

	return points, nil
}

// CreatorStats summarizes one creator's side of a comparison.
type CreatorStats struct {
	Creator   string
	Campaigns int
	Average   float64
}

// CompareCreators runs one filtered search per creator and summarizes the
// named metric for each.
func (s *Service) CompareCreators(
	ctx context.Context, creatorA, creatorB, metric string, topK int,
) (a, b CreatorStats, err error) {
	a, err = s.creatorStats(ctx, creatorA, metric, topK)
	if err != nil {
		return a, b, err
	}
	b, err = s.creatorStats(ctx, creatorB, metric, topK)
	return a, b, err
}

func (s *Service) creatorStats(ctx context.Context, creator, metric string, topK int) (CreatorStats, error) {
	results, err := s.ByCreator(ctx, creator, topK)
	if err != nil {
		return CreatorStats{}, fmt.Errorf("campaigns for %q: %w", creator, err)
	}

	stats := CreatorStats{Creator: creator, Campaigns: len(results)}
	field := transform.MetricPrefix + metric
	var sum float64
	var n int
	for i := range results {
		if v, ok := results[i].Numeric(field); ok {
			sum += v
			n++
		}
	}
	if n > 0 {
		stats.Average = sum / float64(n)
	}
	return stats, nil
}
