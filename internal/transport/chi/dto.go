package chi

import (
	dombatch "github.com/ent-agency/campaignsearch/internal/domain/batch"
	"github.com/ent-agency/campaignsearch/internal/domain/search/result"
	analyticsuc "github.com/ent-agency/campaignsearch/internal/usecase/analytics"
	healthuc "github.com/ent-agency/campaignsearch/internal/usecase/health"
)

type errorDTO struct {
	Error string `json:"error"`
}

type healthDTO struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func healthToDTO(r healthuc.Report) healthDTO {
	checks := make(map[string]string, len(r.Checks))
	for k, v := range r.Checks {
		checks[k] = string(v)
	}
	return healthDTO{Status: string(r.Status), Checks: checks}
}

type statsDTO struct {
	Dimension    int            `json:"dimension"`
	TotalRecords int            `json:"total_records"`
	Partitions   map[string]int `json:"partitions"`
}

type failureDTO struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type reportDTO struct {
	Attempted int          `json:"attempted"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Failures  []failureDTO `json:"failures,omitempty"`
}

func reportToDTO(r *dombatch.Report) reportDTO {
	dto := reportDTO{
		Attempted: r.Attempted(),
		Succeeded: r.Succeeded(),
		Failed:    r.Failed(),
	}
	for _, f := range r.Failures() {
		dto.Failures = append(dto.Failures, failureDTO{ID: f.ID(), Error: f.Err().Error()})
	}
	return dto
}

type resultDTO struct {
	ID       string             `json:"id"`
	Score    float64            `json:"score"`
	Text     string             `json:"text,omitempty"`
	Tags     map[string]string  `json:"tags,omitempty"`
	Numerics map[string]float64 `json:"numerics,omitempty"`
}

type resultListDTO struct {
	Results []resultDTO `json:"results"`
}

func resultsToDTO(results []result.Result) resultListDTO {
	dto := resultListDTO{Results: make([]resultDTO, 0, len(results))}
	for i := range results {
		r := &results[i]
		dto.Results = append(dto.Results, resultDTO{
			ID:       r.ID(),
			Score:    r.Score(),
			Text:     r.Text(),
			Tags:     r.Tags(),
			Numerics: r.Numerics(),
		})
	}
	return dto
}

type trendPointDTO struct {
	Period  string  `json:"period"`
	Matches int     `json:"matches"`
	Average float64 `json:"average"`
}

type trendsDTO struct {
	Points []trendPointDTO `json:"points"`
}

type creatorStatsDTO struct {
	Creator   string  `json:"creator"`
	Campaigns int     `json:"campaigns"`
	Average   float64 `json:"average"`
}

type comparisonDTO struct {
	A creatorStatsDTO `json:"a"`
	B creatorStatsDTO `json:"b"`
}

func comparisonToDTO(a, b analyticsuc.CreatorStats) comparisonDTO {
	return comparisonDTO{
		A: creatorStatsDTO{Creator: a.Creator, Campaigns: a.Campaigns, Average: a.Average},
		B: creatorStatsDTO{Creator: b.Creator, Campaigns: b.Campaigns, Average: b.Average},
	}
}

func trendsToDTO(points []analyticsuc.TrendPoint) trendsDTO {
	dto := trendsDTO{Points: make([]trendPointDTO, 0, len(points))}
	for _, p := range points {
		dto.Points = append(dto.Points, trendPointDTO{
			Period:  p.Period,
			Matches: p.Matches,
			Average: p.Average,
		})
	}
	return dto
}
