// Package record holds the campaign record aggregate: the structured unit of
// marketing data the rest of the system indexes and retrieves.
package record

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ent-agency/campaignsearch/internal/domain"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MaxIDLength is the maximum record identifier length.
const MaxIDLength = 256

// Record is the campaign record aggregate (immutable value object).
type Record struct {
	id           string
	period       string
	creator      string
	brand        string
	campaignType string
	platform     string
	date         string
	metrics      map[string]float64
	revenue      *float64
	content      string
	notes        string
}

// Params carries the raw attributes of a campaign record.
type Params struct {
	ID           string
	Period       string
	Creator      string
	Brand        string
	CampaignType string
	Platform     string
	Date         string
	Metrics      map[string]float64
	Revenue      *float64
	Content      string
	Notes        string
}

// New validates and creates a Record.
// ID is optional (the transformer derives one when absent), but when given it
// must be ^[a-zA-Z0-9_-]+$ and at most 256 chars. Metric names must be
// non-empty and metric values finite.
func New(p Params) (Record, error) {
	if p.ID != "" {
		if len(p.ID) > MaxIDLength {
			return Record{}, fmt.Errorf("record ID too long (max %d): %w", MaxIDLength, domain.ErrValidation)
		}
		if !idRegex.MatchString(p.ID) {
			return Record{}, fmt.Errorf(
				"record ID must be alphanumeric with underscores and hyphens: %w", domain.ErrValidation)
		}
	}
	for name, v := range p.Metrics {
		if strings.TrimSpace(name) == "" {
			return Record{}, fmt.Errorf("metric name is required: %w", domain.ErrValidation)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Record{}, fmt.Errorf("metric %q is not a finite number: %w", name, domain.ErrValidation)
		}
	}
	if p.Revenue != nil && (math.IsNaN(*p.Revenue) || math.IsInf(*p.Revenue, 0)) {
		return Record{}, fmt.Errorf("revenue is not a finite number: %w", domain.ErrValidation)
	}

	return Record{
		id:           p.ID,
		period:       strings.TrimSpace(p.Period),
		creator:      strings.TrimSpace(p.Creator),
		brand:        strings.TrimSpace(p.Brand),
		campaignType: strings.TrimSpace(p.CampaignType),
		platform:     strings.TrimSpace(p.Platform),
		date:         strings.TrimSpace(p.Date),
		metrics:      cloneMetrics(p.Metrics),
		revenue:      p.Revenue,
		content:      strings.TrimSpace(p.Content),
		notes:        strings.TrimSpace(p.Notes),
	}, nil
}

// ID returns the caller-supplied identifier, empty when one must be derived.
func (r *Record) ID() string { return r.id }

// Period returns the time period attribute, e.g. "2024 Q4".
func (r *Record) Period() string { return r.period }

// Creator returns the creator name.
func (r *Record) Creator() string { return r.creator }

// Brand returns the brand name.
func (r *Record) Brand() string { return r.brand }

// CampaignType returns the campaign type, e.g. "Instagram Post".
func (r *Record) CampaignType() string { return r.campaignType }

// Platform returns the platform name.
func (r *Record) Platform() string { return r.platform }

// Date returns the campaign date string.
func (r *Record) Date() string { return r.date }

// Metrics returns the named numeric measures.
func (r *Record) Metrics() map[string]float64 { return r.metrics }

// Revenue returns the revenue, nil when not reported.
func (r *Record) Revenue() *float64 { return r.revenue }

// Content returns the free-text content description.
func (r *Record) Content() string { return r.content }

// Notes returns the free-text notes.
func (r *Record) Notes() string { return r.notes }

func cloneMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// metricCleaner strips the decoration spreadsheet exports put on numbers.
var metricCleaner = strings.NewReplacer(",", "", "%", "", "$", "", " ", "")

// ParseMetrics converts a raw metric map into the flat name→number form.
// The policy is total and fixed: exactly one level of nesting, values must be
// numeric scalars (numeric strings with ","/"%"/"$" decoration are cleaned and
// parsed); nested maps, arrays, and non-numeric values fail validation.
func ParseMetrics(raw map[string]any) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		switch val := v.(type) {
		case float64:
			out[name] = val
		case int:
			out[name] = float64(val)
		case int64:
			out[name] = float64(val)
		case string:
			f, err := strconv.ParseFloat(metricCleaner.Replace(val), 64)
			if err != nil {
				return nil, fmt.Errorf("metric %q is not numeric: %w", name, domain.ErrValidation)
			}
			out[name] = f
		default:
			return nil, fmt.Errorf(
				"metric %q has unsupported type %T (nested metrics are not supported): %w",
				name, v, domain.ErrValidation)
		}
	}
	return out, nil
}
