// Package transform converts campaign records into searchable documents:
// canonical text assembly, flattened metadata, and stable identity derivation.
package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ent-agency/campaignsearch/internal/domain"
	"github.com/ent-agency/campaignsearch/internal/domain/document"
	"github.com/ent-agency/campaignsearch/internal/domain/record"
)

// MetricPrefix is prepended to flattened metric metadata fields.
const MetricPrefix = "metric_"

const derivedIDPrefix = "campaign_"

// Document transforms a campaign record into its searchable document.
// When the record has no ID one is derived from its logical identity, so
// repeated ingestion of the same event converges on one stored document.
func Document(rec record.Record) (document.Document, error) {
	id := rec.ID()
	if id == "" {
		derived, err := DeriveID(rec)
		if err != nil {
			return document.Document{}, err
		}
		id = derived
	}

	text := assembleText(rec)
	if text == "" {
		return document.Document{}, fmt.Errorf(
			"record %s has no descriptive fields to index: %w", id, domain.ErrValidation)
	}

	tags := make(map[string]string)
	for _, f := range []struct{ key, value string }{
		{"period", rec.Period()},
		{"creator", rec.Creator()},
		{"brand", rec.Brand()},
		{"campaign_type", rec.CampaignType()},
		{"platform", rec.Platform()},
		{"date", rec.Date()},
	} {
		if f.value != "" {
			tags[f.key] = f.value
		}
	}

	numerics := make(map[string]float64, len(rec.Metrics())+1)
	for name, v := range rec.Metrics() {
		numerics[MetricPrefix+name] = v
	}
	if rev := rec.Revenue(); rev != nil {
		numerics["revenue"] = *rev
	}

	return document.New(id, text, tags, numerics)
}

// DeriveID computes the stable identity hash for a record without an explicit
// ID, from creator+brand+date+campaign_type. Fails when all components are
// empty, since no deterministic identity exists then.
func DeriveID(rec record.Record) (string, error) {
	parts := []string{rec.Creator(), rec.Brand(), rec.Date(), rec.CampaignType()}
	if strings.Join(parts, "") == "" {
		return "", fmt.Errorf(
			"record has no ID and no identity fields (creator, brand, date, campaign_type): %w",
			domain.ErrValidation)
	}
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return derivedIDPrefix + hex.EncodeToString(h[:8]), nil
}

// assembleText builds the canonical text blob in a fixed field order so the
// output is reproducible call to call. Absent fields are omitted entirely,
// never written as empty placeholders.
func assembleText(rec record.Record) string {
	var parts []string
	for _, f := range []struct{ label, value string }{
		{"Period", rec.Period()},
		{"Creator", rec.Creator()},
		{"Brand", rec.Brand()},
		{"Campaign Type", rec.CampaignType()},
		{"Platform", rec.Platform()},
		{"Date", rec.Date()},
		{"Content", rec.Content()},
		{"Notes", rec.Notes()},
	} {
		if f.value != "" {
			parts = append(parts, f.label+": "+f.value)
		}
	}
	return strings.Join(parts, "\n")
}
