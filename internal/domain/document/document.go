// Package document holds the searchable unit derived from a campaign record.
package document

import (
	"fmt"
	"regexp"

	"github.com/ent-agency/campaignsearch/internal/domain"
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	// metadataLimit is the retrieval service's per-record metadata cap in bytes.
	// On the vector write path the text blob shares this cap with the flattened
	// tag and metric fields.
	metadataLimit = 40960 // 40KB

	// metadataHeadroom is reserved for the non-text metadata fields.
	metadataHeadroom = 4096

	// MaxTextSize is the maximum searchable text size in bytes.
	MaxTextSize = metadataLimit - metadataHeadroom
)

// reservedFields are metadata keys the store assigns meaning to.
var reservedFields = map[string]bool{"text": true, "_id": true}

// Document is the searchable unit: canonical text plus flattened, queryable metadata.
type Document struct {
	id       string
	text     string
	tags     map[string]string
	numerics map[string]float64
}

// New validates and creates a Document.
// Tags and numerics are the flattened metadata; the "text" and "_id" keys are
// reserved so the full text blob is never duplicated into metadata.
func New(id, text string, tags map[string]string, numerics map[string]float64) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("document ID is required: %w", domain.ErrValidation)
	}
	if !idRegex.MatchString(id) {
		return Document{}, fmt.Errorf(
			"document ID must be alphanumeric with underscores and hyphens: %w", domain.ErrValidation)
	}
	if text == "" {
		return Document{}, fmt.Errorf("searchable text is required: %w", domain.ErrValidation)
	}
	if len(text) > MaxTextSize {
		return Document{}, fmt.Errorf("searchable text too large (max %d bytes): %w", MaxTextSize, domain.ErrValidation)
	}
	for k := range tags {
		if reservedFields[k] {
			return Document{}, fmt.Errorf("metadata field %q is reserved: %w", k, domain.ErrValidation)
		}
	}
	for k := range numerics {
		if reservedFields[k] {
			return Document{}, fmt.Errorf("metadata field %q is reserved: %w", k, domain.ErrValidation)
		}
	}

	return Document{
		id:       id,
		text:     text,
		tags:     cloneStringMap(tags),
		numerics: cloneFloat64Map(numerics),
	}, nil
}

// ID returns the document identifier.
func (d *Document) ID() string { return d.id }

// Text returns the canonical searchable text.
func (d *Document) Text() string { return d.text }

// Tags returns the categorical metadata fields.
func (d *Document) Tags() map[string]string { return d.tags }

// Numerics returns the numeric metadata fields.
func (d *Document) Numerics() map[string]float64 { return d.numerics }

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneFloat64Map(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	c := make(map[string]float64, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
