package result

// Result is a single normalized search hit. Score scale depends on which query
// path served the request and is not comparable across paths.
type Result struct {
	id       string
	score    float64
	text     string
	tags     map[string]string
	numerics map[string]float64
}

// New creates a search result.
func New(id string, score float64, text string, tags map[string]string, numerics map[string]float64) Result {
	return Result{id: id, score: score, text: text, tags: tags, numerics: numerics}
}

// ID returns the document identifier.
func (r *Result) ID() string { return r.id }

// Score returns the relevance score (higher is better).
func (r *Result) Score() float64 { return r.score }

// Text returns the echoed searchable text, empty when the store did not return it.
func (r *Result) Text() string { return r.text }

// Tags returns the categorical metadata fields.
func (r *Result) Tags() map[string]string { return r.tags }

// Numerics returns the numeric metadata fields.
func (r *Result) Numerics() map[string]float64 { return r.numerics }

// Numeric returns a numeric metadata field by name.
func (r *Result) Numeric(name string) (float64, bool) {
	v, ok := r.numerics[name]
	return v, ok
}
