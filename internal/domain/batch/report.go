package batch

// Failure records one document that could not be written.
type Failure struct {
	id  string
	err error
}

// NewFailure creates a write failure entry.
func NewFailure(id string, err error) Failure { return Failure{id: id, err: err} }

// ID returns the document identifier.
func (f Failure) ID() string { return f.id }

// Err returns the write error.
func (f Failure) Err() error { return f.err }

// Report aggregates the outcome of one bulk write call. Per-document and
// per-batch failures are collected here instead of raised, so partial success
// stays visible to the caller.
type Report struct {
	attempted int
	succeeded int
	failures  []Failure
}

// NewReport creates an empty write report.
func NewReport() *Report { return &Report{} }

// MarkAttempted adds n documents to the attempted total.
func (r *Report) MarkAttempted(n int) { r.attempted += n }

// MarkSucceeded adds n documents to the succeeded total.
func (r *Report) MarkSucceeded(n int) { r.succeeded += n }

// MarkFailed records a failed document.
func (r *Report) MarkFailed(id string, err error) {
	r.failures = append(r.failures, NewFailure(id, err))
}

// Attempted returns the number of documents whose batches were dispatched.
func (r *Report) Attempted() int { return r.attempted }

// Succeeded returns the number of documents written.
func (r *Report) Succeeded() int { return r.succeeded }

// Failed returns the number of documents that could not be written.
func (r *Report) Failed() int { return len(r.failures) }

// Failures returns the per-document failure list.
func (r *Report) Failures() []Failure { return r.failures }

// Merge folds another report into this one.
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	r.attempted += other.attempted
	r.succeeded += other.succeeded
	r.failures = append(r.failures, other.failures...)
}
