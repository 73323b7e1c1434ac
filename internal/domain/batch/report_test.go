package batch

import (
	"errors"
	"testing"
)

func TestReportCounters(t *testing.T) {
	r := NewReport()
	r.MarkAttempted(5)
	r.MarkSucceeded(3)
	r.MarkFailed("doc-1", errors.New("boom"))
	r.MarkFailed("doc-2", errors.New("boom"))

	if r.Attempted() != 5 {
		t.Errorf("Attempted() = %d, want 5", r.Attempted())
	}
	if r.Succeeded() != 3 {
		t.Errorf("Succeeded() = %d, want 3", r.Succeeded())
	}
	if r.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", r.Failed())
	}
	if r.Failures()[0].ID() != "doc-1" {
		t.Errorf("first failure ID = %q, want doc-1", r.Failures()[0].ID())
	}
}

func TestReportMerge(t *testing.T) {
	a := NewReport()
	a.MarkAttempted(2)
	a.MarkSucceeded(2)

	b := NewReport()
	b.MarkAttempted(3)
	b.MarkSucceeded(1)
	b.MarkFailed("doc-9", errors.New("boom"))

	a.Merge(b)
	a.Merge(nil)

	if a.Attempted() != 5 || a.Succeeded() != 3 || a.Failed() != 1 {
		t.Errorf("merged report = (%d, %d, %d), want (5, 3, 1)",
			a.Attempted(), a.Succeeded(), a.Failed())
	}
}
