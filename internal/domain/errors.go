package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation signals bad caller input.
	ErrValidation = errors.New("validation failed")
	// ErrConfiguration signals a fatal setup problem (dimension mismatch, missing capability with no fallback).
	ErrConfiguration = errors.New("configuration error")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
	// ErrRetrievalService signals a retrieval service failure.
	ErrRetrievalService = errors.New("retrieval service error")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
	// ErrIntegratedEmbeddingUnsupported signals that the target index cannot embed text server-side.
	ErrIntegratedEmbeddingUnsupported = errors.New("index does not support integrated embedding")
	// ErrRerankUnavailable signals that the server-side rerank stage was rejected.
	ErrRerankUnavailable = errors.New("rerank unavailable")
)

// RetrievalError wraps ErrRetrievalService with the failed operation, the HTTP
// status (0 for transport-level failures) and retry eligibility.
type RetrievalError struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Is makes every RetrievalError match ErrRetrievalService.
func (e *RetrievalError) Is(target error) bool { return target == ErrRetrievalService }

// NewRetrievalError creates a retrieval service error.
func NewRetrievalError(op string, status int, transient bool, err error) error {
	return &RetrievalError{Op: op, Status: status, Transient: transient, Err: err}
}

// IsTransient reports whether an error is eligible for the batch-level retry policy.
// Rate-limit errors are always transient.
func IsTransient(err error) bool {
	var re *RetrievalError
	if errors.As(err, &re) {
		return re.Transient
	}
	return errors.Is(err, ErrRateLimited)
}
