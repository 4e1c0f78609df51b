package core

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable marks a knowledge-base backend that is not configured in this process.
var ErrBackendUnavailable = errors.New("knowledge base backend unavailable")

// ValidationError reports bad input. It is never retried.
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Message)
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError reports a lost compare-and-set. Callers must re-read and retry.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s conflict: %s", e.Resource, e.ID, e.Reason)
}

// StorageError wraps a failed object storage call.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IngestPartialFailure reports that some chunks of a document version were not ingested.
type IngestPartialFailure struct {
	DocumentID    string
	Version       int
	FailedIndices []int
	Err           error
}

func (e *IngestPartialFailure) Error() string {
	return fmt.Sprintf("ingest of document %s v%d partially failed (%d chunks): %v",
		e.DocumentID, e.Version, len(e.FailedIndices), e.Err)
}

func (e *IngestPartialFailure) Unwrap() error { return e.Err }

// IngestTotalFailure reports that no chunk of a document version could be ingested.
type IngestTotalFailure struct {
	DocumentID string
	Version    int
	Err        error
}

func (e *IngestTotalFailure) Error() string {
	return fmt.Sprintf("ingest of document %s v%d failed: %v", e.DocumentID, e.Version, e.Err)
}

func (e *IngestTotalFailure) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
