package core

import (
	"context"
)

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Text     string
	Metadata map[string]string
}

// DocumentExtractor defines the interface for extracting text from various document types.
type DocumentExtractor interface {
	// ExtractText returns the full plain text of data.
	// The `contentType` hint helps the extractor choose the right parsing strategy.
	ExtractText(ctx context.Context, data []byte, contentType string) (*ExtractedText, error)
}

// Job identifies one ingestion workflow: a document at a specific version.
type Job struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
}

// JobQueue hands ingestion jobs to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
	Close() error
}
