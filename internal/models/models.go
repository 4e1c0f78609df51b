package models

import (
	"time"
)

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	Domain       string    `db:"domain" json:"domain"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document is an uploaded file and its ingestion lifecycle.
type Document struct {
	ID               string            `db:"id" json:"id"`
	UserID           string            `db:"user_id" json:"user_id"`
	Domain           string            `db:"domain" json:"domain"`
	FileName         string            `db:"file_name" json:"file_name"`
	ContentType      string            `db:"content_type" json:"content_type"`
	SizeBytes        int64             `db:"size_bytes" json:"size_bytes"`
	StorageKey       string            `db:"storage_key" json:"storage_key"`
	StorageURL       string            `db:"storage_url" json:"storage_url"`
	SourceType       string            `db:"source_type" json:"source_type"` // "upload" or "gitlab"
	KnowledgeBaseID  *string           `db:"knowledge_base_id" json:"knowledge_base_id,omitempty"`
	UploadStatus     UploadStatus      `db:"upload_status" json:"upload_status"`
	ProcessingStatus *ProcessingStatus `db:"processing_status" json:"processing_status,omitempty"`
	ErrorMessage     *string           `db:"error_message" json:"error_message,omitempty"`
	Version          int               `db:"version" json:"version"`
	UploadedAt       time.Time         `db:"uploaded_at" json:"uploaded_at"`
	ProcessedAt      *time.Time        `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// DocumentChunk represents one text chunk from a document version.
type DocumentChunk struct {
	ID           string       `db:"id" json:"id"`
	DocumentID   string       `db:"document_id" json:"document_id"`
	Version      int          `db:"version" json:"version"`
	Position     int          `db:"position" json:"position"`
	Text         string       `db:"text" json:"text"`
	StartOffset  *int         `db:"start_offset" json:"start_offset,omitempty"`
	EndOffset    *int         `db:"end_offset" json:"end_offset,omitempty"`
	TokenCount   int          `db:"token_count" json:"token_count"`
	Embedding    []float32    `db:"embedding" json:"-"` // pgvector column
	ExternalRef  *string      `db:"external_ref" json:"external_ref,omitempty"`
	IngestStatus IngestStatus `db:"ingest_status" json:"ingest_status"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// KnowledgeBase is a named retrieval backend serving one or more domains.
type KnowledgeBase struct {
	ID           string      `db:"id" json:"id"`
	Name         string      `db:"name" json:"name"`
	Domains      []string    `db:"domains" json:"domains"`
	Backend      BackendKind `db:"backend" json:"backend"`
	ExternalID   string      `db:"external_id" json:"external_id,omitempty"`     // qdrant collection or bedrock knowledge base id
	DataSourceID string      `db:"data_source_id" json:"data_source_id,omitempty"` // bedrock custom data source
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// Serves reports whether the knowledge base is configured for the domain.
func (kb *KnowledgeBase) Serves(domain string) bool {
	for _, d := range kb.Domains {
		if d == domain {
			return true
		}
	}
	return false
}

// BackendKind enumerates the retrieval backends a knowledge base can live in.
type BackendKind string

const (
	BackendPgvector BackendKind = "pgvector"
	BackendQdrant   BackendKind = "qdrant"
	BackendBedrock  BackendKind = "bedrock"
)

// Valid reports whether k is a known backend kind.
func (k BackendKind) Valid() bool {
	switch k {
	case BackendPgvector, BackendQdrant, BackendBedrock:
		return true
	}
	return false
}

// IngestStatus is the per-chunk outcome of pushing a chunk to its knowledge base.
type IngestStatus string

const (
	IngestPending   IngestStatus = "pending"
	IngestSucceeded IngestStatus = "succeeded"
	IngestFailed    IngestStatus = "failed"
)
