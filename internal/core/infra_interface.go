package core

import (
	"context"
	"io"
	"time"

	"github.com/markdave123-py/contexta-kb/internal/models"
)

// StatusChange is a compare-and-set write of a document's lifecycle columns.
// The write applies only while the stored row still has From and Version.
type StatusChange struct {
	From            models.UploadStatus
	To              models.UploadStatus
	Processing      *models.ProcessingStatus
	Version         int
	NewVersion      int // zero keeps Version
	ErrorMessage    *string
	ProcessedAt     *time.Time
	KnowledgeBaseID *string // left untouched when nil
	StorageURL      *string // left untouched when nil
	Content         *ContentChange
}

// ContentChange replaces the file metadata of a document on a content update.
// The storage key never changes.
type ContentChange struct {
	FileName    string
	ContentType string
	SizeBytes   int64
}

// ChunkStatusUpdate records the ingest outcome of one chunk.
type ChunkStatusUpdate struct {
	Position    int
	Status      models.IngestStatus
	ExternalRef *string
}

// ChunkMatch is a chunk ranked against a query vector. Score is the cosine
// similarity.
type ChunkMatch struct {
	models.DocumentChunk
	FileName string
	Score    float32
}

// DbClient defines all persistence operations your services will need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	ListDocumentsByDomain(ctx context.Context, domain string) ([]models.Document, error)
	// UpdateDocumentStatus and UpdateProcessingStatus write one column. A
	// non-nil expected value makes the write compare-and-set.
	UpdateDocumentStatus(ctx context.Context, id string, status models.UploadStatus, expected *models.UploadStatus) error
	UpdateProcessingStatus(ctx context.Context, id string, status models.ProcessingStatus, expected *models.ProcessingStatus) error
	TransitionDocument(ctx context.Context, id string, change StatusChange) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string, version int) error

	ReplaceDocumentChunks(ctx context.Context, documentID string, version int, chunks []models.DocumentChunk) error
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	UpdateChunkIngestStatus(ctx context.Context, documentID string, version int, updates []ChunkStatusUpdate) error
	SetChunkEmbeddings(ctx context.Context, documentID string, version int, embeddings map[int][]float32) error
	DeleteChunksByDocument(ctx context.Context, documentID string) error
	SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]ChunkMatch, error)
	SearchChunksByDomains(ctx context.Context, domains []string, queryVec []float32, limit int) ([]ChunkMatch, error)

	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error)
	ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error)
	FindKnowledgeBaseForDomain(ctx context.Context, domain string) (*models.KnowledgeBase, error)

	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
// The bucket is bound when the client is constructed.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data []byte, contentType string) (url string, err error)
	GetFile(ctx context.Context, key string) ([]byte, error)
	GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
	PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// DefaultPresignTTL applies when a caller passes a zero duration.
const DefaultPresignTTL = 15 * time.Minute
