package ingestion_engine

import (
	"context"
	"time"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// Ingestor is the document lifecycle as seen by the HTTP layer, the GitLab
// connector and the CLI.
type Ingestor interface {
	SubmitUpload(ctx context.Context, req UploadRequest) (*models.Document, error)
	GetDocument(ctx context.Context, documentID, userID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID, domain string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, documentID, userID string) (bool, error)
	Reprocess(ctx context.Context, documentID string) (*models.Document, error)
	GetChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
	UpdateContent(ctx context.Context, documentID, userID, filename, contentType string, data []byte) (*models.Document, error)
	PresignDownload(ctx context.Context, documentID, userID string, ttl time.Duration) (string, error)

	Start(ctx context.Context, numWorkers int)
	Enqueue(ctx context.Context, job core.Job) error
	ProcessOne(ctx context.Context, job core.Job) error
}
