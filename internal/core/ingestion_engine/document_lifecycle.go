package ingestion_engine

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// Source types recorded on documents.
const (
	SourceUpload = "upload"
	SourceGitlab = "gitlab"
)

// UploadRequest carries a file handed to SubmitUpload.
type UploadRequest struct {
	UserID      string
	Domain      string
	FileName    string
	ContentType string
	Data        []byte
	SourceType  string
}

// SubmitUpload validates the file, stores its bytes and records the document.
// A storage failure after retries leaves the document failed.
func (i *DocumentIngestor) SubmitUpload(ctx context.Context, req UploadRequest) (*models.Document, error) {
	ct := DetectContentType(req.FileName, req.ContentType)
	if err := i.validator.Validate(req.FileName, ct, int64(len(req.Data))); err != nil {
		return nil, err
	}

	kb, err := i.db.FindKnowledgeBaseForDomain(ctx, req.Domain)
	if err != nil {
		return nil, fmt.Errorf("find knowledge base: %w", err)
	}

	source := req.SourceType
	if source == "" {
		source = SourceUpload
	}
	docID := uuid.NewString()
	name := cleanFilename(req.FileName)
	doc := &models.Document{
		ID:           docID,
		UserID:       req.UserID,
		Domain:       req.Domain,
		FileName:     name,
		ContentType:  ct,
		SizeBytes:    int64(len(req.Data)),
		StorageKey:   objectKey(req.UserID, docID, name),
		SourceType:   source,
		UploadStatus: models.StatusUploading,
		Version:      1,
		UploadedAt:   time.Now().UTC(),
	}
	if kb != nil {
		doc.KnowledgeBaseID = &kb.ID
	}
	if err := i.db.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	doc, err = i.store(ctx, doc, req.Data)
	if err != nil {
		return nil, err
	}
	i.enqueue(ctx, doc)

	log.Info().
		Str("document_id", doc.ID).
		Str("domain", doc.Domain).
		Str("content_type", doc.ContentType).
		Int64("size", doc.SizeBytes).
		Msg("document uploaded")
	return doc, nil
}

// store writes the bytes of a document in uploading and confirms it.
func (i *DocumentIngestor) store(ctx context.Context, doc *models.Document, data []byte) (*models.Document, error) {
	var url string
	err := i.withStorageRetry(ctx, "upload", doc.StorageKey, func() error {
		var err error
		url, err = i.obj.UploadFile(ctx, doc.StorageKey, data, doc.ContentType)
		return err
	})
	if err != nil {
		msg := err.Error()
		if _, ferr := i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
			From:         models.StatusUploading,
			To:           models.StatusFailed,
			Processing:   models.ProcessingFor(models.StatusUploading, models.StatusFailed),
			Version:      doc.Version,
			ErrorMessage: &msg,
		}); ferr != nil {
			log.Error().Err(ferr).Str("document_id", doc.ID).Msg("could not mark document failed")
		}
		return nil, err
	}

	return i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
		From:       models.StatusUploading,
		To:         models.StatusUploaded,
		Processing: models.ProcessingFor(models.StatusUploading, models.StatusUploaded),
		Version:    doc.Version,
		StorageURL: &url,
	})
}

// GetDocument returns a document owned by userID. Documents of other users
// are reported as not found.
func (i *DocumentIngestor) GetDocument(ctx context.Context, documentID, userID string) (*models.Document, error) {
	doc, err := i.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != userID {
		return nil, &core.NotFoundError{Resource: "document", ID: documentID}
	}
	return doc, nil
}

// ListDocuments lists a user's documents, narrowed to domain when set. An
// empty userID lists the whole domain.
func (i *DocumentIngestor) ListDocuments(ctx context.Context, userID, domain string) ([]models.Document, error) {
	if userID == "" {
		return i.db.ListDocumentsByDomain(ctx, domain)
	}
	docs, err := i.db.ListDocumentsByUser(ctx, userID)
	if err != nil || domain == "" {
		return docs, err
	}
	out := docs[:0]
	for _, d := range docs {
		if d.Domain == domain {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetChunks returns the current chunk set of a document in index order.
func (i *DocumentIngestor) GetChunks(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	doc, err := i.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	chunks, err := i.db.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, ch := range chunks {
		if ch.Version == doc.Version {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Reprocess starts a new workflow version for a document in uploaded,
// processing or failed. A workflow still running for the old version has its
// results discarded.
func (i *DocumentIngestor) Reprocess(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := i.db.GetDocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	to, err := doc.UploadStatus.Next(models.EventReprocess)
	if err != nil {
		return nil, err
	}

	doc, err = i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
		From:       doc.UploadStatus,
		To:         to,
		Processing: models.ProcessingFor(doc.UploadStatus, to),
		Version:    doc.Version,
		NewVersion: doc.Version + 1,
	})
	if err != nil {
		return nil, lostRace(err, documentID)
	}
	i.enqueue(ctx, doc)
	log.Info().Str("document_id", doc.ID).Int("version", doc.Version).Msg("reprocess scheduled")
	return doc, nil
}

// UpdateContent replaces the bytes of a document at its storage key and
// restarts the cycle from uploading.
func (i *DocumentIngestor) UpdateContent(ctx context.Context, documentID, userID, filename, contentType string, data []byte) (*models.Document, error) {
	doc, err := i.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	ct := DetectContentType(filename, contentType)
	if err := i.validator.Validate(filename, ct, int64(len(data))); err != nil {
		return nil, err
	}
	to, err := doc.UploadStatus.Next(models.EventContentUpdated)
	if err != nil {
		return nil, err
	}

	doc, err = i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
		From:       doc.UploadStatus,
		To:         to,
		Processing: models.ProcessingFor(doc.UploadStatus, to),
		Version:    doc.Version,
		NewVersion: doc.Version + 1,
		Content: &core.ContentChange{
			FileName:    cleanFilename(filename),
			ContentType: ct,
			SizeBytes:   int64(len(data)),
		},
	})
	if err != nil {
		return nil, lostRace(err, documentID)
	}

	doc, err = i.store(ctx, doc, data)
	if err != nil {
		return nil, err
	}
	i.enqueue(ctx, doc)
	return doc, nil
}

// DeleteDocument claims the document by moving it to deleting at a new
// version, then removes backend records, chunk rows, the stored object and
// the row, in that order. Reprocess and content updates are refused once the
// claim holds. A concurrent reprocess or delete that wins the claim leaves
// this call with a ConflictError and nothing removed. A delete that fails
// after the claim can be retried.
func (i *DocumentIngestor) DeleteDocument(ctx context.Context, documentID, userID string) (bool, error) {
	doc, err := i.GetDocument(ctx, documentID, userID)
	if err != nil {
		return false, err
	}
	to, err := doc.UploadStatus.Next(models.EventDeleteRequested)
	if err != nil {
		return false, err
	}

	claimed, err := i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
		From:         doc.UploadStatus,
		To:           to,
		Processing:   doc.ProcessingStatus,
		Version:      doc.Version,
		NewVersion:   doc.Version + 1,
		ErrorMessage: doc.ErrorMessage,
		ProcessedAt:  doc.ProcessedAt,
	})
	if err != nil {
		return false, lostRace(err, documentID)
	}

	if doc.KnowledgeBaseID != nil {
		chunks, err := i.db.GetChunksByDocument(ctx, doc.ID)
		if err != nil {
			return false, fmt.Errorf("load chunks: %w", err)
		}
		keys := make([]string, len(chunks))
		for j, ch := range chunks {
			keys[j] = knowledgebase.RecordKey(doc.ID, ch.Version, ch.Position)
		}
		kb, err := i.db.GetKnowledgeBase(ctx, *doc.KnowledgeBaseID)
		if err != nil {
			return false, fmt.Errorf("load knowledge base: %w", err)
		}
		if err := i.syncer.Purge(ctx, kb, doc.ID, keys); err != nil {
			return false, fmt.Errorf("purge knowledge base records: %w", err)
		}
	}

	if err := i.db.DeleteChunksByDocument(ctx, doc.ID); err != nil {
		return false, fmt.Errorf("delete chunks: %w", err)
	}

	err = i.withStorageRetry(ctx, "delete", doc.StorageKey, func() error {
		return i.obj.DeleteFile(ctx, doc.StorageKey)
	})
	if err != nil && !core.IsNotFound(err) {
		return false, err
	}

	if err := i.db.DeleteDocument(ctx, doc.ID, claimed.Version); err != nil {
		return false, err
	}
	log.Info().Str("document_id", doc.ID).Msg("document deleted")
	return true, nil
}

// PresignDownload returns a time-limited URL for the stored bytes. A zero ttl
// uses the storage default.
func (i *DocumentIngestor) PresignDownload(ctx context.Context, documentID, userID string, ttl time.Duration) (string, error) {
	doc, err := i.GetDocument(ctx, documentID, userID)
	if err != nil {
		return "", err
	}
	if doc.UploadStatus == models.StatusUploading {
		return "", &core.ConflictError{Resource: "document", ID: doc.ID, Reason: "upload not confirmed"}
	}
	return i.obj.PresignGetURL(ctx, doc.StorageKey, ttl)
}

// lostRace reports a document that vanished between read and write as a
// conflict: a concurrent delete won.
func lostRace(err error, documentID string) error {
	if core.IsNotFound(err) {
		return &core.ConflictError{Resource: "document", ID: documentID, Reason: "deleted concurrently"}
	}
	return err
}

func cleanFilename(name string) string {
	return filepath.Base(strings.TrimSpace(name))
}

// objectKey creates a consistent storage key layout.
func objectKey(userID, docID, filename string) string {
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("users", userID, "documents", docID, filename)
}
