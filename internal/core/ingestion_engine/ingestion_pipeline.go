package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/chunker"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

var _ Ingestor = (*DocumentIngestor)(nil)

// errNoText fails documents whose extraction produced nothing to chunk.
var errNoText = errors.New("no text extracted from document")

func NewDocumentIngestor(
	db core.DbClient,
	obj core.ObjectClient,
	v Validator,
	extractor core.DocumentExtractor,
	router *chunker.Router,
	syncer *knowledgebase.Synchronizer,
	jobs core.JobQueue,
	cfg *IngestConfig,
) *DocumentIngestor {
	return &DocumentIngestor{
		db:        db,
		obj:       obj,
		validator: v,
		extractor: extractor,
		router:    router,
		syncer:    syncer,
		jobs:      jobs,
		cfg:       cfg.withDefaults(),
	}
}

// Start runs numWorkers goroutines that take jobs off the queue until ctx is
// done or the queue is closed. Wait blocks until they have returned.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) {
	for w := 1; w <= numWorkers; w++ {
		i.workers.Add(1)
		go func(w int) {
			defer i.workers.Done()
			for {
				job, err := i.jobs.Dequeue(ctx)
				if err != nil {
					log.Info().Int("worker", w).Err(err).Msg("ingest worker shutting down")
					return
				}
				log.Info().
					Int("worker", w).
					Str("document_id", job.DocumentID).
					Int("version", job.Version).
					Msg("processing document")

				if err := i.ProcessOne(ctx, job); err != nil {
					log.Error().Err(err).
						Int("worker", w).
						Str("document_id", job.DocumentID).
						Int("version", job.Version).
						Msg("processing failed")
				}
			}
		}(w)
	}
}

func (i *DocumentIngestor) Wait() { i.workers.Wait() }

// Enqueue schedules one workflow run for a document version.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job core.Job) error {
	return i.jobs.Enqueue(ctx, job)
}

func (i *DocumentIngestor) enqueue(ctx context.Context, doc *models.Document) {
	if err := i.Enqueue(ctx, core.Job{DocumentID: doc.ID, Version: doc.Version}); err != nil {
		log.Error().Err(err).
			Str("document_id", doc.ID).
			Int("version", doc.Version).
			Msg("enqueue failed, document needs a reprocess")
	}
}

// ProcessOne runs the chunk and ingest workflow for one document version. Jobs
// for a version that is no longer current are dropped, and results of a
// workflow superseded while it ran are discarded.
func (i *DocumentIngestor) ProcessOne(ctx context.Context, job core.Job) error {
	doc, err := i.db.GetDocumentByID(ctx, job.DocumentID)
	if core.IsNotFound(err) {
		log.Debug().Str("document_id", job.DocumentID).Msg("document gone, dropping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Version != job.Version {
		log.Debug().
			Str("document_id", doc.ID).
			Int("job_version", job.Version).
			Int("version", doc.Version).
			Msg("stale job dropped")
		return nil
	}

	switch doc.UploadStatus {
	case models.StatusUploaded:
		doc, err = i.db.TransitionDocument(ctx, doc.ID, core.StatusChange{
			From:       models.StatusUploaded,
			To:         models.StatusProcessing,
			Processing: models.ProcessingFor(models.StatusUploaded, models.StatusProcessing),
			Version:    doc.Version,
		})
		if core.IsConflict(err) || core.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
	case models.StatusProcessing:
		// claimed by Reprocess
	default:
		log.Debug().Str("document_id", doc.ID).Str("status", string(doc.UploadStatus)).Msg("nothing to process")
		return nil
	}

	// In-flight backend calls finish even if the worker is stopping.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.ProcessTimeout)
	defer cancel()

	run := &workflow{doc: doc}
	procErr := i.process(runCtx, run)
	return i.finish(runCtx, run, procErr)
}

// workflow is the state of one ProcessOne run.
type workflow struct {
	doc     *models.Document
	kb      *models.KnowledgeBase
	written []string // backend keys this run wrote
	prior   []string // backend keys of the chunk set this run replaced
}

func (i *DocumentIngestor) process(ctx context.Context, run *workflow) error {
	doc := run.doc

	kb, err := i.knowledgeBaseFor(ctx, doc)
	if err != nil {
		return err
	}
	run.kb = kb

	var data []byte
	err = i.withStorageRetry(ctx, "get", doc.StorageKey, func() error {
		var err error
		data, err = i.obj.GetFile(ctx, doc.StorageKey)
		return err
	})
	if err != nil {
		return err
	}

	extracted, err := i.extractor.ExtractText(ctx, data, doc.ContentType)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}

	// Positions are fixed here, before any concurrent ingest.
	var rows []models.DocumentChunk
	for ch := range i.router.Route(extracted.Text, doc.ContentType, doc.SizeBytes) {
		start, end := ch.Start, ch.End
		rows = append(rows, models.DocumentChunk{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Version:      doc.Version,
			Position:     ch.Index,
			Text:         ch.Text,
			StartOffset:  &start,
			EndOffset:    &end,
			TokenCount:   ch.TokenCount,
			IngestStatus: models.IngestPending,
		})
	}
	if len(rows) == 0 {
		return errNoText
	}

	old, err := i.db.GetChunksByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("load chunks: %w", err)
	}
	for _, ch := range old {
		if ch.Version != doc.Version {
			run.prior = append(run.prior, knowledgebase.RecordKey(doc.ID, ch.Version, ch.Position))
		}
	}

	if err := i.db.ReplaceDocumentChunks(ctx, doc.ID, doc.Version, rows); err != nil {
		return fmt.Errorf("replace chunks: %w", err)
	}

	res, err := i.syncer.IngestDocument(ctx, kb, doc, rows)
	if err != nil {
		return fmt.Errorf("sync to knowledge base %s: %w", kb.ID, err)
	}

	updates := make([]core.ChunkStatusUpdate, len(res.Chunks))
	for j, c := range res.Chunks {
		updates[j] = core.ChunkStatusUpdate{Position: c.Index, Status: c.Status}
		if c.Ref != "" {
			ref := c.Ref
			updates[j].ExternalRef = &ref
		}
		if c.Status == models.IngestSucceeded {
			run.written = append(run.written, c.Key)
		}
	}
	if err := i.db.UpdateChunkIngestStatus(ctx, doc.ID, doc.Version, updates); err != nil {
		return fmt.Errorf("record chunk status: %w", err)
	}

	return res.Err(doc.ID, doc.Version)
}

// finish writes the terminal status. A lost compare-and-set means a delete
// or reprocess superseded this run; its backend records are then removed.
func (i *DocumentIngestor) finish(ctx context.Context, run *workflow, procErr error) error {
	doc := run.doc
	change := core.StatusChange{
		From:    models.StatusProcessing,
		Version: doc.Version,
	}
	if run.kb != nil && doc.KnowledgeBaseID == nil {
		change.KnowledgeBaseID = &run.kb.ID
	}
	if procErr == nil {
		now := time.Now().UTC()
		change.To = models.StatusProcessed
		change.ProcessedAt = &now
	} else {
		msg := procErr.Error()
		change.To = models.StatusFailed
		change.ErrorMessage = &msg
	}
	change.Processing = models.ProcessingFor(models.StatusProcessing, change.To)

	_, err := i.db.TransitionDocument(ctx, doc.ID, change)
	if core.IsConflict(err) || core.IsNotFound(err) {
		log.Info().
			Str("document_id", doc.ID).
			Int("version", doc.Version).
			Msg("workflow superseded, discarding results")
		i.purge(ctx, run.kb, doc.ID, run.written)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finish document %s: %w", doc.ID, err)
	}

	if procErr != nil {
		log.Warn().Err(procErr).Str("document_id", doc.ID).Int("version", doc.Version).Msg("document failed")
		return nil
	}
	i.purge(ctx, run.kb, doc.ID, run.prior)
	log.Info().Str("document_id", doc.ID).Int("version", doc.Version).Msg("document processed")
	return nil
}

// purge removes backend records by key. Failures leave orphans in the
// backend and are only logged.
func (i *DocumentIngestor) purge(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) {
	if kb == nil || len(keys) == 0 {
		return
	}
	if err := i.syncer.Purge(ctx, kb, documentID, keys); err != nil {
		log.Warn().Err(err).
			Str("document_id", documentID).
			Str("knowledge_base_id", kb.ID).
			Int("records", len(keys)).
			Msg("purge of stale records failed")
	}
}

// knowledgeBaseFor returns the knowledge base assigned at upload, or the one
// now serving the document's domain.
func (i *DocumentIngestor) knowledgeBaseFor(ctx context.Context, doc *models.Document) (*models.KnowledgeBase, error) {
	if doc.KnowledgeBaseID != nil {
		return i.db.GetKnowledgeBase(ctx, *doc.KnowledgeBaseID)
	}
	kb, err := i.db.FindKnowledgeBaseForDomain(ctx, doc.Domain)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, fmt.Errorf("no knowledge base serves domain %q", doc.Domain)
	}
	return kb, nil
}
