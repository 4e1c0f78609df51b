package knowledgebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// Outcome summarises an ingest across all chunks of a document version.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// ChunkOutcome is the ingest status of one chunk.
type ChunkOutcome struct {
	Index  int
	Key    string
	Status models.IngestStatus
	Ref    string
	Err    error
}

type IngestResult struct {
	Outcome Outcome
	Chunks  []ChunkOutcome
}

// FailedIndices returns the chunk indices that did not make it.
func (r *IngestResult) FailedIndices() []int {
	var out []int
	for _, c := range r.Chunks {
		if c.Status != models.IngestSucceeded {
			out = append(out, c.Index)
		}
	}
	return out
}

// Err turns a non-successful outcome into IngestPartialFailure or
// IngestTotalFailure.
func (r *IngestResult) Err(documentID string, version int) error {
	var first error
	for _, c := range r.Chunks {
		if c.Err != nil {
			first = c.Err
			break
		}
	}
	switch r.Outcome {
	case OutcomePartial:
		return &core.IngestPartialFailure{DocumentID: documentID, Version: version, FailedIndices: r.FailedIndices(), Err: first}
	case OutcomeFailed:
		return &core.IngestTotalFailure{DocumentID: documentID, Version: version, Err: first}
	}
	return nil
}

func (r *IngestResult) settle() {
	ok := 0
	for _, c := range r.Chunks {
		if c.Status == models.IngestSucceeded {
			ok++
		}
	}
	switch {
	case ok == len(r.Chunks):
		r.Outcome = OutcomeSucceeded
	case ok == 0:
		r.Outcome = OutcomeFailed
	default:
		r.Outcome = OutcomePartial
	}
}

type Options struct {
	BatchSize   int
	MaxParallel int
	// Retries is how many extra passes are made over failed chunks.
	Retries int
}

// Synchronizer pushes chunk records to the backend of a knowledge base.
type Synchronizer struct {
	registry *Registry
	opts     Options
}

func NewSynchronizer(registry *Registry, opts Options) *Synchronizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	return &Synchronizer{registry: registry, opts: opts}
}

// IngestDocument builds records for the chunks of one document version and
// syncs them.
func (s *Synchronizer) IngestDocument(ctx context.Context, kb *models.KnowledgeBase, doc *models.Document, chunks []models.DocumentChunk) (*IngestResult, error) {
	return s.Sync(ctx, kb, RecordsFor(doc, chunks))
}

// RecordsFor maps chunk rows to records keyed by the document's version.
func RecordsFor(doc *models.Document, chunks []models.DocumentChunk) []Record {
	out := make([]Record, len(chunks))
	for i, ch := range chunks {
		out[i] = Record{
			Key:        RecordKey(doc.ID, doc.Version, ch.Position),
			DocumentID: doc.ID,
			Version:    doc.Version,
			Index:      ch.Position,
			Text:       ch.Text,
			Domain:     doc.Domain,
			FileName:   doc.FileName,
		}
	}
	return out
}

// Sync ingests records and retries only the failed ones, up to
// Options.Retries extra passes.
func (s *Synchronizer) Sync(ctx context.Context, kb *models.KnowledgeBase, records []Record) (*IngestResult, error) {
	res, err := s.Ingest(ctx, kb, records)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= s.opts.Retries && res.Outcome != OutcomeSucceeded; attempt++ {
		var (
			retry []Record
			slot  []int
		)
		for i, c := range res.Chunks {
			if c.Status != models.IngestSucceeded {
				retry = append(retry, records[i])
				slot = append(slot, i)
			}
		}
		log.Debug().
			Str("knowledge_base_id", kb.ID).
			Int("attempt", attempt).
			Int("chunks", len(retry)).
			Msg("retrying failed chunks")

		again, err := s.Ingest(ctx, kb, retry)
		if err != nil {
			return nil, err
		}
		for j, c := range again.Chunks {
			res.Chunks[slot[j]] = c
		}
		res.settle()
	}
	return res, nil
}

// Ingest makes one pass over records. Batches run concurrently up to
// Options.MaxParallel; a failed batch marks its chunks failed and does not
// stop the others. The error is non-nil only when the backend is unavailable
// or ctx ends.
func (s *Synchronizer) Ingest(ctx context.Context, kb *models.KnowledgeBase, records []Record) (*IngestResult, error) {
	backend, err := s.registry.Get(kb.Backend)
	if err != nil {
		return nil, err
	}

	res := &IngestResult{Chunks: make([]ChunkOutcome, len(records))}
	for i, r := range records {
		res.Chunks[i] = ChunkOutcome{Index: r.Index, Key: r.Key, Status: models.IngestPending}
	}

	todo := make([]int, 0, len(records))
	for i := range records {
		todo = append(todo, i)
	}

	// Without upsert, writing a key twice would duplicate it.
	if !backend.SupportsUpsert() && len(records) > 0 {
		todo = s.skipExisting(ctx, backend, kb, records, res, todo)
	}

	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxParallel)
	for start := 0; start < len(todo); start += s.opts.BatchSize {
		idx := todo[start:min(start+s.opts.BatchSize, len(todo))]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				markFailed(res, idx, err)
				return nil
			}
			batch := make([]Record, len(idx))
			for j, i := range idx {
				batch[j] = records[i]
			}

			results, err := backend.Ingest(ctx, kb, batch)
			if err == nil && len(results) != len(batch) {
				err = fmt.Errorf("backend returned %d results for %d records", len(results), len(batch))
			}
			if err != nil {
				log.Warn().Err(err).
					Str("knowledge_base_id", kb.ID).
					Str("backend", string(kb.Backend)).
					Int("batch_size", len(batch)).
					Msg("batch ingest failed")
				markFailed(res, idx, err)
				return nil
			}
			for j, i := range idx {
				c := &res.Chunks[i]
				c.Ref = results[j].Ref
				c.Err = results[j].Err
				if results[j].Err != nil {
					c.Status = models.IngestFailed
				} else {
					c.Status = models.IngestSucceeded
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.settle()
	return res, nil
}

func (s *Synchronizer) skipExisting(ctx context.Context, backend Backend, kb *models.KnowledgeBase, records []Record, res *IngestResult, todo []int) []int {
	keys := make([]string, len(records))
	for i, r := range records {
		keys[i] = r.Key
	}
	present, err := backend.Exists(ctx, kb, keys)
	if err != nil {
		log.Warn().Err(err).Str("knowledge_base_id", kb.ID).Msg("existence check failed, ingesting all chunks")
		return todo
	}

	out := todo[:0]
	for _, i := range todo {
		if present[records[i].Key] {
			res.Chunks[i].Status = models.IngestSucceeded
			res.Chunks[i].Ref = records[i].Key
			continue
		}
		out = append(out, i)
	}
	return out
}

func markFailed(res *IngestResult, idx []int, err error) {
	for _, i := range idx {
		res.Chunks[i].Status = models.IngestFailed
		res.Chunks[i].Err = err
	}
}

// Purge removes a document's records from its knowledge base.
func (s *Synchronizer) Purge(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error {
	backend, err := s.registry.Get(kb.Backend)
	if err != nil {
		return err
	}
	return backend.Delete(ctx, kb, documentID, keys)
}

// Search queries the knowledge base.
func (s *Synchronizer) Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]Hit, error) {
	backend, err := s.registry.Get(kb.Backend)
	if err != nil {
		return nil, err
	}
	hits, err := backend.Search(ctx, kb, documentID, query, limit)
	if errors.Is(err, ErrSearchUnsupported) {
		return nil, fmt.Errorf("%s: %w", kb.Backend, err)
	}
	return hits, err
}
