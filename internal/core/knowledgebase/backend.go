package knowledgebase

import (
	"context"
	"errors"
	"fmt"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// ErrSearchUnsupported is returned by backends that only accept writes.
var ErrSearchUnsupported = errors.New("knowledge base backend does not support search")

// Record is one chunk bound for a knowledge base.
type Record struct {
	Key        string
	DocumentID string
	Version    int
	Index      int
	Text       string
	Domain     string
	FileName   string
}

// RecordKey is the idempotency key of a chunk: the same document version and
// index always produce the same key.
func RecordKey(documentID string, version, index int) string {
	return fmt.Sprintf("%s:%d:%d", documentID, version, index)
}

// RecordResult is a backend's verdict on one record of a batch.
type RecordResult struct {
	Key string
	Ref string
	Err error
}

// Hit is one search result.
type Hit struct {
	DocumentID string
	Index      int
	Text       string
	FileName   string
	Score      float32
}

// Passage hands the hit to answer generation.
func (h Hit) Passage() core.Passage {
	return core.Passage{DocumentID: h.DocumentID, FileName: h.FileName, Index: h.Index, Text: h.Text, Score: h.Score}
}

// Backend is a retrieval store that chunks are pushed into.
type Backend interface {
	Kind() models.BackendKind
	// SupportsUpsert reports whether writing a key twice leaves one record.
	SupportsUpsert() bool
	// Ingest writes a batch. A returned error fails the whole batch; otherwise
	// results align with records.
	Ingest(ctx context.Context, kb *models.KnowledgeBase, records []Record) ([]RecordResult, error)
	// Exists reports which keys are already stored.
	Exists(ctx context.Context, kb *models.KnowledgeBase, keys []string) (map[string]bool, error)
	// Delete removes the given keys. With no keys it removes everything stored
	// for documentID where the backend can filter by document.
	Delete(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error
	// Search ranks records for query. A non-empty documentID restricts hits to
	// that document.
	Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]Hit, error)
}
