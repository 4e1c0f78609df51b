package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// Backend is an in-memory knowledgebase.Backend that counts every write.
type Backend struct {
	mu sync.Mutex

	KindValue models.BackendKind
	Upsert    bool

	// FailKeys makes a key fail that many times before succeeding.
	FailKeys map[string]int
	// BatchErr fails whole batches while non-nil.
	BatchErr error

	records map[string]knowledgebase.Record
	writes  map[string]int
	batches int
	deleted []string
}

func NewBackend(kind models.BackendKind, upsert bool) *Backend {
	return &Backend{
		KindValue: kind,
		Upsert:    upsert,
		FailKeys:  make(map[string]int),
		records:   make(map[string]knowledgebase.Record),
		writes:    make(map[string]int),
	}
}

var _ knowledgebase.Backend = (*Backend)(nil)

func (b *Backend) Kind() models.BackendKind { return b.KindValue }

func (b *Backend) SupportsUpsert() bool { return b.Upsert }

func (b *Backend) Ingest(ctx context.Context, kb *models.KnowledgeBase, records []knowledgebase.Record) ([]knowledgebase.RecordResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches++
	if b.BatchErr != nil {
		return nil, b.BatchErr
	}
	out := make([]knowledgebase.RecordResult, len(records))
	for i, r := range records {
		if b.FailKeys[r.Key] > 0 {
			b.FailKeys[r.Key]--
			out[i] = knowledgebase.RecordResult{Key: r.Key, Err: ErrInjected}
			continue
		}
		b.records[r.Key] = r
		b.writes[r.Key]++
		out[i] = knowledgebase.RecordResult{Key: r.Key, Ref: "ref-" + r.Key}
	}
	return out, nil
}

func (b *Backend) Exists(ctx context.Context, kb *models.KnowledgeBase, keys []string) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]bool)
	for _, k := range keys {
		if _, ok := b.records[k]; ok {
			out[k] = true
		}
	}
	return out, nil
}

func (b *Backend) Delete(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(keys) == 0 {
		for k, r := range b.records {
			if r.DocumentID == documentID {
				delete(b.records, k)
				b.deleted = append(b.deleted, k)
			}
		}
		return nil
	}
	for _, k := range keys {
		delete(b.records, k)
		b.deleted = append(b.deleted, k)
	}
	return nil
}

func (b *Backend) Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]knowledgebase.Hit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var hits []knowledgebase.Hit
	for _, r := range b.records {
		if documentID != "" && r.DocumentID != documentID {
			continue
		}
		if strings.Contains(strings.ToLower(r.Text), strings.ToLower(query)) {
			hits = append(hits, knowledgebase.Hit{DocumentID: r.DocumentID, Index: r.Index, Text: r.Text, FileName: r.FileName, Score: 1})
		}
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

// Writes reports how many times key was written.
func (b *Backend) Writes(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes[key]
}

// Batches reports how many Ingest calls were made.
func (b *Backend) Batches() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.batches
}

// Keys lists stored keys of a document.
func (b *Backend) Keys(documentID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for k, r := range b.records {
		if r.DocumentID == documentID {
			out = append(out, k)
		}
	}
	return out
}

// Deleted lists keys removed so far, in order.
func (b *Backend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}
