package knowledgebase

import (
	"context"
	"fmt"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// PgvectorBackend keeps embeddings on the document_chunks rows themselves.
type PgvectorBackend struct {
	db       core.DbClient
	embedder core.EmbeddingProvider
}

func NewPgvectorBackend(db core.DbClient, embedder core.EmbeddingProvider) *PgvectorBackend {
	return &PgvectorBackend{db: db, embedder: embedder}
}

func (b *PgvectorBackend) Kind() models.BackendKind { return models.BackendPgvector }

// SupportsUpsert is true: writing an embedding twice overwrites the column.
func (b *PgvectorBackend) SupportsUpsert() bool { return true }

func (b *PgvectorBackend) Ingest(ctx context.Context, kb *models.KnowledgeBase, records []Record) ([]RecordResult, error) {
	if len(records) == 0 {
		return nil, nil
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vecs, err := b.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vecs) != len(records) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(records))
	}

	type docVersion struct {
		id      string
		version int
	}
	grouped := make(map[docVersion]map[int][]float32)
	for i, r := range records {
		k := docVersion{r.DocumentID, r.Version}
		if grouped[k] == nil {
			grouped[k] = make(map[int][]float32)
		}
		grouped[k][r.Index] = vecs[i]
	}
	for k, embeddings := range grouped {
		if err := b.db.SetChunkEmbeddings(ctx, k.id, k.version, embeddings); err != nil {
			return nil, fmt.Errorf("store embeddings: %w", err)
		}
	}

	out := make([]RecordResult, len(records))
	for i, r := range records {
		out[i] = RecordResult{Key: r.Key, Ref: r.Key}
	}
	return out, nil
}

// Exists is never consulted for upsert backends.
func (b *PgvectorBackend) Exists(ctx context.Context, kb *models.KnowledgeBase, keys []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

// Delete is a no-op: the embeddings go away with the chunk rows.
func (b *PgvectorBackend) Delete(ctx context.Context, kb *models.KnowledgeBase, documentID string, keys []string) error {
	return nil
}

func (b *PgvectorBackend) Search(ctx context.Context, kb *models.KnowledgeBase, documentID, query string, limit int) ([]Hit, error) {
	qvec, err := b.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	var matches []core.ChunkMatch
	if documentID != "" {
		matches, err = b.db.SearchDocumentChunks(ctx, documentID, qvec, limit)
	} else {
		matches, err = b.db.SearchChunksByDomains(ctx, kb.Domains, qvec, limit)
	}
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(matches))
	for i, m := range matches {
		hits[i] = Hit{DocumentID: m.DocumentID, Index: m.Position, Text: m.Text, FileName: m.FileName, Score: m.Score}
	}
	return hits, nil
}
