package knowledgebase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/testutil"
)

func TestPgvectorBackend_IngestStoresEmbeddings(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "doc", Domain: "eng", FileName: "notes.md", Version: 1, UploadStatus: models.StatusProcessing}))
	require.NoError(t, db.ReplaceDocumentChunks(ctx, "doc", 1, []models.DocumentChunk{
		{ID: "c0", Position: 0, Text: "alpha"},
		{ID: "c1", Position: 1, Text: "beta"},
	}))

	backend := knowledgebase.NewPgvectorBackend(db, &testutil.Embedder{Dim: 4})
	kb := &models.KnowledgeBase{ID: "kb", Domains: []string{"eng"}, Backend: models.BackendPgvector}

	res, err := backend.Ingest(ctx, kb, []knowledgebase.Record{
		{Key: knowledgebase.RecordKey("doc", 1, 0), DocumentID: "doc", Version: 1, Index: 0, Text: "alpha"},
		{Key: knowledgebase.RecordKey("doc", 1, 1), DocumentID: "doc", Version: 1, Index: 1, Text: "beta"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)

	chunks, err := db.SearchChunksByDomains(ctx, []string{"eng"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Embedding, 4)

	hits, err := backend.Search(ctx, kb, "", "beta", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc", hits[0].DocumentID)
	assert.Equal(t, "beta", hits[0].Text)
	assert.Equal(t, 1, hits[0].Index)
	assert.Equal(t, "notes.md", hits[0].FileName)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)

	other, err := backend.Search(ctx, &models.KnowledgeBase{Domains: []string{"sales"}}, "", "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, other)

	scoped, err := backend.Search(ctx, kb, "doc", "alpha", 5)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "alpha", scoped[0].Text)
	assert.GreaterOrEqual(t, scoped[0].Score, scoped[1].Score)
}

func TestPgvectorBackend_EmbedderError(t *testing.T) {
	backend := knowledgebase.NewPgvectorBackend(testutil.NewDB(), &testutil.Embedder{Err: testutil.ErrInjected})
	_, err := backend.Ingest(context.Background(), &models.KnowledgeBase{}, []knowledgebase.Record{{Key: "k", Text: "x"}})
	assert.ErrorIs(t, err, testutil.ErrInjected)
}
