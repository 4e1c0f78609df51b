package ingestion_engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/chunker"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-kb/internal/core/jobqueue"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/core/validator"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/testutil"
)

type harness struct {
	db      *testutil.DB
	store   *testutil.ObjectStore
	backend *testutil.Backend
	queue   *jobqueue.MemoryQueue
	ing     *ingestion_engine.DocumentIngestor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewDB()
	require.NoError(t, db.CreateKnowledgeBase(ctx, &models.KnowledgeBase{
		ID: "kb-eng", Name: "engineering", Domains: []string{"eng"}, Backend: models.BackendQdrant,
	}))

	router, err := chunker.NewRouter(chunker.Config{
		MaxChars:             5,
		TokenChunkSize:       8,
		TokenOverlap:         2,
		TokenSplitAboveBytes: 1 << 20,
	})
	require.NoError(t, err)

	v := validator.NewDocumentValidator(validator.Policy{
		MaxFilenameLength:   255,
		AllowedContentTypes: []string{"text/plain", "text/markdown"},
		MaxSizeBytes:        1 << 20,
	})

	backend := testutil.NewBackend(models.BackendQdrant, true)
	syncer := knowledgebase.NewSynchronizer(knowledgebase.NewRegistry(backend), knowledgebase.Options{BatchSize: 2, Retries: 1})
	store := testutil.NewObjectStore()
	queue := jobqueue.NewMemoryQueue(16)

	ing := ingestion_engine.NewDocumentIngestor(db, store, v, ingestion_engine.NewDocconvExtractor(false), router, syncer, queue,
		&ingestion_engine.IngestConfig{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})

	return &harness{db: db, store: store, backend: backend, queue: queue, ing: ing}
}

func (h *harness) upload(t *testing.T, domain, text string) *models.Document {
	t.Helper()
	doc, err := h.ing.SubmitUpload(context.Background(), ingestion_engine.UploadRequest{
		UserID:      "user-1",
		Domain:      domain,
		FileName:    "notes.txt",
		ContentType: "text/plain",
		Data:        []byte(text),
	})
	require.NoError(t, err)
	return doc
}

// runNext processes the next queued job.
func (h *harness) runNext(t *testing.T) core.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, h.ing.ProcessOne(context.Background(), job))
	return job
}

func chunkTexts(chunks []models.DocumentChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

func TestSubmitUpload_ProcessesToProcessed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")
	assert.Equal(t, models.StatusUploaded, doc.UploadStatus)
	require.NotNil(t, doc.ProcessingStatus)
	assert.Equal(t, models.ProcessingPending, *doc.ProcessingStatus)
	assert.Equal(t, "kb-eng", *doc.KnowledgeBaseID)
	assert.Equal(t, "mem://"+doc.StorageKey, doc.StorageURL)
	assert.True(t, h.store.Has(doc.StorageKey))
	assert.Equal(t, 1, h.queue.Len())

	job := h.runNext(t)
	assert.Equal(t, core.Job{DocumentID: doc.ID, Version: 1}, job)

	got := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusProcessed, got.UploadStatus)
	assert.Equal(t, models.ProcessingCompleted, *got.ProcessingStatus)
	assert.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.ErrorMessage)

	chunks, err := h.ing.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, chunkTexts(chunks))
	for i, c := range chunks {
		assert.Equal(t, i, c.Position)
		assert.Equal(t, models.IngestSucceeded, c.IngestStatus)
		require.NotNil(t, c.ExternalRef)
		assert.Equal(t, "ref-"+knowledgebase.RecordKey(doc.ID, 1, i), *c.ExternalRef)
	}
	assert.Equal(t, 6, *chunks[1].StartOffset)
	assert.ElementsMatch(t, []string{doc.ID + ":1:0", doc.ID + ":1:1"}, h.backend.Keys(doc.ID))
}

func TestSubmitUpload_ValidationRejected(t *testing.T) {
	h := newHarness(t)

	_, err := h.ing.SubmitUpload(context.Background(), ingestion_engine.UploadRequest{
		UserID: "user-1", Domain: "eng", FileName: "  ", ContentType: "text/plain", Data: []byte("x"),
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validator.RuleFilename, verr.Rule)

	_, err = h.ing.SubmitUpload(context.Background(), ingestion_engine.UploadRequest{
		UserID: "user-1", Domain: "eng", FileName: "a.exe", ContentType: "application/x-msdownload", Data: []byte("x"),
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validator.RuleContentType, verr.Rule)

	assert.Zero(t, h.store.Uploads)
	docs, err := h.ing.ListDocuments(context.Background(), "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSubmitUpload_StorageRetries(t *testing.T) {
	h := newHarness(t)
	h.store.FailUploads = 2

	doc := h.upload(t, "eng", "hello")
	assert.Equal(t, models.StatusUploaded, doc.UploadStatus)
	assert.Equal(t, 3, h.store.Uploads)
}

func TestSubmitUpload_StorageFailureLeavesDocumentFailed(t *testing.T) {
	h := newHarness(t)
	h.store.FailUploads = 3

	_, err := h.ing.SubmitUpload(context.Background(), ingestion_engine.UploadRequest{
		UserID: "user-1", Domain: "eng", FileName: "notes.txt", ContentType: "text/plain", Data: []byte("hello"),
	})
	var serr *core.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 3, h.store.Uploads)

	docs, err := h.ing.ListDocuments(context.Background(), "user-1", "eng")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, models.StatusFailed, docs[0].UploadStatus)
	assert.Nil(t, docs[0].ProcessingStatus)
	require.NotNil(t, docs[0].ErrorMessage)
	assert.Contains(t, *docs[0].ErrorMessage, "injected failure")
	assert.Zero(t, h.queue.Len())
}

func TestProcessOne_NoKnowledgeBaseFails(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "sales", "hello")
	assert.Nil(t, doc.KnowledgeBaseID)
	h.runNext(t)

	got := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusFailed, got.UploadStatus)
	assert.Equal(t, models.ProcessingFailed, *got.ProcessingStatus)
	assert.Contains(t, *got.ErrorMessage, `no knowledge base serves domain "sales"`)
}

func TestProcessOne_EmptyTextFails(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "eng", " \n\t ")
	h.runNext(t)

	got := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusFailed, got.UploadStatus)
	assert.Contains(t, *got.ErrorMessage, "no text extracted")
}

func TestProcessOne_PartialFailureRetriesFailedChunks(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "eng", "one\ntwo\nthree")
	flaky := knowledgebase.RecordKey(doc.ID, 1, 1)
	h.backend.FailKeys[flaky] = 1
	h.runNext(t)

	assert.Equal(t, models.StatusProcessed, h.db.Document(doc.ID).UploadStatus)
	assert.Equal(t, 1, h.backend.Writes(flaky))
	assert.Equal(t, 1, h.backend.Writes(knowledgebase.RecordKey(doc.ID, 1, 0)))
}

func TestProcessOne_PartialFailureFailsDocument(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "eng", "one\ntwo\nthree")
	h.backend.FailKeys[knowledgebase.RecordKey(doc.ID, 1, 2)] = 5
	h.runNext(t)

	got := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusFailed, got.UploadStatus)
	assert.Contains(t, *got.ErrorMessage, "partially failed")

	chunks, err := h.ing.GetChunks(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, models.IngestSucceeded, chunks[0].IngestStatus)
	assert.Equal(t, models.IngestFailed, chunks[2].IngestStatus)
}

func TestReprocess_FailedDocumentReplacesChunkSet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")
	h.backend.BatchErr = testutil.ErrInjected
	h.runNext(t)

	failed := h.db.Document(doc.ID)
	require.Equal(t, models.StatusFailed, failed.UploadStatus)
	assert.Contains(t, *failed.ErrorMessage, "failed")
	old, err := h.ing.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, old, 2)

	h.backend.BatchErr = nil
	re, err := h.ing.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, re.UploadStatus)
	assert.Equal(t, models.ProcessingInProgress, *re.ProcessingStatus)
	assert.Equal(t, 2, re.Version)
	assert.Nil(t, re.ErrorMessage)

	job := h.runNext(t)
	assert.Equal(t, 2, job.Version)

	done := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusProcessed, done.UploadStatus)
	assert.Equal(t, models.ProcessingCompleted, *done.ProcessingStatus)

	fresh, err := h.ing.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	for i := range fresh {
		assert.Equal(t, 2, fresh[i].Version)
		for _, o := range old {
			assert.NotEqual(t, o.ID, fresh[i].ID)
		}
	}
	assert.ElementsMatch(t, []string{doc.ID + ":2:0", doc.ID + ":2:1"}, h.backend.Keys(doc.ID))
}

func TestReprocess_ProcessedIsRejected(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "eng", "hello")
	h.runNext(t)

	_, err := h.ing.Reprocess(context.Background(), doc.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestProcessOne_StaleJobDropped(t *testing.T) {
	h := newHarness(t)

	doc := h.upload(t, "eng", "hello")
	require.NoError(t, h.ing.ProcessOne(context.Background(), core.Job{DocumentID: doc.ID, Version: 7}))
	assert.Equal(t, models.StatusUploaded, h.db.Document(doc.ID).UploadStatus)

	require.NoError(t, h.ing.ProcessOne(context.Background(), core.Job{DocumentID: "missing", Version: 1}))
}

func TestProcessOne_SupersededWorkflowIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")

	fired := false
	h.db.OnTransition = func(id string, change core.StatusChange) {
		if fired || change.To != models.StatusProcessed {
			return
		}
		fired = true
		_, err := h.ing.Reprocess(ctx, id)
		require.NoError(t, err)
	}
	h.runNext(t)
	require.True(t, fired)

	mid := h.db.Document(doc.ID)
	assert.Equal(t, models.StatusProcessing, mid.UploadStatus)
	assert.Equal(t, 2, mid.Version)
	assert.Empty(t, h.backend.Keys(doc.ID))
	assert.ElementsMatch(t, []string{doc.ID + ":1:0", doc.ID + ":1:1"}, h.backend.Deleted())

	h.db.OnTransition = nil
	h.runNext(t)
	assert.Equal(t, models.StatusProcessed, h.db.Document(doc.ID).UploadStatus)
	assert.ElementsMatch(t, []string{doc.ID + ":2:0", doc.ID + ":2:1"}, h.backend.Keys(doc.ID))
}

func failedDocument(t *testing.T, h *harness) *models.Document {
	t.Helper()
	doc := h.upload(t, "eng", "hello")
	h.backend.BatchErr = testutil.ErrInjected
	h.runNext(t)
	h.backend.BatchErr = nil
	require.Equal(t, models.StatusFailed, h.db.Document(doc.ID).UploadStatus)
	return doc
}

func TestDeleteVsReprocess_DeleteLoses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := failedDocument(t, h)

	var reErr error
	fired := false
	h.db.OnTransition = func(id string, change core.StatusChange) {
		if fired || change.To != models.StatusDeleting {
			return
		}
		fired = true
		_, reErr = h.ing.Reprocess(ctx, id)
	}

	ok, err := h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	assert.False(t, ok)
	assert.True(t, core.IsConflict(err), "got %v", err)
	assert.NoError(t, reErr)

	got := h.db.Document(doc.ID)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusProcessing, got.UploadStatus)
	assert.True(t, h.store.Has(doc.StorageKey))

	h.db.OnTransition = nil
	h.runNext(t)
	assert.Equal(t, models.StatusProcessed, h.db.Document(doc.ID).UploadStatus)
}

func TestDeleteDocument_ClaimBlocksReprocessAndUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := failedDocument(t, h)

	var (
		reErr, updErr error
		seen          *models.Document
	)
	h.store.OnDelete = func(key string) {
		seen = h.db.Document(doc.ID)
		_, reErr = h.ing.Reprocess(ctx, doc.ID)
		_, updErr = h.ing.UpdateContent(ctx, doc.ID, "user-1", "notes.txt", "text/plain", []byte("new"))
	}

	ok, err := h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NotNil(t, seen)
	assert.Equal(t, models.StatusDeleting, seen.UploadStatus)
	assert.ErrorIs(t, reErr, models.ErrInvalidTransition)
	assert.ErrorIs(t, updErr, models.ErrInvalidTransition)
	assert.Nil(t, h.db.Document(doc.ID))
	assert.False(t, h.store.Has(doc.StorageKey))
	assert.Zero(t, h.queue.Len())
}

func TestDeleteDocument_RetriedAfterStorageFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")
	h.runNext(t)

	h.store.FailDeletes = 100
	ok, err := h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	require.Error(t, err)
	assert.False(t, ok)

	stuck := h.db.Document(doc.ID)
	require.NotNil(t, stuck)
	assert.Equal(t, models.StatusDeleting, stuck.UploadStatus)
	_, err = h.ing.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	h.store.FailDeletes = 0
	ok, err = h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, h.db.Document(doc.ID))
	assert.False(t, h.store.Has(doc.StorageKey))
}

func TestDeleteDocument_InFlightWorkflowDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := failedDocument(t, h)

	_, err := h.ing.Reprocess(ctx, doc.ID)
	require.NoError(t, err)

	ok, err := h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	h.runNext(t)
	assert.Nil(t, h.db.Document(doc.ID))
	assert.Empty(t, h.backend.Keys(doc.ID))
}

func TestDeleteVsReprocess_ReprocessLoses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := failedDocument(t, h)

	var (
		deleted bool
		delErr  error
	)
	fired := false
	h.db.OnTransition = func(id string, change core.StatusChange) {
		if fired || change.To == models.StatusDeleting {
			return
		}
		fired = true
		deleted, delErr = h.ing.DeleteDocument(ctx, id, "user-1")
	}

	_, err := h.ing.Reprocess(ctx, doc.ID)
	assert.True(t, core.IsConflict(err), "got %v", err)
	assert.NoError(t, delErr)
	assert.True(t, deleted)
	assert.Nil(t, h.db.Document(doc.ID))
}

func TestDeleteDocument_RemovesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")
	h.runNext(t)
	require.Len(t, h.backend.Keys(doc.ID), 2)

	_, err := h.ing.DeleteDocument(ctx, doc.ID, "someone-else")
	assert.True(t, core.IsNotFound(err))

	ok, err := h.ing.DeleteDocument(ctx, doc.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Nil(t, h.db.Document(doc.ID))
	assert.False(t, h.store.Has(doc.StorageKey))
	assert.Empty(t, h.backend.Keys(doc.ID))
	chunks, err := h.db.GetChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = h.ing.GetDocument(ctx, doc.ID, "user-1")
	assert.True(t, core.IsNotFound(err))
}

func TestUpdateContent_RestartsCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello\nworld")
	h.runNext(t)

	updated, err := h.ing.UpdateContent(ctx, doc.ID, "user-1", "notes.md", "", []byte("alpha\nbeta"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, updated.UploadStatus)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "notes.md", updated.FileName)
	assert.Equal(t, "text/markdown", updated.ContentType)
	assert.Equal(t, doc.StorageKey, updated.StorageKey)

	data, err := h.store.GetFile(ctx, doc.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta", string(data))

	h.runNext(t)
	assert.Equal(t, models.StatusProcessed, h.db.Document(doc.ID).UploadStatus)
	chunks, err := h.ing.GetChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, chunkTexts(chunks))
	assert.ElementsMatch(t, []string{doc.ID + ":2:0", doc.ID + ":2:1"}, h.backend.Keys(doc.ID))
}

func TestUpdateContent_RejectedWhileProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := failedDocument(t, h)

	_, err := h.ing.Reprocess(ctx, doc.ID)
	require.NoError(t, err)

	_, err = h.ing.UpdateContent(ctx, doc.ID, "user-1", "notes.txt", "text/plain", []byte("new"))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestPresignAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc := h.upload(t, "eng", "hello")
	url, err := h.ing.PresignDownload(ctx, doc.ID, "user-1", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "mem://"+doc.StorageKey))
	assert.Contains(t, url, core.DefaultPresignTTL.String())

	_, err = h.ing.PresignDownload(ctx, doc.ID, "user-2", time.Minute)
	assert.True(t, core.IsNotFound(err))

	h.upload(t, "sales", "other")
	mine, err := h.ing.ListDocuments(ctx, "user-1", "eng")
	require.NoError(t, err)
	assert.Len(t, mine, 1)
	all, err := h.ing.ListDocuments(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	byDomain, err := h.ing.ListDocuments(ctx, "", "sales")
	require.NoError(t, err)
	assert.Len(t, byDomain, 1)
}

func TestStart_WorkersDrainQueue(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	h.ing.Start(ctx, 2)
	doc := h.upload(t, "eng", "hello\nworld")

	assert.Eventually(t, func() bool {
		return h.db.Document(doc.ID).UploadStatus == models.StatusProcessed
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	h.ing.Wait()
}
