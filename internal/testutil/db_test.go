package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

func TestDB_UpdateStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "d1", UploadStatus: models.StatusUploading, Version: 1}))

	uploading := models.StatusUploading
	require.NoError(t, db.UpdateDocumentStatus(ctx, "d1", models.StatusUploaded, &uploading))
	err := db.UpdateDocumentStatus(ctx, "d1", models.StatusFailed, &uploading)
	assert.True(t, core.IsConflict(err))
	require.NoError(t, db.UpdateDocumentStatus(ctx, "d1", models.StatusProcessing, nil))
	assert.Equal(t, models.StatusProcessing, db.Document("d1").UploadStatus)

	pending := models.ProcessingPending
	err = db.UpdateProcessingStatus(ctx, "d1", models.ProcessingInProgress, &pending)
	assert.True(t, core.IsConflict(err), "NULL processing status never matches")
	require.NoError(t, db.UpdateProcessingStatus(ctx, "d1", models.ProcessingPending, nil))
	require.NoError(t, db.UpdateProcessingStatus(ctx, "d1", models.ProcessingInProgress, &pending))
	assert.Equal(t, models.ProcessingInProgress, *db.Document("d1").ProcessingStatus)

	assert.True(t, core.IsNotFound(db.UpdateDocumentStatus(ctx, "missing", models.StatusFailed, nil)))
}

func TestDB_TransitionDocumentChecksVersion(t *testing.T) {
	ctx := context.Background()
	db := NewDB()
	require.NoError(t, db.CreateDocument(ctx, &models.Document{ID: "d1", UploadStatus: models.StatusFailed, Version: 3}))

	_, err := db.TransitionDocument(ctx, "d1", core.StatusChange{From: models.StatusFailed, To: models.StatusProcessing, Version: 2})
	assert.True(t, core.IsConflict(err))

	doc, err := db.TransitionDocument(ctx, "d1", core.StatusChange{
		From: models.StatusFailed, To: models.StatusProcessing, Version: 3, NewVersion: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Version)

	assert.True(t, core.IsConflict(db.DeleteDocument(ctx, "d1", 3)))
	require.NoError(t, db.DeleteDocument(ctx, "d1", 4))
	assert.Nil(t, db.Document("d1"))
}
