package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadStatus_Next(t *testing.T) {
	tests := []struct {
		name  string
		from  UploadStatus
		event Event
		want  UploadStatus
	}{
		{"storage confirmed", StatusUploading, EventStorageConfirmed, StatusUploaded},
		{"upload failed", StatusUploading, EventFailed, StatusFailed},
		{"chunking starts", StatusUploaded, EventProcessingStarted, StatusProcessing},
		{"ingest done", StatusProcessing, EventIngestSucceeded, StatusProcessed},
		{"processing failed", StatusProcessing, EventFailed, StatusFailed},
		{"retry failed", StatusFailed, EventReprocess, StatusProcessing},
		{"supersede in-flight", StatusProcessing, EventReprocess, StatusProcessing},
		{"new content", StatusProcessed, EventContentUpdated, StatusUploading},
		{"delete processed", StatusProcessed, EventDeleteRequested, StatusDeleting},
		{"delete in-flight", StatusProcessing, EventDeleteRequested, StatusDeleting},
		{"retry delete", StatusDeleting, EventDeleteRequested, StatusDeleting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.from.Next(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUploadStatus_NextRejectsInvalid(t *testing.T) {
	invalid := []struct {
		from  UploadStatus
		event Event
	}{
		{StatusProcessed, EventReprocess},
		{StatusProcessed, EventFailed},
		{StatusProcessed, EventStorageConfirmed},
		{StatusUploading, EventIngestSucceeded},
		{StatusUploading, EventReprocess},
		{StatusFailed, EventIngestSucceeded},
		{StatusProcessing, EventContentUpdated},
		{StatusDeleting, EventReprocess},
		{StatusDeleting, EventContentUpdated},
		{StatusDeleting, EventProcessingStarted},
	}

	for _, tt := range invalid {
		_, err := tt.from.Next(tt.event)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s on %s", tt.from, tt.event)
	}
}

func TestUploadStatus_CanTransition(t *testing.T) {
	assert.False(t, StatusProcessed.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessed.CanTransition(StatusUploading))
	assert.False(t, StatusUploaded.CanTransition(StatusProcessed))
	assert.True(t, StatusFailed.CanTransition(StatusProcessing))
}

func TestUploadStatus_Terminal(t *testing.T) {
	assert.True(t, StatusProcessed.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusUploaded.Terminal())
	assert.False(t, StatusDeleting.Terminal())
}

func TestProcessingFor(t *testing.T) {
	assert.Nil(t, ProcessingFor(StatusProcessed, StatusUploading))
	assert.Nil(t, ProcessingFor(StatusUploading, StatusFailed))

	p := ProcessingFor(StatusProcessing, StatusFailed)
	require.NotNil(t, p)
	assert.Equal(t, ProcessingFailed, *p)

	p = ProcessingFor(StatusUploading, StatusUploaded)
	require.NotNil(t, p)
	assert.Equal(t, ProcessingPending, *p)

	p = ProcessingFor(StatusFailed, StatusProcessing)
	require.NotNil(t, p)
	assert.Equal(t, ProcessingInProgress, *p)
}
