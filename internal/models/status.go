package models

import (
	"errors"
	"fmt"
)

// UploadStatus is the document lifecycle state.
type UploadStatus string

const (
	StatusUploading  UploadStatus = "uploading"
	StatusUploaded   UploadStatus = "uploaded"
	StatusProcessing UploadStatus = "processing"
	StatusProcessed  UploadStatus = "processed"
	StatusFailed     UploadStatus = "failed"
	StatusDeleting   UploadStatus = "deleting"
)

// ProcessingStatus tracks chunking and knowledge-base ingestion. It stays NULL
// until the upload is confirmed.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingInProgress ProcessingStatus = "in_progress"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Event drives a lifecycle transition.
type Event string

const (
	EventStorageConfirmed  Event = "storage_confirmed"
	EventProcessingStarted Event = "processing_started"
	EventIngestSucceeded   Event = "ingest_succeeded"
	EventFailed            Event = "failed"
	EventReprocess         Event = "reprocess"
	EventContentUpdated    Event = "content_updated"
	EventDeleteRequested   Event = "delete_requested"
)

// ErrInvalidTransition is returned when an event is not allowed from the current state.
var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[UploadStatus]map[Event]UploadStatus{
	StatusUploading: {
		EventStorageConfirmed: StatusUploaded,
		EventFailed:           StatusFailed,
		EventDeleteRequested:  StatusDeleting,
	},
	StatusUploaded: {
		EventProcessingStarted: StatusProcessing,
		EventReprocess:         StatusProcessing,
		EventFailed:            StatusFailed,
		EventContentUpdated:    StatusUploading,
		EventDeleteRequested:   StatusDeleting,
	},
	StatusProcessing: {
		EventIngestSucceeded: StatusProcessed,
		EventReprocess:       StatusProcessing,
		EventFailed:          StatusFailed,
		EventDeleteRequested: StatusDeleting,
	},
	StatusFailed: {
		EventReprocess:       StatusProcessing,
		EventContentUpdated:  StatusUploading,
		EventDeleteRequested: StatusDeleting,
	},
	StatusProcessed: {
		EventContentUpdated:  StatusUploading,
		EventDeleteRequested: StatusDeleting,
	},
	// A claimed delete is only left by a retried delete.
	StatusDeleting: {
		EventDeleteRequested: StatusDeleting,
	},
}

// Next returns the state reached from s on event e.
func (s UploadStatus) Next(e Event) (UploadStatus, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, s, e)
}

// CanTransition reports whether any event moves s to next.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	for _, to := range transitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s UploadStatus) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// ProcessingFor returns the processing status that accompanies a transition
// into upload status to. A failure before the upload was confirmed keeps it NULL.
func ProcessingFor(from, to UploadStatus) *ProcessingStatus {
	var p ProcessingStatus
	switch to {
	case StatusUploading:
		return nil
	case StatusUploaded:
		p = ProcessingPending
	case StatusProcessing:
		p = ProcessingInProgress
	case StatusProcessed:
		p = ProcessingCompleted
	case StatusFailed:
		if from == StatusUploading {
			return nil
		}
		p = ProcessingFailed
	default:
		return nil
	}
	return &p
}
