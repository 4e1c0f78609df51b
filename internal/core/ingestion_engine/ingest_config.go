package ingestion_engine

import (
	"sync"
	"time"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/chunker"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
)

// IngestConfig tunes the ingestion workflow.
//
// StorageAttempts: total tries per storage call before giving up (e.g., 3).
// InitialBackoff:  first retry delay; doubles per attempt up to MaxBackoff.
// ProcessTimeout:  upper bound for one workflow run inside a worker.
type IngestConfig struct {
	StorageAttempts int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	ProcessTimeout  time.Duration
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := IngestConfig{}
	if c != nil {
		out = *c
	}
	if out.StorageAttempts <= 0 {
		out.StorageAttempts = 3
	}
	if out.InitialBackoff <= 0 {
		out.InitialBackoff = 200 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = 5 * time.Second
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = 5 * time.Minute
	}
	return &out
}

// Validator checks an upload before any byte is stored.
type Validator interface {
	Validate(filename, contentType string, size int64) error
}

// DocumentIngestor owns the document lifecycle:
//
// db:        persistence for documents and chunks.
// obj:       object storage for raw bytes.
// validator: upload policy.
// extractor: raw bytes to plain text.
// router:    plain text to ordered chunks.
// syncer:    chunks to the domain's knowledge base.
// jobs:      queue feeding the worker pool.
type DocumentIngestor struct {
	db        core.DbClient
	obj       core.ObjectClient
	validator Validator
	extractor core.DocumentExtractor
	router    *chunker.Router
	syncer    *knowledgebase.Synchronizer
	jobs      core.JobQueue
	cfg       *IngestConfig
	workers   sync.WaitGroup
}

// DocconvExtractor implements core.DocumentExtractor using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}
