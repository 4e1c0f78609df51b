package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// ValidationPolicy bounds what an upload may look like.
type ValidationPolicy struct {
	MaxFilenameLength   int      `yaml:"max_filename_length"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
	MaxSizeBytes        int64    `yaml:"max_size_bytes"`
}

// ChunkingPolicy configures the chunk router.
type ChunkingPolicy struct {
	MaxChars             int   `yaml:"max_chars"`
	OverlapChars         *int  `yaml:"overlap_chars"` // nil means default; 0 disables overlap
	TokenChunkSize       int   `yaml:"token_chunk_size"`
	TokenOverlap         int   `yaml:"token_overlap"`
	TokenSplitAboveBytes int64 `yaml:"token_split_above_bytes"`
}

// SyncPolicy configures knowledge-base ingestion.
type SyncPolicy struct {
	BatchSize     int `yaml:"batch_size"`
	MaxParallel   int `yaml:"max_parallel"`
	IngestRetries int `yaml:"ingest_retries"`
}

// RetryPolicy configures storage retries.
type RetryPolicy struct {
	StorageAttempts  int `yaml:"storage_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// Policy is the optional YAML ingest policy file.
type Policy struct {
	Validation ValidationPolicy `yaml:"validation"`
	Chunking   ChunkingPolicy   `yaml:"chunking"`
	Sync       SyncPolicy       `yaml:"sync"`
	Retry      RetryPolicy      `yaml:"retry"`
}

// LoadPolicy reads a policy from path. If the file does not exist, returns defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPolicy(), nil
		}
		return nil, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	applyPolicyDefaults(&p)
	return &p, nil
}

// DefaultPolicy returns the built-in limits.
func DefaultPolicy() *Policy {
	p := &Policy{}
	applyPolicyDefaults(p)
	return p
}

func applyPolicyDefaults(p *Policy) {
	if p.Validation.MaxFilenameLength == 0 {
		p.Validation.MaxFilenameLength = 255
	}
	if len(p.Validation.AllowedContentTypes) == 0 {
		p.Validation.AllowedContentTypes = []string{
			"application/pdf",
			"text/plain",
			"text/markdown",
			"text/x-markdown",
			"text/html",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/json",
			"text/x-go",
			"text/x-python",
			"text/javascript",
			"application/javascript",
			"text/x-java-source",
			"application/x-yaml",
		}
	}
	if p.Validation.MaxSizeBytes == 0 {
		p.Validation.MaxSizeBytes = 50 << 20
	}
	if p.Chunking.MaxChars == 0 {
		p.Chunking.MaxChars = 1000
	}
	if p.Chunking.OverlapChars == nil {
		overlap := 100
		p.Chunking.OverlapChars = &overlap
	}
	if p.Chunking.TokenChunkSize == 0 {
		p.Chunking.TokenChunkSize = 256
	}
	if p.Chunking.TokenOverlap == 0 {
		p.Chunking.TokenOverlap = 32
	}
	if p.Chunking.TokenSplitAboveBytes == 0 {
		p.Chunking.TokenSplitAboveBytes = 5 << 20
	}
	if p.Sync.BatchSize == 0 {
		p.Sync.BatchSize = 16
	}
	if p.Sync.MaxParallel == 0 {
		p.Sync.MaxParallel = 4
	}
	if p.Sync.IngestRetries == 0 {
		p.Sync.IngestRetries = 2
	}
	if p.Retry.StorageAttempts == 0 {
		p.Retry.StorageAttempts = 3
	}
	if p.Retry.InitialBackoffMs == 0 {
		p.Retry.InitialBackoffMs = 200
	}
	if p.Retry.MaxBackoffMs == 0 {
		p.Retry.MaxBackoffMs = 5000
	}
}
