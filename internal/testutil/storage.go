package testutil

import (
	"bytes"
	"context"
	"errors"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/llm"
)

// ErrInjected is returned by fakes told to fail.
var ErrInjected = errors.New("injected failure")

// ObjectStore is an in-memory core.ObjectClient.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailUploads and FailGets make the next N calls fail.
	FailUploads int
	FailGets    int
	FailDeletes int

	Uploads int
	Gets    int

	// OnDelete, when set, runs before every DeleteFile.
	OnDelete func(key string)
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

var _ core.ObjectClient = (*ObjectStore)(nil)

func (s *ObjectStore) UploadFile(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Uploads++
	if s.FailUploads > 0 {
		s.FailUploads--
		return "", &core.StorageError{Op: "upload", Key: key, Err: ErrInjected}
	}
	s.objects[key] = bytes.Clone(data)
	return "mem://" + key, nil
}

func (s *ObjectStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	if s.FailGets > 0 {
		s.FailGets--
		return nil, &core.StorageError{Op: "get", Key: key, Err: ErrInjected}
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, &core.NotFoundError{Resource: "object", ID: key}
	}
	return bytes.Clone(data), nil
}

func (s *ObjectStore) GetObjectReader(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.GetFile(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *ObjectStore) DeleteFile(ctx context.Context, key string) error {
	if s.OnDelete != nil {
		s.OnDelete(key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return &core.StorageError{Op: "delete", Key: key, Err: ErrInjected}
	}
	delete(s.objects, key)
	return nil
}

func (s *ObjectStore) PresignGetURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = core.DefaultPresignTTL
	}
	return "mem://" + key + "?expires=" + ttl.String(), nil
}

// Has reports whether key is stored.
func (s *ObjectStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

// Embedder returns deterministic vectors derived from a hash of each text.
type Embedder struct {
	Dim int
	Err error
}

var _ core.EmbeddingProvider = (*Embedder)(nil)

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	dim := e.Dim
	if dim == 0 {
		dim = 8
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New64a()
		_, _ = h.Write([]byte(t))
		seed := h.Sum64()
		vec := make([]float32, dim)
		for j := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			vec[j] = float32(seed>>40) / float32(1<<24)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// LLM answers with a fixed reply and records what it was asked.
type LLM struct {
	mu           sync.Mutex
	Reply        string
	LastQuestion string
	LastPassages []core.Passage
	LastPrompt   string
}

var _ core.LLMProvider = (*LLM)(nil)

func (l *LLM) Answer(ctx context.Context, question string, passages []core.Passage) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.LastQuestion = question
	l.LastPassages = passages
	l.LastPrompt = llm.AnswerPrompt(question, passages)
	if len(passages) == 0 {
		return llm.NoAnswer, nil
	}
	return l.Reply, nil
}
