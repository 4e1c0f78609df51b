package core

import "context"

// EmbeddingProvider turns text into vectors for a knowledge-base backend.
// Chunks and queries are embedded separately because retrieval models encode
// the two sides differently.
type EmbeddingProvider interface {
	// EmbedTexts embeds chunk texts for storage, one vector per text in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Passage is a retrieved chunk an answer can cite.
type Passage struct {
	DocumentID string
	FileName   string
	Index      int
	Text       string
	Score      float32
}

// LLMProvider answers a question from retrieved passages only.
type LLMProvider interface {
	Answer(ctx context.Context, question string, passages []Passage) (string, error)
}
