package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// openaiBatchLimit is the most inputs one embeddings request accepts.
const openaiBatchLimit = 2048

type OpenAIEmbedder struct {
	client     *openai.Client
	modelName  string
	dimensions int
}

// NewOpenAIEmbedder requests vectors of the given dimension so they fit the
// same pgvector and qdrant collections as the Gemini embeddings.
func NewOpenAIEmbedder(apiKey, modelName string, dimensions int) *OpenAIEmbedder {
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(openai.DefaultConfig(apiKey)),
		modelName:  modelName,
		dimensions: dimensions,
	}
}

func (o *OpenAIEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, part := range batches(texts, openaiBatchLimit) {
		vecs, err := o.embed(ctx, part)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery uses the same model as chunks; OpenAI embeddings are symmetric.
func (o *OpenAIEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := o.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (o *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(o.modelName),
		Dimensions: o.dimensions,
	})
	if err != nil {
		log.Error().
			Err(err).
			Str("model", o.modelName).
			Int("input_count", len(texts)).
			Msg("Failed to generate embeddings")
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embed: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embed: index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
