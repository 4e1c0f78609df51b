package llm

import (
	"context"
	"fmt"

	"github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core"
)

// NewEmbedder returns the embedding provider named by EMBED_PROVIDER.
func NewEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "", "gemini":
		return NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbedModel, cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbedProvider)
	}
}
