package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

var _ core.LLMProvider = (*GeminiLLM)(nil)

// ErrAnswerBlocked is returned when Gemini stops an answer for safety.
var ErrAnswerBlocked = errors.New("answer blocked by the model")

// GeminiLLM answers knowledge-base questions with a Gemini model.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiLLM{client: cl, model: model}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Answer grounds the reply in passages. With no passages the model is not
// called.
func (g *GeminiLLM) Answer(ctx context.Context, question string, passages []core.Passage) (string, error) {
	if len(passages) == 0 {
		return NoAnswer, nil
	}

	m := g.client.GenerativeModel(g.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(answerInstruction)}}
	m.SetTemperature(0.2)

	resp, err := m.GenerateContent(ctx, genai.Text(AnswerPrompt(question, passages)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return NoAnswer, nil
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", ErrAnswerBlocked
	}

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	log.Debug().
		Str("model", g.model).
		Int("passages", len(passages)).
		Int("answer_len", b.Len()).
		Msg("answer generated")
	return strings.TrimSpace(b.String()), nil
}
