package handlers

import (
	"fmt"
	"net/http"
	"strings"

	middleware "github.com/markdave123-py/contexta-kb/internal/api/middlewares"
	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/services"
)

const (
	defaultTopK = 5
	maxTopK     = 20
)

type ChatHandler struct {
	ingestor ingestion_engine.Ingestor
	kbs      *services.KnowledgeBaseService
	syncer   *knowledgebase.Synchronizer
	llm      core.LLMProvider
}

func NewChatHandler(ing ingestion_engine.Ingestor, kbs *services.KnowledgeBaseService, syncer *knowledgebase.Synchronizer, llm core.LLMProvider) *ChatHandler {
	return &ChatHandler{ingestor: ing, kbs: kbs, syncer: syncer, llm: llm}
}

// ChatRequest asks a question against one document, or against the whole
// knowledge base of the caller's domain when DocumentID is empty.
type ChatRequest struct {
	DocumentID string `json:"document_id"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
}

type ChatSource struct {
	DocumentID string  `json:"document_id"`
	FileName   string  `json:"file_name"`
	Index      int     `json:"index"`
	Score      float32 `json:"score"`
}

type ChatResponse struct {
	Answer  string       `json:"answer"`
	Sources []ChatSource `json:"sources"`
}

func (h *ChatHandler) QueryDocument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, &core.ValidationError{Rule: "query", Message: "query is required"})
		return
	}
	k := req.TopK
	if k <= 0 {
		k = defaultTopK
	}
	k = min(k, maxTopK)

	kb, err := h.knowledgeBase(r, userID, req.DocumentID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	hits, err := h.syncer.Search(ctx, kb, req.DocumentID, req.Query, k)
	if err != nil {
		writeError(w, r, err)
		return
	}

	passages := make([]core.Passage, 0, len(hits))
	sources := make([]ChatSource, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, hit.Passage())
		sources = append(sources, ChatSource{DocumentID: hit.DocumentID, FileName: hit.FileName, Index: hit.Index, Score: hit.Score})
	}

	answer, err := h.llm.Answer(ctx, req.Query, passages)
	if err != nil {
		writeError(w, r, fmt.Errorf("generate answer: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Answer: answer, Sources: sources})
}

// knowledgeBase resolves where to search: the document's knowledge base
// after an ownership check, or the one serving the caller's domain.
func (h *ChatHandler) knowledgeBase(r *http.Request, userID, documentID string) (*models.KnowledgeBase, error) {
	ctx := r.Context()
	if documentID == "" {
		return h.kbs.ForDomain(ctx, middleware.Domain(ctx))
	}
	doc, err := h.ingestor.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseID == nil {
		return nil, &core.ConflictError{Resource: "document", ID: doc.ID, Reason: "not assigned to a knowledge base"}
	}
	return h.kbs.Get(ctx, *doc.KnowledgeBaseID)
}
