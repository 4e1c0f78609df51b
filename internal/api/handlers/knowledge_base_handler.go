package handlers

import (
	"net/http"

	"github.com/markdave123-py/contexta-kb/internal/services"
)

type KnowledgeBaseHandler struct {
	kbs *services.KnowledgeBaseService
}

func NewKnowledgeBaseHandler(kbs *services.KnowledgeBaseService) *KnowledgeBaseHandler {
	return &KnowledgeBaseHandler{kbs: kbs}
}

func (h *KnowledgeBaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateKnowledgeBaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	kb, err := h.kbs.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (h *KnowledgeBaseHandler) List(w http.ResponseWriter, r *http.Request) {
	kbs, err := h.kbs.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, kbs)
}
