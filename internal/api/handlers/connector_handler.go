package handlers

import (
	"context"
	"net/http"

	gitlabconn "github.com/markdave123-py/contexta-kb/internal/connectors/gitlab"
)

// GitlabImporter imports repository files as documents of a user.
type GitlabImporter interface {
	Import(ctx context.Context, userID, domain string, req gitlabconn.ImportRequest) (*gitlabconn.ImportResult, error)
}

type ConnectorHandler struct {
	gitlab GitlabImporter
}

func NewConnectorHandler(gitlab GitlabImporter) *ConnectorHandler {
	return &ConnectorHandler{gitlab: gitlab}
}

type gitlabImportRequest struct {
	gitlabconn.ImportRequest
	Domain string `json:"domain"`
}

func (h *ConnectorHandler) GitlabImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req gitlabImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	domain, err := callerDomain(r, req.Domain)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.gitlab.Import(r.Context(), userID, domain, req.ImportRequest)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
