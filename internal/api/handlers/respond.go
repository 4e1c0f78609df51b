package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	middleware "github.com/markdave123-py/contexta-kb/internal/api/middlewares"
	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/services"
)

// ErrDomainMismatch rejects a request naming a domain other than the one
// carried by the caller's token.
var ErrDomainMismatch = errors.New("domain does not match the authenticated identity")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to the HTTP status reported for it.
func StatusFor(err error) int {
	var (
		storage *core.StorageError
		partial *core.IngestPartialFailure
		total   *core.IngestTotalFailure
	)
	switch {
	case core.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDomainMismatch):
		return http.StatusForbidden
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err), errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &storage), errors.As(err, &partial), errors.As(err, &total),
		errors.Is(err, core.ErrBackendUnavailable), errors.Is(err, knowledgebase.ErrSearchUnsupported):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with the status StatusFor assigns. Internal errors
// are logged and never echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		msg = "internal error"
	} else {
		hlog.FromRequest(r).Warn().Err(err).Int("status", status).Msg("request rejected")
	}

	body := map[string]string{"error": msg}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		body["rule"] = verr.Rule
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &core.ValidationError{Rule: "body", Message: "invalid JSON body"}
	}
	return nil
}

// requireUser returns the caller's id or writes 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return userID, ok
}

// callerDomain returns the domain of the authenticated identity. An explicit
// requested domain must match it.
func callerDomain(r *http.Request, requested string) (string, error) {
	domain := middleware.Domain(r.Context())
	if domain == "" {
		return "", &core.ValidationError{Rule: "domain", Message: "token carries no domain"}
	}
	if requested = strings.TrimSpace(requested); requested != "" && requested != domain {
		return "", ErrDomainMismatch
	}
	return domain, nil
}
