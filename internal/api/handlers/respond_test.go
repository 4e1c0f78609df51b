package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	middleware "github.com/markdave123-py/contexta-kb/internal/api/middlewares"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/services"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.ValidationError{Rule: "size"}, http.StatusBadRequest},
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrDomainMismatch, http.StatusForbidden},
		{fmt.Errorf("load: %w", &core.NotFoundError{Resource: "document", ID: "x"}), http.StatusNotFound},
		{&core.ConflictError{Resource: "document", ID: "x"}, http.StatusConflict},
		{fmt.Errorf("%w: processed on reprocess", models.ErrInvalidTransition), http.StatusConflict},
		{&core.StorageError{Op: "upload", Err: errors.New("boom")}, http.StatusBadGateway},
		{&core.IngestPartialFailure{DocumentID: "x"}, http.StatusBadGateway},
		{&core.IngestTotalFailure{DocumentID: "x"}, http.StatusBadGateway},
		{fmt.Errorf("%w: bedrock", core.ErrBackendUnavailable), http.StatusBadGateway},
		{knowledgebase.ErrSearchUnsupported, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestCallerDomain(t *testing.T) {
	withDomain := func(domain string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		return r.WithContext(middleware.WithIdentity(r.Context(), "user-1", domain))
	}

	got, err := callerDomain(withDomain("acme"), "")
	require.NoError(t, err)
	assert.Equal(t, "acme", got)

	got, err = callerDomain(withDomain("acme"), " acme ")
	require.NoError(t, err)
	assert.Equal(t, "acme", got)

	_, err = callerDomain(withDomain("evil"), "acme")
	assert.ErrorIs(t, err, ErrDomainMismatch)

	_, err = callerDomain(withDomain(""), "")
	assert.True(t, core.IsValidation(err))
}
