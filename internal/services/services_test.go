package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/services"
	"github.com/markdave123-py/contexta-kb/internal/testutil"
)

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := services.NewUserService(testutil.NewDB())

	u, err := svc.Register(ctx, "Ada", " Ada@Example.com ", "correct horse", "eng")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	got, err := svc.Authenticate(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = svc.Authenticate(ctx, "ada@example.com", "wrong password")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "correct horse")
	assert.ErrorIs(t, err, services.ErrInvalidCredentials)

	_, err = svc.Register(ctx, "Ada", "ada@example.com", "correct horse", "eng")
	assert.True(t, core.IsConflict(err))
}

func TestUserService_RegisterValidation(t *testing.T) {
	svc := services.NewUserService(testutil.NewDB())
	tests := []struct {
		email, password, domain, rule string
	}{
		{"not-an-email", "correct horse", "eng", "email"},
		{"a@example.com", "short", "eng", "password"},
		{"a@example.com", "correct horse", " ", "domain"},
	}
	for _, tt := range tests {
		_, err := svc.Register(context.Background(), "A", tt.email, tt.password, tt.domain)
		var verr *core.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, tt.rule, verr.Rule)
	}
}

func TestKnowledgeBaseService_Create(t *testing.T) {
	ctx := context.Background()
	registry := knowledgebase.NewRegistry(testutil.NewBackend(models.BackendQdrant, true))
	svc := services.NewKnowledgeBaseService(testutil.NewDB(), registry)

	kb, err := svc.Create(ctx, services.CreateKnowledgeBaseRequest{
		Name: "engineering", Domains: []string{"eng", " eng", "platform"}, Backend: models.BackendQdrant,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"eng", "platform"}, kb.Domains)

	found, err := svc.ForDomain(ctx, "platform")
	require.NoError(t, err)
	assert.Equal(t, kb.ID, found.ID)

	_, err = svc.ForDomain(ctx, "sales")
	assert.True(t, core.IsNotFound(err))

	_, err = svc.Create(ctx, services.CreateKnowledgeBaseRequest{
		Name: "dup", Domains: []string{"eng"}, Backend: models.BackendQdrant,
	})
	assert.True(t, core.IsConflict(err))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestKnowledgeBaseService_CreateValidation(t *testing.T) {
	registry := knowledgebase.NewRegistry(testutil.NewBackend(models.BackendQdrant, true))
	svc := services.NewKnowledgeBaseService(testutil.NewDB(), registry)

	tests := []struct {
		name string
		req  services.CreateKnowledgeBaseRequest
		rule string
	}{
		{"no name", services.CreateKnowledgeBaseRequest{Domains: []string{"eng"}, Backend: models.BackendQdrant}, "name"},
		{"no domains", services.CreateKnowledgeBaseRequest{Name: "kb", Domains: []string{" "}, Backend: models.BackendQdrant}, "domains"},
		{"unknown backend", services.CreateKnowledgeBaseRequest{Name: "kb", Domains: []string{"eng"}, Backend: "faiss"}, "backend"},
		{"unconfigured backend", services.CreateKnowledgeBaseRequest{Name: "kb", Domains: []string{"eng"}, Backend: models.BackendPgvector}, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			var verr *core.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.rule, verr.Rule)
		})
	}
}
