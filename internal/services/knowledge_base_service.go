package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/knowledgebase"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// CreateKnowledgeBaseRequest describes a new knowledge base.
type CreateKnowledgeBaseRequest struct {
	Name         string             `json:"name"`
	Domains      []string           `json:"domains"`
	Backend      models.BackendKind `json:"backend"`
	ExternalID   string             `json:"external_id"`
	DataSourceID string             `json:"data_source_id"`
}

// KnowledgeBaseService manages knowledge bases. Only backends registered in
// this process can be chosen.
type KnowledgeBaseService struct {
	db       core.DbClient
	registry *knowledgebase.Registry
}

func NewKnowledgeBaseService(db core.DbClient, registry *knowledgebase.Registry) *KnowledgeBaseService {
	return &KnowledgeBaseService{db: db, registry: registry}
}

func (s *KnowledgeBaseService) Create(ctx context.Context, req CreateKnowledgeBaseRequest) (*models.KnowledgeBase, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &core.ValidationError{Rule: "name", Message: "name is required"}
	}

	seen := make(map[string]bool, len(req.Domains))
	var domains []string
	for _, d := range req.Domains {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		domains = append(domains, d)
	}
	if len(domains) == 0 {
		return nil, &core.ValidationError{Rule: "domains", Message: "at least one domain is required"}
	}

	if !req.Backend.Valid() {
		return nil, &core.ValidationError{Rule: "backend", Message: fmt.Sprintf("unknown backend %q", req.Backend)}
	}
	if _, err := s.registry.Get(req.Backend); err != nil {
		return nil, &core.ValidationError{Rule: "backend", Message: fmt.Sprintf("backend %s is not configured", req.Backend)}
	}
	if req.Backend == models.BackendBedrock && (req.ExternalID == "" || req.DataSourceID == "") {
		return nil, &core.ValidationError{Rule: "backend", Message: "bedrock needs external_id and data_source_id"}
	}

	kb := &models.KnowledgeBase{
		ID:           uuid.NewString(),
		Name:         name,
		Domains:      domains,
		Backend:      req.Backend,
		ExternalID:   strings.TrimSpace(req.ExternalID),
		DataSourceID: strings.TrimSpace(req.DataSourceID),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.CreateKnowledgeBase(ctx, kb); err != nil {
		return nil, err
	}
	return kb, nil
}

func (s *KnowledgeBaseService) List(ctx context.Context) ([]models.KnowledgeBase, error) {
	return s.db.ListKnowledgeBases(ctx)
}

func (s *KnowledgeBaseService) Get(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	return s.db.GetKnowledgeBase(ctx, id)
}

// ForDomain returns the knowledge base serving domain.
func (s *KnowledgeBaseService) ForDomain(ctx context.Context, domain string) (*models.KnowledgeBase, error) {
	kb, err := s.db.FindKnowledgeBaseForDomain(ctx, domain)
	if err != nil {
		return nil, err
	}
	if kb == nil {
		return nil, &core.NotFoundError{Resource: "knowledge_base", ID: "domain:" + domain}
	}
	return kb, nil
}
