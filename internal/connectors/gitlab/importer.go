// Package gitlab imports repository files as documents.
package gitlab

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xanzy/go-gitlab"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// DefaultExtensions are imported when a request names none.
var DefaultExtensions = []string{".md", ".markdown", ".txt", ".go", ".py", ".java", ".js", ".json", ".yaml", ".yml", ".pdf"}

// Uploader receives imported files.
type Uploader interface {
	SubmitUpload(ctx context.Context, req ingestion_engine.UploadRequest) (*models.Document, error)
}

type ImportRequest struct {
	Project    string   `json:"project"` // numeric id or "group/name"
	Ref        string   `json:"ref"`
	Path       string   `json:"path"`
	Extensions []string `json:"extensions"`
}

type ImportedFile struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id"`
}

type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Imported []ImportedFile `json:"imported"`
	Skipped  []SkippedFile  `json:"skipped"`
}

type Importer struct {
	client   *gitlab.Client
	uploader Uploader
}

func NewImporter(baseURL, token string, uploader Uploader) (*Importer, error) {
	client, err := gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("gitlab client: %w", err)
	}
	return &Importer{client: client, uploader: uploader}, nil
}

// Import walks the repository tree under req.Path and submits every blob
// with an accepted extension. Files the upload policy rejects, or that fail
// to download or store, are reported as skipped.
func (im *Importer) Import(ctx context.Context, userID, domain string, req ImportRequest) (*ImportResult, error) {
	if strings.TrimSpace(req.Project) == "" {
		return nil, &core.ValidationError{Rule: "project", Message: "project is required"}
	}
	exts := extensionSet(req.Extensions)

	blobs, err := im.listBlobs(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &ImportResult{}
	for _, node := range blobs {
		if !exts[strings.ToLower(path.Ext(node.Path))] {
			res.Skipped = append(res.Skipped, SkippedFile{Path: node.Path, Reason: "extension not imported"})
			continue
		}

		opts := &gitlab.GetRawFileOptions{}
		if req.Ref != "" {
			opts.Ref = gitlab.Ptr(req.Ref)
		}
		data, _, err := im.client.RepositoryFiles.GetRawFile(req.Project, node.Path, opts, gitlab.WithContext(ctx))
		if err != nil {
			log.Warn().Err(err).Str("project", req.Project).Str("path", node.Path).Msg("gitlab raw file failed")
			res.Skipped = append(res.Skipped, SkippedFile{Path: node.Path, Reason: err.Error()})
			continue
		}

		doc, err := im.uploader.SubmitUpload(ctx, ingestion_engine.UploadRequest{
			UserID:     userID,
			Domain:     domain,
			FileName:   node.Name,
			Data:       data,
			SourceType: ingestion_engine.SourceGitlab,
		})
		if err != nil {
			res.Skipped = append(res.Skipped, SkippedFile{Path: node.Path, Reason: err.Error()})
			continue
		}
		res.Imported = append(res.Imported, ImportedFile{Path: node.Path, DocumentID: doc.ID})
	}

	log.Info().
		Str("project", req.Project).
		Int("imported", len(res.Imported)).
		Int("skipped", len(res.Skipped)).
		Msg("gitlab import finished")
	return res, nil
}

func (im *Importer) listBlobs(ctx context.Context, req ImportRequest) ([]*gitlab.TreeNode, error) {
	opts := &gitlab.ListTreeOptions{
		ListOptions: gitlab.ListOptions{PerPage: 100, Page: 1},
		Recursive:   gitlab.Ptr(true),
	}
	if req.Path != "" {
		opts.Path = gitlab.Ptr(req.Path)
	}
	if req.Ref != "" {
		opts.Ref = gitlab.Ptr(req.Ref)
	}

	var blobs []*gitlab.TreeNode
	for {
		nodes, resp, err := im.client.Repositories.ListTree(req.Project, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("list tree of %s: %w", req.Project, err)
		}
		for _, n := range nodes {
			if n.Type == "blob" {
				blobs = append(blobs, n)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return blobs, nil
		}
		opts.Page = resp.NextPage
	}
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out[e] = true
	}
	return out
}
