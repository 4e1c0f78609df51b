// Package testutil holds in-memory fakes of the service's infrastructure.
package testutil

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

// DB is an in-memory core.DbClient with the same compare-and-set semantics
// as the Postgres client.
type DB struct {
	mu     sync.Mutex
	users  map[string]models.User
	docs   map[string]models.Document
	chunks map[string][]models.DocumentChunk
	kbs    map[string]models.KnowledgeBase

	// OnTransition, when set, runs before every TransitionDocument with the
	// lock released. Tests use it to interleave competing writers.
	OnTransition func(id string, change core.StatusChange)
}

func NewDB() *DB {
	return &DB{
		users:  make(map[string]models.User),
		docs:   make(map[string]models.Document),
		chunks: make(map[string][]models.DocumentChunk),
		kbs:    make(map[string]models.KnowledgeBase),
	}
}

var _ core.DbClient = (*DB)(nil)

func (d *DB) CreateUser(ctx context.Context, user *models.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == user.Email {
			return &core.ConflictError{Resource: "user", ID: user.Email, Reason: "email already registered"}
		}
	}
	d.users[user.ID] = *user
	return nil
}

func (d *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, u := range d.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (d *DB) CreateDocument(ctx context.Context, doc *models.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.docs[doc.ID]; ok {
		return &core.ConflictError{Resource: "document", ID: doc.ID, Reason: "document already exists"}
	}
	cp := *doc
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = now
	}
	d.docs[doc.ID] = cp
	return nil
}

func (d *DB) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "document", ID: id}
	}
	return &doc, nil
}

func (d *DB) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return d.listDocuments(func(doc models.Document) bool { return doc.UserID == userID }), nil
}

func (d *DB) ListDocumentsByDomain(ctx context.Context, domain string) ([]models.Document, error) {
	return d.listDocuments(func(doc models.Document) bool { return doc.Domain == domain }), nil
}

func (d *DB) listDocuments(keep func(models.Document) bool) []models.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Document
	for _, doc := range d.docs {
		if keep(doc) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (d *DB) UpdateDocumentStatus(ctx context.Context, id string, status models.UploadStatus, expected *models.UploadStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return &core.NotFoundError{Resource: "document", ID: id}
	}
	if expected != nil && doc.UploadStatus != *expected {
		return &core.ConflictError{Resource: "document", ID: id, Reason: fmt.Sprintf("expected %s, found %s", *expected, doc.UploadStatus)}
	}
	doc.UploadStatus = status
	doc.UpdatedAt = time.Now()
	d.docs[id] = doc
	return nil
}

func (d *DB) UpdateProcessingStatus(ctx context.Context, id string, status models.ProcessingStatus, expected *models.ProcessingStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return &core.NotFoundError{Resource: "document", ID: id}
	}
	if expected != nil && (doc.ProcessingStatus == nil || *doc.ProcessingStatus != *expected) {
		return &core.ConflictError{Resource: "document", ID: id, Reason: "processing status moved"}
	}
	doc.ProcessingStatus = &status
	doc.UpdatedAt = time.Now()
	d.docs[id] = doc
	return nil
}

func (d *DB) TransitionDocument(ctx context.Context, id string, change core.StatusChange) (*models.Document, error) {
	if d.OnTransition != nil {
		d.OnTransition(id, change)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "document", ID: id}
	}
	if doc.UploadStatus != change.From || doc.Version != change.Version {
		return nil, &core.ConflictError{
			Resource: "document",
			ID:       id,
			Reason: fmt.Sprintf("expected %s at version %d, found %s at version %d",
				change.From, change.Version, doc.UploadStatus, doc.Version),
		}
	}

	doc.UploadStatus = change.To
	doc.ProcessingStatus = change.Processing
	doc.ErrorMessage = change.ErrorMessage
	doc.ProcessedAt = change.ProcessedAt
	if change.KnowledgeBaseID != nil {
		doc.KnowledgeBaseID = change.KnowledgeBaseID
	}
	if change.NewVersion != 0 {
		doc.Version = change.NewVersion
	}
	if change.StorageURL != nil {
		doc.StorageURL = *change.StorageURL
	}
	if c := change.Content; c != nil {
		doc.FileName = c.FileName
		doc.ContentType = c.ContentType
		doc.SizeBytes = c.SizeBytes
	}
	doc.UpdatedAt = time.Now()
	d.docs[id] = doc
	return &doc, nil
}

func (d *DB) DeleteDocument(ctx context.Context, id string, version int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return &core.NotFoundError{Resource: "document", ID: id}
	}
	if doc.Version != version {
		return &core.ConflictError{Resource: "document", ID: id, Reason: fmt.Sprintf("expected version %d, found %d", version, doc.Version)}
	}
	delete(d.docs, id)
	delete(d.chunks, id)
	return nil
}

func (d *DB) ReplaceDocumentChunks(ctx context.Context, documentID string, version int, chunks []models.DocumentChunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[documentID]
	if !ok {
		return &core.NotFoundError{Resource: "document", ID: documentID}
	}
	if doc.Version != version {
		return &core.ConflictError{Resource: "document", ID: documentID, Reason: fmt.Sprintf("chunks for version %d, document is at %d", version, doc.Version)}
	}
	cp := make([]models.DocumentChunk, len(chunks))
	for i, ch := range chunks {
		ch.DocumentID = documentID
		ch.Version = version
		if ch.IngestStatus == "" {
			ch.IngestStatus = models.IngestPending
		}
		cp[i] = ch
	}
	d.chunks[documentID] = cp
	return nil
}

func (d *DB) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := slices.Clone(d.chunks[documentID])
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (d *DB) UpdateChunkIngestStatus(ctx context.Context, documentID string, version int, updates []core.ChunkStatusUpdate) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chunks := d.chunks[documentID]
	for _, u := range updates {
		for i := range chunks {
			if chunks[i].Version == version && chunks[i].Position == u.Position {
				chunks[i].IngestStatus = u.Status
				if u.ExternalRef != nil {
					chunks[i].ExternalRef = u.ExternalRef
				}
			}
		}
	}
	return nil
}

func (d *DB) SetChunkEmbeddings(ctx context.Context, documentID string, version int, embeddings map[int][]float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	chunks := d.chunks[documentID]
	for i := range chunks {
		if vec, ok := embeddings[chunks[i].Position]; ok && chunks[i].Version == version {
			chunks[i].Embedding = vec
		}
	}
	return nil
}

func (d *DB) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.chunks, documentID)
	return nil
}

// SearchDocumentChunks ranks the current-version embedded chunks of a
// document by cosine similarity. Ties keep position order.
func (d *DB) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]core.ChunkMatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rank(queryVec, limit, func(doc models.Document) bool {
		return documentID == "" || doc.ID == documentID
	}), nil
}

func (d *DB) SearchChunksByDomains(ctx context.Context, domains []string, queryVec []float32, limit int) ([]core.ChunkMatch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rank(queryVec, limit, func(doc models.Document) bool {
		return slices.Contains(domains, doc.Domain)
	}), nil
}

func (d *DB) rank(queryVec []float32, limit int, keep func(models.Document) bool) []core.ChunkMatch {
	var out []core.ChunkMatch
	for id, chunks := range d.chunks {
		doc, ok := d.docs[id]
		if !ok || !keep(doc) {
			continue
		}
		for _, ch := range chunks {
			if len(ch.Embedding) > 0 && ch.Version == doc.Version {
				out = append(out, core.ChunkMatch{DocumentChunk: ch, FileName: doc.FileName, Score: cosine(queryVec, ch.Embedding)})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].Position < out[j].Position
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (d *DB) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, other := range d.kbs {
		for _, dom := range kb.Domains {
			if other.Serves(dom) {
				return &core.ConflictError{Resource: "knowledge_base", ID: kb.ID, Reason: fmt.Sprintf("domain %q already has a knowledge base", dom)}
			}
		}
	}
	cp := *kb
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	d.kbs[kb.ID] = cp
	return nil
}

func (d *DB) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kb, ok := d.kbs[id]
	if !ok {
		return nil, &core.NotFoundError{Resource: "knowledge_base", ID: id}
	}
	return &kb, nil
}

func (d *DB) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.KnowledgeBase, 0, len(d.kbs))
	for _, kb := range d.kbs {
		out = append(out, kb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *DB) FindKnowledgeBaseForDomain(ctx context.Context, domain string) (*models.KnowledgeBase, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kb := range d.kbs {
		if kb.Serves(domain) {
			return &kb, nil
		}
	}
	return nil, nil
}

func (d *DB) Close() error { return nil }

// Document returns a snapshot of a stored document, or nil.
func (d *DB) Document(id string) *models.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return nil
	}
	return &doc
}

// PutDocument stores doc as is, bypassing the state machine.
func (d *DB) PutDocument(doc models.Document) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs[doc.ID] = doc
}
