package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/models"
)

const uniqueViolation = "23505"

// checkID rejects ids Postgres would refuse to cast to UUID. Such an id
// cannot name a row, so it is reported as not found.
func checkID(resource, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return &core.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (core.DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		// Append SSL params to the provided DATABASE_URL safely.
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("connected to postgres")
	return &DatabaseClient{db: db}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, domain, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()), COALESCE($7, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.FirstName, user.Email, user.Domain, user.PasswordHash, nullTime(user.CreatedAt), nullTime(user.UpdatedAt))
	if isUniqueViolation(err) {
		return &core.ConflictError{Resource: "user", ID: user.Email, Reason: "email already registered"}
	}
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, domain, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.Domain, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the db interface for Document

const documentColumns = `
	id, user_id, domain, file_name, content_type, size_bytes, storage_key, storage_url, source_type,
	knowledge_base_id, upload_status, processing_status, error_message, version,
	uploaded_at, processed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.UserID, &d.Domain, &d.FileName, &d.ContentType, &d.SizeBytes, &d.StorageKey, &d.StorageURL, &d.SourceType,
		&d.KnowledgeBaseID, &d.UploadStatus, &d.ProcessingStatus, &d.ErrorMessage, &d.Version,
		&d.UploadedAt, &d.ProcessedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	const q = `
		INSERT INTO documents
			(id, user_id, domain, file_name, content_type, size_bytes, storage_key, storage_url, source_type,
			 knowledge_base_id, upload_status, processing_status, error_message, version,
			 uploaded_at, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			 COALESCE($15, now()), COALESCE($16, now()), COALESCE($17, now()))
	`
	_, err := c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.Domain, doc.FileName, doc.ContentType, doc.SizeBytes, doc.StorageKey, doc.StorageURL, doc.SourceType,
		doc.KnowledgeBaseID, string(doc.UploadStatus), processingArg(doc.ProcessingStatus), doc.ErrorMessage, doc.Version,
		nullTime(doc.UploadedAt), nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt))
	if isUniqueViolation(err) {
		return &core.ConflictError{Resource: "document", ID: doc.ID, Reason: "document or storage key already exists"}
	}
	return err
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	if err := checkID("document", id); err != nil {
		return nil, err
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Resource: "document", ID: id}
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	return c.queryDocuments(ctx, q, userID)
}

func (c *DatabaseClient) ListDocumentsByDomain(ctx context.Context, domain string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE domain = $1 ORDER BY created_at DESC`
	return c.queryDocuments(ctx, q, domain)
}

func (c *DatabaseClient) queryDocuments(ctx context.Context, q string, args ...any) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// TransitionDocument applies change only while the row still has change.From
// and change.Version. A miss is reported as NotFoundError or ConflictError.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id string, status models.UploadStatus, expected *models.UploadStatus) error {
	if err := checkID("document", id); err != nil {
		return err
	}
	var exp any
	if expected != nil {
		exp = string(*expected)
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE documents SET upload_status = $2, updated_at = now()
		WHERE id = $1 AND ($3::text IS NULL OR upload_status = $3)`,
		id, string(status), exp)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c.casMiss(ctx, id, fmt.Sprintf("expected upload status %v", exp))
	}
	return nil
}

func (c *DatabaseClient) UpdateProcessingStatus(ctx context.Context, id string, status models.ProcessingStatus, expected *models.ProcessingStatus) error {
	if err := checkID("document", id); err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE documents SET processing_status = $2, updated_at = now()
		WHERE id = $1 AND ($3::text IS NULL OR processing_status = $3)`,
		id, string(status), processingArg(expected))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return c.casMiss(ctx, id, "processing status moved")
	}
	return nil
}

func (c *DatabaseClient) TransitionDocument(ctx context.Context, id string, change core.StatusChange) (*models.Document, error) {
	if err := checkID("document", id); err != nil {
		return nil, err
	}
	newVersion := change.NewVersion
	if newVersion == 0 {
		newVersion = change.Version
	}
	var fileName, contentType, size any
	if change.Content != nil {
		fileName, contentType, size = change.Content.FileName, change.Content.ContentType, change.Content.SizeBytes
	}
	q := `
		UPDATE documents
		SET upload_status = $2,
		    processing_status = $3,
		    error_message = $4,
		    processed_at = $5,
		    knowledge_base_id = COALESCE($6, knowledge_base_id),
		    version = $7,
		    storage_url = COALESCE($10, storage_url),
		    file_name = COALESCE($11, file_name),
		    content_type = COALESCE($12, content_type),
		    size_bytes = COALESCE($13, size_bytes),
		    updated_at = now()
		WHERE id = $1 AND upload_status = $8 AND version = $9
		RETURNING ` + documentColumns

	d, err := scanDocument(c.db.QueryRowContext(ctx, q,
		id, string(change.To), processingArg(change.Processing), change.ErrorMessage, change.ProcessedAt,
		change.KnowledgeBaseID, newVersion, string(change.From), change.Version,
		change.StorageURL, fileName, contentType, size))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, c.casMiss(ctx, id, fmt.Sprintf("expected %s at version %d", change.From, change.Version))
	}
	return d, err
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string, version int) error {
	if err := checkID("document", id); err != nil {
		return err
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND version = $2`, id, version)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return c.casMiss(ctx, id, fmt.Sprintf("expected version %d", version))
	}
	return nil
}

// casMiss tells a missing row apart from one that moved on.
func (c *DatabaseClient) casMiss(ctx context.Context, id, expected string) error {
	var (
		status  string
		version int
	)
	err := c.db.QueryRowContext(ctx, `SELECT upload_status, version FROM documents WHERE id = $1`, id).Scan(&status, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Resource: "document", ID: id}
	}
	if err != nil {
		return err
	}
	return &core.ConflictError{
		Resource: "document",
		ID:       id,
		Reason:   fmt.Sprintf("%s, found %s at version %d", expected, status, version),
	}
}

// Implementing the db interface for Document Chunks

// ReplaceDocumentChunks swaps the document's chunk set in one transaction. It
// fails with ConflictError if the document is no longer at version.
func (c *DatabaseClient) ReplaceDocumentChunks(ctx context.Context, documentID string, version int, chunks []models.DocumentChunk) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT version FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.NotFoundError{Resource: "document", ID: documentID}
	}
	if err != nil {
		return err
	}
	if current != version {
		return &core.ConflictError{
			Resource: "document",
			ID:       documentID,
			Reason:   fmt.Sprintf("chunks for version %d, document is at %d", version, current),
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, version, position, text, start_offset, end_offset, token_count, embedding, external_ref, ingest_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		status := ch.IngestStatus
		if status == "" {
			status = models.IngestPending
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, documentID, version, ch.Position, ch.Text, ch.StartOffset, ch.EndOffset, ch.TokenCount,
			vec, ch.ExternalRef, string(status), nullTime(ch.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", ch.Position, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	if err := checkID("document", documentID); err != nil {
		return nil, err
	}
	const q = `
		SELECT id, document_id, version, position, text, start_offset, end_offset, token_count,
		       external_ref, ingest_status, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var ch models.DocumentChunk
		if err := rows.Scan(
			&ch.ID, &ch.DocumentID, &ch.Version, &ch.Position, &ch.Text, &ch.StartOffset, &ch.EndOffset, &ch.TokenCount,
			&ch.ExternalRef, &ch.IngestStatus, &ch.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) UpdateChunkIngestStatus(ctx context.Context, documentID string, version int, updates []core.ChunkStatusUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		UPDATE document_chunks
		SET ingest_status = $4, external_ref = COALESCE($5, external_ref)
		WHERE document_id = $1 AND version = $2 AND position = $3
	`
	for _, u := range updates {
		if _, err := tx.ExecContext(ctx, q, documentID, version, u.Position, string(u.Status), u.ExternalRef); err != nil {
			return fmt.Errorf("update chunk %d: %w", u.Position, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) SetChunkEmbeddings(ctx context.Context, documentID string, version int, embeddings map[int][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		UPDATE document_chunks SET embedding = $4
		WHERE document_id = $1 AND version = $2 AND position = $3
	`
	for pos, vec := range embeddings {
		if _, err := tx.ExecContext(ctx, q, documentID, version, pos, pgvector.NewVector(vec)); err != nil {
			return fmt.Errorf("embed chunk %d: %w", pos, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// SearchDocumentChunks ranks the current-version chunks of one document by
// cosine similarity to queryVec. An empty documentID searches every document.
func (c *DatabaseClient) SearchDocumentChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]core.ChunkMatch, error) {
	const q = `
		SELECT c.id, c.document_id, c.version, c.position, c.text, c.token_count,
		       d.file_name, 1 - (c.embedding <=> $2) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id AND d.version = c.version
		WHERE ($1 = '' OR c.document_id::text = $1) AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $2
		LIMIT $3
	`
	return c.queryMatches(ctx, q, documentID, pgvector.NewVector(queryVec), limit)
}

// SearchChunksByDomains ranks the current-version chunks of every document in
// the given domains.
func (c *DatabaseClient) SearchChunksByDomains(ctx context.Context, domains []string, queryVec []float32, limit int) ([]core.ChunkMatch, error) {
	const q = `
		SELECT c.id, c.document_id, c.version, c.position, c.text, c.token_count,
		       d.file_name, 1 - (c.embedding <=> $2) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id AND d.version = c.version
		WHERE d.domain = ANY($1) AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> $2
		LIMIT $3
	`
	return c.queryMatches(ctx, q, domains, pgvector.NewVector(queryVec), limit)
}

func (c *DatabaseClient) queryMatches(ctx context.Context, q string, args ...any) ([]core.ChunkMatch, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ChunkMatch
	for rows.Next() {
		var m core.ChunkMatch
		if err := rows.Scan(
			&m.ID, &m.DocumentID, &m.Version, &m.Position, &m.Text, &m.TokenCount,
			&m.FileName, &m.Score,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Implementing the db interface for Knowledge Bases

func (c *DatabaseClient) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	if kb == nil {
		return errors.New("nil knowledge base")
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO knowledge_bases (id, name, backend, external_id, data_source_id, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`
	if _, err := tx.ExecContext(ctx, q,
		kb.ID, kb.Name, string(kb.Backend), kb.ExternalID, kb.DataSourceID, nullTime(kb.CreatedAt)); err != nil {
		return err
	}
	for _, d := range kb.Domains {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO knowledge_base_domains (domain, knowledge_base_id) VALUES ($1, $2)`, d, kb.ID)
		if isUniqueViolation(err) {
			return &core.ConflictError{Resource: "knowledge_base", ID: kb.ID, Reason: fmt.Sprintf("domain %q already has a knowledge base", d)}
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	if err := checkID("knowledge_base", id); err != nil {
		return nil, err
	}
	const q = `
		SELECT id, name, backend, external_id, data_source_id, created_at
		FROM knowledge_bases WHERE id = $1
	`
	var kb models.KnowledgeBase
	err := c.db.QueryRowContext(ctx, q, id).Scan(&kb.ID, &kb.Name, &kb.Backend, &kb.ExternalID, &kb.DataSourceID, &kb.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.NotFoundError{Resource: "knowledge_base", ID: id}
	}
	if err != nil {
		return nil, err
	}
	if kb.Domains, err = c.knowledgeBaseDomains(ctx, kb.ID); err != nil {
		return nil, err
	}
	return &kb, nil
}

func (c *DatabaseClient) ListKnowledgeBases(ctx context.Context) ([]models.KnowledgeBase, error) {
	const q = `
		SELECT id, name, backend, external_id, data_source_id, created_at
		FROM knowledge_bases ORDER BY created_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	var out []models.KnowledgeBase
	for rows.Next() {
		var kb models.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Backend, &kb.ExternalID, &kb.DataSourceID, &kb.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, kb)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if out[i].Domains, err = c.knowledgeBaseDomains(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindKnowledgeBaseForDomain returns nil, nil when no knowledge base serves domain.
func (c *DatabaseClient) FindKnowledgeBaseForDomain(ctx context.Context, domain string) (*models.KnowledgeBase, error) {
	var id string
	err := c.db.QueryRowContext(ctx,
		`SELECT knowledge_base_id FROM knowledge_base_domains WHERE domain = $1`, domain).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c.GetKnowledgeBase(ctx, id)
}

func (c *DatabaseClient) knowledgeBaseDomains(ctx context.Context, kbID string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT domain FROM knowledge_base_domains WHERE knowledge_base_id = $1 ORDER BY domain`, kbID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func processingArg(p *models.ProcessingStatus) any {
	if p == nil {
		return nil
	}
	return string(*p)
}

// nullTime lets COALESCE(..., now()) fill zero timestamps.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
