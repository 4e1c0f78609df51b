package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
)

// multipartMemory is held in memory before parts spill to disk.
const multipartMemory = 32 << 20

type DocumentHandler struct {
	ingestor       ingestion_engine.Ingestor
	maxUploadBytes int64
}

func NewDocumentHandler(ing ingestion_engine.Ingestor, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{ingestor: ing, maxUploadBytes: maxUploadBytes}
}

type uploadedFile struct {
	name        string
	contentType string
	data        []byte
}

// readFile reads the multipart "file" field. Bodies over the upload limit are
// cut one byte past it so the validator reports the size rule.
func (h *DocumentHandler) readFile(w http.ResponseWriter, r *http.Request) (*uploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &core.ValidationError{Rule: "size", Message: "upload exceeds the size limit"}
		}
		return nil, &core.ValidationError{Rule: "body", Message: "expected a multipart form"}
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, &core.ValidationError{Rule: "file", Message: "missing file field"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return nil, err
	}
	return &uploadedFile{
		name:        header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, nil
}

// DocumentID answers 404 for an {id} path parameter that is not a UUID.
func DocumentID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			writeError(w, r, &core.NotFoundError{Resource: "document", ID: id})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UploadDocument stores a file and queues it for processing.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	f, err := h.readFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	domain, err := callerDomain(r, r.FormValue("domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.ingestor.SubmitUpload(r.Context(), ingestion_engine.UploadRequest{
		UserID:      userID,
		Domain:      domain,
		FileName:    f.name,
		ContentType: f.contentType,
		Data:        f.data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	documents, err := h.ingestor.ListDocuments(r.Context(), userID, r.URL.Query().Get("domain"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	doc, err := h.ingestor.GetDocument(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpdateContent replaces the file of a document and restarts processing.
func (h *DocumentHandler) UpdateContent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	f, err := h.readFile(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := h.ingestor.UpdateContent(r.Context(), chi.URLParam(r, "id"), userID, f.name, f.contentType, f.data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if _, err := h.ingestor.DeleteDocument(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.ingestor.GetDocument(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := h.ingestor.Reprocess(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := h.ingestor.GetDocument(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}
	chunks, err := h.ingestor.GetChunks(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

type downloadResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Download returns a presigned URL. The optional ttl query takes a Go
// duration such as "5m".
func (h *DocumentHandler) Download(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ttl := core.DefaultPresignTTL
	if raw := r.URL.Query().Get("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > 7*24*time.Hour {
			writeError(w, r, &core.ValidationError{Rule: "ttl", Message: "ttl must be a duration between 1s and 168h"})
			return
		}
		ttl = d
	}

	url, err := h.ingestor.PresignDownload(r.Context(), chi.URLParam(r, "id"), userID, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{URL: url, ExpiresAt: time.Now().UTC().Add(ttl)})
}
