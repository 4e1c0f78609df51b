package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
	"github.com/markdave123-py/contexta-kb/internal/core/validator"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText returns text types as they are and hands everything else
// (pdf, docx, html, ...) to docconv.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	ct := validator.NormalizeContentType(contentType)
	if isPlainText(ct) {
		if !utf8.Valid(data) {
			return nil, fmt.Errorf("%s content is not valid UTF-8", ct)
		}
		return &core.ExtractedText{Text: string(data), Metadata: map[string]string{}}, nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), ct, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("docconv %s: %w", ct, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(res.Body) == "" {
		log.Warn().Str("content_type", ct).Msg("docconv extracted no text")
	}
	return &core.ExtractedText{Text: res.Body, Metadata: res.Meta}, nil
}

func isPlainText(ct string) bool {
	if strings.HasPrefix(ct, "text/") && ct != "text/html" {
		return true
	}
	switch ct {
	case "application/json", "application/javascript", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// extensionTypes covers what mime.TypeByExtension does not know reliably.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".go":       "text/x-go",
	".py":       "text/x-python",
	".java":     "text/x-java-source",
	".js":       "text/javascript",
	".ts":       "text/plain",
	".yaml":     "application/x-yaml",
	".yml":      "application/x-yaml",
	".json":     "application/json",
	".txt":      "text/plain",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html":     "text/html",
	".htm":      "text/html",
}

// DetectContentType keeps a specific declared type and otherwise derives one
// from the file extension.
func DetectContentType(filename, declared string) string {
	ct := validator.NormalizeContentType(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return validator.NormalizeContentType(t)
	}
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
