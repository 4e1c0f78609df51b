package validator

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// Rule names reported in core.ValidationError.
const (
	RuleFilename    = "filename"
	RuleContentType = "content_type"
	RuleSize        = "size"
)

// Policy bounds what an upload may look like.
type Policy struct {
	MaxFilenameLength   int
	AllowedContentTypes []string
	MaxSizeBytes        int64
}

// DocumentValidator checks uploads against a Policy. It holds no mutable state.
type DocumentValidator struct {
	maxFilename int
	maxSize     int64
	allowed     map[string]struct{}
}

func NewDocumentValidator(p Policy) *DocumentValidator {
	allowed := make(map[string]struct{}, len(p.AllowedContentTypes))
	for _, ct := range p.AllowedContentTypes {
		allowed[NormalizeContentType(ct)] = struct{}{}
	}
	return &DocumentValidator{maxFilename: p.MaxFilenameLength, maxSize: p.MaxSizeBytes, allowed: allowed}
}

// Validate evaluates filename, then content type, then size, and reports the
// first rule that fails.
func (v *DocumentValidator) Validate(filename, contentType string, size int64) error {
	name := strings.TrimSpace(filename)
	if name == "" {
		return &core.ValidationError{Rule: RuleFilename, Message: "filename is empty"}
	}
	if n := utf8.RuneCountInString(filename); n > v.maxFilename {
		return &core.ValidationError{
			Rule:    RuleFilename,
			Message: fmt.Sprintf("filename is %d characters, max %d", n, v.maxFilename),
		}
	}

	ct := NormalizeContentType(contentType)
	if _, ok := v.allowed[ct]; !ok {
		return &core.ValidationError{
			Rule:    RuleContentType,
			Message: fmt.Sprintf("content type %q is not allowed", contentType),
		}
	}

	if size <= 0 {
		return &core.ValidationError{Rule: RuleSize, Message: "file is empty"}
	}
	if size > v.maxSize {
		return &core.ValidationError{
			Rule:    RuleSize,
			Message: fmt.Sprintf("file is %d bytes, max %d", size, v.maxSize),
		}
	}
	return nil
}

// Valid is Validate as a predicate.
func (v *DocumentValidator) Valid(filename, contentType string, size int64) bool {
	return v.Validate(filename, contentType, size) == nil
}

// NormalizeContentType lower-cases a media type and drops its parameters.
func NormalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
