package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

func testPolicy() Policy {
	return Policy{
		MaxFilenameLength:   20,
		AllowedContentTypes: []string{"application/pdf", "text/plain", "text/markdown"},
		MaxSizeBytes:        1000,
	}
}

func TestValidate(t *testing.T) {
	v := NewDocumentValidator(testPolicy())

	tests := []struct {
		name        string
		filename    string
		contentType string
		size        int64
		rule        string
	}{
		{"valid pdf", "report.pdf", "application/pdf", 10, ""},
		{"content type with params", "notes.txt", "Text/Plain; charset=utf-8", 1000, ""},
		{"empty filename", "", "text/plain", 10, RuleFilename},
		{"whitespace filename", "   ", "text/plain", 10, RuleFilename},
		{"long filename", strings.Repeat("a", 21), "text/plain", 10, RuleFilename},
		{"multibyte filename at limit", strings.Repeat("é", 20), "text/plain", 10, ""},
		{"disallowed type", "a.exe", "application/x-msdownload", 10, RuleContentType},
		{"zero size", "a.txt", "text/plain", 0, RuleSize},
		{"negative size", "a.txt", "text/plain", -1, RuleSize},
		{"too large", "a.txt", "text/plain", 1001, RuleSize},
		{"filename checked before type", "", "application/x-msdownload", 0, RuleFilename},
		{"type checked before size", "a.bin", "application/octet-stream", 0, RuleContentType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.filename, tt.contentType, tt.size)
			if tt.rule == "" {
				assert.NoError(t, err)
				assert.True(t, v.Valid(tt.filename, tt.contentType, tt.size))
				return
			}
			var ve *core.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.rule, ve.Rule)
			assert.False(t, v.Valid(tt.filename, tt.contentType, tt.size))
		})
	}
}

func TestValidate_OversizeAlwaysRejected(t *testing.T) {
	v := NewDocumentValidator(testPolicy())

	names := []string{"a.pdf", "", strings.Repeat("x", 50)}
	types := []string{"application/pdf", "image/png", ""}
	for _, n := range names {
		for _, ct := range types {
			for _, size := range []int64{1001, 5000, 1 << 40} {
				assert.False(t, v.Valid(n, ct, size), "%q %q %d", n, ct, size)
			}
		}
	}
}

func TestValidate_AllWithinPolicyAccepted(t *testing.T) {
	v := NewDocumentValidator(testPolicy())

	for _, ct := range testPolicy().AllowedContentTypes {
		for _, size := range []int64{1, 500, 1000} {
			for _, n := range []string{"a", "doc.md", strings.Repeat("z", 20)} {
				assert.True(t, v.Valid(n, ct, size), "%q %q %d", n, ct, size)
			}
		}
	}
}

func TestNormalizeContentType(t *testing.T) {
	assert.Equal(t, "text/markdown", NormalizeContentType(" TEXT/Markdown ; charset=UTF-8"))
	assert.Equal(t, "application/pdf", NormalizeContentType("application/pdf"))
	assert.Equal(t, "", NormalizeContentType(""))
}
