package ingestion_engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		filename, declared, want string
	}{
		{"notes.txt", "text/plain; charset=utf-8", "text/plain"},
		{"README.md", "", "text/markdown"},
		{"README.md", "application/octet-stream", "text/markdown"},
		{"main.go", "", "text/x-go"},
		{"app.py", "", "text/x-python"},
		{"spec.PDF", "", "application/pdf"},
		{"config.yml", "", "application/x-yaml"},
		{"blob", "", "application/octet-stream"},
		{"report.pdf", "Application/PDF", "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.filename+"|"+tt.declared, func(t *testing.T) {
			assert.Equal(t, tt.want, ingestion_engine.DetectContentType(tt.filename, tt.declared))
		})
	}
}

func TestDocconvExtractor_PassesTextThrough(t *testing.T) {
	e := ingestion_engine.NewDocconvExtractor(false)

	got, err := e.ExtractText(context.Background(), []byte("# Title\n\nbody"), "text/markdown")
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nbody", got.Text)

	got, err = e.ExtractText(context.Background(), []byte(`{"a": 1}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, got.Text)

	_, err = e.ExtractText(context.Background(), []byte{0xff, 0xfe, 'a'}, "text/plain")
	assert.Error(t, err)
}
