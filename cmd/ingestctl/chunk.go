package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/contexta-kb/internal/app"
	"github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core/chunker"
	"github.com/markdave123-py/contexta-kb/internal/core/ingestion_engine"
)

const previewRunes = 60

func newChunkCommand(e *env) *cobra.Command {
	var contentType string

	cmd := &cobra.Command{
		Use:   "chunk FILE",
		Short: "Preview how a file would be chunked",
		Long:  `Extract the text of a local file and print the chunks the router produces for it, without touching any storage.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunk(cmd, e, args[0], contentType)
		},
	}
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (detected from the extension when empty)")
	return cmd
}

func runChunk(cmd *cobra.Command, e *env, file, contentType string) error {
	policy, err := config.LoadPolicy(e.cfg.PolicyFile)
	if err != nil {
		return err
	}
	router, err := chunker.NewRouter(app.ChunkerConfig(policy))
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	ct := ingestion_engine.DetectContentType(filepath.Base(file), contentType)
	extracted, err := ingestion_engine.NewDocconvExtractor(false).ExtractText(cmd.Context(), data, ct)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	size := int64(len(data))
	fmt.Fprintf(out, "%s  %s  %d bytes  strategy=%s\n", file, ct, size, router.Select(ct, size))

	n := 0
	for ch := range router.Route(extracted.Text, ct, size) {
		n++
		fmt.Fprintf(out, "#%-4d [%d:%d] tokens=%-4d %s\n", ch.Index, ch.Start, ch.End, ch.TokenCount, preview(ch.Text))
	}
	fmt.Fprintf(out, "%d chunks\n", n)
	return nil
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewRunes {
		return s
	}
	return string(r[:previewRunes]) + "..."
}
