package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

func newReprocessCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess DOCUMENT_ID",
		Short: "Re-run chunking and ingestion for a document",
		Long: `Start a new workflow version for a document in uploaded, processing or failed.
With the in-memory queue the workflow runs inside this command.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.connect(ctx)
			if err != nil {
				return err
			}

			doc, err := a.Ingestor.Reprocess(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "document %s scheduled at version %d\n", doc.ID, doc.Version)

			if err := e.drain(ctx, core.Job{DocumentID: doc.ID, Version: doc.Version}); err != nil {
				return err
			}
			final, err := a.DBClient.GetDocumentByID(ctx, doc.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", final.UploadStatus)
			if final.ErrorMessage != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", *final.ErrorMessage)
			}
			if !final.UploadStatus.Terminal() {
				fmt.Fprintln(cmd.OutOrStdout(), "workflow queued for the ingest workers")
			}
			return nil
		},
	}
}
