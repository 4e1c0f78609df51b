package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/contexta-kb/internal/models"
	"github.com/markdave123-py/contexta-kb/internal/services"
)

func newKnowledgeBaseCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage knowledge bases",
	}
	cmd.AddCommand(newKnowledgeBaseCreateCommand(e))
	cmd.AddCommand(newKnowledgeBaseListCommand(e))
	return cmd
}

func newKnowledgeBaseCreateCommand(e *env) *cobra.Command {
	var (
		req     services.CreateKnowledgeBaseRequest
		backend string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a knowledge base serving one or more domains",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.connect(ctx)
			if err != nil {
				return err
			}

			req.Backend = models.BackendKind(backend)
			kb, err := a.KnowledgeBases.Create(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s) for %s\n", kb.ID, kb.Backend, strings.Join(kb.Domains, ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Name, "name", "", "Knowledge base name")
	cmd.Flags().StringSliceVar(&req.Domains, "domain", nil, "Domain served (repeatable)")
	cmd.Flags().StringVar(&backend, "backend", string(models.BackendPgvector), "pgvector, qdrant or bedrock")
	cmd.Flags().StringVar(&req.ExternalID, "external-id", "", "Qdrant collection or Bedrock knowledge base id")
	cmd.Flags().StringVar(&req.DataSourceID, "data-source-id", "", "Bedrock custom data source id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}

func newKnowledgeBaseListCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.connect(ctx)
			if err != nil {
				return err
			}

			kbs, err := a.KnowledgeBases.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBACKEND\tDOMAINS\tEXTERNAL ID")
			for _, kb := range kbs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", kb.ID, kb.Name, kb.Backend, strings.Join(kb.Domains, ","), kb.ExternalID)
			}
			return tw.Flush()
		},
	}
}
