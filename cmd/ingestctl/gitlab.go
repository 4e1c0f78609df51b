package main

import (
	"fmt"

	"github.com/spf13/cobra"

	gitlabconn "github.com/markdave123-py/contexta-kb/internal/connectors/gitlab"
	"github.com/markdave123-py/contexta-kb/internal/core"
)

func newGitlabImportCommand(e *env) *cobra.Command {
	var (
		req            gitlabconn.ImportRequest
		userID, domain string
	)

	cmd := &cobra.Command{
		Use:   "gitlab-import",
		Short: "Import files of a GitLab repository as documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := e.connect(ctx)
			if err != nil {
				return err
			}

			res, err := a.Importer.Import(ctx, userID, domain, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			jobs := make([]core.Job, 0, len(res.Imported))
			for _, f := range res.Imported {
				fmt.Fprintf(out, "imported  %s  %s\n", f.DocumentID, f.Path)
				jobs = append(jobs, core.Job{DocumentID: f.DocumentID, Version: 1})
			}
			for _, f := range res.Skipped {
				fmt.Fprintf(out, "skipped   %s  (%s)\n", f.Path, f.Reason)
			}
			return e.drain(ctx, jobs...)
		},
	}

	cmd.Flags().StringVar(&req.Project, "project", "", "Project id or path, e.g. group/repo")
	cmd.Flags().StringVar(&req.Ref, "ref", "", "Branch, tag or commit (default branch when empty)")
	cmd.Flags().StringVar(&req.Path, "path", "", "Directory inside the repository")
	cmd.Flags().StringSliceVar(&req.Extensions, "ext", nil, "File extensions to import")
	cmd.Flags().StringVar(&userID, "user", "", "Owner of the imported documents")
	cmd.Flags().StringVar(&domain, "domain", "", "Domain of the imported documents")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("domain")

	return cmd
}
