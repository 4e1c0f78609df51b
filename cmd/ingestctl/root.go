package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/contexta-kb/internal/app"
	"github.com/markdave123-py/contexta-kb/internal/config"
	"github.com/markdave123-py/contexta-kb/internal/core"
)

// env is shared by all commands. The app is only connected for commands that
// need the database.
type env struct {
	cfg *config.Config
	app *app.App
}

func (e *env) connect(ctx context.Context) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	a, err := app.NewApp(ctx, e.cfg)
	if err != nil {
		return nil, err
	}
	e.app = a
	return a, nil
}

// drain processes jobs inline when the queue lives in this process, where
// nothing else would ever consume them.
func (e *env) drain(ctx context.Context, jobs ...core.Job) error {
	if e.cfg.QueueBackend == "redis" {
		return nil
	}
	for _, job := range jobs {
		if err := e.app.Ingestor.ProcessOne(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

func newRootCommand() *cobra.Command {
	e := &env{cfg: config.LoadConfig()}

	rootCmd := &cobra.Command{
		Use:   "ingestctl",
		Short: "Contexta ingestion operations",
		Long: `ingestctl previews chunking, re-runs document ingestion, imports GitLab
repositories and manages knowledge bases against the configured database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			debug, _ := cmd.Flags().GetBool("debug")
			level := e.cfg.LogLevel
			if debug {
				level = "debug"
			}
			app.SetupLogging(level, "console")
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.app != nil {
				e.app.Close()
			}
		},
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&e.cfg.PolicyFile, "policy", e.cfg.PolicyFile, "Ingest policy YAML file")

	rootCmd.AddCommand(newChunkCommand(e))
	rootCmd.AddCommand(newReprocessCommand(e))
	rootCmd.AddCommand(newGitlabImportCommand(e))
	rootCmd.AddCommand(newKnowledgeBaseCommand(e))

	return rootCmd
}
