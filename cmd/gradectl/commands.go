package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/assessment-api/internal/bootstrap"
	"github.com/noah-isme/assessment-api/internal/config"
	"github.com/noah-isme/assessment-api/internal/database"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/internal/service"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "gradectl",
		Short:         "Operate the assessment grading pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMaterializeCommand(), newRenderCommand())
	return root
}

func newMaterializeCommand() *cobra.Command {
	var (
		submissionID uint
		timeout      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Push a stored submission into its grading repository again",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if submissionID == 0 {
				return fmt.Errorf("--submission is required")
			}

			logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.ConnectPostgres(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			host, err := bootstrap.RepositoryHost(cfg, logger)
			if err != nil {
				return err
			}

			assignments := repository.NewAssignmentRepository(db)
			submissions := repository.NewSubmissionRepository(db)
			reconciler := service.NewReconciler(submissions, repository.NewTestResultRepository(db), assignments, cfg.GradingWebhookSecret, service.ReconcilerDeps{}, logger)
			materializer := service.NewMaterializer(host, repository.NewTestRepository(db), assignments, submissions, reconciler, nil, bootstrap.GradingSettings(cfg), logger)

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := materializer.MaterializeSubmission(ctx, submissionID)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().UintVar(&submissionID, "submission", 0, "submission id to materialize")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall timeout")
	return cmd
}

func newRenderCommand() *cobra.Command {
	var (
		scripts  []string
		browsers []string
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the CI workflow generated for the given Playwright script files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items := make([]pipeline.Script, 0, len(scripts))
			for i, path := range scripts {
				source, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				items = append(items, pipeline.Script{ID: uint(i + 1), Name: path, Source: string(source)})
			}

			out, err := pipeline.Build(items, pipeline.Params{Browsers: browsers}, true)
			if err != nil {
				return err
			}
			for _, file := range out.Files {
				fmt.Fprintln(cmd.OutOrStdout(), file.Path)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), out.Workflow)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&scripts, "script", nil, "Playwright script file (repeatable)")
	cmd.Flags().StringSliceVar(&browsers, "browser", nil, "browser project (repeatable)")
	return cmd
}

func printResult(w io.Writer, result service.MaterializeResult) error {
	fmt.Fprintf(w, "repository: %s\n", result.Repository.URL)
	fmt.Fprintf(w, "branch:     %s\n", result.Repository.Branch)
	if result.Unchanged {
		fmt.Fprintln(w, "no changes, repository already up to date")
	}
	for _, warning := range service.WarningStrings(result.Warnings) {
		fmt.Fprintf(w, "warning:    %s\n", warning)
	}
	return nil
}
