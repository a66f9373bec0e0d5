package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/pipeline"
	"bidskit/internal/runner"
	"bidskit/internal/session"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var zipFlag bool
	var dockerFlag bool
	var skipValidateFlag bool
	var qcFlag bool

	cmd := &cobra.Command{
		Use:   "run-all <input>",
		Short: "Run the full import-to-validation pipeline for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "run-all",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					p := pipeline.New(sess, study, cfg, runner.New(), logger)
					return p.Run(runCtx, pipeline.Options{
						Input:        args[0],
						ZipInput:     zipFlag,
						Docker:       dockerFlag,
						SkipValidate: skipValidateFlag,
						RunQC:        qcFlag,
						Force:        ctx.force(),
					})
				})
		},
	}

	cmd.Flags().BoolVar(&zipFlag, "zip", false, "Treat the input as (or search it for) a DICOM archive")
	cmd.Flags().BoolVar(&dockerFlag, "docker", false, "Run heudiconv through its container image")
	cmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Skip the BIDS validation step")
	cmd.Flags().BoolVar(&qcFlag, "qc", false, "Also run MRIQC (slow)")
	return cmd
}
