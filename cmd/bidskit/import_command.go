package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/importdcm"
	"bidskit/internal/runner"
	"bidskit/internal/session"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var zipFlag bool

	cmd := &cobra.Command{
		Use:   "import <input>",
		Short: "Stage DICOM files or archives into sourcedata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "import",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					importer := importdcm.New(sess, cfg, runner.New(), ctx.force(), logger)
					_, err := importer.Run(runCtx, args[0], zipFlag)
					return err
				})
		},
	}

	cmd.Flags().BoolVar(&zipFlag, "zip", false, "Treat the input as (or search it for) a DICOM archive")
	return cmd
}
