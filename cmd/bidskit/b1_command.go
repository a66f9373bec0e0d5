package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"bidskit/internal/b1convert"
	"bidskit/internal/config"
	"bidskit/internal/runner"
	"bidskit/internal/session"
)

func newConvertB1Command(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "convert-b1",
		Short: "Convert B1 map DICOMs to rawdata with dcm2niix",
		Long: "Convert B1 map DICOM series directly with dcm2niix. heudiconv " +
			"misnames Philips B1 maps, so these series bypass the heuristic " +
			"conversion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "convert-b1",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					conv := b1convert.New(sess, cfg, runner.New(), ctx.force(), logger)
					_, err := conv.Run(runCtx)
					return err
				})
		},
	}
}
