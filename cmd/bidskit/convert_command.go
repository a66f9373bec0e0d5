package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/convert"
	"bidskit/internal/runner"
	"bidskit/internal/session"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var dockerFlag bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert staged sourcedata to BIDS rawdata with heudiconv",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "convert",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					conv := convert.New(sess, study, cfg, runner.New(), ctx.force(), logger)
					_, err := conv.Run(runCtx, dockerFlag)
					return err
				})
		},
	}

	cmd.Flags().BoolVar(&dockerFlag, "docker", false, "Run heudiconv through its container image")
	return cmd
}
