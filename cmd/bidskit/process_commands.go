package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/qc"
	"bidskit/internal/reorient"
	"bidskit/internal/runner"
	"bidskit/internal/session"
	"bidskit/internal/slicetime"
	"bidskit/internal/validate"
)

func newSlicetimeCommand(ctx *commandContext) *cobra.Command {
	var orderFlag string

	cmd := &cobra.Command{
		Use:   "slicetime",
		Short: "Apply slice timing correction to BOLD runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "slicetime",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					if strings.TrimSpace(orderFlag) != "" {
						cfg.Acquisition.SliceOrder = orderFlag
					}
					corr := slicetime.New(sess, cfg, runner.New(), ctx.force(), logger)
					_, err := corr.Run(runCtx)
					return err
				})
		},
	}

	cmd.Flags().StringVar(&orderFlag, "order", "", "Slice acquisition order (up, down, or odd)")
	return cmd
}

func newReorientCommand(ctx *commandContext) *cobra.Command {
	var orientationFlag string

	cmd := &cobra.Command{
		Use:   "reorient",
		Short: "Reorient converted images to the study's standard orientation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "reorient",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					if strings.TrimSpace(orientationFlag) != "" {
						cfg.Acquisition.Orientation = orientationFlag
					}
					re := reorient.New(sess, cfg, runner.New(), ctx.force(), logger)
					_, err := re.Run(runCtx)
					return err
				})
		},
	}

	cmd.Flags().StringVar(&orientationFlag, "orientation", "", "Target axis codes, for example LPI")
	return cmd
}

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the rawdata tree against the BIDS standard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "validate",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					v := validate.New(sess, cfg, runner.New(), ctx.force(), logger)
					passed, err := v.Run(runCtx)
					if err != nil {
						return err
					}
					if !passed {
						return fmt.Errorf("dataset failed BIDS validation, see the validation log")
					}
					return nil
				})
		},
	}
}

func newQCCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "qc",
		Short: "Generate MRIQC quality control reports for the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "qc",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					r := qc.New(sess, cfg, runner.New(), ctx.force(), logger)
					_, err := r.Run(runCtx)
					return err
				})
		},
	}
}
