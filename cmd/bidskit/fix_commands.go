package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/fixanat"
	"bidskit/internal/fixepi"
	"bidskit/internal/fixfmap"
	"bidskit/internal/session"
)

func newFixAnatCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-anat",
		Short: "Split combined MP2RAGE images and complete their metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "fix-anat",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					fixer, err := fixanat.New(sess, ctx.force(), logger)
					if err != nil {
						return err
					}
					_, err = fixer.Run()
					return err
				})
		},
	}
}

func newFixFmapCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-fmap",
		Short: "Rename field maps to BIDS conventions and link them to BOLD runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "fix-fmap",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					fixer, err := fixfmap.New(sess, ctx.force(), logger)
					if err != nil {
						return err
					}
					_, err = fixer.Run()
					return err
				})
		},
	}
}

func newFixEpiCommand(ctx *commandContext) *cobra.Command {
	var apFlag string

	cmd := &cobra.Command{
		Use:   "fix-epi",
		Short: "Recover EPI timing and phase encoding from the source DICOMs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "fix-epi",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					apCode := cfg.Acquisition.APPhaseEncoding
					if strings.TrimSpace(apFlag) != "" {
						apCode = apFlag
					}
					fixer := fixepi.New(sess, apCode, ctx.force(), logger)
					_, err := fixer.Run()
					return err
				})
		},
	}

	cmd.Flags().StringVar(&apFlag, "ap", "", "Phase encoding code for AP acquisitions (j- or j)")
	return cmd
}
