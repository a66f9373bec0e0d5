package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"bidskit/internal/convert"
	"bidskit/internal/logging"
	"bidskit/internal/runner"
)

func newPopulateCommand(ctx *commandContext) *cobra.Command {
	var dockerFlag bool

	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Regenerate the top-level BIDS files for the study",
		Long: `Regenerate dataset_description.json, README, and CHANGES for the study.
Session conversions write the rawdata tree without the top-level files so
concurrent runs do not clobber each other; run this once afterwards.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			study, err := ctx.resolveStudy()
			if err != nil {
				return err
			}
			logDir := filepath.Join(study.StudyDir, "derivatives", "logs")
			logger, err := logging.ForStep(logDir, "populate", ctx.logLevel(cfg), cfg.Logging.Format)
			if err != nil {
				return err
			}
			return convert.PopulateTemplates(cmd.Context(), study, cfg, runner.New(), dockerFlag, logger)
		},
	}

	cmd.Flags().BoolVar(&dockerFlag, "docker", false, "Run heudiconv through its container image")
	return cmd
}
