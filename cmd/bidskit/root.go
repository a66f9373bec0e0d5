package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var studyDirFlag string
	var subjectFlag string
	var sessionFlag string
	var configFlag string
	var forceFlag bool
	var verboseFlag bool

	ctx := newCommandContext(&studyDirFlag, &subjectFlag, &sessionFlag, &configFlag, &forceFlag, &verboseFlag)

	rootCmd := &cobra.Command{
		Use:           "bidskit",
		Short:         "Convert and curate BIDS neuroimaging datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&studyDirFlag, "studydir", "", "Study root directory")
	rootCmd.PersistentFlags().StringVarP(&subjectFlag, "subject", "s", "", "Subject ID without the sub- prefix")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "Session ID without the ses- prefix")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Tool configuration file path")
	rootCmd.PersistentFlags().BoolVar(&forceFlag, "force", false, "Rerun steps whose outputs already exist")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(newInitCommand(ctx))
	rootCmd.AddCommand(newImportCommand(ctx))
	rootCmd.AddCommand(newConvertCommand(ctx))
	rootCmd.AddCommand(newConvertB1Command(ctx))
	rootCmd.AddCommand(newPopulateCommand(ctx))
	rootCmd.AddCommand(newSlicetimeCommand(ctx))
	rootCmd.AddCommand(newReorientCommand(ctx))
	rootCmd.AddCommand(newFixAnatCommand(ctx))
	rootCmd.AddCommand(newFixFmapCommand(ctx))
	rootCmd.AddCommand(newFixEpiCommand(ctx))
	rootCmd.AddCommand(newValidateCommand(ctx))
	rootCmd.AddCommand(newQCCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newScansCommand(ctx))
	rootCmd.AddCommand(newSyncCommand(ctx))
	rootCmd.AddCommand(newDepsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
