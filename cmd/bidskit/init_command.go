package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
)

// studySkeleton lists the directories every study starts with.
var studySkeleton = []string{"code", "rawdata", "sourcedata", "derivatives"}

func newInitCommand(ctx *commandContext) *cobra.Command {
	var heuristicFlag string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a study skeleton and register it as the active study",
		RunE: func(cmd *cobra.Command, args []string) error {
			studyDir := strings.TrimSpace(*ctx.studyDirFlag)
			if studyDir == "" {
				return fmt.Errorf("init needs --studydir")
			}
			studyDir, err := filepath.Abs(studyDir)
			if err != nil {
				return err
			}

			for _, dir := range studySkeleton {
				if err := os.MkdirAll(filepath.Join(studyDir, dir), 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			heuristic, err := installHeuristic(studyDir, heuristicFlag)
			if err != nil {
				return err
			}

			configPath := filepath.Join(studyDir, "code", "config.json")
			if _, err := os.Stat(configPath); err == nil && !ctx.force() {
				return fmt.Errorf("study already initialized: %s (use --force to rewrite)", configPath)
			}
			if err := writeStudyConfig(configPath, studyDir, heuristic); err != nil {
				return err
			}

			settingsPath, err := config.SettingsPath()
			if err != nil {
				return err
			}
			if err := config.SetActiveStudy(settingsPath, configPath); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Initialized study at %s\n", studyDir)
			if heuristic == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "Add a heuristic at code/heuristic.py before converting.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&heuristicFlag, "heuristic", "", "Heuristic file to install into code/")
	return cmd
}

// installHeuristic copies an external heuristic into the study's code
// directory and returns its study-relative path. An empty source leaves the
// study without a heuristic.
func installHeuristic(studyDir, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return "", fmt.Errorf("read heuristic: %w", err)
	}
	target := filepath.Join(studyDir, "code", "heuristic.py")
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("install heuristic: %w", err)
	}
	return filepath.ToSlash(filepath.Join("code", "heuristic.py")), nil
}

func writeStudyConfig(path, studyDir, heuristic string) error {
	study := config.Study{StudyDir: studyDir, Heuristic: heuristic}
	data, err := json.MarshalIndent(study, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
