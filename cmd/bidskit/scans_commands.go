package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"bidskit/internal/config"
	"bidskit/internal/scanindex"
	"bidskit/internal/session"
)

func newScansCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scans",
		Short: "Show the session's scan manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "scans",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					index, err := scanindex.Open(sess, logger)
					if err != nil {
						return err
					}
					if index.Len() == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No scans recorded for", sess.Prefix)
						return nil
					}

					headers := index.Columns()
					rows := make([][]string, 0, index.Len())
					for _, filename := range index.Filenames() {
						values, _ := index.Get(filename)
						row := make([]string, len(headers))
						for i, col := range headers {
							row[i] = values[col]
						}
						rows = append(rows, row)
					}
					fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows))
					return nil
				})
		},
	}
}

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var addUntrackedFlag bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the scan manifest with the files on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd.Context(), "sync",
				func(runCtx context.Context, sess *session.Session, study *config.Study, cfg *config.Config, logger *slog.Logger) error {
					index, err := scanindex.Open(sess, logger)
					if err != nil {
						return err
					}
					result, err := index.Reconcile(true, addUntrackedFlag)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale rows, added %d untracked files\n",
						len(result.Removed), len(result.Added))
					return nil
				})
		},
	}

	cmd.Flags().BoolVar(&addUntrackedFlag, "add-untracked", false, "Append manifest rows for unknown image files")
	return cmd
}
