package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandevgo/percept/internal/service/maintenance"
)

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Run one relationship decay sweep now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := maintenance.New(a.settings, a.graph, a.conversations).RunDecay(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "decayed %d edges, deleted %d, %d remain\n", res.Decayed, res.Deleted, a.graph.Len())
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete conversations older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, flushLog := setupLogger(cmd.Context())
		defer flushLog()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		days := a.settings.Current().Retention.Days
		if days == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "retention is disabled (retention.days = 0)")
			return nil
		}

		n, err := maintenance.New(a.settings, a.graph, a.conversations).RunPurge(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d conversations older than %d days\n", n, days)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(decayCmd, purgeCmd)
}
