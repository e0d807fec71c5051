package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var purgeDays int

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete posts older than the retention window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days := purgeDays
		if days == 0 {
			days = cfg.Retention.Days
		}
		if days < 1 {
			return eris.Errorf("invalid retention: %d days", days)
		}

		before, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats before purge")
		}

		deleted, err := st.PurgeOlderThan(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return eris.Wrap(err, "purge")
		}

		zap.L().Info("purge complete",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", days),
		)

		after, err := st.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "stats after purge")
		}

		fmt.Printf("%d posts before, deleted %d older than %d days, %d remain\n",
			before.TotalPosts, deleted, days, after.TotalPosts)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 0, "retention window in days (default from config)")
	rootCmd.AddCommand(purgeCmd)
}
