package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runSubreddits []string
	runLimit      int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scan pass: fetch, classify, persist",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initRadar(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		subreddits := cfg.Source.Subreddits
		if len(runSubreddits) > 0 {
			subreddits = runSubreddits
		}
		limit := cfg.Source.PerSubredditLimit
		if runLimit > 0 {
			limit = runLimit
		}

		raw := env.Source.FetchAll(ctx, subreddits, cfg.Source.Keywords, limit)
		zap.L().Info("scan fetched",
			zap.Int("subreddits", len(subreddits)),
			zap.Int("posts", len(raw)),
		)

		summary, err := env.Pipeline.Run(ctx, raw)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("scan complete",
			zap.Int("scanned", summary.Scanned),
			zap.Int("inserted", summary.Inserted),
			zap.Int("classified", summary.Classified),
			zap.Int("failed", summary.Failed),
			zap.Int("retried", summary.Retried),
		)

		// Print summary JSON to stdout
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runSubreddits, "subreddits", nil, "subreddits to scan (default from config)")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "posts per subreddit (default from config)")
	rootCmd.AddCommand(runCmd)
}
