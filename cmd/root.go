package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/config"
)

// cfg is loaded once by the root command and shared by every
// subcommand.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "jobradar",
	Short: "Reddit job post radar",
	Long: "Scans job subreddits for fresh posts, classifies them with Claude, " +
		"and serves the verdicts over a query API.",
	PersistentPreRunE: loadConfigAndLogger,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func loadConfigAndLogger(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.InitLogger(c.Log); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	cfg = c
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
