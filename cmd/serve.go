package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/pipeline"
	"github.com/sells-group/jobradar/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP query and trigger API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := initRadar(ctx, "serve")
	if err != nil {
		return err
	}
	defer env.Close()

	runner := pipeline.NewRunner()
	trigger := func(runCtx context.Context) (*model.RunSummary, error) {
		raw := env.Source.FetchAll(runCtx, cfg.Source.Subreddits, cfg.Source.Keywords, cfg.Source.PerSubredditLimit)
		return env.Pipeline.Run(runCtx, raw)
	}

	api := server.New(ctx, env.Store, runner, trigger, server.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RetentionDays:  cfg.Retention.Days,
	})

	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("stopping http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("http server listening", zap.Int("port", port))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "serve: listen")
	}

	// Let an active run notice the cancellation before the store
	// closes under it.
	if run := runner.Active(); run != nil {
		_ = run.Cancel()
		select {
		case <-run.Done():
		case <-time.After(5 * time.Second):
		}
	}
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
