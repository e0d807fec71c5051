package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/jobradar/internal/batch"
	"github.com/sells-group/jobradar/internal/classify"
	"github.com/sells-group/jobradar/internal/pipeline"
	"github.com/sells-group/jobradar/internal/source"
	"github.com/sells-group/jobradar/internal/store"
	anthropicpkg "github.com/sells-group/jobradar/pkg/anthropic"
)

// radarEnv holds the initialized store, source client, and pipeline
// needed by the run and serve commands.
type radarEnv struct {
	Store    store.Store
	Source   *source.Client
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (re *radarEnv) Close() {
	if re.Store != nil {
		_ = re.Store.Close()
	}
}

// initStore opens the configured database backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.Path
		if dsn == "" {
			dsn = "jobradar.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore validates config for read-only commands, opens the store,
// and runs migrations. Callers should defer st.Close().
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("query"); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initRadar sets up the store, source and classification clients, and
// builds the Pipeline. Callers should defer env.Close().
func initRadar(ctx context.Context, mode string) (*radarEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	// Start from package defaults so knobs the app config does not
	// expose (jitter, listing retries, the inter-subreddit pause) keep
	// their intended values.
	clsCfg := classify.DefaultConfig()
	clsCfg.Model = cfg.Anthropic.Model
	clsCfg.MaxTokens = cfg.Anthropic.MaxTokens
	clsCfg.Temperature = cfg.Anthropic.Temperature
	clsCfg.MaxRetries = cfg.Anthropic.MaxRetries
	clsCfg.BaseDelay = time.Duration(cfg.Anthropic.BaseDelaySecs) * time.Second
	clsCfg.MaxBodyChars = cfg.Anthropic.MaxBodyChars

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
	analyzer := classify.New(anthropicClient, clsCfg)

	coord := batch.New(batch.Config{
		Concurrency: cfg.Batch.Concurrency,
		ChunkSize:   cfg.Batch.ChunkSize,
		ChunkPause:  time.Duration(cfg.Batch.ChunkPauseSecs) * time.Second,
	})

	srcCfg := source.DefaultConfig()
	srcCfg.UserAgent = cfg.Source.UserAgent
	srcCfg.RequestsPerSec = cfg.Source.RequestsPerSec
	srcCfg.Timeout = time.Duration(cfg.Source.TimeoutSecs) * time.Second
	src := source.New(srcCfg)

	p := pipeline.New(st, analyzer, coord, pipeline.Config{
		MaxAttempts:       cfg.Pipeline.MaxAttempts,
		CoolDown:          time.Duration(cfg.Pipeline.CoolDownMins) * time.Minute,
		UnclassifiedLimit: cfg.Pipeline.UnclassifiedLimit,
	})

	return &radarEnv{
		Store:    st,
		Source:   src,
		Pipeline: p,
	}, nil
}
