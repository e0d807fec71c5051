// Package batch fans classification work out to a bounded worker pool,
// processing posts in fixed-size chunks with a pause between chunks so a
// large backlog cannot saturate the API.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/jobradar/internal/model"
)

// ClassifyFunc produces a verdict for a single post.
type ClassifyFunc func(ctx context.Context, post model.Post) (*model.Verdict, error)

// Outcome is the terminal result of one post in a run. Exactly one of
// Verdict or Err is set.
type Outcome struct {
	Post    model.Post
	Verdict *model.Verdict
	Err     error
}

// Config holds coordinator tuning knobs.
type Config struct {
	// Concurrency caps in-flight classifications within a chunk.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`

	// ChunkSize is the number of posts processed between pauses.
	ChunkSize int `yaml:"chunk_size" mapstructure:"chunk_size"`

	// ChunkPause is the delay between consecutive chunks.
	ChunkPause time.Duration `yaml:"chunk_pause" mapstructure:"chunk_pause"`
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 10,
		ChunkSize:   20,
		ChunkPause:  2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkPause < 0 {
		c.ChunkPause = 0
	}
	return c
}

// Coordinator runs classification over a set of posts.
type Coordinator struct {
	cfg Config
}

// New creates a Coordinator with defaults applied for unset config fields.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg.withDefaults()}
}

// Run classifies every post and returns one outcome per post processed.
// A worker panic is contained as that post's failure outcome. Context
// cancellation stops the run at the next chunk boundary; posts in chunks
// never started get no outcome.
func (c *Coordinator) Run(ctx context.Context, posts []model.Post, fn ClassifyFunc) []Outcome {
	if len(posts) == 0 {
		return nil
	}

	chunks := chunkPosts(posts, c.cfg.ChunkSize)
	outcomes := make([]Outcome, 0, len(posts))

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			zap.L().Info("batch: run canceled",
				zap.Int("chunks_done", i),
				zap.Int("chunks_total", len(chunks)),
			)
			break
		}

		results := c.runChunk(ctx, chunk, fn)
		outcomes = append(outcomes, results...)

		var succeeded, failed int
		for _, o := range results {
			if o.Err != nil {
				failed++
			} else {
				succeeded++
			}
		}
		zap.L().Info("batch: chunk complete",
			zap.Int("chunk", i+1),
			zap.Int("chunks_total", len(chunks)),
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed),
		)

		if i < len(chunks)-1 && c.cfg.ChunkPause > 0 {
			timer := time.NewTimer(c.cfg.ChunkPause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return outcomes
			case <-timer.C:
			}
		}
	}

	return outcomes
}

func (c *Coordinator) runChunk(ctx context.Context, chunk []model.Post, fn ClassifyFunc) []Outcome {
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	var mu sync.Mutex
	results := make([]Outcome, 0, len(chunk))

	for _, post := range chunk {
		g.Go(func() error {
			out := classifyOne(gCtx, post, fn)
			mu.Lock()
			results = append(results, out)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// classifyOne invokes fn with panic containment so one bad post cannot
// take down the whole run.
func classifyOne(ctx context.Context, post model.Post, fn ClassifyFunc) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("batch: classification panicked",
				zap.String("post_id", post.ID),
				zap.Any("panic", r),
			)
			out = Outcome{Post: post, Err: eris.Errorf("batch: classification panicked: %v", r)}
		}
	}()

	v, err := fn(ctx, post)
	if err != nil {
		return Outcome{Post: post, Err: err}
	}
	return Outcome{Post: post, Verdict: v}
}

func chunkPosts(posts []model.Post, size int) [][]model.Post {
	chunks := make([][]model.Post, 0, (len(posts)+size-1)/size)
	for start := 0; start < len(posts); start += size {
		end := start + size
		if end > len(posts) {
			end = len(posts)
		}
		chunks = append(chunks, posts[start:end])
	}
	return chunks
}
