// Package pipeline orchestrates a full radar pass: ingest raw posts,
// classify the new arrivals, then retry previously failed posts whose
// cool-down has elapsed.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/batch"
	"github.com/sells-group/jobradar/internal/model"
	"github.com/sells-group/jobradar/internal/store"
	"github.com/sells-group/jobradar/pkg/anthropic"
)

// maxReasonLen bounds the failure reason persisted per attempt.
const maxReasonLen = 500

// Classifier is the slice of the analyzer the pipeline drives.
type Classifier interface {
	Classify(ctx context.Context, post model.Post) (*model.Verdict, error)
	TakeUsage() anthropic.TokenUsage
	Model() string
}

// Config holds orchestration knobs.
type Config struct {
	// MaxAttempts is the classification budget per post. Once a post has
	// consumed it, the post stops surfacing for retry.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`

	// CoolDown is how long a failed post rests before becoming
	// retry-eligible again.
	CoolDown time.Duration `yaml:"cool_down" mapstructure:"cool_down"`

	// UnclassifiedLimit caps the stored backlog pulled into a pass on
	// top of this run's inserts.
	UnclassifiedLimit int `yaml:"unclassified_limit" mapstructure:"unclassified_limit"`
}

// DefaultConfig returns the orchestration defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		CoolDown:          time.Hour,
		UnclassifiedLimit: 200,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.CoolDown <= 0 {
		c.CoolDown = def.CoolDown
	}
	if c.UnclassifiedLimit <= 0 {
		c.UnclassifiedLimit = def.UnclassifiedLimit
	}
	return c
}

// Pipeline runs radar passes against a store and a classifier.
type Pipeline struct {
	store    store.Store
	analyzer Classifier
	coord    *batch.Coordinator
	cfg      Config
}

// New creates a Pipeline with defaults applied for unset config fields.
func New(st store.Store, analyzer Classifier, coord *batch.Coordinator, cfg Config) *Pipeline {
	return &Pipeline{
		store:    st,
		analyzer: analyzer,
		coord:    coord,
		cfg:      cfg.withDefaults(),
	}
}

// Run executes one pass over the given raw posts. Per-record errors are
// counted in the summary and never abort the pass; the returned error is
// reserved for a panic escaping a phase. The summary is always non-nil.
func (p *Pipeline) Run(ctx context.Context, raw []model.RawPost) (summary *model.RunSummary, err error) {
	summary = &model.RunSummary{Scanned: len(raw)}

	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: run panicked", zap.Any("panic", r))
			err = eris.Errorf("pipeline: run panicked: %v", r)
		}
	}()

	zap.L().Info("pipeline: run starting", zap.Int("scanned", len(raw)))

	runPhase := func(name string, fn func() error) {
		if ctx.Err() != nil {
			summary.Phases = append(summary.Phases, model.PhaseResult{
				Name:   name,
				Status: model.PhaseStatusSkipped,
			})
			zap.L().Info("pipeline: phase skipped", zap.String("phase", name))
			return
		}

		start := time.Now()
		phaseErr := fn()
		duration := time.Since(start).Milliseconds()

		pr := model.PhaseResult{Name: name, Status: model.PhaseStatusComplete, Duration: duration}
		if phaseErr != nil {
			pr.Status = model.PhaseStatusFailed
			pr.Error = phaseErr.Error()
			zap.L().Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(phaseErr),
			)
		} else {
			zap.L().Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}
		summary.Phases = append(summary.Phases, pr)
	}

	var inserted []model.Post
	runPhase("ingest", func() error {
		inserted = p.ingest(ctx, raw, summary)
		return nil
	})

	runPhase("classify_new", func() error {
		backlog, backlogErr := p.store.Unclassified(ctx, p.cfg.UnclassifiedLimit)
		if backlogErr != nil {
			summary.StoreErrors++
			zap.L().Error("pipeline: unclassified backlog read failed", zap.Error(backlogErr))
		}

		posts := dedupeByID(inserted, backlog)
		if len(posts) == 0 {
			return nil
		}

		outcomes := p.coord.Run(ctx, posts, p.analyzer.Classify)
		p.persistOutcomes(ctx, outcomes, summary, false)
		p.logPhaseCost("classify_new")
		return nil
	})

	runPhase("classify_retry", func() error {
		eligible, eligibleErr := p.store.RetryEligible(ctx, p.cfg.MaxAttempts, p.cfg.CoolDown)
		if eligibleErr != nil {
			summary.StoreErrors++
			return eris.Wrap(eligibleErr, "pipeline: retry backlog read")
		}
		if len(eligible) == 0 {
			return nil
		}

		outcomes := p.coord.Run(ctx, eligible, p.analyzer.Classify)
		p.persistOutcomes(ctx, outcomes, summary, true)
		p.logPhaseCost("classify_retry")
		return nil
	})

	zap.L().Info("pipeline: run complete",
		zap.Int("inserted", summary.Inserted),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("invalid", summary.Invalid),
		zap.Int("classified", summary.Classified),
		zap.Int("failed", summary.Failed),
		zap.Int("retried", summary.Retried),
		zap.Int("store_errors", summary.StoreErrors),
	)
	return summary, nil
}

// ingest validates, dedups and inserts the raw posts, returning the rows
// actually inserted this pass. Dedup handles both the fast path (Exists)
// and the insert race (ErrDuplicateURL); either way a repeat URL is a
// skip, never a fault.
func (p *Pipeline) ingest(ctx context.Context, raw []model.RawPost, summary *model.RunSummary) []model.Post {
	inserted := make([]model.Post, 0, len(raw))

	for _, r := range raw {
		if ctx.Err() != nil {
			break
		}

		if err := r.Validate(); err != nil {
			summary.Invalid++
			zap.L().Warn("pipeline: invalid post dropped",
				zap.String("url", r.URL),
				zap.Error(err),
			)
			continue
		}

		exists, err := p.store.Exists(ctx, r.URL)
		if err != nil {
			summary.StoreErrors++
			zap.L().Error("pipeline: exists check failed",
				zap.String("url", r.URL),
				zap.Error(err),
			)
			continue
		}
		if exists {
			summary.Duplicates++
			continue
		}

		post, err := p.store.Insert(ctx, r)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateURL) {
				summary.Duplicates++
				continue
			}
			summary.StoreErrors++
			zap.L().Error("pipeline: insert failed",
				zap.String("url", r.URL),
				zap.Error(err),
			)
			continue
		}

		summary.Inserted++
		inserted = append(inserted, *post)
	}

	return inserted
}

// persistOutcomes records exactly one terminal outcome per post: verdict
// plus a cleared attempt on success, a failed attempt with reason
// otherwise. Outcomes aborted by cancellation are not terminal and leave
// the attempt budget untouched. Writes run on a detached context so a
// cancel arriving mid-pass cannot lose work already done.
func (p *Pipeline) persistOutcomes(ctx context.Context, outcomes []batch.Outcome, summary *model.RunSummary, retryPass bool) {
	writeCtx := context.WithoutCancel(ctx)

	for _, o := range outcomes {
		if o.Err != nil {
			if canceled(o.Err) {
				continue
			}
			summary.Failed++
			if err := p.store.RecordAttempt(writeCtx, o.Post.ID, true, failureReason(o.Err)); err != nil {
				summary.StoreErrors++
				zap.L().Error("pipeline: record attempt failed",
					zap.String("post_id", o.Post.ID),
					zap.Error(err),
				)
			}
			continue
		}

		if err := p.store.SaveVerdict(writeCtx, o.Verdict); err != nil {
			summary.Failed++
			summary.StoreErrors++
			zap.L().Error("pipeline: save verdict failed",
				zap.String("post_id", o.Post.ID),
				zap.Error(err),
			)
			if attemptErr := p.store.RecordAttempt(writeCtx, o.Post.ID, true, failureReason(err)); attemptErr != nil {
				summary.StoreErrors++
				zap.L().Error("pipeline: record attempt failed",
					zap.String("post_id", o.Post.ID),
					zap.Error(attemptErr),
				)
			}
			continue
		}

		if err := p.store.RecordAttempt(writeCtx, o.Post.ID, false, ""); err != nil {
			summary.StoreErrors++
			zap.L().Error("pipeline: record attempt failed",
				zap.String("post_id", o.Post.ID),
				zap.Error(err),
			)
		}

		summary.Classified++
		if retryPass {
			summary.Retried++
		}
	}
}

func (p *Pipeline) logPhaseCost(phase string) {
	usage := p.analyzer.TakeUsage()
	if usage == (anthropic.TokenUsage{}) {
		return
	}
	usage.LogCost(p.analyzer.Model(), phase)
}

// dedupeByID concatenates the lists, keeping the first occurrence of
// each post ID. Freshly inserted posts also appear in the unclassified
// backlog, so the union would double-classify without this.
func dedupeByID(lists ...[]model.Post) []model.Post {
	var total int
	for _, l := range lists {
		total += len(l)
	}

	seen := make(map[string]struct{}, total)
	out := make([]model.Post, 0, total)
	for _, l := range lists {
		for _, p := range l {
			if _, ok := seen[p.ID]; ok {
				continue
			}
			seen[p.ID] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func canceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func failureReason(err error) string {
	msg := err.Error()
	if len(msg) > maxReasonLen {
		msg = msg[:maxReasonLen]
	}
	return msg
}
