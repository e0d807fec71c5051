package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/jobradar/internal/model"
)

// ErrRunActive is returned by Start while another run is in flight.
var ErrRunActive = eris.New("pipeline: a run is already active")

// ErrRunNotRunning is returned by Cancel once a run has finished.
var ErrRunNotRunning = eris.New("pipeline: run is not running")

// RunFunc executes one full pass under the run's context.
type RunFunc func(ctx context.Context) (*model.RunSummary, error)

// Run is a handle to one background pass. All state access goes through
// the mutex; Info returns a consistent snapshot.
type Run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu              sync.Mutex
	status          model.RunStatus
	startedAt       time.Time
	finishedAt      *time.Time
	summary         *model.RunSummary
	runErr          string
	cancelRequested bool
}

// ID returns the run's identifier.
func (r *Run) ID() string {
	return r.id
}

// Done is closed when the run goroutine has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Info returns a point-in-time snapshot of the run.
func (r *Run) Info() model.RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := model.RunInfo{
		ID:        r.id,
		Status:    r.status,
		StartedAt: r.startedAt,
		Summary:   r.summary,
		Error:     r.runErr,
	}
	if r.finishedAt != nil {
		t := *r.finishedAt
		info.FinishedAt = &t
	}
	return info
}

// Cancel requests a cooperative stop. The pass stops at the next chunk
// boundary; work already persisted stays persisted.
func (r *Run) Cancel() error {
	r.mu.Lock()
	if r.status != model.RunStatusRunning {
		r.mu.Unlock()
		return ErrRunNotRunning
	}
	r.cancelRequested = true
	r.mu.Unlock()

	r.cancel()
	return nil
}

func (r *Run) finish(ctx context.Context, summary *model.RunSummary, err error) {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.finishedAt = &now
	r.summary = summary

	switch {
	case r.cancelRequested || ctx.Err() != nil:
		r.status = model.RunStatusCanceled
		if err != nil {
			r.runErr = err.Error()
		}
	case err != nil:
		r.status = model.RunStatusFailed
		r.runErr = err.Error()
	default:
		r.status = model.RunStatusCompleted
	}
}

// Runner manages background runs: at most one active at a time, with
// finished handles kept for status queries.
type Runner struct {
	mu     sync.Mutex
	active *Run
	runs   map[string]*Run
}

// NewRunner creates an empty Runner.
func NewRunner() *Runner {
	return &Runner{runs: make(map[string]*Run)}
}

// Start launches fn in the background and returns its handle. Only one
// run may be active; a second Start returns ErrRunActive.
func (rn *Runner) Start(parent context.Context, fn RunFunc) (*Run, error) {
	rn.mu.Lock()
	if rn.active != nil && rn.active.Info().Status == model.RunStatusRunning {
		rn.mu.Unlock()
		return nil, ErrRunActive
	}

	ctx, cancel := context.WithCancel(parent)
	run := &Run{
		id:        uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    model.RunStatusRunning,
		startedAt: time.Now(),
	}
	rn.active = run
	rn.runs[run.id] = run
	rn.mu.Unlock()

	zap.L().Info("pipeline: run started", zap.String("run_id", run.id))

	go func() {
		defer cancel()
		defer close(run.done)

		summary, err := guardedRun(ctx, fn)
		run.finish(ctx, summary, err)

		info := run.Info()
		zap.L().Info("pipeline: run finished",
			zap.String("run_id", run.id),
			zap.String("status", string(info.Status)),
		)
	}()

	return run, nil
}

// guardedRun keeps a panicking RunFunc from killing the process.
func guardedRun(ctx context.Context, fn RunFunc) (summary *model.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("pipeline: run panicked", zap.Any("panic", r))
			err = eris.Errorf("pipeline: run panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Get returns the handle for a run ID.
func (rn *Runner) Get(id string) (*Run, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	run, ok := rn.runs[id]
	return run, ok
}

// Active returns the currently running handle, or nil.
func (rn *Runner) Active() *Run {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	if rn.active != nil && rn.active.Info().Status == model.RunStatusRunning {
		return rn.active
	}
	return nil
}
