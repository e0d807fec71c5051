package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// PhaseStatus represents the outcome of a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult records one phase of a run for observability.
type PhaseResult struct {
	Name     string      `json:"name"`
	Status   PhaseStatus `json:"status"`
	Duration int64       `json:"duration_ms"`
	Error    string      `json:"error,omitempty"`
}

// RunSummary tallies a complete pipeline run. Every persisted write is
// final regardless of later failures, so counts only ever grow during
// a run.
type RunSummary struct {
	Scanned     int           `json:"scanned"`
	Invalid     int           `json:"invalid"`
	Duplicates  int           `json:"duplicates"`
	Inserted    int           `json:"inserted"`
	Classified  int           `json:"classified"`
	Failed      int           `json:"failed"`
	Retried     int           `json:"retried"`
	StoreErrors int           `json:"store_errors"`
	Phases      []PhaseResult `json:"phases,omitempty"`
}

// RunInfo is a point-in-time snapshot of a managed run handle.
type RunInfo struct {
	ID         string      `json:"id"`
	Status     RunStatus   `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Summary    *RunSummary `json:"summary,omitempty"`
	Error      string      `json:"error,omitempty"`
}
