package pipeline

import (
	"context"
	"time"
)

// Status is the result of executing one stage or task.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// RunContext is the per-run state shared by every stage. It is created once
// when a run starts; only Runtime is filled in later, by the stage that
// locates or installs the runtime.
type RunContext struct {
	RunID                 string
	HasElevatedPrivileges bool
	StartedAt             time.Time
	Workspace             string
	// Runtime is the resolved runtime executable path, empty until located.
	Runtime string
}

// Precondition decides whether a stage's action should run. When met is
// false, reason explains why; it becomes the skip message for skippable
// stages and the failure for the others.
type Precondition func(ctx context.Context, rc *RunContext) (met bool, reason error)

// Action performs a stage's side effects and returns a message describing
// what was done.
type Action func(ctx context.Context, rc *RunContext) (string, error)

// Resolver picks the concrete stage to run at execution time. The resolved
// stage keeps the ordinal and weight of the stage that resolved it.
type Resolver func(ctx context.Context, rc *RunContext) (*Stage, error)

// Stage is one ordered step of environment setup.
type Stage struct {
	ID           string
	Weight       float64
	Skippable    bool
	Precondition Precondition
	Action       Action
	Resolve      Resolver
}

// Outcome records the result of one stage or task. Outcomes are appended to
// the run history in execution order and never modified.
type Outcome struct {
	StageID  string `json:"stage_id"`
	Ordinal  int    `json:"ordinal"`
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Err      error  `json:"-"`
}

// Weight returns the total weight of stages.
func Weight(stages []*Stage) float64 {
	var total float64
	for _, s := range stages {
		if s != nil {
			total += s.Weight
		}
	}
	return total
}
