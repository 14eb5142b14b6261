// Package pipeline runs the environment bootstrap: an ordered sequence of
// setup stages followed by the configured task list.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zen-systems/bootstrapper/pkg/privilege"
	"github.com/zen-systems/bootstrapper/pkg/progress"
	"github.com/zen-systems/bootstrapper/pkg/runlog"
	"github.com/zen-systems/bootstrapper/pkg/workspace"
)

// State of a pipeline.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Snapshot describes the pipeline's current position.
type Snapshot struct {
	State State
	// Ordinal is the stage or task being executed while Running, and the
	// failing one once Failed.
	Ordinal int
	StageID string
	Reason  string
}

// RunResult captures the outcome of a finished run.
type RunResult struct {
	RunID    string
	State    State
	Outcomes []Outcome
	Percent  float64
	Err      error
}

// Pipeline orchestrates one bootstrap run at a time.
type Pipeline struct {
	stages        []*Stage
	tasks         []TaskItem
	taskBudget    float64
	sequencer     *Sequencer
	probe         privilege.Probe
	log           *runlog.Log
	tracker       *progress.Tracker
	observer      Observer
	confirm       func(PrivilegeWarning) bool
	workspaceBase string
	now           func() time.Time

	mu       sync.Mutex
	snapshot Snapshot
	history  []Outcome
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTasks sets the task list and the share of progress reserved for it.
// The sequencer runs the tasks once every stage has succeeded.
func WithTasks(seq *Sequencer, tasks []TaskItem, budget float64) Option {
	return func(p *Pipeline) {
		p.sequencer = seq
		p.tasks = append([]TaskItem(nil), tasks...)
		p.taskBudget = budget
	}
}

// WithProbe sets the privilege probe. Defaults to the host probe.
func WithProbe(probe privilege.Probe) Option {
	return func(p *Pipeline) {
		p.probe = probe
	}
}

// WithLog sets the stage log.
func WithLog(l *runlog.Log) Option {
	return func(p *Pipeline) {
		p.log = l
	}
}

// WithObserver subscribes an observer to log, progress, and completion events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// WithConfirm installs the decision point for the privilege warning. When
// fn returns false the run is abandoned before any stage executes.
func WithConfirm(fn func(PrivilegeWarning) bool) Option {
	return func(p *Pipeline) {
		p.confirm = fn
	}
}

// WithWorkspaceBase sets where the per-run temporary workspace is created.
func WithWorkspaceBase(dir string) Option {
	return func(p *Pipeline) {
		p.workspaceBase = dir
	}
}

// New creates a pipeline from an ordered list of stages.
func New(stages []*Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline must define at least one stage")
	}
	seen := make(map[string]struct{})
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("stage %d is nil", i)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("stage %d has no identifier", i)
		}
		if s.Action == nil && s.Resolve == nil {
			return nil, fmt.Errorf("stage %s has no action", s.ID)
		}
		if s.Weight < 0 {
			return nil, fmt.Errorf("stage %s has negative weight", s.ID)
		}
		if _, ok := seen[s.ID]; ok {
			return nil, fmt.Errorf("duplicate stage identifier: %s", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	p := &Pipeline{
		stages:  stages,
		probe:   privilege.NewHostProbe(),
		tracker: progress.NewTracker(0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(p.tasks) > 0 && p.sequencer == nil {
		return nil, fmt.Errorf("tasks configured without a sequencer")
	}
	if p.log == nil {
		p.log = runlog.New(io.Discard)
	}
	if p.sequencer != nil {
		p.sequencer.Log = p.log
		p.sequencer.Progress = p.tracker
	}
	return p, nil
}

// Snapshot returns the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// History returns the outcomes recorded so far in the current or last run.
func (p *Pipeline) History() []Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Outcome(nil), p.history...)
}

// Percent returns the current progress.
func (p *Pipeline) Percent() float64 {
	return p.tracker.Percent()
}

// Run executes a full run on the calling goroutine. It returns
// ErrAlreadyRunning without touching any state when a run is in progress.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	return p.execute(ctx)
}

// Start launches a run on a dedicated goroutine and returns a channel that
// receives its result. Calls made while a run is in progress return
// ErrAlreadyRunning.
func (p *Pipeline) Start(ctx context.Context) (<-chan *RunResult, error) {
	if err := p.begin(); err != nil {
		return nil, err
	}
	done := make(chan *RunResult, 1)
	go func() {
		defer close(done)
		result, err := p.execute(ctx)
		if result == nil {
			result = &RunResult{State: p.Snapshot().State, Err: err}
		}
		done <- result
	}()
	return done, nil
}

func (p *Pipeline) begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshot.State == StateRunning {
		return ErrAlreadyRunning
	}
	p.snapshot = Snapshot{State: StateRunning}
	return nil
}

func (p *Pipeline) execute(ctx context.Context) (*RunResult, error) {
	runID := uuid.NewString()
	elevated := p.probe.HasElevatedPrivileges()

	p.subscribe()
	defer p.unsubscribe()

	if !elevated {
		warning := PrivilegeWarning{Message: "Warning: Running without administrator privileges. Some operations may fail."}
		p.log.Warn(warning.Message)
		if p.confirm != nil && !p.confirm(warning) {
			p.log.Record("Setup cancelled.")
			p.mu.Lock()
			p.snapshot = Snapshot{State: StateIdle}
			p.mu.Unlock()
			if p.observer != nil {
				p.observer.OnFinished(false, ErrCancelled)
			}
			return nil, ErrCancelled
		}
	}

	total := Weight(p.stages)
	if len(p.tasks) > 0 {
		total += p.taskBudget
	}
	p.tracker.Reset(total)
	p.mu.Lock()
	p.history = nil
	p.mu.Unlock()

	ws, err := workspace.NewTemp(p.workspaceBase, "bootstrapper-*")
	if err != nil {
		outcome := failedOutcome("workspace", 0, err)
		p.record(outcome)
		return p.fail(runID, outcome)
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			p.log.Warn(fmt.Sprintf("Failed to remove workspace %s: %v", ws.Dir(), err))
		}
	}()

	rc := &RunContext{
		RunID:                 runID,
		HasElevatedPrivileges: elevated,
		StartedAt:             p.now(),
		Workspace:             ws.Dir(),
	}
	p.log.Recordf("Starting bootstrap run %s", runID)

	for i, stage := range p.stages {
		p.setOrdinal(i, stage.ID)
		outcome := p.runStage(ctx, i, stage, rc)
		p.record(outcome)
		if outcome.Status == StatusFailed {
			return p.fail(runID, outcome)
		}
		p.tracker.Advance(stage.Weight)
	}

	if len(p.tasks) > 0 {
		base := len(p.stages)
		p.setOrdinal(base, p.tasks[0].Path)
		interpreter := p.sequencer.Interpreter
		if interpreter != "" && rc.Runtime != "" {
			interpreter = rc.Runtime
		}
		for _, outcome := range p.sequencer.run(ctx, interpreter, p.tasks, p.taskBudget) {
			outcome.Ordinal += base
			p.record(outcome)
			if outcome.Status == StatusFailed {
				return p.fail(runID, outcome)
			}
		}
	}

	p.tracker.Complete()
	p.mu.Lock()
	p.snapshot = Snapshot{State: StateCompleted, Ordinal: len(p.stages) + len(p.tasks)}
	p.mu.Unlock()

	p.log.Record("All processes completed successfully!")
	if p.observer != nil {
		p.observer.OnFinished(true, nil)
	}
	return p.result(runID, StateCompleted, nil), nil
}

// runStage evaluates one stage following the precondition, skip, and
// action rules.
func (p *Pipeline) runStage(ctx context.Context, ordinal int, stage *Stage, rc *RunContext) Outcome {
	concrete := stage
	if stage.Resolve != nil {
		resolved, err := stage.Resolve(ctx, rc)
		if err != nil {
			return failedOutcome(stage.ID, ordinal, err)
		}
		if resolved == nil || resolved.Action == nil {
			return failedOutcome(stage.ID, ordinal, fmt.Errorf("stage %s resolved to nothing", stage.ID))
		}
		concrete = resolved
		p.setOrdinal(ordinal, concrete.ID)
	}

	if concrete.Precondition != nil {
		met, reason := concrete.Precondition(ctx, rc)
		if !met {
			if concrete.Skippable {
				msg := fmt.Sprintf("Skipping %s", concrete.ID)
				if reason != nil {
					msg = fmt.Sprintf("Skipping %s: %v", concrete.ID, reason)
				}
				p.log.Record(msg)
				return Outcome{StageID: concrete.ID, Ordinal: ordinal, Status: StatusSkipped, Message: msg}
			}
			if reason == nil {
				reason = &PreconditionError{StageID: concrete.ID}
			}
			return failedOutcome(concrete.ID, ordinal, reason)
		}
	}

	if err := ctx.Err(); err != nil {
		return failedOutcome(concrete.ID, ordinal, err)
	}

	msg, err := concrete.Action(ctx, rc)
	if err != nil {
		return failedOutcome(concrete.ID, ordinal, err)
	}
	if msg != "" {
		p.log.Record(msg)
	}
	return Outcome{StageID: concrete.ID, Ordinal: ordinal, Status: StatusSucceeded, Message: msg}
}

func failedOutcome(id string, ordinal int, err error) Outcome {
	return Outcome{
		StageID:  id,
		Ordinal:  ordinal,
		Status:   StatusFailed,
		Message:  err.Error(),
		ExitCode: exitCodeOf(err),
		Err:      err,
	}
}

func (p *Pipeline) fail(runID string, outcome Outcome) (*RunResult, error) {
	stageErr := &StageError{
		StageID: outcome.StageID,
		Ordinal: outcome.Ordinal,
		Reason:  outcome.Message,
		Err:     outcome.Err,
	}

	p.mu.Lock()
	p.snapshot = Snapshot{
		State:   StateFailed,
		Ordinal: outcome.Ordinal,
		StageID: outcome.StageID,
		Reason:  outcome.Message,
	}
	p.mu.Unlock()

	p.log.Error(fmt.Sprintf("Error during setup: %s", outcome.Message))
	if p.observer != nil {
		p.observer.OnFinished(false, stageErr)
	}
	return p.result(runID, StateFailed, stageErr), stageErr
}

func (p *Pipeline) result(runID string, state State, err error) *RunResult {
	return &RunResult{
		RunID:    runID,
		State:    state,
		Outcomes: p.History(),
		Percent:  p.tracker.Percent(),
		Err:      err,
	}
}

func (p *Pipeline) record(outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history = append(p.history, outcome)
}

func (p *Pipeline) setOrdinal(ordinal int, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot.Ordinal = ordinal
	p.snapshot.StageID = id
}

func (p *Pipeline) subscribe() {
	if p.observer == nil {
		return
	}
	obs := p.observer
	p.log.Subscribe(func(e runlog.Entry) { obs.OnLog(e.Message) })
	p.tracker.OnChange(obs.OnProgress)
}

func (p *Pipeline) unsubscribe() {
	if p.observer == nil {
		return
	}
	p.log.Subscribe(nil)
	p.tracker.OnChange(nil)
}

// IsCancelled reports whether err means the operator declined to continue.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

