package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/bootstrapper/pkg/command"
	"github.com/zen-systems/bootstrapper/pkg/progress"
	"github.com/zen-systems/bootstrapper/pkg/runlog"
)

// TaskItem is one follow-up executable run after environment setup.
type TaskItem struct {
	Path    string
	Ordinal int
}

// NewTaskItems numbers paths in order.
func NewTaskItems(paths []string) []TaskItem {
	items := make([]TaskItem, 0, len(paths))
	for i, p := range paths {
		items = append(items, TaskItem{Path: p, Ordinal: i})
	}
	return items
}

// Sequencer runs task items one after another.
type Sequencer struct {
	Runner command.Runner
	// Interpreter, when set, runs each task as "<Interpreter> <path>". Inside
	// a pipeline run the runtime located during setup takes its place.
	Interpreter string
	// Dir resolves relative task paths.
	Dir      string
	Timeout  time.Duration
	Log      *runlog.Log
	Progress *progress.Tracker
}

// RunAll executes tasks in order and splits budget evenly between them. A
// missing task is skipped; a failed task stops the sequence and is the last
// outcome returned.
func (s *Sequencer) RunAll(ctx context.Context, tasks []TaskItem, budget float64) []Outcome {
	return s.run(ctx, s.Interpreter, tasks, budget)
}

func (s *Sequencer) run(ctx context.Context, interpreter string, tasks []TaskItem, budget float64) []Outcome {
	if len(tasks) == 0 {
		return nil
	}
	share := budget / float64(len(tasks))

	outcomes := make([]Outcome, 0, len(tasks))
	for _, task := range tasks {
		outcome := s.runTask(ctx, interpreter, task)
		outcomes = append(outcomes, outcome)
		if outcome.Status == StatusFailed {
			break
		}
		if s.Progress != nil {
			s.Progress.Advance(share)
		}
	}
	return outcomes
}

func (s *Sequencer) runTask(ctx context.Context, interpreter string, task TaskItem) Outcome {
	outcome := Outcome{StageID: task.Path, Ordinal: task.Ordinal}
	path := s.resolve(task.Path)
	s.logf(runlog.LevelInfo, "Executing %s...", task.Path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			outcome.Status = StatusSkipped
			outcome.Message = fmt.Sprintf("Warning: Script %s not found", task.Path)
			outcome.Err = &command.NotFoundError{Name: path, Err: err}
			s.logf(runlog.LevelWarn, "%s", outcome.Message)
			return outcome
		}
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("stat %s: %w", path, err)
		outcome.Message = outcome.Err.Error()
		s.logf(runlog.LevelError, "Error executing %s: %v", task.Path, outcome.Err)
		return outcome
	}

	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	executable, args := path, []string(nil)
	if interpreter != "" {
		executable, args = interpreter, []string{path}
	}

	if _, err := s.Runner.Run(ctx, executable, args, s.Timeout); err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.Message = err.Error()
		outcome.ExitCode = exitCodeOf(err)
		s.logf(runlog.LevelError, "Error executing %s: %v", task.Path, err)
		return outcome
	}

	outcome.Status = StatusSucceeded
	outcome.Message = fmt.Sprintf("Successfully executed %s", task.Path)
	zero := 0
	outcome.ExitCode = &zero
	s.logf(runlog.LevelInfo, "%s", outcome.Message)
	return outcome
}

func (s *Sequencer) resolve(p string) string {
	if s.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(s.Dir, p)
}

func (s *Sequencer) logf(level runlog.Level, format string, args ...any) {
	if s.Log == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	switch level {
	case runlog.LevelWarn:
		s.Log.Warn(msg)
	case runlog.LevelError:
		s.Log.Error(msg)
	default:
		s.Log.Record(msg)
	}
}
