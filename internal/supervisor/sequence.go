package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"raysession/internal/logging"
)

var (
	// ErrChildFailed wraps a stage whose child exited non-zero or did not launch.
	ErrChildFailed = errors.New("child terminated abnormally")
	// ErrNoCall marks a stepper that never called back under RequireSync.
	ErrNoCall = errors.New("stepper did not synchronize")
	// ErrStepTimeout marks a stepper that neither called back nor exited in time.
	ErrStepTimeout = errors.New("stepper timed out")
)

// Stage is one step of a Sequence. Either field may be nil. When Child is a
// stepper, Action runs while the stepper is paused at its sync point; when the
// stepper exits without calling back, Action runs after it.
type Stage struct {
	Name   string
	Child  *Spec
	Action func(context.Context) error
}

// StageResult records what happened in one stage.
type StageResult struct {
	Name      string
	Outcome   *Outcome
	ActionRan bool
	Err       error
}

// Sequence runs stages in order and stops at the first failure. Completed
// stages are not rolled back.
type Sequence struct {
	Supervisor *Supervisor
	Stages     []Stage
	// RequireSync treats a stepper that never called back as a failure.
	RequireSync bool
	// StepTimeout bounds the wait for a stepper to call back or exit. Zero
	// waits indefinitely.
	StepTimeout time.Duration
	Logger      *slog.Logger
}

// Run executes the stages. The returned results cover every stage that was
// started; err is the failure that halted the sequence.
func (q *Sequence) Run(ctx context.Context) ([]StageResult, error) {
	logger := q.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	results := make([]StageResult, 0, len(q.Stages))
	for _, stage := range q.Stages {
		res := q.runStage(ctx, stage)
		results = append(results, res)
		if res.Err != nil {
			logging.ErrorWithContext(logger, "sequence halted", "sequence_halted",
				logging.String("stage", stage.Name),
				logging.Error(res.Err),
				logging.String(logging.FieldErrorHint, "inspect the script output above"),
			)
			return results, fmt.Errorf("stage %s: %w", stage.Name, res.Err)
		}
		logger.Debug("stage completed", logging.String("stage", stage.Name))
	}
	return results, nil
}

func (q *Sequence) runStage(ctx context.Context, stage Stage) StageResult {
	res := StageResult{Name: stage.Name}

	if stage.Child == nil {
		res.Err = q.runAction(ctx, stage, &res)
		return res
	}

	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	child := q.Supervisor.Launch(childCtx, *stage.Child)

	if stage.Child.Stepper {
		var timeout <-chan time.Time
		if q.StepTimeout > 0 {
			timer := time.NewTimer(q.StepTimeout)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-child.Acked():
			res.Err = q.runAction(ctx, stage, &res)
			child.Release()
		case <-child.Done():
		case <-timeout:
			cancel()
			out := child.Outcome()
			res.Outcome = &out
			res.Err = ErrStepTimeout
			return res
		case <-ctx.Done():
			out := child.Outcome()
			res.Outcome = &out
			res.Err = ctx.Err()
			return res
		}
	}

	out := child.Outcome()
	res.Outcome = &out
	if res.Err != nil {
		return res
	}
	if out.Abnormal() {
		res.Err = fmt.Errorf("%w: %s %s", ErrChildFailed, stage.Child.Command(), out)
		return res
	}
	if out.Sync == SyncMissing && q.RequireSync {
		res.Err = fmt.Errorf("%w: %s", ErrNoCall, stage.Child.Command())
		return res
	}
	if !res.ActionRan {
		res.Err = q.runAction(ctx, stage, &res)
	}
	return res
}

func (q *Sequence) runAction(ctx context.Context, stage Stage, res *StageResult) error {
	if stage.Action == nil {
		return nil
	}
	res.ActionRan = true
	return stage.Action(ctx)
}
