package supervisor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"raysession/internal/logging"
)

// Supervisor owns the daemon's child processes.
type Supervisor struct {
	logger      *slog.Logger
	controlPort int

	mu       sync.Mutex
	steppers map[string]*Child
	wg       sync.WaitGroup
}

// New returns a supervisor advertising controlPort to stepper children.
func New(logger *slog.Logger, controlPort int) *Supervisor {
	return &Supervisor{
		logger:      logging.NewComponentLogger(logger, "supervisor"),
		controlPort: controlPort,
		steppers:    make(map[string]*Child),
	}
}

// Launch starts spec and returns immediately. The child is killed if ctx is
// cancelled while it runs.
func (s *Supervisor) Launch(ctx context.Context, spec Spec) *Child {
	token := ""
	if spec.Stepper {
		token = uuid.NewString()
	}
	child := newChild(spec, token)
	logger := s.logger.With(logging.String(logging.FieldCommand, spec.Command()))
	if spec.Stepper {
		logger = logger.With(logging.String(logging.FieldPhase, spec.Phase))
	}

	cmd := exec.CommandContext(ctx, spec.Executable, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	if spec.Stepper {
		cmd.Env = append(cmd.Env,
			EnvStepperToken+"="+token,
			EnvControlPort+"="+strconv.Itoa(s.controlPort),
			EnvStepperPhase+"="+spec.Phase,
		)
	}

	// Reaping does not wait for the readers; descendants may keep the pipes open.
	outR, outW, err := os.Pipe()
	if err == nil {
		var errR, errW *os.File
		errR, errW, err = os.Pipe()
		if err != nil {
			closeAll(outR, outW)
		} else {
			cmd.Stdout = outW
			cmd.Stderr = errW
			// Registered before Start so an immediate callback finds the token.
			s.track(child)
			child.setRunning()
			err = cmd.Start()
			closeAll(outW, errW)
			if err == nil {
				logger.Debug("child started",
					logging.String(logging.FieldEventType, "child_started"),
					logging.Int(logging.FieldPID, cmd.Process.Pid),
				)
				go streamLines(outR, logger, "stdout")
				go streamLines(errR, logger, "stderr")
				s.wg.Add(1)
				go s.wait(cmd, child, logger)
				return child
			}
			closeAll(outR, errR)
			s.untrack(child)
		}
	}

	logging.ErrorWithContext(logger, "child failed to launch", "child_launch_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check that the script exists and is executable"),
	)
	child.finish(Outcome{State: StateLaunchError, ExitCode: LaunchErrorCode, Err: err})
	return child
}

func (s *Supervisor) wait(cmd *exec.Cmd, child *Child, logger *slog.Logger) {
	defer s.wg.Done()

	out := Outcome{State: StateFinished}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
			out.Err = err
		}
	}
	s.untrack(child)
	child.finish(out)

	final := child.Outcome()
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "child_finished"),
		logging.Int("exit_code", final.ExitCode),
	}
	if child.spec.Stepper {
		attrs = append(attrs, logging.String("sync", final.Sync.String()))
	}
	if final.Sync == SyncMissing {
		logging.WarnWithContext(logger, "stepper exited without calling run_step", "stepper_no_call",
			append(attrs,
				logging.String(logging.FieldImpact, "synchronized action was not wrapped by the script"),
				logging.String(logging.FieldErrorHint, "call ray-control run_step from the script"),
			)...)
		return
	}
	logger.Info("child finished", logging.Args(attrs...)...)
}

// Acknowledge records a run_step callback from the stepper holding token.
// release is invoked once the synchronized action has run. It reports false
// for unknown tokens and repeated callbacks.
func (s *Supervisor) Acknowledge(token string, release func()) (*Child, bool) {
	s.mu.Lock()
	child, ok := s.steppers[token]
	s.mu.Unlock()
	if !ok || !child.acknowledge(release) {
		return nil, false
	}
	s.logger.Debug("stepper acknowledged",
		logging.String(logging.FieldCommand, child.spec.Command()),
		logging.String(logging.FieldPhase, child.spec.Phase),
	)
	return child, true
}

// Wait blocks until every launched child has been reaped.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

func (s *Supervisor) track(child *Child) {
	if child.token == "" {
		return
	}
	s.mu.Lock()
	s.steppers[child.token] = child
	s.mu.Unlock()
}

func (s *Supervisor) untrack(child *Child) {
	if child.token == "" {
		return
	}
	s.mu.Lock()
	delete(s.steppers, child.token)
	s.mu.Unlock()
}

// maxLogLine caps a single logged output line; the rest of the line is
// still read and dropped.
const maxLogLine = 64 * 1024

// streamLines logs every line read from r until EOF. Overlong lines are
// truncated rather than stalling the reader.
func streamLines(r io.ReadCloser, logger *slog.Logger, stream string) {
	defer r.Close()
	br := bufio.NewReader(r)
	var line []byte
	truncated := false
	emit := func() {
		msg := string(line)
		if truncated {
			logger.Info(msg, logging.String("stream", stream), logging.Bool("truncated", true))
		} else {
			logger.Info(msg, logging.String("stream", stream))
		}
		line = line[:0]
		truncated = false
	}
	for {
		frag, isPrefix, err := br.ReadLine()
		if room := maxLogLine - len(line); len(frag) > room {
			frag = frag[:room]
			truncated = true
		}
		line = append(line, frag...)
		if err != nil {
			if len(line) > 0 {
				emit()
			}
			return
		}
		if !isPrefix {
			emit()
		}
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
