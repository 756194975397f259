package supervisor

import (
	"fmt"
	"path/filepath"
	"sync"
)

// LaunchErrorCode is reported when the OS could not start the executable.
// Real exit statuses are 0..255 or -1 for signals, so it never collides.
const LaunchErrorCode = 101

// Environment variables handed to stepper children.
const (
	EnvStepperToken = "RAY_STEPPER_TOKEN"
	EnvControlPort  = "RAY_CONTROL_PORT"
	EnvStepperPhase = "RAY_STEPPER_PHASE"
)

// State is a child lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateFinished
	StateLaunchError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateLaunchError:
		return "launch_error"
	default:
		return "not_started"
	}
}

// SyncStatus reports how a stepper handled its synchronization point.
type SyncStatus int

const (
	// SyncNone applies to children that are not steppers.
	SyncNone SyncStatus = iota
	// SyncAcknowledged means the stepper called back before exiting.
	SyncAcknowledged
	// SyncMissing means the stepper exited without calling back.
	SyncMissing
)

func (s SyncStatus) String() string {
	switch s {
	case SyncAcknowledged:
		return "acknowledged"
	case SyncMissing:
		return "no-call"
	default:
		return "none"
	}
}

// Spec describes a process to launch.
type Spec struct {
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Stepper    bool
	// Phase is an opaque label for stepper children, passed through untouched.
	Phase string
}

// Command returns the executable base name used to tag output.
func (s Spec) Command() string {
	return filepath.Base(s.Executable)
}

// Outcome is the terminal report of a child.
type Outcome struct {
	State    State
	ExitCode int
	Sync     SyncStatus
	Err      error
}

// Abnormal reports a launch error or a non-zero exit.
func (o Outcome) Abnormal() bool {
	return o.State == StateLaunchError || (o.State == StateFinished && o.ExitCode != 0)
}

func (o Outcome) String() string {
	switch o.State {
	case StateLaunchError:
		return fmt.Sprintf("launch error (%d): %v", o.ExitCode, o.Err)
	case StateFinished:
		return fmt.Sprintf("exit %d, sync %s", o.ExitCode, o.Sync)
	default:
		return o.State.String()
	}
}

// Child is one supervised process.
type Child struct {
	spec  Spec
	token string

	mu           sync.Mutex
	state        State
	acknowledged bool
	release      func()
	outcome      Outcome

	acked chan struct{}
	done  chan struct{}
}

func newChild(spec Spec, token string) *Child {
	return &Child{
		spec:  spec,
		token: token,
		acked: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Spec returns the launch description.
func (c *Child) Spec() Spec { return c.spec }

// Token identifies a stepper in run_step callbacks. Empty for plain children.
func (c *Child) Token() string { return c.token }

// State returns the current lifecycle state.
func (c *Child) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Acknowledged reports whether the stepper has called back.
func (c *Child) Acknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acknowledged
}

// Acked is closed on the first acknowledgement.
func (c *Child) Acked() <-chan struct{} { return c.acked }

// Done is closed once the child has finished or failed to launch.
func (c *Child) Done() <-chan struct{} { return c.done }

// Outcome blocks until the child is done and returns its report.
func (c *Child) Outcome() Outcome {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Release unblocks an acknowledged stepper. It is a no-op when there is
// nothing to release and runs the release callback at most once.
func (c *Child) Release() {
	c.mu.Lock()
	release := c.release
	c.release = nil
	c.mu.Unlock()
	if release != nil {
		release()
	}
}

func (c *Child) setRunning() {
	c.mu.Lock()
	c.state = StateRunning
	c.mu.Unlock()
}

func (c *Child) acknowledge(release func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.spec.Stepper || c.state != StateRunning || c.acknowledged {
		return false
	}
	c.acknowledged = true
	c.release = release
	close(c.acked)
	return true
}

func (c *Child) finish(out Outcome) {
	c.mu.Lock()
	if out.State == StateFinished {
		switch {
		case !c.spec.Stepper:
			out.Sync = SyncNone
		case c.acknowledged:
			out.Sync = SyncAcknowledged
		default:
			out.Sync = SyncMissing
		}
	}
	c.state = out.State
	c.outcome = out
	c.release = nil
	c.mu.Unlock()
	close(c.done)
}
