// Package daemonctl starts ray-daemon on behalf of ray-control and kills it
// again when it never completes the announce handshake.
package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"raysession/internal/control"
)

// termGrace is how long Terminate waits after SIGTERM before SIGKILL.
const termGrace = 500 * time.Millisecond

// Launcher starts detached daemon processes.
type Launcher struct {
	Executable  string
	SessionRoot string
	ConfigPath  string
}

// Launch starts the daemon with the control URL it must announce to. The
// daemon gets its own session so it outlives the client.
func (l Launcher) Launch(_ context.Context, controlURL string) (control.Process, error) {
	exe, err := ResolveExecutable(l.Executable)
	if err != nil {
		return nil, err
	}

	args := []string{"--control-url", controlURL}
	if root := strings.TrimSpace(l.SessionRoot); root != "" {
		args = append(args, "--session-root", root)
	}
	if cfg := strings.TrimSpace(l.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}

	cmd := exec.Command(exe, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launch daemon: %w", err)
	}

	proc := &Process{cmd: cmd, exited: make(chan struct{})}
	go proc.wait()
	return proc, nil
}

// Process is a daemon started by Launch.
type Process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	mu      sync.Mutex
	waitErr error
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

// PID returns the daemon process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Terminate sends SIGTERM, then SIGKILL if the process lingers.
func (p *Process) Terminate() error {
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal daemon %d: %w", p.PID(), err)
	}
	select {
	case <-p.exited:
		return nil
	case <-time.After(termGrace):
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill daemon %d: %w", p.PID(), err)
	}
	<-p.exited
	return nil
}

// ResolveExecutable finds a companion binary. A bare name is looked up next to
// the running executable first, then on PATH.
func ResolveExecutable(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("resolve executable: name is empty")
	}
	if strings.ContainsRune(name, os.PathSeparator) {
		return name, nil
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), name)
		if info, statErr := os.Stat(candidate); statErr == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve executable %q: %w", name, err)
	}
	return path, nil
}

// Kill signals the daemon with pid to stop, escalating to SIGKILL after the
// grace period. It refuses to signal the calling process.
func Kill(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	if pid == os.Getpid() {
		return fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	deadline := time.Now().Add(termGrace)
	for time.Now().Before(deadline) {
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	return nil
}
