package supervisor_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"raysession/internal/supervisor"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func script(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func waitOutcome(t *testing.T, child *supervisor.Child) supervisor.Outcome {
	t.Helper()
	select {
	case <-child.Done():
		return child.Outcome()
	case <-time.After(5 * time.Second):
		t.Fatal("child did not finish")
		return supervisor.Outcome{}
	}
}

func TestStepperWithoutCallIsNoCall(t *testing.T) {
	sup := supervisor.New(nil, 16187)
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "save.sh", "exit 0"),
		Stepper:    true,
		Phase:      "save",
	})
	out := waitOutcome(t, child)
	if out.State != supervisor.StateFinished || out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.Sync != supervisor.SyncMissing || out.Sync.String() != "no-call" {
		t.Fatalf("expected no-call, got %s", out.Sync)
	}
	if out.Abnormal() {
		t.Fatal("exit 0 must not be abnormal")
	}
}

func TestLaunchErrorUsesSentinel(t *testing.T) {
	sup := supervisor.New(nil, 0)
	child := sup.Launch(context.Background(), supervisor.Spec{Executable: filepath.Join(t.TempDir(), "missing")})
	out := waitOutcome(t, child)
	if out.State != supervisor.StateLaunchError || out.ExitCode != supervisor.LaunchErrorCode {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if !out.Abnormal() || out.Err == nil {
		t.Fatalf("launch error must be abnormal with cause: %+v", out)
	}
}

func TestExitCodeAndOutputTagging(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sup := supervisor.New(logger, 0)
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "hook.sh", "echo hello from hook\necho oops >&2\nexit 3"),
	})
	out := waitOutcome(t, child)
	if out.ExitCode != 3 || out.Sync != supervisor.SyncNone || !out.Abnormal() {
		t.Fatalf("unexpected outcome %+v", out)
	}
	sup.Wait()
	for _, want := range []string{`"msg":"hello from hook"`, `"msg":"oops"`, `"command":"hook.sh"`, `"stream":"stderr"`} {
		waitForLog(t, &buf, want)
	}
}

func waitForLog(t *testing.T, buf *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(buf.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("expected %s in logs:\n%s", want, buf.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOverlongOutputLineDoesNotStallChild(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	sup := supervisor.New(logger, 0)
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "noisy.sh", "head -c 1048576 /dev/zero | tr '\\0' x\necho\necho after the long line\nexit 0"),
	})
	out := waitOutcome(t, child)
	if out.State != supervisor.StateFinished || out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	waitForLog(t, &buf, `"msg":"after the long line"`)
	waitForLog(t, &buf, `"truncated":true`)
}

func TestBackgroundedDescendantDoesNotDelayExit(t *testing.T) {
	sup := supervisor.New(nil, 0)
	start := time.Now()
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "spawn.sh", "sleep 8 &\nexit 0"),
		Stepper:    true,
	})
	out := waitOutcome(t, child)
	if out.State != supervisor.StateFinished || out.ExitCode != 0 {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("child reported finished after %s", elapsed)
	}
}

func TestStepTimeoutWithBackgroundedDescendant(t *testing.T) {
	seq := &supervisor.Sequence{
		Supervisor: supervisor.New(nil, 0),
		Stages: []supervisor.Stage{{
			Name:  "hang",
			Child: &supervisor.Spec{Executable: script(t, "hang.sh", "sleep 8 &\nsleep 30"), Stepper: true},
		}},
		StepTimeout: 100 * time.Millisecond,
	}
	done := make(chan error, 1)
	go func() {
		_, err := seq.Run(context.Background())
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, supervisor.ErrStepTimeout) {
			t.Fatalf("expected ErrStepTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sequence did not return after the step timeout")
	}
}

func TestStepperEnvironment(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "env")
	sup := supervisor.New(nil, 4321)
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "open.sh", `echo "$RAY_STEPPER_TOKEN|$RAY_CONTROL_PORT|$RAY_STEPPER_PHASE" > `+envFile),
		Stepper:    true,
		Phase:      "open_session",
	})
	waitOutcome(t, child)
	data, err := os.ReadFile(envFile)
	if err != nil {
		t.Fatalf("read env: %v", err)
	}
	want := child.Token() + "|4321|open_session"
	if strings.TrimSpace(string(data)) != want {
		t.Fatalf("env = %q, want %q", strings.TrimSpace(string(data)), want)
	}
}

func TestAcknowledgeRejectsUnknownAndRepeat(t *testing.T) {
	sup := supervisor.New(nil, 0)
	if _, ok := sup.Acknowledge("nope", nil); ok {
		t.Fatal("unknown token must be rejected")
	}
	child := sup.Launch(context.Background(), supervisor.Spec{
		Executable: script(t, "wait.sh", "sleep 1"),
		Stepper:    true,
	})
	if _, ok := sup.Acknowledge(child.Token(), nil); !ok {
		t.Fatal("first acknowledgement should succeed")
	}
	if _, ok := sup.Acknowledge(child.Token(), nil); ok {
		t.Fatal("repeat acknowledgement should be rejected")
	}
	out := waitOutcome(t, child)
	if out.Sync != supervisor.SyncAcknowledged {
		t.Fatalf("expected acknowledged, got %s", out.Sync)
	}
}

// stepperScript writes its token to tokenFile, then waits for releaseFile.
func stepperScript(t *testing.T, tokenFile, releaseFile string) string {
	return script(t, "close.sh", `echo "$RAY_STEPPER_TOKEN" > `+tokenFile+`
while [ ! -f `+releaseFile+` ]; do sleep 0.02; done
exit 0`)
}

func TestSequenceRunsActionAtSyncPoint(t *testing.T) {
	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	releaseFile := filepath.Join(dir, "release")
	sup := supervisor.New(nil, 0)

	go func() {
		for i := 0; i < 250; i++ {
			data, err := os.ReadFile(tokenFile)
			if err == nil && len(bytes.TrimSpace(data)) > 0 {
				_, _ = sup.Acknowledge(string(bytes.TrimSpace(data)), func() {
					_ = os.WriteFile(releaseFile, nil, 0o644)
				})
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	var actionSawUnreleased bool
	seq := &supervisor.Sequence{
		Supervisor: sup,
		Stages: []supervisor.Stage{{
			Name:  "close",
			Child: &supervisor.Spec{Executable: stepperScript(t, tokenFile, releaseFile), Stepper: true, Phase: "close"},
			Action: func(context.Context) error {
				_, err := os.Stat(releaseFile)
				actionSawUnreleased = os.IsNotExist(err)
				return nil
			},
		}},
		StepTimeout: 5 * time.Second,
	}
	results, err := seq.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || !results[0].ActionRan || results[0].Outcome.Sync != supervisor.SyncAcknowledged {
		t.Fatalf("unexpected results %+v", results)
	}
	if !actionSawUnreleased {
		t.Fatal("action must run while the stepper is paused")
	}
}

func TestSequenceHaltsOnAbnormalChild(t *testing.T) {
	sup := supervisor.New(nil, 0)
	var ran []string
	action := func(name string) func(context.Context) error {
		return func(context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}
	seq := &supervisor.Sequence{
		Supervisor: sup,
		Stages: []supervisor.Stage{
			{Name: "first", Action: action("first")},
			{Name: "hook", Child: &supervisor.Spec{Executable: script(t, "fail.sh", "exit 2")}, Action: action("hook")},
			{Name: "last", Action: action("last")},
		},
	}
	results, err := seq.Run(context.Background())
	if !errors.Is(err, supervisor.ErrChildFailed) {
		t.Fatalf("expected ErrChildFailed, got %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 stage results, got %d", len(results))
	}
	if strings.Join(ran, ",") != "first" {
		t.Fatalf("completed stages must stay and later ones must not run: %v", ran)
	}
}

func TestSequenceLaunchErrorHalts(t *testing.T) {
	seq := &supervisor.Sequence{
		Supervisor: supervisor.New(nil, 0),
		Stages: []supervisor.Stage{
			{Name: "missing", Child: &supervisor.Spec{Executable: "/nonexistent/ray-hook", Stepper: true}},
		},
	}
	results, err := seq.Run(context.Background())
	if !errors.Is(err, supervisor.ErrChildFailed) {
		t.Fatalf("expected ErrChildFailed, got %v", err)
	}
	if results[0].Outcome.ExitCode != supervisor.LaunchErrorCode {
		t.Fatalf("expected launch error code, got %+v", results[0].Outcome)
	}
}

func TestSequenceNoCallPolicy(t *testing.T) {
	for _, require := range []bool{false, true} {
		actionRan := false
		seq := &supervisor.Sequence{
			Supervisor: supervisor.New(nil, 0),
			Stages: []supervisor.Stage{{
				Name:   "save",
				Child:  &supervisor.Spec{Executable: script(t, "save.sh", "exit 0"), Stepper: true},
				Action: func(context.Context) error { actionRan = true; return nil },
			}},
			RequireSync: require,
		}
		_, err := seq.Run(context.Background())
		if require {
			if !errors.Is(err, supervisor.ErrNoCall) || actionRan {
				t.Fatalf("RequireSync: err=%v actionRan=%v", err, actionRan)
			}
			continue
		}
		if err != nil || !actionRan {
			t.Fatalf("lenient: err=%v actionRan=%v", err, actionRan)
		}
	}
}

func TestSequenceStepTimeoutKillsStepper(t *testing.T) {
	seq := &supervisor.Sequence{
		Supervisor: supervisor.New(nil, 0),
		Stages: []supervisor.Stage{{
			Name:  "hang",
			Child: &supervisor.Spec{Executable: script(t, "hang.sh", "exec sleep 30"), Stepper: true},
		}},
		StepTimeout: 100 * time.Millisecond,
	}
	start := time.Now()
	_, err := seq.Run(context.Background())
	if !errors.Is(err, supervisor.ErrStepTimeout) {
		t.Fatalf("expected ErrStepTimeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("stepper was not killed promptly")
	}
}
