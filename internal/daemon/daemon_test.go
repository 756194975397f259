package daemon_test

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"raysession/internal/config"
	"raysession/internal/control"
	"raysession/internal/daemon"
	"raysession/internal/ipc"
	"raysession/internal/protocol"
	"raysession/internal/registry"
	"raysession/internal/testsupport"
)

type harness struct {
	t      *testing.T
	cfg    *config.Config
	reg    *registry.Registry
	daemon *daemon.Daemon
	done   chan error
	cancel context.CancelFunc
}

func newClient(t *testing.T) *ipc.Endpoint {
	t.Helper()
	ep, err := ipc.Listen(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("ipc.Listen: %v", err)
	}
	ep.Serve()
	t.Cleanup(ep.Close)
	return ep
}

func startDaemon(t *testing.T, cfg *config.Config, noDefault bool) *harness {
	t.Helper()
	reg, err := registry.OpenPath(cfg.Paths.RegistryPath)
	if err != nil {
		t.Fatalf("registry.OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	announceEP := newClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	d, err := daemon.New(ctx, daemon.Options{
		Config:     cfg,
		ControlURL: ipc.URL(announceEP.Port()),
		NoDefault:  noDefault,
		Registry:   reg,
	})
	if err != nil {
		cancel()
		t.Fatalf("daemon.New: %v", err)
	}
	h := &harness{t: t, cfg: cfg, reg: reg, daemon: d, done: make(chan error, 1), cancel: cancel}
	go func() { h.done <- d.Run(ctx) }()
	t.Cleanup(h.stop)

	select {
	case msg := <-announceEP.Messages():
		ann, err := protocol.ParseAnnounce(msg)
		if err != nil {
			t.Fatalf("first message is not an announce: %v", err)
		}
		if ann.Port != d.Port() || ann.Version != protocol.ProtocolVersion {
			t.Fatalf("unexpected announce %+v (daemon port %d)", ann, d.Port())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not announce")
	}
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
		h.t.Error("daemon did not stop")
	}
}

// call runs op through a fresh client and returns the result with whatever
// it printed.
func (h *harness) call(op string, args ...string) (control.Result, *control.CollectSink) {
	h.t.Helper()
	req, _, err := control.NewRequest(op, args)
	if err != nil {
		h.t.Fatalf("NewRequest %s: %v", op, err)
	}
	return h.send(req)
}

func (h *harness) send(req control.Request) (control.Result, *control.CollectSink) {
	h.t.Helper()
	sink := &control.CollectSink{}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := control.Direct(ctx, newClient(h.t), h.daemon.Port(), req, control.Options{
		Tick: 20 * time.Millisecond,
		Sink: sink,
	})
	if err != nil {
		h.t.Fatalf("Direct %s: %v", req.Path, err)
	}
	if res.Interrupted {
		h.t.Fatalf("request %s timed out", req.Path)
	}
	return res, sink
}

func (h *harness) mustCall(op string, args ...string) *control.CollectSink {
	h.t.Helper()
	res, sink := h.call(op, args...)
	if res.Code != protocol.ExitOK {
		h.t.Fatalf("%s %v: code %d (%s)", op, args, res.Code, res.Message)
	}
	return sink
}

func awaitMessage(t *testing.T, ep *ipc.Endpoint, path string) protocol.Message {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-ep.Messages():
			if msg.Path == path {
				return msg
			}
		case <-timeout:
			t.Fatalf("no %s message", path)
		}
	}
}

func TestDaemonRegistersAndQuits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := startDaemon(t, cfg, false)

	if !h.daemon.IsDefault() {
		t.Fatal("first daemon should hold the default slot")
	}
	port, ok, err := h.reg.SelectDefault(context.Background(), registry.CurrentUser())
	if err != nil || !ok || port != h.daemon.Port() {
		t.Fatalf("SelectDefault = %d, %v, %v; want %d", port, ok, err, h.daemon.Port())
	}

	h.mustCall("quit")
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon kept running after quit")
	}
	h.done <- nil

	records, err := h.reg.Enumerate(context.Background())
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected record removal, got %+v", records)
	}
}

func TestSecondDaemonIsNotDefault(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := startDaemon(t, cfg, false)
	second := startDaemon(t, cfg, false)
	if !first.daemon.IsDefault() || second.daemon.IsDefault() {
		t.Fatalf("default flags = %v, %v", first.daemon.IsDefault(), second.daemon.IsDefault())
	}
	third := startDaemon(t, cfg, true)
	if third.daemon.IsDefault() {
		t.Fatal("--no-default daemon claimed the default slot")
	}
}

func TestSessionOperationWithoutSession(t *testing.T) {
	h := startDaemon(t, testsupport.NewConfig(t), true)
	res, sink := h.call("save")
	if !res.Failed || res.ServerCode != protocol.ErrNoSessionOpen || res.Code != 3 {
		t.Fatalf("save without session = %+v", res)
	}
	if msgs := sink.Messages(); len(msgs) != 1 || msgs[0] != "no session loaded" {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestBadArgumentsAndUnknownPath(t *testing.T) {
	h := startDaemon(t, testsupport.NewConfig(t), true)
	res, _ := h.call("open_session")
	if res.ServerCode != protocol.ErrBadArguments || res.Code != 4 {
		t.Fatalf("open_session without name = %+v", res)
	}

	client := newClient(t)
	if err := client.SendPort(h.daemon.Port(), protocol.New("/ray/server/teleport")); err != nil {
		t.Fatalf("send: %v", err)
	}
	path, code, _, ok := protocol.ParseError(awaitMessage(t, client, protocol.PathError))
	if !ok || path != "/ray/server/teleport" || code != protocol.ErrUnknownMessage {
		t.Fatalf("error reply = %s %d %v", path, code, ok)
	}
}

func TestSessionLifecycle(t *testing.T) {
	h := startDaemon(t, testsupport.NewConfig(t), true)

	h.mustCall("new_session", "alpha")
	if res, _ := h.call("new_session", "alpha"); res.ServerCode != protocol.ErrAlreadyExists {
		t.Fatalf("duplicate new_session = %+v", res)
	}
	h.mustCall("take_snapshot", "intro")
	h.mustCall("take_snapshot")

	snaps := h.mustCall("list_snapshots").Items()
	if len(snaps) != 2 || !strings.Contains(snaps[1], ":intro\n") {
		t.Fatalf("list_snapshots = %q", snaps)
	}

	h.mustCall("duplicate", "beta")
	h.mustCall("close")
	if res, _ := h.call("list_snapshots"); res.ServerCode != protocol.ErrNoSessionOpen {
		t.Fatalf("list_snapshots after close = %+v", res)
	}

	sessions := h.mustCall("list_sessions").Items()
	if !slices.Equal(sessions, []string{"alpha", "beta"}) {
		t.Fatalf("list_sessions = %q", sessions)
	}

	h.mustCall("open_session", "alpha")
	if res, _ := h.call("open_session", "missing"); res.ServerCode != protocol.ErrNotFound {
		t.Fatalf("open missing = %+v", res)
	}
	id := h.mustCall("add_executable", "/usr/bin/carla").Messages()
	if len(id) != 1 || id[0] != "carla_1" {
		t.Fatalf("add_executable reply = %q", id)
	}
	h.mustCall("abort")
}

func TestListingsStreamInChunks(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	var want []string
	for i := range 70 {
		name := filepath.Join(cfg.Paths.SessionRoot, "s"+string(rune('A'+i/26))+string(rune('a'+i%26)))
		testsupport.WriteScript(t, filepath.Join(name, "keep"), "")
		want = append(want, filepath.Base(name))
	}
	h := startDaemon(t, cfg, true)
	got := h.mustCall("list_sessions").Items()
	if !slices.Equal(got, want) {
		t.Fatalf("list_sessions returned %d items, want %d", len(got), len(want))
	}
}

func TestStepperTransitionHoldsSessionBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	h := startDaemon(t, cfg, true)
	h.mustCall("new_session", "alpha")

	dir := t.TempDir()
	tokenFile := filepath.Join(dir, "token")
	releaseFile := filepath.Join(dir, "release")
	sessionDir := filepath.Join(cfg.Paths.SessionRoot, "alpha")
	testsupport.WriteScript(t, filepath.Join(sessionDir, cfg.Scripts.DirName, "save.sh"),
		testsupport.StepperBody(tokenFile, releaseFile))

	saver := newClient(t)
	savePath, _, _ := protocol.ResolvePath("save")
	if err := saver.SendPort(h.daemon.Port(), protocol.New(savePath)); err != nil {
		t.Fatalf("send save: %v", err)
	}
	token := testsupport.WaitForFile(t, tokenFile, 5*time.Second)

	if res, sink := h.call("rename", "gamma"); res.ServerCode != protocol.ErrOperationPending {
		t.Fatalf("rename during save = %+v", res)
	} else if msgs := sink.Messages(); len(msgs) != 1 || msgs[0] != "session busy" {
		t.Fatalf("busy message = %q", msgs)
	}
	if snaps := h.mustCall("list_snapshots").Items(); len(snaps) != 0 {
		t.Fatalf("listing during save = %q", snaps)
	}

	res, _ := h.send(control.Request{
		Path: protocol.PathRunStep,
		Args: []protocol.Arg{protocol.String(token)},
	})
	if res.Code != protocol.ExitOK {
		t.Fatalf("run_step = %+v", res)
	}
	testsupport.WriteScript(t, releaseFile, "")

	reply := awaitMessage(t, saver, protocol.PathReply)
	if path, items, ok := protocol.ParseReply(reply); !ok || path != savePath || len(items) != 1 {
		t.Fatalf("save reply = %q %v %v", path, items, ok)
	}
	h.mustCall("rename", "gamma")
}

func TestFailingScriptHaltsTransition(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSharedScripts())
	testsupport.WriteScript(t, filepath.Join(cfg.Paths.ScriptsDir, "close.sh"), "exit 3\n")
	h := startDaemon(t, cfg, true)
	h.mustCall("new_session", "alpha")

	res, _ := h.call("close")
	if res.ServerCode != protocol.ErrScriptFailed || res.Code != 6 {
		t.Fatalf("close with failing script = %+v", res)
	}
	// The action never ran, so the session is still loaded.
	h.mustCall("list_snapshots")
}

func TestBackgroundedScriptDoesNotHoldSessionBusy(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSharedScripts())
	testsupport.WriteScript(t, filepath.Join(cfg.Paths.ScriptsDir, "save.sh"), "sleep 3 &\nexit 0\n")
	h := startDaemon(t, cfg, true)
	h.mustCall("new_session", "alpha")

	start := time.Now()
	h.mustCall("save")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("save waited %s for the backgrounded process", elapsed)
	}
	h.mustCall("take_snapshot", "after save")
}

func TestRequireSyncRejectsSilentStepper(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithSharedScripts(), testsupport.WithRequireSync())
	testsupport.WriteScript(t, filepath.Join(cfg.Paths.ScriptsDir, "save.sh"), "exit 0\n")
	h := startDaemon(t, cfg, true)
	h.mustCall("new_session", "alpha")

	if res, _ := h.call("save"); res.ServerCode != protocol.ErrScriptFailed {
		t.Fatalf("save with silent stepper = %+v", res)
	}
}

func TestRunStepUnknownToken(t *testing.T) {
	h := startDaemon(t, testsupport.NewConfig(t), true)
	res, _ := h.send(control.Request{
		Path: protocol.PathRunStep,
		Args: []protocol.Arg{protocol.String("not-a-token")},
	})
	if res.ServerCode != protocol.ErrNotFound {
		t.Fatalf("run_step unknown token = %+v", res)
	}
}
