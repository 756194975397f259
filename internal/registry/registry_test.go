package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := OpenPath(filepath.Join(t.TempDir(), "reg", "daemons.db"))
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestSelectDefault(t *testing.T) {
	records := []DaemonRecord{
		{PID: 1, User: "alice", Port: 1000, IsDefault: false},
		{PID: 2, User: "bob", Port: 2000, IsDefault: true},
		{PID: 3, User: "alice", Port: 3000, IsDefault: true},
		{PID: 4, User: "alice", Port: 4000, IsDefault: true},
	}
	tests := []struct {
		name    string
		records []DaemonRecord
		user    string
		port    int
		ok      bool
	}{
		{"first matching default", records, "alice", 3000, true},
		{"other user", records, "bob", 2000, true},
		{"no default for user", records[:1], "alice", 0, false},
		{"unknown user", records, "carol", 0, false},
		{"empty", nil, "alice", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := SelectDefault(tt.records, tt.user)
			if port != tt.port || ok != tt.ok {
				t.Fatalf("SelectDefault = %d,%v want %d,%v", port, ok, tt.port, tt.ok)
			}
		})
	}
}

func TestRegisterEnumerateOrder(t *testing.T) {
	reg := openTestRegistry(t)
	reg.alive = func(int) bool { return true }
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, pid := range []int{30, 10, 20} {
		rec := DaemonRecord{PID: pid, User: "alice", Port: 16000 + pid, StartedAt: base.Add(time.Duration(i) * time.Second)}
		if err := reg.Register(ctx, rec); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	records, err := reg.Enumerate(ctx)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []int{30, 10, 20} {
		if records[i].PID != want {
			t.Fatalf("record %d pid = %d, want %d", i, records[i].PID, want)
		}
	}
	if !records[0].StartedAt.Equal(base) {
		t.Fatalf("started_at not preserved: %v", records[0].StartedAt)
	}

	if err := reg.Remove(ctx, 10); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove(ctx, 10); err != nil {
		t.Fatalf("second Remove should be a no-op: %v", err)
	}
	records, _ = reg.Enumerate(ctx)
	if len(records) != 2 {
		t.Fatalf("expected 2 records after remove, got %d", len(records))
	}
}

func TestEnumerateOrdersBySubSecondStart(t *testing.T) {
	reg := openTestRegistry(t)
	reg.alive = func(int) bool { return true }
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)

	// Trimmed RFC3339Nano text would sort .12 before .1.
	starts := []struct {
		pid    int
		offset time.Duration
	}{
		{11, 120 * time.Millisecond},
		{12, 100 * time.Millisecond},
		{13, 200 * time.Millisecond},
	}
	for _, s := range starts {
		rec := DaemonRecord{PID: s.pid, User: "alice", Port: 17000 + s.pid, StartedAt: base.Add(s.offset)}
		if err := reg.Register(ctx, rec); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	records, err := reg.Enumerate(ctx)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for i, want := range []int{12, 11, 13} {
		if records[i].PID != want {
			t.Fatalf("record %d pid = %d, want %d", i, records[i].PID, want)
		}
	}
	if !records[0].StartedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Fatalf("started_at not preserved: %v", records[0].StartedAt)
	}
}

func TestEnumeratePrunesDeadProcesses(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()
	reg.alive = func(pid int) bool { return pid != 2 }

	_ = reg.Register(ctx, DaemonRecord{PID: 1, User: "alice", Port: 1001, IsDefault: false})
	_ = reg.Register(ctx, DaemonRecord{PID: 2, User: "alice", Port: 1002, IsDefault: true})

	port, ok, err := reg.SelectDefault(ctx, "alice")
	if err != nil {
		t.Fatalf("SelectDefault: %v", err)
	}
	if ok {
		t.Fatalf("dead default daemon must not be selected, got port %d", port)
	}

	reg.alive = func(int) bool { return true }
	records, _ := reg.Enumerate(ctx)
	if len(records) != 1 || records[0].PID != 1 {
		t.Fatalf("expected stale row deleted, got %+v", records)
	}
}

func TestRegisterValidates(t *testing.T) {
	reg := openTestRegistry(t)
	if err := reg.Register(context.Background(), DaemonRecord{PID: 0, Port: 1}); err == nil {
		t.Fatal("expected pid validation error")
	}
	if err := reg.Register(context.Background(), DaemonRecord{PID: 1, Port: 70000}); err == nil {
		t.Fatal("expected port validation error")
	}
}

func TestProcessAliveForSelf(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Fatal("current process should be alive")
	}
	if processAlive(-1) {
		t.Fatal("negative pid should not be alive")
	}
}

func TestClaimDefaultIsExclusive(t *testing.T) {
	reg := openTestRegistry(t)

	first, ok, err := reg.ClaimDefault("alice")
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if _, ok, err := reg.ClaimDefault("alice"); err != nil || ok {
		t.Fatalf("second claim should fail: ok=%v err=%v", ok, err)
	}
	other, ok, err := reg.ClaimDefault("bob")
	if err != nil || !ok {
		t.Fatalf("claims are per user: ok=%v err=%v", ok, err)
	}
	_ = other.Release()

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, ok, err := reg.ClaimDefault("alice")
	if err != nil || !ok {
		t.Fatalf("claim after release: ok=%v err=%v", ok, err)
	}
	_ = again.Release()
}

func TestReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemons.db")
	reg, err := OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	_ = reg.Close()
	reg, err = OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = reg.Close()
}
