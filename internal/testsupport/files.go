package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteScript writes an executable /bin/sh script with body at path.
func WriteScript(t testing.TB, path, body string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// StepperBody returns a script body for a stepper that records its token in
// tokenFile and stays paused until releaseFile exists. Tests deliver the
// run_step callback themselves using the recorded token.
func StepperBody(tokenFile, releaseFile string) string {
	return "printf '%s' \"$RAY_STEPPER_TOKEN\" > '" + tokenFile + "'\n" +
		"while [ ! -f '" + releaseFile + "' ]; do sleep 0.02; done\n"
}

// WaitForFile polls until path exists or the timeout passes and returns its
// content.
func WaitForFile(t testing.TB, path string, timeout time.Duration) string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			return string(data)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", path)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
