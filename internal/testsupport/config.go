package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"raysession/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Every directory the daemon lists is created so listings start empty.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.SessionRoot = filepath.Join(base, "sessions")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.RegistryPath = filepath.Join(base, "registry", "daemons.db")
	cfgVal.Paths.SessionTemplatesDir = filepath.Join(base, "session_templates")
	cfgVal.Paths.UserTemplatesDir = filepath.Join(base, "client_templates")
	cfgVal.Paths.FactoryTemplatesDir = filepath.Join(base, "factory_templates")
	cfgVal.Control.AnnounceTimeoutMS = 1000
	cfgVal.Control.TickIntervalMS = 20
	cfgVal.Scripts.StepReleaseTimeoutMS = 5000

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	for _, dir := range []string{
		cfgVal.Paths.SessionRoot,
		cfgVal.Paths.LogDir,
		cfgVal.Paths.SessionTemplatesDir,
		cfgVal.Paths.UserTemplatesDir,
		cfgVal.Paths.FactoryTemplatesDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	return builder.cfg
}

// WithRequireSync makes steppers that never call back fail their sequence.
func WithRequireSync() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scripts.RequireSync = true
	}
}

// WithSharedScripts points the shared scripts folder at a directory under
// the test base and creates it.
func WithSharedScripts() ConfigOption {
	return func(b *configBuilder) {
		dir := filepath.Join(b.baseDir, "scripts")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			b.t.Fatalf("mkdir scripts dir: %v", err)
		}
		b.cfg.Paths.ScriptsDir = dir
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			WriteScript(b.t, filepath.Join(binDir, name), "exit 0\n")
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SessionRoot)
}
