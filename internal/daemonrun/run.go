package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"raysession/internal/config"
	"raysession/internal/daemon"
	"raysession/internal/daemonctl"
	"raysession/internal/deps"
	"raysession/internal/logging"
)

const (
	runLogPrefix  = "ray-daemon-"
	logPointer    = "ray-daemon.log"
	runLogPattern = runLogPrefix + "*.log"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	ControlURL  string
	SessionRoot string
	NoDefault   bool
	Port        int
}

// Run starts the daemon and serves until a signal or a quit request.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if root := strings.TrimSpace(opts.SessionRoot); root != "" {
		expanded, err := config.ExpandPath(root)
		if err != nil {
			return fmt.Errorf("session root: %w", err)
		}
		cfg.Paths.SessionRoot = expanded
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, runLogPrefix+runID+".log")
	logger, err := newRunLogger(cfg, opts, logPath)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update %s link: %v\n", logPointer, err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, runLogPattern, logPath, cfg.Logging.RetentionDays)

	logger = logger.With(logging.String("run_id", uuid.NewString()))
	logDependencySnapshot(logger)
	logger.Info("ray daemon starting",
		logging.String(logging.FieldEventType, "daemon_starting"),
		logging.String("session_root", cfg.Paths.SessionRoot),
		logging.String("log_path", logPath),
		logging.Bool("control_url_set", opts.ControlURL != ""),
	)

	d, err := daemon.New(signalCtx, daemon.Options{
		Config:     cfg,
		ControlURL: opts.ControlURL,
		NoDefault:  opts.NoDefault,
		Port:       opts.Port,
		Logger:     logger,
	})
	if err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check registry_path and that the port is free"),
		)
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Run(signalCtx); err != nil {
		return err
	}
	logger.Info("ray daemon shutting down")
	return nil
}

// newRunLogger writes the configured format to stdout and JSON to the run log.
func newRunLogger(cfg *config.Config, opts Options, logPath string) (*slog.Logger, error) {
	level := opts.LogLevel
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	console, err := logging.NewHandler(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout"},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	file, err := logging.NewHandler(logging.Options{
		Level:       level,
		Format:      "json",
		OutputPaths: []string{logPath},
		Development: opts.Development,
	})
	if err != nil {
		return nil, err
	}
	return slog.New(logging.Tee(console, file)), nil
}

// logDependencySnapshot records whether session scripts will be able to
// run as steppers.
func logDependencySnapshot(logger *slog.Logger) {
	control := "ray-control"
	if resolved, err := daemonctl.ResolveExecutable(control); err == nil {
		control = resolved
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.CheckBinaries(deps.StepperRequirements(control)) {
		key := strings.ReplaceAll(status.Name, "-", "_")
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
		if !status.Available {
			logging.WarnWithContext(logger, "dependency missing", "dependency_missing",
				logging.String("dependency", status.Name),
				logging.String("detail", status.Detail),
				logging.String(logging.FieldImpact, status.Description+" unavailable"),
				logging.String(logging.FieldErrorHint, "install it or add it to PATH"),
			)
		}
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, logPointer)
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
