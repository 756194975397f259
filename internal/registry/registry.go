package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"

	"raysession/internal/config"
)

// DaemonRecord describes one running daemon.
type DaemonRecord struct {
	PID         int
	User        string
	Port        int
	IsDefault   bool
	SessionRoot string
	SessionName string
	StartedAt   time.Time
}

// Registry is a handle on the shared daemon table.
type Registry struct {
	db    *sql.DB
	path  string
	alive func(pid int) bool
}

// Open connects to the registry database named by the config, creating it
// and its directory when missing.
func Open(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("registry requires config")
	}
	return OpenPath(cfg.Paths.RegistryPath)
}

// OpenPath connects to the registry database at path.
func OpenPath(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("registry path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	reg := &Registry{db: db, path: path, alive: processAlive}
	if err := reg.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return reg, nil
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Path returns the database file location.
func (r *Registry) Path() string { return r.path }

// Register inserts rec, replacing any stale row that reused its pid.
func (r *Registry) Register(ctx context.Context, rec DaemonRecord) error {
	if rec.PID <= 0 {
		return fmt.Errorf("register daemon: invalid pid %d", rec.PID)
	}
	if rec.Port <= 0 || rec.Port > 65535 {
		return fmt.Errorf("register daemon: invalid port %d", rec.Port)
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO daemons (pid, user, port, is_default, session_root, session_name, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.PID,
		rec.User,
		rec.Port,
		boolToInt(rec.IsDefault),
		rec.SessionRoot,
		rec.SessionName,
		started.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("register daemon %d: %w", rec.PID, err)
	}
	return nil
}

// UpdateSession records the session a daemon currently has loaded.
func (r *Registry) UpdateSession(ctx context.Context, pid int, sessionName string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE daemons SET session_name = ? WHERE pid = ?", sessionName, pid); err != nil {
		return fmt.Errorf("update daemon %d: %w", pid, err)
	}
	return nil
}

// Remove deletes the record for pid. Removing an absent record is not an error.
func (r *Registry) Remove(ctx context.Context, pid int) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM daemons WHERE pid = ?", pid); err != nil {
		return fmt.Errorf("remove daemon %d: %w", pid, err)
	}
	return nil
}

// Enumerate lists live daemons in registration order. Rows whose process is
// gone are deleted and omitted.
func (r *Registry) Enumerate(ctx context.Context) ([]DaemonRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pid, user, port, is_default, session_root, session_name, started_at
         FROM daemons ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("enumerate daemons: %w", err)
	}
	defer rows.Close()

	var records []DaemonRecord
	var stale []int
	for rows.Next() {
		var (
			rec       DaemonRecord
			isDefault int
			started   int64
		)
		if err := rows.Scan(&rec.PID, &rec.User, &rec.Port, &isDefault, &rec.SessionRoot, &rec.SessionName, &started); err != nil {
			return nil, fmt.Errorf("scan daemon row: %w", err)
		}
		rec.IsDefault = isDefault != 0
		rec.StartedAt = time.Unix(0, started).UTC()
		if !r.alive(rec.PID) {
			stale = append(stale, rec.PID)
			continue
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daemons: %w", err)
	}
	rows.Close()

	for _, pid := range stale {
		if err := r.Remove(ctx, pid); err != nil {
			return records, err
		}
	}
	return records, nil
}

// SelectDefault returns the port of the default daemon owned by user.
func (r *Registry) SelectDefault(ctx context.Context, user string) (int, bool, error) {
	records, err := r.Enumerate(ctx)
	if err != nil {
		return 0, false, err
	}
	port, ok := SelectDefault(records, user)
	return port, ok, nil
}

// SelectDefault returns the port of the first record owned by user with the
// default flag set. ok is false when there is none.
func SelectDefault(records []DaemonRecord, user string) (int, bool) {
	for _, rec := range records {
		if rec.User == user && rec.IsDefault {
			return rec.Port, true
		}
	}
	return 0, false
}

// CurrentUser returns the login name used to own registry records.
func CurrentUser() string {
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	if name := strings.TrimSpace(os.Getenv("LOGNAME")); name != "" {
		return name
	}
	return fmt.Sprintf("uid%d", os.Getuid())
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
