package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"raysession/internal/fileutil"
	"raysession/internal/timeline"
)

var (
	ErrNoSession   = errors.New("no session loaded")
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalidName = errors.New("invalid name")
)

// Dirs locates the folders the manager lists.
type Dirs struct {
	Root             string
	SessionTemplates string
	UserTemplates    string
	FactoryTemplates string
}

// Client is one program added to the loaded session.
type Client struct {
	ID         string
	Executable string
	Template   string
	Proxy      bool
}

// Session is the loaded session.
type Session struct {
	Name      string
	Path      string
	Clients   []Client
	Snapshots []string
	SavedAt   time.Time
}

// Manager guards the session root and the loaded session.
type Manager struct {
	mu      sync.Mutex
	dirs    Dirs
	current *Session
	nextID  int
	now     func() time.Time
}

// NewManager returns a manager with no session loaded.
func NewManager(dirs Dirs) *Manager {
	return &Manager{dirs: dirs, now: time.Now}
}

// SetClock replaces the time source used for checkpoints.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Root returns the session root folder.
func (m *Manager) Root() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs.Root
}

// Current returns a copy of the loaded session.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return Session{}, false
	}
	s := *m.current
	s.Clients = slices.Clone(s.Clients)
	s.Snapshots = slices.Clone(s.Snapshots)
	return s, true
}

// SessionPath returns the folder a session name maps to.
func (m *Manager) SessionPath(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return filepath.Join(m.dirs.Root, clean), nil
}

// ChangeRoot switches the session root. It refuses while a session is loaded.
func (m *Manager) ChangeRoot(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || !filepath.IsAbs(path) {
		return fmt.Errorf("%w: session root must be an absolute path", ErrInvalidName)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create session root: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return fmt.Errorf("close session %s before changing root", m.current.Name)
	}
	m.dirs.Root = path
	return nil
}

// ListSessions returns the session folders below the root, sorted.
func (m *Manager) ListSessions() ([]string, error) {
	return listDirs(m.Root())
}

// ListSessionTemplates returns the session template names.
func (m *Manager) ListSessionTemplates() ([]string, error) {
	m.mu.Lock()
	dir := m.dirs.SessionTemplates
	m.mu.Unlock()
	return listDirs(dir)
}

// ListUserClientTemplates returns "name/icon" entries of user templates.
func (m *Manager) ListUserClientTemplates() ([]string, error) {
	return listTemplates(m.dirs.UserTemplates)
}

// ListFactoryClientTemplates returns "name/icon" entries of factory templates.
func (m *Manager) ListFactoryClientTemplates() ([]string, error) {
	return listTemplates(m.dirs.FactoryTemplates)
}

// RemoveClientTemplate deletes a user client template.
func (m *Manager) RemoveClientTemplate(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	path := filepath.Join(m.dirs.UserTemplates, clean)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: client template %s", ErrNotFound, clean)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove client template %s: %w", clean, err)
	}
	return nil
}

// New creates a session folder, optionally seeded from a session template,
// and loads it.
func (m *Manager) New(name, template string) error {
	path, err := m.SessionPath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: session %s", ErrExists, name)
	}
	if template != "" {
		clean, err := cleanName(template)
		if err != nil {
			return err
		}
		src := filepath.Join(m.dirs.SessionTemplates, clean)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%w: session template %s", ErrNotFound, clean)
		}
		if err := fileutil.CopyTree(src, path); err != nil {
			return fmt.Errorf("copy session template: %w", err)
		}
	} else if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create session folder: %w", err)
	}
	m.load(name, path, nil, nil)
	return nil
}

// Open loads an existing session.
func (m *Manager) Open(name string) error {
	path, err := m.SessionPath(name)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: session %s", ErrNotFound, name)
	}
	m.load(name, path, nil, nil)
	return nil
}

func (m *Manager) load(name, path string, clients []Client, snapshots []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &Session{
		Name:      norm.NFC.String(filepath.Clean(name)),
		Path:      path,
		Clients:   clients,
		Snapshots: snapshots,
	}
}

// Save marks the loaded session saved.
func (m *Manager) Save() error {
	return m.withSession(func(s *Session) error {
		s.SavedAt = m.now()
		return nil
	})
}

// SaveAsTemplate copies the loaded session folder into the session templates.
func (m *Manager) SaveAsTemplate(name string) error {
	clean, err := cleanName(name)
	if err != nil {
		return err
	}
	return m.withSession(func(s *Session) error {
		dst := filepath.Join(m.dirs.SessionTemplates, clean)
		if _, err := os.Stat(dst); err == nil {
			return fmt.Errorf("%w: session template %s", ErrExists, clean)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("create templates folder: %w", err)
		}
		if err := fileutil.CopyTree(s.Path, dst); err != nil {
			return fmt.Errorf("copy session to template: %w", err)
		}
		return nil
	})
}

// Close unloads the session.
func (m *Manager) Close() error {
	return m.withSession(func(*Session) error {
		m.current = nil
		return nil
	})
}

// Abort unloads the session without saving it.
func (m *Manager) Abort() error {
	return m.withSession(func(s *Session) error {
		s.SavedAt = time.Time{}
		m.current = nil
		return nil
	})
}

// Duplicate copies the loaded session to newName and loads the copy.
func (m *Manager) Duplicate(newName string) error {
	path, err := m.SessionPath(newName)
	if err != nil {
		return err
	}
	return m.withSession(func(s *Session) error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: session %s", ErrExists, newName)
		}
		if err := fileutil.CopyTree(s.Path, path); err != nil {
			return fmt.Errorf("duplicate session folder: %w", err)
		}
		m.current = &Session{
			Name:      newName,
			Path:      path,
			Clients:   slices.Clone(s.Clients),
			Snapshots: slices.Clone(s.Snapshots),
		}
		return nil
	})
}

// Rename moves the loaded session folder.
func (m *Manager) Rename(newName string) error {
	path, err := m.SessionPath(newName)
	if err != nil {
		return err
	}
	return m.withSession(func(s *Session) error {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: session %s", ErrExists, newName)
		}
		if err := os.Rename(s.Path, path); err != nil {
			return fmt.Errorf("rename session folder: %w", err)
		}
		s.Name = newName
		s.Path = path
		return nil
	})
}

// TakeSnapshot records a checkpoint labelled label and returns its reference.
func (m *Manager) TakeSnapshot(label string) (string, error) {
	var ref string
	err := m.withSession(func(s *Session) error {
		now := m.now()
		ref = timeline.FormatTimestamp(now)
		s.Snapshots = append(s.Snapshots, timeline.FormatCheckpoint(now, norm.NFC.String(label), time.Time{}, ""))
		return nil
	})
	return ref, err
}

// OpenSnapshot rewinds to the checkpoint named ref. A new checkpoint records
// the state left behind, pointing at the rewind origin.
func (m *Manager) OpenSnapshot(ref string) error {
	return m.withSession(func(s *Session) error {
		var target *timeline.Checkpoint
		for _, text := range s.Snapshots {
			cp := timeline.ParseCheckpoint(text)
			if cp.Ref == ref {
				target = &cp
				break
			}
		}
		if target == nil || !target.Valid {
			return fmt.Errorf("%w: snapshot %s", ErrNotFound, ref)
		}
		s.Snapshots = append(s.Snapshots,
			timeline.FormatCheckpoint(m.now(), "before rewind", target.Time, target.Label))
		return nil
	})
}

// ListSnapshots returns the serialized checkpoints, newest first.
func (m *Manager) ListSnapshots() ([]string, error) {
	var out []string
	err := m.withSession(func(s *Session) error {
		out = slices.Clone(s.Snapshots)
		slices.Reverse(out)
		return nil
	})
	return out, err
}

// AddExecutable adds a client running executable.
func (m *Manager) AddExecutable(executable string) (string, error) {
	executable = strings.TrimSpace(executable)
	if executable == "" {
		return "", fmt.Errorf("%w: empty executable", ErrInvalidName)
	}
	return m.addClient(Client{Executable: executable})
}

// AddProxy adds a proxy client.
func (m *Manager) AddProxy(executable string) (string, error) {
	return m.addClient(Client{Executable: strings.TrimSpace(executable), Proxy: true})
}

// AddClientTemplate adds a client from a user or factory template.
func (m *Manager) AddClientTemplate(name string) (string, error) {
	clean, err := cleanName(name)
	if err != nil {
		return "", err
	}
	for _, dir := range []string{m.dirs.UserTemplates, m.dirs.FactoryTemplates} {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(filepath.Join(dir, clean)); err == nil && info.IsDir() {
			return m.addClient(Client{Executable: clean, Template: clean})
		}
	}
	return "", fmt.Errorf("%w: client template %s", ErrNotFound, clean)
}

func (m *Manager) addClient(c Client) (string, error) {
	err := m.withSession(func(s *Session) error {
		m.nextID++
		c.ID = fmt.Sprintf("%s_%d", clientPrefix(c), m.nextID)
		s.Clients = append(s.Clients, c)
		return nil
	})
	return c.ID, err
}

func clientPrefix(c Client) string {
	switch {
	case c.Proxy:
		return "proxy"
	case c.Executable != "":
		return filepath.Base(c.Executable)
	default:
		return "client"
	}
}

func (m *Manager) withSession(fn func(*Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ErrNoSession
	}
	return fn(m.current)
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	clean := filepath.Clean(name)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return norm.NFC.String(clean), nil
}

func listDirs(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// listTemplates returns "name/icon" for each template folder. The icon name
// is read from an "icon" file inside the folder and is empty when missing.
func listTemplates(dir string) ([]string, error) {
	names, err := listDirs(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		icon := ""
		if data, err := os.ReadFile(filepath.Join(dir, name, "icon")); err == nil {
			icon = strings.TrimSpace(string(data))
		}
		out = append(out, name+"/"+icon)
	}
	return out, nil
}
