package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// DefaultClaim is the held per-user default-daemon lock.
type DefaultClaim struct {
	lock *flock.Flock
}

// ClaimDefault tries to become the default daemon for user. ok is false when
// another live process already holds the claim. The lock is released by the
// kernel if the process dies, so a crashed daemon never blocks a new default.
func (r *Registry) ClaimDefault(user string) (*DefaultClaim, bool, error) {
	lock := flock.New(r.claimPath(user))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire default lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &DefaultClaim{lock: lock}, true, nil
}

// Release gives up the claim.
func (c *DefaultClaim) Release() error {
	if c == nil || c.lock == nil {
		return nil
	}
	return c.lock.Unlock()
}

// Path returns the lock file location.
func (c *DefaultClaim) Path() string {
	if c == nil || c.lock == nil {
		return ""
	}
	return c.lock.Path()
}

func (r *Registry) claimPath(user string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, user)
	return filepath.Join(filepath.Dir(r.path), "default-"+name+".lock")
}
