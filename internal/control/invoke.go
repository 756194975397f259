package control

import (
	"context"
	"errors"
	"fmt"
	"io"

	"raysession/internal/ipc"
	"raysession/internal/logging"
	"raysession/internal/protocol"
)

// ErrUnknownOperation is returned for an operation outside the taxonomy.
var ErrUnknownOperation = errors.New("unknown operation")

// ErrNoDaemon is returned when a command needs a running daemon and the
// registry has none for the user.
var ErrNoDaemon = errors.New("no daemon running")

// Discovery finds the default daemon of a user.
type Discovery interface {
	SelectDefault(ctx context.Context, user string) (int, bool, error)
}

// Process is a daemon launched by this client.
type Process interface {
	Terminate() error
}

// Launcher starts a daemon that will announce itself to controlURL.
type Launcher interface {
	Launch(ctx context.Context, controlURL string) (Process, error)
}

// Invoker runs one ray-control operation end to end.
type Invoker struct {
	Transport Transport
	Discovery Discovery
	Launcher  Launcher
	User      string
	Stderr    io.Writer
	Options   Options
}

// Invoke resolves the daemon, performs op and returns the process exit code.
// An error is returned only for unknown operations and transport failures;
// every other outcome is reported on Stderr and in the code.
func (inv *Invoker) Invoke(ctx context.Context, op string, args []string) (int, error) {
	req, scope, resolveErr := NewRequest(op, args)

	port, found, err := inv.Discovery.SelectDefault(ctx, inv.User)
	if err != nil {
		logging.WarnWithContext(inv.Options.Logger, "daemon registry unavailable", "registry_unavailable",
			logging.Error(err),
			logging.String(logging.FieldImpact, "treating as no daemon running"),
			logging.String(logging.FieldErrorHint, "check control.registry_path"),
		)
		found = false
	}

	var hs Handshake
	var launched Process
	if found {
		if resolveErr != nil {
			return protocol.ExitFailure, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
		}
		hs = Connected(port)
	} else {
		switch scope {
		case protocol.ScopeSession:
			fmt.Fprintf(inv.Stderr, "No server started. So no session to %s\n", op)
			return protocol.ExitFailure, nil
		case protocol.ScopeUnknown:
			return protocol.ExitFailure, fmt.Errorf("%w: %s", ErrUnknownOperation, op)
		}
		if op == "quit" {
			fmt.Fprint(inv.Stderr, "No server to quit !\n")
			return protocol.ExitOK, nil
		}
		launched, err = inv.Launcher.Launch(ctx, ipc.URL(inv.Transport.Port()))
		if err != nil {
			return protocol.ExitFailure, fmt.Errorf("start daemon: %w", err)
		}
		hs = Awaiting()
	}

	result, err := New(inv.Transport, inv.Options).Run(ctx, req, hs)
	if errors.Is(err, ErrHandshakeTimeout) {
		fmt.Fprint(inv.Stderr, "daemon didn't announce and will be killed\n")
		if termErr := launched.Terminate(); termErr != nil {
			logging.WarnWithContext(inv.Options.Logger, "failed to kill silent daemon", "daemon_kill_failed",
				logging.Error(termErr),
				logging.String(logging.FieldImpact, "an orphaned daemon may remain"),
				logging.String(logging.FieldErrorHint, "run ray-control daemons and kill it manually"),
			)
		}
		return protocol.ExitFailure, nil
	}
	if err != nil {
		return protocol.ExitFailure, err
	}
	return result.Code, nil
}

// Direct sends one request to a daemon at a known port, without discovery.
func Direct(ctx context.Context, tr Transport, port int, req Request, opts Options) (Result, error) {
	if port <= 0 {
		return Result{}, ErrNoDaemon
	}
	return New(tr, opts).Run(ctx, req, Connected(port))
}
