package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"raysession/internal/config"
	"raysession/internal/ipc"
	"raysession/internal/logging"
	"raysession/internal/protocol"
	"raysession/internal/registry"
	"raysession/internal/session"
	"raysession/internal/supervisor"
)

// ErrBusy is reported while a session transition is running.
var ErrBusy = errors.New("session busy")

// Options configures a Daemon.
type Options struct {
	Config *config.Config
	// ControlURL receives the startup announce. Empty skips it.
	ControlURL string
	// NoDefault keeps the daemon out of the per-user default slot.
	NoDefault bool
	// Port to bind; zero picks a free one.
	Port int
	// Registry overrides the registry opened from Config.
	Registry *registry.Registry
	Logger   *slog.Logger
}

// Daemon serves control requests for one session root.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	ep       *ipc.Endpoint
	reg      *registry.Registry
	ownsReg  bool
	claim    *registry.DefaultClaim
	sessions *session.Manager
	sup      *supervisor.Supervisor

	controlURL string
	user       string
	pid        int

	// busy names the running transition. Only the Run loop touches it.
	busy string

	events chan func()
	stop   chan struct{}
	seqWG  sync.WaitGroup
}

// New binds the endpoint and prepares the daemon. Run starts serving.
func New(ctx context.Context, opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	cfg := opts.Config

	reg := opts.Registry
	ownsReg := false
	if reg == nil {
		var err error
		reg, err = registry.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open registry: %w", err)
		}
		ownsReg = true
	}

	ep, err := ipc.Listen(ctx, opts.Port, logger)
	if err != nil {
		if ownsReg {
			_ = reg.Close()
		}
		return nil, err
	}

	sessions := session.NewManager(session.Dirs{
		Root:             cfg.Paths.SessionRoot,
		SessionTemplates: cfg.Paths.SessionTemplatesDir,
		UserTemplates:    cfg.Paths.UserTemplatesDir,
		FactoryTemplates: cfg.Paths.FactoryTemplatesDir,
	})
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		ep:         ep,
		reg:        reg,
		ownsReg:    ownsReg,
		sessions:   sessions,
		sup:        supervisor.New(logger, ep.Port()),
		controlURL: strings.TrimSpace(opts.ControlURL),
		user:       registry.CurrentUser(),
		pid:        os.Getpid(),
		events:     make(chan func(), 16),
		stop:       make(chan struct{}),
	}

	if !opts.NoDefault {
		claim, ok, err := reg.ClaimDefault(d.user)
		switch {
		case err != nil:
			logging.WarnWithContext(logger, "default daemon claim failed", "default_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "daemon registers as non-default"),
				logging.String(logging.FieldErrorHint, "check permissions on the registry directory"),
			)
		case ok:
			d.claim = claim
		default:
			logger.Info("another daemon holds the default slot",
				logging.String(logging.FieldEventType, "default_claim_taken"),
			)
		}
	}
	return d, nil
}

// Port returns the bound UDP port.
func (d *Daemon) Port() int { return d.ep.Port() }

// IsDefault reports whether this daemon holds the per-user default slot.
func (d *Daemon) IsDefault() bool { return d.claim != nil }

// Sessions exposes the session manager.
func (d *Daemon) Sessions() *session.Manager { return d.sessions }

// Run serves requests until ctx is cancelled or a quit request arrives.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer d.shutdown(cancel)

	d.ep.Serve()

	rec := registry.DaemonRecord{
		PID:         d.pid,
		User:        d.user,
		Port:        d.Port(),
		IsDefault:   d.IsDefault(),
		SessionRoot: d.sessions.Root(),
		StartedAt:   time.Now().UTC(),
	}
	if err := d.reg.Register(ctx, rec); err != nil {
		return fmt.Errorf("register daemon: %w", err)
	}
	d.logger.Info("daemon listening",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.Int(logging.FieldPort, d.Port()),
		logging.Bool("default", d.IsDefault()),
		logging.String("session_root", rec.SessionRoot),
	)
	d.announce()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.stop:
			return nil
		case fn := <-d.events:
			fn()
		case msg, ok := <-d.ep.Messages():
			if !ok {
				return nil
			}
			d.handle(ctx, msg)
		}
	}
}

func (d *Daemon) shutdown(cancel context.CancelFunc) {
	cancel()
	d.seqWG.Wait()
	d.sup.Wait()
	removeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := d.reg.Remove(removeCtx, d.pid); err != nil {
		logging.WarnWithContext(d.logger, "failed to remove registry record", "registry_remove_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale record is pruned on next enumeration"),
		)
	}
	if d.claim != nil {
		if err := d.claim.Release(); err != nil {
			d.logger.Warn("failed to release default claim", logging.Error(err))
		}
	}
	d.ep.Close()
	if d.ownsReg {
		_ = d.reg.Close()
	}
	d.logger.Info("daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// announce sends the single startup announce.
func (d *Daemon) announce() {
	if d.controlURL == "" {
		return
	}
	addr, err := ipc.ParseURL(d.controlURL)
	if err != nil {
		logging.WarnWithContext(d.logger, "invalid control url", "announce_skipped",
			logging.String("control_url", d.controlURL),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the launching client will time out"),
		)
		return
	}
	ann := protocol.Announce{
		Version:     protocol.ProtocolVersion,
		PID:         d.pid,
		Port:        d.Port(),
		SessionRoot: d.sessions.Root(),
		IsDefault:   d.IsDefault(),
	}
	if err := d.ep.Send(addr, ann.Message()); err != nil {
		d.logger.Warn("announce failed", logging.Error(err), logging.String("control_url", d.controlURL))
		return
	}
	d.logger.Debug("announced", logging.String("control_url", d.controlURL))
}

// post hands fn to the Run loop. It gives up once ctx is done.
func (d *Daemon) post(ctx context.Context, fn func()) {
	select {
	case d.events <- fn:
	case <-ctx.Done():
	}
}

func (d *Daemon) send(to *net.UDPAddr, msg protocol.Message) {
	if to == nil {
		return
	}
	if err := d.ep.Send(to, msg); err != nil {
		d.logger.Warn("reply failed",
			logging.String(logging.FieldPath, msg.Path),
			logging.String("to", to.String()),
			logging.Error(err),
		)
	}
}

func (d *Daemon) reply(req protocol.Message, items ...string) {
	d.send(req.Source, protocol.ReplyStrings(req.Path, items...))
}

func (d *Daemon) fail(req protocol.Message, code protocol.Code, text string) {
	d.logger.Debug("request failed",
		logging.String(logging.FieldPath, req.Path),
		logging.Int("code", int(code)),
		logging.String("message", text),
	)
	d.send(req.Source, protocol.ErrorReply(req.Path, code, text))
}
