package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"raysession/internal/ipc"
	"raysession/internal/logging"
	"raysession/internal/protocol"
)

var (
	// ErrHandshakeTimeout means a launched daemon never announced itself.
	ErrHandshakeTimeout = errors.New("daemon did not announce in time")
	// ErrTransportClosed means the endpoint stopped delivering messages.
	ErrTransportClosed = errors.New("control transport closed")
)

// Transport is the datagram endpoint a Client talks through.
type Transport interface {
	Send(addr *net.UDPAddr, msg protocol.Message) error
	Messages() <-chan protocol.Message
	Port() int
}

// Handshake describes what the client knows about its daemon. A daemon the
// client launched itself is not addressable until its announce arrives.
type Handshake struct {
	Launched  bool
	Announced bool
	Daemon    *net.UDPAddr
}

// Connected returns the handshake for an already running daemon on port.
func Connected(port int) Handshake {
	return Handshake{Daemon: ipc.LoopbackAddr(port)}
}

// Awaiting returns the handshake for a daemon the client just launched.
func Awaiting() Handshake {
	return Handshake{Launched: true}
}

// Ready reports whether requests may be sent.
func (h Handshake) Ready() bool {
	return h.Daemon != nil && (!h.Launched || h.Announced)
}

// observe folds an announce into the handshake.
func (h Handshake) observe(msg protocol.Message) (Handshake, bool) {
	if msg.Path != protocol.PathAnnounce || h.Ready() {
		return h, false
	}
	ann, err := protocol.ParseAnnounce(msg)
	if err != nil {
		return h, false
	}
	h.Announced = true
	if msg.Source != nil {
		h.Daemon = msg.Source
	} else {
		h.Daemon = ipc.LoopbackAddr(ann.Port)
	}
	return h, true
}

// Request is one operation to send.
type Request struct {
	Path string
	Args []protocol.Arg
}

// NewRequest resolves op and types its literal arguments.
func NewRequest(op string, args []string) (Request, protocol.Scope, error) {
	path, scope, err := protocol.ResolvePath(op)
	if err != nil {
		return Request{}, scope, err
	}
	return Request{Path: path, Args: protocol.ParseArgs(args)}, scope, nil
}

// Options tune a Client.
type Options struct {
	Tick            time.Duration
	AnnounceTimeout time.Duration
	Sink            Sink
	Logger          *slog.Logger
}

// Client runs one request over a Transport.
type Client struct {
	tr     Transport
	opts   Options
	logger *slog.Logger
}

// New constructs a Client. Zero options fall back to 200 ms ticks, a 2 s
// announce window and a discarding sink.
func New(tr Transport, opts Options) *Client {
	if opts.Tick <= 0 {
		opts.Tick = 200 * time.Millisecond
	}
	if opts.AnnounceTimeout <= 0 {
		opts.AnnounceTimeout = 2 * time.Second
	}
	if opts.Sink == nil {
		opts.Sink = &CollectSink{}
	}
	return &Client{
		tr:     tr,
		opts:   opts,
		logger: logging.NewComponentLogger(opts.Logger, "control"),
	}
}

// Run sends req once the handshake allows it and waits for completion.
// Cancelling ctx ends the wait with an Interrupted result; nothing is sent to
// the daemon in that case.
func (c *Client) Run(ctx context.Context, req Request, hs Handshake) (Result, error) {
	pending := NewPending(req.Path)

	ticker := time.NewTicker(c.opts.Tick)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if hs.Ready() {
		if err := c.send(hs, req); err != nil {
			return Result{}, err
		}
	} else {
		if !hs.Launched {
			return Result{}, errors.New("no daemon address")
		}
		timer := time.NewTimer(c.opts.AnnounceTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	messages := c.tr.Messages()
	for {
		select {
		case <-pending.Done():
			return pending.Result(), nil
		case <-ctx.Done():
			c.logger.Debug("wait interrupted", logging.String(logging.FieldPath, req.Path))
			return Result{Interrupted: true}, nil
		case <-ticker.C:
		case <-deadline:
			return Result{}, ErrHandshakeTimeout
		case msg, ok := <-messages:
			if !ok {
				return Result{}, ErrTransportClosed
			}
			var announced bool
			hs, announced = hs.observe(msg)
			if announced {
				deadline = nil
				c.logger.Debug("daemon announced", logging.String("daemon", hs.Daemon.String()))
				if err := c.send(hs, req); err != nil {
					return Result{}, err
				}
				continue
			}
			if hs.Ready() {
				c.handle(msg, pending)
			}
		}
	}
}

func (c *Client) send(hs Handshake, req Request) error {
	if err := c.tr.Send(hs.Daemon, protocol.New(req.Path, req.Args...)); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// handle interprets one message against the outstanding request.
func (c *Client) handle(msg protocol.Message, pending *Pending) {
	switch msg.Path {
	case protocol.PathReply:
		path, items, ok := protocol.ParseReply(msg)
		if !ok || path != pending.Path() {
			c.logger.Debug("ignoring unrelated reply", logging.String(logging.FieldPath, path))
			return
		}
		if protocol.IsList(path) {
			if len(items) == 0 {
				pending.Complete(protocol.ExitOK)
				return
			}
			for _, item := range items {
				c.opts.Sink.Item(path, item.String())
			}
			return
		}
		for _, item := range items {
			c.opts.Sink.Message(item.String())
		}
		pending.Complete(protocol.ExitOK)
	case protocol.PathError:
		path, code, text, ok := protocol.ParseError(msg)
		if !ok || path != pending.Path() {
			c.logger.Debug("ignoring unrelated error reply", logging.String(logging.FieldPath, path))
			return
		}
		c.opts.Sink.Message(text)
		pending.Fail(code, text)
	default:
		c.logger.Debug("ignoring message", logging.String(logging.FieldPath, msg.Path))
	}
}
