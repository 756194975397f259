package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"raysession/internal/logging"
	"raysession/internal/protocol"
)

const inboxSize = 64

// Endpoint is a bound loopback UDP socket.
type Endpoint struct {
	conn   *net.UDPConn
	logger *slog.Logger
	inbox  chan protocol.Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// Listen binds 127.0.0.1:port. Port 0 picks a free port.
func Listen(ctx context.Context, port int, logger *slog.Logger) (*Endpoint, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("listen: invalid port %d", port)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("listen on udp port %d: %w", port, err)
	}
	epCtx, cancel := context.WithCancel(ctx)
	return &Endpoint{
		conn:   conn,
		logger: logging.NewComponentLogger(logger, "ipc"),
		inbox:  make(chan protocol.Message, inboxSize),
		ctx:    epCtx,
		cancel: cancel,
	}, nil
}

// Port returns the bound port.
func (e *Endpoint) Port() int {
	return e.conn.LocalAddr().(*net.UDPAddr).Port
}

// Addr returns the bound address.
func (e *Endpoint) Addr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Messages delivers decoded datagrams. The channel closes after Close.
func (e *Endpoint) Messages() <-chan protocol.Message {
	return e.inbox
}

// Serve starts the listener goroutine.
func (e *Endpoint) Serve() {
	e.logger.Debug("udp endpoint listening", logging.Int(logging.FieldPort, e.Port()))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(e.inbox)
		buf := make([]byte, protocol.MaxDatagramSize)
		for {
			n, src, err := e.conn.ReadFromUDP(buf)
			if err != nil {
				if e.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(e.logger, "udp read failed", "ipc_read_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "one control datagram may be lost"),
					logging.String(logging.FieldErrorHint, "retry the command"),
				)
				continue
			}
			msg, err := protocol.Decode(buf[:n])
			if err != nil {
				e.logger.Debug("dropping undecodable datagram",
					logging.String("source", src.String()),
					logging.Error(err),
				)
				continue
			}
			msg.Source = src
			select {
			case e.inbox <- msg:
			case <-e.ctx.Done():
				return
			}
		}
	}()
}

// Send encodes msg and writes it to addr. Safe for concurrent use.
func (e *Endpoint) Send(addr *net.UDPAddr, msg protocol.Message) error {
	if addr == nil {
		return errors.New("send: nil address")
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if _, err := e.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Path, addr, err)
	}
	return nil
}

// SendPort sends msg to a loopback port.
func (e *Endpoint) SendPort(port int, msg protocol.Message) error {
	return e.Send(LoopbackAddr(port), msg)
}

// Close stops the listener and releases the socket.
func (e *Endpoint) Close() {
	e.once.Do(func() {
		e.cancel()
		_ = e.conn.Close()
		e.wg.Wait()
	})
}

// LoopbackAddr returns 127.0.0.1:port.
func LoopbackAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// URL formats the address handed to a daemon through --control-url.
func URL(port int) string {
	return fmt.Sprintf("udp://127.0.0.1:%d/", port)
}

// ParseURL extracts the port from a URL produced by URL. A bare port number
// is accepted too.
func ParseURL(raw string) (*net.UDPAddr, error) {
	var port int
	if _, err := fmt.Sscanf(raw, "udp://127.0.0.1:%d/", &port); err != nil {
		if _, err2 := fmt.Sscanf(raw, "%d", &port); err2 != nil {
			return nil, fmt.Errorf("parse control url %q: %w", raw, err)
		}
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("parse control url %q: invalid port", raw)
	}
	return LoopbackAddr(port), nil
}
