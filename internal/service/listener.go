package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

// rebindThreshold is how many consecutive accept failures trigger a
// rebind of the unix socket.
const rebindThreshold = 5

// ListenerConfig carries the socket server settings.
type ListenerConfig struct {
	// Network selects the transport: "unix" or "tcp".
	Network string

	// SocketPath is the unix socket path.
	SocketPath string

	// TCPAddr is the host:port bind address for tcp.
	TCPAddr string

	// MaxRequestBytes bounds a single request. Larger requests are
	// rejected without queueing.
	MaxRequestBytes int

	// ReadTimeout bounds reading one request from a connection.
	ReadTimeout time.Duration

	// AcceptTimeout bounds each blocking accept so stop requests are
	// observed promptly.
	AcceptTimeout time.Duration
}

// deadlineListener is satisfied by both *net.UnixListener and
// *net.TCPListener.
type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// Listener accepts client connections, validates requests, writes the
// queued acknowledgement, and hands commands to the queue. Each
// connection is handled to completion (read, parse, ack, enqueue)
// before the next accept; the read deadline bounds how long one client
// can hold the listener. Terminal results are written later by the
// dispatcher through each command's ResponseWriter.
type Listener struct {
	cfg    ListenerConfig
	queue  *Queue
	logger Logger

	ready     chan struct{}
	readyOnce sync.Once

	mu sync.Mutex
	ln net.Listener
}

// NewListener creates a listener feeding the given queue.
func NewListener(cfg ListenerConfig, queue *Queue) *Listener {
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = 65536
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = 100 * time.Millisecond
	}
	return &Listener{
		cfg:    cfg,
		queue:  queue,
		logger: noopLogger{},
		ready:  make(chan struct{}),
	}
}

// SetLogger sets the logger for listener events.
func (l *Listener) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Ready is closed once the listener is bound and accepting.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound address, or nil before binding.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Run binds the socket and accepts connections until the context is
// cancelled. Bind failures are returned; accept failures are retried,
// with a full rebind after persistent failures on a unix socket.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.bind(); err != nil {
		return err
	}
	defer l.closeSocket()

	l.readyOnce.Do(func() { close(l.ready) })
	l.logger.Info("listener ready", "network", l.cfg.Network, "addr", l.Addr().String())

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := l.accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			failures++
			l.logger.Warn("accept failed", "error", err, "consecutive", failures)
			if failures >= rebindThreshold && l.cfg.Network == "unix" {
				if err := l.rebind(); err != nil {
					return fmt.Errorf("rebinding socket: %w", err)
				}
				failures = 0
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		failures = 0
		l.handleConn(conn)
	}
}

// bind creates the listening socket. A stale unix socket file left by a
// crashed process is detected by dialling it: no answer means no owner,
// so the file is removed and the address reused. An answering socket
// means another instance is alive and binding fails.
func (l *Listener) bind() error {
	var ln net.Listener
	var err error

	switch l.cfg.Network {
	case "unix":
		if err := l.clearStaleSocket(); err != nil {
			return err
		}
		ln, err = net.Listen("unix", l.cfg.SocketPath)
		if err != nil {
			return fmt.Errorf("binding unix socket %s: %w", l.cfg.SocketPath, err)
		}
		// Local clients of any uid may submit display commands.
		if err := os.Chmod(l.cfg.SocketPath, 0o666); err != nil {
			ln.Close()
			return fmt.Errorf("setting socket permissions: %w", err)
		}

	case "tcp":
		ln, err = net.Listen("tcp", l.cfg.TCPAddr)
		if err != nil {
			return fmt.Errorf("binding tcp %s: %w", l.cfg.TCPAddr, err)
		}

	default:
		return fmt.Errorf("unsupported network %q", l.cfg.Network)
	}

	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	return nil
}

// clearStaleSocket removes a dead socket file at the configured path.
func (l *Listener) clearStaleSocket() error {
	if _, err := os.Stat(l.cfg.SocketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking socket path: %w", err)
	}

	conn, err := net.DialTimeout("unix", l.cfg.SocketPath, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, l.cfg.SocketPath)
	}

	l.logger.Info("removing stale socket", "path", l.cfg.SocketPath)
	if err := os.Remove(l.cfg.SocketPath); err != nil {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	return nil
}

// accept waits for one connection, bounded by the accept timeout.
func (l *Listener) accept() (net.Conn, error) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	if ln == nil {
		return nil, net.ErrClosed
	}
	if dl, ok := ln.(deadlineListener); ok {
		dl.SetDeadline(time.Now().Add(l.cfg.AcceptTimeout))
	}
	return ln.Accept()
}

// rebind tears the socket down and binds it again. Used when accept
// fails persistently, which on unix sockets usually means the file was
// removed or replaced underneath us.
func (l *Listener) rebind() error {
	l.logger.Warn("persistent accept failures, rebinding", "path", l.cfg.SocketPath)
	l.closeSocket()
	return l.bind()
}

// closeSocket closes the listener and unlinks the unix socket file.
func (l *Listener) closeSocket() {
	l.mu.Lock()
	ln := l.ln
	l.ln = nil
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	if l.cfg.Network == "unix" {
		os.Remove(l.cfg.SocketPath)
	}
}

// Close stops accepting. Any connection being handled finishes its
// read-ack-enqueue sequence first, since handling runs inline in Run.
func (l *Listener) Close() {
	l.closeSocket()
}

// handleConn reads one request, acknowledges it, and enqueues the
// command. Runs synchronously in the accept loop: no new connection is
// accepted until this one has been acknowledged and queued. The
// connection stays open for the dispatcher to deliver the terminal
// result; on validation failure an error response is written and the
// connection closed here.
func (l *Listener) handleConn(conn net.Conn) {
	data, err := l.readRequest(conn)
	if err != nil {
		l.logger.Debug("rejecting request", "remote", conn.RemoteAddr(), "error", err)
		writeAndClose(conn, Response{Status: StatusError, Message: err.Error()})
		return
	}

	cmd, err := ParseRequest(data)
	if err != nil {
		l.logger.Debug("invalid request", "remote", conn.RemoteAddr(), "error", err)
		writeAndClose(conn, Response{Status: StatusError, Message: err.Error()})
		return
	}

	cmd.ID = NewCommandID()
	cmd.Source = SourceSocket
	cmd.EnqueuedAt = time.Now()
	cmd.Writer = &connWriter{conn: conn}

	ack := Response{Status: StatusQueued, Message: "Command queued", CommandID: cmd.ID}
	if _, err := conn.Write(encodeResponse(ack)); err != nil {
		l.logger.Debug("writing ack failed", "command_id", cmd.ID, "error", err)
		conn.Close()
		return
	}

	depth := l.queue.Enqueue(cmd)
	l.logger.Debug("command queued",
		"command_id", cmd.ID, "action", cmd.Action, "queue_depth", depth)
}

// readRequest reads until the buffer holds one complete JSON value, the
// size bound is exceeded, or the read deadline passes.
func (l *Listener) readRequest(conn net.Conn) ([]byte, error) {
	conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if len(buf) > l.cfg.MaxRequestBytes {
				return nil, fmt.Errorf("%w: limit %d bytes", ErrRequestTooLarge, l.cfg.MaxRequestBytes)
			}
			if trimmed := bytes.TrimSpace(buf); len(trimmed) > 0 && json.Valid(trimmed) {
				return trimmed, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(buf)) > 0 {
				// Client half-closed after sending; let the parser
				// report what is wrong with the payload.
				return bytes.TrimSpace(buf), nil
			}
			return nil, fmt.Errorf("reading request: %w", err)
		}
	}
}

// writeAndClose delivers a response and closes the connection.
func writeAndClose(conn net.Conn, resp Response) {
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.Write(encodeResponse(resp))
	conn.Close()
}

// connWriter delivers the terminal result on the client connection and
// closes it. One request per connection.
type connWriter struct {
	conn net.Conn
	once sync.Once
}

// WriteResponse writes the terminal result and closes the connection.
func (w *connWriter) WriteResponse(resp Response) error {
	var err error
	w.once.Do(func() {
		w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_, err = w.conn.Write(encodeResponse(resp))
		w.conn.Close()
	})
	return err
}
