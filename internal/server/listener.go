package server

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vaultkeep/vaultbackup/internal/registry"
	"github.com/vaultkeep/vaultbackup/internal/verrors"
	"github.com/vaultkeep/vaultbackup/internal/wire"
	"github.com/vaultkeep/vaultbackup/pkg/logging"
)

// Listener runs the server's accept loop: a semaphore of fixed width
// admits at most Limits.MaxClients simultaneous workers, each running in
// its own goroutine tracked by a WaitGroup for graceful drain, the same
// shape as the teacher's ConnectionManager in relay/server/connection.go
// generalized from an unbounded map to a genuinely bounded admission
// channel, because this protocol's spec requires a hard cap.
type Listener struct {
	cfg      *Config
	registry registry.Registry
	storage  *Storage
	log      *logging.Logger

	ln  net.Listener
	sem chan struct{}
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	draining       atomic.Bool
	activeSessions atomic.Int64

	ready chan struct{}
}

// NewListener builds a Listener ready to Serve once bound. Logging follows
// cfg.Logging (level and optional file), the same shape relay/server/main.go
// uses to set up its own operational logger.
func NewListener(cfg *Config, reg registry.Registry, storage *Storage) *Listener {
	ctx, cancel := context.WithCancel(context.Background())

	lg, err := logging.NewLogger("server", logging.ParseLevel(cfg.Logging.Level), cfg.Logging.File)
	if err != nil {
		// Falls back to an unconfigured stdout logger rather than failing
		// startup over a bad log path; NewLogger itself only errors when
		// the log file can't be opened.
		lg, _ = logging.NewLogger("server", logging.ParseLevel(cfg.Logging.Level), "")
	}

	return &Listener{
		cfg:      cfg,
		registry: reg,
		storage:  storage,
		log:      lg,
		sem:      make(chan struct{}, cfg.Limits.MaxClients),
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// Addr blocks until Serve has bound its listener, then returns its address.
// Intended for tests that start Serve on "127.0.0.1:0" and need the
// ephemeral port actually chosen.
func (l *Listener) Addr() net.Addr {
	<-l.ready
	return l.ln.Addr()
}

// Serve binds the configured listen address and accepts connections until
// Shutdown is called or the listener errors.
func (l *Listener) Serve() error {
	ln, err := net.Listen("tcp", l.cfg.Server.ListenAddr)
	if err != nil {
		return &verrors.NetworkError{Op: "listen", Addr: l.cfg.Server.ListenAddr, Err: err}
	}
	l.ln = ln
	close(l.ready)
	l.log.Infof("vaultbackup-server listening on %s", l.cfg.Server.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.draining.Load() {
				return nil
			}
			return &verrors.NetworkError{Op: "accept", Addr: l.cfg.Server.ListenAddr, Err: err}
		}

		select {
		case l.sem <- struct{}{}:
		default:
			l.log.Warnf("rejecting connection from %s: at capacity (%d)", conn.RemoteAddr(), l.cfg.Limits.MaxClients)
			conn.Close()
			continue
		}

		l.wg.Add(1)
		l.activeSessions.Add(1)
		go l.handleConn(conn)
	}
}

// Shutdown stops accepting new connections and waits up to drainTimeout
// for in-flight workers to finish, mirroring ConnectionManager.Stop's
// cancel-then-wait sequence.
func (l *Listener) Shutdown(drainTimeout time.Duration) error {
	l.draining.Store(true)
	l.cancel()
	if l.ln != nil {
		l.ln.Close()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return fmt.Errorf("shutdown: %d workers still active after %s", len(l.sem), drainTimeout)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer l.wg.Done()
	defer func() { <-l.sem }()
	defer l.activeSessions.Add(-1)
	defer conn.Close()

	w := &Worker{
		conn:     conn,
		r:        bufio.NewReader(conn),
		w:        bufio.NewWriter(conn),
		registry: l.registry,
		storage:  l.storage,
		limits:   l.cfg.Limits,
		ctx:      l.ctx,
		listener: l,
	}
	w.run()
}

// Worker services one accepted connection: reads one request header at a
// time with an idle deadline, validates the declared payload ceiling
// before reading the body, and dispatches on request code (§4.5).
type Worker struct {
	conn     net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	registry registry.Registry
	storage  *Storage
	limits   LimitsConfig
	ctx      context.Context
	listener *Listener
	session  *ActiveSession
}

func (w *Worker) run() {
	idle := time.Duration(w.limits.IdleTimeoutSeconds) * time.Second

	for {
		if err := w.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return
		}

		header, err := wire.ReadRequestHeader(w.r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.listener.log.Warnf("read request header from %s: %v", w.conn.RemoteAddr(), err)
			}
			return
		}

		if err := wire.CheckDeclaredSize(header.Code, header.PayloadLength); err != nil {
			w.replyProtocolFailure(err)
			return
		}

		body := make([]byte, header.PayloadLength)
		if _, err := io.ReadFull(w.r, body); err != nil {
			w.listener.log.Warnf("read payload from %s: %v", w.conn.RemoteAddr(), err)
			return
		}

		handler, ok := dispatchTable[header.Code]
		if !ok {
			w.replyProtocolFailure(fmt.Errorf("unknown request code %d", header.Code))
			return
		}

		if err := handler(w, header, body); err != nil {
			w.clientLog().Errorf("dispatch %s from %s: %v", wire.RequestName(header.Code), w.conn.RemoteAddr(), err)
			return
		}
		w.clientLog().LogRequest(wire.RequestName(header.Code))
	}
}

// clientLog returns a logger tagged with this worker's client identifier
// (hex-encoded, or all-zero before a session exists — e.g. during an
// unauthenticated 1032 HealthCheck), so its log lines can be filtered per
// client without parsing message text.
func (w *Worker) clientLog() *logging.ClientLogger {
	id := w.identifierInUse()
	return w.listener.log.ForClient(hex.EncodeToString(id[:]))
}

func (w *Worker) identifierInUse() [wire.IdentifierSize]byte {
	if w.session != nil {
		return w.session.ClientID
	}
	return [wire.IdentifierSize]byte{}
}

func (w *Worker) draining() bool {
	if w.listener == nil {
		return false
	}
	return w.listener.draining.Load()
}

func (w *Worker) activeSessions() uint16 {
	if w.listener == nil {
		return 0
	}
	n := w.listener.activeSessions.Load()
	if n < 0 {
		return 0
	}
	if n > int64(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(n)
}

func (w *Worker) writeResponse(code uint16, payload []byte) error {
	if err := wire.WriteResponseHeader(w.w, wire.NewResponseHeader(code, uint32(len(payload)))); err != nil {
		return err
	}
	if _, err := w.w.Write(payload); err != nil {
		return err
	}
	return w.w.Flush()
}

// replyProtocolFailure sends 1607 and returns the original error, for
// handlers that must both report it to the peer and abort the connection.
func (w *Worker) replyProtocolFailure(cause error) error {
	_ = w.writeResponse(wire.RespProtocolFailure, nil)
	return cause
}
