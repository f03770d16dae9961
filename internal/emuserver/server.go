// Package emuserver implements an in-process stand-in for a bsdebug
// device: a TCP listener that performs the handshake, decodes inbound
// request frames, and answers them through a typed plugin seam rather
// than a duck-typed mutable event object — each hook has its own
// function signature, set via functional options exactly as the
// teacher's Server wires in its codec, hub and send function.
//
// It serves one client connection at a time, matching the real
// device's single-debugger-session limitation: a second Accept only
// proceeds after the previous connection's handleConn returns.
package emuserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seanpm2001/roku-debug/internal/bsdebug"
	"github.com/seanpm2001/roku-debug/internal/logging"
	"github.com/seanpm2001/roku-debug/internal/metrics"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

// RequestHandler answers one decoded request. payload is the type
// DecodeRequest produced for command (nil-bodied commands decode to a
// pointer to an empty struct, never nil). The returned response is the
// body's entry list: []bsdebug.ThreadInfo for Threads,
// []bsdebug.StackFrame for StackTrace, []bsdebug.Variable for Variables;
// it is ignored for the empty-bodied commands. A response of any other
// type is encoded as an empty list.
type RequestHandler func(requestID uint32, command protocol.CommandCode, payload interface{}) (response interface{}, errCode protocol.ErrorCode)

// Option configures a Server at construction time.
type Option func(*Server)

func WithListenAddr(a string) Option { return func(s *Server) { s.addr = a } }

// WithVersion sets the (major, minor, patch, revisionTimestamp) the
// handshake response advertises. Defaults to the protocol package's
// reference triple with no revision timestamp.
func WithVersion(major, minor, patch uint32, revisionTimestamp int64) Option {
	return func(s *Server) {
		s.major, s.minor, s.patch, s.revisionTimestamp = major, minor, patch, revisionTimestamp
	}
}

func WithRequestHandler(fn RequestHandler) Option { return func(s *Server) { s.handleRequest = fn } }

// WithOnClientConnected registers a hook fired once a connection has
// completed its handshake, before any requests are read.
func WithOnClientConnected(fn func(net.Conn)) Option {
	return func(s *Server) { s.onClientConnected = fn }
}

// WithBeforeSendResponse / WithAfterSendResponse bracket every response write.
func WithBeforeSendResponse(fn func(requestID uint32, command protocol.CommandCode)) Option {
	return func(s *Server) { s.beforeSendResponse = fn }
}
func WithAfterSendResponse(fn func(requestID uint32, command protocol.CommandCode)) Option {
	return func(s *Server) { s.afterSendResponse = fn }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.handshakeTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

const defaultHandshakeTimeout = 3 * time.Second

// Server is the emulated bsdebug device.
type Server struct {
	addr               string
	major, minor, patch uint32
	revisionTimestamp  int64
	handshakeTimeout   time.Duration

	handleRequest      RequestHandler
	onClientConnected  func(net.Conn)
	beforeSendResponse func(requestID uint32, command protocol.CommandCode)
	afterSendResponse  func(requestID uint32, command protocol.CommandCode)

	mu       sync.RWMutex
	listener net.Listener

	activeMu sync.Mutex
	active   net.Conn

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	logger    *slog.Logger

	totalAccepted      atomic.Uint64
	totalHandshakeFail atomic.Uint64
	totalRequests      atomic.Uint64
}

// New constructs a Server. Call Serve to accept connections.
func New(opts ...Option) *Server {
	s := &Server{
		major:            protocol.DefaultProtocolMajor,
		minor:            protocol.DefaultProtocolMinor,
		patch:            protocol.DefaultProtocolPatch,
		handshakeTimeout: defaultHandshakeTimeout,
		readyCh:          make(chan struct{}),
		errCh:            make(chan error, 1),
		logger:           logging.L(),
		handleRequest:    defaultRequestHandler,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

func (s *Server) setAddr(a string) {
	s.mu.Lock()
	s.addr = a
	s.mu.Unlock()
}

func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	select {
	case s.errCh <- err:
	default:
	}
}

// Serve accepts client connections, one at a time, until ctx is
// cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("emuserver: listen: %w", err)
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("emuserver_listen", "addr", s.Addr())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			wrap := fmt.Errorf("emuserver: accept: %w", err)
			s.setError(wrap)
			return wrap
		}
		s.totalAccepted.Add(1)
		s.handleConn(ctx, conn)
	}
}

// Shutdown closes the listener and the active connection, if any.
func (s *Server) Shutdown(context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.activeMu.Lock()
	if s.active != nil {
		_ = s.active.Close()
	}
	s.activeMu.Unlock()
	return nil
}

// handleConn runs the handshake and request loop for one connection,
// blocking until it ends.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	connLogger := s.logger.With("remote", conn.RemoteAddr().String())
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	if err := s.doHandshake(conn); err != nil {
		s.totalHandshakeFail.Add(1)
		metrics.IncProtocolViolation(metrics.ViolationBadMagic)
		connLogger.Warn("emuserver_handshake_failed", "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})
	connLogger.Info("emuserver_client_connected")

	s.activeMu.Lock()
	s.active = conn
	s.activeMu.Unlock()
	defer func() {
		s.activeMu.Lock()
		if s.active == conn {
			s.active = nil
		}
		s.activeMu.Unlock()
	}()

	if s.onClientConnected != nil {
		s.onClientConnected(conn)
	}

	s.requestLoop(ctx, conn, connLogger)
}

func (s *Server) doHandshake(conn net.Conn) error {
	buf := make([]byte, 0, len(protocol.HandshakeMagic)+1)
	chunk := make([]byte, 64)
	for {
		req, outcome := bsdebug.HandshakeRequestFromBuffer(buf)
		if outcome.Success {
			if req.Magic != protocol.HandshakeMagic {
				return fmt.Errorf("unexpected magic %q", req.Magic)
			}
			resp := bsdebug.NewHandshakeResponse(s.major, s.minor, s.patch, s.revisionTimestamp)
			_, err := conn.Write(resp.ToBuffer())
			return err
		}
		n, err := conn.Read(chunk)
		if err != nil {
			return err
		}
		buf = append(buf, chunk[:n]...)
	}
}

// requestLoop reads request frames until the connection closes or ctx ends.
func (s *Server) requestLoop(ctx context.Context, conn net.Conn, logger *slog.Logger) {
	var unhandled []byte
	buf := make([]byte, 4096)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			unhandled = append(unhandled, buf[:n]...)
			for {
				rid, command, payload, outcome := bsdebug.DecodeRequest(unhandled)
				if !outcome.Success {
					if outcome.Err != nil {
						metrics.IncProtocolViolation(metrics.ViolationUnknownCommandCode)
						logger.Warn("emuserver_unknown_command", "error", outcome.Err)
						unhandled = unhandled[outcome.Consumed:]
						continue
					}
					break
				}
				unhandled = unhandled[outcome.Consumed:]
				s.totalRequests.Add(1)
				s.dispatch(conn, rid, command, payload, logger)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, requestID uint32, command protocol.CommandCode, payload interface{}, logger *slog.Logger) {
	response, errCode := s.handleRequest(requestID, command, payload)

	if s.beforeSendResponse != nil {
		s.beforeSendResponse(requestID, command)
	}

	buf, err := encodeResponse(requestID, command, errCode, response)
	if err != nil {
		logger.Error("emuserver_encode_response_failed", "command", command.String(), "error", err)
		return
	}
	if _, err := conn.Write(buf); err != nil {
		logger.Warn("emuserver_write_failed", "error", err)
		return
	}
	metrics.IncResponseDispatched(command.String())

	if s.afterSendResponse != nil {
		s.afterSendResponse(requestID, command)
	}
}

func encodeResponse(requestID uint32, command protocol.CommandCode, errCode protocol.ErrorCode, response interface{}) ([]byte, error) {
	switch command {
	case protocol.CommandStop, protocol.CommandContinue, protocol.CommandStep, protocol.CommandExitChannel:
		return bsdebug.NewEmptyResponse(requestID, errCode).ToBuffer(), nil
	case protocol.CommandThreads:
		threads, _ := response.([]bsdebug.ThreadInfo)
		return bsdebug.NewThreadsResponse(requestID, errCode, threads).ToBuffer(), nil
	case protocol.CommandStackTrace:
		frames, _ := response.([]bsdebug.StackFrame)
		return bsdebug.NewStackTraceResponse(requestID, errCode, frames).ToBuffer(), nil
	case protocol.CommandVariables:
		vars, _ := response.([]bsdebug.Variable)
		return bsdebug.NewVariablesResponse(requestID, errCode, vars).ToBuffer(), nil
	default:
		return nil, errors.New("emuserver: no encoder for command")
	}
}

// defaultRequestHandler answers every request with ErrorOK and an empty
// result, used when the caller doesn't install its own RequestHandler.
func defaultRequestHandler(_ uint32, command protocol.CommandCode, _ interface{}) (interface{}, protocol.ErrorCode) {
	switch command {
	case protocol.CommandThreads:
		return []bsdebug.ThreadInfo{}, protocol.ErrorOK
	case protocol.CommandStackTrace:
		return []bsdebug.StackFrame{}, protocol.ErrorOK
	case protocol.CommandVariables:
		return []bsdebug.Variable{}, protocol.ErrorOK
	default:
		return nil, protocol.ErrorOK
	}
}

// PushUpdate writes upd (an *bsdebug.AllThreadsStoppedUpdate,
// *bsdebug.ThreadAttachedUpdate, *bsdebug.IOPortOpenedUpdate or
// *bsdebug.UndefinedUpdate) to the currently connected client, if any. It
// is the seam scripted test scenarios use to simulate device-initiated
// events (the boot-time stop, a breakpoint hit, a thread attach).
func (s *Server) PushUpdate(upd interface{ ToBuffer() []byte }) error {
	s.activeMu.Lock()
	conn := s.active
	s.activeMu.Unlock()
	if conn == nil {
		return errors.New("emuserver: no active connection")
	}
	_, err := conn.Write(upd.ToBuffer())
	return err
}
