// Package session implements the client side of the bsdebug control
// channel: handshake negotiation, request-id bookkeeping, response
// dispatch against a table of in-flight requests, asynchronous update
// handling, and the first-run-continue quirk devices exhibit on boot.
//
// A Session owns one net.Conn. Run drives the read loop; it blocks until
// the connection closes, the context is cancelled, or a protocol
// violation forces the session closed. Request methods (Continue, Step,
// Threads, StackTrace, GetVariables, Pause, ExitChannel) are safe to call
// from any goroutine while Run is active.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"

	"github.com/seanpm2001/roku-debug/internal/bsdebug"
	"github.com/seanpm2001/roku-debug/internal/logging"
	"github.com/seanpm2001/roku-debug/internal/metrics"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

// ProtocolVersion is the (major, minor, patch) negotiated at handshake.
type ProtocolVersion struct {
	Major, Minor, Patch uint32
}

// StopEvent describes a device pause surfaced to the caller — every
// AllThreadsStopped update past the first (the first is absorbed by the
// first-run-continue quirk).
type StopEvent struct {
	PrimaryThreadIndex int32
	Reason             protocol.StopReason
	Detail             string
}

// ThreadAttachedEvent mirrors a ThreadAttached update.
type ThreadAttachedEvent struct {
	ThreadIndex int32
	Reason      protocol.StopReason
	Detail      string
}

// ResponseHandler is invoked once per dispatched response, after the
// request has been removed from the active-requests table. body is one
// of *bsdebug.EmptyResponse, *bsdebug.ThreadsResponse,
// *bsdebug.StackTraceResponse or *bsdebug.VariablesResponse.
type ResponseHandler func(requestID uint32, command protocol.CommandCode, body interface{}, extra bsdebug.ExtraData)

type responseResult struct {
	body interface{}
	err  error
}

type requestRecord struct {
	command protocol.CommandCode
	extra   bsdebug.ExtraData
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithOnStop registers the callback fired when the device reports a stop
// past the boot-time one absorbed by the first-run-continue quirk.
func WithOnStop(fn func(StopEvent)) Option { return func(s *Session) { s.onStop = fn } }

// WithOnThreadAttached registers the callback fired on a ThreadAttached update.
func WithOnThreadAttached(fn func(ThreadAttachedEvent)) Option {
	return func(s *Session) { s.onThreadAttached = fn }
}

// WithOnIOPortLine registers the callback fired once per line read from
// the device's program I/O port, once it has been opened.
func WithOnIOPortLine(fn func(string)) Option { return func(s *Session) { s.onIOPortLine = fn } }

// WithOnClosed registers the callback fired exactly once when the session
// is torn down, with the error that caused it (nil on a clean EOF).
func WithOnClosed(fn func(error)) Option { return func(s *Session) { s.onClosed = fn } }

// WithResponseHandler registers a generic per-response callback.
func WithResponseHandler(fn ResponseHandler) Option { return func(s *Session) { s.onResponse = fn } }

// withIODialer overrides how the session dials the program I/O port.
// Exposed only to tests.
func withIODialer(fn func(addr string) (net.Conn, error)) Option {
	return func(s *Session) { s.ioDialer = fn }
}

// Session is the client-side bsdebug protocol state machine for one
// control-channel connection.
type Session struct {
	conn net.Conn

	mu                sync.Mutex
	handshakeComplete bool
	protocolVersion   ProtocolVersion
	stopped           bool
	firstRunContinueFired bool
	primaryThreadIndex int32
	stackFrameIndex    uint32
	lastStackSize      uint32
	totalRequests      uint32
	activeRequests     map[uint32]requestRecord
	waiters            map[uint32]chan responseResult
	unhandled          []byte
	closed             bool

	onStop           func(StopEvent)
	onThreadAttached func(ThreadAttachedEvent)
	onIOPortLine     func(string)
	onClosed         func(error)
	onResponse       ResponseHandler
	ioDialer         func(addr string) (net.Conn, error)
}

// New constructs a Session bound to conn. Call Run to start it; Run
// performs the handshake write and then reads until the connection ends.
func New(conn net.Conn, opts ...Option) *Session {
	s := &Session{
		conn:           conn,
		activeRequests: make(map[uint32]requestRecord),
		waiters:        make(map[uint32]chan responseResult),
		ioDialer:       func(addr string) (net.Conn, error) { return net.Dial("tcp", addr) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandshakeComplete reports whether the handshake has been negotiated.
func (s *Session) HandshakeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeComplete
}

// ProtocolVersion returns the negotiated version. Zero value until the
// handshake completes.
func (s *Session) ProtocolVersion() ProtocolVersion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocolVersion
}

// Stopped reports whether the device is currently paused.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Run writes the handshake request and then reads from the connection
// until it closes, ctx is cancelled, or a fatal protocol violation
// occurs. It returns nil on a clean EOF and a non-nil error otherwise.
func (s *Session) Run(ctx context.Context) error {
	if _, err := s.conn.Write(bsdebug.NewHandshakeRequest().ToBuffer()); err != nil {
		metrics.IncProtocolViolation(metrics.ViolationSocketError)
		s.fail(err)
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-done:
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, rerr := s.conn.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.unhandled = append(s.unhandled, buf[:n]...)
			s.mu.Unlock()
			if perr := s.parse(); perr != nil {
				s.fail(perr)
				return perr
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				s.fail(nil)
				return nil
			}
			if ctx.Err() != nil {
				s.fail(ctx.Err())
				return ctx.Err()
			}
			metrics.IncProtocolViolation(metrics.ViolationSocketError)
			s.fail(rerr)
			return rerr
		}
	}
}

// fail tears the session down exactly once: closes the socket, fails all
// pending WaitForResponse waiters, and invokes onClosed.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	_ = s.conn.Close()
	for _, ch := range waiters {
		select {
		case ch <- responseResult{err: cmp(err)}:
		default:
		}
	}
	if s.onClosed != nil {
		s.onClosed(err)
	}
}

func cmp(err error) error {
	if err != nil {
		return err
	}
	return ErrSessionClosed
}

// parse drains as much of s.unhandled as it can, dispatching completed
// frames. Buffer/table mutation happens under s.mu; user callbacks are
// collected as thunks and fired after the lock is released, so a
// callback that calls back into the Session (e.g. issuing Continue from
// an OnStop handler) cannot deadlock against a non-reentrant mutex.
func (s *Session) parse() error {
	var events []func()

	s.mu.Lock()
	for {
		data := s.unhandled
		if len(data) == 0 {
			break
		}

		if !s.handshakeComplete {
			resp, outcome := bsdebug.HandshakeResponseFromBuffer(data)
			if outcome.Err != nil {
				s.mu.Unlock()
				return fmt.Errorf("session: handshake decode: %w", outcome.Err)
			}
			if !outcome.Success {
				break
			}
			if resp.Magic != protocol.HandshakeMagic {
				metrics.IncProtocolViolation(metrics.ViolationBadMagic)
				s.mu.Unlock()
				return ErrBadMagic
			}
			s.protocolVersion = ProtocolVersion{resp.Major, resp.Minor, resp.Patch}
			s.handshakeComplete = true
			s.unhandled = s.unhandled[outcome.Consumed:]
			continue
		}

		consumed, progressed, ferr, ev := s.parseOneFrameLocked(data)
		if ferr != nil {
			s.mu.Unlock()
			return ferr
		}
		if !progressed {
			break
		}
		s.unhandled = s.unhandled[consumed:]
		if ev != nil {
			events = append(events, ev)
		}
	}
	s.mu.Unlock()

	for _, ev := range events {
		ev()
	}
	return nil
}

// parseOneFrameLocked must be called with s.mu held. It peeks the
// request_id of the frame at the head of data and routes to a response
// decoder (request_id present in activeRequests) or an update decoder
// (request_id == 0). A non-nil returned error is fatal to the session.
func (s *Session) parseOneFrameLocked(data []byte) (consumed int, progressed bool, err error, event func()) {
	pl, rid, ok := bsdebug.PeekHeader(data)
	if !ok {
		return 0, false, nil, nil
	}

	if rid != 0 {
		rec, found := s.activeRequests[rid]
		if !found {
			metrics.IncProtocolViolation(metrics.ViolationUnknownRequestID)
			return 0, false, ErrUnknownRequestID, nil
		}
		return s.decodeResponseLocked(data, int(pl), rid, rec)
	}

	ut, ok := bsdebug.PeekUpdateType(data)
	if !ok {
		return 0, false, nil, nil
	}
	return s.decodeUpdateLocked(data, int(pl), ut)
}

func (s *Session) decodeResponseLocked(data []byte, pl int, rid uint32, rec requestRecord) (consumed int, progressed bool, err error, event func()) {
	switch rec.command {
	case protocol.CommandStop, protocol.CommandContinue, protocol.CommandStep, protocol.CommandExitChannel:
		resp, outcome := bsdebug.EmptyResponseFromBuffer(data)
		return s.finishResponseLocked(outcome, rid, rec, resp)
	case protocol.CommandThreads:
		resp, outcome := bsdebug.ThreadsResponseFromBuffer(data)
		return s.finishResponseLocked(outcome, rid, rec, resp)
	case protocol.CommandStackTrace:
		resp, outcome := bsdebug.StackTraceResponseFromBuffer(data)
		c, p, e, ev := s.finishResponseLocked(outcome, rid, rec, resp)
		if outcome.Success {
			s.lastStackSize = uint32(len(resp.Frames))
		}
		return c, p, e, ev
	case protocol.CommandVariables:
		resp, outcome := bsdebug.VariablesResponseFromBuffer(data)
		return s.finishResponseLocked(outcome, rid, rec, resp)
	default:
		// Our own activeRequests table is only ever populated with known
		// commands by issueRequest, so this path is unreachable absent a
		// bug in request bookkeeping. Treat conservatively as need-more.
		_ = pl
		return 0, false, nil, nil
	}
}

func (s *Session) finishResponseLocked(outcome bsdebug.Outcome, rid uint32, rec requestRecord, body interface{}) (consumed int, progressed bool, err error, event func()) {
	if !outcome.Success {
		if outcome.Err != nil {
			metrics.IncProtocolViolation(metrics.ViolationDecodeError)
			delete(s.activeRequests, rid)
			ch := s.waiters[rid]
			delete(s.waiters, rid)
			return outcome.Consumed, true, nil, func() {
				if ch != nil {
					select {
					case ch <- responseResult{err: outcome.Err}:
					default:
					}
				}
			}
		}
		return 0, false, nil, nil
	}

	delete(s.activeRequests, rid)
	ch := s.waiters[rid]
	delete(s.waiters, rid)
	handler := s.onResponse
	command := rec.command
	extra := rec.extra

	return outcome.Consumed, true, nil, func() {
		metrics.IncResponseDispatched(command.String())
		if ch != nil {
			select {
			case ch <- responseResult{body: body}:
			default:
			}
		}
		if handler != nil {
			handler(rid, command, body, extra)
		}
	}
}

func (s *Session) decodeUpdateLocked(data []byte, pl int, ut protocol.UpdateType) (consumed int, progressed bool, err error, event func()) {
	switch ut {
	case protocol.UpdateAllThreadsStopped:
		u, outcome := bsdebug.AllThreadsStoppedUpdateFromBuffer(data)
		if !outcome.Success {
			return s.updateOutcome(outcome)
		}
		return outcome.Consumed, true, nil, func() { s.handleAllThreadsStopped(u) }
	case protocol.UpdateThreadAttached:
		u, outcome := bsdebug.ThreadAttachedUpdateFromBuffer(data)
		if !outcome.Success {
			return s.updateOutcome(outcome)
		}
		return outcome.Consumed, true, nil, func() { s.handleThreadAttached(u) }
	case protocol.UpdateIOPortOpened:
		u, outcome := bsdebug.IOPortOpenedUpdateFromBuffer(data)
		if !outcome.Success {
			return s.updateOutcome(outcome)
		}
		return outcome.Consumed, true, nil, func() { s.handleIOPortOpened(u) }
	case protocol.UpdateUndefined:
		_, outcome := bsdebug.UndefinedUpdateFromBuffer(data)
		if !outcome.Success {
			return s.updateOutcome(outcome)
		}
		return outcome.Consumed, true, nil, func() { metrics.IncUpdateReceived(protocol.UpdateUndefined.String()) }
	default:
		metrics.IncProtocolViolation(metrics.ViolationUnknownUpdateType)
		logging.L().Warn("bsdebug update: unknown update_type, frame dropped", "update_type", uint32(ut))
		return pl, true, nil, nil
	}
}

func (s *Session) updateOutcome(outcome bsdebug.Outcome) (consumed int, progressed bool, err error, event func()) {
	if outcome.Err != nil {
		metrics.IncProtocolViolation(metrics.ViolationDecodeError)
		return outcome.Consumed, true, nil, nil
	}
	return 0, false, nil, nil
}

func (s *Session) handleAllThreadsStopped(u *bsdebug.AllThreadsStoppedUpdate) {
	metrics.IncUpdateReceived(protocol.UpdateAllThreadsStopped.String())

	s.mu.Lock()
	if !s.firstRunContinueFired {
		s.firstRunContinueFired = true
		s.mu.Unlock()
		if _, err := s.issueRequest(protocol.CommandContinue, bsdebug.ExtraData{}, bsdebug.NewContinueRequest().ToBuffer); err != nil {
			logging.L().Warn("bsdebug session: first-run continue failed", "error", err)
		}
		return
	}
	s.stopped = true
	s.primaryThreadIndex = u.PrimaryThreadIndex
	s.stackFrameIndex = 0
	cb := s.onStop
	s.mu.Unlock()

	if cb != nil {
		cb(StopEvent{PrimaryThreadIndex: u.PrimaryThreadIndex, Reason: u.StopReason, Detail: u.StopReasonDetail})
	}
}

func (s *Session) handleThreadAttached(u *bsdebug.ThreadAttachedUpdate) {
	metrics.IncUpdateReceived(protocol.UpdateThreadAttached.String())
	s.mu.Lock()
	cb := s.onThreadAttached
	s.mu.Unlock()
	if cb != nil {
		cb(ThreadAttachedEvent{ThreadIndex: u.ThreadIndex, Reason: u.StopReason, Detail: u.StopReasonDetail})
	}
}

func (s *Session) handleIOPortOpened(u *bsdebug.IOPortOpenedUpdate) {
	metrics.IncUpdateReceived(protocol.UpdateIOPortOpened.String())
	s.connectIOPort(u.Port)
}

// issueRequest allocates the next request_id under lock, registers the
// active-requests and waiters entries, then writes the encoded frame.
func (s *Session) issueRequest(command protocol.CommandCode, extra bsdebug.ExtraData, encode func(requestID uint32) []byte) (uint32, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}
	s.totalRequests++
	id := s.totalRequests
	buf := encode(id)
	s.activeRequests[id] = requestRecord{command: command, extra: extra}
	ch := make(chan responseResult, 1)
	s.waiters[id] = ch
	s.mu.Unlock()

	metrics.IncRequestIssued(command.String())
	if _, err := s.conn.Write(buf); err != nil {
		s.mu.Lock()
		delete(s.activeRequests, id)
		delete(s.waiters, id)
		s.mu.Unlock()
		return id, err
	}
	return id, nil
}

// Continue resumes a stopped device. Returns ErrNotStopped without
// touching the wire if the device is currently running.
func (s *Session) Continue() (uint32, error) {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return 0, ErrNotStopped
	}
	s.stopped = false
	s.mu.Unlock()
	return s.issueRequest(protocol.CommandContinue, bsdebug.ExtraData{}, bsdebug.NewContinueRequest().ToBuffer)
}

// Pause asks a running device to stop. Returns ErrAlreadyStopped without
// touching the wire if the device is already stopped.
func (s *Session) Pause() (uint32, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrAlreadyStopped
	}
	s.mu.Unlock()
	return s.issueRequest(protocol.CommandStop, bsdebug.ExtraData{}, bsdebug.NewStopRequest().ToBuffer)
}

// Step advances thread threadIndex by one unit of stepType. Requires the
// device to be stopped.
func (s *Session) Step(threadIndex uint32, stepType protocol.StepType) (uint32, error) {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return 0, ErrNotStopped
	}
	s.mu.Unlock()
	req := bsdebug.NewStepRequest(threadIndex, stepType)
	return s.issueRequest(protocol.CommandStep, bsdebug.ExtraData{}, req.ToBuffer)
}

// Threads requests the current thread list. Requires the device to be stopped.
func (s *Session) Threads() (uint32, error) {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return 0, ErrNotStopped
	}
	s.mu.Unlock()
	return s.issueRequest(protocol.CommandThreads, bsdebug.ExtraData{}, bsdebug.NewThreadsRequest().ToBuffer)
}

// StackTrace requests the call stack of threadIndex. Requires the device
// to be stopped.
func (s *Session) StackTrace(threadIndex uint32) (uint32, error) {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return 0, ErrNotStopped
	}
	s.mu.Unlock()
	req := bsdebug.NewStackTraceRequest(threadIndex)
	return s.issueRequest(protocol.CommandStackTrace, bsdebug.ExtraData{}, req.ToBuffer)
}

// CurrentStackFrame, passed as GetVariables' stackFrameIndex, evaluates
// the request relative to the session's stack-frame cursor (see
// SetStackFrame) instead of an explicit frame.
const CurrentStackFrame = math.MaxUint32

// GetVariables requests the variables reachable from path, evaluated at
// threadIndex/stackFrameIndex. Passing CurrentStackFrame for
// stackFrameIndex evaluates relative to the cursor set by SetStackFrame
// (frame 0 if it was never set). Requires the device to be stopped.
func (s *Session) GetVariables(path []string, getChildKeys bool, threadIndex, stackFrameIndex uint32) (uint32, error) {
	s.mu.Lock()
	if !s.stopped {
		s.mu.Unlock()
		return 0, ErrNotStopped
	}
	if stackFrameIndex == CurrentStackFrame {
		stackFrameIndex = s.stackFrameIndex
	}
	s.mu.Unlock()
	req := bsdebug.NewVariablesRequest(path, getChildKeys, threadIndex, stackFrameIndex)
	return s.issueRequest(protocol.CommandVariables, bsdebug.ExtraData{VariablesPath: path}, req.ToBuffer)
}

// ExitChannel asks the device to terminate the running channel.
// Unconditional: issued regardless of stopped state.
func (s *Session) ExitChannel() (uint32, error) {
	return s.issueRequest(protocol.CommandExitChannel, bsdebug.ExtraData{}, bsdebug.NewExitChannelRequest().ToBuffer)
}

// SetStackFrame moves the session's current stack-frame cursor, used by
// callers that want a bare GetVariables to implicitly evaluate relative
// to a chosen frame rather than frame 0. i must be within the frame count
// of the most recently dispatched StackTrace response.
func (s *Session) SetStackFrame(i uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= s.lastStackSize {
		return ErrInvalidStackFrame
	}
	s.stackFrameIndex = i
	return nil
}

// StackFrame returns the session's current stack-frame cursor.
func (s *Session) StackFrame() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stackFrameIndex
}

// WaitForResponse blocks until the response to requestID is dispatched or
// ctx is done. The returned value is the same body passed to
// ResponseHandler (nil on a malformed-response or session-closed error).
func (s *Session) WaitForResponse(ctx context.Context, requestID uint32) (interface{}, error) {
	s.mu.Lock()
	ch, ok := s.waiters[requestID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoSuchRequest
	}
	select {
	case res := <-ch:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingRequests reports the number of requests awaiting a response.
func (s *Session) PendingRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeRequests)
}
