package emuserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/seanpm2001/roku-debug/internal/bsdebug"
	"github.com/seanpm2001/roku-debug/internal/protocol"
)

func startServer(t *testing.T, opts ...Option) (*Server, net.Conn) {
	t.Helper()
	s := New(append([]Option{WithListenAddr("127.0.0.1:0")}, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = s.Serve(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(time.Second):
		t.Fatal("server never became ready")
	}

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, conn
}

func doHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	if _, err := conn.Write(bsdebug.NewHandshakeRequest().ToBuffer()); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	_, outcome := bsdebug.HandshakeResponseFromBuffer(buf[:n])
	if !outcome.Success {
		t.Fatalf("bad handshake response: %+v", outcome)
	}
}

func TestHandshakeThenDefaultThreadsResponse(t *testing.T) {
	_, conn := startServer(t)
	doHandshake(t, conn)

	req := bsdebug.NewThreadsRequest()
	if _, err := conn.Write(req.ToBuffer(1)); err != nil {
		t.Fatalf("write threads request: %v", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read threads response: %v", err)
	}
	resp, outcome := bsdebug.ThreadsResponseFromBuffer(buf[:n])
	if !outcome.Success {
		t.Fatalf("decode threads response: %+v", outcome)
	}
	if resp.RequestID != 1 || resp.ErrorCode != protocol.ErrorOK {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Threads) != 0 {
		t.Fatalf("expected empty thread list from default handler, got %v", resp.Threads)
	}
}

func TestCustomRequestHandler(t *testing.T) {
	handler := func(requestID uint32, command protocol.CommandCode, payload interface{}) (interface{}, protocol.ErrorCode) {
		if command != protocol.CommandStackTrace {
			t.Fatalf("unexpected command: %v", command)
		}
		req, ok := payload.(*bsdebug.StackTraceRequest)
		if !ok || req.ThreadIndex != 2 {
			t.Fatalf("unexpected payload: %#v", payload)
		}
		return []bsdebug.StackFrame{{Line: 42, Func: "main", Path: "pkg:/source/main.brs"}}, protocol.ErrorOK
	}
	_, conn := startServer(t, WithRequestHandler(handler))
	doHandshake(t, conn)

	req := bsdebug.NewStackTraceRequest(2)
	if _, err := conn.Write(req.ToBuffer(7)); err != nil {
		t.Fatalf("write stack trace request: %v", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read stack trace response: %v", err)
	}
	resp, outcome := bsdebug.StackTraceResponseFromBuffer(buf[:n])
	if !outcome.Success {
		t.Fatalf("decode stack trace response: %+v", outcome)
	}
	if resp.RequestID != 7 || len(resp.Frames) != 1 || resp.Frames[0].Line != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestPushUpdate(t *testing.T) {
	connectedCh := make(chan struct{}, 1)
	s, conn := startServer(t, WithOnClientConnected(func(net.Conn) { connectedCh <- struct{}{} }))
	doHandshake(t, conn)

	select {
	case <-connectedCh:
	case <-time.After(time.Second):
		t.Fatal("onClientConnected never fired")
	}

	upd := bsdebug.NewAllThreadsStoppedUpdate(0, protocol.StopReasonNormal, "")
	if err := s.PushUpdate(upd); err != nil {
		t.Fatalf("PushUpdate: %v", err)
	}

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("read update: %v", err)
	}
	got, outcome := bsdebug.AllThreadsStoppedUpdateFromBuffer(buf[:n])
	if !outcome.Success || got.StopReason != protocol.StopReasonNormal {
		t.Fatalf("unexpected update: %+v / %+v", got, outcome)
	}
}
