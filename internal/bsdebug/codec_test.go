package bsdebug

import (
	"testing"

	"github.com/seanpm2001/roku-debug/internal/protocol"
)

func TestHandshakeRoundTrip(t *testing.T) {
	req := NewHandshakeRequest()
	got, outcome := HandshakeRequestFromBuffer(req.ToBuffer())
	if !outcome.Success || got.Magic != protocol.HandshakeMagic {
		t.Fatalf("handshake request round trip: %+v / %+v", got, outcome)
	}

	resp := NewHandshakeResponse(3, 1, 0, 1700000000)
	gotResp, outcome := HandshakeResponseFromBuffer(resp.ToBuffer())
	if !outcome.Success {
		t.Fatalf("handshake response decode: %+v", outcome)
	}
	if gotResp.Major != 3 || gotResp.Minor != 1 || gotResp.Patch != 0 || gotResp.RevisionTimestamp != 1700000000 {
		t.Fatalf("unexpected handshake response: %+v", gotResp)
	}
}

func TestHandshakeResponsePreV3OmitsTimestamp(t *testing.T) {
	resp := NewHandshakeResponse(2, 0, 0, 1700000000)
	buf := resp.ToBuffer()
	got, outcome := HandshakeResponseFromBuffer(buf)
	if !outcome.Success {
		t.Fatalf("decode: %+v", outcome)
	}
	if got.RevisionTimestamp != 0 {
		t.Fatalf("expected zero timestamp for major<3, got %d", got.RevisionTimestamp)
	}
}

func TestEmptyRequestsRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		command protocol.CommandCode
		encode  func(uint32) []byte
		decode  func([]byte) (interface{}, Outcome)
	}{
		{"stop", protocol.CommandStop, NewStopRequest().ToBuffer, func(b []byte) (interface{}, Outcome) { return StopRequestFromBuffer(b) }},
		{"continue", protocol.CommandContinue, NewContinueRequest().ToBuffer, func(b []byte) (interface{}, Outcome) { return ContinueRequestFromBuffer(b) }},
		{"exitChannel", protocol.CommandExitChannel, NewExitChannelRequest().ToBuffer, func(b []byte) (interface{}, Outcome) { return ExitChannelRequestFromBuffer(b) }},
		{"threads", protocol.CommandThreads, NewThreadsRequest().ToBuffer, func(b []byte) (interface{}, Outcome) { return ThreadsRequestFromBuffer(b) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := tc.encode(42)
			_, outcome := tc.decode(buf)
			if !outcome.Success {
				t.Fatalf("decode failed: %+v", outcome)
			}
			rid, cmd, payload, outcome2 := DecodeRequest(buf)
			if !outcome2.Success || rid != 42 || cmd != tc.command || payload == nil {
				t.Fatalf("DecodeRequest mismatch: rid=%d cmd=%v payload=%v outcome=%+v", rid, cmd, payload, outcome2)
			}
		})
	}
}

func TestStepRequestRoundTrip(t *testing.T) {
	buf := NewStepRequest(3, protocol.StepOver).ToBuffer(9)
	got, outcome := StepRequestFromBuffer(buf)
	if !outcome.Success || got.ThreadIndex != 3 || got.StepType != protocol.StepOver {
		t.Fatalf("step request round trip: %+v / %+v", got, outcome)
	}
}

func TestStackTraceRoundTrip(t *testing.T) {
	reqBuf := NewStackTraceRequest(1).ToBuffer(5)
	req, outcome := StackTraceRequestFromBuffer(reqBuf)
	if !outcome.Success || req.ThreadIndex != 1 {
		t.Fatalf("stack trace request round trip: %+v / %+v", req, outcome)
	}

	frames := []StackFrame{
		{Line: 10, Func: "main", Path: "pkg:/source/main.brs"},
		{Line: 22, Func: "doWork", Path: "pkg:/source/work.brs"},
	}
	respBuf := NewStackTraceResponse(5, protocol.ErrorOK, frames).ToBuffer()
	resp, outcome := StackTraceResponseFromBuffer(respBuf)
	if !outcome.Success || resp.RequestID != 5 || len(resp.Frames) != 2 {
		t.Fatalf("stack trace response round trip: %+v / %+v", resp, outcome)
	}
	if resp.Frames[0] != frames[0] || resp.Frames[1] != frames[1] {
		t.Fatalf("frame mismatch: %+v", resp.Frames)
	}
}

func TestVariablesRoundTrip(t *testing.T) {
	path := []string{"m", "top", "screen"}
	reqBuf := NewVariablesRequest(path, true, 2, 1).ToBuffer(11)
	req, outcome := VariablesRequestFromBuffer(reqBuf)
	if !outcome.Success {
		t.Fatalf("decode: %+v", outcome)
	}
	if req.Flags&VariablesGetChildKeys == 0 || req.ThreadIndex != 2 || req.StackFrameIndex != 1 {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Path) != 3 || req.Path[2] != "screen" {
		t.Fatalf("unexpected path: %v", req.Path)
	}

	vars := []Variable{{Flags: 0, VariableType: 1, Name: "screen", Value: "roSGScreen"}}
	respBuf := NewVariablesResponse(11, protocol.ErrorOK, vars).ToBuffer()
	resp, outcome := VariablesResponseFromBuffer(respBuf)
	if !outcome.Success || len(resp.Variables) != 1 || resp.Variables[0].Name != "screen" {
		t.Fatalf("unexpected response: %+v / %+v", resp, outcome)
	}
}

func TestThreadsResponseRoundTrip(t *testing.T) {
	threads := []ThreadInfo{
		{IsPrimary: true, StopReason: protocol.StopReasonBreak, Line: 15, Func: "main", FilePath: "pkg:/source/main.brs"},
		{IsPrimary: false, StopReason: protocol.StopReasonNotStopped, Line: 0, Func: "", FilePath: ""},
	}
	buf := NewThreadsResponse(3, protocol.ErrorOK, threads).ToBuffer()
	got, outcome := ThreadsResponseFromBuffer(buf)
	if !outcome.Success || len(got.Threads) != 2 {
		t.Fatalf("threads response round trip: %+v / %+v", got, outcome)
	}
	if got.Threads[0] != threads[0] || got.Threads[1] != threads[1] {
		t.Fatalf("thread mismatch: %+v", got.Threads)
	}
}

func TestUpdatesRoundTrip(t *testing.T) {
	t.Run("allThreadsStopped", func(t *testing.T) {
		buf := NewAllThreadsStoppedUpdate(4, protocol.StopReasonRuntimeError, "Type Mismatch").ToBuffer()
		got, outcome := AllThreadsStoppedUpdateFromBuffer(buf)
		if !outcome.Success || got.PrimaryThreadIndex != 4 || got.StopReason != protocol.StopReasonRuntimeError || got.StopReasonDetail != "Type Mismatch" {
			t.Fatalf("unexpected update: %+v / %+v", got, outcome)
		}
	})
	t.Run("threadAttached", func(t *testing.T) {
		buf := NewThreadAttachedUpdate(2, protocol.StopReasonBreak, "").ToBuffer()
		got, outcome := ThreadAttachedUpdateFromBuffer(buf)
		if !outcome.Success || got.ThreadIndex != 2 || got.StopReason != protocol.StopReasonBreak {
			t.Fatalf("unexpected update: %+v / %+v", got, outcome)
		}
	})
	t.Run("ioPortOpened", func(t *testing.T) {
		buf := NewIOPortOpenedUpdate(8085).ToBuffer()
		got, outcome := IOPortOpenedUpdateFromBuffer(buf)
		if !outcome.Success || got.Port != 8085 {
			t.Fatalf("unexpected update: %+v / %+v", got, outcome)
		}
	})
	t.Run("undefined", func(t *testing.T) {
		buf := NewUndefinedUpdate().ToBuffer()
		got, outcome := UndefinedUpdateFromBuffer(buf)
		if !outcome.Success || got.ErrorCode != protocol.ErrorOK {
			t.Fatalf("unexpected update: %+v / %+v", got, outcome)
		}
	})
}

func TestPeekHeaderAndUpdateType(t *testing.T) {
	buf := NewAllThreadsStoppedUpdate(0, protocol.StopReasonNormal, "").ToBuffer()
	pl, rid, ok := PeekHeader(buf)
	if !ok || rid != 0 || pl != uint32(len(buf)) {
		t.Fatalf("PeekHeader mismatch: pl=%d rid=%d ok=%v", pl, rid, ok)
	}
	ut, ok := PeekUpdateType(buf)
	if !ok || ut != protocol.UpdateAllThreadsStopped {
		t.Fatalf("PeekUpdateType mismatch: %v %v", ut, ok)
	}
}

func TestPeekHeaderShortBuffer(t *testing.T) {
	if _, _, ok := PeekHeader([]byte{1, 2}); ok {
		t.Fatalf("expected PeekHeader to report not-enough-data on a short buffer")
	}
}

func TestDecodeRequestUnknownCommand(t *testing.T) {
	buf := encodeRequestFrame(1, protocol.CommandCode(99), nil)
	rid, cmd, payload, outcome := DecodeRequest(buf)
	if outcome.Success || outcome.Err != ErrUnknownCommandCode {
		t.Fatalf("expected ErrUnknownCommandCode, got %+v", outcome)
	}
	if rid != 1 || cmd != protocol.CommandCode(99) || payload != nil {
		t.Fatalf("unexpected decode result: rid=%d cmd=%v payload=%v", rid, cmd, payload)
	}
	if outcome.Consumed != len(buf) {
		t.Fatalf("expected full frame consumed despite unknown command, got %d of %d", outcome.Consumed, len(buf))
	}
}

func TestShortReadsAreRecoverable(t *testing.T) {
	full := NewStackTraceResponse(1, protocol.ErrorOK, []StackFrame{{Line: 1, Func: "f", Path: "p"}}).ToBuffer()
	for n := 0; n < len(full); n++ {
		_, outcome := StackTraceResponseFromBuffer(full[:n])
		if outcome.Success {
			t.Fatalf("unexpected success decoding truncated buffer of length %d", n)
		}
		if outcome.Err != nil {
			t.Fatalf("short buffer (len %d) should be recoverable (Err nil), got %v", n, outcome.Err)
		}
	}
	got, outcome := StackTraceResponseFromBuffer(full)
	if !outcome.Success || len(got.Frames) != 1 {
		t.Fatalf("full buffer should decode cleanly: %+v / %+v", got, outcome)
	}
}
