package bsdebug

import (
	"testing"

	"github.com/seanpm2001/roku-debug/internal/protocol"
)

// FuzzCodecRoundTrip ensures encode-then-decode reproduces the path of a
// variable-length Variables request, both through its own decoder and
// through DecodeRequest's dispatch.
func FuzzCodecRoundTrip(f *testing.F) {
	f.Add(uint32(1), "m", "top", int32(0))
	f.Add(uint32(99999), "", "screen", int32(-1))
	f.Fuzz(func(t *testing.T, requestID uint32, p0, p1 string, threadIndex int32) {
		req := NewVariablesRequest([]string{p0, p1}, true, uint32(threadIndex), 0)
		buf := req.ToBuffer(requestID)
		got, outcome := VariablesRequestFromBuffer(buf)
		if !outcome.Success {
			t.Fatalf("decode failed for requestID=%d p0=%q p1=%q: %+v", requestID, p0, p1, outcome)
		}
		if len(got.Path) != 2 || got.Path[0] != p0 || got.Path[1] != p1 {
			t.Fatalf("path mismatch: got %v want [%q %q]", got.Path, p0, p1)
		}
		rid, cmd, payload, outcome2 := DecodeRequest(buf)
		if !outcome2.Success || rid != requestID || cmd != protocol.CommandVariables || payload == nil {
			t.Fatalf("DecodeRequest mismatch: rid=%d cmd=%v payload=%v outcome=%+v", rid, cmd, payload, outcome2)
		}
	})
}

// FuzzCodecDecodeInvalid ensures every FromBuffer decoder handles
// arbitrary bytes without panicking, regardless of how they're sliced.
func FuzzCodecDecodeInvalid(f *testing.F) {
	f.Add([]byte{0, 0, 0, 0})
	f.Add([]byte{4, 0, 0, 0})
	f.Add(NewHandshakeResponse(3, 1, 0, 0).ToBuffer())
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = HandshakeRequestFromBuffer(data)
		_, _ = HandshakeResponseFromBuffer(data)
		_, _ = StopRequestFromBuffer(data)
		_, _ = ContinueRequestFromBuffer(data)
		_, _ = ExitChannelRequestFromBuffer(data)
		_, _ = ThreadsRequestFromBuffer(data)
		_, _ = StepRequestFromBuffer(data)
		_, _ = StackTraceRequestFromBuffer(data)
		_, _ = VariablesRequestFromBuffer(data)
		_, _ = EmptyResponseFromBuffer(data)
		_, _ = ThreadsResponseFromBuffer(data)
		_, _ = StackTraceResponseFromBuffer(data)
		_, _ = VariablesResponseFromBuffer(data)
		_, _ = AllThreadsStoppedUpdateFromBuffer(data)
		_, _ = ThreadAttachedUpdateFromBuffer(data)
		_, _ = IOPortOpenedUpdateFromBuffer(data)
		_, _ = UndefinedUpdateFromBuffer(data)
		_, _, _, _ = DecodeRequest(data)
	})
}
