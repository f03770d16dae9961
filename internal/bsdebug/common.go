// Package bsdebug implements the bsdebug control-channel wire protocol: a
// length-prefixed, little-endian, versioned binary framing with three
// message shapes (handshake, request/response, asynchronous update).
//
// Every message type exposes a FromBuffer decoder and a ToBuffer
// encoder. Decoding is round-trip faithful: decoding the bytes produced
// by ToBuffer always reproduces the original fields, modulo
// PacketLength, which is unset on a freshly constructed message and
// populated the first time it is encoded.
package bsdebug

import (
	"errors"

	"github.com/seanpm2001/roku-debug/internal/protocol"
	"github.com/seanpm2001/roku-debug/internal/wire"
)

// ErrMalformed marks a frame that was fully present (its declared
// PacketLength was satisfied) but whose body could not be parsed, e.g. an
// unterminated cstring or a body shorter than its fields. Unrecognized
// command codes and update types are reported with ErrUnknownCommandCode
// and ErrUnknownUpdateType instead. The frame must
// still be consumed from the caller's unhandled-bytes buffer using
// Outcome.Consumed.
var ErrMalformed = errors.New("bsdebug: malformed frame")

// Outcome reports the result of a FromBuffer decode attempt.
type Outcome struct {
	// Success is true only when the frame was fully and validly decoded.
	Success bool
	// Consumed is the number of bytes the caller should slice off the
	// head of its unhandled-bytes buffer. It is 0 when Success is false
	// and Err is nil (not enough data yet — retry once more bytes
	// arrive). It equals the frame's declared packet length when Err is
	// non-nil (the frame is consumed despite failing to parse, per the
	// DecodeError policy) and when Success is true.
	Consumed int
	// Err is non-nil for a malformed-but-present frame (ErrMalformed) or
	// an unrecognized command/update enum (ErrUnknownCommandCode /
	// ErrUnknownUpdateType). Nil for both a clean success and a
	// recoverable short read.
	Err error
}

// ErrUnknownCommandCode is returned (via Outcome.Err) when a request
// frame's command_code does not match any known CommandCode.
var ErrUnknownCommandCode = errors.New("bsdebug: unknown command code")

// ErrUnknownUpdateType is returned (via Outcome.Err) when an update
// frame's update_type does not match the type the caller expected.
var ErrUnknownUpdateType = errors.New("bsdebug: unknown update type")

// needMore is the zero-value outcome meaning "not enough bytes yet".
var needMore = Outcome{}

// header is the parsed common non-handshake frame header.
type header struct {
	packetLength uint32
	requestID    uint32
}

// beginFrame reads the 4-byte packet_length prefix and, if the full
// frame is present in data, returns a wire.Reader bounded to exactly
// data[:packetLength] positioned just after packet_length. It returns ok
// == false when the prefix itself isn't fully present yet, or when the
// declared length exceeds what's buffered — both are "need more data",
// never an error.
func beginFrame(data []byte) (r *wire.Reader, packetLength uint32, ok bool) {
	probe := wire.NewReader(data)
	pl, err := probe.ReadU32LE()
	if err != nil {
		return nil, 0, false
	}
	if pl < 4 || uint64(len(data)) < uint64(pl) {
		return nil, 0, false
	}
	bounded := wire.NewReader(data[:pl])
	if _, err := bounded.ReadU32LE(); err != nil {
		return nil, 0, false
	}
	return bounded, pl, true
}

// boundedCount clamps a wire-read entry count against the bytes actually
// left in r, so a hostile count (e.g. 0xFFFFFFFF in a 16-byte frame)
// can't drive a preallocation far larger than the frame that carries it.
// Every entry this package decodes consumes at least one byte, so count
// can never validly exceed r.Remaining().
func boundedCount(count uint32, r *wire.Reader) uint32 {
	if rem := r.Remaining(); rem >= 0 && count > uint32(rem) {
		return uint32(rem)
	}
	return count
}

// decodeRequestHeader reads request_id + command_code from a
// frame already positioned past packet_length.
func decodeRequestHeader(r *wire.Reader) (requestID uint32, command protocol.CommandCode, ok bool) {
	rid, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	cc, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	return rid, protocol.CommandCode(cc), true
}

// decodeResponseHeader reads request_id + error_code.
func decodeResponseHeader(r *wire.Reader) (requestID uint32, errCode protocol.ErrorCode, ok bool) {
	rid, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	ec, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	return rid, protocol.ErrorCode(ec), true
}

// decodeUpdateHeader reads request_id (validated == 0) + error_code +
// update_type.
func decodeUpdateHeader(r *wire.Reader) (errCode protocol.ErrorCode, updateType protocol.UpdateType, ok bool) {
	rid, err := r.ReadU32LE()
	if err != nil || rid != 0 {
		return 0, 0, false
	}
	ec, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	ut, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	return protocol.ErrorCode(ec), protocol.UpdateType(ut), true
}

// PeekHeader reports the packet_length and request_id of the frame at the
// head of data without committing to a message kind — request_id sits at
// the same offset in every non-handshake frame, so a caller can branch on
// it (0 => update, else => response correlated against its own
// active-requests table) before picking a concrete decoder. ok is false
// when the frame isn't fully buffered yet.
func PeekHeader(data []byte) (packetLength, requestID uint32, ok bool) {
	r, pl, ok2 := beginFrame(data)
	if !ok2 {
		return 0, 0, false
	}
	rid, err := r.ReadU32LE()
	if err != nil {
		return 0, 0, false
	}
	return pl, rid, true
}

// PeekUpdateType reports the update_type field of an update frame (one
// already known to have request_id == 0) without fully decoding its body.
func PeekUpdateType(data []byte) (updateType protocol.UpdateType, ok bool) {
	r, _, ok2 := beginFrame(data)
	if !ok2 {
		return 0, false
	}
	if _, err := r.ReadU32LE(); err != nil { // request_id
		return 0, false
	}
	if _, err := r.ReadU32LE(); err != nil { // error_code
		return 0, false
	}
	ut, err := r.ReadU32LE()
	if err != nil {
		return 0, false
	}
	return protocol.UpdateType(ut), true
}

// peekRequestHeader reports packet_length, request_id and command_code of
// the request frame at the head of data.
func peekRequestHeader(data []byte) (packetLength, requestID uint32, command protocol.CommandCode, ok bool) {
	r, pl, ok2 := beginFrame(data)
	if !ok2 {
		return 0, 0, 0, false
	}
	rid, cmd, ok3 := decodeRequestHeader(r)
	if !ok3 {
		return 0, 0, 0, false
	}
	return pl, rid, cmd, true
}

// DecodeRequest peeks the command_code of the request frame at the head
// of data and dispatches to the matching decoder, returning the decoded
// payload as one of *StopRequest, *ContinueRequest, *ExitChannelRequest,
// *ThreadsRequest, *StepRequest, *StackTraceRequest or *VariablesRequest.
// An unrecognized command_code yields a nil payload and
// Outcome.Err == ErrUnknownCommandCode, with the frame still consumed per
// its declared packet_length.
func DecodeRequest(data []byte) (requestID uint32, command protocol.CommandCode, payload interface{}, outcome Outcome) {
	pl, rid, cmd, ok := peekRequestHeader(data)
	if !ok {
		return 0, 0, nil, needMore
	}
	switch cmd {
	case protocol.CommandStop:
		req, oc := StopRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandContinue:
		req, oc := ContinueRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandExitChannel:
		req, oc := ExitChannelRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandThreads:
		req, oc := ThreadsRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandStep:
		req, oc := StepRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandStackTrace:
		req, oc := StackTraceRequestFromBuffer(data)
		return rid, cmd, req, oc
	case protocol.CommandVariables:
		req, oc := VariablesRequestFromBuffer(data)
		return rid, cmd, req, oc
	default:
		return rid, cmd, nil, Outcome{Consumed: int(pl), Err: ErrUnknownCommandCode}
	}
}

// encodeRequestFrame writes [packet_length, requestID, command] followed
// by body, returning the complete wire bytes.
func encodeRequestFrame(requestID uint32, command protocol.CommandCode, body []byte) []byte {
	w := wire.NewWriter()
	w.WriteBytes(body)
	w.InsertU32LEAtFront(uint32(command))
	w.InsertU32LEAtFront(requestID)
	w.InsertU32LEAtFront(uint32(4 + 4 + 4 + len(body)))
	return w.Bytes()
}

// encodeResponseFrame writes [packet_length, requestID, errCode]
// followed by body.
func encodeResponseFrame(requestID uint32, errCode protocol.ErrorCode, body []byte) []byte {
	w := wire.NewWriter()
	w.WriteBytes(body)
	w.InsertU32LEAtFront(uint32(errCode))
	w.InsertU32LEAtFront(requestID)
	w.InsertU32LEAtFront(uint32(4 + 4 + 4 + len(body)))
	return w.Bytes()
}

// encodeUpdateFrame writes [packet_length, 0, errCode, updateType]
// followed by body. request_id is always 0 for updates.
func encodeUpdateFrame(errCode protocol.ErrorCode, updateType protocol.UpdateType, body []byte) []byte {
	w := wire.NewWriter()
	w.WriteBytes(body)
	w.InsertU32LEAtFront(uint32(updateType))
	w.InsertU32LEAtFront(uint32(errCode))
	w.InsertU32LEAtFront(uint32(0))
	w.InsertU32LEAtFront(uint32(4 + 4 + 4 + 4 + len(body)))
	return w.Bytes()
}
