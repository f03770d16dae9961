package bsdebug

import (
	"github.com/seanpm2001/roku-debug/internal/protocol"
	"github.com/seanpm2001/roku-debug/internal/wire"
)

// HandshakeRequestV3 is the client's opening frame: the bare 8-byte
// NUL-terminated magic string, with no common header — the device reads
// it before any framing is negotiated.
type HandshakeRequestV3 struct {
	Magic string
}

// NewHandshakeRequest builds the standard handshake request.
func NewHandshakeRequest() *HandshakeRequestV3 {
	return &HandshakeRequestV3{Magic: protocol.HandshakeMagic}
}

// ToBuffer encodes the bare magic cstring.
func (h *HandshakeRequestV3) ToBuffer() []byte {
	w := wire.NewWriter()
	w.WriteCString(h.Magic)
	return w.Bytes()
}

// HandshakeRequestFromBuffer decodes a bare magic cstring from data. Used
// server-side to recognize the client's opening frame.
func HandshakeRequestFromBuffer(data []byte) (*HandshakeRequestV3, Outcome) {
	r := wire.NewReader(data)
	magic, err := r.ReadCString()
	if err != nil {
		return nil, needMore
	}
	return &HandshakeRequestV3{Magic: magic}, Outcome{Success: true, Consumed: r.Offset()}
}

// HandshakeResponseV3 is the device's reply: a common response header
// (packet_length, request_id=0, error_code) followed by the magic
// string, the negotiated (major, minor, patch) version, and — for
// major>=3 — an i64 revision timestamp.
type HandshakeResponseV3 struct {
	PacketLength      uint32
	Magic             string
	Major             uint32
	Minor             uint32
	Patch             uint32
	RevisionTimestamp int64
}

// NewHandshakeResponse builds a handshake response for the given
// negotiated version.
func NewHandshakeResponse(major, minor, patch uint32, revisionTimestamp int64) *HandshakeResponseV3 {
	return &HandshakeResponseV3{Magic: protocol.HandshakeMagic, Major: major, Minor: minor, Patch: patch, RevisionTimestamp: revisionTimestamp}
}

// ToBuffer encodes the handshake response, populating PacketLength.
func (h *HandshakeResponseV3) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteCString(h.Magic)
	bw.WriteU32LE(h.Major)
	bw.WriteU32LE(h.Minor)
	bw.WriteU32LE(h.Patch)
	if h.Major >= 3 {
		bw.WriteI64LE(h.RevisionTimestamp)
	}
	buf := encodeResponseFrame(0, protocol.ErrorOK, bw.Bytes())
	h.PacketLength = uint32(len(buf))
	return buf
}

// HandshakeResponseFromBuffer decodes a handshake response frame.
func HandshakeResponseFromBuffer(data []byte) (*HandshakeResponseV3, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	_, errCode, ok := decodeResponseHeader(r)
	if !ok {
		return nil, needMore
	}
	magic, err := r.ReadCString()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	major, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	minor, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	patch, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	var ts int64
	if major >= 3 {
		ts, err = r.ReadI64LE()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
	}
	_ = errCode
	return &HandshakeResponseV3{
		PacketLength:      pl,
		Magic:             magic,
		Major:             major,
		Minor:             minor,
		Patch:             patch,
		RevisionTimestamp: ts,
	}, Outcome{Success: true, Consumed: int(pl)}
}
