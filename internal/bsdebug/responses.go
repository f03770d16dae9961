package bsdebug

import (
	"github.com/seanpm2001/roku-debug/internal/protocol"
	"github.com/seanpm2001/roku-debug/internal/wire"
)

// EmptyResponse is the response body shape for Stop, Continue, Step and
// ExitChannel requests: nothing beyond the common response header.
type EmptyResponse struct {
	PacketLength uint32
	RequestID    uint32
	ErrorCode    protocol.ErrorCode
}

func NewEmptyResponse(requestID uint32, errCode protocol.ErrorCode) *EmptyResponse {
	return &EmptyResponse{RequestID: requestID, ErrorCode: errCode}
}

func (resp *EmptyResponse) ToBuffer() []byte {
	buf := encodeResponseFrame(resp.RequestID, resp.ErrorCode, nil)
	resp.PacketLength = uint32(len(buf))
	return buf
}

// EmptyResponseFromBuffer decodes an empty-bodied response frame.
func EmptyResponseFromBuffer(data []byte) (*EmptyResponse, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	rid, errCode, ok := decodeResponseHeader(r)
	if !ok {
		return nil, needMore
	}
	return &EmptyResponse{PacketLength: pl, RequestID: rid, ErrorCode: errCode}, Outcome{Success: true, Consumed: int(pl)}
}

// ThreadInfo is one entry of a ThreadsResponse.
type ThreadInfo struct {
	IsPrimary  bool
	StopReason protocol.StopReason
	Line       uint32
	Func       string
	FilePath   string
}

// ThreadsResponse answers a ThreadsRequest with the current thread list.
type ThreadsResponse struct {
	PacketLength uint32
	RequestID    uint32
	ErrorCode    protocol.ErrorCode
	Threads      []ThreadInfo
}

func NewThreadsResponse(requestID uint32, errCode protocol.ErrorCode, threads []ThreadInfo) *ThreadsResponse {
	return &ThreadsResponse{RequestID: requestID, ErrorCode: errCode, Threads: threads}
}

func (resp *ThreadsResponse) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(uint32(len(resp.Threads)))
	for _, t := range resp.Threads {
		var primary uint8
		if t.IsPrimary {
			primary = 1
		}
		bw.WriteU8(primary)
		bw.WriteU8(uint8(t.StopReason))
		bw.WriteU32LE(t.Line)
		bw.WriteCString(t.Func)
		bw.WriteCString(t.FilePath)
	}
	buf := encodeResponseFrame(resp.RequestID, resp.ErrorCode, bw.Bytes())
	resp.PacketLength = uint32(len(buf))
	return buf
}

// ThreadsResponseFromBuffer decodes a ThreadsResponse frame.
func ThreadsResponseFromBuffer(data []byte) (*ThreadsResponse, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	rid, errCode, ok := decodeResponseHeader(r)
	if !ok {
		return nil, needMore
	}
	count, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	threads := make([]ThreadInfo, 0, boundedCount(count, r))
	for i := uint32(0); i < count; i++ {
		primary, err := r.ReadU8()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		reason, err := r.ReadU8()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		line, err := r.ReadU32LE()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		fn, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		path, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		threads = append(threads, ThreadInfo{IsPrimary: primary != 0, StopReason: protocol.StopReason(reason), Line: line, Func: fn, FilePath: path})
	}
	return &ThreadsResponse{PacketLength: pl, RequestID: rid, ErrorCode: errCode, Threads: threads}, Outcome{Success: true, Consumed: int(pl)}
}

// StackFrame is one entry of a StackTraceResponse.
type StackFrame struct {
	Line uint32
	Func string
	Path string
}

// StackTraceResponse (wire name StackTraceV3) answers a StackTraceRequest.
type StackTraceResponse struct {
	PacketLength uint32
	RequestID    uint32
	ErrorCode    protocol.ErrorCode
	Frames       []StackFrame
}

func NewStackTraceResponse(requestID uint32, errCode protocol.ErrorCode, frames []StackFrame) *StackTraceResponse {
	return &StackTraceResponse{RequestID: requestID, ErrorCode: errCode, Frames: frames}
}

func (resp *StackTraceResponse) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(uint32(len(resp.Frames)))
	for _, f := range resp.Frames {
		bw.WriteU32LE(f.Line)
		bw.WriteCString(f.Func)
		bw.WriteCString(f.Path)
	}
	buf := encodeResponseFrame(resp.RequestID, resp.ErrorCode, bw.Bytes())
	resp.PacketLength = uint32(len(buf))
	return buf
}

// StackTraceResponseFromBuffer decodes a StackTraceV3 frame.
func StackTraceResponseFromBuffer(data []byte) (*StackTraceResponse, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	rid, errCode, ok := decodeResponseHeader(r)
	if !ok {
		return nil, needMore
	}
	count, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	frames := make([]StackFrame, 0, boundedCount(count, r))
	for i := uint32(0); i < count; i++ {
		line, err := r.ReadU32LE()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		fn, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		path, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		frames = append(frames, StackFrame{Line: line, Func: fn, Path: path})
	}
	return &StackTraceResponse{PacketLength: pl, RequestID: rid, ErrorCode: errCode, Frames: frames}, Outcome{Success: true, Consumed: int(pl)}
}

// Variable is one entry of a VariablesResponse.
type Variable struct {
	Flags        uint8
	VariableType uint8
	Name         string
	Value        string
}

// VariablesResponse answers a VariablesRequest.
type VariablesResponse struct {
	PacketLength uint32
	RequestID    uint32
	ErrorCode    protocol.ErrorCode
	Variables    []Variable
}

func NewVariablesResponse(requestID uint32, errCode protocol.ErrorCode, vars []Variable) *VariablesResponse {
	return &VariablesResponse{RequestID: requestID, ErrorCode: errCode, Variables: vars}
}

func (resp *VariablesResponse) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(uint32(len(resp.Variables)))
	for _, v := range resp.Variables {
		bw.WriteU8(v.Flags)
		bw.WriteU8(v.VariableType)
		bw.WriteCString(v.Name)
		bw.WriteCString(v.Value)
	}
	buf := encodeResponseFrame(resp.RequestID, resp.ErrorCode, bw.Bytes())
	resp.PacketLength = uint32(len(buf))
	return buf
}

// VariablesResponseFromBuffer decodes a VariablesResponse frame.
func VariablesResponseFromBuffer(data []byte) (*VariablesResponse, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	rid, errCode, ok := decodeResponseHeader(r)
	if !ok {
		return nil, needMore
	}
	count, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	vars := make([]Variable, 0, boundedCount(count, r))
	for i := uint32(0); i < count; i++ {
		flags, err := r.ReadU8()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		vtype, err := r.ReadU8()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		name, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		value, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		vars = append(vars, Variable{Flags: flags, VariableType: vtype, Name: name, Value: value})
	}
	return &VariablesResponse{PacketLength: pl, RequestID: rid, ErrorCode: errCode, Variables: vars}, Outcome{Success: true, Consumed: int(pl)}
}
