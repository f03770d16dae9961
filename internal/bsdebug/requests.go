package bsdebug

import (
	"github.com/seanpm2001/roku-debug/internal/protocol"
	"github.com/seanpm2001/roku-debug/internal/wire"
)

// StopRequest asks the device to pause execution. Empty body.
type StopRequest struct{ PacketLength uint32 }

func NewStopRequest() *StopRequest { return &StopRequest{} }

func (req *StopRequest) ToBuffer(requestID uint32) []byte {
	buf := encodeRequestFrame(requestID, protocol.CommandStop, nil)
	req.PacketLength = uint32(len(buf))
	return buf
}

// StopRequestFromBuffer decodes an empty-bodied Stop request frame.
func StopRequestFromBuffer(data []byte) (*StopRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	return &StopRequest{PacketLength: pl}, Outcome{Success: true, Consumed: int(pl)}
}

// ContinueRequest resumes execution. Empty body.
type ContinueRequest struct{ PacketLength uint32 }

func NewContinueRequest() *ContinueRequest { return &ContinueRequest{} }

func (req *ContinueRequest) ToBuffer(requestID uint32) []byte {
	buf := encodeRequestFrame(requestID, protocol.CommandContinue, nil)
	req.PacketLength = uint32(len(buf))
	return buf
}

// ContinueRequestFromBuffer decodes an empty-bodied Continue request frame.
func ContinueRequestFromBuffer(data []byte) (*ContinueRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	return &ContinueRequest{PacketLength: pl}, Outcome{Success: true, Consumed: int(pl)}
}

// ExitChannelRequest tells the device to terminate the running channel.
// Empty body.
type ExitChannelRequest struct{ PacketLength uint32 }

func NewExitChannelRequest() *ExitChannelRequest { return &ExitChannelRequest{} }

func (req *ExitChannelRequest) ToBuffer(requestID uint32) []byte {
	buf := encodeRequestFrame(requestID, protocol.CommandExitChannel, nil)
	req.PacketLength = uint32(len(buf))
	return buf
}

// ExitChannelRequestFromBuffer decodes an empty-bodied ExitChannel request frame.
func ExitChannelRequestFromBuffer(data []byte) (*ExitChannelRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	return &ExitChannelRequest{PacketLength: pl}, Outcome{Success: true, Consumed: int(pl)}
}

// ThreadsRequest asks for the list of running threads. Empty body.
type ThreadsRequest struct{ PacketLength uint32 }

func NewThreadsRequest() *ThreadsRequest { return &ThreadsRequest{} }

func (req *ThreadsRequest) ToBuffer(requestID uint32) []byte {
	buf := encodeRequestFrame(requestID, protocol.CommandThreads, nil)
	req.PacketLength = uint32(len(buf))
	return buf
}

// ThreadsRequestFromBuffer decodes an empty-bodied Threads request frame.
func ThreadsRequestFromBuffer(data []byte) (*ThreadsRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	return &ThreadsRequest{PacketLength: pl}, Outcome{Success: true, Consumed: int(pl)}
}

// StepRequest advances execution by one step of the given granularity on
// a specific thread.
type StepRequest struct {
	PacketLength uint32
	ThreadIndex  uint32
	StepType     protocol.StepType
}

func NewStepRequest(threadIndex uint32, stepType protocol.StepType) *StepRequest {
	return &StepRequest{ThreadIndex: threadIndex, StepType: stepType}
}

func (req *StepRequest) ToBuffer(requestID uint32) []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(req.ThreadIndex)
	bw.WriteU8(uint8(req.StepType))
	buf := encodeRequestFrame(requestID, protocol.CommandStep, bw.Bytes())
	req.PacketLength = uint32(len(buf))
	return buf
}

// StepRequestFromBuffer decodes a Step request frame.
func StepRequestFromBuffer(data []byte) (*StepRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	threadIndex, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	stepType, err := r.ReadU8()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	return &StepRequest{PacketLength: pl, ThreadIndex: threadIndex, StepType: protocol.StepType(stepType)}, Outcome{Success: true, Consumed: int(pl)}
}

// StackTraceRequest asks for the call stack of a specific thread.
type StackTraceRequest struct {
	PacketLength uint32
	ThreadIndex  uint32
}

func NewStackTraceRequest(threadIndex uint32) *StackTraceRequest {
	return &StackTraceRequest{ThreadIndex: threadIndex}
}

func (req *StackTraceRequest) ToBuffer(requestID uint32) []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(req.ThreadIndex)
	buf := encodeRequestFrame(requestID, protocol.CommandStackTrace, bw.Bytes())
	req.PacketLength = uint32(len(buf))
	return buf
}

// StackTraceRequestFromBuffer decodes a StackTrace request frame.
func StackTraceRequestFromBuffer(data []byte) (*StackTraceRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	threadIndex, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	return &StackTraceRequest{PacketLength: pl, ThreadIndex: threadIndex}, Outcome{Success: true, Consumed: int(pl)}
}

// VariablesGetChildKeys is the single flag bit currently defined on
// VariablesRequest: when set, the response includes child variable keys
// for container-typed values (e.g. objects, arrays).
const VariablesGetChildKeys uint8 = 1 << 0

// VariablesRequest asks for the variables reachable from a dotted path
// (e.g. ["m", "top"]) evaluated at a given thread and stack frame.
type VariablesRequest struct {
	PacketLength    uint32
	Flags           uint8
	ThreadIndex     uint32
	StackFrameIndex uint32
	Path            []string
}

// NewVariablesRequest builds a variables request. getChildKeys sets the
// VariablesGetChildKeys flag.
func NewVariablesRequest(path []string, getChildKeys bool, threadIndex, stackFrameIndex uint32) *VariablesRequest {
	var flags uint8
	if getChildKeys {
		flags |= VariablesGetChildKeys
	}
	return &VariablesRequest{Flags: flags, ThreadIndex: threadIndex, StackFrameIndex: stackFrameIndex, Path: path}
}

func (req *VariablesRequest) ToBuffer(requestID uint32) []byte {
	bw := wire.NewWriter()
	bw.WriteU8(req.Flags)
	bw.WriteU32LE(req.ThreadIndex)
	bw.WriteU32LE(req.StackFrameIndex)
	bw.WriteU32LE(uint32(len(req.Path)))
	for _, p := range req.Path {
		bw.WriteCString(p)
	}
	buf := encodeRequestFrame(requestID, protocol.CommandVariables, bw.Bytes())
	req.PacketLength = uint32(len(buf))
	return buf
}

// VariablesRequestFromBuffer decodes a Variables request frame.
func VariablesRequestFromBuffer(data []byte) (*VariablesRequest, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	if _, _, ok := decodeRequestHeader(r); !ok {
		return nil, needMore
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	threadIndex, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	stackFrameIndex, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	count, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	path := make([]string, 0, boundedCount(count, r))
	for i := uint32(0); i < count; i++ {
		p, err := r.ReadCString()
		if err != nil {
			return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
		}
		path = append(path, p)
	}
	return &VariablesRequest{
		PacketLength:    pl,
		Flags:           flags,
		ThreadIndex:     threadIndex,
		StackFrameIndex: stackFrameIndex,
		Path:            path,
	}, Outcome{Success: true, Consumed: int(pl)}
}

// ExtraData is the per-request context a RequestRecord retains so a
// later response can be decoded with the shape only the request knows
// (e.g. the variable path requested).
type ExtraData struct {
	VariablesPath []string
}
