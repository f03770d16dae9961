package bsdebug

import (
	"github.com/seanpm2001/roku-debug/internal/protocol"
	"github.com/seanpm2001/roku-debug/internal/wire"
)

// AllThreadsStoppedUpdate announces that the device has paused every
// thread (the common case: a breakpoint, a stop statement, a runtime
// error, or the boot-time pause the first-run-continue quirk reacts to).
type AllThreadsStoppedUpdate struct {
	PacketLength       uint32
	ErrorCode          protocol.ErrorCode
	PrimaryThreadIndex int32
	StopReason         protocol.StopReason
	StopReasonDetail   string
}

func NewAllThreadsStoppedUpdate(primaryThreadIndex int32, reason protocol.StopReason, detail string) *AllThreadsStoppedUpdate {
	return &AllThreadsStoppedUpdate{ErrorCode: protocol.ErrorOK, PrimaryThreadIndex: primaryThreadIndex, StopReason: reason, StopReasonDetail: detail}
}

func (u *AllThreadsStoppedUpdate) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteI32LE(u.PrimaryThreadIndex)
	bw.WriteU8(uint8(u.StopReason))
	bw.WriteCString(u.StopReasonDetail)
	buf := encodeUpdateFrame(u.ErrorCode, protocol.UpdateAllThreadsStopped, bw.Bytes())
	u.PacketLength = uint32(len(buf))
	return buf
}

// AllThreadsStoppedUpdateFromBuffer decodes an AllThreadsStopped update.
func AllThreadsStoppedUpdateFromBuffer(data []byte) (*AllThreadsStoppedUpdate, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	errCode, updateType, ok := decodeUpdateHeader(r)
	if !ok {
		return nil, needMore
	}
	if updateType != protocol.UpdateAllThreadsStopped {
		return nil, Outcome{Consumed: int(pl), Err: ErrUnknownUpdateType}
	}
	primary, err := r.ReadI32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	reason, err := r.ReadU8()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	detail, err := r.ReadCString()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	return &AllThreadsStoppedUpdate{
		PacketLength:       pl,
		ErrorCode:          errCode,
		PrimaryThreadIndex: primary,
		StopReason:         protocol.StopReason(reason),
		StopReasonDetail:   detail,
	}, Outcome{Success: true, Consumed: int(pl)}
}

// ThreadAttachedUpdate announces a newly attached (but not primary)
// thread has stopped.
type ThreadAttachedUpdate struct {
	PacketLength     uint32
	ErrorCode        protocol.ErrorCode
	ThreadIndex      int32
	StopReason       protocol.StopReason
	StopReasonDetail string
}

func NewThreadAttachedUpdate(threadIndex int32, reason protocol.StopReason, detail string) *ThreadAttachedUpdate {
	return &ThreadAttachedUpdate{ErrorCode: protocol.ErrorOK, ThreadIndex: threadIndex, StopReason: reason, StopReasonDetail: detail}
}

func (u *ThreadAttachedUpdate) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteI32LE(u.ThreadIndex)
	bw.WriteU8(uint8(u.StopReason))
	bw.WriteCString(u.StopReasonDetail)
	buf := encodeUpdateFrame(u.ErrorCode, protocol.UpdateThreadAttached, bw.Bytes())
	u.PacketLength = uint32(len(buf))
	return buf
}

// ThreadAttachedUpdateFromBuffer decodes a ThreadAttached update.
func ThreadAttachedUpdateFromBuffer(data []byte) (*ThreadAttachedUpdate, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	errCode, updateType, ok := decodeUpdateHeader(r)
	if !ok {
		return nil, needMore
	}
	if updateType != protocol.UpdateThreadAttached {
		return nil, Outcome{Consumed: int(pl), Err: ErrUnknownUpdateType}
	}
	idx, err := r.ReadI32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	reason, err := r.ReadU8()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	detail, err := r.ReadCString()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	return &ThreadAttachedUpdate{
		PacketLength:     pl,
		ErrorCode:        errCode,
		ThreadIndex:      idx,
		StopReason:       protocol.StopReason(reason),
		StopReasonDetail: detail,
	}, Outcome{Success: true, Consumed: int(pl)}
}

// IOPortOpenedUpdate carries the TCP port the device has opened for
// program stdout.
type IOPortOpenedUpdate struct {
	PacketLength uint32
	ErrorCode    protocol.ErrorCode
	Port         uint32
}

func NewIOPortOpenedUpdate(port uint32) *IOPortOpenedUpdate {
	return &IOPortOpenedUpdate{ErrorCode: protocol.ErrorOK, Port: port}
}

func (u *IOPortOpenedUpdate) ToBuffer() []byte {
	bw := wire.NewWriter()
	bw.WriteU32LE(u.Port)
	buf := encodeUpdateFrame(u.ErrorCode, protocol.UpdateIOPortOpened, bw.Bytes())
	u.PacketLength = uint32(len(buf))
	return buf
}

// IOPortOpenedUpdateFromBuffer decodes a ConnectIoPort update.
func IOPortOpenedUpdateFromBuffer(data []byte) (*IOPortOpenedUpdate, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	errCode, updateType, ok := decodeUpdateHeader(r)
	if !ok {
		return nil, needMore
	}
	if updateType != protocol.UpdateIOPortOpened {
		return nil, Outcome{Consumed: int(pl), Err: ErrUnknownUpdateType}
	}
	port, err := r.ReadU32LE()
	if err != nil {
		return nil, Outcome{Consumed: int(pl), Err: ErrMalformed}
	}
	return &IOPortOpenedUpdate{PacketLength: pl, ErrorCode: errCode, Port: port}, Outcome{Success: true, Consumed: int(pl)}
}

// UndefinedUpdate is an empty-bodied placeholder update kind, emitted by
// devices for update types the client doesn't otherwise recognize.
type UndefinedUpdate struct {
	PacketLength uint32
	ErrorCode    protocol.ErrorCode
}

func NewUndefinedUpdate() *UndefinedUpdate { return &UndefinedUpdate{ErrorCode: protocol.ErrorOK} }

func (u *UndefinedUpdate) ToBuffer() []byte {
	buf := encodeUpdateFrame(u.ErrorCode, protocol.UpdateUndefined, nil)
	u.PacketLength = uint32(len(buf))
	return buf
}

// UndefinedUpdateFromBuffer decodes an Undefined update.
func UndefinedUpdateFromBuffer(data []byte) (*UndefinedUpdate, Outcome) {
	r, pl, ok := beginFrame(data)
	if !ok {
		return nil, needMore
	}
	errCode, updateType, ok := decodeUpdateHeader(r)
	if !ok {
		return nil, needMore
	}
	if updateType != protocol.UpdateUndefined {
		return nil, Outcome{Consumed: int(pl), Err: ErrUnknownUpdateType}
	}
	return &UndefinedUpdate{PacketLength: pl, ErrorCode: errCode}, Outcome{Success: true, Consumed: int(pl)}
}
