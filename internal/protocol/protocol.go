// Package protocol defines the wire-level enums of the bsdebug control
// channel: command codes, error codes, stop reasons, update types and
// step types. Integer assignments are load-bearing — they must match the
// device's wire format exactly, not just the order given here.
package protocol

// CommandCode selects the request body decoder on both sides of the wire.
type CommandCode uint32

const (
	CommandStop CommandCode = iota + 1
	CommandContinue
	CommandThreads
	CommandStackTrace
	CommandVariables
	CommandStep
	CommandExitChannel
)

func (c CommandCode) String() string {
	switch c {
	case CommandStop:
		return "Stop"
	case CommandContinue:
		return "Continue"
	case CommandThreads:
		return "Threads"
	case CommandStackTrace:
		return "StackTrace"
	case CommandVariables:
		return "Variables"
	case CommandStep:
		return "Step"
	case CommandExitChannel:
		return "ExitChannel"
	default:
		return "Unknown"
	}
}

// ErrorCode is carried on every response and update frame.
type ErrorCode uint32

const (
	ErrorOK ErrorCode = iota
	ErrorOther
	ErrorUndefined
	ErrorNotStopped
	ErrorCantContinue
	ErrorNotStoppedDuringStep
	ErrorThreadDetached
	ErrorExecutionTimeout
	ErrorInvalidArgs
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorOK:
		return "OK"
	case ErrorOther:
		return "OtherErr"
	case ErrorUndefined:
		return "Undefined"
	case ErrorNotStopped:
		return "NotStopped"
	case ErrorCantContinue:
		return "CantContinue"
	case ErrorNotStoppedDuringStep:
		return "NotStoppedDuringStep"
	case ErrorThreadDetached:
		return "ThreadDetached"
	case ErrorExecutionTimeout:
		return "ExecutionTimeout"
	case ErrorInvalidArgs:
		return "InvalidArgs"
	default:
		return "Unknown"
	}
}

// UpdateType tags an unsolicited (request_id == 0) frame.
type UpdateType uint32

const (
	UpdateUndefined UpdateType = iota
	UpdateIOPortOpened
	UpdateAllThreadsStopped
	UpdateThreadAttached
)

func (u UpdateType) String() string {
	switch u {
	case UpdateUndefined:
		return "Undefined"
	case UpdateIOPortOpened:
		return "IOPortOpened"
	case UpdateAllThreadsStopped:
		return "AllThreadsStopped"
	case UpdateThreadAttached:
		return "ThreadAttached"
	default:
		return "Unknown"
	}
}

// StopReason explains why the device paused execution.
type StopReason uint8

const (
	StopReasonNotStopped StopReason = iota
	StopReasonNormal
	StopReasonStopStatement
	StopReasonBreak
	StopReasonRuntimeError
)

func (s StopReason) String() string {
	switch s {
	case StopReasonNotStopped:
		return "NotStopped"
	case StopReasonNormal:
		return "Normal"
	case StopReasonStopStatement:
		return "StopStatement"
	case StopReasonBreak:
		return "Break"
	case StopReasonRuntimeError:
		return "RuntimeError"
	default:
		return "Unknown"
	}
}

// StepType selects the granularity of a Step request.
type StepType uint8

const (
	StepLine StepType = iota + 1
	StepOver
	StepOut
)

func (s StepType) String() string {
	switch s {
	case StepLine:
		return "Line"
	case StepOver:
		return "Over"
	case StepOut:
		return "Out"
	default:
		return "Unknown"
	}
}

// HandshakeMagic is the literal 8-byte NUL-terminated token opening a
// handshake frame.
const HandshakeMagic = "bsdebug"

// DefaultControlPort is the device's default TCP control port.
const DefaultControlPort = 8081

// DefaultHost is the device's default bind/advertise address.
const DefaultHost = "0.0.0.0"

// Default negotiated protocol version advertised by the emulated server.
const (
	DefaultProtocolMajor = 3
	DefaultProtocolMinor = 1
	DefaultProtocolPatch = 0
)

// TelnetPrompt is the literal bytes the device's telnet shell emits when
// idle.
const TelnetPrompt = "Brightscript Debugger>"

// TelnetThreadAttachedNotice is a line the telnet pipeline strips outright.
const TelnetThreadAttachedNotice = "Thread attached"

// TelnetInterruptWarning is a spurious warning line the telnet pipeline
// strips from a command's captured response.
const TelnetInterruptWarning = "warning: operation may not be interruptible"
