package types

import "fmt"

// ErrorCode is the typed error taxonomy propagated to clients over the
// wire, per the external interface's error table.
type ErrorCode uint8

const (
	NoError ErrorCode = iota
	ErrNoLeader
	ErrIllegalMemberState
	ErrUnknownSession
	ErrUnknownStateMachine
	ErrCommandError
	ErrQueryError
	ErrConfigurationError
	ErrApplicationError
	ErrInternalError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNoLeader:
		return "NO_LEADER"
	case ErrIllegalMemberState:
		return "ILLEGAL_MEMBER_STATE"
	case ErrUnknownSession:
		return "UNKNOWN_SESSION"
	case ErrUnknownStateMachine:
		return "UNKNOWN_STATE_MACHINE"
	case ErrCommandError:
		return "COMMAND_ERROR"
	case ErrQueryError:
		return "QUERY_ERROR"
	case ErrConfigurationError:
		return "CONFIGURATION_ERROR"
	case ErrApplicationError:
		return "APPLICATION_ERROR"
	case ErrInternalError:
		return "INTERNAL_ERROR"
	default:
		return "NONE"
	}
}

// ProtocolError is a typed, client-retryable error. LastSequence and Leader
// carry the extra state COMMAND_ERROR and NO_LEADER responses need.
type ProtocolError struct {
	Code         ErrorCode
	Message      string
	LastSequence uint64 // valid when Code == ErrCommandError
	Leader       string // valid when Code == ErrNoLeader and a leader is known
	Cause        error
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// NewError builds a ProtocolError with no extra state.
func NewError(code ErrorCode, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a ProtocolError around an underlying cause.
func WrapError(code ErrorCode, cause error, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsCode reports whether err is a *ProtocolError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	pe, ok := err.(*ProtocolError)
	return ok && pe.Code == code
}
