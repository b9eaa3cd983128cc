package common

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes (first part of an exception reply)
// --------------------------------------------------------------------------

// ErrorCode classifies the errors that are reported to the client in an exception reply
type ErrorCode int32

const (
	ErrCodeUnknownOperation   ErrorCode = 1
	ErrCodeUnsupportedVersion ErrorCode = 2
	ErrCodeRegionNotFound     ErrorCode = 10
	ErrCodeBadPart            ErrorCode = 11
	ErrCodeTypeMismatch       ErrorCode = 12
	ErrCodeDeltaFailed        ErrorCode = 13
	ErrCodeEntryNotFound      ErrorCode = 14
	ErrCodeInternal           ErrorCode = 99
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknownOperation:
		return "unknown operation"
	case ErrCodeUnsupportedVersion:
		return "unsupported version"
	case ErrCodeRegionNotFound:
		return "region not found"
	case ErrCodeBadPart:
		return "bad part"
	case ErrCodeTypeMismatch:
		return "type mismatch"
	case ErrCodeDeltaFailed:
		return "delta failed"
	case ErrCodeEntryNotFound:
		return "entry not found"
	case ErrCodeInternal:
		return "internal error"
	default:
		return fmt.Sprintf("error code %d", int32(c))
	}
}

// --------------------------------------------------------------------------
// Fatal Errors (the connection is closed)
// --------------------------------------------------------------------------

// FramingError reports a malformed frame. The stream position is lost, so the
// connection cannot continue.
type FramingError struct {
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Err)
	}
	return "framing error: " + e.Reason
}

func (e *FramingError) Unwrap() error { return e.Err }

// NewFramingError creates a framing error with a formatted reason
func NewFramingError(format string, args ...any) *FramingError {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// IOError wraps a failed socket operation (read, write, deadline, ...)
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o error during %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Handshake reply codes
const (
	HandshakeOK       byte = 59
	HandshakeRefused  byte = 60
	HandshakeInvalid  byte = 61
	HandshakeModeByte byte = 100 // client to server
)

// HandshakeError reports a rejected or malformed handshake. Code is the reply
// code sent (or received) on the wire.
type HandshakeError struct {
	Code   byte
	Reason string
}

func (e *HandshakeError) Error() string {
	switch e.Code {
	case HandshakeRefused:
		return "handshake refused: " + e.Reason
	case HandshakeInvalid:
		return "handshake invalid: " + e.Reason
	default:
		return fmt.Sprintf("handshake failed (code %d): %s", e.Code, e.Reason)
	}
}

// --------------------------------------------------------------------------
// Request Errors (reported to the client, the connection stays usable)
// --------------------------------------------------------------------------

// UnknownOperationError is returned when no command is registered for an opcode
type UnknownOperationError struct {
	OpCode OpCode
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %s", e.OpCode)
}

// UnsupportedVersionError is returned when an opcode is known but not available in the negotiated version
type UnsupportedVersionError struct {
	OpCode  OpCode
	Version Version
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("operation %s is not supported by protocol %s", e.OpCode, e.Version)
}

// ApplicationError is an error raised by a command handler
type ApplicationError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *ApplicationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// NewAppError creates an application error with a formatted message
func NewAppError(code ErrorCode, format string, args ...any) *ApplicationError {
	return &ApplicationError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapAppError creates an application error that wraps err
func WrapAppError(code ErrorCode, err error, format string, args ...any) *ApplicationError {
	return &ApplicationError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsFatal reports whether err must terminate the connection it occurred on
func IsFatal(err error) bool {
	var fe *FramingError
	var ioe *IOError
	var he *HandshakeError
	return errors.As(err, &fe) || errors.As(err, &ioe) || errors.As(err, &he)
}

// --------------------------------------------------------------------------
// Exception Replies
// --------------------------------------------------------------------------

// NewErrorReply converts a non fatal error into an exception reply.
// Errors without a known type are reported as internal errors.
func NewErrorReply(err error, txID int32) *Message {
	code := ErrCodeInternal

	var unknownOp *UnknownOperationError
	var unsupported *UnsupportedVersionError
	var appErr *ApplicationError

	switch {
	case errors.As(err, &unknownOp):
		code = ErrCodeUnknownOperation
	case errors.As(err, &unsupported):
		code = ErrCodeUnsupportedVersion
	case errors.As(err, &appErr):
		code = appErr.Code
	}

	msg := NewMessage(OpException, IntPart(int32(code)), StringPart(err.Error()))
	msg.TransactionID = txID
	return msg
}

// ErrorFromReply reconstructs the error carried by an exception reply.
// It returns nil if msg is not an exception reply.
func ErrorFromReply(msg *Message) error {
	if msg == nil || !msg.IsError() {
		return nil
	}
	if msg.NumParts() != 2 {
		return NewFramingError("exception reply has %d parts, expected 2", msg.NumParts())
	}
	code, err := msg.Parts[0].GetInt()
	if err != nil {
		return err
	}
	text, err := msg.Parts[1].GetString()
	if err != nil {
		return err
	}

	switch ErrorCode(code) {
	case ErrCodeUnknownOperation:
		return &RemoteError{Code: ErrorCode(code), Msg: text, cause: &UnknownOperationError{}}
	case ErrCodeUnsupportedVersion:
		return &RemoteError{Code: ErrorCode(code), Msg: text, cause: &UnsupportedVersionError{}}
	default:
		return &RemoteError{Code: ErrorCode(code), Msg: text, cause: &ApplicationError{Code: ErrorCode(code), Msg: text}}
	}
}

// RemoteError is an error reported by the server. It unwraps to the typed error
// class matching its code so callers can use errors.As on the client side.
type RemoteError struct {
	Code  ErrorCode
	Msg   string
	cause error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Msg)
}

func (e *RemoteError) Unwrap() error { return e.cause }
