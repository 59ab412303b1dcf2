package atomicmap

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("AtomicMapError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewErrorf creates a new Error with the given code and a formatted message.
func NewErrorf(code RetCode, format string, args ...interface{}) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the RetCode from an error. Errors that are not (or do not
// wrap) an *Error report RetCInternalError.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess                RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                         // 1: Transport or backend failure, passed through unchanged.
	RetCUnsupportedOperation                  // 2: Operation has no backend equivalent, rejected without a round trip.
	RetCConcurrentModification                // 3: A version- or value-conditioned write lost a race. Never retried by the core.
	RetCNotConnected                          // 4: Operation attempted before Connect.
	RetCSessionExpired                        // 5: The session expired upstream or keep-alive failed.
	RetCClosed                                // 6: Operation attempted after Close.
	RetCCodec                                 // 7: A transcoding codec failed while encoding or decoding.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCConcurrentModification:
		return "ConcurrentModification"
	case RetCNotConnected:
		return "NotConnected"
	case RetCSessionExpired:
		return "SessionExpired"
	case RetCClosed:
		return "Closed"
	case RetCCodec:
		return "CodecFailure"
	default:
		return "Unknown"
	}
}
