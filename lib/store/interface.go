package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/dGrid/lib/txn"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// ICache is the handle of the data store a cache server serves. It owns the
// named regions and the transaction manager.
type ICache interface {
	// Region returns the region with the given name. The boolean is false if no such region exists.
	Region(name string) (IRegion, bool)
	// TxManager returns the transaction manager requests bind their transaction to.
	TxManager() txn.IManager
}

// IRegion is a named key–value map inside the cache.
//
// Keys are strings or integers (int64). Values are opaque encoded objects,
// a nil value means "no value". The callbackArg is an opaque encoded object
// passed through to the region's listeners, it may be nil.
//
// Every method receives the request context, which carries the bound
// transaction context (see txn.FromContext).
type IRegion interface {
	// Name returns the name of the region.
	Name() string
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(ctx context.Context, key any, callbackArg []byte) (value []byte, found bool, err error)
	// Put inserts or replaces the value of a key and returns the previous value (nil if there was none).
	// A nil value removes the key, a region never holds a key without a value.
	Put(ctx context.Context, key any, value []byte, callbackArg []byte) (oldValue []byte, err error)
	// PutIfAbsent inserts the value only if the key has no value. It returns the
	// existing value if there was one (and nothing was written), or nil.
	// A nil value is never stored.
	PutIfAbsent(ctx context.Context, key any, value []byte, callbackArg []byte) (existing []byte, err error)
	// ApplyDelta merges a delta into the existing value of a key and returns the previous value.
	// The delta fails with RetCEntryNotFound if the key has no value.
	ApplyDelta(ctx context.Context, key any, delta []byte, callbackArg []byte) (oldValue []byte, err error)
	// Remove deletes a key. It returns whether the key existed.
	Remove(ctx context.Context, key any, callbackArg []byte) (existed bool, err error)
	// ContainsKey returns whether a key has a value.
	ContainsKey(ctx context.Context, key any) (bool, error)
	// Size returns the number of entries.
	Size(ctx context.Context) (int, error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("store error (%s): %s", e.Code, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, format string, args ...any) *Error {
	return &Error{
		Code: code,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// CodeOf returns the RetCode of err, RetCSuccess for nil and RetCInternalError
// for errors that do not originate from the store.
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
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the region.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCInvalidKey                          // 4: Key is neither a string nor an integer.
	RetCEntryNotFound                       // 5: The operation needs an existing entry.
	RetCDeltaFailed                         // 6: The delta could not be applied to the current value.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCInvalidKey:
		return "InvalidKey"
	case RetCEntryNotFound:
		return "EntryNotFound"
	case RetCDeltaFailed:
		return "DeltaFailed"
	default:
		return "Unknown"
	}
}
