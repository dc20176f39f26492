package contract

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every user-facing failure of the contract. The
// external message may stay deliberately terse, but the kind is always
// recoverable via KindOf so callers can distinguish a missing record from
// a denied one.
type ErrorKind string

const (
	KindNotFound     ErrorKind = "NOT_FOUND"     // Referenced record/principal/grant absent
	KindUnauthorized ErrorKind = "UNAUTHORIZED"  // Caller lacks role or ownership, or grant expired/revoked
	KindConflict     ErrorKind = "CONFLICT"      // Concurrent-modification or duplicate-write conflict
	KindInvalidState ErrorKind = "INVALID_STATE" // Record status forbids the operation
)

// OpError is the typed failure surfaced by every contract operation.
type OpError struct {
	Op     string
	Kind   ErrorKind
	Detail string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func errNotFound(op, format string, args ...interface{}) error {
	return &OpError{Op: op, Kind: KindNotFound, Detail: fmt.Sprintf(format, args...)}
}

func errUnauthorized(op, format string, args ...interface{}) error {
	return &OpError{Op: op, Kind: KindUnauthorized, Detail: fmt.Sprintf(format, args...)}
}

func errConflict(op, format string, args ...interface{}) error {
	return &OpError{Op: op, Kind: KindConflict, Detail: fmt.Sprintf(format, args...)}
}

func errInvalidState(op, format string, args ...interface{}) error {
	return &OpError{Op: op, Kind: KindInvalidState, Detail: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, unwrapping as needed. It returns
// an empty kind for plain infrastructure errors (ledger I/O, marshalling).
func KindOf(err error) ErrorKind {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	return ""
}
