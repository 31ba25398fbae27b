package db

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by every operation on a closed gateway.
	ErrClosed = errors.New("connection closed")

	// ErrNoMatch means an update's key matched no row.
	ErrNoMatch = errors.New("no row matches the key")

	// ErrAmbiguousMatch means an update's key matched more than one row.
	ErrAmbiguousMatch = errors.New("key matches more than one row")

	// ErrTxPending means a transaction opened with BEGIN is still open, so a
	// write that commits on its own would end it.
	ErrTxPending = errors.New("a transaction is open; COMMIT or ROLLBACK it first")

	// ErrLossyRebuild means a table rebuild would drop parts of the table
	// definition and the backend offers no in-place alternative.
	ErrLossyRebuild = errors.New("rebuilding the table would drop")
)

// ConnectionError means a connection could not be established or validated.
type ConnectionError struct {
	Backend Backend
	Cause   error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s): %v", e.Backend, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// DDLError means a schema mutation failed.
type DDLError struct {
	Op    string
	Table string
	Cause error
}

func (e *DDLError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Cause)
}

func (e *DDLError) Unwrap() error {
	return e.Cause
}

// QueryError means a read failed.
type QueryError struct {
	Op    string
	Table string
	Query string
	Cause error
}

func (e *QueryError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Cause)
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// WriteError means an update or insert failed, including updates whose key
// did not identify exactly one row.
type WriteError struct {
	Op    string
	Table string
	Cause error
}

func (e *WriteError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Table, e.Cause)
}

func (e *WriteError) Unwrap() error {
	return e.Cause
}

// UnsupportedBackendError is returned when a config names a backend with no dialect.
type UnsupportedBackendError struct {
	Backend   string
	Available []Backend
}

func (e *UnsupportedBackendError) Error() string {
	return fmt.Sprintf("unsupported backend %q (available: %v)", e.Backend, e.Available)
}
