package database

import "errors"

// Domain-specific errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrClosing is returned when an operation is attempted while the
	// manager is shutting down. Callers should not retry.
	ErrClosing = errors.New("database: manager is closing")

	// ErrConnectDeadline is returned when the reconnect deadline elapses
	// without a usable connection. The wrapping error carries the last
	// underlying connection failure.
	ErrConnectDeadline = errors.New("database: reconnect deadline exceeded")

	// ErrCloseContended is returned by Close when the connection lock
	// could not be acquired within the close grace period. The manager
	// still refuses new work; only the final conn.Close was skipped.
	ErrCloseContended = errors.New("database: close timed out waiting for in-flight operation")

	// ErrNilOperation is returned when Run is called with a nil function.
	ErrNilOperation = errors.New("database: operation must not be nil")
)
