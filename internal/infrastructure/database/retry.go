package database

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// Admin-initiated or crash-related server shutdown codes. Anything in
// class 08 (connection exception) is also treated as connection loss.
var connectionFatalCodes = map[string]bool{
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// isConnectionError reports whether err indicates the connection itself
// died, as opposed to the statement failing. Only connection errors
// justify a reconnect-and-retry; statement errors (bad SQL, constraint
// violations) would fail identically on a fresh connection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if pgconn.SafeToRetry(err) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return true
		}
		return connectionFatalCodes[pgErr.Code]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
