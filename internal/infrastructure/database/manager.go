package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
)

const (
	// defaultConnectTimeout bounds a single dial attempt when the
	// configuration does not specify one.
	defaultConnectTimeout = 10 * time.Second

	// defaultReconnectDeadline bounds the total reconnect effort when
	// the configuration does not specify one.
	defaultReconnectDeadline = 60 * time.Second

	// closeGracePeriod is how long Close waits for an in-flight
	// operation to release the connection before giving up.
	closeGracePeriod  = 500 * time.Millisecond
	closePollInterval = 10 * time.Millisecond
)

// Backoff bounds between reconnect attempts. Variables so tests can
// compress them.
var (
	initialRetryDelay = 1 * time.Second
	maxRetryDelay     = 10 * time.Second
)

// Manager owns a single PostgreSQL connection and serializes all access
// to it. Operations run through Run; concurrent callers queue on the
// internal lock, so at most one live connection exists at any moment.
type Manager struct {
	cfg    config.DatabaseConfig
	logger *logging.Logger

	mu   sync.Mutex
	conn conn

	closing   chan struct{}
	closeOnce sync.Once

	connectTotal atomic.Uint64
	retryTotal   atomic.Uint64
	opErrTotal   atomic.Uint64
}

// Stats is a point-in-time snapshot of manager counters.
type Stats struct {
	Connected bool

	// ConnectTotal counts successful connection establishments,
	// including reconnects after failures.
	ConnectTotal uint64

	// RetryTotal counts operations that were retried on a fresh
	// connection after a connection-level failure.
	RetryTotal uint64

	// OperationErrTotal counts operations that ultimately failed.
	OperationErrTotal uint64
}

// New creates a Manager for the given database configuration. No
// connection is made until Connect or the first Run call.
func New(cfg config.DatabaseConfig, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "database"),
		closing: make(chan struct{}),
	}
}

// Connect establishes the initial connection, retrying with backoff up
// to the configured reconnect deadline. Call it at startup so a broken
// database configuration surfaces immediately rather than on the first
// write.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureConnectedLocked(ctx)
}

// Run executes op against the managed connection, connecting first if
// needed. If op fails with a connection-level error the manager
// discards the connection, reconnects, and retries op exactly once.
// Statement-level errors are returned as-is; they would fail the same
// way on a fresh connection.
//
// Run serializes with all other Run and Close calls. The Querier passed
// to op must not be retained beyond the call.
func (m *Manager) Run(ctx context.Context, op func(ctx context.Context, q Querier) error) error {
	if op == nil {
		return ErrNilOperation
	}
	select {
	case <-m.closing:
		return ErrClosing
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Close may have won the race for the lock.
	select {
	case <-m.closing:
		return ErrClosing
	default:
	}

	if err := m.ensureConnectedLocked(ctx); err != nil {
		return err
	}

	err := op(ctx, m.conn)
	if err == nil {
		return nil
	}
	if !isConnectionError(err) {
		m.opErrTotal.Add(1)
		return err
	}

	m.logger.Warn("connection lost during operation, retrying once", "error", err)
	m.retryTotal.Add(1)
	m.discardLocked()

	if err := m.ensureConnectedLocked(ctx); err != nil {
		m.opErrTotal.Add(1)
		return err
	}
	if err := op(ctx, m.conn); err != nil {
		m.opErrTotal.Add(1)
		return err
	}
	return nil
}

// ensureConnectedLocked dials until a connection is live or the
// reconnect deadline elapses. Caller must hold m.mu.
func (m *Manager) ensureConnectedLocked(ctx context.Context) error {
	if m.conn != nil && !m.conn.IsClosed() {
		return nil
	}
	m.conn = nil

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryDelay
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = m.cfg.ReconnectDeadline()
	if bo.MaxElapsedTime <= 0 {
		bo.MaxElapsedTime = defaultReconnectDeadline
	}

	// Close must be able to interrupt a backoff sleep, not just the
	// attempts between sleeps, so the retry context also watches the
	// closing signal.
	retryCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.closing:
			cancel()
		case <-retryCtx.Done():
		}
	}()

	attempt := 0
	operation := func() error {
		select {
		case <-m.closing:
			return backoff.Permanent(ErrClosing)
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
		}

		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout())
		defer cancel()

		c, err := dialPostgres(dialCtx, m.cfg.DSN())
		if err != nil {
			return err
		}
		m.conn = c
		return nil
	}

	notify := func(err error, next time.Duration) {
		m.logger.Warn("database connection failed",
			"target", m.cfg.Redacted(),
			"attempt", attempt,
			"retry_in", next,
			"error", err,
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(bo, retryCtx), notify); err != nil {
		select {
		case <-m.closing:
			return ErrClosing
		default:
		}
		if errors.Is(err, ErrClosing) || errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrConnectDeadline, err)
	}

	m.connectTotal.Add(1)
	m.logger.Info("database connected", "target", m.cfg.Redacted(), "attempts", attempt)
	return nil
}

// discardLocked drops the current connection without surfacing close
// errors; the connection is already known to be broken.
func (m *Manager) discardLocked() {
	if m.conn == nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = m.conn.Close(closeCtx)
	m.conn = nil
}

// connectTimeout returns the per-attempt dial timeout.
func (m *Manager) connectTimeout() time.Duration {
	if m.cfg.ConnectTimeout > 0 {
		return time.Duration(m.cfg.ConnectTimeout) * time.Second
	}
	return defaultConnectTimeout
}

// Connected reports whether a live connection is currently held. It is
// advisory; the connection may die immediately after this returns.
func (m *Manager) Connected() bool {
	if !m.mu.TryLock() {
		// An operation holds the connection, so one exists.
		return true
	}
	defer m.mu.Unlock()
	return m.conn != nil && !m.conn.IsClosed()
}

// HealthCheck pings the database, connecting first if needed.
func (m *Manager) HealthCheck(ctx context.Context) error {
	select {
	case <-m.closing:
		return ErrClosing
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ensureConnectedLocked(ctx); err != nil {
		return err
	}
	return m.conn.Ping(ctx)
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Connected:         m.Connected(),
		ConnectTotal:      m.connectTotal.Load(),
		RetryTotal:        m.retryTotal.Load(),
		OperationErrTotal: m.opErrTotal.Load(),
	}
}

// Close stops accepting new operations and closes the connection. It
// waits a short grace period for an in-flight operation to finish; if
// the lock stays contended past that, Close returns ErrCloseContended
// and leaves the final socket close to process teardown. New work is
// refused either way.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.closing) })

	deadline := time.Now().Add(closeGracePeriod)
	for {
		if m.mu.TryLock() {
			break
		}
		if time.Now().After(deadline) {
			m.logger.Warn("close grace period elapsed with operation in flight")
			return ErrCloseContended
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(closePollInterval):
		}
	}
	defer m.mu.Unlock()

	if m.conn != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := m.conn.Close(closeCtx); err != nil {
			m.logger.Warn("error closing database connection", "error", err)
		}
		m.conn = nil
	}
	m.logger.Info("database manager closed")
	return nil
}
