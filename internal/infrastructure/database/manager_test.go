package database

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
)

func testDBConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Host:             "127.0.0.1",
		Port:             5432,
		Name:             "hearth",
		User:             "hearth",
		Password:         "secret",
		ConnectTimeout:   1,
		ReconnectMaxWait: 1,
	}
}

// compressBackoff shrinks the reconnect delays for the duration of a test.
func compressBackoff(t *testing.T) {
	t.Helper()
	origInitial, origMax := initialRetryDelay, maxRetryDelay
	initialRetryDelay = time.Millisecond
	maxRetryDelay = 5 * time.Millisecond
	t.Cleanup(func() {
		initialRetryDelay = origInitial
		maxRetryDelay = origMax
	})
}

// =============================================================================
// Fakes
// =============================================================================

type fakeConn struct {
	mu      sync.Mutex
	closed  bool
	pingErr error
}

func (c *fakeConn) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (c *fakeConn) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}
func (c *fakeConn) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}
func (c *fakeConn) Ping(_ context.Context) error { return c.pingErr }
func (c *fakeConn) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
func (c *fakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// installDialer replaces the package dialer with a scripted one. Each
// call consumes the next result; once the script is exhausted, dialing
// succeeds with fresh connections.
func installDialer(t *testing.T, dialErrs ...error) (*atomic.Int32, func() []*fakeConn) {
	t.Helper()

	var mu sync.Mutex
	var conns []*fakeConn
	var calls atomic.Int32

	orig := dialPostgres
	dialPostgres = func(_ context.Context, _ string) (conn, error) {
		n := int(calls.Add(1)) - 1
		if n < len(dialErrs) && dialErrs[n] != nil {
			return nil, dialErrs[n]
		}
		c := &fakeConn{}
		mu.Lock()
		conns = append(conns, c)
		mu.Unlock()
		return c, nil
	}
	t.Cleanup(func() { dialPostgres = orig })

	return &calls, func() []*fakeConn {
		mu.Lock()
		defer mu.Unlock()
		return append([]*fakeConn(nil), conns...)
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnectLazyOnFirstRun(t *testing.T) {
	calls, _ := installDialer(t)
	m := New(testDBConfig(), nil)

	if m.Connected() {
		t.Error("Connected() = true before first use")
	}

	err := m.Run(context.Background(), func(_ context.Context, q Querier) error {
		if q == nil {
			t.Error("Run passed nil Querier")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if !m.Connected() {
		t.Error("Connected() = false after successful Run")
	}
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	compressBackoff(t)
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	calls, _ := installDialer(t, refused, refused)

	m := New(testDBConfig(), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("dial calls = %d, want 3", got)
	}
	if got := m.Stats().ConnectTotal; got != 1 {
		t.Errorf("ConnectTotal = %d, want 1", got)
	}
}

func TestConnectDeadlineSurfacesLastError(t *testing.T) {
	compressBackoff(t)
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = refused
	}
	installDialer(t, errs...)

	m := New(testDBConfig(), nil)
	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectDeadline) {
		t.Fatalf("Connect() error = %v, want ErrConnectDeadline", err)
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Errorf("Connect() error = %v, want wrapped ECONNREFUSED", err)
	}
}

func TestConnectHonoursContext(t *testing.T) {
	compressBackoff(t)
	refused := &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = refused
	}
	installDialer(t, errs...)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	m := New(testDBConfig(), nil)
	err := m.Connect(ctx)
	if err == nil {
		t.Fatal("Connect() succeeded with cancelled context")
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRunRetriesOnceOnConnectionLoss(t *testing.T) {
	compressBackoff(t)
	calls, conns := installDialer(t)

	m := New(testDBConfig(), nil)
	attempts := 0
	err := m.Run(context.Background(), func(_ context.Context, _ Querier) error {
		attempts++
		if attempts == 1 {
			return io.EOF
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("operation ran %d times, want 2", attempts)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("dial calls = %d, want 2", got)
	}
	if all := conns(); !all[0].IsClosed() {
		t.Error("broken connection was not closed before reconnect")
	}
	if got := m.Stats().RetryTotal; got != 1 {
		t.Errorf("RetryTotal = %d, want 1", got)
	}
}

func TestRunRetriesAtMostOnce(t *testing.T) {
	compressBackoff(t)
	calls, _ := installDialer(t)

	m := New(testDBConfig(), nil)
	attempts := 0
	err := m.Run(context.Background(), func(_ context.Context, _ Querier) error {
		attempts++
		return io.EOF
	})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Run() error = %v, want io.EOF", err)
	}
	if attempts != 2 {
		t.Errorf("operation ran %d times, want exactly 2", attempts)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("dial calls = %d, want 2", got)
	}
}

func TestRunStatementErrorNotRetried(t *testing.T) {
	calls, _ := installDialer(t)

	m := New(testDBConfig(), nil)
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	attempts := 0
	err := m.Run(context.Background(), func(_ context.Context, _ Querier) error {
		attempts++
		return pgErr
	})
	if !errors.Is(err, pgErr) {
		t.Fatalf("Run() error = %v, want the statement error", err)
	}
	if attempts != 1 {
		t.Errorf("operation ran %d times, want 1 (no retry for statement errors)", attempts)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1", got)
	}
	if got := m.Stats().OperationErrTotal; got != 1 {
		t.Errorf("OperationErrTotal = %d, want 1", got)
	}
}

func TestRunNilOperation(t *testing.T) {
	installDialer(t)
	m := New(testDBConfig(), nil)
	if err := m.Run(context.Background(), nil); !errors.Is(err, ErrNilOperation) {
		t.Errorf("Run(nil) error = %v, want ErrNilOperation", err)
	}
}

func TestRunSerializesOperations(t *testing.T) {
	calls, _ := installDialer(t)
	m := New(testDBConfig(), nil)

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Run(context.Background(), func(_ context.Context, _ Querier) error {
				if inFlight.Add(1) > 1 {
					overlapped.Store(true)
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Error("operations overlapped; connection use must be serialized")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("dial calls = %d, want 1 (single shared connection)", got)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestCloseRefusesNewWork(t *testing.T) {
	installDialer(t)
	m := New(testDBConfig(), nil)

	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err := m.Run(context.Background(), func(_ context.Context, _ Querier) error { return nil })
	if !errors.Is(err, ErrClosing) {
		t.Errorf("Run() after Close error = %v, want ErrClosing", err)
	}
	if err := m.HealthCheck(context.Background()); !errors.Is(err, ErrClosing) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrClosing", err)
	}
}

func TestCloseClosesConnection(t *testing.T) {
	_, conns := installDialer(t)
	m := New(testDBConfig(), nil)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if all := conns(); !all[0].IsClosed() {
		t.Error("Close() did not close the underlying connection")
	}
}

func TestCloseContended(t *testing.T) {
	installDialer(t)
	m := New(testDBConfig(), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = m.Run(context.Background(), func(_ context.Context, _ Querier) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started
	defer close(release)

	err := m.Close(context.Background())
	if !errors.Is(err, ErrCloseContended) {
		t.Errorf("Close() error = %v, want ErrCloseContended", err)
	}
}

func TestCloseInterruptsReconnectBackoff(t *testing.T) {
	origInitial, origMax := initialRetryDelay, maxRetryDelay
	initialRetryDelay = 5 * time.Second
	maxRetryDelay = 5 * time.Second
	t.Cleanup(func() {
		initialRetryDelay = origInitial
		maxRetryDelay = origMax
	})

	calls, _ := installDialer(t,
		syscall.ECONNREFUSED, syscall.ECONNREFUSED, syscall.ECONNREFUSED,
		syscall.ECONNREFUSED, syscall.ECONNREFUSED, syscall.ECONNREFUSED)
	m := New(testDBConfig(), nil)

	connectErr := make(chan error, 1)
	go func() { connectErr <- m.Connect(context.Background()) }()

	// Wait until the first dial has failed, so Connect is sitting in
	// its backoff sleep.
	waitDeadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(waitDeadline) {
		time.Sleep(time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("dial never attempted")
	}

	start := time.Now()
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case err := <-connectErr:
		if !errors.Is(err, ErrClosing) {
			t.Errorf("Connect() error = %v, want ErrClosing", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Connect() still blocked after Close")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Close() took %v, want the backoff sleep interrupted promptly", elapsed)
	}
}

func TestCloseIdempotent(t *testing.T) {
	installDialer(t)
	m := New(testDBConfig(), nil)
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

// =============================================================================
// Error Classification Tests
// =============================================================================

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"eof", io.EOF, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"conn reset", syscall.ECONNRESET, true},
		{"broken pipe", syscall.EPIPE, true},
		{"net timeout", &net.OpError{Op: "read", Err: syscall.ETIMEDOUT}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"crash shutdown", &pgconn.PgError{Code: "57P02"}, true},
		{"cannot connect now", &pgconn.PgError{Code: "57P03"}, true},
		{"connection exception class", &pgconn.PgError{Code: "08006"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.want {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
