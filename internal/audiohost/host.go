package audiohost

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hearthline/hearth-core/internal/infrastructure/config"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
)

const (
	defaultTTL           = 180 * time.Second
	defaultSweepInterval = 30 * time.Second

	// speakerControlPort is the port the UDP route probe targets. Sonos
	// devices listen here for control traffic; any port would do since
	// no packet is actually sent.
	speakerControlPort = "1400"

	shutdownTimeout = 2 * time.Second
)

var (
	// ErrClosed is returned when publishing to a closed host.
	ErrClosed = errors.New("audiohost: host is closed")

	// ErrEmptyClip is returned when publishing zero bytes.
	ErrEmptyClip = errors.New("audiohost: clip is empty")
)

type hostedClip struct {
	path        string
	contentType string
	expires     time.Time
}

// Host serves ephemeral audio clips over HTTP.
type Host struct {
	cfg    config.AudioHostConfig
	logger *logging.Logger
	dir    string

	mu       sync.Mutex
	clips    map[string]hostedClip
	server   *http.Server
	listener net.Listener
	port     int
	closed   bool

	stopSweep chan struct{}
	sweepDone chan struct{}

	publishedTotal atomic.Uint64
	servedTotal    atomic.Uint64
	expiredTotal   atomic.Uint64
	missTotal      atomic.Uint64
}

// Stats is a point-in-time snapshot of host counters.
type Stats struct {
	Listening bool
	Active    int

	PublishedTotal uint64
	ServedTotal    uint64
	ExpiredTotal   uint64
	MissTotal      uint64
}

// New creates a Host backed by a fresh scratch directory. The HTTP
// listener is not opened until the first Publish call.
func New(cfg config.AudioHostConfig, logger *logging.Logger) (*Host, error) {
	if logger == nil {
		logger = logging.Default()
	}
	dir, err := os.MkdirTemp("", "hearth-audio-")
	if err != nil {
		return nil, fmt.Errorf("audiohost: create scratch dir: %w", err)
	}
	return &Host{
		cfg:       cfg,
		logger:    logger.With("component", "audiohost"),
		dir:       dir,
		clips:     make(map[string]hostedClip),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}, nil
}

// Publish writes a clip to the scratch directory and makes it fetchable
// for the configured TTL. The hosted name is a fresh id joined to the
// sanitized filename, so the served path stays meaningful in speaker
// and access logs. It returns the clip name to pass to URL.
func (h *Host) Publish(data []byte, filename, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyClip
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", ErrClosed
	}
	if err := h.ensureStartedLocked(); err != nil {
		return "", err
	}

	name := strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + safeFilename(filename)
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("audiohost: write clip: %w", err)
	}

	h.clips[name] = hostedClip{
		path:        path,
		contentType: contentType,
		expires:     time.Now().Add(h.ttl()),
	}
	h.publishedTotal.Add(1)
	h.logger.Debug("clip published", "name", name, "bytes", len(data))
	return name, nil
}

// URL returns the fetch URL for a published clip, addressed so that the
// given speaker can reach it. targetAddr is the speaker's IP or host.
func (h *Host) URL(name, targetAddr string) (string, error) {
	h.mu.Lock()
	port := h.port
	listening := h.listener != nil
	h.mu.Unlock()
	if !listening {
		return "", errors.New("audiohost: listener not started")
	}

	host := h.cfg.PublicHost
	if host == "" {
		host = inferLocalIP(targetAddr)
	}
	return fmt.Sprintf("http://%s/%s", net.JoinHostPort(host, fmt.Sprint(port)), name), nil
}

// PublishURL publishes a clip and returns its URL in one step.
func (h *Host) PublishURL(data []byte, filename, contentType, targetAddr string) (string, error) {
	name, err := h.Publish(data, filename, contentType)
	if err != nil {
		return "", err
	}
	return h.URL(name, targetAddr)
}

// ensureStartedLocked opens the listener, wires the router and starts
// the sweeper. Caller must hold h.mu.
func (h *Host) ensureStartedLocked() error {
	if h.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(h.cfg.BindHost, fmt.Sprint(h.cfg.BindPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("audiohost: listen on %s: %w", addr, err)
	}
	h.listener = listener
	h.port = listener.Addr().(*net.TCPAddr).Port

	router := chi.NewRouter()
	router.Get("/{name}", h.serveClip)

	h.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("audio server stopped", "error", err)
		}
	}()
	go h.sweepLoop()

	h.logger.Info("audio host listening", "addr", listener.Addr().String(), "ttl", h.ttl())
	return nil
}

func (h *Host) serveClip(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	h.mu.Lock()
	clip, ok := h.clips[name]
	h.mu.Unlock()

	if !ok || time.Now().After(clip.expires) {
		h.missTotal.Add(1)
		http.NotFound(w, r)
		return
	}

	if clip.contentType != "" {
		w.Header().Set("Content-Type", clip.contentType)
	}
	http.ServeFile(w, r, clip.path)
	h.servedTotal.Add(1)
}

func (h *Host) sweepLoop() {
	defer close(h.sweepDone)
	ticker := time.NewTicker(h.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-h.stopSweep:
			return
		case <-ticker.C:
			h.sweep(time.Now())
		}
	}
}

// sweep removes expired clips and prunes orphaned files that are on
// disk but not in the registry, as left behind by a previous crash.
func (h *Host) sweep(now time.Time) {
	h.mu.Lock()
	var stale []string
	for name, clip := range h.clips {
		if now.After(clip.expires) {
			stale = append(stale, name)
		}
	}
	for _, name := range stale {
		path := h.clips[name].path
		delete(h.clips, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("failed to remove expired clip", "name", name, "error", err)
		}
		h.expiredTotal.Add(1)
	}
	known := make(map[string]bool, len(h.clips))
	for name := range h.clips {
		known[name] = true
	}
	h.mu.Unlock()

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || known[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > h.ttl() {
			_ = os.Remove(filepath.Join(h.dir, entry.Name()))
			h.logger.Warn("pruned orphaned clip", "name", entry.Name())
		}
	}
}

// Stats returns a snapshot of the host counters.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	listening := h.listener != nil && !h.closed
	active := len(h.clips)
	h.mu.Unlock()
	return Stats{
		Listening:      listening,
		Active:         active,
		PublishedTotal: h.publishedTotal.Load(),
		ServedTotal:    h.servedTotal.Load(),
		ExpiredTotal:   h.expiredTotal.Load(),
		MissTotal:      h.missTotal.Load(),
	}
}

// Close shuts down the listener, stops the sweeper and removes the
// scratch directory with everything in it.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	server := h.server
	started := h.listener != nil
	h.clips = make(map[string]hostedClip)
	h.mu.Unlock()

	if started {
		close(h.stopSweep)
		<-h.sweepDone

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("audio server shutdown", "error", err)
		}
	}

	if err := os.RemoveAll(h.dir); err != nil {
		return fmt.Errorf("audiohost: remove scratch dir: %w", err)
	}
	h.logger.Info("audio host closed")
	return nil
}

// ttl returns the configured clip lifetime.
func (h *Host) ttl() time.Duration {
	if d := h.cfg.TTL(); d > 0 {
		return d
	}
	return defaultTTL
}

func (h *Host) sweepInterval() time.Duration {
	if d := h.cfg.SweepInterval(); d > 0 {
		return d
	}
	return defaultSweepInterval
}

// inferLocalIP determines which local address routes towards the given
// target by asking the kernel to pick a source address for a UDP socket
// aimed at it. Nothing is sent on the socket.
func inferLocalIP(targetAddr string) string {
	for _, target := range []string{targetAddr, "8.8.8.8"} {
		if target == "" {
			continue
		}
		conn, err := net.Dial("udp", net.JoinHostPort(target, speakerControlPort))
		if err != nil {
			continue
		}
		ip := conn.LocalAddr().(*net.UDPAddr).IP.String()
		conn.Close()
		return ip
	}
	return "127.0.0.1"
}

// safeFilename reduces a caller-supplied filename to a form safe to
// place on disk and in a URL path. Directory components are discarded
// and anything outside letters, digits, dots, dashes and underscores
// is stripped. An unusable name falls back to clip.mp3.
func safeFilename(filename string) string {
	base := filepath.Base(strings.ToLower(filename))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "clip.mp3"
	}
	return out
}
