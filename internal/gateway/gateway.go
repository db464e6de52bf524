package gateway

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hearthline/hearth-core/internal/bus"
	"github.com/hearthline/hearth-core/internal/infrastructure/config"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
	"github.com/hearthline/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthline/hearth-core/internal/playback"
	"github.com/hearthline/hearth-core/internal/tts"
)

const (
	sourceName       = "announce-gateway"
	announceType     = "announce.request"
	suppressedType   = "announce.suppressed"
	maxAnnounceChars = 500
)

// Publisher is the outbound bus surface the gateway needs.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
}

// Hoster makes audio bytes fetchable by speakers.
type Hoster interface {
	PublishURL(data []byte, filename, contentType, targetAddr string) (string, error)
}

// Player plays a hosted clip on the configured speakers.
type Player interface {
	PlayURL(ctx context.Context, req playback.Request) error
}

// Gateway turns announce.request envelopes into spoken audio on the
// house speakers, unless quiet hours are in effect.
type Gateway struct {
	quiet   config.QuietHoursConfig
	sonos   config.SonosConfig
	pub     Publisher
	synth   tts.Synthesizer
	host    Hoster
	player  Player
	topics  mqtt.Topics
	logger  *logging.Logger
	loc     *time.Location

	// now is a test seam for quiet hours evaluation.
	now func() time.Time

	receivedTotal   atomic.Uint64
	playedTotal     atomic.Uint64
	suppressedTotal atomic.Uint64
	rejectedTotal   atomic.Uint64
	failedTotal     atomic.Uint64
}

// New creates a Gateway. loc is the site timezone used for quiet hours;
// nil falls back to time.Local.
func New(
	quiet config.QuietHoursConfig,
	sonos config.SonosConfig,
	pub Publisher,
	synth tts.Synthesizer,
	host Hoster,
	player Player,
	topics mqtt.Topics,
	loc *time.Location,
	logger *logging.Logger,
) *Gateway {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Gateway{
		quiet:  quiet,
		sonos:  sonos,
		pub:    pub,
		synth:  synth,
		host:   host,
		player: player,
		topics: topics,
		loc:    loc,
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}
}

// announceRequest is the expected shape of an announce.request data
// payload. Everything but Text is optional.
type announceRequest struct {
	Text                    string   `json:"text"`
	Targets                 []string `json:"targets,omitempty"`
	Volume                  int      `json:"volume,omitempty"`
	Concurrency             int      `json:"concurrency,omitempty"`
	ExpectedDurationSeconds float64  `json:"expected_duration_seconds,omitempty"`
}

// Handle processes one bus message. Anything that is not a well-formed
// announce.request is counted and dropped; the bus is shared and the
// gateway must never act on a guess.
func (g *Gateway) Handle(ctx context.Context, msg mqtt.Message) {
	g.receivedTotal.Add(1)

	envelope, err := bus.Parse(msg.Payload)
	if err != nil {
		g.rejectedTotal.Add(1)
		g.logger.Warn("dropping malformed envelope", "topic", msg.Topic, "error", err)
		return
	}
	if envelope.Type != announceType {
		g.rejectedTotal.Add(1)
		g.logger.Warn("dropping unexpected event type", "type", envelope.Type, "id", envelope.ID)
		return
	}

	req, err := parseAnnounceRequest(envelope)
	if err != nil {
		g.rejectedTotal.Add(1)
		g.logger.Warn("dropping invalid announce request", "id", envelope.ID, "error", err)
		return
	}

	if isQuietAt(g.now().In(g.loc), g.quiet) {
		g.suppress(envelope, req)
		return
	}

	if err := g.announce(ctx, envelope, req); err != nil {
		g.failedTotal.Add(1)
		g.logger.Error("announcement failed", "id", envelope.ID, "error", err)
		return
	}
	g.playedTotal.Add(1)
}

// parseAnnounceRequest extracts and validates the announce payload.
func parseAnnounceRequest(envelope bus.Envelope) (announceRequest, error) {
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		return announceRequest{}, err
	}
	var req announceRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return announceRequest{}, err
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return announceRequest{}, bus.ErrMissingData
	}
	if len(req.Text) > maxAnnounceChars {
		req.Text = req.Text[:maxAnnounceChars]
	}
	return req, nil
}

// suppress records a quiet-hours suppression and publishes an
// announce.suppressed event carrying enough context to trace the
// original request.
func (g *Gateway) suppress(envelope bus.Envelope, req announceRequest) {
	g.suppressedTotal.Add(1)
	g.logger.Info("announcement suppressed by quiet hours",
		"id", envelope.ID, "source", envelope.Source, "text_len", len(req.Text))

	out := bus.NewWithTrace(sourceName, suppressedType, envelope.TraceID, map[string]any{
		"reason":            "quiet_hours",
		"original_event_id": envelope.ID,
		"original_source":   envelope.Source,
		"text_len":          len(req.Text),
	})
	if err := g.pub.PublishJSON(g.topics.AnnounceSuppressed(), out, 1, false); err != nil {
		g.logger.Warn("failed to publish suppression event", "error", err)
	}
}

// announce synthesizes the text, hosts the clip and plays it.
func (g *Gateway) announce(ctx context.Context, envelope bus.Envelope, req announceRequest) error {
	audio, err := g.synth.Synthesize(ctx, req.Text)
	if err != nil {
		return err
	}

	targets := req.Targets
	if len(targets) == 0 {
		targets = g.sonos.Targets
	}
	routeHint := ""
	if len(targets) > 0 {
		routeHint = targets[0]
	}

	url, err := g.host.PublishURL(audio.Data, "announcement."+audio.Ext, audio.ContentType, routeHint)
	if err != nil {
		return err
	}

	g.logger.Info("announcing",
		"id", envelope.ID, "trace_id", envelope.TraceID,
		"text_len", len(req.Text), "targets", len(targets))

	return g.player.PlayURL(ctx, playback.Request{
		URI:              url,
		Targets:          targets,
		Volume:           req.Volume,
		Concurrency:      req.Concurrency,
		ExpectedDuration: time.Duration(req.ExpectedDurationSeconds * float64(time.Second)),
	})
}

// Status returns the gateway counters as an event payload.
func (g *Gateway) Status() map[string]any {
	return map[string]any{
		"received":   g.receivedTotal.Load(),
		"played":     g.playedTotal.Load(),
		"suppressed": g.suppressedTotal.Load(),
		"rejected":   g.rejectedTotal.Load(),
		"failed":     g.failedTotal.Load(),
		"quiet_now":  isQuietAt(g.now().In(g.loc), g.quiet),
	}
}

// PublishStatus emits a gateway.status envelope. Wire it to a periodic
// schedule.
func (g *Gateway) PublishStatus() {
	envelope := bus.New(sourceName, "gateway.status", g.Status())
	if err := g.pub.PublishJSON(g.topics.ServiceStatus("gateway"), envelope, 0, false); err != nil {
		g.logger.Warn("failed to publish status", "error", err)
	}
}
