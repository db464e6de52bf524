// Package recorder persists every bus message into the event log.
//
// Unlike the gateway, the recorder is deliberately lenient: a message
// that is not a well-formed envelope is still worth keeping for
// debugging, so it is stored wrapped as a raw payload instead of being
// dropped. Inserts run through the storage manager, which retries once
// on connection loss; a message that still cannot be stored is logged
// and abandoned rather than blocking the bus.
package recorder

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hearthline/hearth-core/internal/bus"
	"github.com/hearthline/hearth-core/internal/infrastructure/database"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
	"github.com/hearthline/hearth-core/internal/infrastructure/mqtt"
)

// Store is the storage surface the recorder needs.
type Store interface {
	Run(ctx context.Context, op func(ctx context.Context, q database.Querier) error) error
}

const createSchema = `
CREATE TABLE IF NOT EXISTS events (
    seq      BIGSERIAL PRIMARY KEY,
    ts       TIMESTAMPTZ NOT NULL,
    topic    TEXT NOT NULL,
    source   TEXT NOT NULL DEFAULT '',
    type     TEXT NOT NULL DEFAULT '',
    event_id TEXT NOT NULL DEFAULT '',
    trace_id TEXT NOT NULL DEFAULT '',
    payload  JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS events_ts_idx ON events (ts);
CREATE INDEX IF NOT EXISTS events_type_idx ON events (type)`

const insertEvent = `
INSERT INTO events (ts, topic, source, type, event_id, trace_id, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Recorder writes bus messages to the events table.
type Recorder struct {
	store  Store
	logger *logging.Logger

	recordedTotal atomic.Uint64
	rawTotal      atomic.Uint64
	failedTotal   atomic.Uint64
}

// New creates a Recorder backed by the given store.
func New(store Store, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Default()
	}
	return &Recorder{
		store:  store,
		logger: logger.With("component", "recorder"),
	}
}

// EnsureSchema creates the events table and its indexes if missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	err := r.store.Run(ctx, func(ctx context.Context, q database.Querier) error {
		_, err := q.Exec(ctx, createSchema)
		return err
	})
	if err != nil {
		return fmt.Errorf("recorder: ensure schema: %w", err)
	}
	return nil
}

// Handle stores one bus message. Never returns an error: recording is
// best-effort and must not disturb the consumers sharing the bus.
func (r *Recorder) Handle(ctx context.Context, msg mqtt.Message) {
	ts := time.Now().UTC()
	var source, eventType, eventID, traceID string
	payload := msg.Payload

	if envelope, err := bus.Parse(msg.Payload); err == nil {
		source = envelope.Source
		eventType = envelope.Type
		eventID = envelope.ID
		traceID = envelope.TraceID
		if parsed, terr := envelope.Timestamp(); terr == nil {
			ts = parsed.UTC()
		}
	} else {
		// Not an envelope. Keep it anyway, wrapped so the column stays
		// valid JSON.
		r.rawTotal.Add(1)
		wrapped, werr := json.Marshal(map[string]string{"raw": string(msg.Payload)})
		if werr != nil {
			r.failedTotal.Add(1)
			r.logger.Warn("unrecordable payload", "topic", msg.Topic, "error", werr)
			return
		}
		payload = wrapped
		eventType = "raw"
	}

	err := r.store.Run(ctx, func(ctx context.Context, q database.Querier) error {
		_, err := q.Exec(ctx, insertEvent, ts, msg.Topic, source, eventType, eventID, traceID, payload)
		return err
	})
	if err != nil {
		r.failedTotal.Add(1)
		r.logger.Error("failed to record event", "topic", msg.Topic, "type", eventType, "error", err)
		return
	}
	r.recordedTotal.Add(1)
}

// LogStats emits a periodic line with recorder counters. Wire it to a
// schedule.
func (r *Recorder) LogStats() {
	r.logger.Info("recorder stats",
		"recorded", r.recordedTotal.Load(),
		"raw", r.rawTotal.Load(),
		"failed", r.failedTotal.Load(),
	)
}

// Status returns the recorder counters as an event payload.
func (r *Recorder) Status() map[string]any {
	return map[string]any{
		"recorded": r.recordedTotal.Load(),
		"raw":      r.rawTotal.Load(),
		"failed":   r.failedTotal.Load(),
	}
}
