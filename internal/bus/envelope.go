package bus

import (
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the standard wrapper for every message on the bus.
// All Hearth services exchange only well-formed envelopes; anything
// else is logged and dropped, never retried.
type Envelope struct {
	ID      string         `json:"id"`
	TS      string         `json:"ts"`
	Source  string         `json:"source"`
	Type    string         `json:"type"`
	TraceID string         `json:"trace_id"`
	Data    map[string]any `json:"data"`
}

// Validation errors. Use errors.Is() to check for these in calling code.
var (
	ErrMissingID      = errors.New("bus: envelope missing id")
	ErrMissingTS      = errors.New("bus: envelope missing ts")
	ErrInvalidTS      = errors.New("bus: envelope ts is not RFC3339")
	ErrMissingSource  = errors.New("bus: envelope missing source")
	ErrMissingType    = errors.New("bus: envelope missing type")
	ErrMissingTraceID = errors.New("bus: envelope missing trace_id")
	ErrMissingData    = errors.New("bus: envelope missing data")
)

// New builds an envelope with a fresh id and trace id.
//
// Parameters:
//   - source: Publishing service name (e.g. "sonos-gateway")
//   - typ: Event type (e.g. "announce.request")
//   - data: Event payload; nil becomes an empty object
func New(source, typ string, data map[string]any) Envelope {
	return NewWithTrace(source, typ, NewID(), data)
}

// NewWithTrace builds an envelope that continues an existing trace.
func NewWithTrace(source, typ, traceID string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	if traceID == "" {
		traceID = NewID()
	}
	return Envelope{
		ID:      NewID(),
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Source:  source,
		Type:    typ,
		TraceID: traceID,
		Data:    data,
	}
}

// NewID returns a fresh envelope/trace identifier (uuid4, no dashes).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Parse decodes and validates an envelope from raw payload bytes.
//
// Returns:
//   - Envelope: The decoded envelope
//   - error: Decode or validation failure; callers log and drop
func Parse(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("bus: decoding envelope: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Validate checks that every required envelope field is present and
// that ts is a timezone-aware RFC3339 timestamp.
func (e Envelope) Validate() error {
	if e.ID == "" {
		return ErrMissingID
	}
	if e.TS == "" {
		return ErrMissingTS
	}
	if _, err := time.Parse(time.RFC3339, e.TS); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTS, e.TS)
	}
	if e.Source == "" {
		return ErrMissingSource
	}
	if e.Type == "" {
		return ErrMissingType
	}
	if e.TraceID == "" {
		return ErrMissingTraceID
	}
	if e.Data == nil {
		return ErrMissingData
	}
	return nil
}

// Timestamp returns the envelope ts as a time.Time.
// Validate must have passed for this to be meaningful.
func (e Envelope) Timestamp() (time.Time, error) {
	return time.Parse(time.RFC3339, e.TS)
}

// Encode marshals the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("bus: encoding envelope: %w", err)
	}
	return data, nil
}
