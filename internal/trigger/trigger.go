// Package trigger publishes scheduled envelopes onto the bus.
//
// Triggers are declared in configuration: a name, a schedule (cron
// expression, interval, or one-shot timestamp) and an optional payload.
// When a trigger fires it publishes an envelope other services react
// to, which keeps time-based behaviour out of those services entirely.
package trigger

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hearthline/hearth-core/internal/bus"
	"github.com/hearthline/hearth-core/internal/infrastructure/config"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
	"github.com/hearthline/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthline/hearth-core/internal/schedule"
)

const (
	sourceName  = "trigger-scheduler"
	defaultType = "trigger.fired"
)

// Publisher is the outbound bus surface triggers publish through.
type Publisher interface {
	PublishJSON(topic string, v any, qos byte, retained bool) error
}

// Service registers configured triggers on a scheduler and publishes
// their envelopes when they fire.
type Service struct {
	sched  *schedule.Scheduler
	pub    Publisher
	topics mqtt.Topics
	logger *logging.Logger

	firedTotal atomic.Uint64
}

// New creates a trigger Service.
func New(sched *schedule.Scheduler, pub Publisher, topics mqtt.Topics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		sched:  sched,
		pub:    pub,
		topics: topics,
		logger: logger.With("component", "trigger"),
	}
}

// Register adds every configured trigger to the scheduler. A one-shot
// trigger whose time has already passed is skipped with a warning; the
// daemon may simply have restarted after it fired.
func (s *Service) Register(triggers []config.TriggerConfig) error {
	for _, t := range triggers {
		if err := s.register(t); err != nil {
			return fmt.Errorf("trigger %q: %w", t.Name, err)
		}
	}
	return nil
}

func (s *Service) register(t config.TriggerConfig) error {
	job := s.fireFunc(t)

	switch strings.ToLower(t.Kind) {
	case "cron":
		return s.sched.RegisterCron(t.Spec, job)
	case "interval":
		d, err := time.ParseDuration(t.Spec)
		if err != nil {
			return fmt.Errorf("bad interval %q: %w", t.Spec, err)
		}
		return s.sched.RegisterInterval(d, job)
	case "once":
		at, err := time.Parse(time.RFC3339, t.Spec)
		if err != nil {
			return fmt.Errorf("bad timestamp %q: %w", t.Spec, err)
		}
		if err := s.sched.RegisterOnce(at, job); err != nil {
			if errors.Is(err, schedule.ErrPastTime) {
				s.logger.Warn("skipping trigger scheduled in the past", "name", t.Name, "at", t.Spec)
				return nil
			}
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
}

// fireFunc builds the job that publishes the trigger envelope.
func (s *Service) fireFunc(t config.TriggerConfig) func() {
	topic := t.Topic
	if topic == "" {
		topic = s.topics.Trigger(t.Name)
	}
	eventType := t.Type
	if eventType == "" {
		eventType = defaultType
	}

	return func() {
		data := map[string]any{"name": t.Name}
		for k, v := range t.Data {
			data[k] = v
		}
		envelope := bus.New(sourceName, eventType, data)
		if err := s.pub.PublishJSON(topic, envelope, 1, false); err != nil {
			s.logger.Error("failed to publish trigger", "name", t.Name, "topic", topic, "error", err)
			return
		}
		s.firedTotal.Add(1)
		s.logger.Info("trigger fired", "name", t.Name, "topic", topic, "type", eventType)
	}
}

// FiredTotal reports how many trigger envelopes have been published.
func (s *Service) FiredTotal() uint64 {
	return s.firedTotal.Load()
}
