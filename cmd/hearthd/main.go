// Hearth Core - Home Automation Hub
//
// This is the main entry point for the Hearth daemon. It wires the
// shared MQTT bus, the event store, and the announcement pipeline
// (text-to-speech, ephemeral audio hosting, speaker playback) into a
// single process and runs until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hearthline/hearth-core/internal/audiohost"
	"github.com/hearthline/hearth-core/internal/gateway"
	"github.com/hearthline/hearth-core/internal/infrastructure/config"
	"github.com/hearthline/hearth-core/internal/infrastructure/database"
	"github.com/hearthline/hearth-core/internal/infrastructure/logging"
	"github.com/hearthline/hearth-core/internal/infrastructure/mqtt"
	"github.com/hearthline/hearth-core/internal/playback"
	"github.com/hearthline/hearth-core/internal/recorder"
	"github.com/hearthline/hearth-core/internal/schedule"
	"github.com/hearthline/hearth-core/internal/trigger"
	"github.com/hearthline/hearth-core/internal/tts"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

const statusInterval = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Hearth Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return fmt.Errorf("loading site timezone: %w", err)
	}

	// Connect to MQTT broker. Failure here is fatal: the bus is the
	// spine of the system and a bad broker config should surface
	// immediately, not after the first announcement.
	bus, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := bus.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	bus.SetLogger(log)
	topics := bus.Topics()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Event store and recorder (optional)
	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		store := database.New(cfg.Database, log)
		if err := store.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if closeErr := store.Close(closeCtx); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "target", cfg.Database.Redacted())

		rec = recorder.New(store, log)
		if err := rec.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("preparing event schema: %w", err)
		}
		log.Info("event schema ready")
	} else {
		log.Info("event recorder disabled")
	}

	// Announcement gateway (optional)
	var gw *gateway.Gateway
	var host *audiohost.Host
	if cfg.Gateway.Enabled {
		host, err = audiohost.New(cfg.AudioHost, log)
		if err != nil {
			return fmt.Errorf("creating audio host: %w", err)
		}
		defer func() {
			log.Info("closing audio host")
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if closeErr := host.Close(closeCtx); closeErr != nil {
				log.Error("error closing audio host", "error", closeErr)
			}
		}()

		synth := buildSynthesizer(cfg.TTS, log)
		player := playback.New(buildResolver(cfg.Sonos, log), playback.Config{
			DefaultVolume: cfg.Sonos.DefaultVolume,
			MemberVolumes: cfg.Sonos.SpeakerVolumes,
			Concurrency:   cfg.Sonos.Concurrency,
			TailPadding:   cfg.Sonos.TailPadding(),
			DoneTimeout:   cfg.Sonos.DoneTimeout(),
		}, log)

		gw = gateway.New(cfg.QuietHours, cfg.Sonos, bus, synth, host, player, topics, loc, log)
		log.Info("announcement gateway ready",
			"targets", len(cfg.Sonos.Targets),
			"backend", cfg.Sonos.Backend,
			"tts_provider", cfg.TTS.Provider,
		)
	} else {
		log.Info("announcement gateway disabled")
	}

	// Scheduler: configured triggers plus periodic service status
	sched := schedule.New(loc, log)
	triggers := trigger.New(sched, bus, topics, log)
	if err := triggers.Register(cfg.Triggers); err != nil {
		return fmt.Errorf("registering triggers: %w", err)
	}
	if gw != nil {
		if err := sched.RegisterInterval(statusInterval, gw.PublishStatus); err != nil {
			return fmt.Errorf("scheduling gateway status: %w", err)
		}
	}
	if rec != nil {
		if err := sched.RegisterInterval(time.Minute, rec.LogStats); err != nil {
			return fmt.Errorf("scheduling recorder stats: %w", err)
		}
	}
	sched.Start()
	defer func() {
		log.Info("stopping scheduler")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		if stopErr := sched.Stop(stopCtx); stopErr != nil {
			log.Error("error stopping scheduler", "error", stopErr)
		}
	}()
	log.Info("scheduler started", "triggers", len(cfg.Triggers))

	// Subscriptions: the recorder wants everything, the gateway only
	// announce requests. One subscription covers both when the recorder
	// is on; the registry replays these automatically after reconnects.
	switch {
	case rec != nil:
		if err := bus.Subscribe(topics.All(), byte(cfg.MQTT.QoS)); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	case gw != nil:
		if err := bus.Subscribe(topics.AnnounceRequest(), byte(cfg.MQTT.QoS)); err != nil {
			return fmt.Errorf("subscribing: %w", err)
		}
	}

	log.Info("initialisation complete, processing messages")

	var recHandler, gwHandler messageHandler
	if rec != nil {
		recHandler = rec
	}
	if gw != nil {
		gwHandler = gw
	}
	dispatch(ctx, bus, recHandler, gwHandler, topics.AnnounceRequest(), log)

	log.Info("shutdown signal received, cleaning up")
	log.Info("Hearth Core stopped")
	return nil
}

// messageSource yields inbound bus messages.
type messageSource interface {
	NextMessage(ctx context.Context) (mqtt.Message, error)
}

// messageHandler consumes one bus message.
type messageHandler interface {
	Handle(ctx context.Context, msg mqtt.Message)
}

// announceQueueSize bounds announcements waiting on the gateway worker.
// Announcements take seconds to minutes each; a deep queue would only
// play them long after they stopped being relevant.
const announceQueueSize = 16

// dispatch drains the inbound queue, recording every message and
// routing announce requests to the gateway. The gateway runs on its own
// worker goroutine so a slow or wedged speaker cannot stall event
// recording. Announcements queue up behind the worker and are dropped
// once the queue is full. Returns when the source reports an error,
// after the in-flight announcement finishes.
func dispatch(ctx context.Context, src messageSource, rec, gw messageHandler, announceTopic string, log *logging.Logger) {
	var announceCh chan mqtt.Message
	var workerDone chan struct{}
	if gw != nil {
		announceCh = make(chan mqtt.Message, announceQueueSize)
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			for m := range announceCh {
				gw.Handle(ctx, m)
			}
		}()
	}

	for {
		msg, err := src.NextMessage(ctx)
		if err != nil {
			break
		}
		if rec != nil {
			rec.Handle(ctx, msg)
		}
		if gw != nil && msg.Topic == announceTopic {
			select {
			case announceCh <- msg:
			default:
				log.Warn("announcement worker saturated, dropping request", "topic", msg.Topic)
			}
		}
	}

	if announceCh != nil {
		close(announceCh)
		<-workerDone
	}
}

// buildSynthesizer picks the TTS provider from configuration.
func buildSynthesizer(cfg config.TTSConfig, log *logging.Logger) tts.Synthesizer {
	switch cfg.Provider {
	case "elevenlabs":
		return tts.NewElevenLabs(cfg)
	default:
		log.Warn("using stub TTS provider", "provider", cfg.Provider)
		return tts.Stub{}
	}
}

// buildResolver picks the playback backend from configuration. Only
// the logging stub ships in-tree; real speaker backends plug in behind
// playback.Resolver.
func buildResolver(cfg config.SonosConfig, log *logging.Logger) playback.Resolver {
	if cfg.Backend != "stub" {
		log.Warn("unknown playback backend, falling back to stub", "backend", cfg.Backend)
	}
	return playback.NewStubResolver(log)
}

// getConfigPath returns the configuration file path.
// Uses HEARTH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HEARTH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
