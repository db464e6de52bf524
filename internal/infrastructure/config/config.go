package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Hearth Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Database   DatabaseConfig   `yaml:"database"`
	AudioHost  AudioHostConfig  `yaml:"audio_host"`
	Sonos      SonosConfig      `yaml:"sonos"`
	QuietHours QuietHoursConfig `yaml:"quiet_hours"`
	TTS        TTSConfig        `yaml:"tts"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Recorder   RecorderConfig   `yaml:"recorder"`
	Triggers   []TriggerConfig  `yaml:"triggers"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	BaseTopic string              `yaml:"base_topic"`
	QueueSize int                 `yaml:"queue_size"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
// Delays are in seconds; the paho client applies bounded exponential
// backoff between InitialDelay and MaxDelay.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// DatabaseConfig contains PostgreSQL connection settings for the event store.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`

	// ConnectTimeout is the per-attempt connection timeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectMaxWait is the overall reconnect deadline in seconds.
	// Once elapsed, the original connection error is surfaced to callers.
	ReconnectMaxWait int `yaml:"reconnect_max_wait"`
}

// AudioHostConfig contains settings for the ephemeral audio file host.
type AudioHostConfig struct {
	// PublicHost overrides local-IP inference when set. Leave empty in
	// common LAN topologies; the host is inferred per request via a UDP
	// route probe towards the first playback target.
	PublicHost string `yaml:"public_host"`

	BindHost string `yaml:"bind_host"`
	BindPort int    `yaml:"bind_port"`

	// TTLSeconds is how long a hosted clip stays fetchable.
	TTLSeconds int `yaml:"ttl_seconds"`

	// SweepIntervalSeconds is how often expired clips are deleted.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// SonosConfig contains playback target settings.
type SonosConfig struct {
	// Targets are the logical speaker addresses announcements play on.
	Targets []string `yaml:"targets"`

	DefaultVolume int `yaml:"default_volume"`

	// SpeakerVolumes maps a speaker address to a volume override (0-100).
	SpeakerVolumes map[string]int `yaml:"speaker_volumes"`

	// Concurrency bounds how many coordinators play in parallel.
	Concurrency int `yaml:"concurrency"`

	TailPaddingSeconds float64 `yaml:"tail_padding_seconds"`
	DoneTimeoutSeconds float64 `yaml:"done_timeout_seconds"`

	// Backend selects the device-control implementation. "stub" logs
	// playback without touching any speakers.
	Backend string `yaml:"backend"`
}

// QuietHoursConfig contains the announcement suppression windows.
// Times are local "HH:MM"; a window may cross midnight.
type QuietHoursConfig struct {
	Enabled      bool   `yaml:"enabled"`
	WeekdayStart string `yaml:"weekday_start"`
	WeekdayEnd   string `yaml:"weekday_end"`
	WeekendStart string `yaml:"weekend_start"`
	WeekendEnd   string `yaml:"weekend_end"`
}

// TTSConfig contains text-to-speech settings.
type TTSConfig struct {
	// Provider is "elevenlabs" or "stub".
	Provider       string  `yaml:"provider"`
	APIKey         string  `yaml:"api_key"`
	VoiceID        string  `yaml:"voice_id"`
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
}

// GatewayConfig enables the announcement gateway service.
type GatewayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RecorderConfig enables the event recorder service.
type RecorderConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TriggerConfig declares one scheduled trigger envelope.
type TriggerConfig struct {
	Name string `yaml:"name"`

	// Kind is "cron", "interval", or "once".
	Kind string `yaml:"kind"`

	// Spec is the schedule: a 5-field cron expression, a Go duration
	// ("90s", "5m"), or an RFC3339 timestamp depending on Kind.
	Spec string `yaml:"spec"`

	// Topic overrides the default trigger topic when set.
	Topic string `yaml:"topic"`

	// Type is the envelope event type. Defaults to "trigger.fired".
	Type string `yaml:"type"`

	Data map[string]any `yaml:"data"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains rotating file log settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HEARTH_SECTION_KEY
// For example: HEARTH_MQTT_HOST, HEARTH_DATABASE_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Hearth",
			Timezone: "UTC",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hearth-core",
			},
			QoS:       1,
			BaseTopic: "hearth",
			QueueSize: 50000,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		Database: DatabaseConfig{
			Host:             "localhost",
			Port:             5432,
			Name:             "hearth",
			User:             "hearth",
			SSLMode:          "disable",
			ConnectTimeout:   10,
			ReconnectMaxWait: 60,
		},
		AudioHost: AudioHostConfig{
			BindHost:             "0.0.0.0",
			BindPort:             0,
			TTLSeconds:           180,
			SweepIntervalSeconds: 30,
		},
		Sonos: SonosConfig{
			DefaultVolume:      50,
			Concurrency:        3,
			TailPaddingSeconds: 3.0,
			DoneTimeoutSeconds: 300.0,
			Backend:            "stub",
		},
		QuietHours: QuietHoursConfig{
			Enabled:      true,
			WeekdayStart: "21:00",
			WeekdayEnd:   "05:50",
			WeekendStart: "21:00",
			WeekendEnd:   "06:50",
		},
		TTS: TTSConfig{
			Provider:       "stub",
			BaseURL:        "https://api.elevenlabs.io",
			TimeoutSeconds: 30,
		},
		Recorder: RecorderConfig{Enabled: true},
		Gateway:  GatewayConfig{Enabled: true},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: HEARTH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("HEARTH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEARTH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HEARTH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEARTH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database - credentials belong in the environment, not the file
	if v := os.Getenv("HEARTH_DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("HEARTH_DATABASE_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}

	// TTS
	if v := os.Getenv("HEARTH_TTS_API_KEY"); v != "" {
		cfg.TTS.APIKey = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("site.timezone %q is not a valid IANA zone", c.Site.Timezone))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.BaseTopic == "" {
		errs = append(errs, "mqtt.base_topic is required")
	}
	if c.MQTT.QueueSize < 1 {
		errs = append(errs, "mqtt.queue_size must be at least 1")
	}

	if c.Recorder.Enabled {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required when recorder is enabled")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required when recorder is enabled")
		}
	}

	if c.Gateway.Enabled && len(c.Sonos.Targets) == 0 {
		errs = append(errs, "sonos.targets is required when gateway is enabled")
	}
	if c.Sonos.DefaultVolume < 0 || c.Sonos.DefaultVolume > 100 {
		errs = append(errs, "sonos.default_volume must be between 0 and 100")
	}
	for addr, vol := range c.Sonos.SpeakerVolumes {
		if vol < 0 || vol > 100 {
			errs = append(errs, fmt.Sprintf("sonos.speaker_volumes[%s] must be between 0 and 100", addr))
		}
	}
	if c.Sonos.Concurrency < 1 {
		errs = append(errs, "sonos.concurrency must be at least 1")
	}

	if c.AudioHost.TTLSeconds < 1 {
		errs = append(errs, "audio_host.ttl_seconds must be at least 1")
	}
	if c.AudioHost.SweepIntervalSeconds < 1 {
		errs = append(errs, "audio_host.sweep_interval_seconds must be at least 1")
	}

	if c.QuietHours.Enabled {
		for key, val := range map[string]string{
			"quiet_hours.weekday_start": c.QuietHours.WeekdayStart,
			"quiet_hours.weekday_end":   c.QuietHours.WeekdayEnd,
			"quiet_hours.weekend_start": c.QuietHours.WeekendStart,
			"quiet_hours.weekend_end":   c.QuietHours.WeekendEnd,
		} {
			if _, err := time.Parse("15:04", val); err != nil {
				errs = append(errs, fmt.Sprintf("%s must be HH:MM, got %q", key, val))
			}
		}
	}

	for i, t := range c.Triggers {
		switch t.Kind {
		case "cron", "interval", "once":
		default:
			errs = append(errs, fmt.Sprintf("triggers[%d].kind must be cron, interval, or once", i))
		}
		if t.Name == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d].name is required", i))
		}
		if t.Spec == "" {
			errs = append(errs, fmt.Sprintf("triggers[%d].spec is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN builds a PostgreSQL connection URL from the database settings.
// The password is URL-escaped so it never breaks the connection string.
func (c *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(c.ConnectTimeout))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Redacted returns a log-safe description of the database target.
// Never include the password in logs.
func (c *DatabaseConfig) Redacted() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.User, c.Host, c.Port, c.Name)
}

// TTL returns the audio host TTL as a Duration.
func (c *AudioHostConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SweepInterval returns the audio host sweep interval as a Duration.
func (c *AudioHostConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// TailPadding returns the playback tail padding as a Duration.
func (c *SonosConfig) TailPadding() time.Duration {
	return time.Duration(c.TailPaddingSeconds * float64(time.Second))
}

// DoneTimeout returns the playback done-poll timeout as a Duration.
func (c *SonosConfig) DoneTimeout() time.Duration {
	return time.Duration(c.DoneTimeoutSeconds * float64(time.Second))
}

// ReconnectDeadline returns the overall database reconnect deadline.
func (c *DatabaseConfig) ReconnectDeadline() time.Duration {
	return time.Duration(c.ReconnectMaxWait) * time.Second
}
