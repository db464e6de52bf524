package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeConfig writes a YAML config to a temp file and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
site:
  id: test-site
  timezone: UTC
mqtt:
  broker:
    host: 127.0.0.1
sonos:
  targets: ["10.0.0.8"]
`

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.QueueSize != 50000 {
		t.Errorf("queue size = %d, want default 50000", cfg.MQTT.QueueSize)
	}
	if cfg.MQTT.BaseTopic != "hearth" {
		t.Errorf("base topic = %q, want default hearth", cfg.MQTT.BaseTopic)
	}
	if cfg.Sonos.DefaultVolume != 50 {
		t.Errorf("default volume = %d, want 50", cfg.Sonos.DefaultVolume)
	}
	if cfg.AudioHost.TTLSeconds != 180 {
		t.Errorf("audio host TTL = %d, want 180", cfg.AudioHost.TTLSeconds)
	}
	if !cfg.QuietHours.Enabled {
		t.Error("quiet hours should default to enabled")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
quiet_hours:
  enabled: true
  weekday_start: "22:30"
  weekday_end: "06:00"
  weekend_start: "23:00"
  weekend_end: "07:00"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.QuietHours.WeekdayStart != "22:30" {
		t.Errorf("weekday start = %q, want 22:30", cfg.QuietHours.WeekdayStart)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_MQTT_HOST", "broker.local")
	t.Setenv("HEARTH_DATABASE_PASSWORD", "s3cret")

	path := writeConfig(t, minimalConfig)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT host = %q, want env override broker.local", cfg.MQTT.Broker.Host)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("database password not taken from environment")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(_ *Config) {},
			wantErr: "",
		},
		{
			name:    "bad qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero queue",
			mutate:  func(c *Config) { c.MQTT.QueueSize = 0 },
			wantErr: "mqtt.queue_size",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Site.Timezone = "Mars/Olympus" },
			wantErr: "site.timezone",
		},
		{
			name:    "volume out of range",
			mutate:  func(c *Config) { c.Sonos.DefaultVolume = 150 },
			wantErr: "sonos.default_volume",
		},
		{
			name:    "gateway without targets",
			mutate:  func(c *Config) { c.Sonos.Targets = nil },
			wantErr: "sonos.targets",
		},
		{
			name:    "bad quiet hours time",
			mutate:  func(c *Config) { c.QuietHours.WeekdayStart = "25:99" },
			wantErr: "quiet_hours.weekday_start",
		},
		{
			name: "bad trigger kind",
			mutate: func(c *Config) {
				c.Triggers = []TriggerConfig{{Name: "x", Kind: "weekly", Spec: "x"}}
			},
			wantErr: "triggers[0].kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Sonos.Targets = []string{"10.0.0.8"}
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	db := DatabaseConfig{
		Host:           "db.local",
		Port:           5432,
		Name:           "hearth",
		User:           "hearth",
		Password:       "p@ss/word",
		SSLMode:        "disable",
		ConnectTimeout: 10,
	}

	dsn := db.DSN()
	if !strings.HasPrefix(dsn, "postgres://") {
		t.Errorf("DSN = %q, want postgres:// scheme", dsn)
	}
	if strings.Contains(dsn, "p@ss/word") {
		t.Errorf("DSN = %q, password must be URL-escaped", dsn)
	}
	if !strings.Contains(dsn, "connect_timeout=10") {
		t.Errorf("DSN = %q, missing connect_timeout", dsn)
	}

	if got := db.Redacted(); strings.Contains(got, "word") {
		t.Errorf("Redacted() = %q, must not contain the password", got)
	}
}
