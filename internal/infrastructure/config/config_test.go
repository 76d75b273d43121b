package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
store:
  backend: sqlite
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "home/devices"
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Store.Backend != StoreSQLite {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, StoreSQLite)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.WebSocket.SendBuffer != 16 {
		t.Errorf("WebSocket.SendBuffer = %d, want 16", cfg.WebSocket.SendBuffer)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
store:
  backend: postgres
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Fatal("Load() expected validation error for missing postgres.dsn, got nil")
	}
	if !strings.Contains(err.Error(), "postgres.dsn") {
		t.Errorf("error = %v, want mention of postgres.dsn", err)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Security.JWT.Secret = validJWTSecret
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(c *Config) {}},
		{name: "memory store", mutate: func(c *Config) { c.Store.Backend = StoreMemory; c.Database.Path = "" }},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "etcd" },
			wantErr: "store.backend",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "redis without addr",
			mutate:  func(c *Config) { c.Store.Backend = StoreRedis; c.Redis.Addr = "" },
			wantErr: "redis.addr",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "wildcard topic prefix",
			mutate:  func(c *Config) { c.MQTT.TopicPrefix = "home/+" },
			wantErr: "mqtt.topic_prefix",
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "zero send buffer",
			mutate:  func(c *Config) { c.WebSocket.SendBuffer = 0 },
			wantErr: "websocket.send_buffer",
		},
		{
			name:    "influx enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: "influxdb.url",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
			wantErr: "tracing.sample_ratio",
		},
		{
			name:    "rate limit without budget",
			mutate:  func(c *Config) { c.Security.RateLimit.Enabled = true; c.Security.RateLimit.RequestsPerMinute = 0 },
			wantErr: "requests_per_minute",
		},
		{
			name:    "rate limit without redis",
			mutate:  func(c *Config) { c.Security.RateLimit.Enabled = true; c.Redis.Addr = "" },
			wantErr: "redis.addr is required when rate limiting",
		},
		{
			name:    "missing JWT secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "" },
			wantErr: "security.jwt.secret is required",
		},
		{
			name:    "JWT secret too short",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: "at least 32 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.MQTT.QoS = 9
	cfg.API.Port = 0
	cfg.Security.JWT.Secret = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"mqtt.qos", "api.port", "security.jwt.secret"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestReconnectBackoff(t *testing.T) {
	tests := []struct {
		name        string
		cfg         MQTTReconnectConfig
		wantInitial time.Duration
		wantMax     time.Duration
	}{
		{"configured", MQTTReconnectConfig{InitialDelay: 2, MaxDelay: 30}, 2 * time.Second, 30 * time.Second},
		{"zero initial", MQTTReconnectConfig{InitialDelay: 0, MaxDelay: 10}, time.Second, 10 * time.Second},
		{"max below initial", MQTTReconnectConfig{InitialDelay: 5, MaxDelay: 1}, 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initial, maxDelay := tt.cfg.Backoff()
			if initial != tt.wantInitial || maxDelay != tt.wantMax {
				t.Errorf("Backoff() = (%v, %v), want (%v, %v)", initial, maxDelay, tt.wantInitial, tt.wantMax)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HOMELINK_STORE_BACKEND", "redis")
	t.Setenv("HOMELINK_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HOMELINK_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("HOMELINK_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HOMELINK_MQTT_PORT", "8883")
	t.Setenv("HOMELINK_MQTT_USERNAME", "testuser")
	t.Setenv("HOMELINK_MQTT_PASSWORD", "testpass")
	t.Setenv("HOMELINK_API_HOST", "192.168.1.1")
	t.Setenv("HOMELINK_API_PORT", "not-a-number")
	t.Setenv("HOMELINK_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("HOMELINK_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   any
		want  any
	}{
		{"Store.Backend", cfg.Store.Backend, "redis"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Redis.Addr", cfg.Redis.Addr, "redis.internal:6380"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Broker.Port", cfg.MQTT.Broker.Port, 8883},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 8000}, // unparseable value ignored
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Store.Backend != StoreSQLite {
		t.Errorf("defaultConfig Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicPrefix != "home/devices" {
		t.Errorf("defaultConfig MQTT.TopicPrefix = %q, want home/devices", cfg.MQTT.TopicPrefix)
	}
	if cfg.API.Port != 8000 {
		t.Errorf("defaultConfig API.Port = %d, want 8000", cfg.API.Port)
	}
}
