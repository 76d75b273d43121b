package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
	"github.com/nerrad567/homelink-core/internal/infrastructure/logging"
)

const testJWTSecret = "test-secret-for-development-only-0123456789"

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HOMELINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingJWTSecret(t *testing.T) {
	t.Setenv("HOMELINK_JWT_SECRET", "")
	t.Setenv("HOMELINK_CONFIG", writeConfig(t, `
store:
  backend: memory
`))

	err := run(context.Background())
	if err == nil {
		t.Fatal("run() should fail without a JWT secret")
	}
	if !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Errorf("error = %v, want mention of security.jwt.secret", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("HOMELINK_CONFIG", "")

	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("HOMELINK_CONFIG", "/custom/path/config.yaml")

	if got := getConfigPath(); got != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q, want /custom/path/config.yaml", got)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		cfg        config.Config
		wantHealth bool
	}{
		{
			name:       "memory",
			cfg:        config.Config{Store: config.StoreConfig{Backend: config.StoreMemory}},
			wantHealth: false,
		},
		{
			name: "sqlite",
			cfg: config.Config{
				Store:    config.StoreConfig{Backend: config.StoreSQLite},
				Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "homelink.db"), BusyTimeout: 5},
			},
			wantHealth: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := openStore(ctx, &tt.cfg, testLogger())
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer backend.close()

			if (backend.health != nil) != tt.wantHealth {
				t.Errorf("health checker present = %v, want %v", backend.health != nil, tt.wantHealth)
			}
			if _, err := backend.store.List(ctx); err != nil {
				t.Errorf("List: %v", err)
			}
			if backend.health != nil {
				if err := backend.health.HealthCheck(ctx); err != nil {
					t.Errorf("HealthCheck: %v", err)
				}
			}
		})
	}
}

func TestBuildLimiter_Disabled(t *testing.T) {
	cfg := &config.Config{}
	limiter, err := buildLimiter(context.Background(), cfg, &storeBackend{close: func() {}})
	if err != nil {
		t.Fatalf("buildLimiter: %v", err)
	}
	if limiter != nil {
		t.Errorf("limiter = %v, want nil when disabled", limiter)
	}
}

// TestRun_SuccessfulStartupAndShutdown starts without a reachable broker
// and stops on context cancellation.
func TestRun_SuccessfulStartupAndShutdown(t *testing.T) {
	saved := mqttStartTimeout
	mqttStartTimeout = 100 * time.Millisecond
	t.Cleanup(func() { mqttStartTimeout = saved })

	port := freePort(t)
	t.Setenv("HOMELINK_JWT_SECRET", testJWTSecret)
	t.Setenv("HOMELINK_CONFIG", writeConfig(t, fmt.Sprintf(`
store:
  backend: memory

mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "test-client"
  qos: 1
  reconnect:
    initial_delay: 1
    max_delay: 2

api:
  host: "127.0.0.1"
  port: %d

logging:
  level: error
  format: text
  output: stdout
`, port)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url) //nolint:gosec,noctx // test-only local URL
		if err == nil {
			resp.Body.Close()
			// The broker is unreachable, so the report is degraded.
			if resp.StatusCode != http.StatusServiceUnavailable {
				t.Errorf("health status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("API server never came up: %v", err)
		}
		select {
		case err := <-errCh:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("run() = %v, want nil on clean shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}
