package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds publish, subscribe and unsubscribe acknowledgements.
	defaultPublishTimeout = 5 * time.Second

	defaultDisconnectQuiesce = 1000 // milliseconds

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12

	generatedClientIDPrefix = "homelink-"
)

// clientID returns the configured client ID, or a generated one when
// none is set so that several bridge processes can share a broker.
func clientID(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return generatedClientIDPrefix + uuid.NewString()[:8]
}

// buildClientOptions creates paho options from the bridge configuration:
// broker URL (tcp:// or ssl://), client ID, credentials, clean session,
// auto-reconnect with the configured backoff, keepalive and TLS.
func buildClientOptions(cfg config.MQTTConfig, id string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(id)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// No persistent session: the ingestor resubscribes on every connect.
	opts.SetCleanSession(true)

	initial, maxDelay := cfg.Reconnect.Backoff()
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(initial)
	opts.SetMaxReconnectInterval(maxDelay)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// configureLWT sets the Last Will published by the broker if the bridge
// drops off without a clean disconnect. It is retained so late
// subscribers see the last status.
func configureLWT(opts *pahomqtt.ClientOptions, id string) {
	opts.SetWill(Topics{}.SystemStatus(), statusPayload("offline", id, "unexpected_disconnect"), 1, true)
}

// statusPayload renders the JSON body published on the system status topic.
func statusPayload(status, id, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"client_id":%q,"timestamp":%q}`,
			status, id, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"client_id":%q,"reason":%q,"timestamp":%q}`,
		status, id, reason, time.Now().UTC().Format(time.RFC3339))
}
