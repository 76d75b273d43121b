package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/homelink-core/internal/infrastructure/config"
)

// offlineConfig points at a port nothing listens on; these tests never
// wait for a connection.
func offlineConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     19999,
			ClientID: "homelink-unit-test",
		},
		QoS:         1,
		TopicPrefix: "home/devices",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+": "+msg+" "+fmt.Sprint(args...))
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func (l *recordingLogger) contains(s string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if strings.Contains(e, s) {
			return true
		}
	}
	return false
}

// fakeMessage implements paho's Message interface.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestNew_NotConnected(t *testing.T) {
	c := New(offlineConfig())

	if c.IsConnected() {
		t.Error("IsConnected() = true before Start")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if c.ClientID() != "homelink-unit-test" {
		t.Errorf("ClientID() = %q", c.ClientID())
	}
	if c.Topics().DeviceCommand("lamp1") != "home/devices/lamp1/set" {
		t.Errorf("Topics() prefix not applied")
	}
	if c.BrokerAddress() != "127.0.0.1:19999" {
		t.Errorf("BrokerAddress() = %q", c.BrokerAddress())
	}
}

func TestClientID_Generated(t *testing.T) {
	cfg := offlineConfig()
	cfg.Broker.ClientID = ""

	a, b := clientID(cfg), clientID(cfg)
	if !strings.HasPrefix(a, generatedClientIDPrefix) {
		t.Errorf("clientID() = %q, want prefix %q", a, generatedClientIDPrefix)
	}
	if a == b {
		t.Errorf("generated client IDs should differ, both %q", a)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := New(offlineConfig())

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("ON"), 1, ErrInvalidTopic},
		{"invalid qos", "home/devices/lamp1/set", []byte("ON"), 3, ErrInvalidQoS},
		{"oversized payload", "home/devices/lamp1/set", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "home/devices/lamp1/set", []byte("ON"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := New(offlineConfig())
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("home/devices/+/status", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 5) = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("home/devices/+/status", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Subscribe("home/devices/+/status", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe(offline) = %v, want ErrNotConnected", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0 after failures", c.SubscriptionCount())
	}
}

func TestUnsubscribe_ForgetsTopicWhileOffline(t *testing.T) {
	c := New(offlineConfig())
	topic := "home/devices/+/status"
	c.subscriptions[topic] = subscription{topic: topic, qos: 1}

	if err := c.Unsubscribe(topic); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() = %v, want ErrNotConnected", err)
	}
	if c.HasSubscription(topic) {
		t.Error("topic still tracked after Unsubscribe")
	}
}

func TestWrapHandler_RecoversPanic(t *testing.T) {
	c := New(offlineConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	wrapped := c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})
	wrapped(nil, fakeMessage{topic: "home/devices/lamp1/status", payload: []byte("ON")})

	if !logger.contains("panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestWrapHandler_LogsError(t *testing.T) {
	c := New(offlineConfig())
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic, gotPayload string
	wrapped := c.wrapHandler(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, string(payload)
		return errors.New("bad payload")
	})
	wrapped(nil, fakeMessage{topic: "home/devices/lamp1/status", payload: []byte("ON")})

	if gotTopic != "home/devices/lamp1/status" || gotPayload != "ON" {
		t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
	}
	if !logger.contains("bad payload") {
		t.Error("expected handler error to be logged")
	}
}

func TestLifecycleCallbacks(t *testing.T) {
	c := New(offlineConfig())

	var lostErr error
	c.SetOnDisconnect(func(err error) { lostErr = err })
	c.handleDisconnect(errors.New("network down"))

	if lostErr == nil || lostErr.Error() != "network down" {
		t.Errorf("OnDisconnect received %v", lostErr)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after disconnect")
	}
}

func TestStatusPayload(t *testing.T) {
	online := statusPayload("online", "homelink-1", "")
	if !strings.Contains(online, `"status":"online"`) || strings.Contains(online, "reason") {
		t.Errorf("online payload = %s", online)
	}

	offline := statusPayload("offline", "homelink-1", "graceful_shutdown")
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := offlineConfig()
	cfg.Broker.TLS = true
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, "id-1")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:19999" {
		t.Errorf("Servers = %v, want ssl://127.0.0.1:19999", opts.Servers)
	}
	if opts.ClientID != "id-1" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("expected auto reconnect and connect retry")
	}
	if opts.TLSConfig == nil {
		t.Error("expected TLS config")
	}
}
