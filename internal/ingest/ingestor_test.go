package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/homelink-core/internal/command"
	"github.com/nerrad567/homelink-core/internal/device"
	"github.com/nerrad567/homelink-core/internal/infrastructure/mqtt"
)

// fakeBroker is an in-process stand-in for the MQTT client. It can fail
// a number of subscribe attempts and loops published commands back to
// subscribers when a device responder is installed.
type fakeBroker struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	subscribes   int
	unsubscribes int
	failNext     int
	subscribed   chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:   make(map[string]mqtt.MessageHandler),
		subscribed: make(chan struct{}, 16),
	}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	b.subscribes++
	if b.failNext > 0 {
		b.failNext--
		b.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	b.handlers[topic] = handler
	b.mu.Unlock()

	b.subscribed <- struct{}{}
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribes++
	delete(b.handlers, topic)
	return nil
}

// deliver routes a status message to the wildcard handler.
func (b *fakeBroker) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	b.mu.Lock()
	h := b.handlers[mqtt.Topics{}.AllDeviceStatus()]
	b.mu.Unlock()
	if h == nil {
		t.Fatal("no status subscription")
	}
	if err := h(topic, []byte(payload)); err != nil {
		t.Fatalf("handler returned %v", err)
	}
}

func (b *fakeBroker) counts() (subs, unsubs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (f *fakeRecorder) StatusReport(_, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.outcomes) == 0 {
		return ""
	}
	return f.outcomes[len(f.outcomes)-1]
}

func waitSubscribed(t *testing.T, b *fakeBroker) {
	t.Helper()
	select {
	case <-b.subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription")
	}
}

func startIngestor(t *testing.T, ing *Ingestor) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, cancelFn := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- ing.Run(ctx) }()
	return cancelFn, ch
}

func TestHandleMessage_Outcomes(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	ctx := context.Background()
	if _, err := reg.Register(ctx, "lamp1", "", "alice"); err != nil {
		t.Fatal(err)
	}
	rec := &fakeRecorder{}
	ing := New(reg, newFakeBroker(), mqtt.Topics{}, WithRecorder(rec))

	tests := []struct {
		name    string
		topic   string
		payload string
		outcome string
		want    device.State
	}{
		{"plain", "home/devices/lamp1/status", "ON", OutcomeApplied, device.StateOn},
		{"json object", "home/devices/lamp1/status", `{"state":"OFF"}`, OutcomeApplied, device.StateOff},
		{"json string", "home/devices/lamp1/status", `"ON"`, OutcomeApplied, device.StateOn},
		{"malformed payload", "home/devices/lamp1/status", `{"state":`, OutcomeMalformed, device.StateOn},
		{"unknown device", "home/devices/ghost/status", "OFF", OutcomeUnknownDevice, device.StateOn},
		{"foreign topic", "other/lamp1/status", "OFF", OutcomeMalformed, device.StateOn},
		{"extra level", "home/devices/a/b/status", "OFF", OutcomeMalformed, device.StateOn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ing.HandleMessage(tt.topic, []byte(tt.payload)); err != nil {
				t.Fatalf("HandleMessage() = %v, want nil", err)
			}
			if got := rec.last(); got != tt.outcome {
				t.Errorf("outcome = %q, want %q", got, tt.outcome)
			}
			dev, _ := reg.Get(ctx, "lamp1")
			if dev.State != tt.want {
				t.Errorf("lamp1 state = %q, want %q", dev.State, tt.want)
			}
		})
	}
}

func TestHandleMessage_UnknownDeviceLeavesRegistryUnchanged(t *testing.T) {
	reg := device.NewRegistry(device.NewMemoryStore())
	ing := New(reg, newFakeBroker(), mqtt.Topics{})

	if err := ing.HandleMessage("home/devices/ghost/status", []byte("ON")); err != nil {
		t.Fatalf("HandleMessage() = %v", err)
	}
	if _, err := reg.Get(context.Background(), "ghost"); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrDeviceNotFound", err)
	}
	if n := reg.Stats().Devices; n != 0 {
		t.Errorf("Devices = %d, want 0", n)
	}
}

func TestRun_SubscribesAndUnsubscribesOnShutdown(t *testing.T) {
	broker := newFakeBroker()
	ing := New(device.NewRegistry(device.NewMemoryStore()), broker, mqtt.Topics{})

	cancel, done := startIngestor(t, ing)
	waitSubscribed(t, broker)
	if !ing.Subscribed() {
		t.Error("Subscribed() = false after subscribe")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, unsubs := broker.counts(); unsubs != 1 {
		t.Errorf("unsubscribes = %d, want 1", unsubs)
	}
	if ing.Subscribed() {
		t.Error("Subscribed() = true after shutdown")
	}
}

func TestRun_ResubscribesOnReconnect(t *testing.T) {
	broker := newFakeBroker()
	ing := New(device.NewRegistry(device.NewMemoryStore()), broker, mqtt.Topics{})

	cancel, done := startIngestor(t, ing)
	defer func() { cancel(); <-done }()
	waitSubscribed(t, broker)

	ing.NotifyConnected()
	waitSubscribed(t, broker)

	if subs, _ := broker.counts(); subs != 2 {
		t.Errorf("subscribes = %d, want 2", subs)
	}
}

func TestRun_RetriesWithBackoff(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = 3
	ing := New(device.NewRegistry(device.NewMemoryStore()), broker, mqtt.Topics{},
		WithBackoff(time.Millisecond, 4*time.Millisecond))

	cancel, done := startIngestor(t, ing)
	defer func() { cancel(); <-done }()
	waitSubscribed(t, broker)

	if subs, _ := broker.counts(); subs != 4 {
		t.Errorf("subscribe attempts = %d, want 4", subs)
	}
}

func TestRun_ShutdownDuringBackoff(t *testing.T) {
	broker := newFakeBroker()
	broker.failNext = 1000
	ing := New(device.NewRegistry(device.NewMemoryStore()), broker, mqtt.Topics{},
		WithBackoff(time.Hour, time.Hour))

	cancel, done := startIngestor(t, ing)
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run blocked in backoff after cancel")
	}
}

func TestWithBackoff_IgnoresInvalid(t *testing.T) {
	ing := New(nil, nil, mqtt.Topics{}, WithBackoff(0, 0))
	if ing.initialBackoff != defaultInitialBackoff || ing.maxBackoff != defaultMaxBackoff {
		t.Errorf("backoff = %v/%v, want defaults", ing.initialBackoff, ing.maxBackoff)
	}
}

// TestLampScenario runs the owner/non-owner flow through the dispatcher
// and the ingestor together.
func TestLampScenario(t *testing.T) {
	ctx := context.Background()
	reg := device.NewRegistry(device.NewMemoryStore())
	broker := newFakeBroker()
	ing := New(reg, broker, mqtt.Topics{})

	cancel, done := startIngestor(t, ing)
	defer func() { cancel(); <-done }()
	waitSubscribed(t, broker)

	pub := &loopbackPublisher{}
	disp := command.New(reg, pub, mqtt.Topics{})

	// alice registers lamp1; it starts OFF.
	if _, err := reg.Register(ctx, "lamp1", "Lamp", "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sub := reg.Watch(ctx, "lamp1")
	defer sub.Close()
	if c := <-sub.C(); c.State != device.StateOff {
		t.Fatalf("initial state = %q", c.State)
	}

	// bob cannot control it.
	if _, err := disp.Dispatch(ctx, "lamp1", "bob", device.StateOn); !errors.Is(err, command.ErrForbidden) {
		t.Fatalf("bob Dispatch() error = %v, want ErrForbidden", err)
	}

	// alice turns it on; the command is published.
	ack, err := disp.Dispatch(ctx, "lamp1", "alice", device.StateOn)
	if err != nil {
		t.Fatalf("alice Dispatch: %v", err)
	}
	if !ack.Published || len(pub.msgs) != 1 || pub.msgs[0] != "home/devices/lamp1/set=ON" {
		t.Fatalf("ack = %+v, published = %v", ack, pub.msgs)
	}
	if c := <-sub.C(); c.State != device.StateOn || c.Source != device.SourceCommand {
		t.Fatalf("after command: %+v", c)
	}

	// The device later reports OFF on its own.
	broker.deliver(t, "home/devices/lamp1/status", "OFF")
	if c := <-sub.C(); c.State != device.StateOff || c.Source != device.SourceReport {
		t.Fatalf("after report: %+v", c)
	}
	dev, _ := reg.Get(ctx, "lamp1")
	if dev.State != device.StateOff {
		t.Errorf("final state = %q, want OFF", dev.State)
	}
}

type loopbackPublisher struct {
	msgs []string
}

func (p *loopbackPublisher) Publish(topic string, payload []byte, _ byte, _ bool) error {
	p.msgs = append(p.msgs, topic+"="+string(payload))
	return nil
}
