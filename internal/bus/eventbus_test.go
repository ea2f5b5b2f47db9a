package bus

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *EventBus {
	t.Helper()

	// Port -1 asks the embedded server for a random free port.
	eb, err := New(Config{Host: "127.0.0.1", Port: -1}, slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eb.Stop)
	return eb
}

func TestPublishSubscribe(t *testing.T) {
	eb := newTestBus(t)

	received := make(chan map[string]string, 1)
	_, err := eb.Subscribe(SubjectPassageEvent, func(msg *nats.Msg) {
		var payload map[string]string
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
			return
		}
		received <- payload
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := eb.Publish(SubjectPassageEvent, map[string]string{"side": "left"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case payload := <-received:
		if payload["side"] != "left" {
			t.Errorf("payload = %v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not receive the message")
	}
}

func TestUnsubscribe(t *testing.T) {
	eb := newTestBus(t)

	received := make(chan struct{}, 1)
	if _, err := eb.Subscribe(SubjectPipelineState, func(*nats.Msg) {
		received <- struct{}{}
	}); err != nil {
		t.Fatal(err)
	}

	eb.Unsubscribe(SubjectPipelineState)

	if err := eb.Publish(SubjectPipelineState, map[string]string{"state": "running"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-received:
		t.Error("unsubscribed handler still received a message")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClientURL(t *testing.T) {
	eb := newTestBus(t)

	if eb.ClientURL() == "" {
		t.Error("ClientURL returned empty string")
	}
}
