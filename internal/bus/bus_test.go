package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("connectivity.", 10)
	defer unsub()

	b.Emit(ConnectivityChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != ConnectivityChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, ConnectivityChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Emit should stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("queue.", 10)
	defer unsub()

	b.Emit(ConnectivityChanged, nil)
	b.Emit(QueueChanged, 3)

	select {
	case evt := <-ch:
		if evt.Kind != QueueChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, QueueChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNotifyPayload(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 1)
	defer unsub()

	b.Notify(NotifySuccess, "3 orders synced")

	evt := <-ch
	n, ok := evt.Payload.(Notification)
	if !ok {
		t.Fatalf("payload type = %T, want Notification", evt.Payload)
	}
	if n.Message != "3 orders synced" {
		t.Errorf("message = %q", n.Message)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("auth.", 10)
	unsub()
	unsub()

	b.Emit(AuthChanged, true)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("notify.", 1)
	defer unsub()

	b.Notify(NotifyInfo, "one")
	b.Notify(NotifyInfo, "two")

	evt := <-ch
	if evt.Payload.(Notification).Message != "one" {
		t.Errorf("got %v, want first notification", evt.Payload)
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Emit(QueueChanged, 1)
}
