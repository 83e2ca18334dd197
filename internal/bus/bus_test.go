package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("scan.", 10)
	defer unsub()

	b.Publish(Event{Kind: "scan.completed", Timestamp: time.Now(), Payload: 3})

	select {
	case evt := <-ch:
		if evt.Kind != "scan.completed" {
			t.Errorf("got kind %q, want scan.completed", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("import.", 10)
	defer unsub()

	b.Publish(Event{Kind: "scan.progress"})
	b.Publish(Event{Kind: "import.created"})

	select {
	case evt := <-ch:
		if evt.Kind != "import.created" {
			t.Errorf("got kind %q, want import.created", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The scan event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("engine.", 10)
	unsub()

	b.Publish(Event{Kind: "engine.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Dropped: buffer is full and delivery never blocks.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestEmitStampsTime(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	before := time.Now()
	b.Emit("test.tick", nil)

	evt := <-ch
	if evt.Timestamp.Before(before) {
		t.Errorf("Emit timestamp %v precedes publish time %v", evt.Timestamp, before)
	}
}
