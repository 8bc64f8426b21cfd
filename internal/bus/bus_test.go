package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageReceived, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageReceived {
			t.Errorf("got kind %q, want %q", evt.Kind, KindMessageReceived)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("link.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageReceived})
	b.Publish(Event{Kind: KindLinkStatusChanged})

	select {
	case evt := <-ch:
		if evt.Kind != KindLinkStatusChanged {
			t.Errorf("got kind %q, want %q", evt.Kind, KindLinkStatusChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The message event must not have been delivered to a link subscriber.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chat.", 10)
	unsub()

	b.Publish(Event{Kind: KindChatUpdated})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 1)
	defer unsub()

	// Second publish must not block even though nobody is draining.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: KindOutboxEnqueued, Payload: 1})
		b.Publish(Event{Kind: KindOutboxEnqueued, Payload: 2})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber buffer")
	}

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("payload = %v, want 1 (first event kept, second dropped)", evt.Payload)
	}
}
