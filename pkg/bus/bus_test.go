package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	in := Envelope{BotID: "bot-1", Update: NewTextUpdate("user-1", "hello")}
	if ok := mb.PublishInbound(context.Background(), in); !ok {
		t.Fatal("expected inbound publish to succeed")
	}
	if got := mb.Pending(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	out, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatal("expected inbound consume to succeed")
	}
	if out.Update != in.Update {
		t.Fatal("expected the same update pointer to be delivered")
	}
	if out.BotID != "bot-1" {
		t.Fatalf("bot id = %q, want %q", out.BotID, "bot-1")
	}
}

func TestCloseStopsBusOperations(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	if ok := mb.PublishInbound(context.Background(), Envelope{BotID: "bot-1"}); ok {
		t.Fatal("expected inbound publish to fail after close")
	}
	if _, ok := mb.ConsumeInbound(context.Background()); ok {
		t.Fatal("expected inbound consume to stop after close")
	}
	if ok := mb.PublishEvent(context.Background(), Event{Type: EventUpdateReady}); ok {
		t.Fatal("expected event publish to fail after close")
	}
}

func TestContextCancellation(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := mb.PublishInbound(ctx, Envelope{BotID: "bot-1"}); ok {
		t.Fatal("expected publish to fail on canceled context")
	}

	if _, ok := mb.ConsumeInbound(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestPublishBlocksOnFullQueueUntilCanceled(t *testing.T) {
	mb := NewMessageBusWithBuffer(1)
	t.Cleanup(mb.Close)

	if ok := mb.PublishInbound(context.Background(), Envelope{BotID: "a"}); !ok {
		t.Fatal("expected first publish to succeed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if ok := mb.PublishInbound(ctx, Envelope{BotID: "b"}); ok {
		t.Fatal("expected publish on full queue to give up when context expires")
	}
}

func TestConsumeUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = mb.ConsumeInbound(context.Background())
	}()

	mb.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestEventFanout(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	eventsA, unsubA := mb.SubscribeEvents(ctx, 1)
	defer unsubA()
	eventsB, unsubB := mb.SubscribeEvents(ctx, 1)
	defer unsubB()

	event := Event{Type: EventUpdateReady, UpdateID: "1"}
	if ok := mb.PublishEvent(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventUpdateReady {
				t.Fatalf("subscriber %s event type = %q, want %q", name, got.Type, EventUpdateReady)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s event has no timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublishEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventUpdateReady}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := mb.PublishEvent(ctx, Event{Type: EventMessageSent}); !ok {
		t.Fatal("expected second event publish to succeed")
	}

	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish event blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	ctx := context.Background()
	events, unsubscribe := mb.SubscribeEvents(ctx, 1)
	unsubscribe()

	if ok := mb.PublishEvent(ctx, Event{Type: EventUpdateReady}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscribeEventsUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	ctx := context.Background()
	events, _ := mb.SubscribeEvents(ctx, 1)
	mb.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}
}
