package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmux/pkg/bus"
)

func TestRecordUpdateOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	m.Record(bus.Event{Type: bus.EventUpdateReady, BotType: "telegram", Duration: 2 * time.Millisecond})
	m.Record(bus.Event{Type: bus.EventUpdateReady, BotType: "telegram"})
	m.Record(bus.Event{Type: bus.EventUpdateSkipped, BotType: "telegram"})
	m.Record(bus.Event{Type: bus.EventUpdateFailed})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("telegram", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("telegram", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("unknown", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.durationSeconds, "botmux_dispatch_duration_seconds"))
}

func TestRecordMessagesAndBots(t *testing.T) {
	t.Parallel()

	m := New()
	m.Record(bus.Event{Type: bus.EventBotAdded, BotType: "discord"})
	m.Record(bus.Event{Type: bus.EventBotAdded, BotType: "discord"})
	m.Record(bus.Event{Type: bus.EventBotRemoved, BotType: "discord"})
	m.Record(bus.Event{Type: bus.EventMessageSent, BotType: "discord"})
	m.Record(bus.Event{Type: bus.EventMessageFailed, BotType: "discord"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bots.WithLabelValues("discord")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("discord", "sent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesTotal.WithLabelValues("discord", "failed")))
}

func TestConsumeStopsWhenChannelCloses(t *testing.T) {
	t.Parallel()

	m := New()
	events := make(chan bus.Event, 2)
	events <- bus.Event{Type: bus.EventUpdateReady, BotType: "console"}
	events <- bus.Event{Type: bus.EventMessageSent, BotType: "console"}
	close(events)

	done := make(chan struct{})
	go func() {
		m.Consume(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after channel close")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.updatesTotal.WithLabelValues("console", "completed")))
}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m.Consume(ctx, make(chan bus.Event))
}

func TestHandlerExposesSeries(t *testing.T) {
	t.Parallel()

	m := New()
	m.SetQueueDepth(3)
	m.Record(bus.Event{Type: bus.EventUpdateReady, BotType: "console"})

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "botmux_queue_depth 3")
	assert.Contains(t, string(body), `botmux_updates_total{bot_type="console",outcome="completed"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesDoNotShareRegistries(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	a.Record(bus.Event{Type: bus.EventBotAdded, BotType: "console"})

	assert.Equal(t, 1.0, testutil.ToFloat64(a.bots.WithLabelValues("console")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.bots.WithLabelValues("console")))
	assert.NotSame(t, a.Registry(), b.Registry())
}
