package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
)

type errorRecorder struct {
	mu   sync.Mutex
	errs []error
	bots []string
}

func (r *errorRecorder) observe(_ context.Context, bot *Bot, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	if bot != nil {
		r.bots = append(r.bots, bot.ID())
	}
}

func (r *errorRecorder) all() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func TestIncomingMutationsReachLaterMiddlewareWithoutOutgoing(t *testing.T) {
	eng, bot, _ := newEngineWithBot(t)

	var observed string
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		u.SetText("Hello World!")
		return Next, nil
	}, capability.Filter{}))
	require.NoError(t, eng.UseOutgoing(func(context.Context, *Bot, *bus.Update, *bus.Message) (Verdict, error) {
		t.Fatal("outgoing middleware should not be called")
		return Next, nil
	}))
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		observed = u.Text()
		return Next, nil
	}, capability.Filter{}))

	outcome, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "Change this"))
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.Equal(t, "Hello World!", observed)
}

func TestIncomingRunsInRegistrationOrder(t *testing.T) {
	eng, bot, _ := newEngineWithBot(t)

	var observed string
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		u.SetText("Hello World!")
		return Next, nil
	}, capability.Filter{}))
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		u.SetText(u.Text() + " And others")
		return Next, nil
	}, capability.Filter{}))
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		observed = u.Text()
		return Next, nil
	}, capability.Filter{}))

	_, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "Change this"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World! And others", observed)
}

func TestMiddlewareRegisteredBeforeAddBotApplies(t *testing.T) {
	eng := New()

	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		u.SetText("Hello World!")
		return Next, nil
	}, capability.Filter{}))

	bot, err := eng.AddBot(newFakeAdapter("fake"))
	require.NoError(t, err)

	var observed string
	eng.AddUpdateObserver(func(ctx context.Context, b *Bot, u *bus.Update) {
		observed = u.Text()
	})

	_, err = bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "Change this"))
	require.NoError(t, err)
	assert.Equal(t, "Hello World!", observed)
}

func TestIncomingSkipStopsWalkWithoutUpdateEvent(t *testing.T) {
	errs := &errorRecorder{}
	eng := New(OnError(errs.observe))
	bot, err := eng.AddBot(newFakeAdapter("fake"))
	require.NoError(t, err)

	require.NoError(t, eng.UseIncoming(func(context.Context, *Bot, *bus.Update) (Verdict, error) {
		return Skip, nil
	}, capability.Filter{}))
	require.NoError(t, eng.UseIncoming(func(context.Context, *Bot, *bus.Update) (Verdict, error) {
		t.Fatal("this should not get hit")
		return Next, nil
	}, capability.Filter{}))

	updates := 0
	eng.AddUpdateObserver(func(context.Context, *Bot, *bus.Update) { updates++ })

	outcome, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "Change this"))
	require.NoError(t, err)
	assert.Equal(t, Skipped, outcome)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, updates)
	assert.Empty(t, errs.all())
}

func TestIncomingFiltersByDescriptor(t *testing.T) {
	eng := New()

	descriptors := []capability.Descriptor{
		{
			Type:     "dontIncludeMe",
			Receives: capability.NewSet("text", "echo"),
			Sends:    capability.NewSet("text", "quickReply"),
		},
		{
			Type:     "includeMe",
			Receives: capability.NewSet("echo"),
			Sends:    capability.NewSet("text", "quickReply"),
		},
		{
			Type:              "excludeMe",
			Receives:          capability.NewSet("text", "echo"),
			Sends:             capability.NewSet("text"),
			RetrievesUserInfo: true,
		},
		{
			// Same platform as excludeMe when it does not report user info support.
			Type:     "excludeMe",
			Receives: capability.NewSet("text", "echo"),
			Sends:    capability.NewSet("text"),
		},
	}

	bots := make([]*Bot, 0, len(descriptors))
	for _, d := range descriptors {
		adapter := newFakeAdapter(d.Type)
		adapter.desc = d
		bot, err := eng.AddBot(adapter)
		require.NoError(t, err)
		bots = append(bots, bot)
	}

	add := func(n int64, filter capability.Filter) {
		require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
			cur, _ := u.Fields.Int("number")
			u.Fields.Set("number", cur+n)
			return Next, nil
		}, filter))
	}
	add(1, capability.Filter{BotTypesToInclude: []string{"includeMe"}})
	add(10, capability.Filter{BotTypesToExclude: []string{"excludeMe"}})
	add(100, capability.Filter{BotReceives: "text"})
	add(1000, capability.Filter{BotSends: "quickReply"})
	add(10000, capability.Filter{BotRetrievesUserInfo: capability.Bool(true)})

	var mu sync.Mutex
	sums := map[string]int64{}
	eng.AddUpdateObserver(func(ctx context.Context, b *Bot, u *bus.Update) {
		n, _ := u.Fields.Int("number")
		mu.Lock()
		sums[b.ID()] = n
		mu.Unlock()
	})

	for _, bot := range bots {
		u := &bus.Update{ID: bot.ID(), Fields: bus.Fields{"number": 0}}
		outcome, err := bot.ReceiveUpdate(context.Background(), u)
		require.NoError(t, err)
		require.Equal(t, Completed, outcome)
	}

	assert.EqualValues(t, 1110, sums[bots[0].ID()])
	assert.EqualValues(t, 1011, sums[bots[1].ID()])
	// Deliberately 10100 and not 100: excludeMe declares user info support,
	// so the flag entry matches it. The flagless variant below sums to 100.
	assert.EqualValues(t, 10100, sums[bots[2].ID()])
	assert.EqualValues(t, 100, sums[bots[3].ID()])
}

func TestIncomingHandlerErrorIsContained(t *testing.T) {
	errs := &errorRecorder{}
	eng := New(OnError(errs.observe))
	bot, err := eng.AddBot(newFakeAdapter("fake"))
	require.NoError(t, err)
	other, err := eng.AddBot(newFakeAdapter("other"))
	require.NoError(t, err)

	cause := errors.New("update.blop is not a function")
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		return Next, cause
	}, capability.Filter{BotTypesToInclude: []string{"fake"}}))

	reached := 0
	require.NoError(t, eng.UseIncoming(func(context.Context, *Bot, *bus.Update) (Verdict, error) {
		reached++
		return Next, nil
	}, capability.Filter{}))

	outcome, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "Change this"))
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome)

	got := errs.all()
	require.Len(t, got, 1)
	assert.Equal(t, `"update.blop is not a function". This is most probably on your end.`, got[0].Error())
	assert.ErrorIs(t, got[0], cause)

	var herr *IncomingHandlerError
	require.ErrorAs(t, got[0], &herr)
	assert.Equal(t, bot.ID(), herr.BotID)
	assert.Equal(t, []string{bot.ID()}, errs.bots)
	assert.Zero(t, reached)

	outcome, err = other.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "fine"))
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.Equal(t, 1, reached)
}

func TestIncomingPanicIsContained(t *testing.T) {
	errs := &errorRecorder{}
	eng := New(OnError(errs.observe))
	bot, err := eng.AddBot(newFakeAdapter("fake"))
	require.NoError(t, err)

	require.NoError(t, eng.Use(Middleware{
		Type: Incoming,
		Name: "panicky",
		Controller: IncomingFunc(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
			var m map[string]int
			m["boom"] = 1
			return Next, nil
		}),
	}))

	outcome, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "hi"))
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome)

	got := errs.all()
	require.Len(t, got, 1)
	var perr *PanicError
	require.ErrorAs(t, got[0], &perr)
	assert.Contains(t, got[0].Error(), "assignment to entry in nil map")
	assert.Contains(t, got[0].Error(), "This is most probably on your end.")

	var herr *IncomingHandlerError
	require.ErrorAs(t, got[0], &herr)
	assert.Equal(t, "panicky", herr.Middleware)
}

func TestUpdateObserverPanicIsReported(t *testing.T) {
	errs := &errorRecorder{}
	eng := New(OnError(errs.observe))
	bot, err := eng.AddBot(newFakeAdapter("fake"))
	require.NoError(t, err)

	eng.AddUpdateObserver(func(context.Context, *Bot, *bus.Update) { panic("observer exploded") })
	calledAfter := false
	eng.AddUpdateObserver(func(context.Context, *Bot, *bus.Update) { calledAfter = true })

	outcome, err := bot.ReceiveUpdate(context.Background(), bus.NewTextUpdate("user", "hi"))
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.True(t, calledAfter)

	got := errs.all()
	require.Len(t, got, 1)
	assert.Equal(t, `"observer exploded". This is most probably on your end.`, got[0].Error())
}

func TestReceiveUpdateValidatesInput(t *testing.T) {
	eng, bot, _ := newEngineWithBot(t)

	_, err := eng.ReceiveUpdate(context.Background(), "missing", bus.NewTextUpdate("u", "x"))
	require.ErrorIs(t, err, ErrUnknownBot)

	_, err = bot.ReceiveUpdate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNilUpdate)

	u := &bus.Update{ID: "raw"}
	outcome, err := bot.ReceiveUpdate(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, Completed, outcome)
	assert.Equal(t, bot.ID(), u.BotID)
	assert.NotNil(t, u.Fields)
}

func TestIncomingHandlerSeesPatchedBot(t *testing.T) {
	eng, bot, _ := newEngineWithBot(t)

	update := bus.NewTextUpdate("user", "hi")
	require.NoError(t, eng.UseIncoming(func(ctx context.Context, b *Bot, u *bus.Update) (Verdict, error) {
		assert.Same(t, update, b.Update())
		assert.Same(t, update, UpdateFromContext(ctx, b.ID()))
		assert.Nil(t, UpdateFromContext(ctx, "other-bot"))
		return Next, nil
	}, capability.Filter{}))

	_, err := bot.ReceiveUpdate(context.Background(), update)
	require.NoError(t, err)
}
