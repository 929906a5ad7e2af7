package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
)

// botState is shared by a bot handle and every handle patched from it.
type botState struct {
	id      string
	engine  *Engine
	adapter channel.Adapter
	desc    capability.Descriptor
	active  atomic.Bool
}

// Bot is a handle to a registered adapter. Handles returned by WithUpdate
// share the same state and differ only in their fixed correlated update.
type Bot struct {
	state  *botState
	update *bus.Update
}

func (b *Bot) ID() string {
	return b.state.id
}

// Type returns the bot type tag from the descriptor.
func (b *Bot) Type() string {
	return b.state.desc.Type
}

// Descriptor returns a copy of the descriptor frozen at registration.
func (b *Bot) Descriptor() capability.Descriptor {
	return b.state.desc.Clone()
}

func (b *Bot) Adapter() channel.Adapter {
	return b.state.adapter
}

// Active reports whether the bot is still registered.
func (b *Bot) Active() bool {
	return b.state.active.Load()
}

// Update returns the update this handle is patched with, or nil.
func (b *Bot) Update() *bus.Update {
	return b.update
}

// WithUpdate returns a handle whose sends correlate with update.
func (b *Bot) WithUpdate(update *bus.Update) *Bot {
	return &Bot{state: b.state, update: update}
}

// Engine returns the engine the bot is registered with.
func (b *Bot) Engine() *Engine {
	return b.state.engine
}

// UseOutgoing registers outgoing middleware that only runs for this bot's sends.
func (b *Bot) UseOutgoing(fn OutgoingFunc) error {
	return b.Use(Middleware{Type: Outgoing, Controller: fn})
}

// Use registers bot-scoped middleware. Only outgoing middleware can be bound to a bot.
func (b *Bot) Use(mw Middleware) error {
	if mw.Type != Outgoing {
		return ErrInvalidMiddlewareType
	}
	ent, err := newEntry(mw)
	if err != nil {
		return err
	}
	ent.botID = b.state.id
	order := b.state.engine.middleware.add(ent)
	b.state.engine.log.Debug("Registered bot middleware", "bot_id", b.state.id, "name", ent.name, "order", order)
	return nil
}

// UserInfo looks up a user profile through the bot's adapter. It fails with
// channel.ErrUserInfoUnsupported unless the descriptor declares
// RetrievesUserInfo and the adapter implements channel.UserInfoRetriever.
func (b *Bot) UserInfo(ctx context.Context, userID string) (info channel.UserInfo, err error) {
	st := b.state
	if !st.active.Load() && !inWalk(ctx, st.id) {
		return channel.UserInfo{}, fmt.Errorf("user info via bot %q: %w", st.id, ErrUnknownBot)
	}

	retriever, ok := st.adapter.(channel.UserInfoRetriever)
	if !st.desc.RetrievesUserInfo || !ok {
		return channel.UserInfo{}, fmt.Errorf("bot %q of type %s: %w", st.id, st.desc.Type, channel.ErrUserInfoUnsupported)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	info, err = retriever.UserInfo(ctx, userID)
	if err != nil {
		return channel.UserInfo{}, fmt.Errorf("user info via %s: %w", st.adapter.Name(), err)
	}
	return info, nil
}

// ReceiveUpdate runs update through the incoming pipeline for this bot.
func (b *Bot) ReceiveUpdate(ctx context.Context, update *bus.Update) (Outcome, error) {
	return b.state.engine.ReceiveUpdate(ctx, b.state.id, update)
}

// AddBot registers adapter and returns its handle. The adapter's descriptor
// is copied so later changes to it have no effect.
func (e *Engine) AddBot(adapter channel.Adapter) (*Bot, error) {
	if adapter == nil {
		return nil, fmt.Errorf("add bot: adapter is required")
	}
	desc := adapter.Describe()
	if err := desc.Validate(); err != nil {
		return nil, fmt.Errorf("add bot %s: %w", adapter.Name(), err)
	}

	st := &botState{
		id:      uuid.NewString(),
		engine:  e,
		adapter: adapter,
		desc:    desc.Clone(),
	}
	st.active.Store(true)

	e.botsMu.Lock()
	e.bots[st.id] = st
	e.botOrder = append(e.botOrder, st.id)
	e.botsMu.Unlock()

	e.log.Info("Bot added", "bot_id", st.id, "bot_type", st.desc.Type, "adapter", adapter.Name())
	e.publish(context.Background(), botEvent(bus.EventBotAdded, st, time.Time{}))

	return &Bot{state: st}, nil
}

// RemoveBot unregisters bot. Walks already running for it finish normally;
// new updates and sends through any of its handles fail with ErrUnknownBot.
func (e *Engine) RemoveBot(bot *Bot) error {
	if bot == nil || bot.state == nil {
		return ErrUnknownBot
	}
	st := bot.state

	e.botsMu.Lock()
	if _, ok := e.bots[st.id]; !ok || st.engine != e {
		e.botsMu.Unlock()
		return ErrUnknownBot
	}
	delete(e.bots, st.id)
	if i := slices.Index(e.botOrder, st.id); i >= 0 {
		e.botOrder = slices.Delete(e.botOrder, i, i+1)
	}
	st.active.Store(false)
	e.botsMu.Unlock()

	e.log.Info("Bot removed", "bot_id", st.id, "bot_type", st.desc.Type)
	e.publish(context.Background(), botEvent(bus.EventBotRemoved, st, time.Time{}))
	return nil
}

// Bot looks up an active bot by id.
func (e *Engine) Bot(id string) (*Bot, bool) {
	st, ok := e.lookup(id)
	if !ok {
		return nil, false
	}
	return &Bot{state: st}, true
}

// Bots returns every active bot in registration order.
func (e *Engine) Bots() []*Bot {
	e.botsMu.RLock()
	defer e.botsMu.RUnlock()

	out := make([]*Bot, 0, len(e.botOrder))
	for _, id := range e.botOrder {
		out = append(out, &Bot{state: e.bots[id]})
	}
	return out
}

func (e *Engine) lookup(id string) (*botState, bool) {
	e.botsMu.RLock()
	defer e.botsMu.RUnlock()

	st, ok := e.bots[id]
	return st, ok
}
