package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
)

// UpdateObserver is called with every update whose incoming walk completed.
type UpdateObserver func(ctx context.Context, bot *Bot, update *bus.Update)

// ErrorObserver is called with every contained incoming failure.
type ErrorObserver func(ctx context.Context, bot *Bot, err error)

// SendObserver is called with the outcome of every send, successful or not.
type SendObserver func(ctx context.Context, result *SendResult, err error)

// Engine owns the middleware and bot registries of one process.
type Engine struct {
	log    *slog.Logger
	events *bus.MessageBus

	middleware registry

	botsMu   sync.RWMutex
	bots     map[string]*botState
	botOrder []string

	observersMu sync.RWMutex
	onUpdate    []UpdateObserver
	onError     []ErrorObserver
	onSend      []SendObserver
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEventBus mirrors dispatch outcomes to mb as bus events.
func WithEventBus(mb *bus.MessageBus) Option {
	return func(e *Engine) {
		e.events = mb
	}
}

// OnUpdate adds an update observer at construction time.
func OnUpdate(fn UpdateObserver) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onUpdate = append(e.onUpdate, fn)
		}
	}
}

// OnError adds an error observer at construction time.
func OnError(fn ErrorObserver) Option {
	return func(e *Engine) {
		if fn != nil {
			e.onError = append(e.onError, fn)
		}
	}
}

// New constructs an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:  slog.Default(),
		bots: make(map[string]*botState),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Use registers middleware. Registration is append-only and order defines
// the walk order of each pipeline.
func (e *Engine) Use(mw Middleware) error {
	ent, err := newEntry(mw)
	if err != nil {
		return err
	}
	order := e.middleware.add(ent)
	e.log.Debug("Registered middleware", "scope", ent.scope, "name", ent.name, "order", order)
	return nil
}

// UseIncoming registers incoming middleware scoped by filter.
func (e *Engine) UseIncoming(fn IncomingFunc, filter capability.Filter) error {
	return e.Use(Middleware{Type: Incoming, Controller: fn, Filter: filter})
}

// UseOutgoing registers global outgoing middleware.
func (e *Engine) UseOutgoing(fn OutgoingFunc) error {
	return e.Use(Middleware{Type: Outgoing, Controller: fn})
}

func newEntry(mw Middleware) (*entry, error) {
	ent := &entry{scope: mw.Type, name: mw.Name}

	switch mw.Type {
	case Incoming:
		fn, err := incomingController(mw.Controller)
		if err != nil {
			return nil, err
		}
		match, err := mw.Filter.Compile()
		if err != nil {
			return nil, err
		}
		ent.incoming = fn
		ent.match = match
	case Outgoing:
		fn, err := outgoingController(mw.Controller)
		if err != nil {
			return nil, err
		}
		if !mw.Filter.IsZero() {
			return nil, fmt.Errorf("%w: filters only apply to incoming middleware", capability.ErrInvalidFilter)
		}
		ent.outgoing = fn
	default:
		return nil, ErrInvalidMiddlewareType
	}

	return ent, nil
}

// MiddlewareCount returns the number of registered entries for scope.
func (e *Engine) MiddlewareCount(scope Scope) int {
	return e.middleware.len(scope)
}

// AddUpdateObserver registers fn to run after every completed incoming walk.
func (e *Engine) AddUpdateObserver(fn UpdateObserver) {
	if fn == nil {
		return
	}
	e.observersMu.Lock()
	e.onUpdate = append(e.onUpdate, fn)
	e.observersMu.Unlock()
}

// AddErrorObserver registers fn to receive contained incoming failures.
func (e *Engine) AddErrorObserver(fn ErrorObserver) {
	if fn == nil {
		return
	}
	e.observersMu.Lock()
	e.onError = append(e.onError, fn)
	e.observersMu.Unlock()
}

// AddSendObserver registers fn to receive the outcome of every send.
func (e *Engine) AddSendObserver(fn SendObserver) {
	if fn == nil {
		return
	}
	e.observersMu.Lock()
	e.onSend = append(e.onSend, fn)
	e.observersMu.Unlock()
}

func (e *Engine) updateObservers() []UpdateObserver {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	return e.onUpdate[:len(e.onUpdate):len(e.onUpdate)]
}

func (e *Engine) errorObservers() []ErrorObserver {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	return e.onError[:len(e.onError):len(e.onError)]
}

func (e *Engine) sendObservers() []SendObserver {
	e.observersMu.RLock()
	defer e.observersMu.RUnlock()
	return e.onSend[:len(e.onSend):len(e.onSend)]
}

// ReportError delivers err to error observers on behalf of bot.
// Application code running outside a walk uses it to share the error channel.
func (e *Engine) ReportError(ctx context.Context, bot *Bot, err error) {
	if err == nil {
		return
	}
	botID := ""
	if bot != nil {
		botID = bot.ID()
	}
	e.log.Warn("Dispatch error", "bot_id", botID, "error", err)

	for _, fn := range e.errorObservers() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("Error observer panicked", "bot_id", botID, "panic", fmt.Sprintf("%v", r))
				}
			}()
			fn(ctx, bot, err)
		}()
	}
}

func (e *Engine) publish(ctx context.Context, event bus.Event) {
	if e.events == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.events.PublishEvent(context.WithoutCancel(ctx), event)
}

func botEvent(kind bus.EventType, st *botState, started time.Time) bus.Event {
	event := bus.Event{Type: kind, BotID: st.id, BotType: st.desc.Type}
	if !started.IsZero() {
		event.Duration = time.Since(started)
	}
	return event
}
