package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"botmux/pkg/bus"
)

// Outcome is the terminal state of an incoming walk.
type Outcome int

const (
	Completed Outcome = iota + 1
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// ReceiveUpdate walks the incoming pipeline for the bot identified by botID.
//
// The walk runs on the calling goroutine. Handler failures are reported to
// error observers and yield Failed. The returned error is only set when the
// bot is unknown or the update is nil.
func (e *Engine) ReceiveUpdate(ctx context.Context, botID string, update *bus.Update) (Outcome, error) {
	st, ok := e.lookup(botID)
	if !ok || !st.active.Load() {
		return 0, fmt.Errorf("receive update for bot %q: %w", botID, ErrUnknownBot)
	}
	if update == nil {
		return 0, ErrNilUpdate
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if update.Fields == nil {
		update.Fields = bus.Fields{}
	}
	if update.BotID == "" {
		update.BotID = st.id
	}

	started := time.Now()
	bot := &Bot{state: st, update: update}
	walkCtx, endWalk := contextWithWalk(ctx, st.id, update)
	defer endWalk()
	log := e.log.With("bot_id", st.id, "bot_type", st.desc.Type, "update_id", update.ID)

	step := 0
	for ent := range e.middleware.incomingFor(st.desc) {
		verdict, err := callIncoming(walkCtx, ent, bot, update)
		if err != nil {
			herr := &IncomingHandlerError{
				BotID:      st.id,
				BotType:    st.desc.Type,
				UpdateID:   update.ID,
				Middleware: entryName(ent),
				Err:        err,
			}
			log.Debug("Incoming walk failed", "step", step, "middleware", herr.Middleware)
			e.ReportError(walkCtx, bot, herr)

			event := botEvent(bus.EventUpdateFailed, st, started)
			event.UpdateID = update.ID
			event.Error = herr.Error()
			e.publish(ctx, event)
			return Failed, nil
		}
		if verdict != Next {
			log.Debug("Incoming walk skipped", "step", step, "middleware", entryName(ent), "verdict", verdict)

			event := botEvent(bus.EventUpdateSkipped, st, started)
			event.UpdateID = update.ID
			event.Payload = map[string]string{"verdict": verdict.String(), "middleware": entryName(ent)}
			e.publish(ctx, event)
			return Skipped, nil
		}
		step++
	}

	log.Debug("Incoming walk completed", "steps", step)
	event := botEvent(bus.EventUpdateReady, st, started)
	event.UpdateID = update.ID
	e.publish(ctx, event)

	e.notifyUpdate(walkCtx, bot, update)
	return Completed, nil
}

func (e *Engine) notifyUpdate(ctx context.Context, bot *Bot, update *bus.Update) {
	for _, fn := range e.updateObservers() {
		if err := callObserver(func() { fn(ctx, bot, update) }); err != nil {
			e.ReportError(ctx, bot, &IncomingHandlerError{
				BotID:      bot.ID(),
				BotType:    bot.Type(),
				UpdateID:   update.ID,
				Middleware: "update observer",
				Err:        err,
			})
		}
	}
}

func callIncoming(ctx context.Context, ent *entry, bot *Bot, update *bus.Update) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return ent.incoming(ctx, bot, update)
}

func callObserver(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

func entryName(ent *entry) string {
	if ent.name != "" {
		return ent.name
	}
	return fmt.Sprintf("%s#%d", ent.scope, ent.order)
}
