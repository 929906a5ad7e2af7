// Package responder holds application logic that answers completed updates.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
	"botmux/pkg/config"
	"botmux/pkg/engine"
)

// Responder produces the reply text for one update. An empty reply sends nothing.
type Responder interface {
	Respond(ctx context.Context, update *bus.Update) (string, error)
}

// Func adapts a plain function to Responder.
type Func func(ctx context.Context, update *bus.Update) (string, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, update *bus.Update) (string, error) {
	return f(ctx, update)
}

// Echo replies with the update text, optionally prefixed.
type Echo struct {
	Prefix string
}

// Respond returns Prefix followed by the update text.
func (e Echo) Respond(_ context.Context, update *bus.Update) (string, error) {
	text := strings.TrimSpace(update.Text())
	if text == "" {
		return "", nil
	}
	return e.Prefix + text, nil
}

// New resolves the responder named by cfg.Kind. It returns nil for "none".
func New(cfg config.ResponderConfig) (Responder, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	slog.Default().With("component", "responder.factory").Debug("Resolving responder", "kind", kind)

	switch kind {
	case config.ResponderNone:
		return nil, nil
	case "", config.ResponderEcho:
		return Echo{Prefix: cfg.Prefix}, nil
	case config.ResponderOpenAI:
		return NewOpenAI(cfg)
	default:
		return nil, fmt.Errorf("unsupported responder: %s", cfg.Kind)
	}
}

// Attach answers every completed text update on eng with r.
//
// When the bot can show a typing indicator one is sent first. Replies go
// through bot.Reply so outgoing middleware sees the update. Failures are
// handed to the engine's error observers.
func Attach(eng *engine.Engine, r Responder, log *slog.Logger) {
	if eng == nil || r == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "responder")

	eng.AddUpdateObserver(func(ctx context.Context, bot *engine.Bot, update *bus.Update) {
		if update.Kind != bus.KindText || strings.TrimSpace(update.Text()) == "" {
			return
		}

		if bot.Descriptor().Sends.Has(capability.SendsTypingIndicator) {
			if _, err := bot.SendTyping(ctx, update.Sender, engine.WithUpdate(update)); err != nil {
				log.Debug("Typing indicator failed", "bot_id", bot.ID(), "error", err)
			}
		}

		text, err := r.Respond(ctx, update)
		if err != nil {
			eng.ReportError(ctx, bot, fmt.Errorf("respond to update %s: %w", update.ID, err))
			return
		}
		if strings.TrimSpace(text) == "" {
			log.Debug("Responder returned no text", "bot_id", bot.ID(), "update_id", update.ID)
			return
		}

		if _, err := bot.Reply(ctx, update, text); err != nil {
			eng.ReportError(ctx, bot, fmt.Errorf("reply to update %s: %w", update.ID, err))
			return
		}
		log.Debug("Replied to update", "bot_id", bot.ID(), "update_id", update.ID, "preview", channel.PreviewText(text))
	})
}
