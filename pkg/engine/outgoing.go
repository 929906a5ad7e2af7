package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"botmux/pkg/bus"
	"botmux/pkg/channel"
)

// SendOption configures one send.
type SendOption func(*sendConfig)

type sendConfig struct {
	ignoreMiddleware bool
	update           *bus.Update
}

// IgnoreMiddleware delivers the message without running outgoing middleware.
func IgnoreMiddleware() SendOption {
	return func(c *sendConfig) {
		c.ignoreMiddleware = true
	}
}

// WithUpdate correlates the send with update, overriding any implicit correlation.
func WithUpdate(update *bus.Update) SendOption {
	return func(c *sendConfig) {
		c.update = update
	}
}

// SendResult describes a send that reached the adapter or failed on the way.
type SendResult struct {
	Bot     *Bot
	Message *bus.Message
	// Update is the correlated update, or nil.
	Update  *bus.Update
	Receipt channel.Receipt
	// MiddlewareBypassed is set when IgnoreMiddleware was requested or a
	// handler returned SkipAllOutgoing.
	MiddlewareBypassed bool
	// Verdict is the skip verdict that shortened the walk, or Next.
	Verdict  Verdict
	Duration time.Duration
}

// Send runs message through the outgoing pipeline and hands it to the adapter.
//
// The correlated update is the WithUpdate option if given, else the update
// this handle is patched with, else the update ctx carries for this bot.
func (b *Bot) Send(ctx context.Context, message *bus.Message, opts ...SendOption) (*SendResult, error) {
	var cfg sendConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return b.state.engine.send(ctx, b, message, cfg)
}

// Reply sends text to the sender of update, correlated with it.
func (b *Bot) Reply(ctx context.Context, update *bus.Update, text string, opts ...SendOption) (*SendResult, error) {
	if update == nil {
		return nil, ErrNilUpdate
	}
	opts = append([]SendOption{WithUpdate(update)}, opts...)
	return b.Send(ctx, bus.NewTextMessage(update.Sender, text), opts...)
}

// SendText sends a text message to recipient.
func (b *Bot) SendText(ctx context.Context, recipient, text string, opts ...SendOption) (*SendResult, error) {
	return b.Send(ctx, bus.NewTextMessage(recipient, text), opts...)
}

// SendTyping sends a typing indicator to recipient.
func (b *Bot) SendTyping(ctx context.Context, recipient string, opts ...SendOption) (*SendResult, error) {
	return b.Send(ctx, bus.NewTypingMessage(recipient), opts...)
}

// SendAttachmentFromURL sends the file hosted at url to recipient. The
// attachment type is one of image, audio, video or file.
func (b *Bot) SendAttachmentFromURL(ctx context.Context, recipient, attachmentType, url string, opts ...SendOption) (*SendResult, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("attachment url is required")
	}
	if strings.TrimSpace(attachmentType) == "" {
		return nil, errors.New("attachment type is required")
	}
	return b.Send(ctx, bus.NewAttachmentMessage(recipient, attachmentType, url), opts...)
}

// SendButtons sends text with one reply button per title. Empty text becomes
// bus.DefaultButtonText.
func (b *Bot) SendButtons(ctx context.Context, recipient string, titles []string, text string, opts ...SendOption) (*SendResult, error) {
	if len(titles) == 0 {
		return nil, errors.New("at least one button title is required")
	}
	return b.Send(ctx, bus.NewButtonsMessage(recipient, titles, text), opts...)
}

// SendCascade sends messages one after another. It stops at the first failure
// and returns the results collected so far.
func (b *Bot) SendCascade(ctx context.Context, messages []*bus.Message, opts ...SendOption) ([]*SendResult, error) {
	results := make([]*SendResult, 0, len(messages))
	for i, message := range messages {
		res, err := b.Send(ctx, message, opts...)
		if err != nil {
			return results, fmt.Errorf("cascade message %d: %w", i, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// SendTextCascade sends each text to recipient in order.
func (b *Bot) SendTextCascade(ctx context.Context, recipient string, texts []string, opts ...SendOption) ([]*SendResult, error) {
	messages := make([]*bus.Message, 0, len(texts))
	for _, text := range texts {
		messages = append(messages, bus.NewTextMessage(recipient, text))
	}
	return b.SendCascade(ctx, messages, opts...)
}

func (e *Engine) send(ctx context.Context, b *Bot, message *bus.Message, cfg sendConfig) (result *SendResult, err error) {
	st := b.state
	if !st.active.Load() && !inWalk(ctx, st.id) {
		return nil, fmt.Errorf("send via bot %q: %w", st.id, ErrUnknownBot)
	}
	if message == nil {
		return nil, ErrNilMessage
	}
	if message.Fields == nil {
		message.Fields = bus.Fields{}
	}

	update := cfg.update
	if update == nil {
		update = b.update
	}
	if update == nil {
		update = UpdateFromContext(ctx, st.id)
	}

	started := time.Now()
	handle := b
	if update != b.update {
		handle = b.WithUpdate(update)
	}
	result = &SendResult{Bot: handle, Message: message, Update: update}

	defer func() {
		result.Duration = time.Since(started)
		e.notifySend(ctx, st, result, err)
	}()

	if cfg.ignoreMiddleware {
		result.MiddlewareBypassed = true
	} else if err := e.walkOutgoing(ctx, handle, update, message, result); err != nil {
		return result, err
	}

	if !st.desc.Sends.Has(message.Kind) {
		e.log.Debug("Sending message kind not declared by bot", "bot_id", st.id, "kind", message.Kind)
	}

	receipt, err := deliver(ctx, st, message)
	if err != nil {
		return result, fmt.Errorf("send via %s: %w", st.adapter.Name(), err)
	}
	result.Receipt = receipt
	return result, nil
}

func (e *Engine) walkOutgoing(ctx context.Context, bot *Bot, update *bus.Update, message *bus.Message, result *SendResult) error {
	st := bot.state
	walkCtx, endWalk := contextWithWalk(ctx, st.id, update)
	defer endWalk()

	wrappedOnly := false
	for ent := range e.middleware.outgoingFor(st.id) {
		if wrappedOnly && !ent.boundToBot() {
			continue
		}

		verdict, err := callOutgoing(walkCtx, ent, bot, update, message)
		if err != nil {
			return &OutgoingHandlerError{BotID: st.id, Middleware: entryName(ent), Err: err}
		}

		switch verdict {
		case Next:
			continue
		case SkipNonWrappedOutgoingOnly:
			result.Verdict = verdict
			wrappedOnly = true
			continue
		case SkipAllOutgoing:
			result.Verdict = verdict
			result.MiddlewareBypassed = true
		default:
			result.Verdict = verdict
		}
		return nil
	}
	return nil
}

func callOutgoing(ctx context.Context, ent *entry, bot *Bot, update *bus.Update, message *bus.Message) (verdict Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return ent.outgoing(ctx, bot, update, message)
}

func deliver(ctx context.Context, st *botState, message *bus.Message) (receipt channel.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return st.adapter.Send(ctx, message)
}

func (e *Engine) notifySend(ctx context.Context, st *botState, result *SendResult, err error) {
	kind := bus.EventMessageSent
	if err != nil {
		kind = bus.EventMessageFailed
	}
	event := bus.Event{
		Type:      kind,
		BotID:     st.id,
		BotType:   st.desc.Type,
		Recipient: result.Message.Recipient,
		Duration:  result.Duration,
		Payload: map[string]string{
			"kind":     result.Message.Kind,
			"bypassed": fmt.Sprintf("%t", result.MiddlewareBypassed),
		},
	}
	if result.Update != nil {
		event.UpdateID = result.Update.ID
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.publish(ctx, event)

	for _, fn := range e.sendObservers() {
		if perr := callObserver(func() { fn(ctx, result, err) }); perr != nil {
			e.log.Error("Send observer panicked", "bot_id", st.id, "error", perr)
		}
	}
}
