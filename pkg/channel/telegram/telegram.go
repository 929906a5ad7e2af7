package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
	"botmux/pkg/config"
)

const (
	channelName    = "telegram"
	botType        = "telegram"
	maxMessageSize = 4096
)

// Adapter bridges Telegram long polling into the dispatch engine and sends
// engine messages back through the Bot API.
type Adapter struct {
	cfg       config.TelegramConfig
	bot       *telego.Bot
	allowFrom channel.AllowList
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs an adapter instance.
// Extra bot options are applied after the proxy client, mainly for tests.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger, opts ...telego.BotOption) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.telegram.token is required")
	}

	if log == nil {
		log = slog.Default()
	}

	var botOpts []telego.BotOption
	if proxy := strings.TrimSpace(cfg.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxy, err)
		}
		botOpts = append(botOpts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}
	botOpts = append(botOpts, opts...)

	bot, err := telego.NewBot(token, botOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		cfg:       cfg,
		bot:       bot,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       log.With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in logs.
func (a *Adapter) Name() string {
	return channelName
}

// Describe reports what the Bot API delivers and what Send can render.
func (a *Adapter) Describe() capability.Descriptor {
	return capability.Descriptor{
		Type: botType,
		Receives: capability.NewSet(
			capability.ReceivesText,
			capability.ReceivesImage,
			capability.ReceivesAudio,
			capability.ReceivesVideo,
			capability.ReceivesFile,
			capability.ReceivesLocation,
		),
		Sends: capability.NewSet(
			capability.SendsText,
			capability.SendsTypingIndicator,
			capability.SendsImage,
			capability.SendsAudio,
			capability.SendsVideo,
			capability.SendsFile,
			capability.SendsButtons,
		),
		RetrievesUserInfo: true,
	}
}

// Run starts Telegram long polling and hands each accepted update to receive.
func (a *Adapter) Run(ctx context.Context, receive channel.Receiver) error {
	if receive == nil {
		return errors.New("receiver is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			normalized, ok := normalizeUpdate(update)
			if !ok {
				continue
			}

			senderID, _ := normalized.Fields.String("from.id")
			if !a.allowFrom.Allowed(senderID) {
				a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
				continue
			}

			a.log.Info("Received update", "chat_id", normalized.Sender, "sender_id", senderID, "kind", normalized.Kind, "content", channel.PreviewText(normalized.Text()))
			if err := receive(ctx, normalized); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				a.log.Error("Failed to hand off update", "update_id", normalized.ID, "error", err)
			}
		}
	}
}

// Send delivers text, buttons, a hosted attachment or a typing indicator to
// the chat in message.Recipient.
func (a *Adapter) Send(ctx context.Context, message *bus.Message) (channel.Receipt, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(message.Recipient), 10, 64)
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("telegram recipient %q is not a chat id: %w", message.Recipient, err)
	}

	switch message.Kind {
	case bus.KindTyping:
		if err := a.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)); err != nil {
			return channel.Receipt{}, fmt.Errorf("send chat action: %w", err)
		}
		return channel.Receipt{Recipient: message.Recipient}, nil
	case capability.SendsImage, capability.SendsAudio, capability.SendsVideo, capability.SendsFile:
		return a.sendAttachment(ctx, chatID, message)
	case bus.KindButtons:
		return a.sendButtons(ctx, chatID, message)
	case bus.KindText, "":
	default:
		return channel.Receipt{}, fmt.Errorf("%w: %s", channel.ErrUnsupportedMessage, message.Kind)
	}

	text := strings.TrimSpace(message.Text())
	if text == "" {
		return channel.Receipt{}, errors.New("telegram message text is empty")
	}

	a.log.Info("Sending message", "chat_id", chatID, "content", channel.PreviewText(text))

	var sent *telego.Message
	for _, chunk := range channel.SplitText(text, maxMessageSize) {
		sent, err = a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk))
		if err != nil {
			return channel.Receipt{}, fmt.Errorf("send telegram message: %w", err)
		}
	}

	return receiptFor(sent, message), nil
}

func (a *Adapter) sendAttachment(ctx context.Context, chatID int64, message *bus.Message) (channel.Receipt, error) {
	link := strings.TrimSpace(message.AttachmentURL())
	if link == "" {
		return channel.Receipt{}, errors.New("telegram attachment url is empty")
	}

	a.log.Info("Sending attachment", "chat_id", chatID, "kind", message.Kind, "url", link)

	chat := tu.ID(chatID)
	file := tu.FileFromURL(link)
	var (
		sent *telego.Message
		err  error
	)
	switch message.Kind {
	case capability.SendsImage:
		sent, err = a.bot.SendPhoto(ctx, tu.Photo(chat, file))
	case capability.SendsAudio:
		sent, err = a.bot.SendAudio(ctx, tu.Audio(chat, file))
	case capability.SendsVideo:
		sent, err = a.bot.SendVideo(ctx, tu.Video(chat, file))
	default:
		sent, err = a.bot.SendDocument(ctx, tu.Document(chat, file))
	}
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("send telegram %s: %w", message.Kind, err)
	}
	return receiptFor(sent, message), nil
}

// sendButtons renders reply buttons as a one-time keyboard, one button per row.
func (a *Adapter) sendButtons(ctx context.Context, chatID int64, message *bus.Message) (channel.Receipt, error) {
	titles := message.ButtonTitles()
	if len(titles) == 0 {
		return channel.Receipt{}, errors.New("telegram button message has no buttons")
	}

	rows := make([][]telego.KeyboardButton, 0, len(titles))
	for _, title := range titles {
		rows = append(rows, tu.KeyboardRow(tu.KeyboardButton(title)))
	}
	keyboard := tu.Keyboard(rows...).WithResizeKeyboard().WithOneTimeKeyboard()

	text := strings.TrimSpace(message.Text())
	if text == "" {
		text = bus.DefaultButtonText
	}

	a.log.Info("Sending buttons", "chat_id", chatID, "buttons", len(titles), "content", channel.PreviewText(text))
	sent, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text).WithReplyMarkup(keyboard))
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("send telegram buttons: %w", err)
	}
	return receiptFor(sent, message), nil
}

// UserInfo looks up the profile of a private chat through getChat.
func (a *Adapter) UserInfo(ctx context.Context, userID string) (channel.UserInfo, error) {
	chatID, err := strconv.ParseInt(strings.TrimSpace(userID), 10, 64)
	if err != nil {
		return channel.UserInfo{}, fmt.Errorf("telegram user %q is not a chat id: %w", userID, err)
	}

	chat, err := a.bot.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return channel.UserInfo{}, fmt.Errorf("get telegram chat: %w", err)
	}

	return channel.UserInfo{
		ID:        strconv.FormatInt(chat.ID, 10),
		Username:  chat.Username,
		FirstName: chat.FirstName,
		LastName:  chat.LastName,
		Metadata:  map[string]string{"chat_type": chat.Type},
	}, nil
}

func receiptFor(sent *telego.Message, message *bus.Message) channel.Receipt {
	receipt := channel.Receipt{Recipient: message.Recipient}
	if sent != nil {
		receipt.MessageID = strconv.Itoa(sent.MessageID)
	}
	return receipt
}

// normalizeUpdate maps one Telegram update onto a bus update addressed by chat id.
// Updates without a message or sender are dropped.
func normalizeUpdate(update telego.Update) (*bus.Update, bool) {
	message := update.Message
	if message == nil || message.From == nil {
		return nil, false
	}

	kind, text := messageKind(message)
	if kind == "" {
		return nil, false
	}

	chatID := strconv.FormatInt(message.Chat.ID, 10)
	u := &bus.Update{
		ID:        strconv.Itoa(update.UpdateID),
		Kind:      kind,
		Sender:    chatID,
		Timestamp: time.Unix(message.Date, 0).UTC(),
		Fields:    bus.Fields{},
	}
	u.Fields.Set("message.mid", strconv.Itoa(message.MessageID))
	if text != "" {
		u.SetText(text)
	}
	u.Fields.Set("chat.id", chatID)
	u.Fields.Set("chat.type", message.Chat.Type)
	u.Fields.Set("from.id", strconv.FormatInt(message.From.ID, 10))
	u.Fields.Set("from.username", message.From.Username)
	u.Fields.Set("from.first_name", message.From.FirstName)
	if message.Location != nil {
		u.Fields.Set("message.location.latitude", message.Location.Latitude)
		u.Fields.Set("message.location.longitude", message.Location.Longitude)
	}

	return u, true
}

func messageKind(message *telego.Message) (kind, text string) {
	switch {
	case strings.TrimSpace(message.Text) != "":
		return capability.ReceivesText, strings.TrimSpace(message.Text)
	case len(message.Photo) > 0:
		return capability.ReceivesImage, message.Caption
	case message.Audio != nil || message.Voice != nil:
		return capability.ReceivesAudio, message.Caption
	case message.Video != nil:
		return capability.ReceivesVideo, message.Caption
	case message.Document != nil:
		return capability.ReceivesFile, message.Caption
	case message.Location != nil:
		return capability.ReceivesLocation, ""
	default:
		return "", ""
	}
}
