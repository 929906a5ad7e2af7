package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
	"botmux/pkg/config"
)

const (
	channelName    = "discord"
	botType        = "discord"
	maxMessageSize = 2000
)

// session is the part of *discordgo.Session the adapter sends through.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Adapter bridges a Discord gateway session into the dispatch engine.
type Adapter struct {
	session   *discordgo.Session
	sender    session
	allowFrom channel.AllowList
	log       *slog.Logger
}

// NewAdapter validates Discord configuration and prepares a gateway session.
// The session is opened by Run.
func NewAdapter(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("channels.discord.token is required")
	}
	if log == nil {
		log = slog.Default()
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("initialize discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	return &Adapter{
		session:   s,
		sender:    s,
		allowFrom: channel.NewAllowList(cfg.AllowFrom),
		log:       log.With("component", "channel.discord"),
	}, nil
}

func (a *Adapter) Name() string {
	return channelName
}

func (a *Adapter) Describe() capability.Descriptor {
	return capability.Descriptor{
		Type: botType,
		Receives: capability.NewSet(
			capability.ReceivesText,
			capability.ReceivesImage,
			capability.ReceivesFile,
		),
		Sends: capability.NewSet(
			capability.SendsText,
			capability.SendsTypingIndicator,
			capability.SendsImage,
			capability.SendsAudio,
			capability.SendsVideo,
			capability.SendsFile,
		),
		RetrievesUserInfo: true,
	}
}

// Run opens the gateway connection and forwards message create events until ctx ends.
func (a *Adapter) Run(ctx context.Context, receive channel.Receiver) error {
	if receive == nil {
		return errors.New("receiver is required")
	}

	remove := a.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		selfID := ""
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}

		update, ok := normalizeMessage(m, selfID)
		if !ok {
			return
		}

		senderID, _ := update.Fields.String("author.id")
		if !a.allowFrom.Allowed(senderID) {
			a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
			return
		}

		a.log.Info("Received update", "channel_id", update.Sender, "sender_id", senderID, "content", channel.PreviewText(update.Text()))
		if err := receive(ctx, update); err != nil && ctx.Err() == nil {
			a.log.Error("Failed to hand off update", "update_id", update.ID, "error", err)
		}
	})
	defer remove()

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	a.log.Info("Discord channel started")

	<-ctx.Done()

	if err := a.session.Close(); err != nil {
		a.log.Warn("Failed to close discord session", "error", err)
	}
	return nil
}

// Send posts text, a hosted attachment or a typing indicator to the channel in
// message.Recipient.
func (a *Adapter) Send(ctx context.Context, message *bus.Message) (channel.Receipt, error) {
	channelID := strings.TrimSpace(message.Recipient)
	if channelID == "" {
		return channel.Receipt{}, errors.New("discord recipient channel id is empty")
	}

	switch message.Kind {
	case bus.KindTyping:
		if err := a.sender.ChannelTyping(channelID, discordgo.WithContext(ctx)); err != nil {
			return channel.Receipt{}, fmt.Errorf("send typing: %w", err)
		}
		return channel.Receipt{Recipient: channelID}, nil
	case capability.SendsImage, capability.SendsAudio, capability.SendsVideo, capability.SendsFile:
		return a.sendAttachment(ctx, channelID, message)
	case bus.KindText, "":
	default:
		return channel.Receipt{}, fmt.Errorf("%w: %s", channel.ErrUnsupportedMessage, message.Kind)
	}

	text := strings.TrimSpace(message.Text())
	if text == "" {
		return channel.Receipt{}, errors.New("discord message text is empty")
	}

	a.log.Info("Sending message", "channel_id", channelID, "content", channel.PreviewText(text))

	var sent *discordgo.Message
	for _, chunk := range channel.SplitText(text, maxMessageSize) {
		var err error
		sent, err = a.sender.ChannelMessageSend(channelID, chunk, discordgo.WithContext(ctx))
		if err != nil {
			return channel.Receipt{}, fmt.Errorf("send discord message: %w", err)
		}
	}

	return channel.Receipt{MessageID: sent.ID, Recipient: channelID}, nil
}

// sendAttachment embeds images and posts other files as links Discord unfurls.
func (a *Adapter) sendAttachment(ctx context.Context, channelID string, message *bus.Message) (channel.Receipt, error) {
	link := strings.TrimSpace(message.AttachmentURL())
	if link == "" {
		return channel.Receipt{}, errors.New("discord attachment url is empty")
	}

	a.log.Info("Sending attachment", "channel_id", channelID, "kind", message.Kind, "url", link)

	var (
		sent *discordgo.Message
		err  error
	)
	if message.Kind == capability.SendsImage {
		embed := &discordgo.MessageEmbed{Image: &discordgo.MessageEmbedImage{URL: link}}
		sent, err = a.sender.ChannelMessageSendEmbed(channelID, embed, discordgo.WithContext(ctx))
	} else {
		sent, err = a.sender.ChannelMessageSend(channelID, link, discordgo.WithContext(ctx))
	}
	if err != nil {
		return channel.Receipt{}, fmt.Errorf("send discord %s: %w", message.Kind, err)
	}
	return channel.Receipt{MessageID: sent.ID, Recipient: channelID}, nil
}

// UserInfo fetches a Discord user by id.
func (a *Adapter) UserInfo(ctx context.Context, userID string) (channel.UserInfo, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return channel.UserInfo{}, errors.New("discord user id is empty")
	}

	user, err := a.sender.User(userID, discordgo.WithContext(ctx))
	if err != nil {
		return channel.UserInfo{}, fmt.Errorf("get discord user: %w", err)
	}

	info := channel.UserInfo{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.GlobalName,
	}
	if user.Bot {
		info.Metadata = map[string]string{"bot": "true"}
	}
	return info, nil
}

// normalizeMessage maps a message create event onto a bus update addressed by
// channel id. Messages from bots, including this one, are dropped.
func normalizeMessage(m *discordgo.MessageCreate, selfID string) (*bus.Update, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return nil, false
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return nil, false
	}

	kind := capability.ReceivesText
	text := strings.TrimSpace(m.Content)
	if text == "" {
		if len(m.Attachments) == 0 {
			return nil, false
		}
		kind = capability.ReceivesFile
		if strings.HasPrefix(m.Attachments[0].ContentType, "image/") {
			kind = capability.ReceivesImage
		}
	}

	u := &bus.Update{
		ID:        m.ID,
		Kind:      kind,
		Sender:    m.ChannelID,
		Timestamp: m.Timestamp.UTC(),
		Fields:    bus.Fields{},
	}
	if text != "" {
		u.SetText(text)
	}
	u.Fields.Set("message.mid", m.ID)
	u.Fields.Set("channel.id", m.ChannelID)
	u.Fields.Set("guild.id", m.GuildID)
	u.Fields.Set("author.id", m.Author.ID)
	u.Fields.Set("author.username", m.Author.Username)
	if len(m.Attachments) > 0 {
		urls := make([]any, 0, len(m.Attachments))
		for _, att := range m.Attachments {
			urls = append(urls, att.URL)
		}
		u.Fields.Set("message.attachments", urls)
	}

	return u, true
}
