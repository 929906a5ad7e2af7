package bus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	textPath          = "message.text"
	attachmentPath    = "message.attachment"
	attachmentURLPath = "message.attachment.payload.url"
	quickRepliesPath  = "message.quick_replies"

	// KindText is the update and message kind for plain text.
	KindText = "text"
	// KindTyping is the message kind for a typing indicator.
	KindTyping = "typingIndicator"
	// KindButtons is the message kind for text offered with reply buttons.
	KindButtons = "buttons"

	// DefaultButtonText introduces buttons sent without text.
	DefaultButtonText = "Please select one of:"
)

// Update is a normalized inbound event. It is passed by pointer through the
// incoming pipeline so every stage observes earlier mutations.
type Update struct {
	ID        string    `json:"id"`
	BotID     string    `json:"bot_id,omitempty"`
	Kind      string    `json:"kind"`
	Sender    string    `json:"sender,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Fields    Fields    `json:"fields,omitempty"`
}

// NewTextUpdate builds a text update from sender.
func NewTextUpdate(sender, text string) *Update {
	u := &Update{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
		Fields:    Fields{},
	}
	u.SetText(text)
	return u
}

// Text returns message.text, or "" when absent.
func (u *Update) Text() string {
	if u == nil {
		return ""
	}
	s, _ := u.Fields.String(textPath)
	return s
}

// SetText replaces message.text.
func (u *Update) SetText(text string) {
	if u.Fields == nil {
		u.Fields = Fields{}
	}
	u.Fields.Set(textPath, text)
}

// Message is an outbound payload under construction.
type Message struct {
	Recipient string `json:"recipient"`
	Kind      string `json:"kind"`
	Fields    Fields `json:"fields,omitempty"`
}

// NewTextMessage builds a text message addressed to recipient.
func NewTextMessage(recipient, text string) *Message {
	m := &Message{Recipient: recipient, Kind: KindText, Fields: Fields{}}
	m.SetText(text)
	return m
}

// NewTypingMessage builds a typing indicator addressed to recipient.
func NewTypingMessage(recipient string) *Message {
	return &Message{Recipient: recipient, Kind: KindTyping, Fields: Fields{}}
}

// NewAttachmentMessage builds a message pointing at a file hosted at url. The
// attachment type (image, audio, video or file) is also the message kind.
func NewAttachmentMessage(recipient, attachmentType, url string) *Message {
	m := &Message{Recipient: recipient, Kind: attachmentType, Fields: Fields{}}
	m.Fields.Set(attachmentPath+".type", attachmentType)
	m.Fields.Set(attachmentURLPath, url)
	return m
}

// NewButtonsMessage builds text followed by one reply button per title.
// Empty text becomes DefaultButtonText.
func NewButtonsMessage(recipient string, titles []string, text string) *Message {
	if strings.TrimSpace(text) == "" {
		text = DefaultButtonText
	}

	replies := make([]any, 0, len(titles))
	for _, title := range titles {
		replies = append(replies, map[string]any{
			"content_type": "text",
			"title":        title,
			"payload":      title,
		})
	}

	m := &Message{Recipient: recipient, Kind: KindButtons, Fields: Fields{}}
	m.SetText(text)
	m.Fields.Set(quickRepliesPath, replies)
	return m
}

// AttachmentURL returns message.attachment.payload.url, or "" when absent.
func (m *Message) AttachmentURL() string {
	if m == nil {
		return ""
	}
	s, _ := m.Fields.String(attachmentURLPath)
	return s
}

// ButtonTitles returns the titles of message.quick_replies in order.
func (m *Message) ButtonTitles() []string {
	if m == nil {
		return nil
	}
	v, ok := m.Fields.Get(quickRepliesPath)
	if !ok {
		return nil
	}

	var titles []string
	switch replies := v.(type) {
	case []any:
		for _, reply := range replies {
			if r, ok := reply.(map[string]any); ok {
				if title, ok := r["title"].(string); ok {
					titles = append(titles, title)
				}
			}
		}
	case []string:
		titles = append(titles, replies...)
	}
	return titles
}

// Text returns message.text, or "" when absent.
func (m *Message) Text() string {
	if m == nil {
		return ""
	}
	s, _ := m.Fields.String(textPath)
	return s
}

// SetText replaces message.text.
func (m *Message) SetText(text string) {
	if m.Fields == nil {
		m.Fields = Fields{}
	}
	m.Fields.Set(textPath, text)
}

// AddText appends text to message.text and marks the message as text.
func (m *Message) AddText(text string) {
	m.SetText(m.Text() + text)
	if m.Kind == "" {
		m.Kind = KindText
	}
}

// RemoveText clears message.text.
func (m *Message) RemoveText() {
	m.Fields.Delete(textPath)
}

// IsBlank reports whether the message carries no text and no other payload.
func (m *Message) IsBlank() bool {
	if m == nil {
		return true
	}
	if m.Kind == KindTyping || m.AttachmentURL() != "" || len(m.ButtonTitles()) > 0 {
		return false
	}
	return strings.TrimSpace(m.Text()) == ""
}

// Envelope carries one raw update from an adapter to the dispatch workers.
type Envelope struct {
	BotID  string  `json:"bot_id"`
	Update *Update `json:"update"`
}
