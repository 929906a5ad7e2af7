package channel

import (
	"context"
	"errors"
	"strings"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
)

const messagePreviewLimit = 240

var (
	// ErrUnsupportedMessage is returned by Send when the platform cannot render a message kind.
	ErrUnsupportedMessage = errors.New("message kind not supported by channel")
	// ErrUserInfoUnsupported is returned when a bot cannot look up user profiles.
	ErrUserInfoUnsupported = errors.New("user info retrieval not supported by channel")
)

// Receiver hands one normalized update to the dispatch engine.
type Receiver func(context.Context, *bus.Update) error

// Receipt is what a platform reports back for a delivered message.
type Receipt struct {
	MessageID string            `json:"message_id,omitempty"`
	Recipient string            `json:"recipient,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Adapter bridges one external chat platform (for example Telegram) into botmux.
type Adapter interface {
	Name() string
	Describe() capability.Descriptor
	Send(context.Context, *bus.Message) (Receipt, error)
	Run(context.Context, Receiver) error
}

// UserInfo is the profile a platform reports for one user.
type UserInfo struct {
	ID        string            `json:"id"`
	Username  string            `json:"username,omitempty"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UserInfoRetriever is implemented by adapters whose descriptor declares
// RetrievesUserInfo.
type UserInfoRetriever interface {
	UserInfo(ctx context.Context, userID string) (UserInfo, error)
}

// AllowList filters senders by platform user id. An empty list admits everyone.
type AllowList map[string]struct{}

// NewAllowList normalizes allow_from values into a lookup set.
func NewAllowList(allowFrom []string) AllowList {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(AllowList, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// Allowed reports whether senderID may reach the engine.
func (a AllowList) Allowed(senderID string) bool {
	if len(a) == 0 {
		return true
	}

	_, ok := a[strings.TrimSpace(senderID)]
	return ok
}

// PreviewText returns a bounded log-safe preview of message text.
func PreviewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// SplitText breaks text into chunks of at most limit bytes, preferring line
// and word boundaries. Platforms with message size caps use it before sending.
func SplitText(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:limit], " ")
		}
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], " \n"))
		text = strings.TrimLeft(text[cut:], " \n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
