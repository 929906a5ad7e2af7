package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
	"botmux/pkg/config"
	"botmux/pkg/logger"
)

const testToken = "123456789:AAbbCCddEEffGGhhIIjjKKllMMnnOOppQQ1"

type apiRecorder struct {
	mu      sync.Mutex
	methods []string
	bodies  []map[string]any
}

func newAPIServer(t *testing.T) (*httptest.Server, *apiRecorder) {
	t.Helper()
	rec := &apiRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		_ = json.Unmarshal(body, &decoded)

		rec.mu.Lock()
		rec.methods = append(rec.methods, path.Base(r.URL.Path))
		rec.bodies = append(rec.bodies, decoded)
		n := len(rec.methods)
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch path.Base(r.URL.Path) {
		case "getChat":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":42,"type":"private","username":"ann","first_name":"Ann","last_name":"Lee","accent_color_id":0,"max_reaction_count":0}}`)
		case "sendMessage", "sendPhoto", "sendAudio", "sendVideo", "sendDocument":
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":`+itoa(n)+`,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func newTestAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(config.TelegramConfig{Token: testToken}, logger.Discard(),
		telego.WithAPIServer(srv.URL),
		telego.WithHTTPClient(srv.Client()),
		telego.WithDiscardLogger(),
	)
	require.NoError(t, err)
	return adapter
}

func TestNewAdapterRequiresToken(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{Token: "  "}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token is required")
}

func TestNewAdapterRejectsBadProxy(t *testing.T) {
	_, err := NewAdapter(config.TelegramConfig{Token: testToken, Proxy: "://bad"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid proxy URL")
}

func TestDescribe(t *testing.T) {
	srv, _ := newAPIServer(t)
	d := newTestAdapter(t, srv).Describe()

	require.NoError(t, d.Validate())
	assert.Equal(t, "telegram", d.Type)
	assert.True(t, d.Receives.Has(capability.ReceivesText))
	assert.True(t, d.Sends.Has(capability.SendsTypingIndicator))
	assert.True(t, d.Sends.Has(capability.SendsButtons))
	assert.True(t, d.RetrievesUserInfo)
}

func TestSendText(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	receipt, err := adapter.Send(context.Background(), bus.NewTextMessage("42", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "1", receipt.MessageID)
	assert.Equal(t, "42", receipt.Recipient)

	require.Equal(t, []string{"sendMessage"}, rec.methods)
	assert.Equal(t, "hello", rec.bodies[0]["text"])
}

func TestSendSplitsLongText(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	long := strings.Repeat("word ", maxMessageSize/5+10)
	receipt, err := adapter.Send(context.Background(), bus.NewTextMessage("42", long))
	require.NoError(t, err)
	assert.Equal(t, []string{"sendMessage", "sendMessage"}, rec.methods)
	assert.Equal(t, "2", receipt.MessageID)
}

func TestSendTyping(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	_, err := adapter.Send(context.Background(), bus.NewTypingMessage("42"))
	require.NoError(t, err)
	assert.Equal(t, []string{"sendChatAction"}, rec.methods)
}

func TestSendAttachments(t *testing.T) {
	tests := []struct {
		kind   string
		method string
		field  string
	}{
		{kind: capability.SendsImage, method: "sendPhoto", field: "photo"},
		{kind: capability.SendsAudio, method: "sendAudio", field: "audio"},
		{kind: capability.SendsVideo, method: "sendVideo", field: "video"},
		{kind: capability.SendsFile, method: "sendDocument", field: "document"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			srv, rec := newAPIServer(t)
			adapter := newTestAdapter(t, srv)

			receipt, err := adapter.Send(context.Background(), bus.NewAttachmentMessage("42", tt.kind, "https://example.com/f"))
			require.NoError(t, err)
			assert.Equal(t, "1", receipt.MessageID)

			require.Equal(t, []string{tt.method}, rec.methods)
			assert.Equal(t, "https://example.com/f", rec.bodies[0][tt.field])
		})
	}
}

func TestSendAttachmentRequiresURL(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	_, err := adapter.Send(context.Background(), bus.NewAttachmentMessage("42", capability.SendsImage, ""))
	require.Error(t, err)
	assert.Empty(t, rec.methods)
}

func TestSendButtons(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	_, err := adapter.Send(context.Background(), bus.NewButtonsMessage("42", []string{"b1", "b2"}, ""))
	require.NoError(t, err)

	require.Equal(t, []string{"sendMessage"}, rec.methods)
	assert.Equal(t, bus.DefaultButtonText, rec.bodies[0]["text"])

	markup, ok := rec.bodies[0]["reply_markup"].(map[string]any)
	require.True(t, ok)
	rows, ok := markup["keyboard"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)
	first := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "b1", first["text"])
	assert.Equal(t, true, markup["one_time_keyboard"])
}

func TestUserInfo(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	var _ channel.UserInfoRetriever = adapter

	info, err := adapter.UserInfo(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, channel.UserInfo{
		ID:        "42",
		Username:  "ann",
		FirstName: "Ann",
		LastName:  "Lee",
		Metadata:  map[string]string{"chat_type": "private"},
	}, info)
	assert.Equal(t, []string{"getChat"}, rec.methods)

	_, err = adapter.UserInfo(context.Background(), "ann")
	require.Error(t, err)
}

func TestSendRejectsBadInput(t *testing.T) {
	srv, rec := newAPIServer(t)
	adapter := newTestAdapter(t, srv)

	_, err := adapter.Send(context.Background(), bus.NewTextMessage("not-a-chat", "x"))
	require.Error(t, err)

	_, err = adapter.Send(context.Background(), &bus.Message{Recipient: "42", Kind: "carousel", Fields: bus.Fields{}})
	require.ErrorIs(t, err, channel.ErrUnsupportedMessage)

	_, err = adapter.Send(context.Background(), bus.NewTextMessage("42", "   "))
	require.Error(t, err)

	assert.Empty(t, rec.methods)
}

func TestNormalizeUpdate(t *testing.T) {
	u, ok := normalizeUpdate(telego.Update{
		UpdateID: 7,
		Message: &telego.Message{
			MessageID: 3,
			Date:      1700000000,
			Text:      "  hi there ",
			Chat:      telego.Chat{ID: -100, Type: "group"},
			From:      &telego.User{ID: 55, Username: "ann", FirstName: "Ann"},
		},
	})
	require.True(t, ok)

	assert.Equal(t, "7", u.ID)
	assert.Equal(t, capability.ReceivesText, u.Kind)
	assert.Equal(t, "-100", u.Sender)
	assert.Equal(t, "hi there", u.Text())
	assert.EqualValues(t, 1700000000, u.Timestamp.Unix())

	from, _ := u.Fields.String("from.id")
	assert.Equal(t, "55", from)
	name, _ := u.Fields.String("from.first_name")
	assert.Equal(t, "Ann", name)
}

func TestNormalizeUpdateKinds(t *testing.T) {
	from := &telego.User{ID: 1}

	photo, ok := normalizeUpdate(telego.Update{Message: &telego.Message{From: from, Photo: []telego.PhotoSize{{FileID: "f"}}, Caption: "look"}})
	require.True(t, ok)
	assert.Equal(t, capability.ReceivesImage, photo.Kind)
	assert.Equal(t, "look", photo.Text())

	loc, ok := normalizeUpdate(telego.Update{Message: &telego.Message{From: from, Location: &telego.Location{Latitude: 1.5, Longitude: 2.5}}})
	require.True(t, ok)
	assert.Equal(t, capability.ReceivesLocation, loc.Kind)
	lat, _ := loc.Fields.Float("message.location.latitude")
	assert.InDelta(t, 1.5, lat, 0.0001)

	_, ok = normalizeUpdate(telego.Update{})
	assert.False(t, ok)
	_, ok = normalizeUpdate(telego.Update{Message: &telego.Message{Text: "no sender"}})
	assert.False(t, ok)
	_, ok = normalizeUpdate(telego.Update{Message: &telego.Message{From: from}})
	assert.False(t, ok)
}
