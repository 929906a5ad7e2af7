package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	channelpkg "botmux/pkg/channel"
	"botmux/pkg/config"
	"botmux/pkg/gateway"
	"botmux/pkg/logger"
)

type testAdapter struct{ name string }

func (a testAdapter) Name() string { return a.name }

func (a testAdapter) Describe() capability.Descriptor {
	return capability.Descriptor{Type: a.name}
}

func (a testAdapter) Send(context.Context, *bus.Message) (channelpkg.Receipt, error) {
	return channelpkg.Receipt{}, nil
}

func (a testAdapter) Run(context.Context, channelpkg.Receiver) error { return nil }

func TestEnabledAdaptersRequiresAtLeastOneChannel(t *testing.T) {
	t.Parallel()

	_, err := enabledAdapters(&config.Config{}, nil)
	require.Error(t, err)
}

func TestEnabledAdaptersRequiresTokens(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Discord.Enabled = true
	_, err := enabledAdapters(cfg, logger.Discard())
	require.ErrorContains(t, err, "configure discord channel")
}

func TestEnabledAdaptersBuildsDiscord(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "discord-token"

	adapters, err := enabledAdapters(cfg, logger.Discard())
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "discord", adapters[0].Name())
}

func TestEnabledChannelNames(t *testing.T) {
	t.Parallel()

	adapters := []channelpkg.Adapter{testAdapter{name: "telegram"}, testAdapter{name: "discord"}}
	assert.Equal(t, "telegram,discord", enabledChannelNames(adapters))
}

func TestRunGatewayRejectsUnknownResponder(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Responder.Kind = "oracle"

	err := runGateway(context.Background(), cfg, []channelpkg.Adapter{testAdapter{name: "t"}}, logger.Discard(), gateway.WithoutStatusServer())
	require.ErrorContains(t, err, "initialize responder")
}

func TestConsoleJSONRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	opts := consoleOptions{json: true, echo: true, sender: "tester"}
	applyConsoleOptions(cfg, opts)
	cfg.Responder.Prefix = "echo: "

	in := strings.NewReader("{\"message\":{\"text\":\"hello\"}}\n{\"message\":{\"text\":\"again\"}}\n")
	out := &bytes.Buffer{}
	adapter, err := newConsoleAdapter(opts, in, out, logger.Discard())
	require.NoError(t, err)

	err = runGateway(context.Background(), cfg, []channelpkg.Adapter{adapter}, logger.Discard(), gateway.WithoutStatusServer())
	require.NoError(t, err)

	var texts []string
	var typing int
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var msg bus.Message
		require.NoError(t, json.Unmarshal([]byte(line), &msg))
		assert.Equal(t, "tester", msg.Recipient)
		if msg.Kind == bus.KindTyping {
			typing++
			continue
		}
		texts = append(texts, msg.Text())
	}
	assert.Equal(t, []string{"echo: hello", "echo: again"}, texts)
	assert.Equal(t, 2, typing)
}

func TestApplyConsoleOptions(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Responder.Kind = config.ResponderOpenAI
	cfg.Gateway.Workers = 8

	applyConsoleOptions(cfg, consoleOptions{echo: true})
	assert.Equal(t, config.ResponderEcho, cfg.Responder.Kind)
	assert.Equal(t, 1, cfg.Gateway.Workers)
}
