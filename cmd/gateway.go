package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"botmux/pkg/bus"
	"botmux/pkg/channel"
	"botmux/pkg/channel/discord"
	"botmux/pkg/channel/telegram"
	"botmux/pkg/config"
	"botmux/pkg/engine"
	"botmux/pkg/gateway"
	"botmux/pkg/logger"
	"botmux/pkg/metrics"
	"botmux/pkg/responder"
)

const (
	telegramChannelName = "telegram"
	discordChannelName  = "discord"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the configured channels through the dispatch engine",
	Long:  "Runs every enabled channel adapter against one dispatch engine and serves health, status, metrics and live events over HTTP.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		appLogger, err := logger.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(appLogger)
		log := slog.Default().With("component", "cmd.gateway")

		adapters, err := enabledAdapters(cfg, log)
		if err != nil {
			log.Error("Gateway configuration invalid", "error", err)
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("Gateway starting", "channels", enabledChannelNames(adapters), "responder", cfg.Responder.Kind)
		if err := runGateway(runCtx, cfg, adapters, appLogger); err != nil {
			log.Error("Gateway runtime failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

// runGateway wires engine, responder and metrics around adapters and blocks
// until the gateway stops.
func runGateway(ctx context.Context, cfg *config.Config, adapters []channel.Adapter, log *slog.Logger, opts ...gateway.Option) error {
	mb := bus.NewMessageBusWithBuffer(cfg.Gateway.QueueSize)
	defer mb.Close()

	eng := engine.New(engine.WithLogger(log), engine.WithEventBus(mb))

	r, err := responder.New(cfg.Responder)
	if err != nil {
		return fmt.Errorf("initialize responder: %w", err)
	}
	responder.Attach(eng, r, log)

	opts = append([]gateway.Option{gateway.WithBus(mb), gateway.WithMetrics(metrics.New())}, opts...)
	svc, err := gateway.NewService(ctx, cfg, eng, adapters, log, opts...)
	if err != nil {
		return fmt.Errorf("initialize gateway service: %w", err)
	}

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func enabledAdapters(cfg *config.Config, log *slog.Logger) ([]channel.Adapter, error) {
	adapters := make([]channel.Adapter, 0, 2)

	if cfg.Channels.Telegram.Enabled {
		adapter, err := telegram.NewAdapter(cfg.Channels.Telegram, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", telegramChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if cfg.Channels.Discord.Enabled {
		adapter, err := discord.NewAdapter(cfg.Channels.Discord, log)
		if err != nil {
			return nil, fmt.Errorf("configure %s channel: %w", discordChannelName, err)
		}
		adapters = append(adapters, adapter)
	}

	if len(adapters) == 0 {
		return nil, errors.New("no channels are enabled")
	}

	return adapters, nil
}

func enabledChannelNames(adapters []channel.Adapter) string {
	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return strings.Join(names, ",")
}
