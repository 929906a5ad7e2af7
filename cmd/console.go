package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"botmux/pkg/channel"
	"botmux/pkg/channel/console"
	"botmux/pkg/config"
	"botmux/pkg/gateway"
	"botmux/pkg/logger"
)

type consoleOptions struct {
	json   bool
	echo   bool
	sender string
}

var consoleOpts consoleOptions

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the dispatch engine from the terminal",
	Long: `Runs a local console bot through the same middleware and responder as the gateway.
With --json every stdin line is one raw update object and every reply is written
to stdout as one JSON message.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadOrDefault()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		applyConsoleOptions(cfg, consoleOpts)

		log, err := consoleLogger(cfg, consoleOpts)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		slog.SetDefault(log)

		adapter, err := newConsoleAdapter(consoleOpts, cmd.InOrStdin(), cmd.OutOrStdout(), log)
		if err != nil {
			return err
		}

		runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runGateway(runCtx, cfg, []channel.Adapter{adapter}, log, gateway.WithoutStatusServer())
	},
}

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().BoolVar(&consoleOpts.json, "json", false, "read raw JSON updates from stdin and write messages as JSON lines")
	consoleCmd.Flags().BoolVar(&consoleOpts.echo, "echo", false, "answer with the echo responder regardless of config")
	consoleCmd.Flags().StringVar(&consoleOpts.sender, "sender", "", "sender id for updates that carry none")
}

func applyConsoleOptions(cfg *config.Config, opts consoleOptions) {
	if opts.echo {
		cfg.Responder.Kind = config.ResponderEcho
	}
	// One worker keeps replies in input order.
	cfg.Gateway.Workers = 1
}

// consoleLogger keeps log output off the chat screen. JSON mode logs to stderr.
func consoleLogger(cfg *config.Config, opts consoleOptions) (*slog.Logger, error) {
	if !opts.json {
		return logger.Discard(), nil
	}
	return logger.New(cfg.Logging)
}

func newConsoleAdapter(opts consoleOptions, in io.Reader, out io.Writer, log *slog.Logger) (*console.Adapter, error) {
	mode := console.ModeInteractive
	if opts.json {
		mode = console.ModeJSON
	}

	return console.NewAdapter(console.Options{
		Mode:   mode,
		Input:  in,
		Output: out,
		Sender: opts.sender,
	}, log)
}
