// Package console runs a local bot on the terminal, either as an interactive
// chat screen or as a JSON-lines pipe for scripting.
package console

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"botmux/pkg/bus"
	"botmux/pkg/capability"
	"botmux/pkg/channel"
)

const (
	channelName   = "console"
	botType       = "console"
	defaultSender = "console"
	maxLineSize   = 1 << 20
)

// Mode selects how the console exchanges updates and messages.
type Mode int

const (
	// ModeInteractive renders a terminal chat screen.
	ModeInteractive Mode = iota
	// ModeJSON reads one raw update per input line and writes one message per output line.
	ModeJSON
)

// Options configures a console adapter.
type Options struct {
	Mode   Mode
	Input  io.Reader
	Output io.Writer
	// Sender is used when an update carries no sender.id.
	Sender string
}

// Adapter is a channel.Adapter bound to stdin/stdout style streams.
type Adapter struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	program *tea.Program
	encoder *json.Encoder
}

// NewAdapter builds a console adapter. Input and Output are required.
func NewAdapter(opts Options, log *slog.Logger) (*Adapter, error) {
	if opts.Input == nil || opts.Output == nil {
		return nil, errors.New("console adapter requires input and output streams")
	}
	if strings.TrimSpace(opts.Sender) == "" {
		opts.Sender = defaultSender
	}
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		opts:    opts,
		log:     log.With("component", "channel.console"),
		encoder: json.NewEncoder(opts.Output),
	}, nil
}

// Name returns the channel identifier used in logs.
func (a *Adapter) Name() string {
	return channelName
}

// Describe reports the console capabilities. The console never knows who the user is.
func (a *Adapter) Describe() capability.Descriptor {
	return capability.Descriptor{
		Type:     botType,
		Receives: capability.NewSet(capability.ReceivesText),
		Sends: capability.NewSet(
			capability.SendsText,
			capability.SendsTypingIndicator,
			capability.SendsButtons,
			capability.SendsImage,
			capability.SendsFile,
		),
	}
}

// Run reads updates until the input ends or ctx is cancelled.
func (a *Adapter) Run(ctx context.Context, receive channel.Receiver) error {
	if receive == nil {
		return errors.New("console receiver is required")
	}

	if a.opts.Mode == ModeJSON {
		return a.runJSON(ctx, receive)
	}
	return a.runInteractive(ctx, receive)
}

// Send writes msg to the output stream or the chat screen.
func (a *Adapter) Send(ctx context.Context, msg *bus.Message) (channel.Receipt, error) {
	if msg == nil {
		return channel.Receipt{}, errors.New("console message is nil")
	}
	if err := ctx.Err(); err != nil {
		return channel.Receipt{}, err
	}
	if !a.Describe().Sends.Has(msg.Kind) {
		return channel.Receipt{}, fmt.Errorf("%w: %s", channel.ErrUnsupportedMessage, msg.Kind)
	}

	receipt := channel.Receipt{MessageID: uuid.NewString(), Recipient: msg.Recipient}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.opts.Mode == ModeJSON {
		if err := a.encoder.Encode(msg); err != nil {
			return channel.Receipt{}, fmt.Errorf("write console message: %w", err)
		}
		return receipt, nil
	}

	if a.program == nil {
		return channel.Receipt{}, errors.New("console screen is not running")
	}
	a.program.Send(outboundMsg{kind: msg.Kind, text: screenText(msg)})
	return receipt, nil
}

func (a *Adapter) runJSON(ctx context.Context, receive channel.Receiver) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(a.opts.Input)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read console input: %w", err)
					}
				default:
				}
				return nil
			}
			a.receiveLine(ctx, line, receive)
		}
	}
}

func (a *Adapter) receiveLine(ctx context.Context, line []byte, receive channel.Receiver) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return
	}

	update, err := bus.DecodeUpdate(line)
	if err != nil {
		a.log.Warn("Dropping console update", "error", err)
		return
	}
	if update.Sender == "" {
		update.Sender = a.opts.Sender
	}

	if err := receive(ctx, update); err != nil {
		a.log.Error("Failed to hand off console update", "update_id", update.ID, "error", err)
	}
}

func (a *Adapter) runInteractive(ctx context.Context, receive channel.Receiver) error {
	submit := func(text string) error {
		return receive(ctx, bus.NewTextUpdate(a.opts.Sender, text))
	}

	program := tea.NewProgram(
		newModel(submit),
		tea.WithContext(ctx),
		tea.WithInput(a.opts.Input),
		tea.WithOutput(a.opts.Output),
		tea.WithMouseCellMotion(),
	)

	a.mu.Lock()
	a.program = program
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.program = nil
		a.mu.Unlock()
	}()

	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run console screen: %w", err)
	}
	return nil
}

// screenText renders buttons and attachments as plain chat lines.
func screenText(msg *bus.Message) string {
	switch msg.Kind {
	case bus.KindButtons:
		titles := msg.ButtonTitles()
		buttons := make([]string, 0, len(titles))
		for _, title := range titles {
			buttons = append(buttons, "["+title+"]")
		}
		return msg.Text() + "\n" + strings.Join(buttons, " ")
	case capability.SendsImage, capability.SendsFile:
		return "[" + msg.Kind + "] " + msg.AttachmentURL()
	default:
		return msg.Text()
	}
}
