package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	charmLog "github.com/charmbracelet/log"

	"botmux/pkg/config"
)

// Output formats accepted in config.LoggingConfig.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// New builds the process logger on stderr from an already resolved logging
// config. Environment overrides are applied by the config package.
func New(cfg config.LoggingConfig) (*slog.Logger, error) {
	return build(cfg, os.Stderr)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func build(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	switch format := strings.ToLower(strings.TrimSpace(cfg.Format)); format {
	case "", FormatText:
		return slog.New(charmLog.NewWithOptions(w, charmLog.Options{
			Level:           charmLog.Level(level),
			ReportTimestamp: true,
			ReportCaller:    cfg.AddSource,
			Prefix:          "botmux",
		})), nil
	case FormatJSON:
		return slog.New(&entryHandler{
			level:     level,
			addSource: cfg.AddSource,
			out:       &lockedWriter{w: w},
		}), nil
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
}

// ParseLevel reads debug, info, warn (or warning) and error in any case.
// An empty level is info.
func ParseLevel(text string) (slog.Level, error) {
	text = strings.TrimSpace(text)
	switch strings.ToLower(text) {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(text)); err != nil {
		return 0, fmt.Errorf("unsupported log level %q", text)
	}
	return level, nil
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) writeLine(line []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(append(line, '\n'))
	return err
}
