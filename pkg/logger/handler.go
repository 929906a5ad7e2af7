package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// LogEntry is one JSON log line. The keys the dispatch engine logs with are
// lifted out of Fields so walks can be filtered without parsing nested data.
type LogEntry struct {
	Level      string         `json:"level"`
	Timestamp  string         `json:"timestamp"`
	Component  string         `json:"component,omitempty"`
	BotID      string         `json:"bot_id,omitempty"`
	BotType    string         `json:"bot_type,omitempty"`
	UpdateID   string         `json:"update_id,omitempty"`
	Middleware string         `json:"middleware,omitempty"`
	Message    string         `json:"message"`
	Error      string         `json:"error,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
	Caller     string         `json:"caller,omitempty"`
}

// topLevel maps ungrouped attribute keys onto LogEntry fields.
var topLevel = map[string]func(*LogEntry) *string{
	"component":  func(e *LogEntry) *string { return &e.Component },
	"bot_id":     func(e *LogEntry) *string { return &e.BotID },
	"bot_type":   func(e *LogEntry) *string { return &e.BotType },
	"update_id":  func(e *LogEntry) *string { return &e.UpdateID },
	"middleware": func(e *LogEntry) *string { return &e.Middleware },
	"error":      func(e *LogEntry) *string { return &e.Error },
}

type entryHandler struct {
	level     slog.Level
	addSource bool
	out       *lockedWriter
	attrs     []slog.Attr
	groups    []string
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	line, err := json.Marshal(h.entry(record))
	if err != nil {
		return err
	}
	return h.out.writeLine(line)
}

func (h *entryHandler) entry(record slog.Record) LogEntry {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	fields := map[string]any{}
	add := func(attr slog.Attr) bool {
		attr.Value = attr.Value.Resolve()
		if attr.Equal(slog.Attr{}) {
			return true
		}
		if len(h.groups) == 0 {
			if field, ok := topLevel[attr.Key]; ok {
				*field(&entry) = plainString(attr.Value)
				return true
			}
		}
		fields[strings.Join(append(h.groups[:len(h.groups):len(h.groups)], attr.Key), ".")] = plain(attr.Value)
		return true
	}
	for _, attr := range h.attrs {
		add(attr)
	}
	record.Attrs(add)

	if len(fields) > 0 {
		entry.Fields = fields
	}
	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}
	return entry
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(h.groups[:len(h.groups):len(h.groups)], name)
	return &next
}

func plainString(v slog.Value) string {
	if s, ok := plain(v).(string); ok {
		return s
	}
	return fmt.Sprint(plain(v))
}

// plain converts a resolved value into something encoding/json renders readably.
func plain(v slog.Value) any {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := v.Group()
		out := make(map[string]any, len(group))
		for _, attr := range group {
			out[attr.Key] = plain(attr.Value.Resolve())
		}
		return out
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return x.Error()
		case fmt.Stringer:
			return x.String()
		}
	}
	return v.Any()
}
