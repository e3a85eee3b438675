// Package logger builds the process-wide slog.Logger: a colorized console
// handler, a JSON file handler under the library's log directory, and an
// EventBus handler so a UI layer can subscribe to log:entry events instead
// of reading the log file, all fanned out through a single handler.
// Grounded on the teacher's internal/logger (ConsoleHandler's ANSI
// formatting and the FanoutHandler pattern carry over unchanged); the
// teacher's WailsHandler is replaced by an EventBusHandler publishing onto
// internal/eventbus, since this module has no Wails runtime to emit
// through.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"yandecore/internal/eventbus"
)

// ANSI color codes.
const (
	Reset  = "\033[0m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Gray   = "\033[37m"
)

// ConsoleHandler writes a short colorized line per record: level, time,
// message. No attrs are rendered, matching a terminal-friendly format
// rather than slog's default key=value dump.
type ConsoleHandler struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel slog.Level
}

func NewConsoleHandler(out io.Writer) *ConsoleHandler {
	return &ConsoleHandler{out: out, minLevel: slog.LevelInfo}
}

// NewConsoleHandlerLevel is like NewConsoleHandler but with an explicit
// minimum level, for callers that honor a --verbose/--debug flag.
func NewConsoleHandlerLevel(out io.Writer, minLevel slog.Level) *ConsoleHandler {
	return &ConsoleHandler{out: out, minLevel: minLevel}
}

func (h *ConsoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel
}

func (h *ConsoleHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	levelColor := Reset
	switch r.Level {
	case slog.LevelDebug:
		levelColor = Gray
	case slog.LevelInfo:
		levelColor = Green
	case slog.LevelWarn:
		levelColor = Yellow
	case slog.LevelError:
		levelColor = Red
	}

	timeStr := r.Time.Format(time.TimeOnly)
	msg := fmt.Sprintf("%s%s%s [%s] %s\n", levelColor, r.Level.String()[:4], Reset, timeStr, r.Message)

	_, err := h.out.Write([]byte(msg))
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	return h
}

// EventBusHandler republishes every log record as a KindLogEntry event so
// a UI layer can subscribe to logs live instead of tailing the JSON file.
type EventBusHandler struct {
	bus *eventbus.Bus
}

func NewEventBusHandler(bus *eventbus.Bus) *EventBusHandler {
	return &EventBusHandler{bus: bus}
}

func (h *EventBusHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.bus != nil
}

func (h *EventBusHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.bus == nil {
		return nil
	}

	data := make(map[string]any, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		data[a.Key] = a.Value.Any()
		return true
	})

	h.bus.Publish(eventbus.Event{
		Kind: eventbus.KindLogEntry,
		Payload: map[string]any{
			"level":   r.Level.String(),
			"message": r.Message,
			"time":    r.Time.Format(time.RFC3339),
			"data":    data,
		},
	})
	return nil
}

func (h *EventBusHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h // attrs are flattened into data at Handle time regardless of handler chain
}

func (h *EventBusHandler) WithGroup(name string) slog.Handler {
	return h
}

// FanoutHandler dispatches every record to each wrapped handler in turn,
// isolating failures: one handler erroring never stops the others from
// receiving the record.
type FanoutHandler struct {
	handlers []slog.Handler
}

func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		_ = handler.Handle(ctx, r)
	}
	return nil
}

func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: newHandlers}
}

func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &FanoutHandler{handlers: newHandlers}
}

// New builds the process logger: JSON records under logDir/app.json,
// colorized lines at consoleLevel or above to consoleOutput, and a live
// feed onto bus (bus may be nil, in which case the EventBusHandler is
// simply inert).
func New(logDir string, consoleOutput io.Writer, bus *eventbus.Bus, consoleLevel slog.Level) (*slog.Logger, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logger: create log dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, "app.json"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open log file: %w", err)
	}

	jsonHandler := slog.NewJSONHandler(f, nil)
	consoleHandler := NewConsoleHandlerLevel(consoleOutput, consoleLevel)
	eventHandler := NewEventBusHandler(bus)

	handler := &FanoutHandler{handlers: []slog.Handler{jsonHandler, consoleHandler, eventHandler}}
	return slog.New(handler), nil
}
