package logger

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yandecore/internal/eventbus"
)

func TestNewFansOutToConsoleFileAndBus(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	bus := eventbus.New(nil)

	received := make(chan eventbus.Event, 1)
	bus.Subscribe(eventbus.KindLogEntry, func(e eventbus.Event) { received <- e }, "test")

	log, err := New(dir, &console, bus, slog.LevelInfo)
	require.NoError(t, err)

	log.Info("hello world", "post_id", "42")

	assert.Contains(t, console.String(), "hello world")
	assert.FileExists(t, filepath.Join(dir, "app.json"))

	select {
	case e := <-received:
		assert.Equal(t, "hello world", e.Payload["message"])
	default:
		t.Fatal("expected a log:entry event to be published")
	}
}

func TestConsoleHandlerColorsByLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewConsoleHandler(&buf)
	log := slog.New(h)

	log.Warn("careful")
	assert.Contains(t, buf.String(), Yellow)
	assert.Contains(t, buf.String(), "careful")
}

func TestEventBusHandlerInertWithNilBus(t *testing.T) {
	h := NewEventBusHandler(nil)
	assert.False(t, h.Enabled(nil, slog.LevelInfo))
}
