package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// LogRecord is one captured record. Grouped keys are flattened with dots,
// e.g. model.name.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

type logSink struct {
	mu      sync.Mutex
	records []LogRecord
}

// BufferedSlogHandler captures every record at every level. Handlers
// derived through WithAttrs or WithGroup write into the same buffer, so a
// component logger built with logger.With("component", ...) is captured
// by the handler returned from NewTestLogger.
type BufferedSlogHandler struct {
	sink   *logSink
	attrs  []slog.Attr
	prefix string
	t      *testing.T
}

// NewBufferedSlogHandler creates a handler that also echoes records to
// t.Logf when t is non-nil.
func NewBufferedSlogHandler(t *testing.T) *BufferedSlogHandler {
	return &BufferedSlogHandler{sink: &logSink{}, t: t}
}

// NewTestLogger returns a logger and the handler capturing its records.
func NewTestLogger(t *testing.T) (*slog.Logger, *BufferedSlogHandler) {
	handler := NewBufferedSlogHandler(t)
	return slog.New(handler), handler
}

func (h *BufferedSlogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	rec := LogRecord{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, len(h.attrs)+r.NumAttrs()),
	}
	for _, a := range h.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[h.prefix+a.Key] = a.Value.Any()
		return true
	})

	h.sink.mu.Lock()
	h.sink.records = append(h.sink.records, rec)
	h.sink.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", rec.Level, rec.Message, rec.Attrs)
	}
	return nil
}

func (h *BufferedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(c.attrs, h.attrs)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Any(h.prefix+a.Key, a.Value))
	}
	return &c
}

func (h *BufferedSlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// GetRecords returns a copy of the captured records in arrival order.
func (h *BufferedSlogHandler) GetRecords() []LogRecord {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]LogRecord(nil), h.sink.records...)
}

// Filter returns the records accepted by keep.
func (h *BufferedSlogHandler) Filter(keep func(LogRecord) bool) []LogRecord {
	var out []LogRecord
	for _, r := range h.GetRecords() {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// GetRecordsByLevel returns the records logged at exactly level.
func (h *BufferedSlogHandler) GetRecordsByLevel(level slog.Level) []LogRecord {
	return h.Filter(func(r LogRecord) bool { return r.Level == level })
}

// FindMessage returns the first record whose message contains message.
func (h *BufferedSlogHandler) FindMessage(message string) (LogRecord, bool) {
	found := h.Filter(func(r LogRecord) bool { return strings.Contains(r.Message, message) })
	if len(found) == 0 {
		return LogRecord{}, false
	}
	return found[0], true
}

func (h *BufferedSlogHandler) ContainsMessage(message string) bool {
	_, ok := h.FindMessage(message)
	return ok
}

// ContainsAttr reports whether any record carries key with value.
func (h *BufferedSlogHandler) ContainsAttr(key string, value any) bool {
	return len(h.Filter(func(r LogRecord) bool {
		v, ok := r.Attrs[key]
		return ok && v == value
	})) > 0
}

func (h *BufferedSlogHandler) Clear() {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	h.sink.records = nil
}

func (h *BufferedSlogHandler) Count() int {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return len(h.sink.records)
}

func messages(records []LogRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Message
	}
	return out
}

// AssertLogContains fails t unless a record at level contains message.
func AssertLogContains(t *testing.T, handler *BufferedSlogHandler, level slog.Level, message string) bool {
	t.Helper()
	atLevel := handler.GetRecordsByLevel(level)
	for _, r := range atLevel {
		if strings.Contains(r.Message, message) {
			return true
		}
	}
	return assert.Failf(t, "log message not found",
		"level %s, message %q, captured %q", level, message, messages(atLevel))
}

// AssertLogAttr fails t unless some record carries key with expectedValue.
func AssertLogAttr(t *testing.T, handler *BufferedSlogHandler, key string, expectedValue any) bool {
	t.Helper()
	if handler.ContainsAttr(key, expectedValue) {
		return true
	}
	return assert.Failf(t, "log attribute not found", "%s=%v", key, expectedValue)
}

// AssertNoErrors fails t when any error-level record was captured.
func AssertNoErrors(t *testing.T, handler *BufferedSlogHandler) bool {
	t.Helper()
	return assert.Empty(t, messages(handler.GetRecordsByLevel(slog.LevelError)), "unexpected error logs")
}
