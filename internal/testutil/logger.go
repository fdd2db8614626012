// Package testutil holds helpers shared by the zgraph tests.
package testutil

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

// NewTestLogger returns a debug logger writing through t.Log, so SQL traces
// only show up for failing tests or with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(tWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type tWriter struct {
	t testing.TB
}

func (w tWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// Messages records the messages of every log record it handles.
type Messages struct {
	mu   sync.Mutex
	msgs []string
}

// NewRecordingLogger returns a logger whose messages are kept in the
// returned Messages and also written through t.Log.
func NewRecordingLogger(t testing.TB) (*slog.Logger, *Messages) {
	t.Helper()
	m := &Messages{}
	inner := slog.NewTextHandler(tWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(recordingHandler{Handler: inner, m: m}), m
}

// Count returns how many records carried msg.
func (m *Messages) Count(msg string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.msgs {
		if s == msg {
			n++
		}
	}
	return n
}

type recordingHandler struct {
	slog.Handler
	m *Messages
}

func (h recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.m.mu.Lock()
	h.m.msgs = append(h.m.msgs, r.Message)
	h.m.mu.Unlock()
	return h.Handler.Handle(ctx, r)
}

func (h recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return recordingHandler{Handler: h.Handler.WithAttrs(attrs), m: h.m}
}

func (h recordingHandler) WithGroup(name string) slog.Handler {
	return recordingHandler{Handler: h.Handler.WithGroup(name), m: h.m}
}
