package logger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturePublisher struct {
	mu    sync.Mutex
	calls int
	logs  []AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, _ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if entries, ok := payload.([]AggregatedLogEntry); ok {
		p.logs = append(p.logs, entries...)
	}
	return nil
}

func (p *capturePublisher) snapshot() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]AggregatedLogEntry(nil), p.logs...)
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New(&Config{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestFileOutputWithFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l, err := New(&Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.With(String("component", "test")).Info("hello", Int("n", 3), Float64("ratio", 0.5))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"component":"test"`, `"n":3`, `"ratio":0.5`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestCollectorAggregatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{FlushInterval: time.Hour, MaxEntries: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("storage down", String("backend", "timescale"), Error(errors.New("dial tcp")))
	}
	l.RemoveCollector()

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	logs := pub.snapshot()
	if len(logs) != 1 {
		t.Fatalf("expected one aggregated entry, got %d", len(logs))
	}
	if logs[0].Count != 3 || logs[0].Level != "error" {
		t.Fatalf("unexpected entry: %+v", logs[0])
	}
}

func TestErrorReportsCallerToCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{FlushInterval: time.Hour, Topic: "logs", Publisher: pub})
	l.Error("boom", Int("n", 1))
	l.RemoveCollector()

	logs := pub.snapshot()
	if len(logs) != 1 {
		t.Fatalf("expected one entry, got %d", len(logs))
	}
	if !strings.HasPrefix(logs[0].Caller, "pkg/logger/logger_test.go:") {
		t.Fatalf("unexpected caller %q", logs[0].Caller)
	}
	if logs[0].Fields["n"] != 1 {
		t.Fatalf("unexpected fields %v", logs[0].Fields)
	}
}
