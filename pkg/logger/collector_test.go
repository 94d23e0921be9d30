package logger

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingPublisher struct{}

func (failingPublisher) PublishMessage(context.Context, string, interface{}) error {
	return errors.New("broker down")
}

func TestEntryKeyIgnoresFieldOrder(t *testing.T) {
	a := entryKey("error", "boom", map[string]interface{}{"a": 1, "b": "x"}, "f.go:1")
	b := entryKey("error", "boom", map[string]interface{}{"b": "x", "a": 1}, "f.go:1")
	if a != b {
		t.Fatal("expected equal keys")
	}
	if a == entryKey("error", "boom", map[string]interface{}{"a": 2, "b": "x"}, "f.go:1") {
		t.Fatal("expected different keys for different field values")
	}
}

func TestCollectorFlushesOnClose(t *testing.T) {
	pub := &capturePublisher{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	c := newCollector(CollectionConfig{FlushInterval: time.Hour, Topic: "logs", Publisher: pub}, func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})
	go c.loop()

	c.AddLog("error", "first", nil, "a.go:1")
	c.AddLog("error", "second", nil, "b.go:2")
	c.AddLog("error", "first", nil, "a.go:1")
	c.Close()
	c.Close()

	logs := pub.snapshot()
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(logs))
	}
	if logs[0].Message != "first" || logs[0].Count != 2 {
		t.Fatalf("unexpected first entry: %+v", logs[0])
	}
	if !logs[0].LastSeen.Equal(base.Add(3 * time.Second)) {
		t.Fatalf("unexpected last seen: %v", logs[0].LastSeen)
	}
}

func TestCollectorEarlyFlushAtMaxEntries(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{FlushInterval: time.Hour, MaxEntries: 2, Topic: "logs", Publisher: pub})
	defer c.Close()

	c.AddLog("error", "one", nil, "x.go:1")
	c.AddLog("error", "two", nil, "x.go:2")

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(pub.snapshot()); got != 2 {
		t.Fatalf("expected early flush of 2 entries, got %d", got)
	}
}

func TestCollectorReportsPublishErrors(t *testing.T) {
	errs := make(chan error, 1)
	c := NewLogCollector(&CollectionConfig{
		FlushInterval: time.Hour,
		Topic:         "logs",
		Publisher:     failingPublisher{},
		OnError:       func(err error) { errs <- err },
	})
	c.AddLog("error", "boom", nil, "x.go:1")
	c.Close()

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("expected error")
		}
	default:
		t.Fatal("OnError was not called")
	}
}
