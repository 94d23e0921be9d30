package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Delivery is one fetched message on its way through hooks and the handler.
type Delivery struct {
	Topic   string
	Msg     kafka.Message
	Attempt int
}

// Hook wraps message handling. Before may enrich ctx or reject the delivery;
// a rejected delivery is committed without reaching the handler or the DLQ.
// After sees the outcome of every attempt, rejections included.
type Hook interface {
	Before(ctx context.Context, d *Delivery) (context.Context, error)
	After(ctx context.Context, d *Delivery, err error)
}

type NoopHook struct{}

func (NoopHook) Before(ctx context.Context, _ *Delivery) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) After(context.Context, *Delivery, error) {}

// HookError is a rejection raised by a hook. Code classifies it, e.g. ERR_STALE.
type HookError struct {
	Code string
	Err  error
}

func (e *HookError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error { return e.Err }

// HookFuncs builds a Hook from optional functions.
type HookFuncs struct {
	BeforeFunc func(context.Context, *Delivery) (context.Context, error)
	AfterFunc  func(context.Context, *Delivery, error)
}

func (h HookFuncs) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.BeforeFunc == nil {
		return ctx, nil
	}
	return h.BeforeFunc(ctx, d)
}

func (h HookFuncs) After(ctx context.Context, d *Delivery, err error) {
	if h.AfterFunc != nil {
		h.AfterFunc(ctx, d, err)
	}
}

// HookChain runs Before in order and After in reverse. A panic in Before becomes an
// ERR_PANIC rejection; a panic in After is swallowed.
type HookChain []Hook

func NewHookChain(hooks ...Hook) HookChain {
	out := make(HookChain, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			out = append(out, h)
		}
	}
	return out
}

func (c HookChain) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	for _, h := range c {
		next, err := safeBefore(h, ctx, d)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c HookChain) After(ctx context.Context, d *Delivery, err error) {
	for i := len(c) - 1; i >= 0; i-- {
		safeAfter(c[i], ctx, d, err)
	}
}

func safeBefore(h Hook, ctx context.Context, d *Delivery) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, &HookError{Code: "ERR_PANIC", Err: fmt.Errorf("hook panic: %v", r)}
		}
	}()
	return h.Before(ctx, d)
}

func safeAfter(h Hook, ctx context.Context, d *Delivery, err error) {
	defer func() { _ = recover() }()
	h.After(ctx, d, err)
}

type ctxKey int

const (
	ctxStartTime ctxKey = iota
	ctxTraceID
)

func WithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxStartTime, t)
}

// StartTimeFrom returns when TracingHook first saw the delivery.
func StartTimeFrom(ctx context.Context) (time.Time, bool) {
	t, ok := ctx.Value(ctxStartTime).(time.Time)
	return t, ok
}

// WithTraceID stores id for handlers and for Producer.Publish. Empty ids are ignored.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxTraceID, id)
}

// TraceIDFrom returns the trace id stored by TracingHook, if any.
func TraceIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(ctxTraceID).(string)
	return v
}

// TracingHook stamps the start time and the trace_id header into the handler context.
type TracingHook struct{ NoopHook }

func (TracingHook) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	ctx = WithStartTime(ctx, time.Now())
	return WithTraceID(ctx, header(d.Msg, "trace_id")), nil
}

// MaxAgeHook rejects messages whose broker timestamp is older than MaxAge.
// Messages without a timestamp always pass.
type MaxAgeHook struct {
	NoopHook
	MaxAge time.Duration
	Now    func() time.Time
}

func (h MaxAgeHook) Before(ctx context.Context, d *Delivery) (context.Context, error) {
	if h.MaxAge <= 0 || d.Msg.Time.IsZero() {
		return ctx, nil
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	if age := now().Sub(d.Msg.Time); age > h.MaxAge {
		return ctx, &HookError{Code: "ERR_STALE", Err: fmt.Errorf("message age %s exceeds %s", age.Truncate(time.Millisecond), h.MaxAge)}
	}
	return ctx, nil
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
