package kafka

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// ConsumerHook observes every handling attempt. BeforeHandle may enrich the
// context passed to the handler.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, topic string, km kafka.Message) context.Context
	AfterHandle(ctx context.Context, topic string, km kafka.Message, err error)
}

// NoopHook is the default hook.
type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ string, _ kafka.Message) context.Context {
	return ctx
}

func (NoopHook) AfterHandle(context.Context, string, kafka.Message, error) {}

// HookFuncs adapts plain functions to ConsumerHook. Nil functions are no-ops.
type HookFuncs struct {
	Before func(context.Context, string, kafka.Message) context.Context
	After  func(context.Context, string, kafka.Message, error)
}

func (h HookFuncs) BeforeHandle(ctx context.Context, topic string, km kafka.Message) context.Context {
	if h.Before == nil {
		return ctx
	}
	return h.Before(ctx, topic, km)
}

func (h HookFuncs) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	if h.After != nil {
		h.After(ctx, topic, km, err)
	}
}

// HookChain runs hooks in order before handling and in reverse order after.
// A panicking hook is skipped.
type HookChain struct {
	hooks []ConsumerHook
}

// NewHookChain creates a composable hook chain. Nil hooks are ignored.
func NewHookChain(hooks ...ConsumerHook) *HookChain {
	filtered := make([]ConsumerHook, 0, len(hooks))
	for _, h := range hooks {
		if h != nil {
			filtered = append(filtered, h)
		}
	}
	return &HookChain{hooks: filtered}
}

func (c *HookChain) BeforeHandle(ctx context.Context, topic string, km kafka.Message) context.Context {
	for _, h := range c.hooks {
		ctx = safeBefore(h, ctx, topic, km)
	}
	return ctx
}

func (c *HookChain) AfterHandle(ctx context.Context, topic string, km kafka.Message, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		safeAfter(c.hooks[i], ctx, topic, km, err)
	}
}

type ctxKey string

// CtxTraceID holds the correlation id carried in the trace_id header.
const CtxTraceID ctxKey = "kafka_hook_trace_id"

// TraceHook copies the trace_id header into the handler context.
var TraceHook = HookFuncs{
	Before: func(ctx context.Context, _ string, km kafka.Message) context.Context {
		if id := ExtractTraceID(km); id != "" {
			return context.WithValue(ctx, CtxTraceID, id)
		}
		return ctx
	},
}

// TraceIDFrom returns the trace id stored by TraceHook, if any.
func TraceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(CtxTraceID).(string)
	return id
}

const traceHeader = "trace_id"

// ExtractTraceID tries to get trace id from Kafka headers.
func ExtractTraceID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == traceHeader && len(h.Value) > 0 {
			return string(h.Value)
		}
	}
	return ""
}

func safeBefore(h ConsumerHook, ctx context.Context, topic string, km kafka.Message) (out context.Context) {
	out = ctx
	defer func() {
		if recover() != nil {
			out = ctx
		}
	}()
	return h.BeforeHandle(ctx, topic, km)
}

func safeAfter(h ConsumerHook, ctx context.Context, topic string, km kafka.Message, err error) {
	defer func() { _ = recover() }()
	h.AfterHandle(ctx, topic, km, err)
}
