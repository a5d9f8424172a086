package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	ConnectorIDKey contextKey = "cid"
	UserIDKey      contextKey = "uid"
	GroupIDKey     contextKey = "gid"
	MessageIDKey   contextKey = "msg_id"
	RouteOrderKey  contextKey = "route_order"
	QueueKey       contextKey = "queue"
	CommandIDKey   contextKey = "cmd_id"
	SeqNumberKey   contextKey = "seq_num"
	HandlerKey     contextKey = "handler"
	ProfileKey     contextKey = "profile"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, key := range []contextKey{ConnectorIDKey, UserIDKey, GroupIDKey, MessageIDKey, QueueKey, CommandIDKey, HandlerKey, ProfileKey} {
		if v, ok := ctx.Value(key).(string); ok {
			r.AddAttrs(slog.String(string(key), v))
		}
	}
	if order, ok := ctx.Value(RouteOrderKey).(int); ok {
		r.AddAttrs(slog.Int(string(RouteOrderKey), order))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int(string(SeqNumberKey), int(seq)))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the context extraction on derived handlers.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the context extraction on derived handlers.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Helper functions to add values to context
func ContextWithConnectorID(ctx context.Context, cid string) context.Context {
	return context.WithValue(ctx, ConnectorIDKey, cid)
}

func ContextWithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, UserIDKey, uid)
}

func ContextWithGroupID(ctx context.Context, gid string) context.Context {
	return context.WithValue(ctx, GroupIDKey, gid)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithRouteOrder(ctx context.Context, order int) context.Context {
	return context.WithValue(ctx, RouteOrderKey, order)
}

func ContextWithQueue(ctx context.Context, queue string) context.Context {
	return context.WithValue(ctx, QueueKey, queue)
}

func ContextWithHandler(ctx context.Context, handler string) context.Context {
	return context.WithValue(ctx, HandlerKey, handler)
}

func ContextWithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, ProfileKey, profile)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}
