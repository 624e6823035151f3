package ctxkeys

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	RequestIDKey  contextKey = "request_id"
	TokenLabelKey contextKey = "token_label"
)

func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// TokenLabel is the label of the API token that authenticated the request.
func TokenLabel(ctx context.Context) string {
	label, _ := ctx.Value(TokenLabelKey).(string)
	return label
}

func WithTokenLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, TokenLabelKey, label)
}
