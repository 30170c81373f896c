package logger

import "context"

// requestIDKey is an unexported key type so other packages cannot collide
// with the value.
type requestIDKeyType struct{}

var requestIDKey = requestIDKeyType{}

// WithRequestID stores the request ID on the context. The ingress
// middleware sets it; services pull it back out when logging.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID from the context, or "" when unset.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
