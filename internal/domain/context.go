package domain

import "context"

type operatorKey struct{}

// WithOperator stores the acting operator's name in the context.
func WithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operatorKey{}, name)
}

// OperatorFromContext returns the operator name stored by WithOperator.
func OperatorFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(operatorKey{}).(string)
	return name, ok && name != ""
}

type requestIDKey struct{}

// WithRequestID stores a correlation id that is forwarded to the planner.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
