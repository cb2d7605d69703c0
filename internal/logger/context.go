package logger

import (
	"context"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

// WithEntry returns a copy of ctx carrying entry.
func WithEntry(ctx context.Context, entry logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, entry)
}

// FromContext returns the entry stored by WithEntry, or fallback.
func FromContext(ctx context.Context, fallback logrus.FieldLogger) logrus.FieldLogger {
	if entry, ok := ctx.Value(ctxKey{}).(logrus.FieldLogger); ok && entry != nil {
		return entry
	}
	return fallback
}
