package domain

import "context"

// ProgressFunc receives progress messages a handler emits mid-execution.
type ProgressFunc func(message string)

type progressKey struct{}

// WithProgress attaches a progress callback to the context handed to a
// handler. The dispatcher calls this; handlers only call ReportProgress.
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	if fn == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, fn)
}

// ReportProgress emits a progress message to the caller, if one is
// listening. A handler may call this freely; without a listener it is a
// no-op.
func ReportProgress(ctx context.Context, message string) {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		fn(message)
	}
}
