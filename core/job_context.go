package core

import "context"

type jobLoggerKey struct{}

type nopJobLogger struct{}

func (nopJobLogger) Log(context.Context, string) error { return nil }

// ContextWithJobLogger attaches the delivery's job log to ctx.
func ContextWithJobLogger(ctx context.Context, logger JobLogger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, jobLoggerKey{}, logger)
}

// JobLoggerFromContext returns the attached job log or a no-op one.
func JobLoggerFromContext(ctx context.Context) JobLogger {
	if ctx != nil {
		if logger, ok := ctx.Value(jobLoggerKey{}).(JobLogger); ok && logger != nil {
			return logger
		}
	}
	return nopJobLogger{}
}
