package custos

import (
	"context"
	"time"

	log "github.com/ChainSafe/log15"
)

// Context is an alias for the standard context used across all custos
// subsystems. Every ledger or coordination service access takes one as
// the first argument.
type Context = context.Context

type contextKey int

const (
	contextKeyNow contextKey = iota
	contextKeyLogger
)

// DefaultLogger is used by every component that was not given its own
// logger. It discards everything.
var DefaultLogger = log.New()

func init() {
	DefaultLogger.SetHandler(log.DiscardHandler())
}

// WithNow returns a context with the current time declared. Time lock
// checks resolve "now" through the context so tests can control the
// clock precisely.
func WithNow(ctx Context, now time.Time) Context {
	return context.WithValue(ctx, contextKeyNow, now)
}

// Now returns the current time as declared in the context, falling back
// to the wall clock when not set.
func Now(ctx Context) time.Time {
	if now, ok := ctx.Value(contextKeyNow).(time.Time); ok {
		return now
	}
	return time.Now()
}

// IsExpired returns true if given time is in the past as compared to the
// "now" declared in the context. Expiration is inclusive, meaning that if
// current time is equal to the expiration time then this function
// returns true. For signed authorization deadlines, which stay valid
// through the deadline instant, use DeadlineExceeded instead.
func IsExpired(ctx Context, t UnixTime) bool {
	return t <= AsUnixTime(Now(ctx))
}

// DeadlineExceeded returns true only once the "now" declared in the
// context is strictly past the given deadline. An authorization is
// still valid at the deadline instant itself.
func DeadlineExceeded(ctx Context, deadline UnixTime) bool {
	return AsUnixTime(Now(ctx)) > deadline
}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx Context, logger log.Logger) Context {
	return context.WithValue(ctx, contextKeyLogger, logger)
}

// GetLogger returns the logger declared in the context, or DefaultLogger
// if none was set.
func GetLogger(ctx Context) log.Logger {
	if logger, ok := ctx.Value(contextKeyLogger).(log.Logger); ok {
		return logger
	}
	return DefaultLogger
}
