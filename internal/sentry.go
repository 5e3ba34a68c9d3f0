package internal

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// GetSentryHubFromContextOrDefault is a version of sentry.GetHubFromContext
// which automatically falls back to sentry.CurrentHub if the given context has
// not been attached a hub. Hub connections build their contexts by hand rather
// than through the sentry HTTP middleware, so most contexts here won't carry
// a hub of their own.
//
// The returned pointer is always nonnil.
func GetSentryHubFromContextOrDefault(ctx context.Context) *sentry.Hub {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return hub
}

// ReportError logs err and forwards it to sentry with the given description.
// Use for unexpected failures only; expected conditions (quota, unauthorized,
// precondition) have their own handling.
func ReportError(ctx context.Context, err error, msg string) {
	DecorateLogger(ctx, logger.Error().Err(err)).Msg(msg)
	GetSentryHubFromContextOrDefault(ctx).CaptureException(err)
}
