package httpapi

import "context"

// serverBaseCtx ends when the process starts shutting down.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process lifetime context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from req that also ends when base ends.
// Values come from req. cancel must be called when the handler returns.
func joinContexts(base, req context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(req)
	stop := context.AfterFunc(base, func() { cancel(context.Cause(base)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
