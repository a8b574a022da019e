package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

var (
	// errShuttingDown is the cancel cause of model requests cut short by shutdown.
	errShuttingDown = errors.New("server shutting down")
	// errRequestTimeout is the cancel cause once requestTimeout elapses.
	errRequestTimeout = errors.New("request timeout exceeded")
)

var (
	baseMu        sync.RWMutex
	serverBaseCtx = context.Background()
)

// SetBaseContext sets the process-level context; canceling it cancels every in-flight
// model request. nil resets it to Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseMu.Lock()
	serverBaseCtx = ctx
	baseMu.Unlock()
}

func baseContext() context.Context {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return serverBaseCtx
}

// shutdownNotifier is implemented by services that stop serving on their own, such as
// a manager being closed. Requests end when Done is closed.
type shutdownNotifier interface {
	Done() <-chan struct{}
}

// requestContext derives the context a model request runs under. It ends when the
// client goes away, when the base context or done ends (cause errShuttingDown) or
// when requestTimeout elapses (cause errRequestTimeout). done may be nil.
func requestContext(r *http.Request, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(r.Context())
	stopBase := context.AfterFunc(baseContext(), func() { cancel(errShuttingDown) })
	if done != nil {
		go func() {
			select {
			case <-done:
				cancel(errShuttingDown)
			case <-ctx.Done():
			}
		}()
	}
	release := func() {
		stopBase()
		cancel(nil)
	}
	if requestTimeout <= 0 {
		return ctx, release
	}
	tctx, tcancel := context.WithTimeoutCause(ctx, requestTimeout, errRequestTimeout)
	return tctx, func() {
		tcancel()
		release()
	}
}

// shutdownCause reports whether ctx ended because the server is shutting down.
func shutdownCause(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errShuttingDown)
}
