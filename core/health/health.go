package health

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/wsgate/core/logger"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// ErrNotReady is returned by Ready when any check fails.
var ErrNotReady = errors.New("service not ready")

// Liveness indicates the process is running. Always 200 "ALIVE".
func Liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ALIVE"))
}

// NoContent answers 204 with no body.
func NoContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// Readiness returns a handler answering 200 "READY" when every check passes
// and 503 otherwise. Each check shares a timeout derived from the request.
func Readiness(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := Ready(ctx, checks...); err != nil {
			log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("READY"))
	}
}

// Ready runs checks in order and stops at the first failure.
func Ready(ctx context.Context, checks ...Check) error {
	for _, check := range checks {
		if err := check(ctx); err != nil {
			return errors.Join(ErrNotReady, err)
		}
	}
	return nil
}
