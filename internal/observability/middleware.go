package observability

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
)

// Recoverer turns a handler panic into a 500 JSON response, reporting it
// to Sentry and the log.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("stack", string(debug.Stack()))
					scope.SetTag("path", r.URL.Path)
					sentry.CaptureException(fmt.Errorf("panic: %v", rec))
				})
				logger.ErrorContext(r.Context(), "panic recovered", "method", r.Method, "path", r.URL.Path, "panic", fmt.Sprint(rec))

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"message": "internal server error", "error": http.StatusText(http.StatusInternalServerError)})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
