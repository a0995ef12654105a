package httpmiddleware

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Recovery returns a middleware that recovers from panics, logs them with
// the request id and a stack trace, and answers with the JSON error body
// the rest of the stack uses. http.ErrAbortHandler is re-raised so the
// server's own connection-abort handling still applies.
func Recovery() Middleware {
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
				// Recovery wraps the whole chain, so the request id is not
				// in this context yet; RequestID has already stamped it on
				// the response headers.
				zctx.From(r.Context()).Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("request_id", w.Header().Get("X-Request-ID")),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusInternalServerError,
					"message": "internal error",
				})
			}()
			next.ServeHTTP(w, r)
		})
	}
}
