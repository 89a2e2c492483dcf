package logger

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// SlowRequestThreshold marks requests that are counted as slow.
var SlowRequestThreshold = 2 * time.Second

// RequestLogger is a chi middleware that logs every request and feeds the
// status counters.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			CountStatus(status)

			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", elapsed.String(),
				"requestId", middleware.GetReqID(r.Context()),
			}
			switch {
			case status >= 500:
				Error("HTTP request failed", args...)
			case elapsed > SlowRequestThreshold:
				SlowRequests.Add(1)
				Warn("Slow HTTP request", args...)
			default:
				Debug("HTTP request", args...)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}
