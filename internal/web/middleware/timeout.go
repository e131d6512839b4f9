package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout bounds each request's context by d. Handlers observe the
// deadline through the store calls they make; nothing is interrupted
// mid-write. A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
