// Package requesttime pins one "now" per HTTP request.
//
// Every stage of a settlement (risk hour, audit timestamps) reads the same
// instant, so an entry written at the end of a request cannot fall into a
// different scoring hour than the evaluation that produced it.
package requesttime

import (
	"net/http"
	"time"

	"remitgate/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return MiddlewareWithClock(time.Now)(next)
}

// MiddlewareWithClock is Middleware with an injectable clock for handler tests.
func MiddlewareWithClock(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
