package middleware

import (
	"context"

	"foreign-oracle/message"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware admits calls through a token bucket of r tokens per
// second and the given burst.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return message.NewFault(req.ID, message.ErrInternal("rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
