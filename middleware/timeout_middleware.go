package middleware

import (
	"context"
	"time"

	"foreign-oracle/message"
)

// TimeOutMiddleware answers with a fault when the handler has not returned
// within timeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewFault(req.ID, message.ErrInternal("request timed out"))
			}
		}
	}
}
