package middleware

import (
	"context"

	"foreign-oracle/message"
)

// HandlerFunc resolves one JSON-RPC request. It always returns a response,
// carrying a fault when the call failed.
type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost:
// Chain(A, B, C)(h) is A(B(C(h))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
