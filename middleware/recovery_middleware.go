package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"foreign-oracle/message"

	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into an internal-error fault.
func RecoveryMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (resp *message.Response) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("JSON-RPC handler panic recovered",
						zap.String("method", req.Method),
						zap.Any("panic", rec),
						zap.ByteString("stack", debug.Stack()),
					)
					resp = message.NewFault(req.ID, message.ErrInternal(fmt.Sprintf("panic: %v", rec)))
				}
			}()
			return next(ctx, req)
		}
	}
}
