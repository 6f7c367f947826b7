package middleware

import (
	"context"
	"time"

	"foreign-oracle/message"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every call with its duration. Faults are logged at
// warn level with the underlying message so operators can see why a call
// failed even though the caller only gets a generic code.
func LoggingMiddleware(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			start := time.Now()
			resp := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.ByteString("id", req.ID),
				zap.Duration("duration", time.Since(start)),
			}
			if resp != nil && resp.Error != nil {
				fields = append(fields,
					zap.Int("code", resp.Error.Code),
					zap.String("message", resp.Error.Message),
					zap.Any("data", resp.Error.Data),
				)
				log.Warn("JSON-RPC call failed", fields...)
				return resp
			}
			log.Debug("JSON-RPC call", fields...)
			return resp
		}
	}
}
