package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"foreign-oracle/message"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

func (s *Server) newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(requestID(), accessLog(s.logger), allowCORS())

	engine.POST("/", s.handleRPC)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{})))
	for _, r := range s.routes {
		engine.Handle(r.method, r.path, r.handler)
	}
	return engine
}

// handleRPC serves one HTTP request holding a single call or a batch.
// Notifications get no response; a request with nothing to answer is 204.
func (s *Server) handleRPC(c *gin.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodyBytes))
	if err != nil {
		s.writeParseFault(c, err)
		return
	}

	ctx := c.Request.Context()
	if message.IsBatch(body) {
		s.serveBatch(ctx, c, body)
		return
	}

	var req message.Request
	if err := s.codec.Decode(body, &req); err != nil {
		s.writeParseFault(c, err)
		return
	}

	resp := s.call(ctx, &req)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}
	s.write(c, resp)
}

// serveBatch runs every call of a batch concurrently and answers in request
// order.
func (s *Server) serveBatch(ctx context.Context, c *gin.Context, body []byte) {
	var raws []json.RawMessage
	if err := s.codec.Decode(body, &raws); err != nil {
		s.writeParseFault(c, err)
		return
	}
	if len(raws) == 0 {
		s.write(c, message.NewFault(nil, s.envelopeFault(message.CodeInvalidRequest, "Invalid Request", "empty batch")))
		return
	}

	responses := make([]*message.Response, len(raws))
	var wg sync.WaitGroup
	for i, raw := range raws {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var req message.Request
			if err := s.codec.Decode(raw, &req); err != nil {
				responses[i] = message.NewFault(nil, s.envelopeFault(message.CodeInvalidRequest, "Invalid Request", err.Error()))
				return
			}
			responses[i] = s.call(ctx, &req)
		}()
	}
	wg.Wait()

	out := make([]*message.Response, 0, len(responses))
	for _, resp := range responses {
		if resp != nil {
			out = append(out, resp)
		}
	}
	if len(out) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	s.write(c, out)
}

// call runs req through the middleware chain. It returns nil for
// notifications.
func (s *Server) call(ctx context.Context, req *message.Request) *message.Response {
	resp := s.handler(ctx, req)
	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) writeParseFault(c *gin.Context, err error) {
	s.logger.Warn("Malformed JSON-RPC envelope",
		zap.String("request_id", c.GetString(requestIDHeader)),
		zap.Error(err),
	)
	s.write(c, message.NewFault(nil, s.envelopeFault(message.CodeParseError, "Parse error", err.Error())))
}

// write encodes v with the server codec. Faults are still HTTP 200; the
// error lives in the body.
func (s *Server) write(c *gin.Context, v any) {
	data, err := s.codec.Encode(v)
	if err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, s.codec.ContentType(), data)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.shutdown.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "methods": s.Methods()})
}

// requestID tags every request with an id, reusing the caller's when sent.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", c.GetString(requestIDHeader)),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}

// allowCORS lets browser-hosted evaluators reach the oracle from any origin.
func allowCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+requestIDHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
