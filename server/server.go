// Package server implements the oracle's JSON-RPC 2.0 over HTTP endpoint
// with method registration, a middleware chain, discovery registration and
// graceful shutdown.
//
// Request processing pipeline:
//
//	POST / → handleRPC (decode single or batch envelope)
//	  → for each call: Middleware Chain → businessHandler → MethodHandler
//	    → result or fault → Codec.Encode → HTTP response
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"foreign-oracle/codec"
	"foreign-oracle/message"
	"foreign-oracle/middleware"
	"foreign-oracle/registry"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// MethodHandler executes one JSON-RPC method. A returned *message.Error is
// sent as-is; any other error is mapped to a fault by the server.
type MethodHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Server serves registered JSON-RPC methods over HTTP.
type Server struct {
	methods     map[string]MethodHandler
	faultCodes  []faultCode
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(...(businessHandler)), built once
	routes      []route
	engine      *gin.Engine
	buildOnce   sync.Once

	codec         codec.Codec
	logger        *zap.Logger
	metrics       *prometheus.Registry
	distinctCodes bool
	maxBodyBytes  int64

	mu            sync.Mutex
	httpServer    *http.Server
	wg            sync.WaitGroup // in-flight calls
	shutdown      atomic.Bool
	registry      registry.Registry
	serviceName   string
	registryTTL   int64
	advertiseAddr string
}

type faultCode struct {
	target  error
	code    int
	message string
}

type route struct {
	method, path string
	handler      gin.HandlerFunc
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.logger = log }
}

// WithMetricsRegistry sets the registry exposed on /metrics. The default is
// an empty registry holding only what middlewares register.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.metrics = reg }
}

// WithDistinctFaultCodes gives every fault kind its own code. Without it all
// faults use -32603 "Internal error" with the detail in data.
func WithDistinctFaultCodes(enabled bool) Option {
	return func(s *Server) { s.distinctCodes = enabled }
}

// WithMaxBodyBytes caps the size of a request body.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBodyBytes = n }
}

// WithServiceName sets the name the server registers under for discovery.
func WithServiceName(name string) Option {
	return func(s *Server) { s.serviceName = name }
}

// WithRegistryTTL sets the discovery lease TTL in seconds.
func WithRegistryTTL(ttl int64) Option {
	return func(s *Server) { s.registryTTL = ttl }
}

// NewServer creates a server with no methods registered.
func NewServer(opts ...Option) *Server {
	s := &Server{
		methods:      make(map[string]MethodHandler),
		codec:        &codec.JSONCodec{},
		logger:       zap.NewNop(),
		maxBodyBytes: 4 << 20,
		serviceName:  "ForeignCallOracle",
		registryTTL:  10,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = prometheus.NewRegistry()
	}
	return s
}

// RegisterMethod binds a JSON-RPC method name to its handler. Methods must be
// registered before the first request is served.
func (s *Server) RegisterMethod(method string, handler MethodHandler) {
	s.methods[method] = handler
}

// Methods lists the registered method names.
func (s *Server) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMethod reports whether method is registered.
func (s *Server) HasMethod(method string) bool {
	_, ok := s.methods[method]
	return ok
}

// RegisterFaultCode maps errors matching target (errors.Is) to code and
// message when distinct fault codes are enabled.
func (s *Server) RegisterFaultCode(target error, code int, message string) {
	s.faultCodes = append(s.faultCodes, faultCode{target: target, code: code, message: message})
}

// Use appends a middleware. Middlewares run in the order they were added.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Handle adds a plain HTTP route next to the JSON-RPC endpoint.
func (s *Server) Handle(method, path string, handler gin.HandlerFunc) {
	s.routes = append(s.routes, route{method: method, path: path, handler: handler})
}

// Metrics is the registry served on /metrics; middlewares register their
// collectors here.
func (s *Server) Metrics() *prometheus.Registry {
	return s.metrics
}

// Handler returns the HTTP handler. The middleware chain and routes are
// frozen on first call.
func (s *Server) Handler() http.Handler {
	s.buildOnce.Do(func() {
		s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
		s.engine = s.newEngine()
	})
	return s.engine
}

// ListenAndServe listens on address and serves until Shutdown.
func (s *Server) ListenAndServe(address, advertiseAddr string, reg registry.Registry) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return s.Serve(lis, advertiseAddr, reg)
}

// Serve registers the server under advertiseAddr (when reg is non-nil) and
// serves HTTP on lis until Shutdown.
func (s *Server) Serve(lis net.Listener, advertiseAddr string, reg registry.Registry) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.httpServer = httpServer
	s.advertiseAddr = advertiseAddr
	s.registry = reg
	s.mu.Unlock()

	if reg != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := reg.Register(ctx, s.serviceName, registry.ServiceInstance{
			Addr:   advertiseAddr,
			Weight: 1,
		}, s.registryTTL)
		cancel()
		if err != nil {
			lis.Close()
			return fmt.Errorf("server: register %s: %w", advertiseAddr, err)
		}

		// Shutdown may have deregistered while Register was in flight.
		s.mu.Lock()
		closing := s.shutdown.Load()
		s.mu.Unlock()
		if closing {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := reg.Deregister(ctx, s.serviceName, advertiseAddr); err != nil {
				s.logger.Warn("Failed to deregister", zap.String("addr", advertiseAddr), zap.Error(err))
			}
			cancel()
			lis.Close()
			return nil
		}
	}

	s.logger.Info("Foreign call oracle listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("advertise", advertiseAddr),
		zap.Strings("methods", s.Methods()),
	)

	err := httpServer.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) && s.shutdown.Load() {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully:
//  1. Deregister from discovery so clients stop routing here
//  2. Stop accepting connections
//  3. Wait for in-flight calls, up to timeout
//
// A Serve that has not started yet returns nil without serving.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Set under mu before anything else so Serve either sees it or has
	// already published what must be torn down.
	s.mu.Lock()
	s.shutdown.Store(true)
	httpServer, reg, addr := s.httpServer, s.registry, s.advertiseAddr
	s.mu.Unlock()

	if reg != nil {
		if err := reg.Deregister(ctx, s.serviceName, addr); err != nil {
			s.logger.Warn("Failed to deregister", zap.String("addr", addr), zap.Error(err))
		}
	}

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("timeout waiting for ongoing requests to finish: %w", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// businessHandler checks the envelope, finds the method and runs it. It is
// the innermost handler of the middleware chain.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	if req.JSONRPC != message.Version {
		return message.NewFault(req.ID, s.envelopeFault(message.CodeInvalidRequest, "Invalid Request",
			fmt.Sprintf("jsonrpc field must be %q", message.Version)))
	}

	handler, ok := s.methods[req.Method]
	if !ok {
		return message.NewFault(req.ID, s.envelopeFault(message.CodeMethodNotFound, "Method not found",
			fmt.Sprintf("Method not found: %s", req.Method)))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		return message.NewFault(req.ID, s.methodFault(err))
	}

	resp, err := message.NewResult(req.ID, result)
	if err != nil {
		s.logger.Error("Failed to marshal method result", zap.String("method", req.Method), zap.Error(err))
		return message.NewFault(req.ID, message.ErrInternal(err.Error()))
	}
	return resp
}

// envelopeFault builds a fault for a problem with the envelope itself.
func (s *Server) envelopeFault(code int, msg, detail string) *message.Error {
	if s.distinctCodes {
		return message.NewError(code, msg, detail)
	}
	return message.ErrInternal(detail)
}

// methodFault maps a handler error onto a fault.
func (s *Server) methodFault(err error) *message.Error {
	var fault *message.Error
	if errors.As(err, &fault) {
		return fault
	}
	if s.distinctCodes {
		for _, fc := range s.faultCodes {
			if errors.Is(err, fc.target) {
				return message.NewError(fc.code, fc.message, err.Error())
			}
		}
	}
	return message.ErrInternal(err.Error())
}
