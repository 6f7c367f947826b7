// Package client calls oracle instances found through a registry.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"foreign-oracle/codec"
	"foreign-oracle/loadbalance"
	"foreign-oracle/registry"
	"foreign-oracle/resolver"
	"foreign-oracle/transport"

	"go.uber.org/zap"
)

const defaultServiceName = "ForeignCallOracle"

type Client struct {
	registry    registry.Registry // find oracle instances
	balancer    loadbalance.Balancer
	transports  map[string]*transport.ClientTransport // one transport per instance address
	mu          sync.Mutex
	httpClient  *http.Client
	codec       codec.Codec
	serviceName string
	maxRetries  int
	baseDelay   time.Duration
	logger      *zap.Logger

	// Instance list kept current by registry.Watch once the first call has
	// been made. Until the watch delivers, calls fall back to Discover.
	cacheMu   sync.RWMutex
	cached    []registry.ServiceInstance
	ready     bool
	watching  bool
	closed    bool
	stopWatch context.CancelFunc
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client shared by every transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithServiceName(name string) Option {
	return func(c *Client) { c.serviceName = name }
}

// WithLogger sets the logger for retries and instance updates.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.logger = log }
}

// WithRetry resends calls that failed in transport up to maxRetries times,
// waiting baseDelay, 2*baseDelay, 4*baseDelay... between attempts. Faults
// from the oracle are never retried.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := &Client{
		registry:    reg,
		balancer:    bal,
		transports:  make(map[string]*transport.ClientTransport),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		codec:       &codec.JSONCodec{},
		serviceName: defaultServiceName,
		baseDelay:   100 * time.Millisecond,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close stops watching the registry. The client must not be used afterwards.
func (c *Client) Close() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.closed = true
	if c.stopWatch != nil {
		c.stopWatch()
	}
}

// instances returns the watched instance list, or asks the registry directly
// while no watch has delivered yet.
func (c *Client) instances(ctx context.Context) ([]registry.ServiceInstance, error) {
	c.cacheMu.RLock()
	if c.ready {
		instances := c.cached
		c.cacheMu.RUnlock()
		return instances, nil
	}
	c.cacheMu.RUnlock()

	c.startWatch()
	return c.registry.Discover(ctx, c.serviceName)
}

func (c *Client) startWatch() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	if c.watching || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watching = true
	c.stopWatch = cancel
	go c.watch(c.registry.Watch(ctx, c.serviceName))
}

func (c *Client) watch(updates <-chan []registry.ServiceInstance) {
	for instances := range updates {
		c.cacheMu.Lock()
		c.cached = instances
		c.ready = true
		c.cacheMu.Unlock()
		c.logger.Debug("Oracle instances updated",
			zap.String("service", c.serviceName),
			zap.Int("count", len(instances)),
		)
	}

	// The watch ended; go back to Discover and let the next call restart it.
	c.cacheMu.Lock()
	c.cached = nil
	c.ready = false
	c.watching = false
	c.cacheMu.Unlock()
}

func (c *Client) getTransport(addr string) *transport.ClientTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.transports[addr]
	if !ok {
		t = transport.NewClientTransport(addr, c.httpClient, c.codec)
		c.transports[addr] = t
	}
	return t
}

// Call invokes method on an oracle instance and decodes the result into
// reply. A fault is returned as a *message.Error.
func (c *Client) Call(ctx context.Context, method string, params any, reply any) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Warn("Retrying call",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.callOnce(ctx, method, params, reply)
		if err == nil || !retryable(ctx, err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) callOnce(ctx context.Context, method string, params any, reply any) error {
	instances, err := c.instances(ctx)
	if err != nil {
		return err
	}

	// Pick again on every attempt so a dead instance can be skipped.
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return err
	}

	resp, err := c.getTransport(instance.Addr).Send(ctx, method, params)
	if err != nil {
		return &callError{addr: instance.Addr, err: err}
	}
	if resp.Error != nil {
		return resp.Error
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, reply); err != nil {
		return fmt.Errorf("%w: %v", transport.ErrBadResponse, err)
	}
	return nil
}

// ResolveForeignCall asks the oracle to apply function to data and returns
// the encoded text.
func (c *Client) ResolveForeignCall(ctx context.Context, function string, data []byte) (string, error) {
	params := []resolver.CallRequest{{
		Function: function,
		Inputs:   []resolver.InputGroup{resolver.EncodeHex(string(data))},
	}}
	var resp resolver.CallResponse
	if err := c.Call(ctx, "resolve_foreign_call", params, &resp); err != nil {
		return "", err
	}
	return resp.Text()
}

// callError marks a failure to reach an instance.
type callError struct {
	addr string
	err  error
}

func (e *callError) Error() string {
	return fmt.Sprintf("call %s: %v", e.addr, e.err)
}

func (e *callError) Unwrap() error {
	return e.err
}

// retryable reports whether err is a transport failure worth resending.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ce *callError
	if !errors.As(err, &ce) {
		return false
	}
	return !errors.Is(err, transport.ErrBadResponse)
}
