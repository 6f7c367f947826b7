package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"foreign-oracle/message"
	"foreign-oracle/middleware"
	"foreign-oracle/registry"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

var errOdd = errors.New("odd operand")

func add(ctx context.Context, params json.RawMessage) (any, error) {
	var args []Args
	if err := json.Unmarshal(params, &args); err != nil || len(args) == 0 {
		return nil, message.NewError(message.CodeInvalidParams, "Invalid params", "expected [{A, B}]")
	}
	if args[0].A%2 != 0 {
		return nil, errOdd
	}
	return Reply{Result: args[0].A + args[0].B}, nil
}

func newTestServer(opts ...Option) *Server {
	svr := NewServer(opts...)
	svr.RegisterMethod("Arith.Add", add)
	svr.RegisterFaultCode(errOdd, -32050, "Odd operand")
	return svr
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) message.Response {
	t.Helper()
	var resp message.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer(t *testing.T) {
	h := newTestServer().Handler()

	rec := post(t, h, `{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":3}],"id":123}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	assert.Equal(t, "123", string(resp.ID))

	var reply Reply
	require.NoError(t, json.Unmarshal(resp.Result, &reply))
	assert.Equal(t, 5, reply.Result)
}

func TestServerGenericFaults(t *testing.T) {
	h := newTestServer().Handler()

	tests := []struct {
		name string
		body string
		data string
	}{
		{"parse error", `{"jsonrpc":`, ""},
		{"wrong version", `{"jsonrpc":"1.0","method":"Arith.Add","id":1}`, `jsonrpc field must be "2.0"`},
		{"unknown method", `{"jsonrpc":"2.0","method":"Arith.Sub","id":1}`, "Method not found: Arith.Sub"},
		{"handler error", `{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":1,"B":1}],"id":1}`, "odd operand"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, h, tt.body)
			require.Equal(t, http.StatusOK, rec.Code)
			resp := decodeResponse(t, rec)
			require.NotNil(t, resp.Error)
			assert.Equal(t, message.CodeInternalError, resp.Error.Code)
			assert.Equal(t, "Internal error", resp.Error.Message)
			if tt.data != "" {
				assert.Equal(t, tt.data, resp.Error.Data)
			}
		})
	}
}

func TestServerDistinctFaults(t *testing.T) {
	h := newTestServer(WithDistinctFaultCodes(true)).Handler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `not json`, message.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","method":"Arith.Add","id":1}`, message.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","method":"Arith.Sub","id":1}`, message.CodeMethodNotFound},
		{"registered fault", `{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":1,"B":1}],"id":1}`, -32050},
		{"explicit fault", `{"jsonrpc":"2.0","method":"Arith.Add","params":{},"id":1}`, message.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decodeResponse(t, post(t, h, tt.body))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestServerNotification(t *testing.T) {
	h := newTestServer().Handler()
	rec := post(t, h, `{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":2}]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestServerBatch(t *testing.T) {
	h := newTestServer().Handler()
	rec := post(t, h, `[
		{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":1}],"id":"a"},
		{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":2}]},
		42,
		{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":4,"B":4}],"id":"c"}
	]`)
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []message.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 3)

	assert.Equal(t, `"a"`, string(responses[0].ID))
	assert.JSONEq(t, `{"Result":3}`, string(responses[0].Result))
	assert.NotNil(t, responses[1].Error)
	assert.Equal(t, "null", string(responses[1].ID))
	assert.Equal(t, `"c"`, string(responses[2].ID))
	assert.JSONEq(t, `{"Result":8}`, string(responses[2].Result))

	// Empty batches are a single fault.
	resp := decodeResponse(t, post(t, h, `[]`))
	assert.NotNil(t, resp.Error)

	// A batch of notifications has nothing to answer.
	rec = post(t, h, `[{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":2}]}]`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServerBodyLimit(t *testing.T) {
	h := newTestServer(WithMaxBodyBytes(16)).Handler()
	resp := decodeResponse(t, post(t, h, `{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":3}],"id":1}`))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
}

func TestServerMiddlewareOrder(t *testing.T) {
	svr := newTestServer()
	var seen []string
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			seen = append(seen, req.Method)
			return next(ctx, req)
		}
	})
	post(t, svr.Handler(), `{"jsonrpc":"2.0","method":"Arith.Sub","id":1}`)
	assert.Equal(t, []string{"Arith.Sub"}, seen, "middleware sees unknown methods too")
}

func TestServerRoutes(t *testing.T) {
	svr := newTestServer()
	svr.Handle(http.MethodGet, "/extra", func(c *gin.Context) { c.String(http.StatusOK, "extra") })
	h := svr.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","methods":["Arith.Add"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/extra", nil))
	assert.Equal(t, "extra", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeAndShutdown(t *testing.T) {
	reg := registry.NewStaticRegistry("ForeignCallOracle")
	svr := newTestServer()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	served := make(chan error, 1)
	go func() { served <- svr.Serve(lis, addr, reg) }()

	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), "ForeignCallOracle")
		return len(instances) == 1
	}, time.Second, 10*time.Millisecond)

	httpResp, err := http.Post("http://"+addr+"/", "application/json",
		strings.NewReader(`{"jsonrpc":"2.0","method":"Arith.Add","params":[{"A":2,"B":3}],"id":1}`))
	require.NoError(t, err)
	httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-served)

	instances, _ := reg.Discover(context.Background(), "ForeignCallOracle")
	assert.Empty(t, instances, "shutdown deregisters first")
}

func TestShutdownBeforeServe(t *testing.T) {
	reg := registry.NewStaticRegistry("ForeignCallOracle")
	svr := newTestServer()
	require.NoError(t, svr.Shutdown(time.Second))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	served := make(chan error, 1)
	go func() { served <- svr.Serve(lis, addr, reg) }()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept running after Shutdown")
	}

	instances, _ := reg.Discover(context.Background(), "ForeignCallOracle")
	assert.Empty(t, instances)
	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener is closed")
}

// slowRegistry blocks Register until release is closed.
type slowRegistry struct {
	*registry.StaticRegistry
	entered chan struct{}
	release chan struct{}
}

func (r *slowRegistry) Register(ctx context.Context, serviceName string, instance registry.ServiceInstance, ttl int64) error {
	close(r.entered)
	<-r.release
	return r.StaticRegistry.Register(ctx, serviceName, instance, ttl)
}

func TestShutdownDuringRegister(t *testing.T) {
	reg := &slowRegistry{
		StaticRegistry: registry.NewStaticRegistry("ForeignCallOracle"),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	svr := newTestServer()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()

	served := make(chan error, 1)
	go func() { served <- svr.Serve(lis, addr, reg) }()

	<-reg.entered
	require.NoError(t, svr.Shutdown(time.Second))
	close(reg.release)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve kept running after Shutdown")
	}

	instances, _ := reg.Discover(context.Background(), "ForeignCallOracle")
	assert.Empty(t, instances, "late registration is withdrawn")
}

func TestServerMetricsLabelUnknownMethods(t *testing.T) {
	svr := newTestServer()
	svr.Use(middleware.NewMetrics(svr.Metrics()).Middleware(svr.HasMethod))
	h := svr.Handler()

	for _, method := range []string{"bogus1", "bogus2", "Arith.Add"} {
		post(t, h, `{"jsonrpc":"2.0","method":"`+method+`","params":[{"A":2,"B":3}],"id":1}`)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `oracle_rpc_calls_total{method="unknown",outcome="-32603"} 2`)
	assert.Contains(t, body, `oracle_rpc_calls_total{method="Arith.Add",outcome="ok"} 1`)
	assert.NotContains(t, body, "bogus")
}
