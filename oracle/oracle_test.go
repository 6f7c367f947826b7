package oracle

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"foreign-oracle/message"
	"foreign-oracle/middleware"
	"foreign-oracle/resolver"
	"foreign-oracle/server"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newHandler(t *testing.T, opts ...server.Option) http.Handler {
	t.Helper()
	srv := server.NewServer(opts...)
	Register(srv)
	return srv.Handler()
}

func call(t *testing.T, h http.Handler, function string, inputs ...[]string) message.Response {
	t.Helper()
	req, err := message.NewRequest(1, MethodResolveForeignCall, []map[string]any{
		{"function": function, "inputs": inputs},
	})
	require.NoError(t, err)
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body))))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp message.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func values(t *testing.T, resp message.Response) []string {
	t.Helper()
	require.Nil(t, resp.Error)
	var result resolver.CallResponse
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Values, 1)
	return result.Values[0]
}

func TestResolveStandard(t *testing.T) {
	h := newHandler(t)
	resp := call(t, h, "base64_encode_standard", []string{"00", "01", "02"})
	assert.Equal(t, []string{"41", "41", "45", "43"}, values(t, resp))
	assert.Equal(t, "1", string(resp.ID))
}

func TestResolvePadding(t *testing.T) {
	h := newHandler(t)
	// "Zg==" and "Zg" as hex tokens.
	assert.Equal(t, []string{"5a", "67", "3d", "3d"}, values(t, call(t, h, "base64_encode_standard", []string{"66"})))
	assert.Equal(t, []string{"5a", "67"}, values(t, call(t, h, "base64_encode_standard_no_pad", []string{"66"})))
}

func TestResolveUnknownFunction(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	srv := server.NewServer()
	srv.Use(middleware.LoggingMiddleware(zap.New(core)))
	Register(srv)

	resp := call(t, srv.Handler(), "rot13", []string{"66"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
	assert.Equal(t, "Internal error", resp.Error.Message)
	assert.Equal(t, "unknown function: rot13", resp.Error.Data)

	// The underlying message is logged for operators.
	require.Equal(t, 1, logs.FilterMessage("JSON-RPC call failed").Len())
}

func TestResolveMalformedInput(t *testing.T) {
	resp := call(t, newHandler(t), "base64_encode_standard", []string{"zz"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Data, "malformed input")
}

func TestResolveDistinctCodes(t *testing.T) {
	h := newHandler(t, server.WithDistinctFaultCodes(true))

	resp := call(t, h, "rot13", []string{"66"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeUnknownFunction, resp.Error.Code)

	resp = call(t, h, "base64_encode_standard", []string{"100"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeMalformedInput, resp.Error.Code)

	resp = call(t, h, "base64_encode_standard")
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInvalidCall, resp.Error.Code)
}

func TestResolveMissingParams(t *testing.T) {
	h := newHandler(t)
	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"resolve_foreign_call","id":1}`,
		`{"jsonrpc":"2.0","method":"resolve_foreign_call","params":[],"id":1}`,
		`{"jsonrpc":"2.0","method":"resolve_foreign_call","params":[{"inputs":[["00"]]}],"id":1}`,
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
		var resp message.Response
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.Error, body)
		assert.Contains(t, resp.Error.Data, "invalid foreign call parameters", body)
	}
}

func TestFunctionsRoute(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/functions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"functions":[
		"base64_encode_standard",
		"base64_encode_standard_no_pad",
		"base64_encode_url_safe",
		"base64_encode_url_safe_with_pad"
	]}`, rec.Body.String())
}
