// Package oracle exposes the resolver as the resolve_foreign_call JSON-RPC
// method.
package oracle

import (
	"context"
	"encoding/json"
	"net/http"

	"foreign-oracle/message"
	"foreign-oracle/resolver"
	"foreign-oracle/server"

	"github.com/gin-gonic/gin"
)

// MethodResolveForeignCall is the JSON-RPC method hosts call.
const MethodResolveForeignCall = "resolve_foreign_call"

// Register installs the oracle on srv: the JSON-RPC method, the fault codes
// used when distinct codes are enabled, and GET /functions.
func Register(srv *server.Server) {
	srv.RegisterMethod(MethodResolveForeignCall, ResolveForeignCall)

	srv.RegisterFaultCode(resolver.ErrInvalidRequest, message.CodeInvalidCall, "Invalid foreign call")
	srv.RegisterFaultCode(resolver.ErrMalformedInput, message.CodeMalformedInput, "Malformed input")
	srv.RegisterFaultCode(resolver.ErrUnknownFunction, message.CodeUnknownFunction, "Unknown function")

	srv.Handle(http.MethodGet, "/functions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"functions": FunctionNames()})
	})
}

// ResolveForeignCall decodes params[0], resolves the call and returns the
// hex-encoded result.
func ResolveForeignCall(_ context.Context, params json.RawMessage) (any, error) {
	req, err := resolver.ParseParams(params)
	if err != nil {
		return nil, err
	}
	resp, err := resolver.Resolve(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FunctionNames lists the transformations the oracle resolves.
func FunctionNames() []string {
	fns := resolver.Functions()
	names := make([]string, len(fns))
	for i, fn := range fns {
		names[i] = fn.String()
	}
	return names
}
