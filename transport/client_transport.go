// Package transport carries JSON-RPC calls from a client to one oracle
// instance over HTTP.
//
// Every call gets its own sequence id, used as the JSON-RPC id, and the
// response must echo it back. http.Client pools the underlying connections,
// so one ClientTransport serves any number of concurrent callers.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"foreign-oracle/codec"
	"foreign-oracle/message"
)

// ErrBadResponse marks a response that arrived but could not be used.
// Resending the same call will not fix it.
var ErrBadResponse = errors.New("transport: bad response")

// StatusError reports a non-200 HTTP status from the oracle.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected HTTP status %d", e.StatusCode)
}

// ClientTransport sends calls to a single endpoint.
type ClientTransport struct {
	endpoint string
	client   *http.Client
	codec    codec.Codec
	seq      atomic.Uint64
}

// NewClientTransport creates a transport for addr, either host:port or a
// full http(s) URL.
func NewClientTransport(addr string, client *http.Client, c codec.Codec) *ClientTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if c == nil {
		c = &codec.JSONCodec{}
	}
	endpoint := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		endpoint = "http://" + addr + "/"
	}
	return &ClientTransport{endpoint: endpoint, client: client, codec: c}
}

// Endpoint is the URL calls are posted to.
func (t *ClientTransport) Endpoint() string {
	return t.endpoint
}

// Send posts one call and waits for its response. A JSON-RPC fault is
// returned inside the Response, not as an error; errors mean the call did
// not complete.
func (t *ClientTransport) Send(ctx context.Context, method string, params any) (*message.Response, error) {
	seq := t.seq.Add(1)

	req, err := message.NewRequest(seq, method, params)
	if err != nil {
		return nil, err
	}
	body, err := t.codec.Encode(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", t.codec.ContentType())

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, httpResp.Body)
		return nil, &StatusError{StatusCode: httpResp.StatusCode}
	}

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	var resp message.Response
	if err := t.codec.Decode(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	// Faults raised before the id was read come back with a null id.
	if resp.Error == nil && string(resp.ID) != strconv.FormatUint(seq, 10) {
		return nil, fmt.Errorf("%w: id %s does not match request %d", ErrBadResponse, resp.ID, seq)
	}
	return &resp, nil
}
