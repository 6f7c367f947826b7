// Package codec serializes JSON-RPC envelopes for the HTTP transport.
package codec

// Codec encodes and decodes envelopes for one media type.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	ContentType() string
}
