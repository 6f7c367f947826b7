// Package resolver is the foreign-call core: it validates a call, decodes its
// hex byte tokens, applies the named transformation and re-encodes the
// resulting text as hex tokens.
//
// Everything here is a pure function of (function name, bytes). Nothing is
// shared between calls, so callers may resolve concurrently without locking.
package resolver

// Resolve runs one foreign call. It fails fast on the first violation:
// shape first, then the byte tokens, then the function name.
func Resolve(req *CallRequest) (*CallResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	data, err := DecodeHex(req.Inputs[0])
	if err != nil {
		return nil, err
	}

	fn, err := ParseFunction(req.Function)
	if err != nil {
		return nil, err
	}

	return &CallResponse{Values: [][]string{EncodeHex(fn.Encode(data))}}, nil
}

// Encode is Resolve without the wire format: it applies the named
// transformation to data and returns the text.
func Encode(name string, data []byte) (string, error) {
	fn, err := ParseFunction(name)
	if err != nil {
		return "", err
	}
	return fn.Encode(data), nil
}
