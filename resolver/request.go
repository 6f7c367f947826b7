package resolver

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InputGroup is one ordered sequence of hex byte tokens.
//
// Hosts normally send an array of tokens; a lone string token is accepted as
// a group of one.
type InputGroup []string

func (g *InputGroup) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var tok string
		if err := json.Unmarshal(data, &tok); err != nil {
			return err
		}
		*g = InputGroup{tok}
		return nil
	}
	var toks []string
	if err := json.Unmarshal(data, &toks); err != nil {
		return err
	}
	*g = toks
	return nil
}

// CallRequest is the first positional parameter of resolve_foreign_call.
// Only Inputs[0] is consumed.
type CallRequest struct {
	Function string       `json:"function"`
	Inputs   []InputGroup `json:"inputs"`
}

// CallResponse is the result of resolve_foreign_call: a single element
// holding one hex token per byte of the encoded text.
type CallResponse struct {
	Values [][]string `json:"values"`
}

// Text decodes the hex tokens of the response back into the encoded text.
func (r *CallResponse) Text() (string, error) {
	if len(r.Values) != 1 {
		return "", fmt.Errorf("%w: expected 1 value group, got %d", ErrMalformedInput, len(r.Values))
	}
	data, err := DecodeHex(r.Values[0])
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseParams decodes the raw positional parameter payload and validates
// the first element.
func ParseParams(raw json.RawMessage) (*CallRequest, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, invalidRequest("missing params")
	}
	var params []*CallRequest
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, invalidRequest(err.Error())
	}
	if len(params) == 0 {
		return nil, invalidRequest("missing params[0]")
	}
	req := params[0]
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the minimal shape needed before dispatch.
func (r *CallRequest) Validate() error {
	if r == nil {
		return invalidRequest("missing params[0]")
	}
	if r.Function == "" {
		return invalidRequest("missing function name")
	}
	if len(r.Inputs) == 0 || len(r.Inputs[0]) == 0 {
		return invalidRequest("missing input group")
	}
	return nil
}
