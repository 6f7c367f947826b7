package resolver

import (
	"errors"
	"fmt"
)

// Fault kinds raised by the resolver. Every fault is terminal for the call
// that raised it.
var (
	// ErrInvalidRequest is returned when the call payload lacks its function
	// name or its first input group.
	ErrInvalidRequest = errors.New("invalid foreign call parameters")

	// ErrMalformedInput is returned when a byte token is not base-16 or does
	// not fit in a byte.
	ErrMalformedInput = errors.New("malformed input")

	// ErrUnknownFunction is returned when the function name is outside the
	// closed set of transformations.
	ErrUnknownFunction = errors.New("unknown function")
)

// UnknownFunctionError carries the offending function name.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Name)
}

func (e *UnknownFunctionError) Is(target error) bool {
	return target == ErrUnknownFunction
}

// MalformedTokenError reports the first input token that failed to decode.
type MalformedTokenError struct {
	Index int
	Token string
	Err   error
}

func (e *MalformedTokenError) Error() string {
	return fmt.Sprintf("malformed input: token %d (%q): %v", e.Index, e.Token, e.Err)
}

func (e *MalformedTokenError) Is(target error) bool {
	return target == ErrMalformedInput
}

func (e *MalformedTokenError) Unwrap() error {
	return e.Err
}

func invalidRequest(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, reason)
}
