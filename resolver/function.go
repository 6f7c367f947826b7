package resolver

import (
	"encoding/base64"
	"fmt"
)

// Function is one of the closed set of byte→text transformations the oracle
// resolves. The zero value is not a valid Function.
type Function uint8

const (
	Base64Standard       Function = iota + 1 // base64_encode_standard
	Base64StandardNoPad                      // base64_encode_standard_no_pad
	Base64URLSafe                            // base64_encode_url_safe
	Base64URLSafeWithPad                     // base64_encode_url_safe_with_pad
)

var functionNames = map[Function]string{
	Base64Standard:       "base64_encode_standard",
	Base64StandardNoPad:  "base64_encode_standard_no_pad",
	Base64URLSafe:        "base64_encode_url_safe",
	Base64URLSafeWithPad: "base64_encode_url_safe_with_pad",
}

// Functions lists every supported transformation in declaration order.
func Functions() []Function {
	return []Function{Base64Standard, Base64StandardNoPad, Base64URLSafe, Base64URLSafeWithPad}
}

// ParseFunction maps a wire name onto its Function. Matching is exact and
// case-sensitive; there is no fallback.
func ParseFunction(name string) (Function, error) {
	for _, fn := range Functions() {
		if functionNames[fn] == name {
			return fn, nil
		}
	}
	return 0, &UnknownFunctionError{Name: name}
}

func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Function(%d)", uint8(f))
}

// Encode applies the transformation to data.
func (f Function) Encode(data []byte) string {
	return f.encoding().EncodeToString(data)
}

// encoding picks the alphabet and padding pair. Alphabet and padding are
// independent: the four functions cover every combination.
func (f Function) encoding() *base64.Encoding {
	switch f {
	case Base64Standard:
		return base64.StdEncoding
	case Base64StandardNoPad:
		return base64.RawStdEncoding
	case Base64URLSafe:
		return base64.RawURLEncoding
	case Base64URLSafeWithPad:
		return base64.URLEncoding
	}
	panic(fmt.Sprintf("resolver: invalid %s", f))
}
