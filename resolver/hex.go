package resolver

import (
	"strconv"
)

const hextable = "0123456789abcdef"

// DecodeHex parses base-16 byte tokens into bytes. The result has the same
// length and order as tokens. Tokens are case-insensitive, carry no radix
// prefix and may have leading zeros ("000041" is 0x41).
func DecodeHex(tokens []string) ([]byte, error) {
	data := make([]byte, len(tokens))
	for i, tok := range tokens {
		// bitSize 8 turns anything above 0xff into a range error.
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, &MalformedTokenError{Index: i, Token: tok, Err: err}
		}
		data[i] = byte(v)
	}
	return data, nil
}

// EncodeHex re-expresses every UTF-8 byte of text as a two-character
// lowercase hex token.
func EncodeHex(text string) []string {
	tokens := make([]string, len(text))
	for i := 0; i < len(text); i++ {
		b := text[i]
		tokens[i] = string([]byte{hextable[b>>4], hextable[b&0x0f]})
	}
	return tokens
}
