package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const ContentTypeJSON = "application/json"

// JSONCodec uses encoding/json. Decode rejects trailing data after the first
// value so a request body holds exactly one envelope or one batch.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("codec: unexpected data after JSON value")
	}
	return nil
}

func (c *JSONCodec) ContentType() string {
	return ContentTypeJSON
}
