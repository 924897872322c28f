package encoding

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON encodes a value as JSON without HTML escaping. The payload
// carries resource URLs; escaping & and < inside them would break naive
// consumers.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encoder appends a newline; the broker payload should not carry it.
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
