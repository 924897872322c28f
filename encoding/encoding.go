// Package encoding provides the wire-format marshaling for emitted change
// messages. JSON is the canonical format; msgpack is offered for consumers
// that prefer a compact binary stream. All marshaling in the pipeline goes
// through this package so the two formats stay behavior-aligned.
package encoding

import "fmt"

// Marshaler encodes a message for the wire.
type Marshaler func(v any) ([]byte, error)

// ForFormat returns the marshaler for a configured format name.
func ForFormat(format string) (Marshaler, error) {
	switch format {
	case "json":
		return MarshalJSON, nil
	case "msgpack":
		return Marshal, nil
	default:
		return nil, fmt.Errorf("unknown wire format: %s", format)
	}
}
