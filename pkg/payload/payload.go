// Package payload serializes configuration records into the compact JSON
// text the engine expects alongside each call.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEncodingFailed is returned when a record cannot be serialized.
var ErrEncodingFailed = errors.New("config encoding failed")

// EmptyObject is the fixed configuration sent with operations that take no parameters.
var EmptyObject = []byte("{}")

// Encode returns the compact JSON encoding of record. Keys follow the
// record's json tags; nil optional fields are omitted. A fresh slice is
// returned on every call.
func Encode(record interface{}) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncodingFailed, err)
	}
	return data, nil
}

// Empty returns a fresh copy of EmptyObject.
func Empty() []byte {
	return append([]byte(nil), EmptyObject...)
}
