// Package response turns engine output buffers into text results.
package response

import (
	"bytes"
	"errors"
	"strings"

	"github.com/menta2k/cryptonet/pkg/engine"
)

// BarcodeDelimiter marks the start of the trailing binary segment the
// document back-scan appends after its text payload.
const BarcodeDelimiter = "),"

// ErrNoPayload is returned when the engine produced no usable output.
var ErrNoPayload = errors.New("engine returned no payload")

// Decoder converts an output buffer into text. It must not retain or free b.
type Decoder func(b engine.Buffer) (string, error)

// Decode interprets b as NUL-terminated UTF-8 text. Invalid sequences are
// replaced with U+FFFD. A null or empty buffer yields ErrNoPayload.
func Decode(b engine.Buffer) (string, error) {
	if b.IsNull() {
		return "", ErrNoPayload
	}
	data := b.Data
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) == 0 {
		return "", ErrNoPayload
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// DecodeBarcode is Decode followed by TruncateAtBarcodeDelimiter. It is
// only used for the document back-scan family.
func DecodeBarcode(b engine.Buffer) (string, error) {
	text, err := Decode(b)
	if err != nil {
		return "", err
	}
	return TruncateAtBarcodeDelimiter(text), nil
}

// TruncateAtBarcodeDelimiter drops the first BarcodeDelimiter and everything
// after it. Text without the delimiter is returned unchanged.
//
// The back-scan response format is inconsistent with every other operation;
// revisit this if the engine's wire format changes.
func TruncateAtBarcodeDelimiter(text string) string {
	if i := strings.Index(text, BarcodeDelimiter); i >= 0 {
		return text[:i]
	}
	return text
}
