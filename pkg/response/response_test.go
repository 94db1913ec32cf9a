package response

import (
	"errors"
	"testing"

	"github.com/menta2k/cryptonet/pkg/engine"
)

func TestDecodeNullBuffer(t *testing.T) {
	_, err := Decode(engine.Buffer{})
	if !errors.Is(err, ErrNoPayload) {
		t.Fatalf("Expected ErrNoPayload, got %v", err)
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	tests := [][]byte{{}, {0}, {0, 'x'}}
	for _, data := range tests {
		if _, err := Decode(engine.Buffer{Ref: 1, Data: data}); !errors.Is(err, ErrNoPayload) {
			t.Errorf("Decode(%q): expected ErrNoPayload, got %v", data, err)
		}
	}
}

func TestDecodeStopsAtNUL(t *testing.T) {
	text, err := Decode(engine.Buffer{Ref: 1, Data: []byte("{\"ok\":true}\x00trailing")})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("Expected %q, got %q", `{"ok":true}`, text)
	}
}

func TestDecodeReplacesInvalidUTF8(t *testing.T) {
	text, err := Decode(engine.Buffer{Ref: 1, Data: []byte{'a', 0xff, 'b'}})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if text != "a\uFFFDb" {
		t.Errorf("Expected replacement character, got %q", text)
	}
}

func TestTruncateAtBarcodeDelimiter(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"ABC),garbage", "ABC"},
		{"ABC", "ABC"},
		{"),", ""},
		{"a)b,c", "a)b,c"},
		{"first),second),third", "first"},
		{"", ""},
	}

	for _, test := range tests {
		result := TruncateAtBarcodeDelimiter(test.input)
		if result != test.expected {
			t.Errorf("TruncateAtBarcodeDelimiter(%q) = %q, expected %q", test.input, result, test.expected)
		}
	}
}

func TestDecodeBarcodeDropsBinaryTail(t *testing.T) {
	buf := engine.Buffer{Ref: 1, Data: []byte("{\"doc\":\"X\"}),\x00\x01")}
	text, err := DecodeBarcode(buf)
	if err != nil {
		t.Fatalf("DecodeBarcode failed: %v", err)
	}
	if text != `{"doc":"X"}` {
		t.Errorf("Expected %q, got %q", `{"doc":"X"}`, text)
	}
}

func TestDecodeDoesNotMutateBuffer(t *testing.T) {
	data := []byte("ABC),xyz")
	buf := engine.Buffer{Ref: 1, Data: data}
	if _, err := DecodeBarcode(buf); err != nil {
		t.Fatalf("DecodeBarcode failed: %v", err)
	}
	if string(data) != "ABC),xyz" {
		t.Errorf("Buffer was modified: %q", data)
	}
}
