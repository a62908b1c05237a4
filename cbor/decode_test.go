package cbor_test

import (
	"encoding/hex"
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/elnosh/nutmelt/cbor"
	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/x448/float16"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		cborHex  string
		expected any
	}{
		{"00", uint64(0)},
		{"17", uint64(23)},
		{"1818", uint64(24)},
		{"1903e8", uint64(1000)},
		{"1a000f4240", uint64(1000000)},
		{"1b000000e8d4a51000", uint64(1000000000000)},
		{"1bffffffffffffffff", uint64(math.MaxUint64)},
		{"20", int64(-1)},
		{"3863", int64(-100)},
		{"3b7ffffffffffffffe", int64(math.MinInt64 + 1)},
		{"3b7fffffffffffffff", int64(math.MinInt64)},
		{"40", []byte{}},
		{"4401020304", []byte{1, 2, 3, 4}},
		{"60", ""},
		{"6161", "a"},
		{"62c3bc", "ü"},
		{"80", []any{}},
		{"83010203", []any{uint64(1), uint64(2), uint64(3)}},
		{"8301820203820405", []any{uint64(1), []any{uint64(2), uint64(3)}, []any{uint64(4), uint64(5)}}},
		{"a0", map[any]any{}},
		{"a201020304", map[any]any{uint64(1): uint64(2), uint64(3): uint64(4)}},
		{"a26161016162820203", map[any]any{"a": uint64(1), "b": []any{uint64(2), uint64(3)}}},
		{"a12001", map[any]any{int64(-1): uint64(1)}},
		{"f4", false},
		{"f5", true},
		{"f6", nil},
		{"f7", cbor.Undefined{}},
		{"f0", cbor.Simple(16)},
		{"f8ff", cbor.Simple(255)},
		{"f93c00", 1.0},
		{"f93e00", 1.5},
		{"f97bff", 65504.0},
		{"f90001", 5.960464477539063e-8},
		{"fa47c35000", 100000.0},
		{"fb3ff199999999999a", 1.1},
	}

	for _, test := range tests {
		data, err := hex.DecodeString(test.cborHex)
		if err != nil {
			t.Fatalf("invalid test hex %v: %v", test.cborHex, err)
		}

		value, err := cbor.Decode(data)
		if err != nil {
			t.Fatalf("unexpected error decoding %v: %v", test.cborHex, err)
		}

		if !reflect.DeepEqual(value, test.expected) {
			t.Errorf("decoding %v: expected '%#v' but got '%#v' instead", test.cborHex, test.expected, value)
		}
	}
}

func TestDecodeFirst(t *testing.T) {
	data, _ := hex.DecodeString("81018102")

	value, n, err := cbor.DecodeFirst(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected '%v' bytes read but got '%v' instead", 2, n)
	}
	expected := []any{uint64(1)}
	if !reflect.DeepEqual(value, expected) {
		t.Errorf("expected '%v' but got '%v' instead", expected, value)
	}

	if _, err := cbor.Decode(data); !errors.Is(err, cbor.ErrTrailingData) {
		t.Errorf("expected error '%v' but got '%v' instead", cbor.ErrTrailingData, err)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name        string
		cborHex     string
		expectedErr error
	}{
		{"empty input", "", cbor.ErrUnexpectedEndOfData},
		{"missing 1 byte argument", "18", cbor.ErrUnexpectedEndOfData},
		{"short 2 byte argument", "1901", cbor.ErrUnexpectedEndOfData},
		{"short 4 byte argument", "1a000102", cbor.ErrUnexpectedEndOfData},
		{"short 8 byte argument", "1b00010203040506", cbor.ErrUnexpectedEndOfData},
		{"byte string longer than data", "4501020304", cbor.ErrUnexpectedEndOfData},
		{"text string truncated", "646162", cbor.ErrUnexpectedEndOfData},
		{"huge byte string length", "5bffffffffffffffff00", cbor.ErrUnexpectedEndOfData},
		{"array missing items", "830102", cbor.ErrUnexpectedEndOfData},
		{"huge array count", "9bffffffffffffffff", cbor.ErrUnexpectedEndOfData},
		{"map missing value", "a2010203", cbor.ErrUnexpectedEndOfData},
		{"map with array key", "a1800102", cbor.ErrInvalidKeyType},
		{"map with byte string key", "a1410102", cbor.ErrInvalidKeyType},
		{"map with bool key", "a1f501", cbor.ErrInvalidKeyType},
		{"tag", "c11a514b67b0", cbor.ErrUnsupportedMajorType},
		{"indefinite array", "9f01ff", cbor.ErrInvalidAdditionalInfo},
		{"reserved additional info", "1c", cbor.ErrInvalidAdditionalInfo},
		{"break outside indefinite item", "ff", cbor.ErrInvalidAdditionalInfo},
		{"negative overflow", "3b8000000000000000", cbor.ErrIntegerOverflow},
		{"invalid utf-8", "62c328", cbor.ErrInvalidUTF8},
		{"truncated half float", "f93c", cbor.ErrUnexpectedEndOfData},
		{"truncated double", "fb3ff1999999", cbor.ErrUnexpectedEndOfData},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			data, err := hex.DecodeString(test.cborHex)
			if err != nil {
				t.Fatalf("invalid test hex %v: %v", test.cborHex, err)
			}

			value, err := cbor.Decode(data)
			if !errors.Is(err, test.expectedErr) {
				t.Fatalf("expected error '%v' but got '%v' instead", test.expectedErr, err)
			}
			if value != nil {
				t.Errorf("expected no value on error but got '%v'", value)
			}
		})
	}
}

func TestDecodeMaxNesting(t *testing.T) {
	nested := make([]byte, cbor.MaxNestedLevels+1)
	for i := range nested {
		nested[i] = 0x81
	}
	nested = append(nested, 0x00)

	if _, err := cbor.Decode(nested); !errors.Is(err, cbor.ErrMaxNestingExceeded) {
		t.Fatalf("expected error '%v' but got '%v' instead", cbor.ErrMaxNestingExceeded, err)
	}

	allowed := nested[1:]
	if _, err := cbor.Decode(allowed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeFromEncoder(t *testing.T) {
	type proof struct {
		Amount uint64 `cbor:"a"`
		Secret string `cbor:"s"`
		C      []byte `cbor:"c"`
	}
	type tokenProof struct {
		Id     []byte  `cbor:"i"`
		Proofs []proof `cbor:"p"`
	}
	type token struct {
		TokenProofs []tokenProof `cbor:"t"`
		Memo        string       `cbor:"d,omitempty"`
		MintURL     string       `cbor:"m"`
		Unit        string       `cbor:"u"`
	}

	input := token{
		TokenProofs: []tokenProof{
			{
				Id: []byte{0x00, 0xad, 0x26, 0x8c, 0x4d, 0x1f, 0x58, 0x26},
				Proofs: []proof{
					{Amount: 1, Secret: "secret1", C: []byte{0x02, 0x01}},
					{Amount: 1 << 40, Secret: "secret2", C: []byte{0x03, 0x02}},
				},
			},
		},
		Memo:    "Thank you",
		MintURL: "http://localhost:3338",
		Unit:    "sat",
	}

	data, err := fxcbor.Marshal(input)
	if err != nil {
		t.Fatalf("fxcbor.Marshal: %v", err)
	}

	value, err := cbor.Decode(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[any]any{
		"t": []any{
			map[any]any{
				"i": []byte{0x00, 0xad, 0x26, 0x8c, 0x4d, 0x1f, 0x58, 0x26},
				"p": []any{
					map[any]any{"a": uint64(1), "s": "secret1", "c": []byte{0x02, 0x01}},
					map[any]any{"a": uint64(1 << 40), "s": "secret2", "c": []byte{0x03, 0x02}},
				},
			},
		},
		"d": "Thank you",
		"m": "http://localhost:3338",
		"u": "sat",
	}

	if !reflect.DeepEqual(value, expected) {
		t.Fatalf("expected '%#v'\n\n but got '%#v' instead", expected, value)
	}
}

func TestDecodeFloat16(t *testing.T) {
	tests := []struct {
		bits     uint16
		expected float64
	}{
		{0x0000, 0},
		{0x3c00, 1.0},
		{0xc000, -2.0},
		{0x3555, 0.333251953125},
		{0x0400, 6.103515625e-05},
		{0x03ff, 6.097555160522461e-05},
		{0x7c00, math.Inf(1)},
		{0xfc00, math.Inf(-1)},
	}

	for _, test := range tests {
		value := cbor.DecodeFloat16(test.bits)
		if value != test.expected {
			t.Errorf("%#04x: expected '%v' but got '%v' instead", test.bits, test.expected, value)
		}
	}

	if value := cbor.DecodeFloat16(0x7e00); !math.IsNaN(value) {
		t.Errorf("%#04x: expected NaN but got '%v' instead", 0x7e00, value)
	}

	if value := cbor.DecodeFloat16(0x8000); value != 0 || !math.Signbit(value) {
		t.Errorf("%#04x: expected negative zero but got '%v' instead", 0x8000, value)
	}
}

func TestDecodeFloat16AllBitPatterns(t *testing.T) {
	for i := 0; i <= math.MaxUint16; i++ {
		bits := uint16(i)
		expected := float64(float16.Frombits(bits).Float32())
		value := cbor.DecodeFloat16(bits)

		if math.IsNaN(expected) {
			if !math.IsNaN(value) {
				t.Fatalf("%#04x: expected NaN but got '%v' instead", bits, value)
			}
			continue
		}
		if value != expected || math.Signbit(value) != math.Signbit(expected) {
			t.Fatalf("%#04x: expected '%v' but got '%v' instead", bits, expected, value)
		}
	}
}
