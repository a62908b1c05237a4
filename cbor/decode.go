// Package cbor implements a small recursive-descent decoder for the subset
// of CBOR (RFC 8949) used by cashu V4 tokens.
//
// Decoded values are returned as a dynamically typed tree:
//
//	major 0  uint64
//	major 1  int64
//	major 2  []byte
//	major 3  string
//	major 4  []any
//	major 5  map[any]any (keys are uint64, int64, float64 or string)
//	major 7  bool, nil, Undefined, Simple or float64
//
// Integers are decoded exactly. A negative integer whose argument does not
// fit in an int64 (below math.MinInt64) cannot be represented and fails with
// ErrIntegerOverflow. Tags (major 6) and indefinite-length items are not
// supported.
package cbor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7
)

// MaxNestedLevels is the maximum depth of nested arrays and maps.
const MaxNestedLevels = 64

var (
	ErrUnexpectedEndOfData   = errors.New("unexpected end of data")
	ErrInvalidKeyType        = errors.New("invalid map key type")
	ErrUnsupportedMajorType  = errors.New("unsupported major type")
	ErrInvalidAdditionalInfo = errors.New("invalid additional info")
	ErrInvalidUTF8           = errors.New("invalid utf-8 in text string")
	ErrIntegerOverflow       = errors.New("negative integer overflows int64")
	ErrMaxNestingExceeded    = errors.New("max nested levels exceeded")
	ErrTrailingData          = errors.New("trailing data after item")
)

// Undefined is the CBOR undefined simple value (0xf7).
type Undefined struct{}

// Simple is an unassigned CBOR simple value.
type Simple uint8

// Decode decodes data, which must hold exactly one CBOR item.
func Decode(data []byte) (any, error) {
	value, n, err := DecodeFirst(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d bytes left at offset %d", ErrTrailingData, len(data)-n, n)
	}
	return value, nil
}

// DecodeFirst decodes the first CBOR item in data and returns it along
// with the number of bytes read.
func DecodeFirst(data []byte) (any, int, error) {
	d := decoder{data: data}
	return d.decodeItem(0, 0)
}

// decoder holds the input buffer only. The cursor is passed in and returned
// by every method so each call is a pure function of (data, offset).
type decoder struct {
	data []byte
}

func (d decoder) decodeItem(offset, depth int) (any, int, error) {
	if offset >= len(d.data) {
		return nil, offset, fmt.Errorf("%w: reading initial byte at offset %d", ErrUnexpectedEndOfData, offset)
	}
	initial := d.data[offset]
	major := initial >> 5
	info := initial & 0x1f

	switch major {
	case majorUnsigned:
		arg, next, err := d.readArgument(info, offset+1)
		if err != nil {
			return nil, next, err
		}
		return arg, next, nil

	case majorNegative:
		arg, next, err := d.readArgument(info, offset+1)
		if err != nil {
			return nil, next, err
		}
		if arg > math.MaxInt64 {
			return nil, next, fmt.Errorf("%w: argument %d at offset %d", ErrIntegerOverflow, arg, offset)
		}
		return -1 - int64(arg), next, nil

	case majorBytes, majorText:
		length, next, err := d.readArgument(info, offset+1)
		if err != nil {
			return nil, next, err
		}
		if length > uint64(len(d.data)-next) {
			return nil, next, fmt.Errorf("%w: string of length %d at offset %d", ErrUnexpectedEndOfData, length, offset)
		}
		end := next + int(length)
		if major == majorBytes {
			b := make([]byte, length)
			copy(b, d.data[next:end])
			return b, end, nil
		}
		raw := d.data[next:end]
		if !utf8.Valid(raw) {
			return nil, end, fmt.Errorf("%w at offset %d", ErrInvalidUTF8, offset)
		}
		return string(raw), end, nil

	case majorArray:
		if depth >= MaxNestedLevels {
			return nil, offset, fmt.Errorf("%w at offset %d", ErrMaxNestingExceeded, offset)
		}
		count, next, err := d.readArgument(info, offset+1)
		if err != nil {
			return nil, next, err
		}
		// every item takes at least one byte
		if count > uint64(len(d.data)-next) {
			return nil, next, fmt.Errorf("%w: array of %d items at offset %d", ErrUnexpectedEndOfData, count, offset)
		}
		items := make([]any, count)
		for i := range items {
			items[i], next, err = d.decodeItem(next, depth+1)
			if err != nil {
				return nil, next, err
			}
		}
		return items, next, nil

	case majorMap:
		if depth >= MaxNestedLevels {
			return nil, offset, fmt.Errorf("%w at offset %d", ErrMaxNestingExceeded, offset)
		}
		count, next, err := d.readArgument(info, offset+1)
		if err != nil {
			return nil, next, err
		}
		if count > uint64(len(d.data)-next)/2 {
			return nil, next, fmt.Errorf("%w: map of %d pairs at offset %d", ErrUnexpectedEndOfData, count, offset)
		}
		m := make(map[any]any, count)
		for i := uint64(0); i < count; i++ {
			keyOffset := next
			var key, value any
			key, next, err = d.decodeItem(next, depth+1)
			if err != nil {
				return nil, next, err
			}
			switch key.(type) {
			case uint64, int64, float64, string:
			default:
				return nil, next, fmt.Errorf("%w: %T at offset %d", ErrInvalidKeyType, key, keyOffset)
			}
			value, next, err = d.decodeItem(next, depth+1)
			if err != nil {
				return nil, next, err
			}
			m[key] = value
		}
		return m, next, nil

	case majorSimple:
		return d.decodeSimple(info, offset+1)

	default:
		return nil, offset, fmt.Errorf("%w: %d at offset %d", ErrUnsupportedMajorType, major, offset)
	}
}

// readArgument reads the argument encoded by the additional info of an
// initial byte. offset points to the first byte after the initial byte.
func (d decoder) readArgument(info byte, offset int) (uint64, int, error) {
	switch {
	case info < 24:
		return uint64(info), offset, nil
	case info == 24:
		b, next, err := d.take(offset, 1)
		if err != nil {
			return 0, next, err
		}
		return uint64(b[0]), next, nil
	case info == 25:
		b, next, err := d.take(offset, 2)
		if err != nil {
			return 0, next, err
		}
		return uint64(binary.BigEndian.Uint16(b)), next, nil
	case info == 26:
		b, next, err := d.take(offset, 4)
		if err != nil {
			return 0, next, err
		}
		return uint64(binary.BigEndian.Uint32(b)), next, nil
	case info == 27:
		b, next, err := d.take(offset, 8)
		if err != nil {
			return 0, next, err
		}
		hi := uint64(binary.BigEndian.Uint32(b[:4]))
		lo := uint64(binary.BigEndian.Uint32(b[4:]))
		return hi<<32 | lo, next, nil
	default:
		return 0, offset, fmt.Errorf("%w: %d at offset %d", ErrInvalidAdditionalInfo, info, offset-1)
	}
}

func (d decoder) decodeSimple(info byte, offset int) (any, int, error) {
	switch info {
	case 20:
		return false, offset, nil
	case 21:
		return true, offset, nil
	case 22:
		return nil, offset, nil
	case 23:
		return Undefined{}, offset, nil
	case 24:
		b, next, err := d.take(offset, 1)
		if err != nil {
			return nil, next, err
		}
		return Simple(b[0]), next, nil
	case 25:
		b, next, err := d.take(offset, 2)
		if err != nil {
			return nil, next, err
		}
		return DecodeFloat16(binary.BigEndian.Uint16(b)), next, nil
	case 26:
		b, next, err := d.take(offset, 4)
		if err != nil {
			return nil, next, err
		}
		return float64(math.Float32frombits(binary.BigEndian.Uint32(b))), next, nil
	case 27:
		b, next, err := d.take(offset, 8)
		if err != nil {
			return nil, next, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), next, nil
	default:
		if info < 20 {
			return Simple(info), offset, nil
		}
		return nil, offset, fmt.Errorf("%w: %d for simple value at offset %d", ErrInvalidAdditionalInfo, info, offset-1)
	}
}

func (d decoder) take(offset, n int) ([]byte, int, error) {
	if n > len(d.data)-offset {
		return nil, offset, fmt.Errorf("%w: need %d bytes at offset %d, have %d",
			ErrUnexpectedEndOfData, n, offset, len(d.data)-offset)
	}
	return d.data[offset : offset+n], offset + n, nil
}
