package encoding

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/amqp10/engine/internal/buffer"
)

// UnmarshalField binds a decoded composite element to dst; HandleNull, if
// set, runs instead of leaving dst untouched when the wire value is null
// (used for fields with a non-zero AMQP default).
type UnmarshalField struct {
	Field      interface{}
	HandleNull func() error
}

// Unmarshaler is implemented by any value that knows how to decode itself
// from its own type-specific encoding (constructor byte already consumed
// is NOT assumed; Unmarshal reads the constructor too).
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

// Unmarshal decodes the next AMQP value from r into dst, which must be a
// pointer to a supported type.
func Unmarshal(r *buffer.Buffer, dst interface{}) error {
	if u, ok := dst.(Unmarshaler); ok {
		return u.Unmarshal(r)
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}

	switch d := dst.(type) {
	case *interface{}:
		v, err := unmarshalAny(r, Type(code))
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *bool:
		if Type(code) == TypeCodeBool {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			*d = b != 0
			return nil
		}
		return unmarshalBoolValue(Type(code), d)
	case *uint8:
		return unmarshalUintValue(r, Type(code), 1, func(v uint64) { *d = uint8(v) })
	case *uint16:
		return unmarshalUintValue(r, Type(code), 2, func(v uint64) { *d = uint16(v) })
	case **uint16:
		if Type(code) == TypeCodeNull {
			*d = nil
			return nil
		}
		var v uint16
		if err := unmarshalUintValue(r, Type(code), 2, func(x uint64) { v = uint16(x) }); err != nil {
			return err
		}
		*d = &v
		return nil
	case *uint32:
		return unmarshalUintValue(r, Type(code), 4, func(v uint64) { *d = uint32(v) })
	case **uint8:
		if Type(code) == TypeCodeNull {
			*d = nil
			return nil
		}
		var v uint8
		if err := unmarshalUintValue(r, Type(code), 1, func(x uint64) { v = uint8(x) }); err != nil {
			return err
		}
		*d = &v
		return nil
	case **uint32:
		if Type(code) == TypeCodeNull {
			*d = nil
			return nil
		}
		var v uint32
		if err := unmarshalUintValue(r, Type(code), 4, func(x uint64) { v = uint32(x) }); err != nil {
			return err
		}
		*d = &v
		return nil
	case *uint64:
		return unmarshalUintValue(r, Type(code), 8, func(v uint64) { *d = v })
	case *string:
		s, err := unmarshalStringValue(r, Type(code))
		if err != nil {
			return err
		}
		*d = s
		return nil
	case *Symbol:
		s, err := unmarshalStringValue(r, Type(code))
		if err != nil {
			return err
		}
		*d = Symbol(s)
		return nil
	case *ErrCond:
		s, err := unmarshalStringValue(r, Type(code))
		if err != nil {
			return err
		}
		*d = ErrCond(s)
		return nil
	case *[]byte:
		b, err := unmarshalBinaryValue(r, Type(code))
		if err != nil {
			return err
		}
		*d = b
		return nil
	case *map[string]interface{}:
		m, err := unmarshalMapValue(r, Type(code))
		if err != nil {
			return err
		}
		*d = m
		return nil
	default:
		return fmt.Errorf("encoding: unmarshal not implemented for %T", dst)
	}
}

func unmarshalAny(r *buffer.Buffer, code Type) (interface{}, error) {
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeUint0, TypeCodeUlong0:
		return uint64(0), nil
	case TypeCodeSmallUint, TypeCodeSmallUlong:
		b, err := r.ReadByte()
		return uint64(b), err
	case TypeCodeUint:
		v, err := r.ReadUint32()
		return uint64(v), err
	case TypeCodeUlong:
		return r.ReadUint64()
	case TypeCodeStr8, TypeCodeStr32, TypeCodeSym8, TypeCodeSym32:
		return unmarshalStringValue(r, code)
	default:
		return nil, fmt.Errorf("encoding: unmarshalAny: unsupported type code %#x", byte(code))
	}
}

func unmarshalBoolValue(code Type, dst *bool) error {
	switch code {
	case TypeCodeBoolTrue:
		*dst = true
	case TypeCodeBoolFalse:
		*dst = false
	default:
		return fmt.Errorf("encoding: invalid bool type code %#x", byte(code))
	}
	return nil
}

func unmarshalUintValue(r *buffer.Buffer, code Type, width int, set func(uint64)) error {
	switch code {
	case TypeCodeNull:
		set(0)
		return nil
	case TypeCodeUint0, TypeCodeUlong0:
		set(0)
		return nil
	case TypeCodeSmallUint, TypeCodeSmallUlong, TypeCodeUbyte:
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		set(uint64(b))
		return nil
	case TypeCodeUshort:
		v, err := r.ReadUint16()
		if err != nil {
			return err
		}
		set(uint64(v))
		return nil
	case TypeCodeUint:
		v, err := r.ReadUint32()
		if err != nil {
			return err
		}
		set(uint64(v))
		return nil
	case TypeCodeUlong:
		v, err := r.ReadUint64()
		if err != nil {
			return err
		}
		set(v)
		return nil
	default:
		return fmt.Errorf("encoding: invalid unsigned integer type code %#x", byte(code))
	}
}

func unmarshalStringValue(r *buffer.Buffer, code Type) (string, error) {
	var length int64
	switch code {
	case TypeCodeNull:
		return "", nil
	case TypeCodeStr8, TypeCodeSym8:
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		length = int64(b)
	case TypeCodeStr32, TypeCodeSym32:
		v, err := r.ReadUint32()
		if err != nil {
			return "", err
		}
		length = int64(v)
	default:
		return "", fmt.Errorf("encoding: invalid string type code %#x", byte(code))
	}
	buf, ok := r.Next(length)
	if !ok {
		return "", fmt.Errorf("encoding: truncated string value")
	}
	return string(buf), nil
}

func unmarshalBinaryValue(r *buffer.Buffer, code Type) ([]byte, error) {
	var length int64
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeVbin8:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		length = int64(b)
	case TypeCodeVbin32:
		v, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		length = int64(v)
	default:
		return nil, fmt.Errorf("encoding: invalid binary type code %#x", byte(code))
	}
	buf, ok := r.Next(length)
	if !ok {
		return nil, fmt.Errorf("encoding: truncated binary value")
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func unmarshalMapValue(r *buffer.Buffer, code Type) (map[string]interface{}, error) {
	count, err := readMapHeaderValue(r, code)
	if err != nil {
		return nil, err
	}
	m := make(map[string]interface{}, count/2)
	for i := uint32(0); i < count; i += 2 {
		var key string
		if err := Unmarshal(r, &key); err != nil {
			return nil, err
		}
		var value interface{}
		if err := Unmarshal(r, &value); err != nil {
			return nil, err
		}
		m[key] = value
	}
	return m, nil
}

func readMapHeaderValue(r *buffer.Buffer, code Type) (uint32, error) {
	switch code {
	case TypeCodeNull:
		return 0, nil
	case TypeCodeMap8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, err
		}
		count, err := r.ReadByte()
		return uint32(count), err
	case TypeCodeMap32:
		if _, err := r.ReadUint32(); err != nil { // size
			return 0, err
		}
		return r.ReadUint32()
	default:
		return 0, fmt.Errorf("encoding: invalid map type code %#x", byte(code))
	}
}

// PeekDescriptor reads the "0x00 descriptor" prefix of a described value
// without consuming the value body, returning the descriptor ulong. It
// consumes exactly the constructor byte and the descriptor encoding.
func PeekDescriptor(r *buffer.Buffer) (uint64, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if Type(b) != descriptorConstructor {
		return 0, fmt.Errorf("encoding: expected described-type constructor 0x00, got %#x", b)
	}
	code, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	var descriptor uint64
	if err := unmarshalUintValue(r, Type(code), 8, func(v uint64) { descriptor = v }); err != nil {
		return 0, err
	}
	return descriptor, nil
}

// listHeader reads a list constructor and returns the element count. It
// must be called with the constructor byte already consumed (code).
func listHeader(r *buffer.Buffer, code Type) (count uint32, err error) {
	switch code {
	case TypeCodeList0:
		return 0, nil
	case TypeCodeList8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, err
		}
		c, err := r.ReadByte()
		return uint32(c), err
	case TypeCodeList32:
		if _, err := r.ReadUint32(); err != nil { // size
			return 0, err
		}
		return r.ReadUint32()
	case TypeCodeNull:
		return 0, nil
	default:
		return 0, fmt.Errorf("encoding: invalid list type code %#x", byte(code))
	}
}

// UnmarshalListHeader reads a plain (non-described) list constructor and
// returns its element count, for array-like fields such as SASL-MECHANISMS.
func UnmarshalListHeader(r *buffer.Buffer) (uint32, error) {
	code, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	return listHeader(r, Type(code))
}

// UnmarshalComposite decodes a described list composite whose descriptor
// must equal wantDescriptor, binding successive list elements to fields in
// order. Extra wire fields beyond len(fields) are decoded and discarded;
// only the primitive types unmarshalAny understands can be discarded this
// way, any other type code is an error. Fewer wire fields than len(fields)
// leaves the remaining fields as they were.
func UnmarshalComposite(r *buffer.Buffer, wantDescriptor uint64, fields ...UnmarshalField) error {
	descriptor, err := PeekDescriptor(r)
	if err != nil {
		return err
	}
	if descriptor != wantDescriptor {
		return errors.Errorf("encoding: expected descriptor %#x, got %#x", wantDescriptor, descriptor)
	}

	code, err := r.ReadByte()
	if err != nil {
		return err
	}
	count, err := listHeader(r, Type(code))
	if err != nil {
		return err
	}

	for i := uint32(0); i < count; i++ {
		if int(i) >= len(fields) {
			// Unknown trailing field: decode and discard its value.
			var discard interface{}
			if err := Unmarshal(r, &discard); err != nil {
				return err
			}
			continue
		}
		f := fields[i]
		peek, err := r.Peek()
		if err != nil {
			return err
		}
		if Type(peek) == TypeCodeNull {
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if f.HandleNull != nil {
				if err := f.HandleNull(); err != nil {
					return err
				}
			}
			continue
		}
		if err := Unmarshal(r, f.Field); err != nil {
			return errors.Wrapf(err, "encoding: composite field %d", i)
		}
	}
	return nil
}
