package encoding

import (
	"fmt"
	"math"

	"github.com/amqp10/engine/internal/buffer"
)

// Marshaler is implemented by any value that knows how to encode itself.
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Field pairs a value with an omit predicate, mirroring the
// optional-trailing-fields encoding AMQP 1.0 composites use: a composite's
// encoded list is truncated at the last non-omitted field.
type Field struct {
	Value interface{}
	Omit  bool
}

// Marshal encodes v's AMQP wire representation into wr.
func Marshal(wr *buffer.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
		return nil
	case Marshaler:
		return t.Marshal(wr)
	case bool:
		return marshalBool(wr, t)
	case *bool:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return marshalBool(wr, *t)
	case uint8:
		wr.AppendByte(byte(TypeCodeUbyte))
		wr.AppendByte(t)
		return nil
	case *uint8:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return Marshal(wr, *t)
	case uint16:
		wr.AppendByte(byte(TypeCodeUshort))
		wr.AppendUint16(t)
		return nil
	case *uint16:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return Marshal(wr, *t)
	case uint32:
		return marshalUint32(wr, t)
	case *uint32:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return marshalUint32(wr, *t)
	case uint64:
		return marshalUint64(wr, t)
	case *uint64:
		if t == nil {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return marshalUint64(wr, *t)
	case string:
		return marshalString(wr, t)
	case *string:
		if t == nil || *t == "" {
			wr.AppendByte(byte(TypeCodeNull))
			return nil
		}
		return marshalString(wr, *t)
	case Symbol:
		return marshalSymbol(wr, t)
	case []byte:
		return marshalBinary(wr, t)
	case ErrCond:
		return marshalSymbol(wr, Symbol(t))
	case map[string]interface{}:
		return marshalMap(wr, t)
	case DescribedType:
		return marshalDescribed(wr, t.Descriptor, t.Value)
	default:
		return fmt.Errorf("encoding: marshal not implemented for %T", v)
	}
}

func marshalBool(wr *buffer.Buffer, v bool) error {
	if v {
		wr.AppendByte(byte(TypeCodeBoolTrue))
	} else {
		wr.AppendByte(byte(TypeCodeBoolFalse))
	}
	return nil
}

func marshalUint32(wr *buffer.Buffer, v uint32) error {
	switch {
	case v == 0:
		wr.AppendByte(byte(TypeCodeUint0))
	case v <= math.MaxUint8:
		wr.AppendByte(byte(TypeCodeSmallUint))
		wr.AppendByte(byte(v))
	default:
		wr.AppendByte(byte(TypeCodeUint))
		wr.AppendUint32(v)
	}
	return nil
}

func marshalUint64(wr *buffer.Buffer, v uint64) error {
	switch {
	case v == 0:
		wr.AppendByte(byte(TypeCodeUlong0))
	case v <= math.MaxUint8:
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(v))
	default:
		wr.AppendByte(byte(TypeCodeUlong))
		wr.AppendUint64(v)
	}
	return nil
}

func marshalBinary(wr *buffer.Buffer, v []byte) error {
	if len(v) < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeVbin8))
		wr.AppendByte(byte(len(v)))
	} else {
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(len(v)))
	}
	wr.Append(v)
	return nil
}

func marshalString(wr *buffer.Buffer, v string) error {
	l := len(v)
	if l < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeStr8))
		wr.AppendByte(byte(l))
	} else {
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(l))
	}
	wr.AppendString(v)
	return nil
}

func marshalSymbol(wr *buffer.Buffer, v Symbol) error {
	l := len(v)
	if l < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeSym8))
		wr.AppendByte(byte(l))
	} else {
		wr.AppendByte(byte(TypeCodeSym32))
		wr.AppendUint32(uint32(l))
	}
	wr.AppendString(string(v))
	return nil
}

func marshalMap(wr *buffer.Buffer, m map[string]interface{}) error {
	inner := &buffer.Buffer{}
	for k, v := range m {
		if err := marshalString(inner, k); err != nil {
			return err
		}
		if err := Marshal(inner, v); err != nil {
			return err
		}
	}
	count := uint32(len(m)) * 2
	body := inner.Detach()
	if len(body) < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeMap8))
		wr.AppendByte(byte(len(body) + 1))
		wr.AppendByte(byte(count))
	} else {
		wr.AppendByte(byte(TypeCodeMap32))
		wr.AppendUint32(uint32(len(body) + 4))
		wr.AppendUint32(count)
	}
	wr.Append(body)
	return nil
}

// marshalDescribed writes "0x00 descriptor value".
func marshalDescribed(wr *buffer.Buffer, descriptor uint64, value interface{}) error {
	wr.AppendByte(byte(descriptorConstructor))
	if err := marshalUint64(wr, descriptor); err != nil {
		return err
	}
	return Marshal(wr, value)
}

// MarshalComposite encodes a described list composite: the descriptor,
// then a list whose elements are fields in order, trimmed after the last
// non-omitted field (trailing nulls are never written; an omitted field
// before that point is written as null), matching how the teacher's
// composite fields collapse optional trailing AMQP fields.
func MarshalComposite(wr *buffer.Buffer, descriptor uint64, fields []Field) error {
	last := -1
	for i, f := range fields {
		if !f.Omit {
			last = i
		}
	}

	wr.AppendByte(byte(descriptorConstructor))
	if err := marshalUint64(wr, descriptor); err != nil {
		return err
	}

	if last == -1 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}

	inner := &buffer.Buffer{}
	for i := 0; i <= last; i++ {
		f := fields[i]
		if f.Omit {
			inner.AppendByte(byte(TypeCodeNull))
			continue
		}
		if err := Marshal(inner, f.Value); err != nil {
			return err
		}
	}
	body := inner.Detach()
	count := last + 1

	if len(body) < math.MaxUint8 && count < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeList8))
		wr.AppendByte(byte(len(body) + 1))
		wr.AppendByte(byte(count))
	} else {
		wr.AppendByte(byte(TypeCodeList32))
		wr.AppendUint32(uint32(len(body) + 4))
		wr.AppendUint32(uint32(count))
	}
	wr.Append(body)
	return nil
}

// MarshalList encodes fields as a plain AMQP list (no descriptor), used
// for array-like fields such as SASL-MECHANISMS' mechanism list.
func MarshalList(wr *buffer.Buffer, fields []Field) error {
	last := -1
	for i, f := range fields {
		if !f.Omit {
			last = i
		}
	}
	if last == -1 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}
	inner := &buffer.Buffer{}
	for i := 0; i <= last; i++ {
		f := fields[i]
		if f.Omit {
			inner.AppendByte(byte(TypeCodeNull))
			continue
		}
		if err := Marshal(inner, f.Value); err != nil {
			return err
		}
	}
	body := inner.Detach()
	count := last + 1
	if len(body) < math.MaxUint8 && count < math.MaxUint8 {
		wr.AppendByte(byte(TypeCodeList8))
		wr.AppendByte(byte(len(body) + 1))
		wr.AppendByte(byte(count))
	} else {
		wr.AppendByte(byte(TypeCodeList32))
		wr.AppendUint32(uint32(len(body) + 4))
		wr.AppendUint32(uint32(count))
	}
	wr.Append(body)
	return nil
}

// WriteDescriptor writes just the "0x00 descriptor" prefix, used when the
// caller streams the value body itself (e.g. application data payloads).
func WriteDescriptor(wr *buffer.Buffer, descriptor uint64) {
	wr.AppendByte(byte(descriptorConstructor))
	_ = marshalUint64(wr, descriptor)
}
