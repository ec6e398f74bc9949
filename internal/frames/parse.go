package frames

import (
	"fmt"

	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/encoding"
)

// ParseAMQPBody decodes exactly one AMQP performative from the head of
// buf and returns it along with the number of bytes it consumed, so the
// caller (the AMQP frame codec, C5) can compute the opaque payload size
// that follows. Only the closed descriptor set 0x10..0x18 is legal; any
// other descriptor is an irrecoverable decode error (spec.md §4.3).
func ParseAMQPBody(buf []byte) (FrameBody, int, error) {
	r := buffer.New(buf)
	before := r.Len()

	descriptor, err := peekDescriptorOnly(r)
	if err != nil {
		return nil, 0, err
	}

	var body FrameBody
	switch encoding.Type(descriptor) {
	case encoding.TypeCodeOpen:
		body = &PerformOpen{}
	case encoding.TypeCodeBegin:
		body = &PerformBegin{}
	case encoding.TypeCodeAttach:
		body = &PerformAttach{}
	case encoding.TypeCodeFlow:
		body = &PerformFlow{}
	case encoding.TypeCodeTransfer:
		body = &PerformTransfer{}
	case encoding.TypeCodeDisposition:
		body = &PerformDisposition{}
	case encoding.TypeCodeDetach:
		body = &PerformDetach{}
	case encoding.TypeCodeEnd:
		body = &PerformEnd{}
	case encoding.TypeCodeClose:
		body = &PerformClose{}
	default:
		return nil, 0, fmt.Errorf("frames: illegal AMQP performative descriptor %#x", descriptor)
	}

	// Re-read from the start: Unmarshal expects to see the descriptor
	// prefix itself.
	r = buffer.New(buf)
	if err := body.Unmarshal(r); err != nil {
		return nil, 0, err
	}
	consumed := before - r.Len()
	return body, consumed, nil
}

// ParseSASLBody decodes exactly one SASL performative (descriptor
// 0x40..0x44) from the head of buf and returns it along with the number
// of bytes it consumed, so the caller (the SASL frame codec, C3) can
// tell a fully-decoded value from trailing garbage bytes within the same
// chunk (spec.md §4.2).
func ParseSASLBody(buf []byte) (FrameBody, int, error) {
	r := buffer.New(buf)
	before := r.Len()
	descriptor, err := peekDescriptorOnly(r)
	if err != nil {
		return nil, 0, err
	}

	var body FrameBody
	switch encoding.Type(descriptor) {
	case encoding.TypeCodeSASLMechanisms:
		body = &SASLMechanisms{}
	case encoding.TypeCodeSASLInit:
		body = &SASLInit{}
	case encoding.TypeCodeSASLChallenge:
		body = &SASLChallenge{}
	case encoding.TypeCodeSASLResponse:
		body = &SASLResponse{}
	case encoding.TypeCodeSASLOutcome:
		body = &SASLOutcome{}
	default:
		return nil, 0, fmt.Errorf("frames: illegal SASL performative descriptor %#x", descriptor)
	}

	r = buffer.New(buf)
	if err := body.Unmarshal(r); err != nil {
		return nil, 0, err
	}
	consumed := before - r.Len()
	return body, consumed, nil
}

func peekDescriptorOnly(r *buffer.Buffer) (uint64, error) {
	return encoding.PeekDescriptor(r)
}
