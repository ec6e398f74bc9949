// Package framecodec implements C2 of the protocol engine (spec.md §4.1):
// it frames and deframes a length-prefixed byte stream into typed frames,
// dispatching each frame's body to whichever subscriber is registered for
// its frame type. Grounded on original_source/src/frame_codec.c's decode
// state machine (FrameSize -> DataOffset -> FrameType -> TypeSpecific ->
// FrameBody) and encode state machine (FrameHeader -> FrameBody).
package framecodec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amqp10/engine/internal/debug"
	"github.com/amqp10/engine/internal/frames"
	"github.com/amqp10/engine/internal/transport"
)

const maxTypeSpecificSize = 255*4 - 6 // original_source/src/frame_codec.c MAX_TYPE_SPECIFIC_SIZE

// BeginFunc is invoked once per frame, before any body bytes, with the
// frame's total body size and its type-specific header bytes.
type BeginFunc func(bodySize uint32, typeSpecific []byte)

// BodyFunc streams body bytes as they arrive; it may be called zero or
// more times per frame and never waits for the full body to arrive.
type BodyFunc func(p []byte)

type subscription struct {
	onBegin BeginFunc
	onBody  BodyFunc
}

type decodeState int

const (
	decodeFrameSize decodeState = iota
	decodeDataOffset
	decodeFrameType
	decodeTypeSpecific
	decodeFrameBody
	decodeError
)

type encodeState int

const (
	encodeHeader encodeState = iota
	encodeBody
	encodeError
)

// Codec is the frame codec (C2).
type Codec struct {
	t       transport.Transport
	onError func()

	subs map[uint8]subscription

	maxFrameSize uint32

	// decode
	dstate       decodeState
	rxHeaderBuf  []byte // accumulates bytes for size/doff/type/channel
	rxSize       uint32
	rxDataOffset uint8
	rxFrameType  uint8
	rxTypeSpecBuf []byte
	rxTypeSpecWant int
	rxBodyWant   uint32
	rxBodyGot    uint32
	rxSub        *subscription

	// encode
	estate          encodeState
	encodeBodyLeft  uint32
}

// New creates a frame codec over t. onError is invoked when the decoder
// first enters its terminal error state and when the encoder first enters
// its own; a codec that fails on both sides invokes it twice.
func New(t transport.Transport, onError func()) (*Codec, error) {
	if t == nil {
		return nil, fmt.Errorf("framecodec: io is nil")
	}
	return &Codec{
		t:            t,
		onError:      onError,
		subs:         make(map[uint8]subscription),
		maxFrameSize: 512,
		dstate:       decodeFrameSize,
		estate:       encodeHeader,
	}, nil
}

// Destroy releases buffered type-specific bytes and all subscriptions.
// Idempotent; safe to call on a nil *Codec.
func (c *Codec) Destroy() {
	if c == nil {
		return
	}
	c.rxTypeSpecBuf = nil
	c.subs = nil
}

// SetMaxFrameSize changes the maximum acceptable/emittable frame size.
func (c *Codec) SetMaxFrameSize(max uint32) error {
	if max < frames.HeaderSize {
		return fmt.Errorf("framecodec: max frame size %d below minimum header size", max)
	}
	if c.dstate == decodeError || c.estate == encodeError {
		return fmt.Errorf("framecodec: codec is in an error state")
	}
	if c.dstate != decodeFrameSize && max < c.rxSize {
		return fmt.Errorf("framecodec: a frame already announcing size %d exceeds new max %d", c.rxSize, max)
	}
	c.maxFrameSize = max
	return nil
}

// Subscribe registers (replacing any existing registration) the
// callbacks invoked for frames of the given type.
func (c *Codec) Subscribe(frameType uint8, onBegin BeginFunc, onBody BodyFunc) error {
	if onBegin == nil || onBody == nil {
		return fmt.Errorf("framecodec: subscribe requires non-nil callbacks")
	}
	c.subs[frameType] = subscription{onBegin: onBegin, onBody: onBody}
	return nil
}

// Unsubscribe removes the registration for frameType. It is an error to
// unsubscribe a type with no active subscription.
func (c *Codec) Unsubscribe(frameType uint8) error {
	if _, ok := c.subs[frameType]; !ok {
		return fmt.Errorf("framecodec: no subscription for frame type %d", frameType)
	}
	delete(c.subs, frameType)
	return nil
}

// ReceiveBytes feeds bytes from the transport into the decoder. Byte-wise
// chunking is transparent: splitting buf across multiple calls produces
// the same callback sequence as one call with the concatenation.
func (c *Codec) ReceiveBytes(buf []byte) error {
	if c.dstate == decodeError {
		return fmt.Errorf("framecodec: decoder is in an error state")
	}
	for len(buf) > 0 {
		switch c.dstate {
		case decodeFrameSize:
			c.rxHeaderBuf = append(c.rxHeaderBuf, buf[0])
			buf = buf[1:]
			if len(c.rxHeaderBuf) == 4 {
				c.rxSize = be32(c.rxHeaderBuf)
				c.rxHeaderBuf = nil
				if c.rxSize < frames.HeaderSize {
					return c.fail("framecodec: frame size %d below minimum header size", c.rxSize)
				}
				if c.rxSize > c.maxFrameSize {
					return c.fail("framecodec: frame size %d exceeds max frame size %d", c.rxSize, c.maxFrameSize)
				}
				c.dstate = decodeDataOffset
			}

		case decodeDataOffset:
			c.rxDataOffset = buf[0]
			buf = buf[1:]
			if c.rxDataOffset < 2 {
				return c.fail("framecodec: data offset %d below minimum of 2", c.rxDataOffset)
			}
			c.dstate = decodeFrameType

		case decodeFrameType:
			c.rxFrameType = buf[0]
			buf = buf[1:]
			if c.rxSize < uint32(c.rxDataOffset)*4 {
				return c.fail("framecodec: frame size %d smaller than data offset*4 (%d)", c.rxSize, uint32(c.rxDataOffset)*4)
			}
			c.rxTypeSpecWant = int(c.rxDataOffset)*4 - 6
			c.rxBodyWant = c.rxSize - uint32(c.rxDataOffset)*4
			c.rxBodyGot = 0
			if sub, ok := c.subs[c.rxFrameType]; ok {
				s := sub
				c.rxSub = &s
			} else {
				c.rxSub = nil
			}
			if c.rxTypeSpecWant > 0 {
				c.dstate = decodeTypeSpecific
			} else {
				c.beginBody(nil)
			}

		case decodeTypeSpecific:
			need := c.rxTypeSpecWant - len(c.rxTypeSpecBuf)
			n := len(buf)
			if n > need {
				n = need
			}
			c.rxTypeSpecBuf = append(c.rxTypeSpecBuf, buf[:n]...)
			buf = buf[n:]
			if len(c.rxTypeSpecBuf) == c.rxTypeSpecWant {
				ts := c.rxTypeSpecBuf
				c.rxTypeSpecBuf = nil
				c.beginBody(ts)
			}

		case decodeFrameBody:
			remaining := c.rxBodyWant - c.rxBodyGot
			n := uint32(len(buf))
			if n > remaining {
				// The rest of buf belongs to the next frame.
				n = remaining
			}
			if n > 0 && c.rxSub != nil {
				c.rxSub.onBody(buf[:n])
			}
			c.rxBodyGot += n
			buf = buf[n:]
			if c.rxBodyGot == c.rxBodyWant {
				c.rxSub = nil
				c.dstate = decodeFrameSize
			}
		}
	}
	return nil
}

func (c *Codec) beginBody(typeSpecific []byte) {
	if c.rxSub != nil {
		c.rxSub.onBegin(c.rxBodyWant, typeSpecific)
	}
	if c.rxBodyWant == 0 {
		c.rxSub = nil
		c.dstate = decodeFrameSize
	} else {
		c.dstate = decodeFrameBody
	}
}

func (c *Codec) fail(format string, args ...interface{}) error {
	c.dstate = decodeError
	err := fmt.Errorf(format, args...)
	debug.Log(context.Background(), slog.LevelError, err.Error())
	if c.onError != nil {
		c.onError()
	}
	return err
}

// BeginEncodeFrame emits the header (and any type-specific bytes,
// zero-padded to the chosen data offset) for a new outgoing frame of
// bodySize total body bytes.
func (c *Codec) BeginEncodeFrame(frameType uint8, bodySize uint32, typeSpecific []byte) error {
	if c.estate == encodeBody {
		return fmt.Errorf("framecodec: previous frame's body is not fully written")
	}
	if c.estate == encodeError {
		return fmt.Errorf("framecodec: encoder is in an error state")
	}
	if len(typeSpecific) > maxTypeSpecificSize {
		return fmt.Errorf("framecodec: type-specific size %d exceeds maximum of %d", len(typeSpecific), maxTypeSpecificSize)
	}

	dataOffset := ceilDiv(len(typeSpecific)+6, 4)
	total := uint32(dataOffset)*4 + bodySize
	if total > c.maxFrameSize {
		return fmt.Errorf("framecodec: frame of %d bytes exceeds max frame size %d", total, c.maxFrameSize)
	}

	hdr := frames.Header{Size: total, DataOffset: uint8(dataOffset), Type: frameType}
	out := make([]byte, 0, dataOffset*4)
	out = append(out, be32bytes(hdr.Size)...)
	out = append(out, hdr.DataOffset, hdr.Type)
	out = append(out, typeSpecific...) // bytes 6.. : channel (AMQP) or zero (SASL), plus any extended header
	for len(out) < dataOffset*4 {
		out = append(out, 0) // zero-filled padding, per spec.md §6.3
	}

	if _, err := c.t.Send(out); err != nil {
		c.estate = encodeError
		if c.onError != nil {
			c.onError()
		}
		return err
	}

	c.encodeBodyLeft = bodySize
	c.estate = encodeBody
	if bodySize == 0 {
		c.estate = encodeHeader
	}
	return nil
}

// EncodeFrameBytes emits body bytes for the frame started by the most
// recent BeginEncodeFrame call.
func (c *Codec) EncodeFrameBytes(p []byte) error {
	if c.estate == encodeError {
		return fmt.Errorf("framecodec: encoder is in an error state")
	}
	if uint32(len(p)) > c.encodeBodyLeft {
		return fmt.Errorf("framecodec: %d bytes exceeds %d remaining body bytes", len(p), c.encodeBodyLeft)
	}
	if len(p) > 0 {
		if _, err := c.t.Send(p); err != nil {
			c.estate = encodeError
			if c.onError != nil {
				c.onError()
			}
			return err
		}
	}
	c.encodeBodyLeft -= uint32(len(p))
	if c.encodeBodyLeft == 0 {
		c.estate = encodeHeader
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func be32bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
