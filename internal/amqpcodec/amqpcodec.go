// Package amqpcodec implements C5 of the protocol engine (spec.md §4.3):
// it subscribes to frame type 0 (AMQP) on a framecodec.Codec, decodes the
// performative at the head of each frame body and exposes any remaining
// bytes as opaque payload to a per-channel subscriber. Grounded on
// original_source/inc/amqp_frame_codec.h.
package amqpcodec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/debug"
	"github.com/amqp10/engine/internal/framecodec"
	"github.com/amqp10/engine/internal/frames"
)

// OnFrame is invoked once per decoded AMQP frame, even when payload is
// empty: the decoder always reports a performative.
type OnFrame func(channel uint16, body frames.FrameBody, payload []byte)

// Codec is the AMQP frame codec (C5). Unlike the SASL codec, a single
// AMQP codec multiplexes every channel; the connection is the one
// subscriber and routes by channel to per-endpoint consumers itself.
type Codec struct {
	fc      *framecodec.Codec
	onFrame OnFrame
	onError func()

	rxChannel  uint16
	rxBody     []byte
	rxBodyWant uint32
	rxActive   bool
	err        bool
}

// New creates an AMQP frame codec layered on fc.
func New(fc *framecodec.Codec, onFrame OnFrame, onError func()) (*Codec, error) {
	if fc == nil || onFrame == nil {
		return nil, fmt.Errorf("amqpcodec: frame codec and onFrame callback are required")
	}
	c := &Codec{fc: fc, onFrame: onFrame, onError: onError}
	if err := fc.Subscribe(frames.TypeAMQP, c.onBegin, c.onBody); err != nil {
		return nil, err
	}
	return c, nil
}

// Destroy unsubscribes from the underlying frame codec.
func (c *Codec) Destroy() {
	if c == nil || c.fc == nil {
		return
	}
	_ = c.fc.Unsubscribe(frames.TypeAMQP)
}

func (c *Codec) onBegin(bodySize uint32, typeSpecific []byte) {
	if c.err {
		return
	}
	if c.rxActive {
		c.fail("amqpcodec: a new frame began before the previous body finished")
		return
	}
	var channel uint16
	if len(typeSpecific) >= 2 {
		channel = uint16(typeSpecific[0])<<8 | uint16(typeSpecific[1])
	}
	c.rxChannel = channel
	c.rxBodyWant = bodySize
	c.rxBody = make([]byte, 0, bodySize)
	c.rxActive = true

	if bodySize == 0 {
		c.fail("amqpcodec: AMQP frame with empty body carries no performative")
		return
	}
}

func (c *Codec) onBody(p []byte) {
	if c.err || !c.rxActive {
		return
	}
	c.rxBody = append(c.rxBody, p...)
	if uint32(len(c.rxBody)) < c.rxBodyWant {
		return
	}

	body, consumed, err := frames.ParseAMQPBody(c.rxBody)
	if err != nil {
		c.fail("amqpcodec: %v", err)
		return
	}
	payload := c.rxBody[consumed:]
	c.rxActive = false
	c.onFrame(c.rxChannel, body, payload)
}

func (c *Codec) fail(format string, args ...interface{}) {
	c.err = true
	debug.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
	if c.onError != nil {
		c.onError()
	}
}

// EncodeFrame encodes body on channel, followed by the payload chunks.
func (c *Codec) EncodeFrame(channel uint16, body frames.FrameBody, payloads [][]byte) error {
	perfBuf := &buffer.Buffer{}
	if err := body.Marshal(perfBuf); err != nil {
		return err
	}
	perf := perfBuf.Detach()

	var total int
	for _, p := range payloads {
		total += len(p)
	}

	typeSpecific := []byte{byte(channel >> 8), byte(channel)}
	if err := c.fc.BeginEncodeFrame(frames.TypeAMQP, uint32(len(perf)+total), typeSpecific); err != nil {
		return err
	}
	if err := c.fc.EncodeFrameBytes(perf); err != nil {
		return err
	}
	for _, p := range payloads {
		if err := c.fc.EncodeFrameBytes(p); err != nil {
			return err
		}
	}
	return nil
}
