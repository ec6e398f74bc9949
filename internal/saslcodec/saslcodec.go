// Package saslcodec implements C3 of the protocol engine (spec.md §4.2):
// it subscribes to frame type 1 (SASL) on a framecodec.Codec, decodes
// exactly one described SASL value per frame body, and encodes outgoing
// SASL performatives as SASL frames. Grounded on
// original_source/inc/sasl_frame_codec.h.
package saslcodec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/debug"
	"github.com/amqp10/engine/internal/framecodec"
	"github.com/amqp10/engine/internal/frames"
)

// MinMaxFrameSize is the minimum frame size any AMQP peer must accept
// (spec.md glossary: MIN-MAX-FRAME-SIZE), and the hard cap on SASL frames.
const MinMaxFrameSize = 512

// OnFrame is invoked once per decoded SASL performative.
type OnFrame func(body frames.FrameBody)

// Codec is the SASL frame codec (C3).
type Codec struct {
	fc      *framecodec.Codec
	onFrame OnFrame
	onError func()

	body     []byte
	bodyWant uint32
	begun    bool
	done     bool // value fully decoded; further bytes before body end are an error
	err      bool
}

// New creates a SASL frame codec layered on fc.
func New(fc *framecodec.Codec, onFrame OnFrame, onError func()) (*Codec, error) {
	if fc == nil || onFrame == nil {
		return nil, fmt.Errorf("saslcodec: frame codec and onFrame callback are required")
	}
	c := &Codec{fc: fc, onFrame: onFrame, onError: onError}
	if err := fc.Subscribe(frames.TypeSASL, c.onBegin, c.onBody); err != nil {
		return nil, err
	}
	return c, nil
}

// Destroy unsubscribes from the underlying frame codec.
func (c *Codec) Destroy() {
	if c == nil || c.fc == nil {
		return
	}
	_ = c.fc.Unsubscribe(frames.TypeSASL)
}

func (c *Codec) onBegin(bodySize uint32, _ []byte) {
	if c.err {
		return
	}
	if bodySize == 0 {
		c.fail("saslcodec: empty SASL frame")
		return
	}
	if bodySize > MinMaxFrameSize-frames.HeaderSize {
		c.fail("saslcodec: SASL frame body of %d bytes exceeds MIN-MAX-FRAME-SIZE", bodySize)
		return
	}
	c.body = make([]byte, 0, bodySize)
	c.bodyWant = bodySize
	c.begun = true
	c.done = false
}

func (c *Codec) onBody(p []byte) {
	if c.err || !c.begun {
		return
	}
	if c.done {
		c.fail("saslcodec: bytes received after the SASL value was fully decoded")
		return
	}
	c.body = append(c.body, p...)
	if uint32(len(c.body)) < c.bodyWant {
		// The frame body hasn't fully arrived yet; wait for the rest
		// before attempting a decode, so an incomplete value mid-stream
		// is never mistaken for an invalid one.
		return
	}

	// The full declared body has now arrived: the SASL frame body must
	// hold exactly one described value (spec.md §4.2), so decode it
	// definitively. Any parse error, or any bytes left over after the
	// value, is an irrecoverable decode error.
	body, consumed, err := frames.ParseSASLBody(c.body)
	if err != nil {
		c.fail("saslcodec: invalid SASL performative: %s", err)
		return
	}
	if consumed != len(c.body) {
		c.fail("saslcodec: %d bytes trailing the decoded SASL value", len(c.body)-consumed)
		return
	}
	c.done = true
	c.begun = false
	c.onFrame(body)
}

func (c *Codec) fail(format string, args ...interface{}) {
	c.err = true
	debug.Log(context.Background(), slog.LevelError, fmt.Sprintf(format, args...))
	if c.onError != nil {
		c.onError()
	}
}

// EncodeFrame encodes body as a SASL frame.
func (c *Codec) EncodeFrame(body frames.FrameBody) error {
	wr := &buffer.Buffer{}
	if err := body.Marshal(wr); err != nil {
		return err
	}
	encoded := wr.Detach()
	if len(encoded) > MinMaxFrameSize-frames.HeaderSize {
		return fmt.Errorf("saslcodec: encoded SASL frame body of %d bytes exceeds %d", len(encoded), MinMaxFrameSize-frames.HeaderSize)
	}
	if err := c.fc.BeginEncodeFrame(frames.TypeSASL, uint32(len(encoded)), nil); err != nil {
		return err
	}
	return c.fc.EncodeFrameBytes(encoded)
}
