package saslcodec

import (
	"testing"

	"github.com/amqp10/engine/internal/encoding"
	"github.com/amqp10/engine/internal/framecodec"
	"github.com/amqp10/engine/internal/frames"
	"github.com/amqp10/engine/internal/transport"
)

func newCodec(t *testing.T, onFrame OnFrame, onError func()) (*framecodec.Codec, *Codec, *transport.Mock) {
	t.Helper()
	mt := transport.NewMock(nil)
	if err := mt.Open(nil, nil); err != nil {
		t.Fatal(err)
	}
	fc, err := framecodec.New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if onFrame == nil {
		onFrame = func(frames.FrameBody) {}
	}
	sc, err := New(fc, onFrame, onError)
	if err != nil {
		t.Fatal(err)
	}
	return fc, sc, mt
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	_, sc, mt := newCodec(t, nil, nil)

	mechs := &frames.SASLMechanisms{Mechanisms: []encoding.Symbol{"PLAIN", "ANONYMOUS"}}
	if err := sc.EncodeFrame(mechs); err != nil {
		t.Fatal(err)
	}

	var wire []byte
	for _, c := range mt.Sent {
		wire = append(wire, c...)
	}

	var got frames.FrameBody
	fc2, _, _ := newCodec(t, func(b frames.FrameBody) { got = b }, nil)
	if err := fc2.ReceiveBytes(wire); err != nil {
		t.Fatal(err)
	}

	decoded, ok := got.(*frames.SASLMechanisms)
	if !ok {
		t.Fatalf("decoded type = %T, want *frames.SASLMechanisms", got)
	}
	if len(decoded.Mechanisms) != 2 || decoded.Mechanisms[0] != "PLAIN" || decoded.Mechanisms[1] != "ANONYMOUS" {
		t.Fatalf("mechanisms = %v, want [PLAIN ANONYMOUS]", decoded.Mechanisms)
	}
}

func TestEmptySASLFrameIsIrrecoverableError(t *testing.T) {
	var failed bool
	fc, _, _ := newCodec(t, nil, func() { failed = true })

	// size=8 (header only, zero body), data_offset=2, type=1 (SASL).
	// The frame itself is well-formed, so the frame codec accepts it; the
	// SASL codec reports the failure through onError.
	raw := []byte{0, 0, 0, 8, 2, 1, 0, 0}
	if err := fc.ReceiveBytes(raw); err != nil {
		t.Fatalf("frame codec rejected a well-formed frame: %v", err)
	}
	if !failed {
		t.Fatal("expected onError to fire for empty SASL frame")
	}
}

func TestSASLFrameExceedingMinMaxFrameSizeFails(t *testing.T) {
	var failed bool
	fc, _, _ := newCodec(t, nil, func() { failed = true })
	if err := fc.SetMaxFrameSize(4096); err != nil {
		t.Fatal(err)
	}

	bodySize := uint32(600) // exceeds MinMaxFrameSize (512)
	total := bodySize + 8
	header := []byte{
		byte(total >> 24), byte(total >> 16), byte(total >> 8), byte(total),
		2, 1, 0, 0,
	}
	if err := fc.ReceiveBytes(header); err != nil {
		t.Fatalf("frame codec rejected a header within its own max frame size: %v", err)
	}
	if !failed {
		t.Fatal("expected onError to fire")
	}
}

func TestBytesAfterDecodedValueAreIrrecoverableError(t *testing.T) {
	var failed bool
	fc, _, _ := newCodec(t, nil, func() { failed = true })

	outcome := &frames.SASLOutcome{Code: frames.SASLCodeOK}
	// Build a frame whose declared body is larger than the encoded value,
	// so trailing garbage bytes arrive after the value is fully decoded.
	mt2 := transport.NewMock(nil)
	_ = mt2.Open(nil, nil)
	fc2, _ := framecodec.New(mt2, nil)
	sc2, _ := New(fc2, func(frames.FrameBody) {}, nil)
	if err := sc2.EncodeFrame(outcome); err != nil {
		t.Fatal(err)
	}
	var wire []byte
	for _, c := range mt2.Sent {
		wire = append(wire, c...)
	}
	// Append 3 extra body bytes and bump the declared size accordingly.
	extra := []byte{0xAA, 0xBB, 0xCC}
	newTotal := uint32(len(wire)) + uint32(len(extra))
	wire[0] = byte(newTotal >> 24)
	wire[1] = byte(newTotal >> 16)
	wire[2] = byte(newTotal >> 8)
	wire[3] = byte(newTotal)
	wire = append(wire, extra...)

	if err := fc.ReceiveBytes(wire); err != nil {
		t.Fatalf("frame codec rejected a well-formed frame: %v", err)
	}
	if !failed {
		t.Fatal("expected onError to fire")
	}
}

func TestIllegalDescriptorIsIrrecoverableError(t *testing.T) {
	var failed bool
	fc, _, _ := newCodec(t, nil, func() { failed = true })

	// A described-type prefix whose descriptor (0x99) is outside the
	// closed SASL-MECHANISMS..SASL-OUTCOME set: 0x00 (descriptor
	// constructor), 0x52 (smalluint type code), 0x99 (the descriptor
	// value itself).
	body := []byte{0x00, 0x52, 0x99}
	total := uint32(len(body)) + 8
	raw := []byte{
		byte(total >> 24), byte(total >> 16), byte(total >> 8), byte(total),
		2, 1, 0, 0,
	}
	raw = append(raw, body...)

	if err := fc.ReceiveBytes(raw); err != nil {
		t.Fatalf("frame codec rejected a well-formed frame: %v", err)
	}
	if !failed {
		t.Fatal("expected onError to fire once the full body confirms the descriptor is illegal")
	}
}

func TestIncompleteValueAcrossChunksIsNotTreatedAsError(t *testing.T) {
	var failed bool
	var got frames.FrameBody
	fc, _, _ := newCodec(t, func(b frames.FrameBody) { got = b }, func() { failed = true })

	mt2 := transport.NewMock(nil)
	_ = mt2.Open(nil, nil)
	fc2, _ := framecodec.New(mt2, nil)
	sc2, _ := New(fc2, func(frames.FrameBody) {}, nil)
	outcome := &frames.SASLOutcome{Code: frames.SASLCodeOK}
	if err := sc2.EncodeFrame(outcome); err != nil {
		t.Fatal(err)
	}
	var wire []byte
	for _, c := range mt2.Sent {
		wire = append(wire, c...)
	}

	// Feed the well-formed frame one byte at a time: every prefix short
	// of the full body is incomplete, not invalid, so onError must not
	// fire until (never, in this case) the full body fails to parse.
	for i := range wire {
		if err := fc.ReceiveBytes(wire[i : i+1]); err != nil {
			t.Fatalf("unexpected error feeding byte %d: %v", i, err)
		}
	}
	if failed {
		t.Fatal("onError fired despite a well-formed value arriving in single-byte chunks")
	}
	if _, ok := got.(*frames.SASLOutcome); !ok {
		t.Fatalf("decoded type = %T, want *frames.SASLOutcome", got)
	}
}

func TestEncodeFrameRejectsOversizedBody(t *testing.T) {
	_, sc, _ := newCodec(t, nil, nil)
	big := &frames.SASLInit{Mechanism: "PLAIN", InitialResponse: make([]byte, 600)}
	if err := sc.EncodeFrame(big); err == nil {
		t.Fatal("expected error encoding a SASL body exceeding MIN-MAX-FRAME-SIZE")
	}
}

func TestNewRejectsNilDependencies(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := framecodec.New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(nil, func(frames.FrameBody) {}, nil); err == nil {
		t.Fatal("expected error for nil frame codec")
	}
	if _, err := New(fc, nil, nil); err == nil {
		t.Fatal("expected error for nil onFrame callback")
	}
}
