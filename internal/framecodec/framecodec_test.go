package framecodec

import (
	"testing"

	"github.com/amqp10/engine/internal/transport"
)

func rawAMQPFrame(channel uint16, body []byte) []byte {
	ts := []byte{byte(channel >> 8), byte(channel)}
	total := 8 + len(body)
	out := []byte{
		byte(total >> 24), byte(total >> 16), byte(total >> 8), byte(total),
		2, 0,
	}
	out = append(out, ts...)
	out = append(out, body...)
	return out
}

func TestReceiveBytesChunkingIsTransparent(t *testing.T) {
	body := []byte("hello world")
	raw := rawAMQPFrame(3, body)

	run := func(splits []int) []byte {
		mt := transport.NewMock(nil)
		if err := mt.Open(nil, nil); err != nil {
			t.Fatal(err)
		}
		fc, err := New(mt, nil)
		if err != nil {
			t.Fatal(err)
		}
		var got []byte
		var gotCh []byte
		if err := fc.Subscribe(0, func(bodySize uint32, typeSpecific []byte) {
			gotCh = append([]byte(nil), typeSpecific...)
			_ = bodySize
		}, func(p []byte) {
			got = append(got, p...)
		}); err != nil {
			t.Fatal(err)
		}

		start := 0
		for _, n := range splits {
			if err := fc.ReceiveBytes(raw[start : start+n]); err != nil {
				t.Fatal(err)
			}
			start += n
		}
		if start != len(raw) {
			t.Fatalf("splits summed to %d, want %d", start, len(raw))
		}
		if string(gotCh) != "\x00\x03" {
			t.Fatalf("type-specific = %x, want channel 3", gotCh)
		}
		return got
	}

	whole := run([]int{len(raw)})
	bytewise := make([]int, len(raw))
	for i := range bytewise {
		bytewise[i] = 1
	}
	oneAtATime := run(bytewise)
	arbitrary := run([]int{1, 5, 2, len(raw) - 8})

	if string(whole) != string(body) || string(oneAtATime) != string(body) || string(arbitrary) != string(body) {
		t.Fatalf("chunking produced divergent bodies: whole=%q byte=%q arbitrary=%q", whole, oneAtATime, arbitrary)
	}
}

func TestEncodeDecodeRoundTripPreservesTypeAndBody(t *testing.T) {
	mt := transport.NewMock(nil)
	if err := mt.Open(nil, nil); err != nil {
		t.Fatal(err)
	}
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}

	body := []byte("payload-bytes")
	channel := []byte{0x01, 0x02}
	if err := fc.BeginEncodeFrame(0, uint32(len(body)), channel); err != nil {
		t.Fatal(err)
	}
	if err := fc.EncodeFrameBytes(body); err != nil {
		t.Fatal(err)
	}

	var wire []byte
	for _, c := range mt.Sent {
		wire = append(wire, c...)
	}

	mt2 := transport.NewMock(nil)
	if err := mt2.Open(nil, nil); err != nil {
		t.Fatal(err)
	}
	fc2, err := New(mt2, nil)
	if err != nil {
		t.Fatal(err)
	}
	var gotType uint8
	var gotTS []byte
	var gotBody []byte
	if err := fc2.Subscribe(0, func(bodySize uint32, ts []byte) {
		gotType = 0
		gotTS = append([]byte(nil), ts...)
	}, func(p []byte) {
		gotBody = append(gotBody, p...)
	}); err != nil {
		t.Fatal(err)
	}
	if err := fc2.ReceiveBytes(wire); err != nil {
		t.Fatal(err)
	}

	if gotType != 0 {
		t.Fatalf("type = %d, want 0", gotType)
	}
	if string(gotTS) != string(channel) {
		t.Fatalf("type-specific = %x, want %x", gotTS, channel)
	}
	if string(gotBody) != string(body) {
		t.Fatalf("body = %q, want %q", gotBody, body)
	}
}

func TestSetMaxFrameSizeRejectsBelowHeaderMinimum(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.SetMaxFrameSize(7); err == nil {
		t.Fatal("expected error setting max frame size below 8")
	}
}

func TestSetMaxFrameSizeRejectsWhilePartialFrameExceedsIt(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.SetMaxFrameSize(2048); err != nil {
		t.Fatal(err)
	}
	if err := fc.Subscribe(0, func(uint32, []byte) {}, func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	// Announce a 1024-byte frame (legal under the current 2048 max), then
	// try to shrink max below it mid-decode.
	if err := fc.ReceiveBytes([]byte{0, 0, 4, 0}); err != nil {
		t.Fatal(err)
	}
	if err := fc.SetMaxFrameSize(512); err == nil {
		t.Fatal("expected rejection: partially-decoded frame exceeds proposed max")
	}
}

func TestOversizedFrameEntersDecodeErrorAndFiresOnError(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	var failed bool
	fc, err := New(mt, func() { failed = true })
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.SetMaxFrameSize(512); err != nil {
		t.Fatal(err)
	}
	// size = 1024, exceeds max of 512.
	if err := fc.ReceiveBytes([]byte{0, 0, 4, 0}); err == nil {
		t.Fatal("expected decode error for oversized frame")
	}
	if !failed {
		t.Fatal("expected onError to fire")
	}
	if err := fc.ReceiveBytes([]byte{0}); err == nil {
		t.Fatal("expected subsequent ReceiveBytes to fail once in error state")
	}
}

func TestSubscribeRejectsNilCallbacks(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Subscribe(0, nil, func([]byte) {}); err == nil {
		t.Fatal("expected error for nil onBegin")
	}
	if err := fc.Subscribe(0, func(uint32, []byte) {}, nil); err == nil {
		t.Fatal("expected error for nil onBody")
	}
}

func TestUnsubscribeWithoutSubscribeFails(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Unsubscribe(0); err == nil {
		t.Fatal("expected error unsubscribing a type with no active subscription")
	}
}

func TestSubscribeReplacesExistingRegistration(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	var firstCalled, secondCalled bool
	if err := fc.Subscribe(0, func(uint32, []byte) { firstCalled = true }, func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	if err := fc.Subscribe(0, func(uint32, []byte) { secondCalled = true }, func([]byte) {}); err != nil {
		t.Fatal(err)
	}
	raw := rawAMQPFrame(0, []byte("x"))
	if err := fc.ReceiveBytes(raw); err != nil {
		t.Fatal(err)
	}
	if firstCalled || !secondCalled {
		t.Fatalf("firstCalled=%v secondCalled=%v, want only the replacement to fire", firstCalled, secondCalled)
	}
}

func TestBeginEncodeFrameRejectsUnfinishedPriorBody(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.BeginEncodeFrame(0, 5, nil); err != nil {
		t.Fatal(err)
	}
	if err := fc.BeginEncodeFrame(0, 5, nil); err == nil {
		t.Fatal("expected error beginning a new frame before the previous body finished")
	}
}

func TestEncodeFrameBytesRejectsOverrun(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.BeginEncodeFrame(0, 3, nil); err != nil {
		t.Fatal(err)
	}
	if err := fc.EncodeFrameBytes([]byte("toolong")); err == nil {
		t.Fatal("expected error when body bytes exceed the declared body size")
	}
}

func TestNewRejectsNilTransport(t *testing.T) {
	if _, err := New(nil, nil); err == nil {
		t.Fatal("expected error constructing a codec over a nil transport")
	}
}

func TestNoSubscriptionConsumesBytesWithoutCallbacks(t *testing.T) {
	mt := transport.NewMock(nil)
	_ = mt.Open(nil, nil)
	fc, err := New(mt, nil)
	if err != nil {
		t.Fatal(err)
	}
	raw := rawAMQPFrame(0, []byte("unsubscribed"))
	if err := fc.ReceiveBytes(raw); err != nil {
		t.Fatal(err)
	}
	// A second, subscribed frame should decode cleanly afterwards,
	// proving the decoder state machine returned to FrameSize.
	var got []byte
	if err := fc.Subscribe(0, func(uint32, []byte) {}, func(p []byte) { got = append(got, p...) }); err != nil {
		t.Fatal(err)
	}
	if err := fc.ReceiveBytes(rawAMQPFrame(0, []byte("next"))); err != nil {
		t.Fatal(err)
	}
	if string(got) != "next" {
		t.Fatalf("body = %q, want %q", got, "next")
	}
}
