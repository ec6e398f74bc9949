package amqp

import (
	"testing"

	"github.com/amqp10/engine/internal/amqpcodec"
	"github.com/amqp10/engine/internal/framecodec"
	"github.com/amqp10/engine/internal/frames"
	"github.com/amqp10/engine/internal/transport"
)

// peerEncoder builds exact wire-format AMQP frames using the same codec
// stack the connection itself runs, rather than hand-rolled byte layouts.
type peerEncoder struct {
	capture *transport.Mock
	ac      *amqpcodec.Codec
}

func newPeerEncoder(t *testing.T) *peerEncoder {
	t.Helper()
	capture := transport.NewMock(nil)
	if err := capture.Open(nil, nil); err != nil {
		t.Fatal(err)
	}
	fc, err := framecodec.New(capture, nil)
	if err != nil {
		t.Fatal(err)
	}
	ac, err := amqpcodec.New(fc, func(uint16, frames.FrameBody, []byte) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return &peerEncoder{capture: capture, ac: ac}
}

func (p *peerEncoder) frame(channel uint16, body frames.FrameBody) []byte {
	start := len(p.capture.Sent)
	if err := p.ac.EncodeFrame(channel, body, nil); err != nil {
		panic(err)
	}
	var out []byte
	for _, chunk := range p.capture.Sent[start:] {
		out = append(out, chunk...)
	}
	return out
}

// headerEchoMock replies to the client's own 8-byte protocol header with
// an identical header, and otherwise returns no automatic reply (tests
// inject performative frames explicitly via Deliver).
func headerEchoMock() *transport.Mock {
	return transport.NewMock(func(sent []byte) ([]byte, error) {
		if len(sent) == 8 && matchesAMQPHeader(sent) {
			return append([]byte(nil), sent...), nil
		}
		return nil, nil
	})
}

func matchesAMQPHeader(p []byte) bool {
	for i, b := range amqpProtocolHeader {
		if p[i] != b {
			return false
		}
	}
	return true
}

func uint16Ptr(v uint16) *uint16 { return &v }

func TestConnCleanHandshake(t *testing.T) {
	peer := newPeerEncoder(t)
	openReply := peer.frame(0, &frames.PerformOpen{ContainerID: "peer", MaxFrameSize: 4096, ChannelMax: 10})

	mt := headerEchoMock()
	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}

	var states []State
	watcher, err := conn.CreateEndpoint(nil, func(s, _ State) { states = append(states, s) })
	if err != nil {
		t.Fatal(err)
	}
	defer conn.DestroyEndpoint(watcher)

	if err := conn.Open(); err != nil {
		t.Fatal(err)
	}
	if conn.State() != StateHdrSent {
		t.Fatalf("after Open(): state = %s, want HdrSent", conn.State())
	}

	conn.DoWork() // delivers the header echo, client sends OPEN in response
	if conn.State() != StateOpenSent {
		t.Fatalf("after header exchange: state = %s, want OpenSent", conn.State())
	}

	mt.Deliver(openReply)
	conn.DoWork()

	if conn.State() != StateOpened {
		t.Fatalf("after peer OPEN: state = %s, want Opened", conn.State())
	}
	if conn.RemoteMaxFrameSize() != 4096 {
		t.Fatalf("RemoteMaxFrameSize() = %d, want 4096", conn.RemoteMaxFrameSize())
	}

	want := []State{StateHdrSent, StateHdrExch, StateOpenSent, StateOpened}
	if len(states) != len(want) {
		t.Fatalf("observed states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("observed states = %v, want %v", states, want)
		}
	}
}

func TestConnWrongMinorVersionEnds(t *testing.T) {
	mt := transport.NewMock(func(sent []byte) ([]byte, error) {
		if len(sent) == 8 && matchesAMQPHeader(sent) {
			bad := append([]byte(nil), sent...)
			bad[6] = 1 // minor version 1 instead of 0
			return bad, nil
		}
		return nil, nil
	})

	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Open(); err != nil {
		t.Fatal(err)
	}
	conn.DoWork()

	if conn.State() != StateEnd {
		t.Fatalf("state = %s, want End", conn.State())
	}
	if mt.State() != transport.StateNotOpen {
		t.Fatalf("transport state = %s, want the connection to have closed it", mt.State())
	}
}

func TestConnOpenOnNonZeroChannelIsRejected(t *testing.T) {
	peer := newPeerEncoder(t)
	badOpen := peer.frame(5, &frames.PerformOpen{ContainerID: "peer"})

	mt := headerEchoMock()
	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Open(); err != nil {
		t.Fatal(err)
	}
	conn.DoWork()
	if conn.State() != StateOpenSent {
		t.Fatalf("state = %s, want OpenSent", conn.State())
	}

	mt.Deliver(badOpen)
	conn.DoWork()

	if conn.State() != StateDiscarding && conn.State() != StateEnd {
		t.Fatalf("state = %s, want Discarding (pending peer CLOSE) or End", conn.State())
	}
}

func TestConnFrameExceedingMaxFrameSizeFails(t *testing.T) {
	mt := headerEchoMock()
	conn, err := New(mt, "client", WithMaxFrameSize(512))
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Open(); err != nil {
		t.Fatal(err)
	}
	conn.DoWork()

	// A frame header declaring a size larger than the connection's own
	// max-frame-size (512): size=4096, data-offset=2, type=0, channel=0.
	oversized := []byte{0, 0, 16, 0, 2, 0, 0, 0}
	mt.Deliver(oversized)
	conn.DoWork()

	if conn.State() != StateDiscarding {
		t.Fatalf("state = %s, want Discarding", conn.State())
	}

	// Discarding resynchronizes onto a fresh codec pair so the peer's
	// own CLOSE, arriving afterwards, is still observed: once it is, the
	// connection closes the transport and ends.
	peer := newPeerEncoder(t)
	mt.Deliver(peer.frame(0, &frames.PerformClose{}))
	conn.DoWork()

	if conn.State() != StateEnd {
		t.Fatalf("state = %s, want End after the peer's CLOSE arrived", conn.State())
	}
	if mt.State() != transport.StateNotOpen {
		t.Fatalf("transport state = %s, want the connection to have closed it", mt.State())
	}
}

func TestSetMaxFrameSizeRejectionPreservesPreviousValue(t *testing.T) {
	mt := transport.NewMock(nil)
	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.SetMaxFrameSize(4096); err != nil {
		t.Fatal(err)
	}
	if err := conn.SetMaxFrameSize(511); err == nil {
		t.Fatal("SetMaxFrameSize(511) should fail: below the 512-byte minimum")
	}
	if conn.maxFrameSize != 4096 {
		t.Fatalf("maxFrameSize = %d, want the prior value 4096 preserved", conn.maxFrameSize)
	}
}

func TestSetMaxFrameSizeRejectedAfterOpenSent(t *testing.T) {
	mt := headerEchoMock()
	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Open(); err != nil {
		t.Fatal(err)
	}
	conn.DoWork() // header exchanged, OPEN sent

	if conn.State() != StateOpenSent {
		t.Fatalf("state = %s, want OpenSent", conn.State())
	}
	if err := conn.SetMaxFrameSize(8192); err == nil {
		t.Fatal("SetMaxFrameSize should fail once OPEN has been sent")
	}
}

func TestCreateEndpointLowestUnusedAndReusable(t *testing.T) {
	mt := transport.NewMock(nil)
	conn, err := New(mt, "client")
	if err != nil {
		t.Fatal(err)
	}

	e0, err := conn.CreateEndpoint(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	e1, err := conn.CreateEndpoint(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e0.outgoingChannel != 0 || e1.outgoingChannel != 1 {
		t.Fatalf("channels = %d, %d, want 0, 1", e0.outgoingChannel, e1.outgoingChannel)
	}

	conn.DestroyEndpoint(e0)
	e2, err := conn.CreateEndpoint(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e2.outgoingChannel != 0 {
		t.Fatalf("channel after destroy+reuse = %d, want the freed channel 0", e2.outgoingChannel)
	}
}
