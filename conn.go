// Package amqp is the public surface of the protocol engine: Conn drives
// the AMQP handshake and OPEN/CLOSE state machine (C6), Session drives
// BEGIN/END and TRANSFER delivery-id sequencing (C7). Everything below
// this package (framing, SASL, the value codec) is an internal
// implementation detail.
package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/amqp10/engine/internal/amqpcodec"
	"github.com/amqp10/engine/internal/debug"
	"github.com/amqp10/engine/internal/framecodec"
	"github.com/amqp10/engine/internal/frames"
	"github.com/amqp10/engine/internal/mechanism"
	"github.com/amqp10/engine/internal/metrics"
	"github.com/amqp10/engine/internal/saslio"
	"github.com/amqp10/engine/internal/transport"
)

// amqpProtocolHeader is the 8-octet AMQP protocol header (spec.md §6.2).
var amqpProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

// minMaxFrameSize is the smallest max-frame-size a peer may advertise
// (spec.md glossary: MIN-MAX-FRAME-SIZE).
const minMaxFrameSize = 512

// State is a Conn's position in the connection state machine of
// spec.md §4.5.a.
type State int

const (
	StateStart State = iota
	StateHdrSent
	StateHdrRcvd
	StateHdrExch
	StateOpenSent
	StateOpened
	StateCloseSent
	StateCloseRcvd
	StateDiscarding
	StateEnd
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateHdrSent:
		return "HdrSent"
	case StateHdrRcvd:
		return "HdrRcvd"
	case StateHdrExch:
		return "HdrExch"
	case StateOpenSent:
		return "OpenSent"
	case StateOpened:
		return "Opened"
	case StateCloseSent:
		return "CloseSent"
	case StateCloseRcvd:
		return "CloseRcvd"
	case StateDiscarding:
		return "Discarding"
	case StateEnd:
		return "End"
	default:
		return "Unknown"
	}
}

// FrameFunc is invoked once per AMQP frame delivered to an endpoint's
// bound channel, with any payload bytes following the performative.
type FrameFunc func(body frames.FrameBody, payload []byte)

// StateFunc is invoked on every connection state transition.
type StateFunc func(newState, prevState State)

// Option configures a Conn at construction time.
type Option func(*Conn)

// WithHostname sets the hostname field OPEN will carry.
func WithHostname(h string) Option { return func(c *Conn) { c.hostname = h } }

// WithMaxFrameSize sets the locally advertised max-frame-size. Rejected
// (leaving the previous value in place) if below minMaxFrameSize or if
// OPEN has already been sent; see SetMaxFrameSize.
func WithMaxFrameSize(n uint32) Option { return func(c *Conn) { _ = c.SetMaxFrameSize(n) } }

// WithChannelMax sets the locally advertised channel-max.
func WithChannelMax(n uint16) Option { return func(c *Conn) { _ = c.SetChannelMax(n) } }

// WithIdleTimeout sets the locally advertised idle-timeout in milliseconds.
func WithIdleTimeout(ms uint32) Option { return func(c *Conn) { _ = c.SetIdleTimeout(ms) } }

// WithMetrics attaches Prometheus collectors updated as the connection
// and its sessions/endpoints progress.
func WithMetrics(m *metrics.Collectors) Option { return func(c *Conn) { c.metrics = m } }

// WithSASL wraps t with the SASL I/O layer (C4), authenticating with
// mech before the AMQP handshake begins.
func WithSASL(mech mechanism.Mechanism) Option {
	return func(c *Conn) {
		c.t = saslio.New(c.t, mech)
	}
}

// endpointEntry tracks one connection-scoped endpoint (spec.md §3.4).
type endpointEntry struct {
	conn            *Conn
	outgoingChannel uint16
	incomingChannel *uint16
	onFrame         FrameFunc
	onState         StateFunc
}

// Endpoint is the connection-scoped multiplexing unit a Session (or any
// other channel consumer) is built on.
type Endpoint = endpointEntry

// Conn is the AMQP connection (C6).
type Conn struct {
	t  transport.Transport
	fc *framecodec.Codec
	ac *amqpcodec.Codec

	containerID string
	hostname    string

	maxFrameSize uint32
	channelMax   uint16
	idleTimeout  *uint32
	openSent     bool

	remoteMaxFrameSize uint32

	state State

	endpointsByOut map[uint16]*Endpoint
	endpointsByIn  map[uint16]*Endpoint

	headerBuf []byte

	metrics        *metrics.Collectors
	sessionsMapped int
}

// adjustSessionsActive updates the mapped-session count a Session
// reports through as it transitions into/out of SessionMapped, and
// reflects it to the metrics collector.
func (c *Conn) adjustSessionsActive(delta int) {
	c.sessionsMapped += delta
	if c.metrics != nil {
		c.metrics.SetSessionsActive(c.sessionsMapped)
	}
}

// New constructs a Conn over t. containerID is mandatory; hostname and
// other settings are supplied via Option. The transport is not opened
// until Open is called.
func New(t transport.Transport, containerID string, opts ...Option) (*Conn, error) {
	if t == nil {
		return nil, fmt.Errorf("amqp: transport is nil")
	}
	if containerID == "" {
		return nil, fmt.Errorf("amqp: container-id is required")
	}
	c := &Conn{
		t:              t,
		containerID:    containerID,
		maxFrameSize:   4294967295,
		channelMax:     65535,
		state:          StateStart,
		endpointsByOut: make(map[uint16]*Endpoint),
		endpointsByIn:  make(map[uint16]*Endpoint),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	c.fc, err = framecodec.New(c.t, c.onCodecError)
	if err != nil {
		return nil, err
	}
	c.ac, err = amqpcodec.New(c.fc, c.onAMQPFrame, c.onCodecError)
	if err != nil {
		c.fc.Destroy()
		return nil, err
	}
	return c, nil
}

// Open begins opening the underlying transport and, once it reaches
// StateOpen, sends the AMQP protocol header.
func (c *Conn) Open() error {
	if c.state != StateStart {
		return fmt.Errorf("amqp: connection already opened")
	}
	return c.t.Open(c.onBytes, c.onTransportState)
}

// DoWork drives the underlying transport's non-blocking I/O.
func (c *Conn) DoWork() {
	c.t.DoWork()
}

// State returns the current connection state.
func (c *Conn) State() State { return c.state }

// Close tears the connection down: if Opened, sends a graceful CLOSE
// first, then closes the underlying transport. Errors from the CLOSE
// send and the transport close are both reported, not just the first.
func (c *Conn) Close() error {
	var errs *multierror.Error
	if c.state == StateOpened {
		if err := c.sendClose(nil); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	c.ac.Destroy()
	c.fc.Destroy()
	if err := c.t.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (c *Conn) onTransportState(st transport.State) {
	switch st {
	case transport.StateOpen:
		if c.state == StateStart {
			if _, err := c.t.Send(amqpProtocolHeader[:]); err != nil {
				c.toEnd()
				return
			}
			c.setState(StateHdrSent)
		}
	case transport.StateError:
		c.toEnd()
	}
}

func (c *Conn) onBytes(p []byte) {
	if c.state == StateEnd {
		return
	}
	if c.state == StateHdrSent || c.state == StateStart || c.state == StateHdrRcvd {
		c.headerBuf = append(c.headerBuf, p...)
		if len(c.headerBuf) < 8 {
			return
		}
		hdr := c.headerBuf[:8]
		rest := c.headerBuf[8:]
		c.headerBuf = nil

		for i, b := range amqpProtocolHeader {
			if hdr[i] != b {
				c.toEnd()
				return
			}
		}

		switch c.state {
		case StateStart:
			c.setState(StateHdrRcvd)
			if _, err := c.t.Send(amqpProtocolHeader[:]); err != nil {
				c.toEnd()
				return
			}
			c.enterHdrExch()
		case StateHdrSent:
			c.enterHdrExch()
		}
		if len(rest) == 0 {
			return
		}
		p = rest
	}

	if c.state != StateHdrExch && c.state != StateOpenSent && c.state != StateOpened &&
		c.state != StateCloseSent && c.state != StateDiscarding {
		// A performative arrived before the header exchange completed.
		c.toEnd()
		return
	}

	if err := c.fc.ReceiveBytes(p); err != nil {
		// onCodecError already reacted: sent CLOSE (if this is the first
		// failure) and swapped in a fresh codec pair so bytes following
		// the offending frame can still be scanned for the peer's CLOSE.
		return
	}
}

func (c *Conn) enterHdrExch() {
	c.setState(StateHdrExch)

	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     c.hostname,
		MaxFrameSize: c.maxFrameSize,
		ChannelMax:   c.channelMax,
		IdleTimeout:  c.idleTimeout,
	}
	if err := c.fc.SetMaxFrameSize(c.maxFrameSize); err != nil {
		c.toEnd()
		return
	}
	if err := c.ac.EncodeFrame(0, open, nil); err != nil {
		c.toEnd()
		return
	}
	c.openSent = true
	c.setState(StateOpenSent)
}

// onCodecError fires when the frame codec's decoder hits an irrecoverable
// parse error. The codec's decode state is terminal, but its encode side
// is untouched, so the CLOSE below still goes out over the same codec.
// Per spec.md §4.5.a, Discarding then keeps consuming bytes until the
// peer's own CLOSE is observed or the transport closes: a fresh
// frame/AMQP codec pair is swapped in (here, and again below if that
// fresh pair also fails) so onBytes has a live decoder to hand bytes to.
func (c *Conn) onCodecError() {
	if c.state == StateEnd {
		return
	}
	if c.metrics != nil {
		c.metrics.IncDecodeErrors()
	}
	if c.state != StateDiscarding {
		_ = c.sendClose(&Error{Condition: ErrCondInternalError, Description: "frame decode failure"})
		c.setState(StateDiscarding)
	}
	c.resyncCodecs()
}

// resyncCodecs discards the (decode-broken) frame/AMQP codec pair and
// replaces it with a fresh one at the current max-frame-size, so Discarding
// can keep scanning incoming bytes for the peer's CLOSE frame.
func (c *Conn) resyncCodecs() {
	c.ac.Destroy()
	c.fc.Destroy()
	fc, err := framecodec.New(c.t, c.onCodecError)
	if err != nil {
		return
	}
	ac, err := amqpcodec.New(fc, c.onAMQPFrame, c.onCodecError)
	if err != nil {
		fc.Destroy()
		return
	}
	_ = fc.SetMaxFrameSize(c.maxFrameSize)
	c.fc = fc
	c.ac = ac
}

func (c *Conn) onAMQPFrame(channel uint16, body frames.FrameBody, payload []byte) {
	if c.metrics != nil {
		c.metrics.IncFramesReceived()
	}

	if c.state == StateDiscarding {
		if _, ok := body.(*frames.PerformClose); ok {
			_ = c.t.Close()
			c.toEnd()
		}
		return
	}

	switch f := body.(type) {
	case *frames.PerformOpen:
		c.handleOpen(channel, f)
		return
	case *frames.PerformClose:
		c.handleClose(f)
		return
	}

	e, ok := c.endpointsByIn[channel]
	if !ok {
		if begin, isBegin := body.(*frames.PerformBegin); isBegin && begin.RemoteChannel != nil {
			if cand, found := c.endpointsByOut[*begin.RemoteChannel]; found && cand.incomingChannel == nil {
				ch := channel
				cand.incomingChannel = &ch
				c.endpointsByIn[channel] = cand
				e, ok = cand, true
			}
		}
	}
	if !ok {
		debug.Log(context.Background(), slog.LevelWarn, "amqp: frame on unbound channel", "channel", channel)
		return
	}
	if e.onFrame != nil {
		e.onFrame(body, payload)
	}
}

func (c *Conn) handleOpen(channel uint16, open *frames.PerformOpen) {
	if c.state == StateOpened {
		_ = c.sendClose(&Error{Condition: ErrCondIllegalState, Description: "OPEN received while already opened"})
		c.setState(StateDiscarding)
		return
	}
	if channel != 0 {
		_ = c.sendClose(&Error{Condition: ErrCondNotAllowed, Description: "OPEN received on non-zero channel"})
		c.setState(StateDiscarding)
		return
	}
	if open.MaxFrameSize != 0 && open.MaxFrameSize < minMaxFrameSize {
		_ = c.sendClose(&Error{Condition: ErrCondInvalidField, Description: "max-frame-size below minimum"})
		c.setState(StateDiscarding)
		return
	}
	if c.state != StateOpenSent {
		_ = c.sendClose(&Error{Condition: ErrCondIllegalState, Description: "OPEN received before local OPEN was sent"})
		c.setState(StateDiscarding)
		return
	}
	c.remoteMaxFrameSize = open.MaxFrameSize
	c.setState(StateOpened)
}

func (c *Conn) handleClose(_ *frames.PerformClose) {
	if c.state == StateCloseSent {
		_ = c.t.Close()
		c.toEnd()
		return
	}
	_ = c.sendClose(nil)
	_ = c.t.Close()
	c.setState(StateCloseRcvd)
	c.toEnd()
}

func (c *Conn) sendClose(reason *Error) error {
	if c.state == StateCloseSent || c.state == StateEnd {
		return nil
	}
	perf := &frames.PerformClose{Error: reason}
	err := c.ac.EncodeFrame(0, perf, nil)
	c.setState(StateCloseSent)
	return err
}

func (c *Conn) toEnd() {
	if c.state == StateEnd {
		return
	}
	_ = c.t.Close()
	c.setState(StateEnd)
}

func (c *Conn) setState(s State) {
	prev := c.state
	c.state = s
	for _, e := range c.endpointsByOut {
		if e.onState != nil {
			e.onState(s, prev)
		}
	}
}

// CreateEndpoint allocates the lowest unused outgoing channel number in
// [0, channelMax] and returns an Endpoint bound to it. Fails if no
// channel numbers remain.
func (c *Conn) CreateEndpoint(onFrame FrameFunc, onState StateFunc) (*Endpoint, error) {
	for ch := uint16(0); ; ch++ {
		if _, used := c.endpointsByOut[ch]; !used {
			e := &Endpoint{conn: c, outgoingChannel: ch, onFrame: onFrame, onState: onState}
			c.endpointsByOut[ch] = e
			if c.metrics != nil {
				c.metrics.SetEndpointsActive(len(c.endpointsByOut))
			}
			return e, nil
		}
		if ch == c.channelMax {
			return nil, fmt.Errorf("amqp: no channel numbers remain below channel-max %d", c.channelMax)
		}
	}
}

// DestroyEndpoint releases e's outgoing (and, if bound, incoming)
// channel number, making it immediately reusable.
func (c *Conn) DestroyEndpoint(e *Endpoint) {
	if e == nil {
		return
	}
	delete(c.endpointsByOut, e.outgoingChannel)
	if e.incomingChannel != nil {
		delete(c.endpointsByIn, *e.incomingChannel)
	}
	if c.metrics != nil {
		c.metrics.SetEndpointsActive(len(c.endpointsByOut))
	}
}

// EncodeFrame sends body (and any payload chunks) on e's outgoing
// channel. Requires the connection to be Opened.
func (c *Conn) EncodeFrame(e *Endpoint, body frames.FrameBody, payloads [][]byte) error {
	if e == nil || body == nil {
		return fmt.Errorf("amqp: endpoint and body are required")
	}
	if c.state != StateOpened {
		return fmt.Errorf("amqp: connection is not Opened")
	}
	if err := c.ac.EncodeFrame(e.outgoingChannel, body, payloads); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.IncFramesSent()
	}
	return nil
}

// RemoteMaxFrameSize returns the peer's advertised max-frame-size, valid
// once the connection reaches StateOpened.
func (c *Conn) RemoteMaxFrameSize() uint32 { return c.remoteMaxFrameSize }

// SetMaxFrameSize changes the locally advertised max-frame-size. Fails
// (leaving the previous value in place) once OPEN has been sent, or if
// n is below minMaxFrameSize.
func (c *Conn) SetMaxFrameSize(n uint32) error {
	if c.openSent {
		return fmt.Errorf("amqp: max-frame-size cannot change after OPEN was sent")
	}
	if n < minMaxFrameSize {
		return fmt.Errorf("amqp: max-frame-size %d below minimum %d", n, minMaxFrameSize)
	}
	c.maxFrameSize = n
	return nil
}

// SetChannelMax changes the locally advertised channel-max. Fails once
// OPEN has been sent.
func (c *Conn) SetChannelMax(n uint16) error {
	if c.openSent {
		return fmt.Errorf("amqp: channel-max cannot change after OPEN was sent")
	}
	c.channelMax = n
	return nil
}

// SetIdleTimeout changes the locally advertised idle-timeout in
// milliseconds. Fails once OPEN has been sent. 0 means unset.
func (c *Conn) SetIdleTimeout(ms uint32) error {
	if c.openSent {
		return fmt.Errorf("amqp: idle-timeout cannot change after OPEN was sent")
	}
	if ms == 0 {
		c.idleTimeout = nil
		return nil
	}
	c.idleTimeout = &ms
	return nil
}
