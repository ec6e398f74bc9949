package amqp

import (
	"fmt"

	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/frames"
)

// SessionState is a Session's position in the state machine of
// spec.md §4.6.a.
type SessionState int

const (
	SessionUnmapped SessionState = iota
	SessionBeginSent
	SessionMapped
	SessionEndSent
	SessionDiscarding
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionUnmapped:
		return "Unmapped"
	case SessionBeginSent:
		return "BeginSent"
	case SessionMapped:
		return "Mapped"
	case SessionEndSent:
		return "EndSent"
	case SessionDiscarding:
		return "Discarding"
	case SessionError:
		return "Error"
	default:
		return "Unknown"
	}
}

// LinkFrameFunc is invoked once per TRANSFER/FLOW/ATTACH/DETACH
// performative addressed to a LinkEndpoint's handle. DISPOSITION frames
// and FLOW frames without a handle carry no link handle and are not
// delivered to any LinkEndpoint.
type LinkFrameFunc func(body frames.FrameBody, payload []byte)

// LinkStateFunc is invoked on every session state transition.
type LinkStateFunc func(newState, prevState SessionState)

// LinkEndpoint is a session-owned handle-number slot (spec.md §4.6.c).
// Duplicate names are permitted; callers distinguish link-endpoints by
// the returned pointer, not by name.
type LinkEndpoint struct {
	session *Session
	name    string
	handle  uint32
	onFrame LinkFrameFunc
	onState LinkStateFunc
}

// Name returns the link-endpoint's name.
func (l *LinkEndpoint) Name() string { return l.name }

// Handle returns the link-endpoint's assigned handle number.
func (l *LinkEndpoint) Handle() uint32 { return l.handle }

// Session is the AMQP session (C7): BEGIN/END, outgoing-id bookkeeping,
// and TRANSFER framing with delivery-id assignment.
type Session struct {
	conn     *Conn
	endpoint *Endpoint

	state SessionState

	nextOutgoingID uint32
	incomingWindow uint32
	outgoingWindow uint32
	handleMax      uint32

	links map[uint32]*LinkEndpoint

	onStateChange func(newState, prevState SessionState)
}

// NewSession creates a Session on a freshly allocated connection
// endpoint. The session subscribes to that endpoint's frame/state
// callbacks for its entire lifetime.
func NewSession(conn *Conn) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("amqp: connection is nil")
	}
	s := &Session{
		conn:           conn,
		incomingWindow: 1,
		outgoingWindow: 1,
		handleMax:      4294967295,
		links:          make(map[uint32]*LinkEndpoint),
	}
	e, err := conn.CreateEndpoint(s.onFrame, s.onConnState)
	if err != nil {
		return nil, err
	}
	s.endpoint = e

	// The connection may already be Opened by the time this session is
	// created (e.g. a second session on an established connection): fire
	// the same transition NewSession would otherwise wait for.
	if conn.State() == StateOpened {
		s.onConnState(StateOpened, StateStart)
	}
	return s, nil
}

// OnStateChange registers a callback invoked on every session state
// transition, in addition to each LinkEndpoint's own state callback.
func (s *Session) OnStateChange(f func(newState, prevState SessionState)) {
	s.onStateChange = f
}

// State returns the current session state.
func (s *Session) State() SessionState { return s.state }

func (s *Session) onConnState(newState, prevState State) {
	if newState == StateOpened && s.state == SessionUnmapped {
		s.sendBegin()
		return
	}
	if prevState == StateOpened && newState != StateOpened {
		switch s.state {
		case SessionBeginSent, SessionMapped, SessionEndSent:
			s.setState(SessionDiscarding)
		}
	}
}

func (s *Session) sendBegin() {
	begin := &frames.PerformBegin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	if err := s.conn.EncodeFrame(s.endpoint, begin, nil); err != nil {
		s.setState(SessionError)
		return
	}
	s.setState(SessionBeginSent)
}

func (s *Session) onFrame(body frames.FrameBody, payload []byte) {
	switch f := body.(type) {
	case *frames.PerformBegin:
		// Idempotent: a second BEGIN observed after mapping (e.g. a
		// connection-state replay) does not regress the state.
		if s.state == SessionBeginSent {
			s.setState(SessionMapped)
		}
		return
	case *frames.PerformEnd:
		switch s.state {
		case SessionEndSent:
			s.setState(SessionUnmapped)
		case SessionMapped, SessionBeginSent:
			_ = s.conn.EncodeFrame(s.endpoint, &frames.PerformEnd{}, nil)
			s.setState(SessionUnmapped)
		}
		return
	case *frames.PerformTransfer:
		if l, ok := s.links[f.Handle]; ok && l.onFrame != nil {
			l.onFrame(f, payload)
		}
		return
	case *frames.PerformFlow, *frames.PerformDisposition, *frames.PerformAttach, *frames.PerformDetach:
		if h, ok := linkHandle(body); ok {
			if l, found := s.links[h]; found && l.onFrame != nil {
				l.onFrame(body, payload)
			}
		}
		return
	}
}

func linkHandle(body frames.FrameBody) (uint32, bool) {
	switch f := body.(type) {
	case *frames.PerformFlow:
		if f.Handle != nil {
			return *f.Handle, true
		}
	case *frames.PerformAttach:
		return f.Handle, true
	case *frames.PerformDetach:
		return f.Handle, true
	}
	return 0, false
}

func (s *Session) setState(newState SessionState) {
	prev := s.state
	s.state = newState
	if newState == SessionMapped && prev != SessionMapped {
		s.conn.adjustSessionsActive(1)
	} else if prev == SessionMapped && newState != SessionMapped {
		s.conn.adjustSessionsActive(-1)
	}
	if s.onStateChange != nil {
		s.onStateChange(newState, prev)
	}
	for _, l := range s.links {
		if l.onState != nil {
			l.onState(newState, prev)
		}
	}
}

// Close sends a graceful END (no error) if Mapped, transitioning to
// EndSent. A no-op in any other state.
func (s *Session) Close() error {
	if s.state != SessionMapped {
		return nil
	}
	if err := s.conn.EncodeFrame(s.endpoint, &frames.PerformEnd{}, nil); err != nil {
		return err
	}
	s.setState(SessionEndSent)
	return nil
}

// Destroy removes every link-endpoint and releases the underlying
// connection endpoint. Callers must destroy all link-endpoints'
// consumers first if they hold external references.
func (s *Session) Destroy() {
	if s.state == SessionMapped {
		s.conn.adjustSessionsActive(-1)
	}
	s.links = nil
	s.conn.DestroyEndpoint(s.endpoint)
}

// CreateLinkEndpoint allocates the lowest unused handle number in
// [0, handleMax] for a new link-endpoint. Duplicate names are permitted.
func (s *Session) CreateLinkEndpoint(name string, onFrame LinkFrameFunc, onState LinkStateFunc) (*LinkEndpoint, error) {
	for h := uint32(0); ; h++ {
		if _, used := s.links[h]; !used {
			l := &LinkEndpoint{session: s, name: name, handle: h, onFrame: onFrame, onState: onState}
			s.links[h] = l
			return l, nil
		}
		if h == s.handleMax {
			return nil, fmt.Errorf("amqp: no handle numbers remain below handle-max %d", s.handleMax)
		}
	}
}

// DestroyLinkEndpoint removes l from the session's link-endpoint table,
// releasing its handle number.
func (s *Session) DestroyLinkEndpoint(l *LinkEndpoint) {
	if l == nil || s.links == nil {
		return
	}
	delete(s.links, l.handle)
}

// Transfer sends perf (with Handle and DeliveryID overwritten) plus
// payload as a TRANSFER on l, returning the assigned delivery-id.
// Requires the session to be Mapped. next_outgoing_id only advances on
// success, using RFC 1982 serial arithmetic mod 2^32 (a Go uint32's
// natural wraparound on increment).
func (s *Session) Transfer(l *LinkEndpoint, perf *frames.PerformTransfer, payload []byte) (deliveryID uint32, err error) {
	if s.state != SessionMapped {
		return 0, fmt.Errorf("amqp: session is not Mapped")
	}
	if l == nil {
		return 0, fmt.Errorf("amqp: link-endpoint is required")
	}

	id := s.nextOutgoingID
	perf.Handle = l.handle
	perf.DeliveryID = &id

	if max := s.conn.RemoteMaxFrameSize(); max > 0 {
		wr := &buffer.Buffer{}
		if err := perf.Marshal(wr); err != nil {
			return 0, err
		}
		// 8-byte frame header (the 2-byte channel is part of it).
		if uint32(wr.Len()+len(payload)+frames.HeaderSize) > max {
			return 0, ErrPayloadTooLarge
		}
	}

	if err := s.conn.EncodeFrame(s.endpoint, perf, [][]byte{payload}); err != nil {
		return 0, err
	}
	s.nextOutgoingID++
	return id, nil
}
