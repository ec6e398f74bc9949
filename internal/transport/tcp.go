package transport

import (
	"context"
	"net"
	"sync"
)

// TCP adapts a net.Conn into the Transport interface. Reads happen on a
// background goroutine (a real socket read blocks); that goroutine only
// ever feeds a buffered channel, never invokes a core callback directly,
// so callback delivery stays confined to DoWork on the caller's
// goroutine, preserving the single-threaded cooperative contract of
// spec.md §5. Open dials and Send writes on the caller's goroutine, so
// both block until the socket operation completes.
type TCP struct {
	dial func(ctx context.Context) (net.Conn, error)

	mu      sync.Mutex
	conn    net.Conn
	state   State
	onBytes OnBytes
	onState OnState

	incoming chan []byte
	readErr  chan error
	closed   chan struct{}
}

// Dial returns a TCP transport that connects to addr when Open is called.
func Dial(addr string) *TCP {
	return &TCP{
		dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		incoming: make(chan []byte, 64),
		readErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (t *TCP) Open(onBytes OnBytes, onState OnState) error {
	t.mu.Lock()
	t.onBytes = onBytes
	t.onState = onState
	t.state = StateOpening
	t.mu.Unlock()

	conn, err := t.dial(context.Background())
	if err != nil {
		t.setState(StateError)
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	go t.readLoop(conn)

	t.setState(StateOpen)
	return nil
}

func (t *TCP) readLoop(conn net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case t.incoming <- chunk:
			case <-t.closed:
				return
			}
		}
		if err != nil {
			select {
			case t.readErr <- err:
			default:
			}
			return
		}
	}
}

// DoWork drains any bytes the background reader has buffered and
// forwards them synchronously to onBytes, plus reports read errors as a
// state transition to StateError.
func (t *TCP) DoWork() {
	for {
		select {
		case chunk := <-t.incoming:
			t.mu.Lock()
			cb := t.onBytes
			t.mu.Unlock()
			if cb != nil {
				cb(chunk)
			}
			continue
		case err := <-t.readErr:
			_ = err
			t.setState(StateError)
		default:
		}
		return
	}
}

func (t *TCP) Send(p []byte) (int, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return 0, errNotOpen
	}
	return conn.Write(p)
}

func (t *TCP) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	select {
	case <-t.closed:
	default:
		close(t.closed)
	}
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *TCP) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TCP) setState(s State) {
	t.mu.Lock()
	t.state = s
	cb := t.onState
	t.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

var errNotOpen = transportError("transport: not open")

type transportError string

func (e transportError) Error() string { return string(e) }
