// Package buffer provides a minimal read/write cursor over a byte slice,
// used by internal/encoding for marshaling and unmarshaling AMQP values
// and by the frame codecs for accumulating partially received frames.
package buffer

import "encoding/binary"

// Buffer is a growable write cursor plus an independent read cursor over
// the same backing slice. Zero value is ready to use.
type Buffer struct {
	b   []byte
	off int
}

// New creates a Buffer backed by b, positioned for reading at offset 0.
func New(b []byte) *Buffer {
	return &Buffer{b: b}
}

// Detach returns the accumulated bytes and resets the Buffer to empty.
func (b *Buffer) Detach() []byte {
	out := b.b
	b.b = nil
	b.off = 0
	return out
}

// Reset discards all buffered/read bytes, keeping underlying storage.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.off = 0
}

// Bytes returns the unread remainder of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.b[b.off:]
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return len(b.b) - b.off
}

// Append appends p to the buffer for later reading/transmission.
func (b *Buffer) Append(p []byte) {
	b.b = append(b.b, p...)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(v byte) {
	b.b = append(b.b, v)
}

// AppendString appends the bytes of s.
func (b *Buffer) AppendString(s string) {
	b.b = append(b.b, s...)
}

// AppendUint16 appends v big-endian.
func (b *Buffer) AppendUint16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint32 appends v big-endian.
func (b *Buffer) AppendUint32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// AppendUint64 appends v big-endian.
func (b *Buffer) AppendUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	b.b = append(b.b, tmp[:]...)
}

// ReadByte consumes and returns the next byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Len() < 1 {
		return 0, errBufferTooShort
	}
	v := b.b[b.off]
	b.off++
	return v, nil
}

// Peek returns the next byte without consuming it.
func (b *Buffer) Peek() (byte, error) {
	if b.Len() < 1 {
		return 0, errBufferTooShort
	}
	return b.b[b.off], nil
}

// Next consumes and returns the next n bytes. ok is false if fewer than
// n bytes remain, in which case no bytes are consumed.
func (b *Buffer) Next(n int64) (buf []byte, ok bool) {
	if n < 0 || int64(b.Len()) < n {
		return nil, false
	}
	buf = b.b[b.off : b.off+int(n)]
	b.off += int(n)
	return buf, true
}

// Skip advances the read cursor by n bytes without returning them.
func (b *Buffer) Skip(n int) bool {
	if b.Len() < n {
		return false
	}
	b.off += n
	return true
}

// ReadUint16 consumes a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	buf, ok := b.Next(2)
	if !ok {
		return 0, errBufferTooShort
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	buf, ok := b.Next(4)
	if !ok {
		return 0, errBufferTooShort
	}
	return binary.BigEndian.Uint32(buf), nil
}

// ReadUint64 consumes a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	buf, ok := b.Next(8)
	if !ok {
		return 0, errBufferTooShort
	}
	return binary.BigEndian.Uint64(buf), nil
}

var errBufferTooShort = bufferTooShortError{}

type bufferTooShortError struct{}

func (bufferTooShortError) Error() string { return "buffer: not enough bytes remaining" }
