// Package frames implements the AMQP frame header (spec.md §3.1/§6.3) and
// the closed set of performative and SASL described-type bodies the
// connection/session core exchanges (spec.md §3.2).
package frames

import (
	"fmt"

	"github.com/amqp10/engine/internal/buffer"
)

// Frame type codes (spec.md §6.3).
const (
	TypeAMQP uint8 = 0x0
	TypeSASL uint8 = 0x1
)

// HeaderSize is the fixed 8-byte frame header size.
const HeaderSize = 8

// Header is the fixed 8-byte prefix of every AMQP frame.
type Header struct {
	Size       uint32
	DataOffset uint8
	Type       uint8
	Channel    uint16
}

// Marshal writes the header verbatim; callers are responsible for any
// type-specific bytes and padding between byte 6 and DataOffset*4.
func (h Header) Marshal(wr *buffer.Buffer) {
	wr.AppendUint32(h.Size)
	wr.AppendByte(h.DataOffset)
	wr.AppendByte(h.Type)
	wr.AppendUint16(h.Channel)
}

// ParseHeader reads the 8-byte frame header from buf.
func ParseHeader(buf *buffer.Buffer) (Header, error) {
	raw, ok := buf.Next(HeaderSize)
	if !ok {
		return Header{}, fmt.Errorf("frames: short header")
	}
	h := Header{
		Size:       beUint32(raw[0:4]),
		DataOffset: raw[4],
		Type:       raw[5],
		Channel:    beUint16(raw[6:8]),
	}
	return h, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}
