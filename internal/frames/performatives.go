package frames

import (
	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/encoding"
)

// FrameBody is any AMQP or SASL described-type performative this module
// exchanges. Descriptor identifies it in the closed set spec.md §6.4 names.
type FrameBody interface {
	Descriptor() uint64
	Marshal(wr *buffer.Buffer) error
	Unmarshal(r *buffer.Buffer) error
}

// PerformOpen is the OPEN performative (descriptor 0x10).
type PerformOpen struct {
	ContainerID  string
	Hostname     string
	MaxFrameSize uint32
	ChannelMax   uint16
	IdleTimeout  *uint32 // milliseconds; nil = unset
}

func (*PerformOpen) Descriptor() uint64 { return uint64(encoding.TypeCodeOpen) }

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, o.Descriptor(), []encoding.Field{
		{Value: o.ContainerID},
		{Value: o.Hostname, Omit: o.Hostname == ""},
		{Value: o.MaxFrameSize, Omit: o.MaxFrameSize == 0},
		{Value: o.ChannelMax, Omit: o.ChannelMax == 0},
		{Value: o.IdleTimeout, Omit: o.IdleTimeout == nil},
	})
}

func (o *PerformOpen) Unmarshal(r *buffer.Buffer) error {
	o.MaxFrameSize = 4294967295
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(r, o.Descriptor(),
		encoding.UnmarshalField{Field: &o.ContainerID},
		encoding.UnmarshalField{Field: &o.Hostname},
		encoding.UnmarshalField{Field: &o.MaxFrameSize},
		encoding.UnmarshalField{Field: &o.ChannelMax},
		encoding.UnmarshalField{Field: &o.IdleTimeout},
	)
}

// PerformBegin is the BEGIN performative (descriptor 0x11).
type PerformBegin struct {
	RemoteChannel  *uint16
	NextOutgoingID uint32
	IncomingWindow uint32
	OutgoingWindow uint32
	HandleMax      uint32
}

func (*PerformBegin) Descriptor() uint64 { return uint64(encoding.TypeCodeBegin) }

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	var remoteChannel uint32
	omitRemote := b.RemoteChannel == nil
	if !omitRemote {
		remoteChannel = uint32(*b.RemoteChannel)
	}
	return encoding.MarshalComposite(wr, b.Descriptor(), []encoding.Field{
		{Value: remoteChannel, Omit: omitRemote},
		{Value: b.NextOutgoingID},
		{Value: b.IncomingWindow},
		{Value: b.OutgoingWindow},
		{Value: b.HandleMax, Omit: b.HandleMax == 0},
	})
}

func (b *PerformBegin) Unmarshal(r *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(r, b.Descriptor(),
		encoding.UnmarshalField{Field: &b.RemoteChannel},
		encoding.UnmarshalField{Field: &b.NextOutgoingID},
		encoding.UnmarshalField{Field: &b.IncomingWindow},
		encoding.UnmarshalField{Field: &b.OutgoingWindow},
		encoding.UnmarshalField{Field: &b.HandleMax},
	)
}

// PerformEnd is the END performative (descriptor 0x17).
type PerformEnd struct {
	Error *encoding.Error
}

func (*PerformEnd) Descriptor() uint64 { return uint64(encoding.TypeCodeEnd) }

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, e.Descriptor(), []encoding.Field{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(r *buffer.Buffer) error {
	var errVal encoding.Error
	hadErr := false
	err := encoding.UnmarshalComposite(r, e.Descriptor(),
		encoding.UnmarshalField{Field: &errVal, HandleNull: func() error { hadErr = false; return nil }},
	)
	if err == nil && errVal.Condition != "" {
		hadErr = true
	}
	if hadErr {
		e.Error = &errVal
	}
	return err
}

// PerformClose is the CLOSE performative (descriptor 0x18).
type PerformClose struct {
	Error *encoding.Error
}

func (*PerformClose) Descriptor() uint64 { return uint64(encoding.TypeCodeClose) }

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, c.Descriptor(), []encoding.Field{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(r *buffer.Buffer) error {
	var errVal encoding.Error
	err := encoding.UnmarshalComposite(r, c.Descriptor(),
		encoding.UnmarshalField{Field: &errVal},
	)
	if err == nil && errVal.Condition != "" {
		c.Error = &errVal
	}
	return err
}

// PerformAttach is the ATTACH performative (descriptor 0x12). Only the
// fields the session/endpoint layer needs to round-trip are modeled; the
// full terminus (Source/Target) description is the external link layer's
// concern.
type PerformAttach struct {
	Name               string
	Handle             uint32
	Role               bool // false = sender, true = receiver
	SenderSettleMode   *uint8
	ReceiverSettleMode *uint8
	MaxMessageSize     uint64
}

func (*PerformAttach) Descriptor() uint64 { return uint64(encoding.TypeCodeAttach) }

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, a.Descriptor(), []encoding.Field{
		{Value: a.Name},
		{Value: a.Handle},
		{Value: a.Role},
		{Value: a.SenderSettleMode, Omit: a.SenderSettleMode == nil},
		{Value: a.ReceiverSettleMode, Omit: a.ReceiverSettleMode == nil},
		{Value: nil, Omit: true}, // source (external terminus model)
		{Value: nil, Omit: true}, // target (external terminus model)
		{Value: nil, Omit: true}, // unsettled
		{Value: nil, Omit: true}, // incomplete-unsettled
		{Value: nil, Omit: true}, // initial-delivery-count
		{Value: a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
	})
}

func (a *PerformAttach) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, a.Descriptor(),
		encoding.UnmarshalField{Field: &a.Name},
		encoding.UnmarshalField{Field: &a.Handle},
		encoding.UnmarshalField{Field: &a.Role},
		encoding.UnmarshalField{Field: &a.SenderSettleMode},
		encoding.UnmarshalField{Field: &a.ReceiverSettleMode},
		encoding.UnmarshalField{Field: new(interface{})}, // source
		encoding.UnmarshalField{Field: new(interface{})}, // target
		encoding.UnmarshalField{Field: new(interface{})}, // unsettled
		encoding.UnmarshalField{Field: new(interface{})}, // incomplete-unsettled
		encoding.UnmarshalField{Field: new(interface{})}, // initial-delivery-count
		encoding.UnmarshalField{Field: &a.MaxMessageSize},
	)
}

// PerformFlow is the FLOW performative (descriptor 0x13).
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32
	NextOutgoingID uint32
	OutgoingWindow uint32
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Drain          bool
}

func (*PerformFlow) Descriptor() uint64 { return uint64(encoding.TypeCodeFlow) }

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, f.Descriptor(), []encoding.Field{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: f.IncomingWindow},
		{Value: f.NextOutgoingID},
		{Value: f.OutgoingWindow},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Drain, Omit: !f.Drain},
	})
}

func (f *PerformFlow) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, f.Descriptor(),
		encoding.UnmarshalField{Field: &f.NextIncomingID},
		encoding.UnmarshalField{Field: &f.IncomingWindow},
		encoding.UnmarshalField{Field: &f.NextOutgoingID},
		encoding.UnmarshalField{Field: &f.OutgoingWindow},
		encoding.UnmarshalField{Field: &f.Handle},
		encoding.UnmarshalField{Field: &f.DeliveryCount},
		encoding.UnmarshalField{Field: &f.LinkCredit},
		encoding.UnmarshalField{Field: &f.Drain},
	)
}

// PerformTransfer is the TRANSFER performative (descriptor 0x14).
type PerformTransfer struct {
	Handle        uint32
	DeliveryID    *uint32
	DeliveryTag   []byte
	MessageFormat *uint32
	Settled       bool
	More          bool
	Payload       []byte `amqp:"-"` // opaque bytes following the performative, not part of its own encoding
}

func (*PerformTransfer) Descriptor() uint64 { return uint64(encoding.TypeCodeTransfer) }

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, t.Descriptor(), []encoding.Field{
		{Value: t.Handle},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: t.Settled, Omit: !t.Settled},
		{Value: t.More, Omit: !t.More},
	})
}

func (t *PerformTransfer) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, t.Descriptor(),
		encoding.UnmarshalField{Field: &t.Handle},
		encoding.UnmarshalField{Field: &t.DeliveryID},
		encoding.UnmarshalField{Field: &t.DeliveryTag},
		encoding.UnmarshalField{Field: &t.MessageFormat},
		encoding.UnmarshalField{Field: &t.Settled},
		encoding.UnmarshalField{Field: &t.More},
	)
}

// PerformDisposition is the DISPOSITION performative (descriptor 0x15).
type PerformDisposition struct {
	Role    bool
	First   uint32
	Last    *uint32
	Settled bool
	State   interface{}
}

func (*PerformDisposition) Descriptor() uint64 { return uint64(encoding.TypeCodeDisposition) }

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, d.Descriptor(), []encoding.Field{
		{Value: d.Role},
		{Value: d.First},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: d.Settled, Omit: !d.Settled},
	})
}

func (d *PerformDisposition) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, d.Descriptor(),
		encoding.UnmarshalField{Field: &d.Role},
		encoding.UnmarshalField{Field: &d.First},
		encoding.UnmarshalField{Field: &d.Last},
		encoding.UnmarshalField{Field: &d.Settled},
	)
}

// PerformDetach is the DETACH performative (descriptor 0x16).
type PerformDetach struct {
	Handle uint32
	Closed bool
	Error  *encoding.Error
}

func (*PerformDetach) Descriptor() uint64 { return uint64(encoding.TypeCodeDetach) }

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, d.Descriptor(), []encoding.Field{
		{Value: d.Handle},
		{Value: d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(r *buffer.Buffer) error {
	var errVal encoding.Error
	err := encoding.UnmarshalComposite(r, d.Descriptor(),
		encoding.UnmarshalField{Field: &d.Handle},
		encoding.UnmarshalField{Field: &d.Closed},
		encoding.UnmarshalField{Field: &errVal},
	)
	if err == nil && errVal.Condition != "" {
		d.Error = &errVal
	}
	return err
}
