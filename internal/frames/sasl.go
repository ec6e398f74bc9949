package frames

import (
	"github.com/amqp10/engine/internal/buffer"
	"github.com/amqp10/engine/internal/encoding"
)

// SASLMechanisms is the SASL-MECHANISMS performative (descriptor 0x40).
type SASLMechanisms struct {
	Mechanisms []encoding.Symbol
}

func (*SASLMechanisms) Descriptor() uint64 { return uint64(encoding.TypeCodeSASLMechanisms) }

func (m *SASLMechanisms) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, m.Descriptor(), []encoding.Field{
		{Value: symbolArray(m.Mechanisms)},
	})
}

func (m *SASLMechanisms) Unmarshal(r *buffer.Buffer) error {
	var arr symbolArray
	err := encoding.UnmarshalComposite(r, m.Descriptor(), encoding.UnmarshalField{Field: &arr})
	m.Mechanisms = []encoding.Symbol(arr)
	return err
}

// SASLInit is the SASL-INIT performative (descriptor 0x41).
type SASLInit struct {
	Mechanism       encoding.Symbol
	InitialResponse []byte
	Hostname        string
}

func (*SASLInit) Descriptor() uint64 { return uint64(encoding.TypeCodeSASLInit) }

func (s *SASLInit) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, s.Descriptor(), []encoding.Field{
		{Value: s.Mechanism},
		{Value: s.InitialResponse, Omit: s.InitialResponse == nil},
		{Value: s.Hostname, Omit: s.Hostname == ""},
	})
}

func (s *SASLInit) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, s.Descriptor(),
		encoding.UnmarshalField{Field: &s.Mechanism},
		encoding.UnmarshalField{Field: &s.InitialResponse},
		encoding.UnmarshalField{Field: &s.Hostname},
	)
}

// SASLChallenge is the SASL-CHALLENGE performative (descriptor 0x42).
type SASLChallenge struct {
	Challenge []byte
}

func (*SASLChallenge) Descriptor() uint64 { return uint64(encoding.TypeCodeSASLChallenge) }

func (c *SASLChallenge) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, c.Descriptor(), []encoding.Field{{Value: c.Challenge}})
}

func (c *SASLChallenge) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, c.Descriptor(), encoding.UnmarshalField{Field: &c.Challenge})
}

// SASLResponse is the SASL-RESPONSE performative (descriptor 0x43).
type SASLResponse struct {
	Response []byte
}

func (*SASLResponse) Descriptor() uint64 { return uint64(encoding.TypeCodeSASLResponse) }

func (r *SASLResponse) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, r.Descriptor(), []encoding.Field{{Value: r.Response}})
}

func (resp *SASLResponse) Unmarshal(r *buffer.Buffer) error {
	return encoding.UnmarshalComposite(r, resp.Descriptor(), encoding.UnmarshalField{Field: &resp.Response})
}

// SASLCode is the outcome code carried by SASL-OUTCOME.
type SASLCode uint8

// SASL outcome codes, per RFC 4422 §3.1 as adopted by AMQP 1.0 SASL.
const (
	SASLCodeOK      SASLCode = 0
	SASLCodeAuth    SASLCode = 1
	SASLCodeSys     SASLCode = 2
	SASLCodeSysPerm SASLCode = 3
	SASLCodeSysTemp SASLCode = 4
)

// SASLOutcome is the SASL-OUTCOME performative (descriptor 0x44).
type SASLOutcome struct {
	Code           SASLCode
	AdditionalData []byte
}

func (*SASLOutcome) Descriptor() uint64 { return uint64(encoding.TypeCodeSASLOutcome) }

func (o *SASLOutcome) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, o.Descriptor(), []encoding.Field{
		{Value: uint8(o.Code)},
		{Value: o.AdditionalData, Omit: o.AdditionalData == nil},
	})
}

func (o *SASLOutcome) Unmarshal(r *buffer.Buffer) error {
	var code uint8
	err := encoding.UnmarshalComposite(r, o.Descriptor(),
		encoding.UnmarshalField{Field: &code},
		encoding.UnmarshalField{Field: &o.AdditionalData},
	)
	o.Code = SASLCode(code)
	return err
}

// symbolArray marshals/unmarshals an AMQP array of symbols. Only a single
// trailing field of this shape appears in the closed SASL performative
// set (SASL-MECHANISMS' mechanisms list), so a minimal array encoding
// (reusing the list encoding, which every element type here supports)
// is sufficient.
type symbolArray []encoding.Symbol

func (a symbolArray) Marshal(wr *buffer.Buffer) error {
	fields := make([]encoding.Field, len(a))
	for i, s := range a {
		fields[i] = encoding.Field{Value: s}
	}
	// Reuse the list encoding machinery via a 0-descriptor composite is
	// not applicable (arrays aren't composites); encode as a plain list
	// whose elements happen to all be symbols.
	return encoding.MarshalList(wr, fields)
}

func (a *symbolArray) Unmarshal(r *buffer.Buffer) error {
	count, err := encoding.UnmarshalListHeader(r)
	if err != nil {
		return err
	}
	out := make([]encoding.Symbol, count)
	for i := range out {
		if err := encoding.Unmarshal(r, &out[i]); err != nil {
			return err
		}
	}
	*a = out
	return nil
}
