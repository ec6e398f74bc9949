// Package mechanism implements the SASL mechanism plug-in capability
// (C8, spec.md §3.6's external collaborator): a Mechanism supplies the
// mechanism name advertised in SASL-INIT and the bytes of its initial
// response. ANONYMOUS and PLAIN are the only two shipped here; deriving
// credentials from a broker or supporting SCRAM/Kerberos is out of scope.
package mechanism

// Mechanism is the capability every SASL mechanism plug-in implements.
type Mechanism interface {
	// Name is the SASL mechanism name, as advertised in SASL-INIT's
	// mechanism field (e.g. "PLAIN", "ANONYMOUS").
	Name() string

	// InitialResponse returns the bytes to send as SASL-INIT's
	// initial-response field. A nil/empty slice is valid.
	InitialResponse() []byte
}

// ChallengeResponder is an optional capability for mechanisms that need
// a real multi-step challenge/response exchange. A mechanism that does
// not implement it gets an empty SASL-RESPONSE for every SASL-CHALLENGE
// (see internal/saslio).
type ChallengeResponder interface {
	// Respond computes the SASL-RESPONSE bytes for a received
	// SASL-CHALLENGE's challenge field.
	Respond(challenge []byte) ([]byte, error)
}

// Anonymous is the ANONYMOUS SASL mechanism (RFC 4505): it carries no
// credentials and its initial response is always empty.
type Anonymous struct{}

func (Anonymous) Name() string            { return "ANONYMOUS" }
func (Anonymous) InitialResponse() []byte { return nil }

// Plain is the PLAIN SASL mechanism (RFC 4616): its initial response is
// the NUL-separated triple authzid\0authcid\0passwd.
type Plain struct {
	Authzid string
	Authcid string
	Passwd  string
}

func (Plain) Name() string { return "PLAIN" }

func (p Plain) InitialResponse() []byte {
	out := make([]byte, 0, len(p.Authzid)+len(p.Authcid)+len(p.Passwd)+2)
	out = append(out, p.Authzid...)
	out = append(out, 0)
	out = append(out, p.Authcid...)
	out = append(out, 0)
	out = append(out, p.Passwd...)
	return out
}
