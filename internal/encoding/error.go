package encoding

import (
	"fmt"

	"github.com/amqp10/engine/internal/buffer"
)

// Error is the AMQP error composite (descriptor 0x1d), carried on CLOSE,
// END and DETACH performatives per spec.md §7.
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[string]interface{}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Condition, e.Description)
	}
	return string(e.Condition)
}

func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, uint64(TypeCodeError), []Field{
		{Value: e.Condition},
		{Value: e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

func (e *Error) Unmarshal(r *buffer.Buffer) error {
	return UnmarshalComposite(r, uint64(TypeCodeError),
		UnmarshalField{Field: &e.Condition},
		UnmarshalField{Field: &e.Description},
		UnmarshalField{Field: &e.Info},
	)
}
