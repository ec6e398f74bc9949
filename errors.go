package amqp

import (
	"errors"
	"fmt"

	"github.com/amqp10/engine/internal/encoding"
)

// ErrCond is an AMQP defined error condition.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error for info on their meaning.
type ErrCond = encoding.ErrCond

// Error Conditions
const (
	// AMQP Errors
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	// Connection Errors
	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"

	// Session Errors
	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"
)

// Error is a described AMQP error composite: condition, description and
// an optional info map, the payload carried by CLOSE and END.
type Error = encoding.Error

// DetachError describes an endpoint torn down with an error; RemoteError
// is nil for a graceful close. No operation in this package returns it.
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("amqp: endpoint detached, reason: %+v", e.RemoteError)
}

// Errors
var (
	// ErrSessionClosed names a session that has ended. Session methods
	// do not return it: Transfer on a session that is not Mapped (for
	// example after Close or a peer END) returns a plain error instead.
	ErrSessionClosed = errors.New("amqp: session closed")

	// ErrPayloadTooLarge is returned by Session.Transfer when the
	// performative plus payload would exceed the remote peer's
	// max-frame-size. The engine refuses rather than silently
	// fragmenting or truncating a transfer.
	ErrPayloadTooLarge = errors.New("amqp: transfer payload exceeds remote max-frame-size")
)

// ConnectionError describes a connection that has closed or is no longer
// functional. Sessions learn of connection state through their state
// callbacks; no operation in this package returns a ConnectionError.
type ConnectionError struct {
	inner error
}

func (c *ConnectionError) Error() string {
	if c.inner == nil {
		return "amqp: connection closed"
	}
	return c.inner.Error()
}

func (c *ConnectionError) Unwrap() error { return c.inner }
