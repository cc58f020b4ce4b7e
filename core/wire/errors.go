package wire

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated            = errors.New("truncated input")
	ErrMalformed            = errors.New("malformed input")
	ErrUnknownType          = errors.New("unknown message type")
	ErrDiscriminatorTooLong = errors.New("discriminator too long")
	ErrInvalidDiscriminator = errors.New("invalid discriminator")
	ErrDuplicateType        = errors.New("discriminator already registered")
)

// ProtocolError is returned for any failure to encode or decode an envelope.
// Protocol errors are final for the exchange they occur in.
type ProtocolError struct {
	Op            string // "encode" or "decode"
	Discriminator string
	Err           error
}

func (e *ProtocolError) Error() string {
	if e.Discriminator != "" {
		return fmt.Sprintf("wire %s %q: %v", e.Op, e.Discriminator, e.Err)
	}
	return fmt.Sprintf("wire %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
