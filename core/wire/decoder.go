package wire

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Decoder reads what an Encoder wrote. Like Encoder, the first failure sticks
// and all later reads return zero values.
type Decoder struct {
	r     *msgp.Reader
	reg   *Registry
	limit int64
	err   error
}

// NewDecoder resolves nested discriminators through reg, or DefaultRegistry
// if reg is nil, and rejects lengths above reg.MaxPayload. The decoder
// buffers, so a stream of envelopes must be read through one Decoder.
func NewDecoder(r io.Reader, reg *Registry) *Decoder {
	if reg == nil {
		reg = DefaultRegistry
	}
	return &Decoder{r: msgp.NewReader(r), reg: reg, limit: int64(reg.MaxPayload())}
}

func (d *Decoder) Err() error { return d.err }

// More reports whether another value follows in the stream.
func (d *Decoder) More() bool {
	if d.err != nil {
		return false
	}
	p, _ := d.r.R.Peek(1)
	return len(p) > 0
}

// Fail lets a message reject a decoded value.
func (d *Decoder) Fail(err error) {
	if d.err == nil && err != nil {
		d.err = err
	}
}

func (d *Decoder) fail(err error) {
	if d.err != nil || err == nil {
		return
	}
	cause := msgp.Cause(err)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(cause, io.EOF), errors.Is(cause, io.ErrUnexpectedEOF):
		d.err = ErrTruncated
	default:
		d.err = fmt.Errorf("%w: %w", ErrMalformed, err)
	}
}

// checkLen fails the decoder when a length header exceeds the payload cap,
// before anything is allocated for it.
func (d *Decoder) checkLen(n uint32, what string) bool {
	if int64(n) > d.limit {
		d.err = fmt.Errorf("%w: %s length %d exceeds %d", ErrMalformed, what, n, d.limit)
		return false
	}
	return true
}

// readRaw reads n bytes after a header has been checked.
func (d *Decoder) readRaw(n uint32) []byte {
	buf := make([]byte, n)
	if _, err := d.r.ReadFull(buf); err != nil {
		d.fail(err)
		return nil
	}
	return buf
}

func (d *Decoder) ReadBool() bool {
	if d.err != nil {
		return false
	}
	v, err := d.r.ReadBool()
	d.fail(err)
	return v
}

func (d *Decoder) ReadInt64() int64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadInt64()
	d.fail(err)
	return v
}

func (d *Decoder) ReadInt() int { return int(d.ReadInt64()) }

func (d *Decoder) ReadFloat64() float64 {
	if d.err != nil {
		return 0
	}
	v, err := d.r.ReadFloat64()
	d.fail(err)
	return v
}

func (d *Decoder) ReadString() string {
	if d.err != nil {
		return ""
	}
	n, err := d.r.ReadStringHeader()
	if err != nil {
		d.fail(err)
		return ""
	}
	if !d.checkLen(n, "string") {
		return ""
	}
	return string(d.readRaw(n))
}

// ReadBytes returns nil for an empty payload.
func (d *Decoder) ReadBytes() []byte {
	if d.err != nil {
		return nil
	}
	n, err := d.r.ReadBytesHeader()
	if err != nil {
		d.fail(err)
		return nil
	}
	if n == 0 || !d.checkLen(n, "bytes") {
		return nil
	}
	return d.readRaw(n)
}

func (d *Decoder) ReadDuration() time.Duration { return time.Duration(d.ReadInt64()) }

// ReadTime returns times in UTC without a monotonic reading, so a decoded
// time equals a UTC original under ==. Compare others with Equal.
func (d *Decoder) ReadTime() time.Time {
	n := d.ReadInt64()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (d *Decoder) ReadArrayHeader() int {
	if d.err != nil {
		return 0
	}
	n, err := d.r.ReadArrayHeader()
	d.fail(err)
	if err != nil || !d.checkLen(n, "array") {
		return 0
	}
	return int(n)
}

func (d *Decoder) ReadMapHeader() int {
	if d.err != nil {
		return 0
	}
	n, err := d.r.ReadMapHeader()
	d.fail(err)
	if err != nil || !d.checkLen(n, "map") {
		return 0
	}
	return int(n)
}

// ReadStrings returns nil for an empty list.
func (d *Decoder) ReadStrings() []string {
	n := d.ReadArrayHeader()
	if n == 0 {
		return nil
	}
	out := make([]string, 0, min(n, 1024))
	for range n {
		s := d.ReadString()
		if d.err != nil {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// ReadMessage reads one envelope. It returns nil both for an absent value and
// on failure; check Err to tell them apart. The payload is never read when the
// discriminator is unknown or oversize.
func (d *Decoder) ReadMessage() Message {
	if !d.ReadBool() {
		return nil
	}
	sz, err := d.r.ReadStringHeader()
	if err != nil {
		d.fail(err)
		return nil
	}
	if sz > MaxDiscriminatorLen {
		d.err = &ProtocolError{Op: "decode", Err: fmt.Errorf("%w: %d bytes", ErrDiscriminatorTooLong, sz)}
		return nil
	}
	buf := d.readRaw(sz)
	if d.err != nil {
		return nil
	}
	name := string(buf)

	f, ok := d.reg.Lookup(name)
	if !ok {
		d.err = &ProtocolError{Op: "decode", Discriminator: name, Err: ErrUnknownType}
		return nil
	}
	m := f()
	if err := m.UnmarshalWire(d); err != nil {
		d.Fail(fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	if d.err != nil {
		var pe *ProtocolError
		if !errors.As(d.err, &pe) {
			d.err = &ProtocolError{Op: "decode", Discriminator: name, Err: d.err}
		}
		return nil
	}
	return m
}
