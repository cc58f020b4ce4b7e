package wire

import (
	"fmt"
	"io"
	"time"

	"github.com/tinylib/msgp/msgp"
)

// Encoder writes primitives and nested envelopes. The first failure sticks:
// later writes are skipped and Err reports it.
type Encoder struct {
	w   *msgp.Writer
	err error
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: msgp.NewWriter(w)}
}

func (e *Encoder) Err() error { return e.err }

// Fail records err unless an earlier error is already recorded.
func (e *Encoder) Fail(err error) {
	if e.err == nil && err != nil {
		e.err = err
	}
}

func (e *Encoder) WriteBool(v bool) {
	if e.err == nil {
		e.err = e.w.WriteBool(v)
	}
}

func (e *Encoder) WriteInt64(v int64) {
	if e.err == nil {
		e.err = e.w.WriteInt64(v)
	}
}

func (e *Encoder) WriteInt(v int) { e.WriteInt64(int64(v)) }

func (e *Encoder) WriteFloat64(v float64) {
	if e.err == nil {
		e.err = e.w.WriteFloat64(v)
	}
}

func (e *Encoder) WriteString(v string) {
	if e.err == nil {
		e.err = e.w.WriteString(v)
	}
}

// WriteBytes writes nil and empty slices identically.
func (e *Encoder) WriteBytes(v []byte) {
	if e.err == nil {
		e.err = e.w.WriteBytes(v)
	}
}

func (e *Encoder) WriteDuration(v time.Duration) { e.WriteInt64(int64(v)) }

// WriteTime keeps nanosecond precision. The zero time round trips as zero;
// location and monotonic reading are dropped and ReadTime yields UTC.
func (e *Encoder) WriteTime(v time.Time) {
	if v.IsZero() {
		e.WriteInt64(0)
		return
	}
	e.WriteInt64(v.UnixNano())
}

func (e *Encoder) WriteArrayHeader(n int) {
	if e.err == nil {
		e.err = e.w.WriteArrayHeader(uint32(n))
	}
}

func (e *Encoder) WriteMapHeader(n int) {
	if e.err == nil {
		e.err = e.w.WriteMapHeader(uint32(n))
	}
}

func (e *Encoder) WriteStrings(v []string) {
	e.WriteArrayHeader(len(v))
	for _, s := range v {
		e.WriteString(s)
	}
}

// WriteMessage writes m in its own envelope. A nil m, including a typed nil
// pointer, is written as absent.
func (e *Encoder) WriteMessage(m Message) {
	if e.err != nil {
		return
	}
	if isAbsent(m) {
		e.WriteBool(false)
		return
	}
	name, err := TypeName(m)
	if err != nil {
		e.err = &ProtocolError{Op: "encode", Discriminator: name, Err: err}
		return
	}
	e.WriteBool(true)
	e.WriteString(name)
	if e.err != nil {
		return
	}
	if err := m.MarshalWire(e); err != nil {
		e.Fail(&ProtocolError{Op: "encode", Discriminator: name, Err: fmt.Errorf("%w: %w", ErrMalformed, err)})
	}
}

// Flush pushes buffered bytes to the underlying writer.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	e.err = e.w.Flush()
	return e.err
}
