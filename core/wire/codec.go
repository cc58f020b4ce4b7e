package wire

import (
	"bytes"
	"io"
)

// Encode returns the envelope of m. A nil m encodes as absent.
func (r *Registry) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Write(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode returns nil, nil for an absent value. Trailing bytes are ignored.
func (r *Registry) Decode(b []byte) (Message, error) {
	return r.Read(bytes.NewReader(b))
}

// Write encodes m to w. Registration is only needed on the decoding side, so
// r is unused here; the method exists for symmetry with Read.
func (r *Registry) Write(w io.Writer, m Message) error {
	e := NewEncoder(w)
	e.WriteMessage(m)
	return e.Flush()
}

// Read decodes exactly one envelope from rd. The underlying reader may be
// consumed past the envelope; use a Decoder to read a stream of records.
func (r *Registry) Read(rd io.Reader) (Message, error) {
	d := NewDecoder(rd, r)
	m := d.ReadMessage()
	if err := d.Err(); err != nil {
		return nil, asProtocolError(err)
	}
	return m, nil
}

func asProtocolError(err error) error {
	if IsProtocolError(err) {
		return err
	}
	return &ProtocolError{Op: "decode", Err: err}
}

// Encode encodes m with DefaultRegistry.
func Encode(m Message) ([]byte, error) { return DefaultRegistry.Encode(m) }

// Decode decodes one envelope from b with DefaultRegistry.
func Decode(b []byte) (Message, error) { return DefaultRegistry.Decode(b) }

// Write encodes m to w with DefaultRegistry.
func Write(w io.Writer, m Message) error { return DefaultRegistry.Write(w, m) }

// Read decodes one envelope from rd with DefaultRegistry.
func Read(rd io.Reader) (Message, error) { return DefaultRegistry.Read(rd) }
