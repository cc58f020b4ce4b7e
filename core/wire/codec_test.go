package wire

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Flag    bool
	Count   int64
	Ratio   float64
	Name    string
	Blob    []byte
	Tags    []string
	Took    time.Duration
	At      time.Time
	Inner   Message
	Payload map[string]int64
}

func (s *sample) MarshalWire(e *Encoder) error {
	e.WriteBool(s.Flag)
	e.WriteInt64(s.Count)
	e.WriteFloat64(s.Ratio)
	e.WriteString(s.Name)
	e.WriteBytes(s.Blob)
	e.WriteStrings(s.Tags)
	e.WriteDuration(s.Took)
	e.WriteTime(s.At)
	e.WriteMessage(s.Inner)
	e.WriteMapHeader(len(s.Payload))
	for k, v := range s.Payload {
		e.WriteString(k)
		e.WriteInt64(v)
	}
	return nil
}

func (s *sample) UnmarshalWire(d *Decoder) error {
	s.Flag = d.ReadBool()
	s.Count = d.ReadInt64()
	s.Ratio = d.ReadFloat64()
	s.Name = d.ReadString()
	s.Blob = d.ReadBytes()
	s.Tags = d.ReadStrings()
	s.Took = d.ReadDuration()
	s.At = d.ReadTime()
	s.Inner = d.ReadMessage()
	if n := d.ReadMapHeader(); n > 0 {
		s.Payload = make(map[string]int64, n)
		for range n {
			k := d.ReadString()
			s.Payload[k] = d.ReadInt64()
		}
	}
	return d.Err()
}

type rejecting struct{}

func (*rejecting) MarshalWire(*Encoder) error { return nil }
func (*rejecting) UnmarshalWire(*Decoder) error {
	return errors.New("never valid")
}

type longName struct{}

func (*longName) MessageType() string          { return strings.Repeat("x", MaxDiscriminatorLen+1) }
func (*longName) MarshalWire(*Encoder) error   { return nil }
func (*longName) UnmarshalWire(*Decoder) error { return nil }

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, RegisterType[sample](r))
	require.NoError(t, RegisterType[rejecting](r))
	return r
}

func TestCodec_RoundTrip(t *testing.T) {
	r := testRegistry(t)

	cases := []Message{
		&sample{},
		&sample{
			Flag:    true,
			Count:   -42,
			Ratio:   0.25,
			Name:    "héllo",
			Blob:    []byte{0, 1, 2, 255},
			Tags:    []string{"a", "", "c"},
			Took:    1500 * time.Millisecond,
			At:      time.Unix(1700000000, 123456789).UTC(),
			Inner:   &Text{Body: "nested"},
			Payload: map[string]int64{"n1": 1, "n2": 2},
		},
		&sample{Inner: &sample{Name: "two levels", Inner: &Ack{}}},
		&Ack{},
		&Text{Body: ""},
		&RemoteError{Node: "n1", Type: "io", Message: "disk full"},
	}

	for _, m := range cases {
		b, err := r.Encode(m)
		require.NoError(t, err)

		got, err := r.Decode(b)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestCodec_Absent(t *testing.T) {
	r := testRegistry(t)

	b, err := r.Encode(nil)
	require.NoError(t, err)
	got, err := r.Decode(b)
	require.NoError(t, err)
	require.Nil(t, got)

	var typedNil *Text
	b, err = r.Encode(typedNil)
	require.NoError(t, err)
	got, err = r.Decode(b)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCodec_Truncated(t *testing.T) {
	r := testRegistry(t)
	b, err := r.Encode(&sample{Name: "some name", Tags: []string{"x", "y"}, Inner: &Text{Body: "t"}})
	require.NoError(t, err)

	for i := 0; i < len(b); i++ {
		got, err := r.Decode(b[:i])
		require.Nil(t, got, "prefix %d", i)
		require.ErrorIs(t, err, ErrTruncated, "prefix %d", i)
		require.True(t, IsProtocolError(err))
	}
}

func TestCodec_UnknownType(t *testing.T) {
	b, err := testRegistry(t).Encode(&sample{Name: "x"})
	require.NoError(t, err)

	got, err := NewRegistry().Decode(b)
	require.Nil(t, got)
	require.ErrorIs(t, err, ErrUnknownType)

	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "decode", pe.Op)
	require.Contains(t, pe.Discriminator, "wire.sample")
}

func TestCodec_DiscriminatorTooLong(t *testing.T) {
	_, err := Encode(&longName{})
	require.ErrorIs(t, err, ErrDiscriminatorTooLong)

	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.WriteBool(true)
	e.WriteString(strings.Repeat("y", MaxDiscriminatorLen+1))
	require.NoError(t, e.Flush())

	got, err := Decode(buf.Bytes())
	require.Nil(t, got)
	require.ErrorIs(t, err, ErrDiscriminatorTooLong)
}

func TestCodec_OversizedLength(t *testing.T) {
	frame := func(header ...byte) []byte {
		b := []byte{0xc3, 0xa9}
		b = append(b, "wire.Text"...)
		return append(b, header...)
	}
	cases := map[string][]byte{
		"str32 1GiB":   frame(0xdb, 0x40, 0, 0, 0),
		"str32 4GiB":   frame(0xdb, 0xff, 0xff, 0xff, 0xff),
		"bin32 as str": frame(0xc6, 0x40, 0, 0, 0),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := Decode(b)
			require.Nil(t, got)
			require.ErrorIs(t, err, ErrMalformed)
			require.True(t, IsProtocolError(err))
		})
	}
}

func TestCodec_MaxPayload(t *testing.T) {
	r := testRegistry(t)
	require.Equal(t, DefaultMaxPayload, r.MaxPayload())

	text, err := r.Encode(&Text{Body: "nine byte"})
	require.NoError(t, err)
	list, err := r.Encode(&sample{Tags: make([]string, 16)})
	require.NoError(t, err)
	blob, err := r.Encode(&sample{Blob: make([]byte, 16)})
	require.NoError(t, err)

	r.SetMaxPayload(8)
	for _, b := range [][]byte{text, list, blob} {
		got, err := r.Decode(b)
		require.Nil(t, got)
		require.ErrorIs(t, err, ErrMalformed)
	}

	r.SetMaxPayload(0)
	require.Equal(t, DefaultMaxPayload, r.MaxPayload())
	got, err := r.Decode(text)
	require.NoError(t, err)
	require.Equal(t, &Text{Body: "nine byte"}, got)
}

func TestCodec_TimeIsUTC(t *testing.T) {
	r := testRegistry(t)
	at := time.Date(2024, 3, 1, 12, 30, 0, 42, time.FixedZone("x", 3600))

	b, err := r.Encode(&sample{At: at})
	require.NoError(t, err)
	got, err := r.Decode(b)
	require.NoError(t, err)

	decoded := got.(*sample).At
	require.Equal(t, time.UTC, decoded.Location())
	require.True(t, at.Equal(decoded))
	require.Equal(t, at.UTC(), decoded)
}

func TestCodec_PayloadRejected(t *testing.T) {
	r := testRegistry(t)
	b, err := r.Encode(&rejecting{})
	require.NoError(t, err)

	got, err := r.Decode(b)
	require.Nil(t, got)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestCodec_Stream(t *testing.T) {
	var buf bytes.Buffer
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, Write(&buf, &Text{Body: body}))
	}
	require.NoError(t, Write(&buf, nil))

	d := NewDecoder(&buf, nil)
	for _, body := range []string{"a", "b", "c"} {
		require.True(t, d.More())
		m := d.ReadMessage()
		require.NoError(t, d.Err())
		require.Equal(t, &Text{Body: body}, m)
	}
	require.Nil(t, d.ReadMessage())
	require.NoError(t, d.Err())
	require.False(t, d.More())

	require.Nil(t, d.ReadMessage())
	require.ErrorIs(t, d.Err(), ErrTruncated)
}
