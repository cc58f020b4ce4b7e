// Package wire encodes polymorphic, self-describing messages.
//
// Every value travels in an envelope:
//
//	[present bool][discriminator string][payload]
//
// An absent value is a single false. The discriminator names the concrete
// type and is resolved on the receiving side through a [Registry] to a
// factory producing a blank instance, which then reads its own payload from
// the [Decoder]. Payloads may contain nested envelopes via
// [Encoder.WriteMessage] and [Decoder.ReadMessage].
//
// Primitives are framed with MessagePack, so each record is self-delimiting
// and several envelopes can be written back to back on one stream.
//
//	type Ping struct{ Seq int64 }
//
//	func (p *Ping) MarshalWire(e *wire.Encoder) error   { e.WriteInt64(p.Seq); return nil }
//	func (p *Ping) UnmarshalWire(d *wire.Decoder) error { p.Seq = d.ReadInt64(); return nil }
//
//	wire.MustRegisterType[Ping](wire.DefaultRegistry)
//	b, _ := wire.Encode(&Ping{Seq: 1})
//	m, _ := wire.Decode(b) // *Ping
package wire
