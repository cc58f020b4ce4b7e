package transport

import (
	"context"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

func init() {
	RegisterMessages(wire.DefaultRegistry)
}

// RegisterMessages adds the transport's own messages to r.
func RegisterMessages(r *wire.Registry) {
	wire.MustRegisterType[ShutdownRequest](r)
	wire.MustRegisterType[Ping](r)
	wire.MustRegisterType[Pong](r)
}

// ShutdownRequest is acknowledged immediately; the node stops Delay later.
type ShutdownRequest struct {
	Delay time.Duration
}

func (*ShutdownRequest) MessageType() string { return "transport.ShutdownRequest" }

func (m *ShutdownRequest) MarshalWire(e *wire.Encoder) error {
	e.WriteDuration(m.Delay)
	return nil
}

func (m *ShutdownRequest) UnmarshalWire(d *wire.Decoder) error {
	m.Delay = d.ReadDuration()
	return nil
}

func (m *ShutdownRequest) Respond(context.Context, Context) (wire.Message, error) {
	return &wire.Ack{}, nil
}

func (m *ShutdownRequest) Handle(_ context.Context, nc Context) error {
	sd, ok := nc.(Shutdowner)
	if !ok {
		return ErrNotSupported
	}
	sd.RequestShutdown(m.Delay)
	return nil
}

// Ping asks a node for its name and clock.
type Ping struct{}

func (*Ping) MessageType() string               { return "transport.Ping" }
func (*Ping) MarshalWire(*wire.Encoder) error   { return nil }
func (*Ping) UnmarshalWire(*wire.Decoder) error { return nil }

func (*Ping) Respond(_ context.Context, nc Context) (wire.Message, error) {
	return &Pong{Node: nc.Name(), Time: time.Now()}, nil
}

type Pong struct {
	Node string
	Time time.Time
}

func (*Pong) MessageType() string { return "transport.Pong" }

func (m *Pong) MarshalWire(e *wire.Encoder) error {
	e.WriteString(m.Node)
	e.WriteTime(m.Time)
	return nil
}

func (m *Pong) UnmarshalWire(d *wire.Decoder) error {
	m.Node = d.ReadString()
	m.Time = d.ReadTime()
	return nil
}

var (
	_ Responder = (*ShutdownRequest)(nil)
	_ Handler   = (*ShutdownRequest)(nil)
	_ Responder = (*Ping)(nil)
)
