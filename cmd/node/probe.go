package main

import (
	"context"
	"runtime"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/deposit"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

func registerMessages(r *wire.Registry) {
	wire.MustRegisterType[Probe](r)
	wire.MustRegisterType[ProbeReport](r)
}

// Probe asks every node of Group to report on itself. Probes with the same
// Tag share one transaction.
type Probe struct {
	Group string
	Tag   string
}

func (*Probe) MessageType() string  { return "node.Probe" }
func (m *Probe) DepositKey() string { return m.Group + "/" + m.Tag }

func (m *Probe) MarshalWire(e *wire.Encoder) error {
	e.WriteString(m.Group)
	e.WriteString(m.Tag)
	return nil
}

func (m *Probe) UnmarshalWire(d *wire.Decoder) error {
	m.Group = d.ReadString()
	m.Tag = d.ReadString()
	return nil
}

func (m *Probe) Generate(_ context.Context, nc transport.Context, counter *deposit.UnitCounter) (wire.Message, error) {
	counter.SetToBeDone(1)
	r := &ProbeReport{
		Node:       nc.Name(),
		At:         time.Now(),
		Goroutines: runtime.NumGoroutine(),
	}
	if h, ok := nc.(deposit.BoxHolder); ok {
		st := h.SafeDepositBox().Stats()
		r.Drawers = st.Active
		r.Filling = st.Filling
	}
	counter.Inc()
	return r, nil
}

type ProbeReport struct {
	Node       string    `json:"node"`
	At         time.Time `json:"at"`
	Goroutines int       `json:"goroutines"`
	Drawers    int       `json:"drawers"`
	Filling    int       `json:"filling"`
}

func (*ProbeReport) MessageType() string { return "node.ProbeReport" }

func (m *ProbeReport) MarshalWire(e *wire.Encoder) error {
	e.WriteString(m.Node)
	e.WriteTime(m.At)
	e.WriteInt(m.Goroutines)
	e.WriteInt(m.Drawers)
	e.WriteInt(m.Filling)
	return nil
}

func (m *ProbeReport) UnmarshalWire(d *wire.Decoder) error {
	m.Node = d.ReadString()
	m.At = d.ReadTime()
	m.Goroutines = d.ReadInt()
	m.Drawers = d.ReadInt()
	m.Filling = d.ReadInt()
	return nil
}

var (
	_ deposit.Task = (*Probe)(nil)
	_ wire.Message = (*ProbeReport)(nil)
)
