package deposit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/transport"
	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/core/wire"
)

func init() {
	RegisterMessages(wire.DefaultRegistry)
}

// RegisterMessages adds the deposit protocol messages to r. Task types are
// registered by the packages that define them.
func RegisterMessages(r *wire.Registry) {
	wire.MustRegisterType[Deposit](r)
	wire.MustRegisterType[Receipt](r)
	wire.MustRegisterType[Withdrawal](r)
}

// Code is the outcome of a withdrawal.
type Code int

const (
	// CodeNoDeposit: the drawer exists but its task has not finished.
	CodeNoDeposit Code = iota
	// CodeExpired: the drawer was reserved here but is gone.
	CodeExpired
	CodeRetrieved
	// CodeUnreserved: the claim was never handed out by this box.
	CodeUnreserved
)

func (c Code) String() string {
	switch c {
	case CodeNoDeposit:
		return "no_deposit"
	case CodeExpired:
		return "expired"
	case CodeRetrieved:
		return "retrieved"
	case CodeUnreserved:
		return "unreserved"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Task is the work a Deposit carries to each node. DepositKey identifies
// equal tasks so that resubmissions find the drawer of an earlier one.
type Task interface {
	wire.Message
	DepositKey() string
	// Generate does the work on the receiving node, reporting progress on
	// counter.
	Generate(ctx context.Context, nc transport.Context, counter *UnitCounter) (wire.Message, error)
}

// Withdrawal is what a node hands back for a claim.
type Withdrawal struct {
	ClaimNumber int64
	Code        Code
	// Contents is set when Code is CodeRetrieved and the task succeeded.
	Contents wire.Message
	// Err is the task's error text when it failed.
	Err       string
	Node      string
	Opened    time.Time
	Deposited time.Time
	Withdrawn time.Time
	Expires   time.Time
}

func (*Withdrawal) MessageType() string { return "deposit.Withdrawal" }

func (w *Withdrawal) fillFrom(d *drawer) {
	w.Opened = d.opened
	w.Deposited = d.deposited
	w.Withdrawn = d.withdrawn
	w.Expires = d.expires
}

// Failed reports whether the task ran and returned an error.
func (w *Withdrawal) Failed() bool { return w.Code == CodeRetrieved && w.Err != "" }

func (w *Withdrawal) MarshalWire(e *wire.Encoder) error {
	e.WriteInt64(w.ClaimNumber)
	e.WriteInt(int(w.Code))
	e.WriteMessage(w.Contents)
	e.WriteString(w.Err)
	e.WriteString(w.Node)
	e.WriteTime(w.Opened)
	e.WriteTime(w.Deposited)
	e.WriteTime(w.Withdrawn)
	e.WriteTime(w.Expires)
	return nil
}

func (w *Withdrawal) UnmarshalWire(d *wire.Decoder) error {
	w.ClaimNumber = d.ReadInt64()
	w.Code = Code(d.ReadInt())
	w.Contents = d.ReadMessage()
	w.Err = d.ReadString()
	w.Node = d.ReadString()
	w.Opened = d.ReadTime()
	w.Deposited = d.ReadTime()
	w.Withdrawn = d.ReadTime()
	w.Expires = d.ReadTime()
	return nil
}

// Receipt is a node's reply to a Deposit: the claim to present next time,
// the withdrawal if one was made, and the task's progress.
type Receipt struct {
	Node        string
	ClaimTicket int64
	Withdrawal  *Withdrawal
	// DoneSoFar and ToBeDone are -1 when unknown.
	DoneSoFar      int64
	ToBeDone       int64
	AvgTimePerUnit time.Duration
}

func (*Receipt) MessageType() string { return "deposit.Receipt" }

// Retrieved reports whether the receipt carries the task's result.
func (r *Receipt) Retrieved() bool {
	return r.Withdrawal != nil && r.Withdrawal.Code == CodeRetrieved
}

// RainCheck reports whether asking again may still yield a result.
func (r *Receipt) RainCheck() bool {
	if r.Withdrawal == nil {
		return true
	}
	return r.Withdrawal.Code != CodeRetrieved && r.Withdrawal.Code != CodeExpired
}

// KnowsProgress reports whether the node reported any progress figures.
func (r *Receipt) KnowsProgress() bool { return r.DoneSoFar >= 0 || r.ToBeDone >= 0 }

// EstimatedRemaining is the time the node expects to need for the units left.
func (r *Receipt) EstimatedRemaining() (time.Duration, bool) {
	if r.DoneSoFar < 0 || r.ToBeDone < 0 || r.AvgTimePerUnit <= 0 {
		return 0, false
	}
	left := r.ToBeDone - r.DoneSoFar
	if left < 0 {
		left = 0
	}
	return time.Duration(left) * r.AvgTimePerUnit, true
}

func (r *Receipt) MarshalWire(e *wire.Encoder) error {
	e.WriteString(r.Node)
	e.WriteInt64(r.ClaimTicket)
	e.WriteMessage(r.Withdrawal)
	e.WriteInt64(r.DoneSoFar)
	e.WriteInt64(r.ToBeDone)
	e.WriteDuration(r.AvgTimePerUnit)
	return nil
}

func (r *Receipt) UnmarshalWire(d *wire.Decoder) error {
	r.Node = d.ReadString()
	r.ClaimTicket = d.ReadInt64()
	if m := d.ReadMessage(); m != nil {
		w, ok := m.(*Withdrawal)
		if !ok {
			return fmt.Errorf("receipt withdrawal: %w: %T", ErrUnexpectedReply, m)
		}
		r.Withdrawal = w
	}
	r.DoneSoFar = d.ReadInt64()
	r.ToBeDone = d.ReadInt64()
	r.AvgTimePerUnit = d.ReadDuration()
	return nil
}

// Deposit submits Task to a node or asks for the result of an earlier
// submission. Claims maps node names to the claim tickets of earlier
// receipts; a node without an entry finds its drawer by the task's key.
//
// The node answers with a Receipt right away. If that receipt reserved a new
// drawer, the task runs afterwards on the node's handler pool and its result
// is deposited for a later withdrawal.
type Deposit struct {
	Claims map[string]int64
	// CloseBox incinerates the drawer once its contents are withdrawn.
	CloseBox bool
	// ForceRehandle runs the task again when its drawer expired.
	ForceRehandle bool
	FillTime      time.Duration
	Task          Task

	// Set by Respond for Handle on the receiving node.
	claim   int64
	counter *UnitCounter
}

func (*Deposit) MessageType() string { return "deposit.Deposit" }

func (m *Deposit) MarshalWire(e *wire.Encoder) error {
	e.WriteMapHeader(len(m.Claims))
	for node, claim := range m.Claims {
		e.WriteString(node)
		e.WriteInt64(claim)
	}
	e.WriteBool(m.CloseBox)
	e.WriteBool(m.ForceRehandle)
	e.WriteDuration(m.FillTime)
	e.WriteMessage(m.Task)
	return nil
}

func (m *Deposit) UnmarshalWire(d *wire.Decoder) error {
	if n := d.ReadMapHeader(); n > 0 {
		m.Claims = make(map[string]int64, n)
		for range n {
			node := d.ReadString()
			m.Claims[node] = d.ReadInt64()
		}
	}
	m.CloseBox = d.ReadBool()
	m.ForceRehandle = d.ReadBool()
	m.FillTime = d.ReadDuration()
	if msg := d.ReadMessage(); msg != nil {
		t, ok := msg.(Task)
		if !ok {
			return fmt.Errorf("deposit task: %w: %T", ErrUnexpectedReply, msg)
		}
		m.Task = t
	}
	return nil
}

func (m *Deposit) Respond(_ context.Context, nc transport.Context) (wire.Message, error) {
	holder, ok := nc.(BoxHolder)
	if !ok {
		return nil, ErrNoBox
	}
	if m.Task == nil {
		return nil, ErrNoTask
	}
	box := holder.SafeDepositBox()
	node := nc.Name()
	key := m.Task.DepositKey()

	var (
		withdrawal *Withdrawal
		counter    *UnitCounter
	)
	ticket, ok := m.Claims[node]
	if !ok {
		ticket, ok = box.Lookup(key)
	}
	if ok && box.WasReserved(ticket) {
		counter, _ = box.UnitCounter(ticket)
		withdrawal = box.Withdraw(ticket, m.CloseBox)
		switch {
		case withdrawal.Code == CodeExpired && m.ForceRehandle,
			withdrawal.Code == CodeUnreserved:
			withdrawal, counter, ok = nil, nil, false
		}
	} else {
		ok = false
	}

	if !ok {
		counter = NewUnitCounter()
		ticket = box.Reserve(m.FillTime, key, counter)
		m.claim, m.counter = ticket, counter
		nc.Log().Debug("drawer reserved",
			slog.String("key", key),
			slog.Int64("claim", ticket),
		)
	}

	r := &Receipt{
		Node:        node,
		ClaimTicket: ticket,
		Withdrawal:  withdrawal,
		DoneSoFar:   -1,
		ToBeDone:    -1,
	}
	if counter != nil {
		r.DoneSoFar = counter.DoneSoFar()
		r.ToBeDone = counter.ToBeDone()
		r.AvgTimePerUnit = counter.AverageTimePerUnit()
	}
	return r, nil
}

// Handle runs the task for a drawer reserved by Respond.
func (m *Deposit) Handle(ctx context.Context, nc transport.Context) error {
	if m.counter == nil {
		return nil
	}
	holder, ok := nc.(BoxHolder)
	if !ok {
		return ErrNoBox
	}
	box := holder.SafeDepositBox()

	m.counter.Start()
	contents, err := m.Task.Generate(ctx, nc, m.counter)
	m.counter.End()

	errText := ""
	if err != nil {
		errText = err.Error()
		nc.Log().Warn("deposit task failed",
			slog.String("key", m.Task.DepositKey()),
			slog.Int64("claim", m.claim),
			slog.Any("error", err),
		)
	}
	if !box.Deposit(m.claim, contents, errText) {
		nc.Log().Debug("drawer gone before deposit", slog.Int64("claim", m.claim))
	}
	return err
}

var (
	_ transport.Responder = (*Deposit)(nil)
	_ transport.Handler   = (*Deposit)(nil)
)
