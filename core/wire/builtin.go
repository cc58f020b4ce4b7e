package wire

// Ack is an empty acknowledgement.
type Ack struct{}

func (*Ack) MessageType() string          { return "wire.Ack" }
func (*Ack) MarshalWire(*Encoder) error   { return nil }
func (*Ack) UnmarshalWire(*Decoder) error { return nil }

// Text carries a string. Echo handlers and tests use it.
type Text struct {
	Body string
}

func (*Text) MessageType() string { return "wire.Text" }

func (t *Text) MarshalWire(e *Encoder) error {
	e.WriteString(t.Body)
	return nil
}

func (t *Text) UnmarshalWire(d *Decoder) error {
	t.Body = d.ReadString()
	return nil
}

// RemoteError carries a handler failure back to the sender.
type RemoteError struct {
	Node    string
	Type    string
	Message string
}

func (*RemoteError) MessageType() string { return "wire.RemoteError" }

func (r *RemoteError) Error() string {
	if r.Node != "" {
		return "remote " + r.Node + ": " + r.Message
	}
	return "remote: " + r.Message
}

func (r *RemoteError) MarshalWire(e *Encoder) error {
	e.WriteString(r.Node)
	e.WriteString(r.Type)
	e.WriteString(r.Message)
	return nil
}

func (r *RemoteError) UnmarshalWire(d *Decoder) error {
	r.Node = d.ReadString()
	r.Type = d.ReadString()
	r.Message = d.ReadString()
	return nil
}

func registerBuiltins(r *Registry) {
	r.byName["wire.Ack"] = func() Message { return &Ack{} }
	r.typeFor["wire.Ack"] = typeOf[*Ack]()
	r.byName["wire.Text"] = func() Message { return &Text{} }
	r.typeFor["wire.Text"] = typeOf[*Text]()
	r.byName["wire.RemoteError"] = func() Message { return &RemoteError{} }
	r.typeFor["wire.RemoteError"] = typeOf[*RemoteError]()
}
