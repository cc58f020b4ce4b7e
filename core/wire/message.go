package wire

import (
	"reflect"

	"github.com/cloudtrends/semanticdiscoverytoolkit-sub016/internal/reflector"
)

// MaxDiscriminatorLen bounds the discriminator in bytes.
const MaxDiscriminatorLen = 1024

// Message is a value that can write and read its own payload. MarshalWire and
// UnmarshalWire must be exact inverses.
type Message interface {
	MarshalWire(e *Encoder) error
	UnmarshalWire(d *Decoder) error
}

// Typed lets a message pick its discriminator. Without it the fully
// qualified Go type name is used.
type Typed interface {
	MessageType() string
}

// TypeName returns the discriminator of m.
func TypeName(m Message) (string, error) {
	if t, ok := m.(Typed); ok {
		return checkName(t.MessageType())
	}
	return checkName(reflector.TypeInfoOf(m).Name)
}

func checkName(name string) (string, error) {
	switch {
	case name == "":
		return "", ErrInvalidDiscriminator
	case len(name) > MaxDiscriminatorLen:
		return name, ErrDiscriminatorTooLong
	}
	return name, nil
}

func isAbsent(m Message) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
