package wire

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// DefaultMaxPayload bounds any single string, byte slice or collection
// length a Decoder will accept.
const DefaultMaxPayload = 64 << 20

// Factory returns a blank message ready for UnmarshalWire.
type Factory func() Message

type Registry struct {
	mu         sync.RWMutex
	byName     map[string]Factory
	typeFor    map[string]reflect.Type
	maxPayload atomic.Int64
}

// NewRegistry returns a registry that already knows Ack, Text and
// RemoteError.
func NewRegistry() *Registry {
	r := &Registry{
		byName:  make(map[string]Factory),
		typeFor: make(map[string]reflect.Type),
	}
	r.maxPayload.Store(DefaultMaxPayload)
	registerBuiltins(r)
	return r
}

// SetMaxPayload changes the length cap for decoders created afterwards.
// n <= 0 restores DefaultMaxPayload.
func (r *Registry) SetMaxPayload(n int) {
	if n <= 0 {
		n = DefaultMaxPayload
	}
	r.maxPayload.Store(int64(n))
}

func (r *Registry) MaxPayload() int { return int(r.maxPayload.Load()) }

func typeOf[T any]() reflect.Type { return reflect.TypeFor[T]() }

// DefaultRegistry backs the package level Encode/Decode helpers.
var DefaultRegistry = NewRegistry()

// Register binds name to f. Registering the same name again is a no-op when f
// produces the same type and fails with ErrDuplicateType otherwise.
func (r *Registry) Register(name string, f Factory) error {
	if _, err := checkName(name); err != nil {
		return fmt.Errorf("register %q: %w", name, err)
	}
	if f == nil {
		return fmt.Errorf("register %q: nil factory", name)
	}
	typ := reflect.TypeOf(f())

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.typeFor[name]; ok {
		if existing == typ {
			return nil
		}
		return fmt.Errorf("register %q as %s (have %s): %w", name, typ, existing, ErrDuplicateType)
	}
	r.byName[name] = f
	r.typeFor[name] = typ
	return nil
}

func (r *Registry) Lookup(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[name]
	return f, ok
}

// Names lists registered discriminators in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	return out
}

// RegisterType registers *T under its discriminator.
func RegisterType[T any, PT interface {
	*T
	Message
}](r *Registry) error {
	f := func() Message { return PT(new(T)) }
	name, err := TypeName(f())
	if err != nil {
		return fmt.Errorf("register %T: %w", f(), err)
	}
	return r.Register(name, f)
}

func MustRegisterType[T any, PT interface {
	*T
	Message
}](r *Registry) {
	if err := RegisterType[T, PT](r); err != nil {
		panic(err)
	}
}

// Register binds name to f in DefaultRegistry.
func Register(name string, f Factory) error { return DefaultRegistry.Register(name, f) }
