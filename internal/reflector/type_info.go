// Package reflector derives stable names for Go types and caches them.
// The wire registry uses these names as default message discriminators.
package reflector

import (
	"reflect"
	"sync"
)

var cache sync.Map // reflect.Type -> TypeInfo

// TypeInfo describes a named type with pointer indirection removed.
type TypeInfo struct {
	Name string       // "pkg/path.TypeName"
	Type reflect.Type // element type, never a pointer
}

// Valid reports whether the type has a usable name. Anonymous and
// predeclared types have no package path and cannot serve as discriminators.
func (ti TypeInfo) Valid() bool {
	return ti.Type != nil && ti.Type.Name() != "" && ti.Type.PkgPath() != ""
}

// New returns a pointer to a fresh zero value of the described type.
func (ti TypeInfo) New() any {
	return reflect.New(ti.Type).Interface()
}

func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if v, ok := cache.Load(t); ok {
		return v.(TypeInfo)
	}

	elem := t
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	ti := TypeInfo{Type: elem}
	if elem.Name() != "" {
		ti.Name = elem.PkgPath() + "." + elem.Name()
	}

	v, _ := cache.LoadOrStore(t, ti)
	return v.(TypeInfo)
}
