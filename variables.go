package refinery

import "fmt"

// VarType identifies the type a variable is bound to.
type VarType int

const (
	TypeInvalid VarType = iota
	TypeBool
	TypeInt
	TypeString
)

// String returns the lowercase type name used in diagnostics and config files.
func (t VarType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is a tagged union over the supported variable types.
// The zero Value is invalid; use the constructor for the variant you need.
type Value struct {
	typ VarType
	b   bool
	i   int64
	s   string
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{typ: TypeBool, b: b} }

// IntValue wraps an int64.
func IntValue(i int64) Value { return Value{typ: TypeInt, i: i} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{typ: TypeString, s: s} }

// Type returns the variant tag, TypeInvalid for the zero Value.
func (v Value) Type() VarType { return v.typ }

// Bool extracts the bool variant. The ok result is false for other variants.
func (v Value) Bool() (bool, bool) { return v.b, v.typ == TypeBool }

// Int extracts the int variant.
func (v Value) Int() (int64, bool) { return v.i, v.typ == TypeInt }

// String renders the value the way it appears on the wire and in traces.
func (v Value) String() string {
	switch v.typ {
	case TypeBool:
		return fmt.Sprintf("%t", v.b)
	case TypeInt:
		return fmt.Sprintf("%d", v.i)
	case TypeString:
		return v.s
	default:
		return "<invalid>"
	}
}

// Str extracts the string variant.
func (v Value) Str() (string, bool) { return v.s, v.typ == TypeString }

// Equal reports whether two values have the same variant and content.
func (v Value) Equal(o Value) bool { return v == o }

// Variables is a store of named typed variables owned by a single IOSTS.
// A name keeps its type for the lifetime of the binding: rebinding with a
// different type fails with ErrTypeMismatch.
//
// Variables is not safe for concurrent use; the scheduler lock covers all
// accesses made from guards and updates.
type Variables struct {
	vals map[string]Value
}

// NewVariables creates an empty store.
func NewVariables() *Variables {
	return &Variables{vals: make(map[string]Value)}
}

// Set binds name to v. It fails if name is empty, v is the invalid zero
// Value, or name is already bound to a different type. Rebinding the same
// type is allowed and overwrites the content.
func (vs *Variables) Set(name string, v Value) error {
	if name == "" {
		return fmt.Errorf("set variable: empty name: %w", ErrBadArgument)
	}
	if v.typ == TypeInvalid {
		return fmt.Errorf("set variable %q: null value: %w", name, ErrBadArgument)
	}
	if old, ok := vs.vals[name]; ok && old.typ != v.typ {
		return fmt.Errorf("set variable %q: bound to %s, got %s: %w", name, old.typ, v.typ, ErrTypeMismatch)
	}
	vs.vals[name] = v
	return nil
}

// Get returns the value bound to name.
func (vs *Variables) Get(name string) (Value, error) {
	v, ok := vs.vals[name]
	if !ok {
		return Value{}, fmt.Errorf("get variable %q: %w", name, ErrUnboundVariable)
	}
	return v, nil
}

// Bool returns the bool bound to name, failing on an unbound name or a
// binding of a different type.
func (vs *Variables) Bool(name string) (bool, error) {
	v, err := vs.Get(name)
	if err != nil {
		return false, err
	}
	if v.typ != TypeBool {
		return false, fmt.Errorf("variable %q: bound to %s, requested bool: %w", name, v.typ, ErrTypeMismatch)
	}
	return v.b, nil
}

// Int returns the int bound to name.
func (vs *Variables) Int(name string) (int64, error) {
	v, err := vs.Get(name)
	if err != nil {
		return 0, err
	}
	if v.typ != TypeInt {
		return 0, fmt.Errorf("variable %q: bound to %s, requested int: %w", name, v.typ, ErrTypeMismatch)
	}
	return v.i, nil
}

// String returns the string bound to name.
func (vs *Variables) String(name string) (string, error) {
	v, err := vs.Get(name)
	if err != nil {
		return "", err
	}
	if v.typ != TypeString {
		return "", fmt.Errorf("variable %q: bound to %s, requested string: %w", name, v.typ, ErrTypeMismatch)
	}
	return v.s, nil
}

// Clear removes the binding for name, failing if it is unbound.
func (vs *Variables) Clear(name string) error {
	if _, ok := vs.vals[name]; !ok {
		return fmt.Errorf("clear variable %q: %w", name, ErrUnboundVariable)
	}
	delete(vs.vals, name)
	return nil
}

// Has reports whether name is bound.
func (vs *Variables) Has(name string) bool {
	_, ok := vs.vals[name]
	return ok
}

// Snapshot returns a copy of the current bindings.
func (vs *Variables) Snapshot() map[string]Value {
	out := make(map[string]Value, len(vs.vals))
	for k, v := range vs.vals {
		out[k] = v
	}
	return out
}
