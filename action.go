package refinery

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the stable action-kind identifier attached to every action and
// every transition. It is an interned string so it can serve as a map key;
// no dynamic type introspection is used anywhere in the engine.
type Kind string

// KindError identifies the built-in reply sent to the runner when a model
// input reaches the scheduler and no reactive transition can consume it.
const KindError Kind = "Error"

// Class partitions action kinds into the runner vocabulary (model) and the
// SUT vocabulary (system).
type Class int

const (
	ClassModel Class = iota + 1
	ClassSystem
)

func (c Class) String() string {
	switch c {
	case ClassModel:
		return "model"
	case ClassSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Action is any value flowing through the scheduler.
type Action interface {
	Kind() Kind
}

// ModelAction is an action in the runner vocabulary. Its payload fields are
// drawn from {bool, int, string} and it serializes to the textual form used
// on the runner wire: the kind name followed by the encoded field values.
type ModelAction interface {
	Action
	Serialize() string
}

// SystemAction is an action in the SUT vocabulary. The engine never looks
// inside the payload; only the kind identity matters for dispatch.
type SystemAction interface {
	Action
	Payload() any
}

// ErrorAction is the model output delivered when a refinement is missing
// for a dequeued input. It always passes the model-output filter.
var ErrorAction ModelAction = errorAction{}

type errorAction struct{}

func (errorAction) Kind() Kind        { return KindError }
func (errorAction) Serialize() string { return string(KindError) }

// FieldSpec declares one payload field of a model action kind.
type FieldSpec struct {
	Name string
	Type VarType
}

// GenericModelAction is a field-backed model action used by configuration
// driven refinements, where action kinds are declared as data rather than
// generated as record types.
type GenericModelAction struct {
	kind   Kind
	spec   []FieldSpec
	values []Value
}

// NewGenericModelAction creates an action of the given kind with all fields
// unset (each field holds the zero content of its declared type).
func NewGenericModelAction(kind Kind, spec []FieldSpec) (*GenericModelAction, error) {
	if kind == "" {
		return nil, fmt.Errorf("generic model action: empty kind: %w", ErrBadArgument)
	}
	values := make([]Value, len(spec))
	for i, f := range spec {
		switch f.Type {
		case TypeBool:
			values[i] = BoolValue(false)
		case TypeInt:
			values[i] = IntValue(0)
		case TypeString:
			values[i] = StringValue("")
		default:
			return nil, fmt.Errorf("generic model action %q: field %q has unsupported type: %w", kind, f.Name, ErrBadArgument)
		}
	}
	return &GenericModelAction{kind: kind, spec: spec, values: values}, nil
}

// Kind returns the action kind.
func (a *GenericModelAction) Kind() Kind { return a.kind }

// Spec returns the declared field layout.
func (a *GenericModelAction) Spec() []FieldSpec { return a.spec }

// SetField assigns a field by name; the value type must match the
// declared field type.
func (a *GenericModelAction) SetField(name string, v Value) error {
	for i, f := range a.spec {
		if f.Name != name {
			continue
		}
		if v.Type() != f.Type {
			return fmt.Errorf("action %q field %q: declared %s, got %s: %w", a.kind, name, f.Type, v.Type(), ErrTypeMismatch)
		}
		a.values[i] = v
		return nil
	}
	return fmt.Errorf("action %q: no field %q: %w", a.kind, name, ErrBadArgument)
}

// Field returns a field value by name.
func (a *GenericModelAction) Field(name string) (Value, error) {
	for i, f := range a.spec {
		if f.Name == name {
			return a.values[i], nil
		}
	}
	return Value{}, fmt.Errorf("action %q: no field %q: %w", a.kind, name, ErrBadArgument)
}

// Fields returns the field values keyed by name.
func (a *GenericModelAction) Fields() map[string]Value {
	out := make(map[string]Value, len(a.spec))
	for i, f := range a.spec {
		out[f.Name] = a.values[i]
	}
	return out
}

// Serialize encodes the action as the kind name followed by one token per
// field: bools as true/false, ints in decimal, strings quoted.
func (a *GenericModelAction) Serialize() string {
	var b strings.Builder
	b.WriteString(string(a.kind))
	for i, f := range a.spec {
		b.WriteByte(' ')
		switch f.Type {
		case TypeBool:
			v, _ := a.values[i].Bool()
			b.WriteString(strconv.FormatBool(v))
		case TypeInt:
			v, _ := a.values[i].Int()
			b.WriteString(strconv.FormatInt(v, 10))
		case TypeString:
			v, _ := a.values[i].Str()
			b.WriteString(strconv.Quote(v))
		}
	}
	return b.String()
}

// Equal reports structural equality of kind, layout, and field values.
func (a *GenericModelAction) Equal(o *GenericModelAction) bool {
	if a.kind != o.kind || len(a.spec) != len(o.spec) {
		return false
	}
	for i := range a.spec {
		if a.spec[i] != o.spec[i] || !a.values[i].Equal(o.values[i]) {
			return false
		}
	}
	return true
}

// GenericSystemAction is a kind-tagged system action with an opaque payload.
type GenericSystemAction struct {
	kind    Kind
	payload any
}

// NewSystemAction wraps a payload under a system action kind.
func NewSystemAction(kind Kind, payload any) *GenericSystemAction {
	return &GenericSystemAction{kind: kind, payload: payload}
}

// Kind returns the action kind.
func (a *GenericSystemAction) Kind() Kind { return a.kind }

// Payload returns the opaque payload.
func (a *GenericSystemAction) Payload() any { return a.payload }
