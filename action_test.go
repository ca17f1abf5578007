package refinery

import (
	"errors"
	"testing"
)

func TestGenericModelAction_Serialize(t *testing.T) {
	spec := []FieldSpec{
		{Name: "ok", Type: TypeBool},
		{Name: "count", Type: TypeInt},
		{Name: "who", Type: TypeString},
	}
	a, err := NewGenericModelAction("Probe", spec)
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	if err := a.SetField("ok", BoolValue(true)); err != nil {
		t.Fatalf("set ok: %v", err)
	}
	if err := a.SetField("count", IntValue(-3)); err != nil {
		t.Fatalf("set count: %v", err)
	}
	if err := a.SetField("who", StringValue("with space")); err != nil {
		t.Fatalf("set who: %v", err)
	}

	got := a.Serialize()
	want := `Probe true -3 "with space"`
	if got != want {
		t.Errorf("Serialize() = %q; want %q", got, want)
	}
}

func TestGenericModelAction_FieldTypeEnforced(t *testing.T) {
	a, err := NewGenericModelAction("Probe", []FieldSpec{{Name: "count", Type: TypeInt}})
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	if err := a.SetField("count", StringValue("x")); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("SetField with wrong type = %v; want ErrTypeMismatch", err)
	}
	if err := a.SetField("nope", IntValue(1)); !errors.Is(err, ErrBadArgument) {
		t.Errorf("SetField unknown field = %v; want ErrBadArgument", err)
	}
}

func TestGenericModelAction_RejectsUnsupportedFieldType(t *testing.T) {
	if _, err := NewGenericModelAction("Probe", []FieldSpec{{Name: "x"}}); !errors.Is(err, ErrBadArgument) {
		t.Errorf("unsupported field type = %v; want ErrBadArgument", err)
	}
	if _, err := NewGenericModelAction("", nil); !errors.Is(err, ErrBadArgument) {
		t.Errorf("empty kind = %v; want ErrBadArgument", err)
	}
}

func TestErrorAction(t *testing.T) {
	if ErrorAction.Kind() != KindError {
		t.Errorf("ErrorAction.Kind() = %q; want %q", ErrorAction.Kind(), KindError)
	}
	if ErrorAction.Serialize() != "Error" {
		t.Errorf("ErrorAction.Serialize() = %q; want Error", ErrorAction.Serialize())
	}
}

func TestGenericSystemAction_PayloadOpaque(t *testing.T) {
	payload := map[string]int{"a": 1}
	a := NewSystemAction("cmd_fire", payload)
	if a.Kind() != "cmd_fire" {
		t.Errorf("Kind() = %q; want cmd_fire", a.Kind())
	}
	if got, ok := a.Payload().(map[string]int); !ok || got["a"] != 1 {
		t.Errorf("Payload() = %#v; want original map", a.Payload())
	}
}
