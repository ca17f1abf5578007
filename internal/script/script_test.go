package script

import (
	"math/rand"
	"strings"
	"testing"

	"refinery"
)

var doorActions = []ActionDef{
	{Name: "ProbeOpen", Fields: []FieldDef{{Name: "door", Type: "int"}}},
	{Name: "ProbeDone", Fields: []FieldDef{{Name: "ok", Type: "bool"}, {Name: "door", Type: "int"}}},
}

var doorDef = SystemDef{
	Name:    "door",
	States:  []string{"idle", "opening", "waiting", "done"},
	Initial: "idle",
	Variables: []VariableDef{
		{Name: "door", Type: "int", Init: 0},
		{Name: "acked", Type: "bool", Init: false},
	},
	Transitions: []TransitionDef{
		{
			From: "idle", To: "opening", Mode: "reactive", Class: "model", On: "ProbeOpen",
			Guard:  "action.door > 0",
			Update: "vars.door = action.door",
		},
		{
			From: "opening", To: "waiting", Mode: "proactive", Class: "system", On: "cmd_open",
			Payload: `{"door":${door}}`,
		},
		{
			From: "waiting", To: "done", Mode: "reactive", Class: "system", On: "ev_opened",
			Extract: map[string]string{"acked": "$.ok"},
		},
		{
			From: "done", To: "idle", Mode: "proactive", Class: "model", On: "ProbeDone",
			Fields: map[string]string{"ok": "vars.acked", "door": "vars.door"},
		},
	},
}

func compileDoor(t *testing.T) *refinery.IOSTS {
	t.Helper()
	specs, err := FieldSpecs(doorActions)
	if err != nil {
		t.Fatalf("field specs: %v", err)
	}
	ios, err := Compile(doorDef, specs)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return ios
}

func probeOpen(t *testing.T, door int64) *refinery.GenericModelAction {
	t.Helper()
	specs, err := FieldSpecs(doorActions)
	if err != nil {
		t.Fatalf("field specs: %v", err)
	}
	a, err := refinery.NewGenericModelAction("ProbeOpen", specs["ProbeOpen"])
	if err != nil {
		t.Fatalf("new action: %v", err)
	}
	if err := a.SetField("door", refinery.IntValue(door)); err != nil {
		t.Fatalf("set door: %v", err)
	}
	return a
}

func TestCompile_FullRefinementRoundTrip(t *testing.T) {
	ios := compileDoor(t)
	if ios.Refines() != "ProbeOpen" {
		t.Errorf("Refines() = %q; want ProbeOpen", ios.Refines())
	}

	var outputs []refinery.ModelAction
	var commands []refinery.SystemAction
	s := refinery.NewScheduler(refinery.Options{
		Rand:            rand.New(rand.NewSource(1)),
		OnModelOutput:   func(m refinery.ModelAction) error { outputs = append(outputs, m); return nil },
		OnSystemCommand: func(c refinery.SystemAction) error { commands = append(commands, c); return nil },
	})
	if _, err := s.AddSystem(ios); err != nil {
		t.Fatalf("add system: %v", err)
	}

	if err := s.HandleModelInput(probeOpen(t, 7)); err != nil {
		t.Fatalf("handle input: %v", err)
	}
	if err := s.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(commands) != 1 || commands[0].Kind() != "cmd_open" {
		t.Fatalf("commands = %v; want one cmd_open", commands)
	}
	if payload := commands[0].Payload().(string); payload != `{"door":7}` {
		t.Errorf("command payload = %q; want {\"door\":7}", payload)
	}

	if err := s.HandleSystemEvent(refinery.NewSystemAction("ev_opened", `{"ok":true}`)); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if err := s.Tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(outputs) != 1 || outputs[0].Kind() != "ProbeDone" {
		t.Fatalf("outputs = %v; want one ProbeDone", outputs)
	}
	done := outputs[0].(*refinery.GenericModelAction)
	if v, err := done.Field("ok"); err != nil {
		t.Fatalf("field ok: %v", err)
	} else if b, _ := v.Bool(); !b {
		t.Error("ok field = false; want the extracted true")
	}
	if v, _ := done.Field("door"); v.String() != "7" {
		t.Errorf("door field = %s; want 7", v)
	}
	if s.CurrentSystem() != nil {
		t.Error("refinement must be closed")
	}
}

func TestCompile_GuardRejectsInput(t *testing.T) {
	ios := compileDoor(t)
	// door 0 fails the guard, so nothing is enabled.
	if enabled := ios.EnabledReactive(probeOpen(t, 0)); len(enabled) != 0 {
		t.Errorf("enabled = %v; want none for a guarded-out input", enabled)
	}
	if enabled := ios.EnabledReactive(probeOpen(t, 3)); len(enabled) != 1 {
		t.Errorf("enabled = %v; want one", enabled)
	}
}

func TestCompile_RejectsMalformedDefinitions(t *testing.T) {
	specs, err := FieldSpecs(doorActions)
	if err != nil {
		t.Fatalf("field specs: %v", err)
	}

	base := func() SystemDef {
		def := doorDef
		def.Transitions = append([]TransitionDef(nil), doorDef.Transitions...)
		return def
	}

	cases := []struct {
		name   string
		mutate func(*SystemDef)
		errHas string
	}{
		{"unknown initial", func(d *SystemDef) { d.Initial = "nowhere" }, "initial state"},
		{"unknown source", func(d *SystemDef) { d.Transitions[0].From = "nowhere" }, "unknown source"},
		{"bad mode", func(d *SystemDef) { d.Transitions[0].Mode = "psychic" }, "mode"},
		{"bad class", func(d *SystemDef) { d.Transitions[0].Class = "astral" }, "class"},
		{"guard syntax", func(d *SystemDef) { d.Transitions[0].Guard = "vars.door >" }, "guard"},
		{"update syntax", func(d *SystemDef) { d.Transitions[0].Update = "vars.door = = 1" }, "update"},
		{"reactive payload", func(d *SystemDef) { d.Transitions[0].Payload = "x" }, "reactive"},
		{"proactive extract", func(d *SystemDef) { d.Transitions[1].Extract = map[string]string{"x": "$.x"} }, "extraction"},
		{"undeclared output", func(d *SystemDef) { d.Transitions[3].On = "Mystery" }, "not declared"},
		{"unknown output field", func(d *SystemDef) { d.Transitions[3].Fields = map[string]string{"nope": "1"} }, "no field"},
		{"command fields", func(d *SystemDef) { d.Transitions[1].Fields = map[string]string{"x": "1"} }, "payload template"},
	}
	for _, tc := range cases {
		def := base()
		tc.mutate(&def)
		_, err := Compile(def, specs)
		if err == nil {
			t.Errorf("%s: compile succeeded; want error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.errHas) {
			t.Errorf("%s: error %v does not mention %q", tc.name, err, tc.errHas)
		}
	}
}

func TestCompile_DuplicateState(t *testing.T) {
	def := doorDef
	def.States = []string{"idle", "idle"}
	specs, _ := FieldSpecs(doorActions)
	if _, err := Compile(def, specs); err == nil {
		t.Error("duplicate state accepted")
	}
}

func TestFieldSpecs_Validation(t *testing.T) {
	if _, err := FieldSpecs([]ActionDef{{Name: ""}}); err == nil {
		t.Error("empty action name accepted")
	}
	if _, err := FieldSpecs([]ActionDef{{Name: "A"}, {Name: "A"}}); err == nil {
		t.Error("duplicate action accepted")
	}
	if _, err := FieldSpecs([]ActionDef{{Name: "A", Fields: []FieldDef{{Name: "x", Type: "float"}}}}); err == nil {
		t.Error("unsupported field type accepted")
	}
}

func TestRunUpdate_BindClearAndPin(t *testing.T) {
	vars := refinery.NewVariables()
	if err := vars.Set("count", refinery.IntValue(1)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := vars.Set("tmp", refinery.StringValue("x")); err != nil {
		t.Fatalf("set: %v", err)
	}

	src := `
vars.count = vars.count + 1
vars.fresh = "new"
delete(vars, "tmp")
`
	if err := runUpdate(src, vars, nil); err != nil {
		t.Fatalf("run update: %v", err)
	}
	if v, _ := vars.Int("count"); v != 2 {
		t.Errorf("count = %d; want 2", v)
	}
	if v, err := vars.String("fresh"); err != nil || v != "new" {
		t.Errorf("fresh = %q, %v; want new", v, err)
	}
	if vars.Has("tmp") {
		t.Error("tmp survived its delete")
	}

	// Rebinding to a different type stays pinned.
	if err := runUpdate(`vars.count = "nope"`, vars, nil); err == nil {
		t.Error("type-changing update succeeded; want pinning error")
	}
}

func TestEvalGuard_RuntimeFailurePanics(t *testing.T) {
	vars := refinery.NewVariables()
	defer func() {
		if recover() == nil {
			t.Error("guard over an unbound variable did not panic")
		}
	}()
	evalGuard("sys", "vars.missing > 1", vars, nil)
}
