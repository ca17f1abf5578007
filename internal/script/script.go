// Package script compiles declarative refinement definitions into IOSTS
// values. Guards, updates, and field generators are tengo expressions over
// the owning store (as `vars`) and the triggering action (as `action`);
// command payloads are ${var} templates, and JSON event payloads can bind
// fields into variables through extraction rules.
package script

import (
	"fmt"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"

	"refinery"
	"refinery/internal/template"
)

// ActionDef declares one model action kind and its payload fields.
type ActionDef struct {
	Name   string     `yaml:"name"`
	Fields []FieldDef `yaml:"fields"`
}

// FieldDef is one payload field: a name and one of bool, int, string.
type FieldDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// VariableDef declares a store variable with its initial binding. Binding
// every variable up front keeps guard expressions total: an undefined map
// access in tengo is a runtime error, not a false.
type VariableDef struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Init any    `yaml:"init"`
}

// TransitionDef is one edge of a refinement definition.
type TransitionDef struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Mode  string `yaml:"mode"`  // reactive | proactive
	Class string `yaml:"class"` // model | system
	On    string `yaml:"on"`

	// Guard is a tengo boolean expression over vars (and action, for
	// reactive edges). Empty means always enabled.
	Guard string `yaml:"guard,omitempty"`

	// Update is a tengo statement block mutating vars. Variables deleted
	// from the map are cleared from the store.
	Update string `yaml:"update,omitempty"`

	// Extract maps variable names to JSONPath expressions applied to the
	// JSON payload of the consumed system event, before Update runs.
	Extract map[string]string `yaml:"extract,omitempty"`

	// Payload is the ${var} template for a generated system command.
	Payload string `yaml:"payload,omitempty"`

	// Fields maps payload field names of a generated model action to
	// tengo expressions; fields not named keep their zero content.
	Fields map[string]string `yaml:"fields,omitempty"`
}

// SystemDef is one complete refinement definition.
type SystemDef struct {
	Name        string          `yaml:"name"`
	States      []string        `yaml:"states"`
	Initial     string          `yaml:"initial"`
	Variables   []VariableDef   `yaml:"variables,omitempty"`
	Transitions []TransitionDef `yaml:"transitions"`
}

// FieldSpecs resolves declared action kinds to engine field specs.
func FieldSpecs(defs []ActionDef) (map[refinery.Kind][]refinery.FieldSpec, error) {
	out := make(map[refinery.Kind][]refinery.FieldSpec, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("action definition with empty name: %w", refinery.ErrBadArgument)
		}
		kind := refinery.Kind(d.Name)
		if _, ok := out[kind]; ok {
			return nil, fmt.Errorf("action %q declared twice: %w", d.Name, refinery.ErrBadArgument)
		}
		spec := make([]refinery.FieldSpec, len(d.Fields))
		for i, f := range d.Fields {
			typ, err := parseVarType(f.Type)
			if err != nil {
				return nil, fmt.Errorf("action %q field %q: %w", d.Name, f.Name, err)
			}
			spec[i] = refinery.FieldSpec{Name: f.Name, Type: typ}
		}
		out[kind] = spec
	}
	return out, nil
}

// Compile builds an IOSTS from a definition. actionSpecs supplies the
// field layouts for generated model actions; every script source is
// syntax-checked here so malformed definitions fail at load time.
func Compile(def SystemDef, actionSpecs map[refinery.Kind][]refinery.FieldSpec) (*refinery.IOSTS, error) {
	states := make(map[string]*refinery.State, len(def.States))
	stateList := make([]*refinery.State, 0, len(def.States))
	for _, name := range def.States {
		if _, ok := states[name]; ok {
			return nil, fmt.Errorf("refinement %q: duplicate state %q", def.Name, name)
		}
		st := refinery.NewState(name)
		states[name] = st
		stateList = append(stateList, st)
	}
	initial, ok := states[def.Initial]
	if !ok {
		return nil, fmt.Errorf("refinement %q: initial state %q is not declared", def.Name, def.Initial)
	}

	transitions := make([]*refinery.Transition, 0, len(def.Transitions))
	for i, td := range def.Transitions {
		tr, err := compileTransition(def.Name, states, td, actionSpecs)
		if err != nil {
			return nil, fmt.Errorf("refinement %q transition %d: %w", def.Name, i, err)
		}
		transitions = append(transitions, tr)
	}

	ios, err := refinery.NewIOSTS(def.Name, stateList, initial, transitions)
	if err != nil {
		return nil, err
	}
	if err := bindInitialVariables(ios.Variables(), def.Variables); err != nil {
		return nil, fmt.Errorf("refinement %q: %w", def.Name, err)
	}
	return ios, nil
}

func compileTransition(sysName string, states map[string]*refinery.State, td TransitionDef, actionSpecs map[refinery.Kind][]refinery.FieldSpec) (*refinery.Transition, error) {
	from, ok := states[td.From]
	if !ok {
		return nil, fmt.Errorf("unknown source state %q", td.From)
	}
	to, ok := states[td.To]
	if !ok {
		return nil, fmt.Errorf("unknown target state %q", td.To)
	}
	if td.On == "" {
		return nil, fmt.Errorf("missing action kind")
	}
	kind := refinery.Kind(td.On)

	var class refinery.Class
	switch td.Class {
	case "model":
		class = refinery.ClassModel
	case "system":
		class = refinery.ClassSystem
	default:
		return nil, fmt.Errorf("class %q, want model or system", td.Class)
	}

	if err := checkSources(td); err != nil {
		return nil, err
	}

	update := compileUpdate(sysName, td, class)

	switch td.Mode {
	case "reactive":
		if td.Payload != "" || len(td.Fields) > 0 {
			return nil, fmt.Errorf("reactive transitions do not generate actions")
		}
		var guard refinery.ReactiveGuard
		if td.Guard != "" {
			src := td.Guard
			guard = func(vars *refinery.Variables, act refinery.Action) bool {
				return evalGuard(sysName, src, vars, act)
			}
		}
		return refinery.Reactive(from, to, class, kind, guard, update), nil

	case "proactive":
		if len(td.Extract) > 0 {
			return nil, fmt.Errorf("extraction rules only apply to consumed events")
		}
		var guard refinery.ProactiveGuard
		if td.Guard != "" {
			src := td.Guard
			guard = func(vars *refinery.Variables) bool {
				return evalGuard(sysName, src, vars, nil)
			}
		}
		generate, err := compileGenerate(sysName, td, class, kind, actionSpecs)
		if err != nil {
			return nil, err
		}
		return refinery.Proactive(from, to, class, kind, guard, generate, update), nil

	default:
		return nil, fmt.Errorf("mode %q, want reactive or proactive", td.Mode)
	}
}

// compileGenerate builds the generator: a field-expression map for model
// outputs, a payload template for system commands.
func compileGenerate(sysName string, td TransitionDef, class refinery.Class, kind refinery.Kind, actionSpecs map[refinery.Kind][]refinery.FieldSpec) (refinery.Generate, error) {
	if class == refinery.ClassModel {
		spec, ok := actionSpecs[kind]
		if !ok {
			return nil, fmt.Errorf("generated model action %q is not declared", kind)
		}
		if td.Payload != "" {
			return nil, fmt.Errorf("model outputs use fields, not a payload template")
		}
		for name := range td.Fields {
			if !specHasField(spec, name) {
				return nil, fmt.Errorf("action %q has no field %q", kind, name)
			}
		}
		fields := td.Fields
		return func(vars *refinery.Variables) (refinery.Action, error) {
			act, err := refinery.NewGenericModelAction(kind, spec)
			if err != nil {
				return nil, err
			}
			for name, expr := range fields {
				out, err := evalExpr(sysName, expr, vars, nil)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", name, err)
				}
				v, err := anyToValue(out)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", name, err)
				}
				if err := act.SetField(name, v); err != nil {
					return nil, err
				}
			}
			return act, nil
		}, nil
	}

	if len(td.Fields) > 0 {
		return nil, fmt.Errorf("system commands use a payload template, not fields")
	}
	payload := td.Payload
	return func(vars *refinery.Variables) (refinery.Action, error) {
		data, err := template.Substitute(payload, vars)
		if err != nil {
			return nil, fmt.Errorf("command payload: %w", err)
		}
		return refinery.NewSystemAction(kind, data), nil
	}, nil
}

// compileUpdate builds the update: extraction from the event payload first
// (reactive system edges only), then the update script.
func compileUpdate(sysName string, td TransitionDef, class refinery.Class) refinery.Update {
	extract := td.Extract
	src := td.Update
	if len(extract) == 0 && src == "" {
		return nil
	}
	return func(vars *refinery.Variables, act refinery.Action) error {
		if len(extract) > 0 {
			payload, err := payloadBytes(act)
			if err != nil {
				return fmt.Errorf("refinement %q: %w", sysName, err)
			}
			if err := template.Extract(payload, extract, vars); err != nil {
				return fmt.Errorf("refinement %q: %w", sysName, err)
			}
		}
		if src != "" {
			if err := runUpdate(src, vars, act); err != nil {
				return fmt.Errorf("refinement %q: update: %w", sysName, err)
			}
		}
		return nil
	}
}

// checkSources syntax-checks every tengo source in the definition so a
// typo fails at load time instead of mid-refinement.
func checkSources(td TransitionDef) error {
	if td.Guard != "" {
		if err := checkSource("enabled := (" + td.Guard + ")"); err != nil {
			return fmt.Errorf("guard: %w", err)
		}
	}
	if td.Update != "" {
		if err := checkSource(td.Update); err != nil {
			return fmt.Errorf("update: %w", err)
		}
	}
	for name, expr := range td.Fields {
		if err := checkSource("value := (" + expr + ")"); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

func checkSource(src string) error {
	s := tengo.NewScript([]byte(src))
	if err := s.Add("vars", map[string]any{}); err != nil {
		return err
	}
	if err := s.Add("action", map[string]any{}); err != nil {
		return err
	}
	s.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))
	_, err := s.Compile()
	return err
}

// evalGuard evaluates a guard expression. A guard that fails to evaluate
// is a definition bug; it panics so the failure surfaces out of Tick
// instead of silently disabling the transition.
func evalGuard(sysName, src string, vars *refinery.Variables, act refinery.Action) bool {
	out, err := evalExpr(sysName, src, vars, act)
	if err != nil {
		panic(fmt.Errorf("refinement %q: guard %q: %w", sysName, src, err))
	}
	b, ok := out.(bool)
	if !ok {
		panic(fmt.Errorf("refinement %q: guard %q evaluated to %T, want bool", sysName, src, out))
	}
	return b
}

// evalExpr evaluates one expression with vars and action in scope.
func evalExpr(sysName, expr string, vars *refinery.Variables, act refinery.Action) (any, error) {
	s := tengo.NewScript([]byte("__out__ := (" + expr + ")"))
	if err := s.Add("vars", snapshotEnv(vars)); err != nil {
		return nil, err
	}
	if err := s.Add("action", actionEnv(act)); err != nil {
		return nil, err
	}
	s.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))
	compiled, err := s.Run()
	if err != nil {
		return nil, err
	}
	return compiled.Get("__out__").Value(), nil
}

// runUpdate runs an update script and writes the resulting vars map back
// into the store. New keys bind, changed keys rebind under type pinning,
// and keys deleted by the script are cleared.
func runUpdate(src string, vars *refinery.Variables, act refinery.Action) error {
	before := vars.Snapshot()

	s := tengo.NewScript([]byte(src))
	if err := s.Add("vars", snapshotEnv(vars)); err != nil {
		return err
	}
	if err := s.Add("action", actionEnv(act)); err != nil {
		return err
	}
	s.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))
	compiled, err := s.Run()
	if err != nil {
		return err
	}

	after := compiled.Get("vars").Map()
	for name, raw := range after {
		v, err := anyToValue(raw)
		if err != nil {
			return fmt.Errorf("variable %q: %w", name, err)
		}
		if old, ok := before[name]; ok && old.Equal(v) {
			continue
		}
		if err := vars.Set(name, v); err != nil {
			return err
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			if err := vars.Clear(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func bindInitialVariables(vars *refinery.Variables, defs []VariableDef) error {
	for _, d := range defs {
		typ, err := parseVarType(d.Type)
		if err != nil {
			return fmt.Errorf("variable %q: %w", d.Name, err)
		}
		v, err := initValue(typ, d.Init)
		if err != nil {
			return fmt.Errorf("variable %q: %w", d.Name, err)
		}
		if err := vars.Set(d.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func initValue(typ refinery.VarType, init any) (refinery.Value, error) {
	switch typ {
	case refinery.TypeBool:
		b, ok := init.(bool)
		if init == nil {
			return refinery.BoolValue(false), nil
		}
		if !ok {
			return refinery.Value{}, fmt.Errorf("init %v is not a bool", init)
		}
		return refinery.BoolValue(b), nil
	case refinery.TypeInt:
		if init == nil {
			return refinery.IntValue(0), nil
		}
		switch n := init.(type) {
		case int:
			return refinery.IntValue(int64(n)), nil
		case int64:
			return refinery.IntValue(n), nil
		default:
			return refinery.Value{}, fmt.Errorf("init %v is not an int", init)
		}
	case refinery.TypeString:
		if init == nil {
			return refinery.StringValue(""), nil
		}
		s, ok := init.(string)
		if !ok {
			return refinery.Value{}, fmt.Errorf("init %v is not a string", init)
		}
		return refinery.StringValue(s), nil
	default:
		return refinery.Value{}, fmt.Errorf("unsupported type")
	}
}

func parseVarType(name string) (refinery.VarType, error) {
	switch name {
	case "bool":
		return refinery.TypeBool, nil
	case "int":
		return refinery.TypeInt, nil
	case "string":
		return refinery.TypeString, nil
	default:
		return refinery.TypeInvalid, fmt.Errorf("type %q, want bool, int, or string: %w", name, refinery.ErrBadArgument)
	}
}

// snapshotEnv renders the store as the tengo `vars` map.
func snapshotEnv(vars *refinery.Variables) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	snap := vars.Snapshot()
	out := make(map[string]any, len(snap))
	for name, v := range snap {
		out[name] = valueToAny(v)
	}
	return out
}

// actionEnv renders the triggering action as the tengo `action` map:
// model action fields are flattened next to the kind, a system payload
// appears under "payload".
func actionEnv(act refinery.Action) map[string]any {
	if act == nil {
		return map[string]any{}
	}
	out := map[string]any{"kind": string(act.Kind())}
	switch a := act.(type) {
	case *refinery.GenericModelAction:
		for name, v := range a.Fields() {
			out[name] = valueToAny(v)
		}
	case refinery.SystemAction:
		switch p := a.Payload().(type) {
		case nil:
		case string:
			out["payload"] = p
		case []byte:
			out["payload"] = string(p)
		default:
			out["payload"] = fmt.Sprintf("%v", p)
		}
	}
	return out
}

func payloadBytes(act refinery.Action) ([]byte, error) {
	sys, ok := act.(refinery.SystemAction)
	if !ok {
		return nil, fmt.Errorf("extraction requires a system event, got %q", act.Kind())
	}
	switch p := sys.Payload().(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	default:
		return nil, fmt.Errorf("event %q payload is not textual JSON", act.Kind())
	}
}

func specHasField(spec []refinery.FieldSpec, name string) bool {
	for _, f := range spec {
		if f.Name == name {
			return true
		}
	}
	return false
}

func valueToAny(v refinery.Value) any {
	switch v.Type() {
	case refinery.TypeBool:
		b, _ := v.Bool()
		return b
	case refinery.TypeInt:
		i, _ := v.Int()
		return i
	case refinery.TypeString:
		s, _ := v.Str()
		return s
	default:
		return nil
	}
}

func anyToValue(raw any) (refinery.Value, error) {
	switch v := raw.(type) {
	case bool:
		return refinery.BoolValue(v), nil
	case int64:
		return refinery.IntValue(v), nil
	case int:
		return refinery.IntValue(int64(v)), nil
	case string:
		return refinery.StringValue(v), nil
	default:
		return refinery.Value{}, fmt.Errorf("value %v (%T) is not bool, int, or string", raw, raw)
	}
}
