package refinery

import (
	"errors"
	"testing"
)

// testModelAct is a minimal hand-written model action for engine tests.
type testModelAct struct {
	kind    Kind
	payload string
}

func (a testModelAct) Kind() Kind { return a.kind }

func (a testModelAct) Serialize() string {
	if a.payload == "" {
		return string(a.kind)
	}
	return string(a.kind) + " " + a.payload
}

func TestNewIOSTS_DerivesRefinedKind(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	in := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	out := Proactive(s1, s0, ClassModel, "OutB", nil, genModel("OutB"), nil)

	ios, err := NewIOSTS("happy", []*State{s0, s1}, s0, []*Transition{in, out})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}
	if ios.Refines() != "InA" {
		t.Errorf("Refines() = %q; want InA", ios.Refines())
	}
	if !ios.AtInitial() || ios.CurrentState() != s0 {
		t.Error("fresh IOSTS must start at its initial state")
	}
}

func TestNewIOSTS_RejectsIllFormed(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	outside := NewState("outside")

	// No model input kind at all.
	onlyOut := Proactive(s0, s0, ClassModel, "OutB", nil, genModel("OutB"), nil)
	if _, err := NewIOSTS("none", []*State{s0}, s0, []*Transition{onlyOut}); !errors.Is(err, ErrIllFormed) {
		t.Errorf("zero input kinds = %v; want ErrIllFormed", err)
	}

	// Two distinct model input kinds.
	inA := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	inB := Reactive(s1, s0, ClassModel, "InB", nil, nil)
	if _, err := NewIOSTS("two", []*State{s0, s1}, s0, []*Transition{inA, inB}); !errors.Is(err, ErrIllFormed) {
		t.Errorf("two input kinds = %v; want ErrIllFormed", err)
	}

	// Transition endpoint outside the state set.
	stray := Reactive(s0, outside, ClassModel, "InA", nil, nil)
	if _, err := NewIOSTS("stray", []*State{s0, s1}, s0, []*Transition{stray}); !errors.Is(err, ErrIllFormed) {
		t.Errorf("stray endpoint = %v; want ErrIllFormed", err)
	}

	// Initial state outside the state set.
	if _, err := NewIOSTS("init", []*State{s0}, s1, []*Transition{Reactive(s0, s0, ClassModel, "InA", nil, nil)}); !errors.Is(err, ErrIllFormed) {
		t.Errorf("initial outside set = %v; want ErrIllFormed", err)
	}
}

func TestNewIOSTS_RejectsProactiveWithoutGenerator(t *testing.T) {
	s0 := NewState("S0")
	in := Reactive(s0, s0, ClassModel, "InA", nil, nil)
	bad := Proactive(s0, s0, ClassModel, "OutB", nil, nil, nil)
	if _, err := NewIOSTS("gen", []*State{s0}, s0, []*Transition{in, bad}); !errors.Is(err, ErrBadArgument) {
		t.Errorf("nil generator = %v; want ErrBadArgument", err)
	}
}

func TestIOSTS_EnabledReactive(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	open := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	guarded := Reactive(s0, s1, ClassModel, "InA", func(vars *Variables, act Action) bool {
		v, err := vars.Bool("armed")
		return err == nil && v
	}, nil)
	elsewhere := Reactive(s1, s0, ClassSystem, "ev_done", nil, nil)

	ios, err := NewIOSTS("en", []*State{s0, s1}, s0, []*Transition{open, guarded, elsewhere})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}

	// Guard references an unset variable, so only the unguarded edge is
	// enabled; the system-event edge is out of the current state.
	got := ios.EnabledReactive(testModelAct{kind: "InA"})
	if len(got) != 1 || got[0] != open {
		t.Fatalf("EnabledReactive = %v; want just the unguarded edge", got)
	}

	if err := ios.Variables().Set("armed", BoolValue(true)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := ios.EnabledReactive(testModelAct{kind: "InA"}); len(got) != 2 {
		t.Errorf("EnabledReactive with guard true = %d edges; want 2", len(got))
	}

	// Kind matching is exact.
	if got := ios.EnabledReactive(testModelAct{kind: "InB"}); len(got) != 0 {
		t.Errorf("EnabledReactive for unknown kind = %v; want none", got)
	}
	if got := ios.EnabledReactive(nil); got != nil {
		t.Errorf("EnabledReactive(nil) = %v; want nil", got)
	}
}

func TestIOSTS_FireReactiveMovesState(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	var seen string
	in := Reactive(s0, s1, ClassModel, "InA", nil, func(vars *Variables, act Action) error {
		seen = act.(testModelAct).payload
		return vars.Set("x", StringValue(seen))
	})
	ios, err := NewIOSTS("fire", []*State{s0, s1}, s0, []*Transition{in})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}

	if err := ios.FireReactive(testModelAct{kind: "InA", payload: "p1"}, in); err != nil {
		t.Fatalf("fire: %v", err)
	}
	if ios.CurrentState() != s1 {
		t.Errorf("state = %s; want S1", ios.CurrentState())
	}
	if seen != "p1" {
		t.Errorf("update saw %q; want p1", seen)
	}
	if v, _ := ios.Variables().String("x"); v != "p1" {
		t.Errorf("variable x = %q; want p1", v)
	}
}

func TestIOSTS_FireReactiveOutsideEnabledSet(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	in := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	back := Reactive(s1, s0, ClassSystem, "ev_done", nil, nil)
	ios, err := NewIOSTS("illegal", []*State{s0, s1}, s0, []*Transition{in, back})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}

	// back is out of the current state.
	if err := ios.FireReactive(NewSystemAction("ev_done", nil), back); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("fire disabled edge = %v; want ErrIllegalTransition", err)
	}
	// Wrong trigger kind for an otherwise enabled edge.
	if err := ios.FireReactive(testModelAct{kind: "InB"}, in); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("fire with wrong kind = %v; want ErrIllegalTransition", err)
	}
	if ios.CurrentState() != s0 {
		t.Errorf("failed firings must not move the state; at %s", ios.CurrentState())
	}
}

func TestIOSTS_FireProactiveOrderIsObservable(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	in := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	var updateSaw Kind
	var stateAtUpdate *State
	var ios *IOSTS
	out := Proactive(s1, s0, ClassModel, "OutB", nil,
		func(vars *Variables) (Action, error) {
			return testModelAct{kind: "OutB", payload: "gen"}, nil
		},
		func(vars *Variables, act Action) error {
			// The update observes the generated action and runs before
			// the state moves.
			updateSaw = act.Kind()
			stateAtUpdate = ios.CurrentState()
			return nil
		})
	var err error
	ios, err = NewIOSTS("order", []*State{s0, s1}, s0, []*Transition{in, out})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}
	if err := ios.FireReactive(testModelAct{kind: "InA"}, in); err != nil {
		t.Fatalf("fire reactive: %v", err)
	}

	act, err := ios.FireProactive(out)
	if err != nil {
		t.Fatalf("fire proactive: %v", err)
	}
	if act.Kind() != "OutB" {
		t.Errorf("generated kind = %q; want OutB", act.Kind())
	}
	if updateSaw != "OutB" {
		t.Errorf("update saw kind %q; want OutB", updateSaw)
	}
	if stateAtUpdate != s1 {
		t.Errorf("update ran at state %s; want S1 (before the move)", stateAtUpdate)
	}
	if ios.CurrentState() != s0 {
		t.Errorf("state = %s; want S0", ios.CurrentState())
	}
}

func TestIOSTS_FireProactiveOutsideEnabledSet(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	in := Reactive(s0, s1, ClassModel, "InA", nil, nil)
	out := Proactive(s1, s0, ClassModel, "OutB", nil, genModel("OutB"), nil)
	ios, err := NewIOSTS("illegal", []*State{s0, s1}, s0, []*Transition{in, out})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}
	if _, err := ios.FireProactive(out); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("fire disabled proactive = %v; want ErrIllegalTransition", err)
	}
}

func TestIOSTS_UpdateErrorAbortsFiring(t *testing.T) {
	s0, s1 := NewState("S0"), NewState("S1")
	boom := errors.New("boom")
	in := Reactive(s0, s1, ClassModel, "InA", nil, func(vars *Variables, act Action) error {
		return boom
	})
	ios, err := NewIOSTS("abort", []*State{s0, s1}, s0, []*Transition{in})
	if err != nil {
		t.Fatalf("new IOSTS: %v", err)
	}
	if err := ios.FireReactive(testModelAct{kind: "InA"}, in); !errors.Is(err, boom) {
		t.Fatalf("fire = %v; want boom", err)
	}
	if ios.CurrentState() != s0 {
		t.Errorf("state moved despite update error; at %s", ios.CurrentState())
	}
}

// genModel returns a generator producing a payload-free model action.
func genModel(kind Kind) Generate {
	return func(vars *Variables) (Action, error) {
		return testModelAct{kind: kind}, nil
	}
}

// genSystem returns a generator producing a payload-free system action.
func genSystem(kind Kind) Generate {
	return func(vars *Variables) (Action, error) {
		return NewSystemAction(kind, nil), nil
	}
}
