package refinery

import "fmt"

// IOSTS is an Input-Output Symbolic Transition System: the refinement of a
// single model input kind into system commands and back into a model output.
// It holds a finite state set, an initial and a current state, transitions,
// and an owned variable store that guards and updates operate on.
//
// An IOSTS is not safe for concurrent use on its own; the scheduler lock
// covers all calls made during dispatch.
type IOSTS struct {
	name        string
	states      map[*State]bool
	initial     *State
	current     *State
	transitions []*Transition
	vars        *Variables
	refines     Kind
}

// NewIOSTS constructs an IOSTS. The initial state and every transition
// endpoint must be members of states, every proactive transition must carry
// a generator, and exactly one model input kind must appear across the
// reactive model transitions; anything else is rejected.
func NewIOSTS(name string, states []*State, initial *State, transitions []*Transition) (*IOSTS, error) {
	if name == "" {
		return nil, fmt.Errorf("new IOSTS: empty name: %w", ErrBadArgument)
	}
	if len(states) == 0 || initial == nil {
		return nil, fmt.Errorf("new IOSTS %q: missing states or initial state: %w", name, ErrBadArgument)
	}
	set := make(map[*State]bool, len(states))
	for _, st := range states {
		if st == nil {
			return nil, fmt.Errorf("new IOSTS %q: nil state: %w", name, ErrBadArgument)
		}
		set[st] = true
	}
	if !set[initial] {
		return nil, fmt.Errorf("new IOSTS %q: initial state %s outside state set: %w", name, initial, ErrIllFormed)
	}

	inputKinds := make(map[Kind]bool)
	for _, t := range transitions {
		if t == nil {
			return nil, fmt.Errorf("new IOSTS %q: nil transition: %w", name, ErrBadArgument)
		}
		if !set[t.From()] || !set[t.To()] {
			return nil, fmt.Errorf("new IOSTS %q: transition %s has an endpoint outside the state set: %w", name, t, ErrIllFormed)
		}
		if t.On() == "" {
			return nil, fmt.Errorf("new IOSTS %q: transition %s keyed on empty kind: %w", name, t, ErrBadArgument)
		}
		if t.IsProactive() && t.generate == nil {
			return nil, fmt.Errorf("new IOSTS %q: proactive transition %s has no generator: %w", name, t, ErrBadArgument)
		}
		if t.IsReactive() && t.Class() == ClassModel {
			inputKinds[t.On()] = true
		}
	}
	if len(inputKinds) != 1 {
		return nil, fmt.Errorf("new IOSTS %q: %d model input kinds across transitions, want exactly 1: %w", name, len(inputKinds), ErrIllFormed)
	}
	var refines Kind
	for k := range inputKinds {
		refines = k
	}

	return &IOSTS{
		name:        name,
		states:      set,
		initial:     initial,
		current:     initial,
		transitions: transitions,
		vars:        NewVariables(),
		refines:     refines,
	}, nil
}

// Name returns the diagnostic name.
func (s *IOSTS) Name() string { return s.name }

// Refines returns the model input kind this IOSTS refines.
func (s *IOSTS) Refines() Kind { return s.refines }

// InitialState returns the designated initial state.
func (s *IOSTS) InitialState() *State { return s.initial }

// CurrentState returns the current state.
func (s *IOSTS) CurrentState() *State { return s.current }

// AtInitial reports whether the current state is the initial state, i.e.
// whether the IOSTS is between refinements.
func (s *IOSTS) AtInitial() bool { return s.current == s.initial }

// Variables returns the owned variable store.
func (s *IOSTS) Variables() *Variables { return s.vars }

// Transitions returns the transition set.
func (s *IOSTS) Transitions() []*Transition {
	out := make([]*Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// EnabledReactive returns the reactive transitions out of the current state
// whose keyed kind matches the action's kind exactly and whose guard holds
// for the current variables and the action.
func (s *IOSTS) EnabledReactive(act Action) []*Transition {
	if act == nil {
		return nil
	}
	var enabled []*Transition
	for _, t := range s.transitions {
		if t.From() != s.current || !t.IsReactive() || t.On() != act.Kind() {
			continue
		}
		if t.reactiveEnabled(s.vars, act) {
			enabled = append(enabled, t)
		}
	}
	return enabled
}

// EnabledProactive returns the proactive transitions out of the current
// state whose guard holds for the current variables.
func (s *IOSTS) EnabledProactive() []*Transition {
	var enabled []*Transition
	for _, t := range s.transitions {
		if t.From() != s.current || !t.IsProactive() {
			continue
		}
		if t.proactiveEnabled(s.vars) {
			enabled = append(enabled, t)
		}
	}
	return enabled
}

// FireReactive consumes act through t: it runs the update and moves the
// current state to t's target. t must be in EnabledReactive(act) at the
// moment of the call, otherwise ErrIllegalTransition.
func (s *IOSTS) FireReactive(act Action, t *Transition) error {
	if !containsTransition(s.EnabledReactive(act), t) {
		return fmt.Errorf("IOSTS %q: fire %s for %v: %w", s.name, t, actKind(act), ErrIllegalTransition)
	}
	if err := t.runUpdate(s.vars, act); err != nil {
		return fmt.Errorf("IOSTS %q: update on %s: %w", s.name, t, err)
	}
	s.current = t.To()
	return nil
}

// FireProactive fires t and returns the generated action. The generator
// runs first, then the update (which observes the generated action), then
// the state moves. t must be in EnabledProactive() at the moment of the
// call, otherwise ErrIllegalTransition.
func (s *IOSTS) FireProactive(t *Transition) (Action, error) {
	if !containsTransition(s.EnabledProactive(), t) {
		return nil, fmt.Errorf("IOSTS %q: fire %s: %w", s.name, t, ErrIllegalTransition)
	}
	act, err := t.generate(s.vars)
	if err != nil {
		return nil, fmt.Errorf("IOSTS %q: generate on %s: %w", s.name, t, err)
	}
	if act == nil {
		return nil, fmt.Errorf("IOSTS %q: generator on %s returned nil: %w", s.name, t, ErrBadArgument)
	}
	if err := t.runUpdate(s.vars, act); err != nil {
		return nil, fmt.Errorf("IOSTS %q: update on %s: %w", s.name, t, err)
	}
	s.current = t.To()
	return act, nil
}

func containsTransition(set []*Transition, t *Transition) bool {
	for _, c := range set {
		if c == t {
			return true
		}
	}
	return false
}

func actKind(act Action) Kind {
	if act == nil {
		return ""
	}
	return act.Kind()
}
