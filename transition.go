package refinery

import "fmt"

// ReactiveGuard decides whether a reactive transition may consume the given
// action in the current variable state.
type ReactiveGuard func(vars *Variables, act Action) bool

// ProactiveGuard decides whether a proactive transition may fire in the
// current variable state.
type ProactiveGuard func(vars *Variables) bool

// Update mutates the owning IOSTS's variables when a transition fires. For
// a proactive transition the action argument is the freshly generated one.
// An error aborts the firing before the state moves.
type Update func(vars *Variables, act Action) error

// Generate produces the outgoing action of a proactive transition.
type Generate func(vars *Variables) (Action, error)

// Transition is an edge of an IOSTS. It is keyed on an action kind and a
// class, and carries either a reactive guard or a proactive guard plus a
// generator. Guards, updates, and generators are opaque function values
// compared by identity; a nil guard is always true and a nil update is a
// no-op.
type Transition struct {
	from, to *State
	on       Kind
	class    Class
	reactive bool
	rguard   ReactiveGuard
	pguard   ProactiveGuard
	update   Update
	generate Generate
}

// Reactive creates a transition that consumes an incoming action of the
// given kind: a runner input (ClassModel) or a SUT event (ClassSystem).
func Reactive(from, to *State, class Class, on Kind, guard ReactiveGuard, update Update) *Transition {
	return &Transition{from: from, to: to, on: on, class: class, reactive: true, rguard: guard, update: update}
}

// Proactive creates a transition that produces an outgoing action of the
// given kind: a runner output (ClassModel) or a SUT command (ClassSystem).
func Proactive(from, to *State, class Class, on Kind, guard ProactiveGuard, generate Generate, update Update) *Transition {
	return &Transition{from: from, to: to, on: on, class: class, pguard: guard, generate: generate, update: update}
}

// From returns the source state.
func (t *Transition) From() *State { return t.from }

// To returns the target state.
func (t *Transition) To() *State { return t.to }

// On returns the action kind the transition is keyed on.
func (t *Transition) On() Kind { return t.on }

// Class returns whether the keyed kind is a model or a system kind.
func (t *Transition) Class() Class { return t.class }

// IsReactive reports the reactive flavor.
func (t *Transition) IsReactive() bool { return t.reactive }

// IsProactive reports the proactive flavor.
func (t *Transition) IsProactive() bool { return !t.reactive }

func (t *Transition) String() string {
	flavor := "proactive"
	if t.reactive {
		flavor = "reactive"
	}
	return fmt.Sprintf("%s --%s(%s/%s)--> %s", t.from, flavor, t.class, t.on, t.to)
}

// reactiveEnabled evaluates the reactive guard against vars and act.
func (t *Transition) reactiveEnabled(vars *Variables, act Action) bool {
	if !t.reactive {
		return false
	}
	if t.rguard == nil {
		return true
	}
	return t.rguard(vars, act)
}

// proactiveEnabled evaluates the proactive guard against vars.
func (t *Transition) proactiveEnabled(vars *Variables) bool {
	if t.reactive {
		return false
	}
	if t.pguard == nil {
		return true
	}
	return t.pguard(vars)
}

func (t *Transition) runUpdate(vars *Variables, act Action) error {
	if t.update == nil {
		return nil
	}
	return t.update(vars, act)
}
