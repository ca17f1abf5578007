package refinery

import "errors"

// ErrBadArgument indicates a nil action, an empty name, or a value of an
// unsupported type passed across the API boundary.
var ErrBadArgument = errors.New("bad argument")

// ErrTypeMismatch indicates a variable access that disagrees with the type
// the name is bound to.
var ErrTypeMismatch = errors.New("type mismatch")

// ErrUnboundVariable indicates a get or clear of a variable that is not set.
var ErrUnboundVariable = errors.New("unbound variable")

// ErrIllegalTransition indicates an attempt to fire a transition that is not
// in the enabled set for the supplied trigger.
var ErrIllegalTransition = errors.New("illegal transition")

// ErrSystemNotActivatable indicates an attempt to fire a transition in one
// IOSTS while a different IOSTS holds the active refinement.
var ErrSystemNotActivatable = errors.New("system not activatable")

// ErrIllFormed indicates an IOSTS whose transitions do not name exactly one
// model input kind, or whose transition endpoints lie outside its state set.
var ErrIllFormed = errors.New("ill-formed IOSTS")
