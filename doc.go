// Package refinery implements an action-refinement engine that mediates
// between a model-based test runner and a concrete system under test.
//
// The runner speaks in model actions; the SUT speaks in system actions.
// Each model input is refined into a sequence of system commands by an
// Input-Output Symbolic Transition System (IOSTS), and observed system
// events are abstracted back into a model output the runner can check.
// The Scheduler owns the registered IOSTS set, dispatches queued inputs
// and events, fires proactive transitions, and keeps refinements atomic.
package refinery
