package refinery

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

// Logger receives scheduler diagnostics. Implementations must be safe for
// concurrent use; a nil Logger discards everything.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures a Scheduler. The zero value is usable: selection is
// seeded from the global source, diagnostics are discarded, and outputs and
// commands are dropped until sinks are provided.
type Options struct {
	// Rand drives the uniform choice among enabled candidates. Tests pass
	// a seeded source to make nondeterministic runs reproducible.
	Rand *rand.Rand

	// Logger receives dispatch diagnostics (drops, discards, error replies).
	Logger Logger

	// OnModelOutput delivers a model output to the runner transport. It is
	// invoked synchronously under the scheduler lock and must not call back
	// into the scheduler or block.
	OnModelOutput func(ModelAction) error

	// OnSystemCommand delivers a system command to the SUT. Same contract
	// as OnModelOutput.
	OnSystemCommand func(SystemAction) error

	// Observe, when set, receives a Record for every boundary event. Same
	// contract as OnModelOutput.
	Observe func(Record)
}

// Filters is the kind classification over all registered transitions:
// (reactive × model) inputs, (proactive × model) outputs, (proactive ×
// system) commands, and (reactive × system) events.
type Filters struct {
	ModelInputs    []Kind
	ModelOutputs   []Kind
	SystemCommands []Kind
	SystemEvents   []Kind
}

// Scheduler owns the registered IOSTS set and the refinement dispatch loop.
// Producers may enqueue inputs and events from any goroutine; Tick runs the
// fixed-point loop on whichever goroutine the embedder chooses. A single
// lock covers every mutating operation, so guards and updates must never
// call back into the scheduler.
type Scheduler struct {
	mu      sync.Mutex
	systems []*IOSTS

	modelInputs    map[Kind]bool
	modelOutputs   map[Kind]bool
	systemCommands map[Kind]bool
	systemEvents   map[Kind]bool

	inputs []ModelAction
	events []SystemAction

	current *IOSTS

	rng     *rand.Rand
	logger  Logger
	output  func(ModelAction) error
	execute func(SystemAction) error
	observe func(Record)
}

// NewScheduler creates a scheduler with no registered systems. Refinements
// are always atomic: once an IOSTS leaves its initial state, only it may
// fire until it returns.
func NewScheduler(opts Options) *Scheduler {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Scheduler{
		modelInputs:    make(map[Kind]bool),
		modelOutputs:   make(map[Kind]bool),
		systemCommands: make(map[Kind]bool),
		systemEvents:   make(map[Kind]bool),
		rng:            rng,
		logger:         opts.Logger,
		output:         opts.OnModelOutput,
		execute:        opts.OnSystemCommand,
		observe:        opts.Observe,
	}
}

// AddSystem registers an IOSTS and reindexes the kind filters. Adding an
// already registered system returns false.
func (s *Scheduler) AddSystem(sys *IOSTS) (bool, error) {
	if sys == nil {
		return false, fmt.Errorf("add system: nil: %w", ErrBadArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.systems {
		if r == sys {
			return false, nil
		}
	}
	s.systems = append(s.systems, sys)
	s.reindex()
	return true, nil
}

// RemoveSystem deregisters an IOSTS, reindexes the filters, and prunes the
// queues of elements whose kinds are no longer accepted. Removing the
// active system clears the active refinement.
func (s *Scheduler) RemoveSystem(sys *IOSTS) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.systems {
		if r != sys {
			continue
		}
		s.systems = append(s.systems[:i], s.systems[i+1:]...)
		if s.current == sys {
			s.current = nil
		}
		s.reindex()
		s.pruneQueues()
		return true
	}
	return false
}

// Systems returns the registered IOSTS set.
func (s *Scheduler) Systems() []*IOSTS {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*IOSTS, len(s.systems))
	copy(out, s.systems)
	return out
}

// CurrentSystem returns the IOSTS holding the active refinement, or nil
// when no refinement is in progress.
func (s *Scheduler) CurrentSystem() *IOSTS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Filters returns the four cached kind filter sets, each sorted.
func (s *Scheduler) Filters() Filters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Filters{
		ModelInputs:    sortedKinds(s.modelInputs),
		ModelOutputs:   sortedKinds(s.modelOutputs),
		SystemCommands: sortedKinds(s.systemCommands),
		SystemEvents:   sortedKinds(s.systemEvents),
	}
}

// QueueLengths returns the input and event queue lengths.
func (s *Scheduler) QueueLengths() (inputs, events int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs), len(s.events)
}

// HandleModelInput enqueues a model input received from the runner. Inputs
// whose kind no registered refinement consumes are dropped silently. The
// call only enqueues; the embedder advances the scheduler with Tick.
func (s *Scheduler) HandleModelInput(a ModelAction) error {
	if a == nil {
		return fmt.Errorf("handle model input: nil action: %w", ErrBadArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modelInputs[a.Kind()] {
		s.logf("dropping model input %q: no refinement registered for it", a.Kind())
		s.record(Record{Op: OpInputDropped, Kind: a.Kind()})
		return nil
	}
	s.inputs = append(s.inputs, a)
	s.record(Record{Op: OpInput, Kind: a.Kind()})
	return nil
}

// HandleSystemEvent enqueues a system event observed on the SUT. Events
// whose kind no registered refinement consumes are dropped silently.
func (s *Scheduler) HandleSystemEvent(e SystemAction) error {
	if e == nil {
		return fmt.Errorf("handle system event: nil action: %w", ErrBadArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.systemEvents[e.Kind()] {
		s.logf("dropping system event %q: no refinement consumes it", e.Kind())
		s.record(Record{Op: OpEventDropped, Kind: e.Kind()})
		return nil
	}
	s.events = append(s.events, e)
	s.record(Record{Op: OpEvent, Kind: e.Kind()})
	return nil
}

// SendModelOutput delivers a model output to the runner sink, dropping
// kinds outside the model-output filter. The error reply kind is always
// allowed through.
func (s *Scheduler) SendModelOutput(o ModelAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendModelOutputLocked(o)
}

// SendSystemCommand delivers a system command to the SUT callback, dropping
// kinds outside the system-command filter.
func (s *Scheduler) SendSystemCommand(c SystemAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendSystemCommandLocked(c)
}

// Tick runs the dispatch loop to quiescence: as long as a proactive
// transition is enabled in scope, or either queue is non-empty, it keeps
// evaluating the phases in order (proactive, then one event, then one
// input) and firing at most one transition per pass. It returns when both
// queues are empty and no proactive transition is enabled, or with the
// first error raised by a generator or update.
func (s *Scheduler) Tick() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		progressed, err := s.step()
		if err != nil {
			return err
		}
		if !progressed && len(s.inputs) == 0 && len(s.events) == 0 {
			return nil
		}
	}
}

type candidate struct {
	sys *IOSTS
	t   *Transition
}

// step evaluates one pass of the phase order and reports whether a
// transition fired or an error reply was produced.
func (s *Scheduler) step() (bool, error) {
	// Phase P: proactive transitions take precedence over both queues.
	var cands []candidate
	for _, sys := range s.scope() {
		for _, t := range sys.EnabledProactive() {
			cands = append(cands, candidate{sys, t})
		}
	}
	if len(cands) > 0 {
		c := cands[s.rng.Intn(len(cands))]
		if err := s.checkActivatable(c.sys); err != nil {
			return false, err
		}
		act, err := c.sys.FireProactive(c.t)
		if err != nil {
			return false, err
		}
		s.record(Record{Op: OpFire, Kind: c.t.On(), System: c.sys.Name()})
		s.afterFire(c.sys)
		if err := s.dispatchGenerated(c.t, act); err != nil {
			return false, err
		}
		return true, nil
	}

	// Phase E: already-observed SUT behavior is incorporated before new
	// runner stimuli are admitted.
	if len(s.events) > 0 {
		e := s.events[0]
		s.events = s.events[1:]
		fired, err := s.fireReactive(e)
		if err != nil {
			return false, err
		}
		if fired {
			return true, nil
		}
		// Events are broadcast; one with no refinement at the current
		// state is discarded, not an error.
		s.logf("discarding system event %q: no enabled transition", e.Kind())
		s.record(Record{Op: OpEventDiscarded, Kind: e.Kind()})
	}

	// Phase I: consume one runner input. An input with no enabled
	// transition is a refinement error, answered immediately so the
	// runner does not wait forever.
	if len(s.inputs) > 0 {
		i := s.inputs[0]
		s.inputs = s.inputs[1:]
		fired, err := s.fireReactive(i)
		if err != nil {
			return false, err
		}
		if fired {
			return true, nil
		}
		s.logf("no refinement for model input %q, replying %s", i.Kind(), KindError)
		s.record(Record{Op: OpErrorReply, Kind: i.Kind()})
		if err := s.sendModelOutputLocked(ErrorAction); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, nil
}

// scope returns the candidate aggregation scope: the active IOSTS alone
// while a refinement is in progress, every registered IOSTS otherwise.
func (s *Scheduler) scope() []*IOSTS {
	if s.current != nil {
		return []*IOSTS{s.current}
	}
	return s.systems
}

// fireReactive picks uniformly among the reactive transitions enabled for
// act across the scope and fires the chosen one. It reports false when no
// transition is enabled.
func (s *Scheduler) fireReactive(act Action) (bool, error) {
	var cands []candidate
	for _, sys := range s.scope() {
		for _, t := range sys.EnabledReactive(act) {
			cands = append(cands, candidate{sys, t})
		}
	}
	if len(cands) == 0 {
		return false, nil
	}
	c := cands[s.rng.Intn(len(cands))]
	if err := s.checkActivatable(c.sys); err != nil {
		return false, err
	}
	if err := c.sys.FireReactive(act, c.t); err != nil {
		return false, err
	}
	s.record(Record{Op: OpFire, Kind: c.t.On(), System: c.sys.Name()})
	s.afterFire(c.sys)
	return true, nil
}

// checkActivatable rejects a firing in sys while a different IOSTS holds
// the active refinement. Scoping makes this unreachable from Tick; the
// check guards direct misuse.
func (s *Scheduler) checkActivatable(sys *IOSTS) error {
	if s.current != nil && s.current != sys {
		return fmt.Errorf("IOSTS %q: refinement active in %q: %w", sys.Name(), s.current.Name(), ErrSystemNotActivatable)
	}
	return nil
}

// afterFire tracks the active refinement across a firing in sys: entering a
// non-initial state activates sys, returning to the initial state closes
// the refinement.
func (s *Scheduler) afterFire(sys *IOSTS) {
	wasActive := s.current == sys
	if sys.AtInitial() {
		s.current = nil
		if wasActive {
			s.record(Record{Op: OpRefineEnd, System: sys.Name()})
		}
		return
	}
	if !wasActive {
		s.record(Record{Op: OpRefineStart, System: sys.Name()})
	}
	s.current = sys
}

// dispatchGenerated routes a generated action by the class of the firing
// transition: model outputs to the runner, system commands to the SUT.
func (s *Scheduler) dispatchGenerated(t *Transition, act Action) error {
	switch t.Class() {
	case ClassModel:
		m, ok := act.(ModelAction)
		if !ok {
			return fmt.Errorf("transition %s generated a non-model action: %w", t, ErrBadArgument)
		}
		return s.sendModelOutputLocked(m)
	case ClassSystem:
		c, ok := act.(SystemAction)
		if !ok {
			return fmt.Errorf("transition %s generated a non-system action: %w", t, ErrBadArgument)
		}
		return s.sendSystemCommandLocked(c)
	default:
		return fmt.Errorf("transition %s has unknown class: %w", t, ErrBadArgument)
	}
}

func (s *Scheduler) sendModelOutputLocked(o ModelAction) error {
	if o == nil {
		return fmt.Errorf("send model output: nil action: %w", ErrBadArgument)
	}
	if o.Kind() != KindError && !s.modelOutputs[o.Kind()] {
		s.logf("dropping model output %q: outside the output filter", o.Kind())
		return nil
	}
	s.record(Record{Op: OpOutput, Kind: o.Kind()})
	if s.output == nil {
		s.logf("no runner sink, dropping model output %q", o.Kind())
		return nil
	}
	if err := s.output(o); err != nil {
		return fmt.Errorf("send model output %q: %w", o.Kind(), err)
	}
	return nil
}

func (s *Scheduler) sendSystemCommandLocked(c SystemAction) error {
	if c == nil {
		return fmt.Errorf("send system command: nil action: %w", ErrBadArgument)
	}
	if !s.systemCommands[c.Kind()] {
		s.logf("dropping system command %q: outside the command filter", c.Kind())
		return nil
	}
	s.record(Record{Op: OpCommand, Kind: c.Kind()})
	if s.execute == nil {
		s.logf("no SUT callback, dropping system command %q", c.Kind())
		return nil
	}
	if err := s.execute(c); err != nil {
		return fmt.Errorf("execute system command %q: %w", c.Kind(), err)
	}
	return nil
}

// reindex rebuilds the four filter sets from the registered transitions.
func (s *Scheduler) reindex() {
	s.modelInputs = make(map[Kind]bool)
	s.modelOutputs = make(map[Kind]bool)
	s.systemCommands = make(map[Kind]bool)
	s.systemEvents = make(map[Kind]bool)
	for _, sys := range s.systems {
		for _, t := range sys.Transitions() {
			switch {
			case t.IsReactive() && t.Class() == ClassModel:
				s.modelInputs[t.On()] = true
			case t.IsReactive() && t.Class() == ClassSystem:
				s.systemEvents[t.On()] = true
			case t.IsProactive() && t.Class() == ClassModel:
				s.modelOutputs[t.On()] = true
			default:
				s.systemCommands[t.On()] = true
			}
		}
	}
}

// pruneQueues drops queued elements whose kinds left the filters after a
// deregistration, keeping the queue-membership invariant.
func (s *Scheduler) pruneQueues() {
	ins := s.inputs[:0]
	for _, a := range s.inputs {
		if s.modelInputs[a.Kind()] {
			ins = append(ins, a)
		} else {
			s.logf("pruning queued model input %q: refinement removed", a.Kind())
		}
	}
	s.inputs = ins
	evs := s.events[:0]
	for _, e := range s.events {
		if s.systemEvents[e.Kind()] {
			evs = append(evs, e)
		} else {
			s.logf("pruning queued system event %q: refinement removed", e.Kind())
		}
	}
	s.events = evs
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func (s *Scheduler) record(r Record) {
	if s.observe != nil {
		r.Time = now()
		s.observe(r)
	}
}

func sortedKinds(set map[Kind]bool) []Kind {
	out := make([]Kind, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
