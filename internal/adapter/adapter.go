// Package adapter composes the refinement scheduler with the runner
// transport and the SUT callback into one start/stoppable session.
package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"refinery"
	"refinery/internal/modelfile"
	"refinery/internal/ratelimit"
	"refinery/internal/trace"
	"refinery/internal/wire"
)

// RunnerLink is the transport surface the adapter drives. The concrete
// implementation is the TCP connector; tests substitute a fake.
type RunnerLink interface {
	Start() error
	Stop() error
	SendOutput(wire.TorXakisAction) error
}

// Options wires an adapter session.
type Options struct {
	Systems []*refinery.IOSTS
	Codec   *wire.Codec
	Link    RunnerLink
	Binding modelfile.Binding

	// ExecuteCommand dispatches a system command to the SUT. It runs on
	// the adapter's command goroutine, not inside the scheduler lock, so
	// it may block.
	ExecuteCommand func(refinery.SystemAction) error

	// Limiter paces command dispatch; nil means unpaced.
	Limiter *ratelimit.Limiter

	Logger   *trace.Logger
	Recorder *trace.Recorder
	Rand     *rand.Rand
}

// Adapter owns one refinement session.
type Adapter struct {
	sched   *refinery.Scheduler
	link    RunnerLink
	codec   *wire.Codec
	binding modelfile.Binding
	logger  *trace.Logger
	limiter *ratelimit.Limiter
	execute func(refinery.SystemAction) error

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan refinery.SystemAction
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds an adapter and registers its systems. The scheduler's output
// sink serializes onto the runner link; its command sink hands off to the
// command goroutine so Tick never blocks on the SUT.
func New(opts Options) (*Adapter, error) {
	if opts.Link == nil {
		return nil, fmt.Errorf("new adapter: missing runner link: %w", refinery.ErrBadArgument)
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("new adapter: missing codec: %w", refinery.ErrBadArgument)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		link:    opts.Link,
		codec:   opts.Codec,
		binding: opts.Binding,
		logger:  opts.Logger,
		limiter: opts.Limiter,
		execute: opts.ExecuteCommand,
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan refinery.SystemAction, 256),
	}

	var observe func(refinery.Record)
	if opts.Recorder != nil {
		observe = opts.Recorder.Observe
	}
	a.sched = refinery.NewScheduler(refinery.Options{
		Rand:            opts.Rand,
		Logger:          opts.Logger,
		Observe:         observe,
		OnModelOutput:   a.sendToRunner,
		OnSystemCommand: a.enqueueCommand,
	})

	for _, sys := range opts.Systems {
		if _, err := a.sched.AddSystem(sys); err != nil {
			cancel()
			return nil, err
		}
	}
	return a, nil
}

// Scheduler exposes the underlying scheduler, mainly for embedders that
// register systems dynamically.
func (a *Adapter) Scheduler() *refinery.Scheduler { return a.sched }

// Start brings up the runner link and the command dispatcher.
func (a *Adapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("adapter already started")
	}
	if a.stopped {
		return fmt.Errorf("adapter already stopped")
	}
	if err := a.link.Start(); err != nil {
		return err
	}
	a.started = true
	a.wg.Add(1)
	go a.dispatchCommands()
	return nil
}

// Stop tears the session down. It is idempotent and safe to call from
// cleanup paths regardless of whether Start succeeded.
func (a *Adapter) Stop() error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	started := a.started
	a.mu.Unlock()

	a.cancel()
	err := a.link.Stop()
	close(a.cmds)
	if started {
		a.wg.Wait()
	}
	return err
}

// HandleRunnerStarted is the link's connection callback.
func (a *Adapter) HandleRunnerStarted() {
	a.logger.Printf("runner connected on channel pair %s/%s (port %d)",
		a.binding.InChannel, a.binding.OutChannel, a.binding.Port)
}

// HandleRunnerInput decodes one received line and advances the scheduler.
// Lines on foreign channels or with the wrong direction are ignored; a
// line that does not decode gets the error reply so the runner is not
// left waiting on a malformed stimulus.
func (a *Adapter) HandleRunnerInput(ta wire.TorXakisAction) {
	if ta.Type != wire.TypeInput || ta.Channel != a.binding.InChannel {
		a.logger.Printf("ignoring action on channel %q (direction %s)", ta.Channel, ta.Type)
		return
	}
	a.logger.Input(ta.Channel, ta.Data)

	act, err := a.codec.Deserialize(ta.Data)
	if err != nil {
		a.logger.Printf("undecodable input %q: %v", ta.Data, err)
		if err := a.sched.SendModelOutput(refinery.ErrorAction); err != nil {
			a.logger.Printf("error reply failed: %v", err)
		}
		return
	}
	if err := a.sched.HandleModelInput(act); err != nil {
		a.logger.Printf("input %q rejected: %v", act.Kind(), err)
		return
	}
	if err := a.sched.Tick(); err != nil {
		a.logger.Printf("dispatch after input %q: %v", act.Kind(), err)
	}
}

// HandleSystemEvent delivers an observed SUT event and advances the
// scheduler. Embedders may call it from any goroutine.
func (a *Adapter) HandleSystemEvent(e refinery.SystemAction) error {
	if e == nil {
		return fmt.Errorf("handle system event: nil action: %w", refinery.ErrBadArgument)
	}
	a.logger.Event(string(e.Kind()), e.Payload())
	if err := a.sched.HandleSystemEvent(e); err != nil {
		return err
	}
	return a.sched.Tick()
}

// sendToRunner is the scheduler's model output sink.
func (a *Adapter) sendToRunner(m refinery.ModelAction) error {
	line, err := a.codec.Serialize(m)
	if err != nil {
		return err
	}
	a.logger.Output(a.binding.OutChannel, line)
	return a.link.SendOutput(wire.TorXakisAction{
		Type:    wire.TypeOutput,
		Channel: a.binding.OutChannel,
		Data:    line,
	})
}

// enqueueCommand is the scheduler's command sink: a non-blocking handoff
// to the dispatcher goroutine.
func (a *Adapter) enqueueCommand(c refinery.SystemAction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return fmt.Errorf("enqueue command %q: adapter stopped", c.Kind())
	}
	select {
	case a.cmds <- c:
		return nil
	default:
		return fmt.Errorf("enqueue command %q: command queue full", c.Kind())
	}
}

// dispatchCommands drains the command queue toward the SUT, paced by the
// limiter. Commands keep their firing order.
func (a *Adapter) dispatchCommands() {
	defer a.wg.Done()
	for c := range a.cmds {
		if err := a.limiter.Wait(a.ctx); err != nil {
			return
		}
		a.logger.Command(string(c.Kind()), c.Payload())
		if a.execute == nil {
			a.logger.Printf("no SUT callback, dropping command %q", c.Kind())
			continue
		}
		if err := a.execute(c); err != nil {
			a.logger.Printf("execute command %q: %v", c.Kind(), err)
		}
	}
}
