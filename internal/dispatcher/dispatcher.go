// Package dispatcher tracks active runs and executes them in the background,
// one run per target domain at a time.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

var (
	// ErrTargetActive is returned when the target's domain already has a run.
	ErrTargetActive = errors.New("a run for this target is already active")
	// ErrNotFound is returned for unknown or finished run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrClosed is returned once the dispatcher is shutting down.
	ErrClosed = errors.New("dispatcher closed")
	// ErrNotAllowed is returned when the admission policy rejects a target.
	ErrNotAllowed = errors.New("target not allowed")
)

// RunFactory prepares runs; *agent.Agent satisfies it.
type RunFactory interface {
	NewRun(params agent.Params) (*agent.Run, error)
}

// Admission vets targets before a run is registered.
type Admission interface {
	AllowTarget(rawURL string) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAdmission rejects targets the policy does not allow.
func WithAdmission(a Admission) Option {
	return func(d *Dispatcher) { d.admission = a }
}

// Dispatcher fans runs out to goroutines and keeps them addressable by ID.
type Dispatcher struct {
	factory   RunFactory
	emitter   progress.Emitter
	admission Admission
	logger    *zap.Logger

	mu       sync.Mutex
	runs     map[string]*agent.Run
	byDomain map[string]string
	launched map[string]bool
	closed   bool
	wg       sync.WaitGroup
}

// New creates a Dispatcher that drains every run into emitter.
func New(factory RunFactory, emitter progress.Emitter, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		factory:  factory,
		emitter:  emitter,
		logger:   logger.Named("dispatcher"),
		runs:     make(map[string]*agent.Run),
		byDomain: make(map[string]string),
		launched: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Prepare creates and registers a run without starting it, so callers can
// subscribe to its events first. A prepared run holds its domain until it is
// launched and finishes, or until Release is called.
func (d *Dispatcher) Prepare(params agent.Params) (*agent.Run, error) {
	run, err := d.factory.NewRun(params)
	if err != nil {
		return nil, err
	}
	if d.admission != nil {
		if err := d.admission.AllowTarget(run.Target()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotAllowed, err)
		}
	}
	domain := crawler.Domain(run.Target())

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if id, ok := d.byDomain[domain]; ok {
		return nil, fmt.Errorf("%w: %s (run %s)", ErrTargetActive, domain, id)
	}
	d.runs[run.ID()] = run
	d.byDomain[domain] = run.ID()
	return run, nil
}

// Launch executes a prepared run in the background. When ctx is done the
// run is stopped and still reports its terminal event. A run prepared before
// Shutdown is released and ErrClosed returned.
func (d *Dispatcher) Launch(ctx context.Context, run *agent.Run) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.Release(run)
		return ErrClosed
	}
	if d.runs[run.ID()] != run {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, run.ID())
	}
	if d.launched[run.ID()] {
		d.mu.Unlock()
		return fmt.Errorf("run %s already launched", run.ID())
	}
	d.launched[run.ID()] = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.Release(run)
		stop := context.AfterFunc(ctx, run.Stop)
		defer stop()

		status, err := run.Execute(context.WithoutCancel(ctx), d.emitter)
		if err != nil {
			d.logger.Error("run failed to execute", zap.String("run_id", run.ID()), zap.Error(err))
			return
		}
		d.logger.Info("run complete",
			zap.String("run_id", run.ID()),
			zap.String("target", run.Target()),
			zap.Stringer("status", status))
	}()
	return nil
}

// Start prepares and launches a run.
func (d *Dispatcher) Start(ctx context.Context, params agent.Params) (*agent.Run, error) {
	run, err := d.Prepare(params)
	if err != nil {
		return nil, err
	}
	if err := d.Launch(ctx, run); err != nil {
		d.Release(run)
		return nil, err
	}
	return run, nil
}

// Release unregisters run. It is called automatically when a launched run
// finishes.
func (d *Dispatcher) Release(run *agent.Run) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runs[run.ID()] != run {
		return
	}
	delete(d.runs, run.ID())
	delete(d.launched, run.ID())
	domain := crawler.Domain(run.Target())
	if d.byDomain[domain] == run.ID() {
		delete(d.byDomain, domain)
	}
}

// Stop asks the run with id to end.
func (d *Dispatcher) Stop(id string) error {
	run, ok := d.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	run.Stop()
	return nil
}

// Get returns an active run.
func (d *Dispatcher) Get(id string) (*agent.Run, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	run, ok := d.runs[id]
	return run, ok
}

// Active reports whether target's domain has a registered run.
func (d *Dispatcher) Active(target string) bool {
	normalized, err := crawler.NormalizeURL(target)
	if err != nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.byDomain[crawler.Domain(normalized)]
	return ok
}

// Len returns the number of registered runs.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

// Shutdown rejects new runs, stops the active ones and waits for them to
// finish or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	for _, run := range d.runs {
		run.Stop()
	}
	d.mu.Unlock()

	if err := d.Wait(ctx); err != nil {
		return fmt.Errorf("dispatcher shutdown: %w", err)
	}
	return nil
}

// Wait blocks until every launched run has finished or ctx ends. Runs keep
// going when ctx ends first.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
