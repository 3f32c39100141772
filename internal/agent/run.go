package agent

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/planner"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/ledger"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

type stepKind int

const (
	stepContinue stepKind = iota
	stepDone
	stepSwitch
	stepAbort
	stepHalt
)

// stepResult tells the plan loop how a strategy, or a page within it, ended.
type stepResult struct {
	kind   stepKind
	reason string
}

// Run is one goal-directed crawl. Its events can be consumed once.
type Run struct {
	agent  *Agent
	id     string
	runID  [16]byte
	target string
	domain string
	window crawler.DateWindow
	goal   *goal.Goal
	ledger *ledger.Ledger
	logger *zap.Logger

	consumed atomic.Bool
	stopped  atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	records []crawler.JobRecord
	output  string

	// Producer state, owned by the goroutine draining Events.
	yield        func(progress.Event) bool
	halted       bool
	seq          int64
	pages        map[string]struct{}
	rotate       bool
	ledgerWarned bool
}

// ID returns the run's UUID string.
func (r *Run) ID() string { return r.id }

// RunID returns the binary run ID carried by events.
func (r *Run) RunID() [16]byte { return r.runID }

// Target returns the target URL as requested.
func (r *Run) Target() string { return r.target }

// Window returns the run's date window.
func (r *Run) Window() crawler.DateWindow { return r.window }

// Goal returns a snapshot of the run's goal.
func (r *Run) Goal() goal.Snapshot { return r.goal.Snapshot() }

// Stop asks the run to end. It is checked at the top of every loop
// iteration; a fetch already in flight completes first.
func (r *Run) Stop() {
	r.stopped.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Records returns the records accepted so far.
func (r *Run) Records() []crawler.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]crawler.JobRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Output returns the name of the written output file, if any.
func (r *Run) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Events returns the run's event log as a lazy sequence. The run executes
// while the sequence is iterated and ends when the goal is terminal, the
// plan is exhausted, Stop is called, ctx is done or the consumer stops
// pulling. The sequence is not restartable: only the first iteration of any
// sequence returned by Events yields anything.
func (r *Run) Events(ctx context.Context) iter.Seq[progress.Event] {
	return func(yield func(progress.Event) bool) {
		if !r.consumed.CompareAndSwap(false, true) {
			return
		}
		r.yield = yield
		r.execute(ctx)
	}
}

// Execute drains the run into emitter and returns the final status.
func (r *Run) Execute(ctx context.Context, emitter progress.Emitter) (goal.Status, error) {
	if n := progress.Forward(ctx, r.Events(ctx), emitter); n == 0 {
		return r.goal.Status(), ErrRunConsumed
	}
	return r.goal.Status(), nil
}

func (r *Run) execute(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	if r.stopped.Load() {
		cancel()
	}

	ctx, span := r.agent.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("run.target", r.target),
	))
	defer span.End()

	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	r.goal.Start()
	cfg := r.goal.Config()
	r.logger.Info("run started", zap.Stringer("window", r.window), zap.Int("target_count", cfg.TargetCount))
	r.emit(progress.Event{Type: progress.TypeProgress, Tag: progress.TagAgent, Site: r.target,
		Line: fmt.Sprintf("run %s started for %s", r.id, r.target)})
	r.progress(progress.TagGoal, "collect %d postings dated %s (max %d requests, %s)",
		cfg.TargetCount, r.window, cfg.Resources.MaxRequests, cfg.Resources.MaxDuration)

	reason := r.loop(ctx)
	status := r.goal.Finish(reason)
	span.SetAttributes(attribute.String("run.status", status.String()))
	r.finish(ctx, status)
}

// loop drives the plan until the goal is terminal, the plan is exhausted or
// the run is interrupted. It returns the reason handed to Goal.Finish.
func (r *Run) loop(ctx context.Context) string {
	a := r.agent
	plan, err := a.deps.Planner.Plan(planner.Request{
		TargetURL: r.target,
		Window:    r.window,
		Remaining: r.goal.Remaining(),
	}, a.deps.World.Knowledge(r.domain))
	if err != nil {
		r.failure(r.domain, "plan: %v", err)
		return "planning failed: " + err.Error()
	}
	r.progress(progress.TagPlan, "%d strategies: %s", plan.Len(), joinTypes(plan.Types()))

	for {
		if reason, interrupted := r.interrupted(ctx); interrupted {
			return reason
		}
		if r.goal.Status().Terminal() {
			return ""
		}
		current, ok := plan.Head()
		if !ok {
			return "plan exhausted"
		}

		res := r.runStrategy(ctx, current)
		if res.kind == stepAbort {
			return "aborted: " + res.reason
		}
		plan = a.deps.Planner.Replan(plan, current.Type)
		if res.kind == stepSwitch && !plan.Empty() {
			r.progress(progress.TagPlan, "%s abandoned (%s); %d strategies left: %s",
				current.Type, res.reason, plan.Len(), joinTypes(plan.Types()))
		}
	}
}

func (r *Run) interrupted(ctx context.Context) (string, bool) {
	switch {
	case r.halted:
		return "event consumer went away", true
	case r.stopped.Load():
		return "stopped by request", true
	case ctx.Err() != nil:
		return "canceled: " + ctx.Err().Error(), true
	}
	return "", false
}

// active reports whether work may continue.
func (r *Run) active(ctx context.Context) bool {
	if _, interrupted := r.interrupted(ctx); interrupted {
		return false
	}
	return !r.goal.Status().Terminal()
}

// finish persists shared state and delivers the accepted records, whatever
// ended the run.
func (r *Run) finish(ctx context.Context, status goal.Status) {
	a := r.agent
	ctx = context.WithoutCancel(ctx)
	r.flushShared(ctx)

	records := r.Records()
	if a.deps.Output != nil && len(records) > 0 {
		name, err := a.deps.Output.WriteRecords(ctx, r.id, records)
		if err != nil {
			r.logger.Error("write output failed", zap.Error(err))
			r.failure(r.domain, "save: %v", err)
		} else {
			r.mu.Lock()
			r.output = name
			r.mu.Unlock()
			r.progress(progress.TagSave, "saved %d records to %s", len(records), name)
			r.emit(progress.Event{Type: progress.TypeDownload, Tag: progress.TagDownload, Line: name, Filename: name})
		}
	} else if len(records) == 0 {
		r.progress(progress.TagSave, "no records to save")
	}

	snap := r.goal.Snapshot()
	metrics.ObserveRun(status.String())
	r.logger.Info("run finished",
		zap.Stringer("status", status),
		zap.String("reason", snap.Reason),
		zap.Int("valid", snap.Progress.ValidFound),
		zap.Int("requests", snap.Progress.RequestsMade))
	r.emit(progress.Event{
		Type:   progress.TypeTerminal,
		Tag:    progress.TagComplete,
		Line:   fmt.Sprintf("status %s: %s (%d valid, %d requests)", status, snap.Reason, snap.Progress.ValidFound, snap.Progress.RequestsMade),
		Status: status.String(),
		Reason: snap.Reason,
	})
}

// flushShared writes the ledger and world model back to shared storage.
// Failures are reported but never end the run.
func (r *Run) flushShared(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := r.ledger.Flush(ctx); err != nil && !r.ledgerWarned {
		r.ledgerWarned = true
		r.failure(r.domain, "shared ledger unavailable, continuing with in-run dedup: %v", err)
	}
	if err := r.agent.deps.World.Flush(ctx); err != nil {
		r.logger.Warn("world model flush failed", zap.Error(err))
	}
}

func (r *Run) keep(record crawler.JobRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

// emit stamps and yields one event. After the consumer stops pulling, events
// are discarded.
func (r *Run) emit(evt progress.Event) {
	if r.halted || r.yield == nil {
		return
	}
	r.seq++
	evt.Seq = r.seq
	evt.RunID = r.runID
	evt.TS = r.agent.deps.Clock.Now().UTC()
	if evt.Site == "" {
		evt.Site = r.domain
	}
	if !r.yield(evt) {
		r.halted = true
	}
}

func (r *Run) progress(tag progress.Tag, format string, args ...any) {
	r.emit(progress.Event{Type: progress.TypeProgress, Tag: tag, Line: fmt.Sprintf(format, args...)})
}

func (r *Run) failure(site, format string, args ...any) {
	r.emit(progress.Event{Type: progress.TypeFailure, Tag: progress.TagError, Site: site, Line: fmt.Sprintf(format, args...)})
}

func joinTypes(types []crawler.StrategyType) string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return strings.Join(names, " > ")
}
