package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/planner"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/recovery"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// fetch retrieves rawURL, retrying in place while the recovery engine asks
// for backoff or a new identity. ok is false when the URL could not be
// fetched; d is then the final decision, or nil when the run was
// interrupted.
func (r *Run) fetch(ctx context.Context, s planner.Strategy, rawURL string) (crawler.FetchResponse, recovery.Decision, bool) {
	a := r.agent
	domain := crawler.Domain(rawURL)
	for {
		if !r.active(ctx) {
			return crawler.FetchResponse{}, nil, false
		}
		req := crawler.FetchRequest{
			URL:            rawURL,
			RotateIdentity: r.rotate,
			Threat:         a.deps.World.Knowledge(domain).Threat,
		}
		r.rotate = false
		r.goal.RecordRequest()
		resp, err := a.deps.Fetcher.Fetch(ctx, req)
		if err != nil && ctx.Err() != nil && !errors.Is(err, crawler.ErrTimeout) {
			return resp, nil, false
		}

		sig := crawler.FailureSignal{
			Domain:     domain,
			Strategy:   s.Type,
			StatusCode: resp.StatusCode,
			Err:        err,
			Body:       resp.Body,
		}
		kind, failed := a.deps.Recovery.Classify(sig)
		if !failed {
			return resp, nil, true
		}
		d, retry := r.recover(ctx, domain, s, kind, describe(rawURL, resp.StatusCode, err))
		if !retry {
			return resp, d, false
		}
	}
}

// recover books a classified failure and applies the engine's decision.
// retry is true when the same request should be issued again.
func (r *Run) recover(
	ctx context.Context,
	domain string,
	s planner.Strategy,
	kind crawler.FailureKind,
	detail string,
) (recovery.Decision, bool) {
	a := r.agent
	r.goal.RecordOutcome(goal.OutcomeFailure)
	streak := a.deps.World.ObserveFailure(domain, kind, s.Type)
	d := a.deps.Recovery.Decide(kind, streak)
	metrics.ObserveRecoveryDecision(kind.String(), recovery.Action(d))
	r.logger.Warn("attempt failed",
		zap.String("domain", domain),
		zap.Stringer("strategy", s.Type),
		zap.Stringer("failure", kind),
		zap.Int("streak", streak),
		zap.Stringer("decision", d))
	r.failure(domain, "%s (%s, streak %d)", kind, detail, streak)
	r.progress(progress.TagRecovery, "%s", d)

	switch d := d.(type) {
	case recovery.RetryBackoff:
		return d, r.wait(ctx, d.Wait)
	case recovery.RotateIdentity:
		r.rotate = true
		return d, r.wait(ctx, d.Wait)
	case recovery.SwitchStrategy, recovery.Skip, recovery.Abort:
	}
	return d, false
}

// wait sleeps for d, never past the run's time budget, and reports whether
// the run may still retry.
func (r *Run) wait(ctx context.Context, d time.Duration) bool {
	d = min(d, r.goal.Remaining())
	if d <= 0 {
		return false
	}
	r.agent.deps.Sleeper.Sleep(ctx, d)
	return r.active(ctx)
}

// outcomeOf maps a decision that ended a fetch to the strategy's next step.
// A Skip abandons only the current page.
func outcomeOf(d recovery.Decision) stepResult {
	switch d := d.(type) {
	case recovery.Skip:
		return stepResult{kind: stepContinue, reason: d.Reason}
	case recovery.SwitchStrategy:
		return stepResult{kind: stepSwitch, reason: d.Reason}
	case recovery.Abort:
		return stepResult{kind: stepAbort, reason: d.Reason}
	case recovery.RetryBackoff, recovery.RotateIdentity:
	}
	return stepResult{kind: stepHalt}
}

func describe(rawURL string, status int, err error) string {
	if err != nil {
		return fmt.Sprintf("%s: %v", rawURL, err)
	}
	return fmt.Sprintf("%s: status %d", rawURL, status)
}

// runFetcher adapts Run.fetch to crawler.Fetcher for collaborators such as
// the sitemap source, remembering how the last failed fetch was decided.
type runFetcher struct {
	run      *Run
	strategy planner.Strategy
	last     recovery.Decision
}

func (f *runFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, d, ok := f.run.fetch(ctx, f.strategy, req.URL)
	if ok {
		return resp, nil
	}
	f.last = d
	if d == nil {
		return resp, fmt.Errorf("fetch %s: run interrupted", req.URL)
	}
	return resp, fmt.Errorf("fetch %s: %s", req.URL, d)
}
