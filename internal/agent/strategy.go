package agent

import (
	"context"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/goal"
	"github.com/JakeFAU/jobhunt-agent/internal/agent/planner"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/extract"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/pagination"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
	"github.com/JakeFAU/jobhunt-agent/internal/sitemap"
)

// runStrategy executes one strategy and books its result against the
// (domain, strategy) statistics.
func (r *Run) runStrategy(ctx context.Context, s planner.Strategy) stepResult {
	a := r.agent
	ctx, span := a.tracer.Start(ctx, "agent.strategy", trace.WithAttributes(
		attribute.String("strategy", s.Type.String()),
		attribute.String("domain", r.domain),
	))
	defer span.End()

	r.progress(progress.TagExecute, "strategy %s (rank %.2f)", s.Type, s.Rank)
	before := r.goal.Snapshot().Progress.ValidFound

	var res stepResult
	switch s.Type {
	case crawler.StrategySitemap:
		res = r.sitemapCrawl(ctx, s)
	case crawler.StrategyAutoDiscovery:
		res = r.discover(ctx, s, "")
	case crawler.StrategyAPI:
		res = r.apiExtract(ctx, s)
	case crawler.StrategyArchiveCache:
		res = r.discover(ctx, s, a.cfg.CachePrefix)
	case crawler.StrategyArchiveWayback:
		res = r.discover(ctx, s, a.cfg.WaybackPrefix)
	}

	found := r.goal.Snapshot().Progress.ValidFound - before
	a.deps.World.RecordStrategy(r.domain, s.Type, found > 0)
	result := "no_results"
	switch {
	case res.kind == stepAbort:
		result = "aborted"
	case res.kind == stepSwitch:
		result = "switched"
	case found > 0:
		result = "success"
	}
	metrics.ObserveStrategy(s.Type.String(), result)
	span.SetAttributes(attribute.Int("found", found), attribute.String("result", result))
	r.progress(progress.TagExecute, "strategy %s finished with %d new postings", s.Type, found)
	r.flushShared(ctx)
	return res
}

// sitemapCrawl lists in-window URLs from the sitemap and visits each.
func (r *Run) sitemapCrawl(ctx context.Context, s planner.Strategy) stepResult {
	a := r.agent
	fetcher := &runFetcher{run: r, strategy: s}
	items, err := sitemap.NewSource(fetcher, a.cfg.SitemapChildren, r.logger).ListURLs(ctx, s.SitemapURL, r.window)
	if err != nil {
		if !r.active(ctx) {
			return stepResult{kind: stepHalt}
		}
		if fetcher.last != nil {
			if res := outcomeOf(fetcher.last); res.kind != stepContinue {
				return res
			}
			a.deps.World.SetCapability(r.domain, crawler.CapabilitySitemap, false)
			return stepResult{kind: stepSwitch, reason: "no sitemap at " + s.SitemapURL}
		}
		if present, known := a.deps.World.Knowledge(r.domain).Capability(crawler.CapabilitySitemap); known && present {
			kind, _ := a.deps.Recovery.Classify(crawler.FailureSignal{
				Domain:           r.domain,
				Strategy:         s.Type,
				StatusCode:       200,
				EmptyExtraction:  true,
				ExpectExtraction: true,
			})
			d, _ := r.recover(ctx, r.domain, s, kind, err.Error())
			if res := outcomeOf(d); res.kind != stepContinue {
				return res
			}
			return stepResult{kind: stepSwitch, reason: err.Error()}
		}
		a.deps.World.SetCapability(r.domain, crawler.CapabilitySitemap, false)
		r.progress(progress.TagSkip, "sitemap unusable: %v", err)
		return stepResult{kind: stepSwitch, reason: "sitemap unusable"}
	}

	a.deps.World.SetCapability(r.domain, crawler.CapabilitySitemap, true)
	r.progress(progress.TagExecute, "sitemap %s lists %d urls in %s", s.SitemapURL, len(items), r.window)
	for _, item := range items {
		if !r.active(ctx) {
			return stepResult{kind: stepHalt}
		}
		if _, res := r.visit(ctx, s, item.URL, item.URL); res.kind != stepContinue {
			return res
		}
	}
	return stepResult{kind: stepDone}
}

// discover walks the paginated listing at the strategy's start URL. A
// non-empty prefix routes every fetch through that archive.
func (r *Run) discover(ctx context.Context, s planner.Strategy, prefix string) stepResult {
	a := r.agent
	pager, err := pagination.New(extract.Wrap(prefix, s.StartURL), r.window, a.cfg.MaxPages)
	if err != nil {
		r.failure(r.domain, "listing: %v", err)
		return stepResult{kind: stepSwitch, reason: err.Error()}
	}
	expect := false
	if s.Type.Direct() {
		present, known := a.deps.World.Knowledge(r.domain).Capability(crawler.CapabilityPaginated)
		expect = known && present
	}

	for {
		if !r.active(ctx) {
			pager.Stop("run interrupted")
			return stepResult{kind: stepHalt}
		}
		next, ok := pager.Next()
		if !ok {
			break
		}
		resp, d, ok := r.fetch(ctx, s, next)
		if !ok {
			pager.Fail("listing page not fetched")
			res := outcomeOf(d)
			if res.kind == stepContinue {
				break
			}
			return res
		}
		pageURL := resp.URL
		if pageURL == "" {
			pageURL = next
		}
		entries, err := pager.Feed(pageURL, resp.Body)
		if err != nil {
			r.failure(r.domain, "listing %s: %v", pageURL, err)
			break
		}
		if pager.PagesFetched() == 1 && pager.LastPageEntries() == 0 {
			return r.emptyListing(ctx, s, pageURL, resp, expect)
		}
		if pager.PagesFetched() == 1 && s.Type.Direct() {
			a.deps.World.SetCapability(r.domain, crawler.CapabilityPaginated, true)
		}
		r.progress(progress.TagExecute, "listing page %d: %d of %d entries in window",
			pager.PagesFetched(), len(entries), pager.LastPageEntries())

		for _, e := range entries {
			if !r.active(ctx) {
				pager.Stop("run interrupted")
				return stepResult{kind: stepHalt}
			}
			page, fetchURL := archived(prefix, e.URL)
			posted, res := r.visit(ctx, s, page, fetchURL)
			if res.kind != stepContinue {
				pager.Fail(res.reason)
				return res
			}
			pager.ObserveArticleDate(posted)
		}
	}
	r.progress(progress.TagExecute, "listing walk ended after %d pages: %s", pager.PagesFetched(), pager.Reason())
	return stepResult{kind: stepDone}
}

// emptyListing handles a first listing page without entries: a layout change
// when the domain is known to paginate, a block or challenge page when the
// body says so, and otherwise a missing capability.
func (r *Run) emptyListing(
	ctx context.Context,
	s planner.Strategy,
	pageURL string,
	resp crawler.FetchResponse,
	expect bool,
) stepResult {
	a := r.agent
	kind, failed := a.deps.Recovery.Classify(crawler.FailureSignal{
		Domain:           r.domain,
		Strategy:         s.Type,
		StatusCode:       resp.StatusCode,
		Body:             resp.Body,
		EmptyExtraction:  true,
		ExpectExtraction: expect,
	})
	if failed {
		d, _ := r.recover(ctx, r.domain, s, kind, pageURL+": no listing entries")
		if res := outcomeOf(d); res.kind != stepContinue {
			return res
		}
		return stepResult{kind: stepSwitch, reason: kind.String()}
	}
	if s.Type.Direct() {
		a.deps.World.SetCapability(r.domain, crawler.CapabilityPaginated, false)
	}
	r.progress(progress.TagSkip, "no listing entries on %s", pageURL)
	return stepResult{kind: stepSwitch, reason: "no listing entries"}
}

// archived returns the page URL a listing entry stands for and the URL to
// fetch it from.
func archived(prefix, entryURL string) (page, fetchURL string) {
	u, err := url.Parse(entryURL)
	if err != nil {
		return entryURL, entryURL
	}
	if origin, wrapped := extract.Unwrap(u); wrapped {
		return origin.String(), entryURL
	}
	return entryURL, extract.Wrap(prefix, entryURL)
}

// visit fetches and scores one article page unless the run has seen it. It
// returns the article date when one was found.
func (r *Run) visit(ctx context.Context, s planner.Strategy, pageURL, fetchURL string) (time.Time, stepResult) {
	if !r.claimPage(pageURL) {
		return time.Time{}, stepResult{}
	}
	resp, d, ok := r.fetch(ctx, s, fetchURL)
	if !ok {
		return time.Time{}, outcomeOf(d)
	}
	memory := r.agent.deps.World.Knowledge(r.domain).Selector
	res, err := r.agent.deps.Scorer.Score(fetchURL, resp.Body, memory)
	if err != nil {
		r.goal.RecordOutcome(goal.OutcomeSkip)
		r.progress(progress.TagSkip, "%s: %v", pageURL, err)
		return time.Time{}, stepResult{}
	}
	r.accept(ctx, s, res)
	return res.PostedAt, stepResult{}
}

// claimPage reports whether pageURL is new to this run and marks it seen.
func (r *Run) claimPage(pageURL string) bool {
	key, err := crawler.NormalizeURL(pageURL)
	if err != nil {
		r.progress(progress.TagSkip, "unusable page url %q", pageURL)
		return false
	}
	if _, seen := r.pages[key]; seen {
		return false
	}
	r.pages[key] = struct{}{}
	return true
}

// accept turns a scored page into at most one record.
func (r *Run) accept(ctx context.Context, s planner.Strategy, res extract.Result) {
	a := r.agent
	title := res.Title
	if title == "" {
		title = res.PageURL
	}
	if !res.PostedAt.IsZero() && !r.window.Contains(res.PostedAt) {
		r.goal.RecordOutcome(goal.OutcomeSkip)
		r.progress(progress.TagSkip, "%s dated %s is outside %s", title, res.PostedAt.Format(crawler.DateLayout), r.window)
		return
	}
	winner, ok := res.Winner()
	if !ok {
		r.goal.RecordOutcome(goal.OutcomeSkip)
		r.progress(progress.TagSkip, "no apply link on %s", res.PageURL)
		return
	}
	status, link, err := r.ledger.CheckAndReserve(ctx, winner.URL)
	if err != nil {
		r.goal.RecordOutcome(goal.OutcomeSkip)
		r.progress(progress.TagSkip, "%s: %v", winner.URL, err)
		return
	}
	if r.ledger.Degraded() && !r.ledgerWarned {
		r.ledgerWarned = true
		r.failure(r.domain, "shared ledger unreadable, continuing with in-run dedup")
	}

	now := a.deps.Clock.Now().UTC()
	lowConfidence := res.Confidence < r.goal.Config().Quality.MinConfidence
	record := crawler.JobRecord{
		SourceURL:     res.PageURL,
		Title:         res.Title,
		ApplyLink:     link,
		Confidence:    res.Confidence,
		LowConfidence: lowConfidence,
		PostedAt:      res.PostedAt,
		Dedup:         status,
		Strategy:      s.Type,
		FoundAt:       now,
	}

	outcome, tag := goal.OutcomeSuccess, progress.TagFound
	switch {
	case status.Duplicate():
		outcome, tag = goal.OutcomeDuplicate, progress.TagDuplicate
	case lowConfidence:
		outcome, tag = goal.OutcomeLowConfidence, progress.TagLowConf
	}
	r.goal.RecordOutcome(outcome)
	a.deps.World.ObserveSuccess(r.domain)
	if outcome == goal.OutcomeSuccess {
		if u, err := url.Parse(link); err == nil {
			a.deps.World.RememberSelector(r.domain, crawler.PatternFor(u, now))
		}
	}
	r.keep(record)
	metrics.ObserveRecord(status.String(), lowConfidence)
	r.deliver(ctx, record)

	snap := r.goal.Snapshot()
	r.emit(progress.Event{
		Type:   progress.TypeRecord,
		Tag:    tag,
		Line:   recordLine(record, snap.Progress.ValidFound, snap.Config.TargetCount),
		Record: &record,
	})
}

// deliver hands a record to the optional record store and publisher. Both
// are best effort.
func (r *Run) deliver(ctx context.Context, record crawler.JobRecord) {
	a := r.agent
	ctx = context.WithoutCancel(ctx)
	if a.deps.Records != nil {
		if err := a.deps.Records.StoreRecord(ctx, r.id, record); err != nil {
			r.logger.Warn("store record failed", zap.String("apply_link", record.ApplyLink), zap.Error(err))
		}
	}
	if a.deps.Publisher != nil {
		msg := RecordMessage{RunID: r.id, Domain: r.domain, Record: record}
		if _, err := a.deps.Publisher.Publish(ctx, a.cfg.Topic, msg); err != nil {
			r.logger.Warn("publish record failed", zap.String("apply_link", record.ApplyLink), zap.Error(err))
		}
	}
}
