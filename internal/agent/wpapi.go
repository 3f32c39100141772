package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/jobhunt-agent/internal/agent/planner"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/progress"
)

// wpPost is the subset of a WordPress REST post the agent reads.
type wpPost struct {
	Link  string `json:"link"`
	Date  string `json:"date"`
	Title struct {
		Rendered string `json:"rendered"`
	} `json:"title"`
	Content struct {
		Rendered string `json:"rendered"`
	} `json:"content"`
}

// wpDateLayout is the site-local timestamp format of the REST API.
const wpDateLayout = "2006-01-02T15:04:05"

// apiPageURL builds the posts query for one page of the window.
func apiPageURL(base string, window crawler.DateWindow, perPage, page int) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse api url: %w", err)
	}
	q := u.Query()
	q.Set("after", window.Start.Add(-time.Second).Format(wpDateLayout))
	q.Set("before", window.End.AddDate(0, 0, 1).Format(wpDateLayout))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	q.Set("_fields", "link,date,title,content")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// decodePosts parses one page of posts. A body that is not a JSON array
// means the endpoint is not a WordPress posts collection.
func decodePosts(body []byte) ([]wpPost, error) {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("api response is not a post list")
	}
	var posts []wpPost
	if err := json.Unmarshal([]byte(trimmed), &posts); err != nil {
		return nil, fmt.Errorf("decode api posts: %w", err)
	}
	return posts, nil
}

// document renders a post as a page the scorer can read.
func (p wpPost) document() []byte {
	title := html.UnescapeString(p.Title.Rendered)
	var b strings.Builder
	b.WriteString("<html><head><title>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</title></head><body><article><h1>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</h1>")
	b.WriteString(p.Content.Rendered)
	b.WriteString("</article></body></html>")
	return []byte(b.String())
}

// apiExtract pages through the WordPress REST posts endpoint and scores each
// post's rendered content without fetching the post page.
func (r *Run) apiExtract(ctx context.Context, s planner.Strategy) stepResult {
	a := r.agent
	memory := a.deps.World.Knowledge(r.domain).Selector
	for page := 1; ; page++ {
		if !r.active(ctx) {
			return stepResult{kind: stepHalt}
		}
		pageURL, err := apiPageURL(s.APIURL, r.window, a.cfg.APIPageSize, page)
		if err != nil {
			r.failure(r.domain, "api: %v", err)
			return stepResult{kind: stepSwitch, reason: err.Error()}
		}
		resp, d, ok := r.fetch(ctx, s, pageURL)
		if !ok {
			res := outcomeOf(d)
			if res.kind != stepContinue {
				return res
			}
			if page == 1 {
				a.deps.World.SetCapability(r.domain, crawler.CapabilityAPI, false)
				return stepResult{kind: stepSwitch, reason: "no posts api"}
			}
			return stepResult{kind: stepDone}
		}
		posts, err := decodePosts(resp.Body)
		if err != nil {
			if page == 1 {
				a.deps.World.SetCapability(r.domain, crawler.CapabilityAPI, false)
				r.progress(progress.TagSkip, "%s: %v", s.APIURL, err)
				return stepResult{kind: stepSwitch, reason: "no posts api"}
			}
			r.failure(r.domain, "api page %d: %v", page, err)
			return stepResult{kind: stepDone}
		}
		if page == 1 {
			a.deps.World.SetCapability(r.domain, crawler.CapabilityAPI, true)
		}
		r.progress(progress.TagExecute, "api page %d: %d posts", page, len(posts))

		for _, post := range posts {
			if !r.active(ctx) {
				return stepResult{kind: stepHalt}
			}
			if post.Link == "" || !r.claimPage(post.Link) {
				continue
			}
			res, err := a.deps.Scorer.Score(post.Link, post.document(), memory)
			if err != nil {
				r.progress(progress.TagSkip, "%s: %v", post.Link, err)
				continue
			}
			if res.PostedAt.IsZero() {
				if t, err := time.Parse(wpDateLayout, post.Date); err == nil {
					res.PostedAt = t.UTC()
				}
			}
			r.accept(ctx, s, res)
		}

		if len(posts) < a.cfg.APIPageSize {
			return stepResult{kind: stepDone}
		}
		if total, err := strconv.Atoi(resp.Headers.Get("X-WP-TotalPages")); err == nil && page >= total {
			return stepResult{kind: stepDone}
		}
		if page >= a.cfg.MaxPages {
			r.progress(progress.TagExecute, "api page ceiling of %d reached", a.cfg.MaxPages)
			return stepResult{kind: stepDone}
		}
	}
}
