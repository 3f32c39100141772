package recovery

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

func newEngine(jitter float64) *Engine {
	e := New(Config{})
	e.jitter = func() float64 { return jitter }
	return e
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		signal crawler.FailureSignal
		want   crawler.FailureKind
		ok     bool
	}{
		{name: "timeout", signal: crawler.FailureSignal{Err: fmt.Errorf("fetch: %w", crawler.ErrTimeout)}, want: crawler.FailureTimeout, ok: true},
		{name: "robots", signal: crawler.FailureSignal{Err: crawler.ErrDisallowed}, want: crawler.FailureDisallowed, ok: true},
		{name: "rate limited", signal: crawler.FailureSignal{StatusCode: 429}, want: crawler.FailureRateLimited, ok: true},
		{name: "forbidden", signal: crawler.FailureSignal{StatusCode: 403}, want: crawler.FailureBlocked, ok: true},
		{name: "block page with 200", signal: crawler.FailureSignal{StatusCode: 200, Body: []byte("<h1>Sorry, you have been blocked</h1>"), EmptyExtraction: true}, want: crawler.FailureBlocked, ok: true},
		{name: "challenge page", signal: crawler.FailureSignal{StatusCode: 503, Body: []byte(`<script src="/cdn-cgi/challenge-platform/x.js"></script>`)}, want: crawler.FailureCaptcha, ok: true},
		{name: "captcha on empty page", signal: crawler.FailureSignal{StatusCode: 200, Body: []byte("Please verify you are human"), EmptyExtraction: true}, want: crawler.FailureCaptcha, ok: true},
		{name: "server error", signal: crawler.FailureSignal{StatusCode: 502}, want: crawler.FailureServerError, ok: true},
		{name: "not found", signal: crawler.FailureSignal{StatusCode: 404}, want: crawler.FailureNotFound, ok: true},
		{name: "gone", signal: crawler.FailureSignal{StatusCode: 410}, want: crawler.FailureNotFound, ok: true},
		{name: "layout changed", signal: crawler.FailureSignal{StatusCode: 200, EmptyExtraction: true, ExpectExtraction: true}, want: crawler.FailureLayoutChanged, ok: true},
		{name: "other client error", signal: crawler.FailureSignal{StatusCode: 418}, want: crawler.FailureUnknown, ok: true},
		{name: "transport error", signal: crawler.FailureSignal{Err: errors.New("connection reset")}, want: crawler.FailureUnknown, ok: true},
		{name: "healthy", signal: crawler.FailureSignal{StatusCode: 200, Body: []byte("<html>ok</html>")}},
		{name: "healthy page with recaptcha form", signal: crawler.FailureSignal{StatusCode: 200, Body: []byte(`<div class="g-recaptcha"></div> verify you are human`)}},
		{name: "empty but not expected", signal: crawler.FailureSignal{StatusCode: 200, EmptyExtraction: true}},
	}
	e := newEngine(0)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := e.Classify(tt.signal)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecideLadder(t *testing.T) {
	t.Parallel()
	e := newEngine(0)

	assert.Equal(t, RetryBackoff{Wait: 5 * time.Second}, e.Decide(crawler.FailureRateLimited, 1))
	assert.Equal(t, RotateIdentity{Wait: 10 * time.Second}, e.Decide(crawler.FailureRateLimited, 2))
	assert.IsType(t, SwitchStrategy{}, e.Decide(crawler.FailureRateLimited, 3))
	assert.IsType(t, Abort{}, e.Decide(crawler.FailureRateLimited, 4))
	assert.IsType(t, Abort{}, e.Decide(crawler.FailureServerError, 9))

	assert.Equal(t, RotateIdentity{Wait: 5 * time.Second}, e.Decide(crawler.FailureBlocked, 1))
	assert.IsType(t, SwitchStrategy{}, e.Decide(crawler.FailureCaptcha, 1))
	assert.IsType(t, SwitchStrategy{}, e.Decide(crawler.FailureLayoutChanged, 1))
	assert.IsType(t, Skip{}, e.Decide(crawler.FailureNotFound, 7))
	assert.IsType(t, Skip{}, e.Decide(crawler.FailureDisallowed, 1))
	assert.Equal(t, "abort", Action(e.Decide(crawler.FailureTimeout, 4)))
	assert.Equal(t, "rotate_identity", Action(e.Decide(crawler.FailureTimeout, 2)))
}

func TestBackoffIsCappedAndJittered(t *testing.T) {
	t.Parallel()

	e := newEngine(0.999)
	for streak := 1; streak <= 10; streak++ {
		wait := e.Backoff(streak)
		assert.LessOrEqual(t, wait, DefaultMaxWait)
		assert.GreaterOrEqual(t, wait, DefaultBaseWait)
	}
	assert.Equal(t, DefaultMaxWait, e.Backoff(5))

	noJitter := newEngine(0)
	assert.Equal(t, 20*time.Second, noJitter.Backoff(3))

	engine := New(Config{})
	for range 100 {
		wait := engine.Backoff(1)
		require.GreaterOrEqual(t, wait, DefaultBaseWait)
		require.LessOrEqual(t, wait, DefaultBaseWait+time.Duration(float64(DefaultBaseWait)*DefaultJitter))
	}
}

func TestDecisionStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "retry after 1.5s", RetryBackoff{Wait: 1500 * time.Millisecond}.String())
	assert.Equal(t, "skip: page not found", Skip{Reason: "page not found"}.String())
}
