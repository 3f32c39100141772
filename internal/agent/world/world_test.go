package world

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/storage/memory"
)

type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newClock() *tickClock {
	return &tickClock{now: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
}

func TestThreatMovesAtMostOneStepPerObservation(t *testing.T) {
	t.Parallel()

	kinds := []crawler.FailureKind{
		crawler.FailureRateLimited,
		crawler.FailureBlocked,
		crawler.FailureTimeout,
		crawler.FailureServerError,
	}
	rng := rand.New(rand.NewPCG(7, 11))
	for seq := range 50 {
		m := New(Config{SeenBy: "test"}, nil, newClock(), nil)
		consecutiveSuccesses := 0
		prev := m.Knowledge("example.com").Threat
		for range 200 {
			if rng.IntN(3) == 0 {
				m.ObserveSuccess("example.com")
				consecutiveSuccesses++
			} else {
				m.ObserveFailure("example.com", kinds[rng.IntN(len(kinds))], crawler.StrategyAutoDiscovery)
				consecutiveSuccesses = 0
			}
			cur := m.Knowledge("example.com").Threat
			diff := int(cur) - int(prev)
			require.LessOrEqual(t, diff, 1, "sequence %d escalated more than one step", seq)
			require.GreaterOrEqual(t, diff, -1, "sequence %d decayed more than one step", seq)
			if diff < 0 {
				require.GreaterOrEqual(t, consecutiveSuccesses, DefaultDecayAfter,
					"sequence %d decayed without enough successes", seq)
				consecutiveSuccesses = 0
			}
			prev = cur
		}
	}
}

func TestEscalationEveryThirdConsecutiveFailure(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil, newClock(), nil)
	for i := 1; i <= 6; i++ {
		streak := m.ObserveFailure("example.com", crawler.FailureRateLimited, crawler.StrategySitemap)
		require.Equal(t, i, streak)
	}
	assert.Equal(t, crawler.ThreatMedium, m.Knowledge("example.com").Threat)

	// A different kind has its own streak.
	m.ObserveFailure("example.com", crawler.FailureBlocked, crawler.StrategySitemap)
	assert.Equal(t, crawler.ThreatMedium, m.Knowledge("example.com").Threat)
	assert.Equal(t, 1, m.Streak("example.com", crawler.FailureBlocked))

	m.ObserveSuccess("example.com")
	assert.Equal(t, 5, m.Streak("example.com", crawler.FailureRateLimited))
	assert.Zero(t, m.Streak("example.com", crawler.FailureBlocked))
}

func TestDecayAfterConsecutiveSuccesses(t *testing.T) {
	t.Parallel()

	m := New(Config{DecayAfter: 2}, nil, newClock(), nil)
	for range 3 {
		m.ObserveFailure("example.com", crawler.FailureBlocked, crawler.StrategySitemap)
	}
	require.Equal(t, crawler.ThreatLow, m.Knowledge("example.com").Threat)

	m.ObserveSuccess("example.com")
	m.ObserveFailure("example.com", crawler.FailureTimeout, crawler.StrategySitemap)
	m.ObserveSuccess("example.com")
	require.Equal(t, crawler.ThreatLow, m.Knowledge("example.com").Threat)
	m.ObserveSuccess("example.com")
	assert.Equal(t, crawler.ThreatNone, m.Knowledge("example.com").Threat)
}

func TestLayoutChangedDowngradesCapability(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil, newClock(), nil)
	m.SetCapability("example.com", crawler.CapabilityPaginated, true)
	m.SetCapability("example.com", crawler.CapabilitySitemap, false)

	m.ObserveFailure("example.com", crawler.FailureLayoutChanged, crawler.StrategyAutoDiscovery)

	caps := m.CapabilitiesOf("example.com")
	_, known := caps[crawler.CapabilityPaginated]
	assert.False(t, known)
	present, known := m.Knowledge("example.com").Capability(crawler.CapabilitySitemap)
	assert.True(t, known)
	assert.False(t, present)
}

func TestLayoutResetReachesOtherCollaborators(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()
	clock := newClock()

	alice := New(Config{SeenBy: "alice"}, store, clock, nil)
	alice.SetCapability("example.com", crawler.CapabilityPaginated, true)
	require.NoError(t, alice.Flush(ctx))

	bob := New(Config{SeenBy: "bob"}, store, clock, nil)
	require.NoError(t, bob.Load(ctx))
	bob.ObserveFailure("example.com", crawler.FailureLayoutChanged, crawler.StrategyAutoDiscovery)
	require.NoError(t, bob.Flush(ctx))

	require.NoError(t, alice.Load(ctx))
	_, known := alice.Knowledge("example.com").Capability(crawler.CapabilityPaginated)
	assert.False(t, known)

	carol := New(Config{SeenBy: "carol"}, store, clock, nil)
	require.NoError(t, carol.Load(ctx))
	_, known = carol.Knowledge("example.com").Capability(crawler.CapabilityPaginated)
	assert.False(t, known)

	alice.SetCapability("example.com", crawler.CapabilityPaginated, true)
	require.NoError(t, alice.Flush(ctx))
	require.NoError(t, carol.Load(ctx))
	present, known := carol.Knowledge("example.com").Capability(crawler.CapabilityPaginated)
	assert.True(t, known && present)
}

func TestKnowledgeIsACopy(t *testing.T) {
	t.Parallel()

	m := New(Config{}, nil, newClock(), nil)
	m.RecordStrategy("example.com", crawler.StrategySitemap, true)
	k := m.Knowledge("example.com")
	k.Stats[crawler.StrategySitemap] = StrategyStats{Attempts: 99}
	assert.Equal(t, StrategyStats{Attempts: 1, Successes: 1}, m.Knowledge("example.com").Stats[crawler.StrategySitemap])
}

func TestMerge(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	local := DomainKnowledge{
		Domain:       "example.com",
		Threat:       crawler.ThreatLow,
		Capabilities: map[crawler.Capability]bool{crawler.CapabilitySitemap: true},
		CapsUpdated:  map[crawler.Capability]time.Time{crawler.CapabilitySitemap: t0.Add(time.Hour)},
		Stats:        map[crawler.StrategyType]StrategyStats{crawler.StrategySitemap: {Attempts: 3, Successes: 1}},
		Selector:     crawler.SelectorPattern{Host: "forms.example.com", PathPrefix: "/a", UpdatedAt: t0},
		UpdatedAt:    t0.Add(time.Hour),
		UpdatedBy:    "alice",
	}
	shared := DomainKnowledge{
		Domain: "example.com",
		Threat: crawler.ThreatHigh,
		Capabilities: map[crawler.Capability]bool{
			crawler.CapabilitySitemap:   false,
			crawler.CapabilityPaginated: true,
		},
		CapsUpdated: map[crawler.Capability]time.Time{
			crawler.CapabilitySitemap:   t0,
			crawler.CapabilityPaginated: t0,
		},
		Stats: map[crawler.StrategyType]StrategyStats{
			crawler.StrategySitemap:       {Attempts: 2, Successes: 2},
			crawler.StrategyAutoDiscovery: {Attempts: 1},
		},
		Selector:  crawler.SelectorPattern{Host: "jobs.example.org", PathPrefix: "/b", UpdatedAt: t0.Add(time.Minute)},
		UpdatedAt: t0.Add(2 * time.Hour),
		UpdatedBy: "bob",
	}

	merged := Merge(local, shared, false)
	assert.Equal(t, crawler.ThreatHigh, merged.Threat)
	assert.True(t, merged.Capabilities[crawler.CapabilitySitemap], "newer local capability wins")
	assert.True(t, merged.Capabilities[crawler.CapabilityPaginated])
	assert.Equal(t, StrategyStats{Attempts: 3, Successes: 2}, merged.Stats[crawler.StrategySitemap])
	assert.Equal(t, StrategyStats{Attempts: 1}, merged.Stats[crawler.StrategyAutoDiscovery])
	assert.Equal(t, "jobs.example.org", merged.Selector.Host)
	assert.Equal(t, "bob", merged.UpdatedBy)

	reset := Merge(local, DomainKnowledge{
		Domain:      "example.com",
		CapsUpdated: map[crawler.Capability]time.Time{crawler.CapabilitySitemap: t0.Add(2 * time.Hour)},
	}, false)
	_, known := reset.Capability(crawler.CapabilitySitemap)
	assert.False(t, known, "newer reset clears the capability")
	assert.Equal(t, t0.Add(2*time.Hour), reset.CapsUpdated[crawler.CapabilitySitemap])

	own := Merge(local, shared, true)
	assert.Equal(t, crawler.ThreatLow, own.Threat)

	// Inputs are untouched.
	assert.Len(t, local.Capabilities, 1)
}

func TestFlushNeverLowersAnotherCollaboratorsThreat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	bob := New(Config{SeenBy: "bob"}, store, newClock(), nil)
	for range 6 {
		bob.ObserveFailure("example.com", crawler.FailureBlocked, crawler.StrategySitemap)
	}
	require.NoError(t, bob.Flush(ctx))

	alice := New(Config{SeenBy: "alice"}, store, newClock(), nil)
	alice.RecordStrategy("example.com", crawler.StrategySitemap, true)
	require.NoError(t, alice.Flush(ctx))

	raw, err := store.Read(ctx, DefaultName)
	require.NoError(t, err)
	records, err := Decode(raw, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, crawler.ThreatMedium, records[0].Threat)
	assert.Equal(t, crawler.ThreatMedium, alice.Knowledge("example.com").Threat)
}

func TestOwnDecayPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	m := New(Config{SeenBy: "alice", DecayAfter: 1}, store, newClock(), nil)
	for range 3 {
		m.ObserveFailure("example.com", crawler.FailureBlocked, crawler.StrategySitemap)
	}
	require.NoError(t, m.Flush(ctx))
	m.ObserveSuccess("example.com")
	require.Equal(t, crawler.ThreatNone, m.Knowledge("example.com").Threat)
	require.NoError(t, m.Flush(ctx))

	reloaded := New(Config{SeenBy: "carol"}, store, newClock(), nil)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, crawler.ThreatNone, reloaded.Knowledge("example.com").Threat)
}

func TestFileIsSortedJSONLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := memory.New()

	m := New(Config{SeenBy: "alice"}, store, newClock(), nil)
	m.SetCapability("zeta.example", crawler.CapabilitySitemap, true)
	m.SetCapability("alpha.example", crawler.CapabilityAPI, false)
	m.RememberSelector("alpha.example", crawler.SelectorPattern{Host: "forms.example.com", PathPrefix: "/", UpdatedAt: time.Unix(10, 0).UTC()})
	require.NoError(t, m.Flush(ctx))

	raw, err := store.Read(ctx, DefaultName)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"domain":"alpha.example"`)
	assert.Contains(t, lines[0], `"has_api":false`)
	assert.Contains(t, lines[1], `"domain":"zeta.example"`)
	assert.Equal(t, []string{"alpha.example", "zeta.example"}, m.Domains())

	require.NoError(t, store.WriteAtomic(ctx, DefaultName, append(raw, []byte("{not json\n")...)))
	fresh := New(Config{SeenBy: "bob"}, store, newClock(), nil)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, "forms.example.com", fresh.Knowledge("alpha.example").Selector.Host)
}
