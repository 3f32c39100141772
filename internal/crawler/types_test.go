package crawler

import (
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDateWindowIsInclusive(t *testing.T) {
	t.Parallel()

	w, err := ParseDateWindow("2024-03-01", "2024-03-03")
	require.NoError(t, err)

	ist := time.FixedZone("IST", 5*3600+1800)
	require.True(t, w.Contains(time.Date(2024, 3, 1, 0, 5, 0, 0, ist)))
	require.True(t, w.Contains(time.Date(2024, 3, 3, 23, 59, 0, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)))
	require.True(t, w.Predates(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
	require.True(t, w.Postdates(time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)))
}

func TestParseDateWindowRejectsReversedRange(t *testing.T) {
	t.Parallel()

	_, err := ParseDateWindow("2024-03-05", "2024-03-01")
	require.Error(t, err)
	_, err = ParseDateWindow("03/05/2024", "2024-03-06")
	require.Error(t, err)
}

func TestLastNDays(t *testing.T) {
	t.Parallel()

	w := LastNDays(time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC), 7)
	require.Equal(t, "2024-03-01..2024-03-07", w.String())
}

func TestThreatLevelStepsAreBounded(t *testing.T) {
	t.Parallel()

	require.Equal(t, ThreatLow, ThreatNone.Escalate())
	require.Equal(t, ThreatBlocked, ThreatBlocked.Escalate())
	require.Equal(t, ThreatNone, ThreatNone.Decay())
	require.Equal(t, ThreatHigh, MaxThreat(ThreatLow, ThreatHigh))
}

func TestEnumsRoundTripAsMapKeys(t *testing.T) {
	t.Parallel()

	in := map[StrategyType]int{StrategySitemap: 1, StrategyArchiveWayback: 2}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"sitemap_crawl":1,"archive_wayback":2}`, string(data))

	var out map[StrategyType]int
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)

	var level ThreatLevel
	require.Error(t, level.UnmarshalText([]byte("severe")))
}

func TestStrategyCapabilities(t *testing.T) {
	t.Parallel()

	capability, ok := StrategySitemap.RequiredCapability()
	require.True(t, ok)
	require.Equal(t, CapabilitySitemap, capability)
	_, ok = StrategyArchiveCache.RequiredCapability()
	require.False(t, ok)
	require.False(t, StrategyArchiveWayback.Direct())
	require.True(t, StrategyAPI.Direct())
}

func TestSelectorPatternMatches(t *testing.T) {
	t.Parallel()

	apply, err := url.Parse("https://www.forms.example.com/careers/123")
	require.NoError(t, err)
	p := PatternFor(apply, time.Unix(0, 0))
	require.Equal(t, "forms.example.com", p.Host)
	require.Equal(t, "/careers", p.PathPrefix)

	other, err := url.Parse("https://forms.example.com/careers/456?src=x")
	require.NoError(t, err)
	require.True(t, p.Matches(other))

	miss, err := url.Parse("https://forms.example.com/blog/1")
	require.NoError(t, err)
	require.False(t, p.Matches(miss))
	require.False(t, SelectorPattern{}.Matches(other))
}
