// Package world holds per-domain knowledge shared across runs and
// collaborators: threat level, detected capabilities, strategy history and
// selector memory. State is persisted as JSON Lines through a storage.Store
// and merged with the shared copy on every load and flush.
package world

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobhunt-agent/internal/clock/system"
	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
	"github.com/JakeFAU/jobhunt-agent/internal/metrics"
	"github.com/JakeFAU/jobhunt-agent/internal/storage"
)

// Defaults for Config.
const (
	DefaultName        = "world.jsonl"
	DefaultEscalateAt  = 3
	DefaultDecayAfter  = 5
	DefaultAbortStreak = 4
)

// StrategyStats counts attempts of one strategy on one domain.
type StrategyStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// SuccessRate returns successes over attempts, 0 when untried.
func (s StrategyStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// DomainKnowledge is everything known about one domain.
type DomainKnowledge struct {
	Domain       string                                 `json:"domain"`
	Threat       crawler.ThreatLevel                    `json:"threat"`
	Capabilities map[crawler.Capability]bool            `json:"capabilities,omitempty"`
	CapsUpdated  map[crawler.Capability]time.Time       `json:"capabilities_updated,omitempty"`
	Stats        map[crawler.StrategyType]StrategyStats `json:"stats,omitempty"`
	Selector     crawler.SelectorPattern                `json:"selector,omitzero"`
	UpdatedAt    time.Time                              `json:"updated_at"`
	UpdatedBy    string                                 `json:"updated_by,omitempty"`
}

// Capability returns (present, known) for c.
func (k DomainKnowledge) Capability(c crawler.Capability) (present, known bool) {
	present, known = k.Capabilities[c]
	return present, known
}

func (k DomainKnowledge) clone() DomainKnowledge {
	k.Capabilities = maps.Clone(k.Capabilities)
	k.CapsUpdated = maps.Clone(k.CapsUpdated)
	k.Stats = maps.Clone(k.Stats)
	return k
}

// Config tunes escalation and persistence.
type Config struct {
	Name       string `mapstructure:"name"`
	EscalateAt int    `mapstructure:"escalate_at"`
	DecayAfter int    `mapstructure:"decay_after"`
	SeenBy     string `mapstructure:"seen_by"`
}

type streakKey struct {
	domain string
	kind   crawler.FailureKind
}

// Model is the in-process view of the shared world file. It is safe for
// concurrent use.
type Model struct {
	cfg    Config
	store  storage.Store
	clock  crawler.Clock
	logger *zap.Logger

	mu        sync.Mutex
	domains   map[string]*DomainKnowledge
	streaks   map[streakKey]int
	successes map[string]int
	// written remembers what this process last flushed per domain so a
	// shared record we wrote ourselves does not block our own decay.
	written map[string]time.Time
}

// New creates a model backed by store. A nil store keeps state in memory.
func New(cfg Config, store storage.Store, clock crawler.Clock, logger *zap.Logger) *Model {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.EscalateAt <= 0 {
		cfg.EscalateAt = DefaultEscalateAt
	}
	if cfg.DecayAfter <= 0 {
		cfg.DecayAfter = DefaultDecayAfter
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{
		cfg:       cfg,
		store:     store,
		clock:     clock,
		logger:    logger.Named("world"),
		domains:   make(map[string]*DomainKnowledge),
		streaks:   make(map[streakKey]int),
		successes: make(map[string]int),
		written:   make(map[string]time.Time),
	}
}

func (m *Model) entry(domain string) *DomainKnowledge {
	k, ok := m.domains[domain]
	if !ok {
		k = &DomainKnowledge{Domain: domain}
		m.domains[domain] = k
	}
	return k
}

func (m *Model) touch(k *DomainKnowledge) {
	k.UpdatedAt = m.clock.Now().UTC()
	k.UpdatedBy = m.cfg.SeenBy
}

func (m *Model) setThreat(k *DomainKnowledge, t crawler.ThreatLevel) {
	if k.Threat == t {
		return
	}
	m.logger.Info("threat level changed",
		zap.String("domain", k.Domain),
		zap.Stringer("from", k.Threat),
		zap.Stringer("to", t))
	k.Threat = t
	metrics.SetThreatLevel(k.Domain, int(t))
}

// ObserveFailure records a failure of kind on domain and returns the new
// consecutive streak for (domain, kind). Every EscalateAt-th consecutive
// failure of the same kind raises the threat by one step. LayoutChanged
// also resets the capability used by strategy to unknown, keeping the
// timestamp so the reset outranks older shared observations.
func (m *Model) ObserveFailure(domain string, kind crawler.FailureKind, strategy crawler.StrategyType) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := streakKey{domain: domain, kind: kind}
	m.streaks[key]++
	streak := m.streaks[key]
	m.successes[domain] = 0

	k := m.entry(domain)
	if streak%m.cfg.EscalateAt == 0 {
		m.setThreat(k, k.Threat.Escalate())
	}
	if kind == crawler.FailureLayoutChanged {
		if c, ok := strategy.RequiredCapability(); ok {
			delete(k.Capabilities, c)
			if k.CapsUpdated == nil {
				k.CapsUpdated = make(map[crawler.Capability]time.Time)
			}
			k.CapsUpdated[c] = m.clock.Now().UTC()
		}
	}
	m.touch(k)
	return streak
}

// Streak returns the current consecutive failure count for (domain, kind).
func (m *Model) Streak(domain string, kind crawler.FailureKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaks[streakKey{domain: domain, kind: kind}]
}

// ObserveSuccess decrements every streak of domain and decays the threat one
// step after DecayAfter consecutive successes.
func (m *Model) ObserveSuccess(domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, n := range m.streaks {
		if key.domain != domain {
			continue
		}
		if n <= 1 {
			delete(m.streaks, key)
			continue
		}
		m.streaks[key] = n - 1
	}
	m.successes[domain]++
	k := m.entry(domain)
	if m.successes[domain] >= m.cfg.DecayAfter {
		m.successes[domain] = 0
		m.setThreat(k, k.Threat.Decay())
	}
	m.touch(k)
}

// RecordStrategy counts one execution of strategy on domain.
func (m *Model) RecordStrategy(domain string, strategy crawler.StrategyType, succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.entry(domain)
	if k.Stats == nil {
		k.Stats = make(map[crawler.StrategyType]StrategyStats)
	}
	s := k.Stats[strategy]
	s.Attempts++
	if succeeded {
		s.Successes++
	}
	k.Stats[strategy] = s
	m.touch(k)
}

// SetCapability memoizes a capability probe result.
func (m *Model) SetCapability(domain string, c crawler.Capability, present bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.entry(domain)
	if k.Capabilities == nil {
		k.Capabilities = make(map[crawler.Capability]bool)
	}
	if k.CapsUpdated == nil {
		k.CapsUpdated = make(map[crawler.Capability]time.Time)
	}
	k.Capabilities[c] = present
	k.CapsUpdated[c] = m.clock.Now().UTC()
	m.touch(k)
}

// RememberSelector stores the pattern of the last accepted apply link.
func (m *Model) RememberSelector(domain string, p crawler.SelectorPattern) {
	if p.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.entry(domain)
	k.Selector = p
	m.touch(k)
}

// Knowledge returns a copy of what is known about domain.
func (m *Model) Knowledge(domain string) DomainKnowledge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.domains[domain]; ok {
		return k.clone()
	}
	return DomainKnowledge{Domain: domain}
}

// CapabilitiesOf returns the memoized capability results of domain.
func (m *Model) CapabilitiesOf(domain string) map[crawler.Capability]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.domains[domain]; ok {
		return maps.Clone(k.Capabilities)
	}
	return nil
}

// Domains lists known domains in sorted order.
func (m *Model) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.domains))
}

// Load merges the shared file into the in-process state. A missing file is
// not an error.
func (m *Model) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	shared, err := m.readShared(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(shared)
	return nil
}

// Flush re-reads the shared file, merges it with local state and atomically
// writes the union back.
func (m *Model) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	shared, err := m.readShared(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeLocked(shared)

	data, err := m.encodeLocked()
	if err != nil {
		return err
	}
	if err := m.store.WriteAtomic(ctx, m.cfg.Name, data); err != nil {
		return fmt.Errorf("write world model: %w", err)
	}
	for domain, k := range m.domains {
		if k.UpdatedBy == m.cfg.SeenBy {
			m.written[domain] = k.UpdatedAt
		}
	}
	m.logger.Debug("world model flushed", zap.Int("domains", len(m.domains)))
	return nil
}

func (m *Model) readShared(ctx context.Context) ([]DomainKnowledge, error) {
	raw, err := m.store.Read(ctx, m.cfg.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read world model: %w", err)
	}
	return Decode(raw, m.logger)
}

// Decode parses JSON Lines records. Malformed lines are logged and skipped.
func Decode(raw []byte, logger *zap.Logger) ([]DomainKnowledge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var out []DomainKnowledge
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var k DomainKnowledge
		if err := json.Unmarshal([]byte(text), &k); err != nil || k.Domain == "" {
			logger.Warn("skipping malformed world model line", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan world model: %w", err)
	}
	return out, nil
}

func (m *Model) encodeLocked() ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	for _, domain := range slices.Sorted(maps.Keys(m.domains)) {
		if err := enc.Encode(m.domains[domain]); err != nil {
			return nil, fmt.Errorf("encode domain %s: %w", domain, err)
		}
	}
	return b.Bytes(), nil
}

func (m *Model) mergeLocked(shared []DomainKnowledge) {
	for _, theirs := range shared {
		ours, ok := m.domains[theirs.Domain]
		if !ok {
			k := theirs.clone()
			m.domains[theirs.Domain] = &k
			continue
		}
		merged := Merge(*ours, theirs, m.ownRecord(theirs))
		*ours = merged
	}
}

// ownRecord reports whether the shared record is exactly what this process
// last flushed.
func (m *Model) ownRecord(k DomainKnowledge) bool {
	at, ok := m.written[k.Domain]
	return ok && k.UpdatedBy == m.cfg.SeenBy && k.UpdatedAt.Equal(at)
}

// Merge combines a local and a shared record for the same domain. Threat is
// the maximum of both unless ownShared is true, in which case the local
// threat wins. Capabilities overlay per key with the newer observation; a
// timestamp without a value is a reset to unknown. Stats take the
// per-strategy maximum and the newer selector wins.
func Merge(local, shared DomainKnowledge, ownShared bool) DomainKnowledge {
	out := local.clone()
	if !ownShared {
		out.Threat = crawler.MaxThreat(local.Threat, shared.Threat)
	}

	observed := slices.Collect(maps.Keys(shared.CapsUpdated))
	for c := range shared.Capabilities {
		if _, ok := shared.CapsUpdated[c]; !ok {
			observed = append(observed, c)
		}
	}
	for _, c := range observed {
		theirAt := shared.CapsUpdated[c]
		ourAt, known := out.CapsUpdated[c]
		if known && !theirAt.After(ourAt) {
			continue
		}
		if out.CapsUpdated == nil {
			out.CapsUpdated = make(map[crawler.Capability]time.Time)
		}
		out.CapsUpdated[c] = theirAt
		present, ok := shared.Capabilities[c]
		if !ok {
			delete(out.Capabilities, c)
			continue
		}
		if out.Capabilities == nil {
			out.Capabilities = make(map[crawler.Capability]bool)
		}
		out.Capabilities[c] = present
	}

	for s, theirs := range shared.Stats {
		if out.Stats == nil {
			out.Stats = make(map[crawler.StrategyType]StrategyStats)
		}
		ours := out.Stats[s]
		out.Stats[s] = StrategyStats{
			Attempts:  max(ours.Attempts, theirs.Attempts),
			Successes: max(ours.Successes, theirs.Successes),
		}
	}

	if shared.Selector.UpdatedAt.After(out.Selector.UpdatedAt) {
		out.Selector = shared.Selector
	}
	if shared.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = shared.UpdatedAt
		out.UpdatedBy = shared.UpdatedBy
	}
	return out
}
