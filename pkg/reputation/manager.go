// Package reputation implements ReputationManager: per-entity ops_seen/ops_included
// counters and the OK/THROTTLED/BANNED status derivation spec.md §4.4 describes.
//
// The retrieval pack's mempool_manager.py calls reputation_manager.update_seen_status
// and .get_status, but reputation_manager.py itself was not among the retrieved files.
// Status follows the reference ERC-4337 reputation scoring: the expected inclusion
// count is ops_seen/MinInclusionRateDenominator; an entity is OK while that count is at
// most ops_included+ThrottlingSlack, THROTTLED while it is at most
// ops_included+BanSlack, and BANNED beyond that. All three values are operator
// configuration (Config).
package reputation

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-logr/logr"
)

// Status is an entity's current standing, spec.md §4.4.
type Status int

const (
	OK Status = iota
	THROTTLED
	BANNED
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case THROTTLED:
		return "throttled"
	case BANNED:
		return "banned"
	default:
		return "unknown"
	}
}

// Entry is a per-entity-address record, spec.md §4.4 "ReputationEntry".
type Entry struct {
	OpsSeen     uint64
	OpsIncluded uint64
}

// Config holds the reference ERC-4337 reputation thresholds as named, operator-tunable
// values (spec.md §9 Open Question decision).
type Config struct {
	// MinInclusionRateDenominator sets the expected inclusion ratio to
	// 1/MinInclusionRateDenominator of ops seen. Reference default: 10.
	MinInclusionRateDenominator uint64
	// ThrottlingSlack is how far below the expected inclusion count an entity may
	// fall before it is throttled. Reference default: 10.
	ThrottlingSlack uint64
	// BanSlack is how far below the expected inclusion count an entity may fall
	// before it is banned outright. Reference default: 50.
	BanSlack uint64
}

// DefaultConfig returns the reference ERC-4337 reputation scoring thresholds.
func DefaultConfig() Config {
	return Config{MinInclusionRateDenominator: 10, ThrottlingSlack: 10, BanSlack: 50}
}

// Manager owns the reputation table exclusively (spec.md §4 "Ownership"): a mutex
// serializes access the same way the teacher's client.Queue[T] serializes its own
// state, rather than reaching for a concurrent-map library for a single
// exclusively-owned table.
type Manager struct {
	mu      sync.Mutex
	entries map[common.Address]*Entry
	cfg     Config
	log     logr.Logger
}

// NewManager constructs a Manager with the given thresholds.
func NewManager(cfg Config, log logr.Logger) *Manager {
	return &Manager{entries: make(map[common.Address]*Entry), cfg: cfg, log: log.WithName("reputation")}
}

func (m *Manager) entry(addr common.Address) *Entry {
	e, ok := m.entries[addr]
	if !ok {
		e = &Entry{}
		m.entries[addr] = e
	}
	return e
}

// UpdateSeenStatus increments ops_seen for addr, called once per admitted op per
// associated entity, spec.md §4.4/§4.5 step 4.
func (m *Manager) UpdateSeenStatus(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(addr).OpsSeen++
}

// UpdateIncludedStatus increments ops_included for addr, called once per entity named
// in a bundle once its handleOps transaction has been broadcast.
func (m *Manager) UpdateIncludedStatus(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entry(addr).OpsIncluded++
}

// GetStatus derives addr's current Status from its ops_seen/ops_included counters,
// spec.md §4.4.
func (m *Manager) GetStatus(addr common.Address) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[addr]
	if !ok {
		return OK
	}
	return m.statusLocked(e)
}

func (m *Manager) statusLocked(e *Entry) Status {
	if e.OpsSeen == 0 {
		return OK
	}
	minExpectedIncluded := e.OpsSeen / m.cfg.MinInclusionRateDenominator
	if minExpectedIncluded <= e.OpsIncluded+m.cfg.ThrottlingSlack {
		return OK
	}
	if minExpectedIncluded <= e.OpsIncluded+m.cfg.BanSlack {
		return THROTTLED
	}
	return BANNED
}

// Get returns a copy of addr's entry and derived status, for the debug_bundler_*
// introspection endpoints.
func (m *Manager) Get(addr common.Address) (Entry, Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(addr)
	return *e, m.statusLocked(e)
}

// Set overwrites addr's entry directly, used by debug_bundler_setReputation to seed a
// test scenario.
func (m *Manager) Set(addr common.Address, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := e
	m.entries[addr] = &entry
}

// Clear drops every tracked entry, used by debug_bundler_clearState.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[common.Address]*Entry)
}

// Dump returns every tracked entity's entry, for debug_bundler_dumpReputation.
func (m *Manager) Dump() map[common.Address]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Address]Entry, len(m.entries))
	for addr, e := range m.entries {
		out[addr] = *e
	}
	return out
}
