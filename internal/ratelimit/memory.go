package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often idle identities are dropped from the map.
const sweepEvery = 1024

// Memory is a single-process limiter. Use Redis when running more than one
// instance.
type Memory struct {
	mu    sync.Mutex
	rules Rules
	now   func() time.Time
	logs  map[string][]time.Time
	calls int
}

var _ Limiter = (*Memory)(nil)

// NewMemory creates an in-memory limiter.
func NewMemory(rules Rules, opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{
		rules: rules,
		now:   o.now,
		logs:  make(map[string][]time.Time),
	}
}

// Allow records the request if the window has room.
func (m *Memory) Allow(_ context.Context, class Class, identity string) (Decision, error) {
	rule, err := m.rules.lookup(class)
	if err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	key := string(class) + ":" + identity
	hits := prune(m.logs[key], now.Add(-rule.Window))

	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	if len(hits) >= rule.Limit {
		m.logs[key] = hits
		return Decision{
			Allowed:    false,
			RetryAfter: hits[0].Add(rule.Window).Sub(now),
		}, nil
	}

	hits = append(hits, now)
	m.logs[key] = hits
	return Decision{
		Allowed:   true,
		Remaining: rule.Limit - len(hits),
	}, nil
}

// prune drops entries at or before cutoff. Entries are in insertion order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

func (m *Memory) sweep(now time.Time) {
	var longest time.Duration
	for _, rule := range m.rules {
		if rule.Window > longest {
			longest = rule.Window
		}
	}
	cutoff := now.Add(-longest)
	for key, hits := range m.logs {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(m.logs, key)
		}
	}
}
