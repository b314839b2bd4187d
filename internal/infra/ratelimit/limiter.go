// Package ratelimit implements coarse fixed-window throttles keyed by caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether one more hit on key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Rule is a fixed window: at most Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) enabled() bool {
	return r.Limit > 0 && r.Window > 0
}

type window struct {
	start time.Time
	count int
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	rule Rule
	now  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
	sweeps  int
}

func NewMemory(rule Rule) *Memory {
	return &Memory{rule: rule, now: time.Now, windows: make(map[string]*window)}
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	if !m.rule.enabled() {
		return true, nil
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep(now)
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.rule.Window {
		m.windows[key] = &window{start: now, count: 1}
		return true, nil
	}
	if w.count >= m.rule.Limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// sweep drops expired windows every few hundred calls.
func (m *Memory) sweep(now time.Time) {
	m.sweeps++
	if m.sweeps < 512 {
		return
	}
	m.sweeps = 0
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.rule.Window {
			delete(m.windows, k)
		}
	}
}

// Unlimited allows every request.
type Unlimited struct{}

// For builds a limiter for rule, or Unlimited when the rule has no limit or window.
func For(rule Rule, build func(Rule) Limiter) Limiter {
	if !rule.enabled() || build == nil {
		return Unlimited{}
	}
	return build(rule)
}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }
