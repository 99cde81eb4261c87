package rate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type shard struct {
	mu sync.Mutex
	// hits holds the recorded attempt times of each key, oldest first.
	// A key never holds more than Policy.Limit entries.
	hits map[string][]time.Time
}

// Memory is an in-process sliding-log [Limiter]. Keys are spread across
// shards and every read and write of a key happens under its shard lock.
type Memory struct {
	policy Policy
	now    func() time.Time
	shards [memoryShards]shard
}

// NewMemory returns an empty Memory limiter. A nil now uses time.Now.
func NewMemory(p Policy, now func() time.Time) (*Memory, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	m := &Memory{policy: p, now: now}
	for i := range m.shards {
		m.shards[i].hits = make(map[string][]time.Time)
	}
	return m, nil
}

func (m *Memory) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &m.shards[h.Sum32()%memoryShards]
}

// prune drops the hits at or before now-Window.
func (m *Memory) prune(hits []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-m.policy.Window)
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// Admit implements [Limiter].
func (m *Memory) Admit(ctx context.Context, key string, cost int) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	now := m.now()
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := m.prune(s.hits[key], now)
	d := slide(m.policy, hits, cost, now)
	if d.Allowed {
		for i := 0; i < cost; i++ {
			hits = append(hits, now)
		}
		d.Count = len(hits)
	}
	if len(hits) == 0 {
		delete(s.hits, key)
	} else {
		s.hits[key] = hits
	}
	return d, nil
}

// Reset implements [Limiter].
func (m *Memory) Reset(ctx context.Context, key string) error {
	s := m.shard(key)
	s.mu.Lock()
	delete(s.hits, key)
	s.mu.Unlock()
	return ctx.Err()
}

// Flush implements [Limiter].
func (m *Memory) Flush(ctx context.Context) error {
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		s.hits = make(map[string][]time.Time)
		s.mu.Unlock()
	}
	return ctx.Err()
}

// Sweep drops keys with no attempts left in the window ending at now and
// returns how many were dropped.
func (m *Memory) Sweep(now time.Time) int {
	dropped := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, hits := range s.hits {
			if hits = m.prune(hits, now); len(hits) == 0 {
				delete(s.hits, key)
				dropped++
			} else {
				s.hits[key] = hits
			}
		}
		s.mu.Unlock()
	}
	return dropped
}

// Len returns the number of tracked keys, stale or not.
func (m *Memory) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.hits)
		s.mu.Unlock()
	}
	return n
}
