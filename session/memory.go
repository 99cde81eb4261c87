package session

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryShard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// MemoryStore is an in-process [Store]. Records are sharded by ID; the
// identity and lineage indexes sit behind their own lock and are updated
// before the record shard is released.
type MemoryStore struct {
	shards [memoryShards]memoryShard

	indexMu    sync.RWMutex
	byIdentity map[string]map[string]struct{}
	byRoot     map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		byIdentity: make(map[string]map[string]struct{}),
		byRoot:     make(map[string]map[string]struct{}),
	}
	for i := range s.shards {
		s.shards[i].records = make(map[string]*Record)
	}
	return s
}

func shardIndex(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % memoryShards)
}

func (s *MemoryStore) shard(id string) *memoryShard {
	return &s.shards[shardIndex(id)]
}

func (s *MemoryStore) index(rec *Record) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	addTo(s.byIdentity, rec.IdentityID, rec.ID)
	addTo(s.byRoot, rec.RootID, rec.ID)
}

func addTo(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// Create implements [Store].
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(rec.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.records[rec.ID]; exists {
		return ErrAlreadyExists
	}
	sh.records[rec.ID] = rec.Clone()
	s.index(rec)
	return nil
}

// Get implements [Store].
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Swap implements [Store]. Both shards are locked in index order.
func (s *MemoryStore) Swap(ctx context.Context, parent *Record, expectedVersion int64, child *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pi := shardIndex(parent.ID)
	ci := pi
	if child != nil {
		ci = shardIndex(child.ID)
	}
	first, second := pi, ci
	if first > second {
		first, second = second, first
	}
	s.shards[first].mu.Lock()
	defer s.shards[first].mu.Unlock()
	if second != first {
		s.shards[second].mu.Lock()
		defer s.shards[second].mu.Unlock()
	}

	current, ok := s.shards[pi].records[parent.ID]
	if !ok || current.Version != expectedVersion {
		return ErrVersionConflict
	}
	if child != nil {
		if _, exists := s.shards[ci].records[child.ID]; exists {
			return ErrAlreadyExists
		}
	}
	s.shards[pi].records[parent.ID] = parent.Clone()
	if child != nil {
		s.shards[ci].records[child.ID] = child.Clone()
		s.index(child)
	}
	return nil
}

// RevokeMany implements [Store].
func (s *MemoryStore) RevokeMany(ctx context.Context, ids []string, reason RevokeReason, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		sh := s.shard(id)
		sh.mu.Lock()
		if rec, ok := sh.records[id]; ok && !rec.Revoked {
			next := rec.Clone()
			next.Revoked = true
			next.RevokedAt = at
			next.RevokeReason = reason
			next.Version++
			sh.records[id] = next
			changed++
		}
		sh.mu.Unlock()
	}
	return changed, nil
}

// ListByIdentity implements [Store].
func (s *MemoryStore) ListByIdentity(ctx context.Context, identityID string) ([]*Record, error) {
	return s.list(ctx, s.byIdentity, identityID)
}

// ListByRoot implements [Store].
func (s *MemoryStore) ListByRoot(ctx context.Context, rootID string) ([]*Record, error) {
	return s.list(ctx, s.byRoot, rootID)
}

func (s *MemoryStore) list(ctx context.Context, idx map[string]map[string]struct{}, key string) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.indexMu.RLock()
	ids := make([]string, 0, len(idx[key]))
	for id := range idx[key] {
		ids = append(ids, id)
	}
	s.indexMu.RUnlock()

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		sh := s.shard(id)
		sh.mu.Lock()
		if rec, ok := sh.records[id]; ok {
			out = append(out, rec.Clone())
		}
		sh.mu.Unlock()
	}
	return out, nil
}

// DeleteExpired implements [Store].
func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.ExpiresAt.Before(before) {
				delete(sh.records, id)
				s.indexMu.Lock()
				removeFrom(s.byIdentity, rec.IdentityID, id)
				removeFrom(s.byRoot, rec.RootID, id)
				s.indexMu.Unlock()
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Ping implements [Store].
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].records)
		s.shards[i].mu.Unlock()
	}
	return n
}
