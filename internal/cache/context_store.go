package cache

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

const shardCount = 32

// entry guards one call. Mutations of the same call serialize on mu;
// different calls never share an entry lock.
type entry struct {
	mu      sync.Mutex
	ctx     *types.CallContext
	removed bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// ContextStore maps call IDs to their conversation state
type ContextStore struct {
	shards [shardCount]*shard
}

// NewContextStore creates an empty store
func NewContextStore() *ContextStore {
	s := &ContextStore{}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *ContextStore) shardFor(callID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return s.shards[h.Sum32()%shardCount]
}

// Create registers a new call. A call ID can only be created once while active.
func (s *ContextStore) Create(callID string, init types.ContextInit) (types.CallContext, error) {
	startedAt := init.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	ctx := &types.CallContext{
		CallID:         callID,
		TenantID:       init.TenantID,
		AgentID:        init.AgentID,
		ContactID:      init.ContactID,
		StartedAt:      startedAt,
		LastActivityAt: startedAt,
		AgentConfig:    init.AgentConfig,
		Turns:          make([]types.Turn, 0, 8),
		CurrentTurn:    types.NoCurrentTurn,
	}
	if init.ContactInfo != nil {
		ci := *init.ContactInfo
		ctx.ContactInfo = &ci
	}

	sh := s.shardFor(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.entries[callID]; exists {
		return types.CallContext{}, types.ErrAlreadyExists
	}
	sh.entries[callID] = &entry{ctx: ctx}
	return ctx.Clone(), nil
}

func (s *ContextStore) lookup(callID string) (*entry, bool) {
	sh := s.shardFor(callID)
	sh.mu.RLock()
	e, ok := sh.entries[callID]
	sh.mu.RUnlock()
	return e, ok
}

// Get returns a copy of the call's current state
func (s *ContextStore) Get(callID string) (types.CallContext, error) {
	e, ok := s.lookup(callID)
	if !ok {
		return types.CallContext{}, types.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return types.CallContext{}, types.ErrNotFound
	}
	return e.ctx.Clone(), nil
}

// Mutate applies fn atomically to the call's state. fn works on a copy which
// replaces the stored state only when fn returns nil.
func (s *ContextStore) Mutate(callID string, fn func(*types.CallContext) error) error {
	e, ok := s.lookup(callID)
	if !ok {
		return types.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return types.ErrNotFound
	}

	working := e.ctx.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	// Identity fields are immutable after creation
	working.CallID = e.ctx.CallID
	working.TenantID = e.ctx.TenantID
	working.AgentID = e.ctx.AgentID
	working.ContactID = e.ctx.ContactID
	working.StartedAt = e.ctx.StartedAt
	working.AgentConfig = e.ctx.AgentConfig
	working.ContactInfo = e.ctx.ContactInfo
	*e.ctx = working
	return nil
}

// Remove deletes the call and returns its final state
func (s *ContextStore) Remove(callID string) (types.CallContext, error) {
	sh := s.shardFor(callID)
	sh.mu.Lock()
	e, ok := sh.entries[callID]
	if ok {
		delete(sh.entries, callID)
	}
	sh.mu.Unlock()

	if !ok {
		return types.CallContext{}, types.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	return e.ctx.Clone(), nil
}

// List returns copies of all active calls
func (s *ContextStore) List() []types.CallContext {
	var entries []*entry
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()
	}

	out := make([]types.CallContext, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.ctx.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of active calls
func (s *ContextStore) Count() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		total += len(sh.entries)
		sh.mu.RUnlock()
	}
	return total
}

// Idle returns calls with no activity since now-threshold. It never evicts:
// call end is authoritative and comes from telephony.
func (s *ContextStore) Idle(threshold time.Duration, now time.Time) []types.CallContext {
	cutoff := now.Add(-threshold)
	var idle []types.CallContext
	for _, c := range s.List() {
		if c.LastActivityAt.Before(cutoff) {
			idle = append(idle, c)
		}
	}
	return idle
}
