package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// MemoryStore keeps everything in process. Used in development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]types.AgentConfig
	contacts map[string]types.ContactInfo
	records  map[string][]types.ConversationRecord
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]types.AgentConfig),
		contacts: make(map[string]types.ContactInfo),
		records:  make(map[string][]types.ConversationRecord),
	}
}

func tenantKey(tenantID, id string) string { return tenantID + "/" + id }

func (s *MemoryStore) GetAgentConfig(_ context.Context, agentID, tenantID string) (types.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.agents[tenantKey(tenantID, agentID)]
	if !ok {
		return types.AgentConfig{}, types.ErrAgentNotFound
	}
	return cfg, nil
}

func (s *MemoryStore) GetContact(_ context.Context, contactID, tenantID string) (*types.ContactInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[tenantKey(tenantID, contactID)]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &c, nil
}

func (s *MemoryStore) PutAgentConfig(_ context.Context, cfg types.AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[tenantKey(cfg.TenantID, cfg.AgentID)] = cfg
	return nil
}

func (s *MemoryStore) PutContact(_ context.Context, contact types.ContactInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[tenantKey(contact.TenantID, contact.ContactID)] = contact
	return nil
}

func (s *MemoryStore) SaveConversationRecord(_ context.Context, record types.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := s.records[record.DateKey]
	for i, r := range day {
		if r.CallID == record.CallID {
			day[i] = record
			return nil
		}
	}
	s.records[record.DateKey] = append(day, record)
	return nil
}

func (s *MemoryStore) ConversationsByDate(_ context.Context, dateKey string) ([]types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]types.ConversationRecord(nil), s.records[dateKey]...)
	sort.Slice(out, func(i, j int) bool { return out[i].CallID < out[j].CallID })
	return out, nil
}
