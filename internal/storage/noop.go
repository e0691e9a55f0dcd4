package storage

import (
	"context"
	"errors"

	"github.com/dennisdiepolder/monti/convo/internal/types"
)

// ErrContactNotFound is returned when a contact id has no record for the tenant
var ErrContactNotFound = errors.New("contact not found")

// Directory resolves agent configuration and contacts at call start
type Directory interface {
	GetAgentConfig(ctx context.Context, agentID, tenantID string) (types.AgentConfig, error)
	GetContact(ctx context.Context, contactID, tenantID string) (*types.ContactInfo, error)
}

// RecordStore persists ended conversations
type RecordStore interface {
	SaveConversationRecord(ctx context.Context, record types.ConversationRecord) error
	ConversationsByDate(ctx context.Context, dateKey string) ([]types.ConversationRecord, error)
}

// Store is a backend that serves both roles
type Store interface {
	Directory
	RecordStore
}

// NoopStore discards records when persistence is disabled
type NoopStore struct{}

func NewNoopStore() *NoopStore { return &NoopStore{} }

func (s *NoopStore) SaveConversationRecord(_ context.Context, _ types.ConversationRecord) error {
	return nil
}

func (s *NoopStore) ConversationsByDate(_ context.Context, _ string) ([]types.ConversationRecord, error) {
	return nil, nil
}
