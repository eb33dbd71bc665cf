package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// MemoryStore is a bounded in-process store. Sessions are evicted least
// recently used first once capacity is reached, and after ttl without a
// Put.
type MemoryStore struct {
	cache *expirable.LRU[string, *ConversationState]
}

// NewMemoryStore creates a store holding at most capacity sessions.
// A zero ttl disables idle expiry.
func NewMemoryStore(capacity int, ttl time.Duration, logger *zap.Logger) *MemoryStore {
	onEvict := func(id string, _ *ConversationState) {
		logger.Debug("session evicted", zap.String("session_id", id))
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, *ConversationState](capacity, onEvict, ttl),
	}
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (*ConversationState, error) {
	st, ok := m.cache.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Put(_ context.Context, state *ConversationState) error {
	m.cache.Add(state.SessionID, state.Clone())
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, sessionID string) error {
	m.cache.Remove(sessionID)
	return nil
}

// Len returns the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.Len()
}
