package session

import (
	"context"
	"sync"
)

// MemoryDraftStore keeps drafts for the lifetime of the process.
type MemoryDraftStore struct {
	mu     sync.RWMutex
	drafts map[string]ProfileDraft
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{drafts: make(map[string]ProfileDraft)}
}

func (s *MemoryDraftStore) SaveDraft(_ context.Context, draft ProfileDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draft.UserID] = draft
	return nil
}

func (s *MemoryDraftStore) LoadDraft(_ context.Context, userID string) (*ProfileDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	draft, ok := s.drafts[userID]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (s *MemoryDraftStore) ClearDraft(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, userID)
	return nil
}
