package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	opts options

	mu            sync.Mutex
	seq           uint64
	conversations map[string]*memoryEntry
}

type memoryEntry struct {
	conv    *Conversation
	touched uint64 // breaks updatedAt ties, later writes first
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:          buildOptions(opts),
		conversations: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) Create(_ context.Context, userID string) (*Conversation, error) {
	now := s.opts.now()
	conv := &Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.conversations[conv.ID] = &memoryEntry{conv: conv, touched: s.seq}
	return conv.clone(), nil
}

func (s *MemoryStore) Append(_ context.Context, id string, msg Message) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.seq++
	e.touched = s.seq
	e.conv.Messages = append(e.conv.Messages, msg)
	e.conv.UpdatedAt = s.opts.now()
	return e.conv.clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.conv.clone(), nil
}

func (s *MemoryStore) Latest(ctx context.Context, userID string) (*Conversation, error) {
	convs, _ := s.ListByUser(ctx, userID)
	if len(convs) == 0 {
		return nil, ErrNotFound
	}
	return &convs[0], nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Conversation, error) {
	s.mu.Lock()
	entries := make([]*memoryEntry, 0)
	for _, e := range s.conversations {
		if e.conv.UserID == userID {
			entries = append(entries, &memoryEntry{conv: e.conv.clone(), touched: e.touched})
		}
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.conv.UpdatedAt.Equal(b.conv.UpdatedAt) {
			return a.conv.UpdatedAt.After(b.conv.UpdatedAt)
		}
		return a.touched > b.touched
	})

	out := make([]Conversation, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e.conv)
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	return true, nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }
