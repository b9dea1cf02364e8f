package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/courier/internal/domain"
)

// MemoryHistory is an in-memory HistoryStore and AttachmentStore.
// Contents are lost on restart.
type MemoryHistory struct {
	mu            sync.RWMutex
	conversations map[string]*domain.Conversation
	attachments   map[string]domain.AttachmentMetadata
}

// NewMemoryHistory creates an empty in-memory store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{
		conversations: make(map[string]*domain.Conversation),
		attachments:   make(map[string]domain.AttachmentMetadata),
	}
}

func (s *MemoryHistory) Append(_ context.Context, conversationID string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &domain.Conversation{ID: conversationID, UserID: msg.UserID, CreatedAt: now}
		s.conversations[conversationID] = conv
	}
	if conv.UserID == "" {
		conv.UserID = msg.UserID
	}
	conv.UpdatedAt = now
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryHistory) RecentHistory(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []domain.Message{}, nil
	}
	msgs := conv.Messages
	if n := limitOrDefault(limit); len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryHistory) Conversation(_ context.Context, conversationID string) (*domain.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *conv
	c.Messages = nil
	return &c, nil
}

func (s *MemoryHistory) PutAttachment(_ context.Context, conversationID string, meta domain.AttachmentMetadata) error {
	if meta.UploadedAt.IsZero() {
		meta.UploadedAt = time.Now()
	}
	s.mu.Lock()
	s.attachments[conversationID] = meta
	s.mu.Unlock()
	return nil
}

func (s *MemoryHistory) PendingAttachment(_ context.Context, conversationID string) (*domain.AttachmentMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	meta, ok := s.attachments[conversationID]
	if !ok {
		return nil, nil
	}
	return &meta, nil
}

func (s *MemoryHistory) ConsumeAttachment(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.attachments, conversationID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryHistory) Close() error { return nil }
