package store

import (
	"context"
	"errors"

	"github.com/soyeahso/courier/internal/domain"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// DefaultHistoryLimit bounds RecentHistory when the caller passes no limit.
const DefaultHistoryLimit = 50

// HistoryStore is durable conversation storage. Messages for one
// conversation are returned in insertion order.
type HistoryStore interface {
	// Append adds msg to the conversation, creating it on first use.
	Append(ctx context.Context, conversationID string, msg domain.Message) error

	// RecentHistory returns at most limit of the latest messages, oldest
	// first. Unknown conversations yield an empty slice.
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)

	// Conversation returns the conversation's bookkeeping fields, or ErrNotFound.
	Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	Close() error
}

// AttachmentStore records metadata produced by the upload step.
type AttachmentStore interface {
	// PutAttachment records an upload as the conversation's pending attachment.
	PutAttachment(ctx context.Context, conversationID string, meta domain.AttachmentMetadata) error

	// PendingAttachment returns the latest unconsumed upload for the
	// conversation, or nil when there is none. Reading does not consume it.
	PendingAttachment(ctx context.Context, conversationID string) (*domain.AttachmentMetadata, error)

	// ConsumeAttachment marks every pending upload of the conversation as
	// used, so later turns no longer see it.
	ConsumeAttachment(ctx context.Context, conversationID string) error
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// reverse flips a newest-first page into chronological order.
func reverse(msgs []domain.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
