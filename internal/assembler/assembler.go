// Package assembler builds the per-request context an agent works from.
package assembler

import (
	"context"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/logging"
)

// HistoryReader is the read side of conversation storage.
type HistoryReader interface {
	RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// AttachmentSource returns the pending upload for a conversation, or nil.
// A pending upload belongs to the next turn only; ConsumeAttachment retires it.
type AttachmentSource interface {
	PendingAttachment(ctx context.Context, conversationID string) (*domain.AttachmentMetadata, error)
	ConsumeAttachment(ctx context.Context, conversationID string) error
}

// Assembler gathers bounded history and attachment metadata.
type Assembler struct {
	history     HistoryReader
	attachments AttachmentSource
	limit       int
	log         *logging.Logger
}

// New creates an assembler. attachments may be nil.
func New(history HistoryReader, attachments AttachmentSource, limit int, log *logging.Logger) *Assembler {
	if limit <= 0 {
		limit = 10
	}
	return &Assembler{
		history:     history,
		attachments: attachments,
		limit:       limit,
		log:         log.Sub("assembler"),
	}
}

// Assemble never fails; storage problems degrade the context instead.
func (a *Assembler) Assemble(ctx context.Context, req domain.ChatRequest, intent domain.Intent) *domain.RequestContext {
	rc := &domain.RequestContext{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		RawMessage:     req.Message,
		Intent:         intent,
		History:        []domain.Message{},
	}

	limit := a.limit
	if req.MessageID != "" {
		limit++
	}
	history, err := a.history.RecentHistory(ctx, req.ConversationID, limit)
	if err != nil {
		a.log.Warn().Err(err).
			Str("conversationId", req.ConversationID).
			Str("kind", string(domain.ErrHistoryUnavailable)).
			Msg("history unavailable, continuing without it")
		rc.Degraded = append(rc.Degraded, domain.ErrHistoryUnavailable)
	} else if history != nil {
		rc.History = withoutMessage(history, req.MessageID, a.limit)
	}

	rc.Attachment = a.attachment(ctx, req)
	return rc
}

// withoutMessage drops the current turn's own message, which may or may not
// have been persisted yet, and keeps at most limit entries.
func withoutMessage(history []domain.Message, id string, limit int) []domain.Message {
	if id != "" {
		kept := history[:0:0]
		for _, m := range history {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		history = kept
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history
}

// attachment resolves the file for this turn. The pending upload is merged
// when the request names no file or the same file, and is consumed either
// way so it never leaks into later turns.
func (a *Assembler) attachment(ctx context.Context, req domain.ChatRequest) *domain.AttachmentMetadata {
	var pending *domain.AttachmentMetadata
	if a.attachments != nil {
		meta, err := a.attachments.PendingAttachment(ctx, req.ConversationID)
		if err != nil {
			a.log.Warn().Err(err).
				Str("conversationId", req.ConversationID).
				Msg("attachment lookup failed, continuing without it")
		} else {
			pending = meta
		}
	}
	if pending != nil {
		if err := a.attachments.ConsumeAttachment(ctx, req.ConversationID); err != nil {
			a.log.Warn().Err(err).
				Str("conversationId", req.ConversationID).
				Msg("could not mark attachment consumed")
		}
	}

	ref := req.Attachment()
	switch {
	case ref == nil:
		return pending
	case pending == nil || !sameFile(*ref, pending.AttachmentRef):
		return &domain.AttachmentMetadata{AttachmentRef: *ref}
	}
	merged := *pending
	if ref.FileID != "" {
		merged.FileID = ref.FileID
	}
	if ref.FileURL != "" {
		merged.FileURL = ref.FileURL
	}
	return &merged
}

func sameFile(a, b domain.AttachmentRef) bool {
	if a.FileID != "" && b.FileID != "" {
		return a.FileID == b.FileID
	}
	return a.FileURL != "" && a.FileURL == b.FileURL
}
