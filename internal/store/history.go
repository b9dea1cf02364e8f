package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/courier/internal/domain"
)

const tsLayout = time.RFC3339Nano

// SQLiteHistory implements HistoryStore and AttachmentStore on SQLite.
type SQLiteHistory struct {
	db *DB
}

// NewSQLiteHistory creates a history store using the given database.
func NewSQLiteHistory(db *DB) *SQLiteHistory {
	return &SQLiteHistory{db: db}
}

// Append inserts msg and creates or touches its conversation in one transaction.
func (s *SQLiteHistory) Append(ctx context.Context, conversationID string, msg domain.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	now := time.Now().UTC().Format(tsLayout)

	var attachment, payload sql.NullString
	if !msg.Attachment.Empty() {
		data, err := json.Marshal(msg.Attachment)
		if err != nil {
			return fmt.Errorf("encode attachment: %w", err)
		}
		attachment = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.Payload) > 0 {
		payload = sql.NullString{String: string(msg.Payload), Valid: true}
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   updated_at = excluded.updated_at,
		   user_id = CASE WHEN conversations.user_id = '' THEN excluded.user_id ELSE conversations.user_id END`,
		conversationID, msg.UserID, now, now,
	); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, agent, user_id, content, attachment, payload, truncated, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, conversationID, string(msg.Role), string(msg.Agent), msg.UserID, msg.Content,
		attachment, payload, msg.Truncated, ts.UTC().Format(tsLayout),
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

// RecentHistory returns the latest messages oldest first.
func (s *SQLiteHistory) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, role, agent, user_id, content, attachment, payload, truncated, timestamp
		 FROM messages WHERE conversation_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		conversationID, limitOrDefault(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var role, agent, ts string
		var attachment, payload sql.NullString
		if err := rows.Scan(&m.ID, &role, &agent, &m.UserID, &m.Content, &attachment, &payload, &m.Truncated, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Agent = domain.AgentTag(agent)
		m.Timestamp, _ = time.Parse(tsLayout, ts)
		if attachment.Valid {
			var ref domain.AttachmentRef
			if json.Unmarshal([]byte(attachment.String), &ref) == nil {
				m.Attachment = &ref
			}
		}
		if payload.Valid {
			m.Payload = json.RawMessage(payload.String)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(msgs)
	return msgs, nil
}

// Conversation returns conversation bookkeeping without messages.
func (s *SQLiteHistory) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var c domain.Conversation
	var createdAt, updatedAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM conversations WHERE id = ?`, conversationID,
	).Scan(&c.ID, &c.UserID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	c.CreatedAt, _ = time.Parse(tsLayout, createdAt)
	c.UpdatedAt, _ = time.Parse(tsLayout, updatedAt)
	return &c, nil
}

// PutAttachment records an upload for the conversation.
func (s *SQLiteHistory) PutAttachment(ctx context.Context, conversationID string, meta domain.AttachmentMetadata) error {
	var extracted sql.NullString
	if len(meta.ExtractedData) > 0 {
		data, err := json.Marshal(meta.ExtractedData)
		if err != nil {
			return fmt.Errorf("encode extracted data: %w", err)
		}
		extracted = sql.NullString{String: string(data), Valid: true}
	}
	uploaded := meta.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO attachments (conversation_id, file_id, file_url, mime_type, filename, extracted, uploaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conversationID, meta.FileID, meta.FileURL, meta.MimeType, meta.Filename,
		extracted, uploaded.UTC().Format(tsLayout),
	)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

// PendingAttachment returns the most recent unconsumed upload, or nil.
func (s *SQLiteHistory) PendingAttachment(ctx context.Context, conversationID string) (*domain.AttachmentMetadata, error) {
	var meta domain.AttachmentMetadata
	var extracted sql.NullString
	var uploaded string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT file_id, file_url, mime_type, filename, extracted, uploaded_at
		 FROM attachments WHERE conversation_id = ? AND consumed_at IS NULL
		 ORDER BY seq DESC LIMIT 1`, conversationID,
	).Scan(&meta.FileID, &meta.FileURL, &meta.MimeType, &meta.Filename, &extracted, &uploaded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attachment: %w", err)
	}
	meta.UploadedAt, _ = time.Parse(tsLayout, uploaded)
	if extracted.Valid {
		if err := json.Unmarshal([]byte(extracted.String), &meta.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted data: %w", err)
		}
	}
	return &meta, nil
}

// ConsumeAttachment marks the conversation's pending uploads as used.
func (s *SQLiteHistory) ConsumeAttachment(ctx context.Context, conversationID string) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE attachments SET consumed_at = ? WHERE conversation_id = ? AND consumed_at IS NULL`,
		time.Now().UTC().Format(tsLayout), conversationID,
	)
	if err != nil {
		return fmt.Errorf("consume attachment: %w", err)
	}
	return nil
}

// Close is a no-op; the *DB is shared with the knowledge store and
// closed by its owner.
func (s *SQLiteHistory) Close() error {
	return nil
}
