package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/soyeahso/courier/internal/domain"
	"github.com/soyeahso/courier/internal/logging"
)

type pgConversation struct {
	bun.BaseModel `bun:"table:conversations"`

	ID        string    `bun:"id,pk"`
	UserID    string    `bun:"user_id,notnull,default:''"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type pgMessage struct {
	bun.BaseModel `bun:"table:messages"`

	Seq            int64          `bun:"seq,pk,autoincrement"`
	ID             string         `bun:"id,unique,notnull"`
	ConversationID string         `bun:"conversation_id,notnull"`
	Role           string         `bun:"role,notnull"`
	Agent          string         `bun:"agent,notnull,default:''"`
	UserID         string         `bun:"user_id,notnull,default:''"`
	Content        string         `bun:"content,notnull"`
	Attachment     sql.NullString `bun:"attachment"`
	Payload        sql.NullString `bun:"payload"`
	Truncated      bool           `bun:"truncated,notnull,default:false"`
	Timestamp      time.Time      `bun:"timestamp,notnull"`
}

type pgAttachment struct {
	bun.BaseModel `bun:"table:attachments"`

	Seq            int64             `bun:"seq,pk,autoincrement"`
	ConversationID string            `bun:"conversation_id,notnull"`
	FileID         string            `bun:"file_id"`
	FileURL        string            `bun:"file_url"`
	MimeType       string            `bun:"mime_type"`
	Filename       string            `bun:"filename"`
	Extracted      map[string]string `bun:"extracted,type:jsonb"`
	UploadedAt     time.Time         `bun:"uploaded_at,notnull"`
	ConsumedAt     bun.NullTime      `bun:"consumed_at"`
}

// PostgresHistory implements HistoryStore and AttachmentStore on PostgreSQL.
type PostgresHistory struct {
	db  *bun.DB
	log *logging.Logger
}

// OpenPostgres connects to dsn and creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string, log *logging.Logger) (*PostgresHistory, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	p := &PostgresHistory{db: db, log: log.Sub("store")}
	if err := p.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	p.log.Info().Msg("postgres history opened")
	return p, nil
}

func (p *PostgresHistory) createSchema(ctx context.Context) error {
	models := []any{(*pgConversation)(nil), (*pgMessage)(nil), (*pgAttachment)(nil)}
	for _, m := range models {
		if _, err := p.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}
	// Tables created before consumption tracking lack the column.
	if _, err := p.db.ExecContext(ctx,
		`ALTER TABLE attachments ADD COLUMN IF NOT EXISTS consumed_at TIMESTAMPTZ`); err != nil {
		return fmt.Errorf("migrating attachments: %w", err)
	}
	indexes := []*bun.CreateIndexQuery{
		p.db.NewCreateIndex().Model((*pgMessage)(nil)).Index("idx_messages_conversation").IfNotExists().Column("conversation_id", "seq"),
		p.db.NewCreateIndex().Model((*pgAttachment)(nil)).Index("idx_attachments_conversation").IfNotExists().Column("conversation_id", "seq"),
	}
	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	return nil
}

func (p *PostgresHistory) Append(ctx context.Context, conversationID string, msg domain.Message) error {
	row := pgMessage{
		ID:             msg.ID,
		ConversationID: conversationID,
		Role:           string(msg.Role),
		Agent:          string(msg.Agent),
		UserID:         msg.UserID,
		Content:        msg.Content,
		Truncated:      msg.Truncated,
		Timestamp:      msg.Timestamp.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	if !msg.Attachment.Empty() {
		data, err := json.Marshal(msg.Attachment)
		if err != nil {
			return fmt.Errorf("encode attachment: %w", err)
		}
		row.Attachment = sql.NullString{String: string(data), Valid: true}
	}
	if len(msg.Payload) > 0 {
		row.Payload = sql.NullString{String: string(msg.Payload), Valid: true}
	}

	now := time.Now().UTC()
	conv := pgConversation{ID: conversationID, UserID: msg.UserID, CreatedAt: now, UpdatedAt: now}

	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&conv).
			On("CONFLICT (id) DO UPDATE").
			Set("updated_at = EXCLUDED.updated_at").
			Set("user_id = CASE WHEN conversations.user_id = '' THEN EXCLUDED.user_id ELSE conversations.user_id END").
			Exec(ctx); err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

func (p *PostgresHistory) RecentHistory(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	var rows []pgMessage
	err := p.db.NewSelect().Model(&rows).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(limitOrDefault(limit)).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	msgs := make([]domain.Message, 0, len(rows))
	for _, r := range rows {
		m := domain.Message{
			ID:        r.ID,
			Role:      domain.Role(r.Role),
			Agent:     domain.AgentTag(r.Agent),
			UserID:    r.UserID,
			Content:   r.Content,
			Truncated: r.Truncated,
			Timestamp: r.Timestamp,
		}
		if r.Attachment.Valid {
			var ref domain.AttachmentRef
			if json.Unmarshal([]byte(r.Attachment.String), &ref) == nil {
				m.Attachment = &ref
			}
		}
		if r.Payload.Valid {
			m.Payload = json.RawMessage(r.Payload.String)
		}
		msgs = append(msgs, m)
	}
	reverse(msgs)
	return msgs, nil
}

func (p *PostgresHistory) Conversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var c pgConversation
	err := p.db.NewSelect().Model(&c).Where("id = ?", conversationID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	return &domain.Conversation{ID: c.ID, UserID: c.UserID, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}, nil
}

func (p *PostgresHistory) PutAttachment(ctx context.Context, conversationID string, meta domain.AttachmentMetadata) error {
	row := pgAttachment{
		ConversationID: conversationID,
		FileID:         meta.FileID,
		FileURL:        meta.FileURL,
		MimeType:       meta.MimeType,
		Filename:       meta.Filename,
		Extracted:      meta.ExtractedData,
		UploadedAt:     meta.UploadedAt.UTC(),
	}
	if meta.UploadedAt.IsZero() {
		row.UploadedAt = time.Now().UTC()
	}
	if _, err := p.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (p *PostgresHistory) PendingAttachment(ctx context.Context, conversationID string) (*domain.AttachmentMetadata, error) {
	var row pgAttachment
	err := p.db.NewSelect().Model(&row).
		Where("conversation_id = ?", conversationID).
		Where("consumed_at IS NULL").
		Order("seq DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query attachment: %w", err)
	}
	return &domain.AttachmentMetadata{
		AttachmentRef: domain.AttachmentRef{
			FileID:   row.FileID,
			FileURL:  row.FileURL,
			MimeType: row.MimeType,
			Filename: row.Filename,
		},
		ExtractedData: row.Extracted,
		UploadedAt:    row.UploadedAt,
	}, nil
}

func (p *PostgresHistory) ConsumeAttachment(ctx context.Context, conversationID string) error {
	_, err := p.db.NewUpdate().Model((*pgAttachment)(nil)).
		Set("consumed_at = ?", time.Now().UTC()).
		Where("conversation_id = ?", conversationID).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("consume attachment: %w", err)
	}
	return nil
}

func (p *PostgresHistory) Close() error {
	p.log.Info().Msg("closing postgres")
	return p.db.Close()
}
