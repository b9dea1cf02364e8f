package store

import (
	"context"
	"fmt"

	"github.com/soyeahso/courier/internal/config"
	"github.com/soyeahso/courier/internal/logging"
)

// Backend is the combined storage the server needs for conversations.
type Backend interface {
	HistoryStore
	AttachmentStore
}

// OpenHistory selects the history backend named by cfg.Driver. The
// sqlite driver reuses db, which must be non-nil for it.
func OpenHistory(ctx context.Context, cfg config.HistoryConfig, db *DB, log *logging.Logger) (Backend, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if db == nil {
			return nil, fmt.Errorf("sqlite history: database not open")
		}
		return NewSQLiteHistory(db), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN, log)
	case "memory":
		return NewMemoryHistory(), nil
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
