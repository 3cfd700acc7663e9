package store

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Schema lives here instead of migration files so both drivers stay in one
// place. Timestamps are epoch-millisecond integers to keep the two dialects
// scanning identically.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    room_id       TEXT    NOT NULL,
    sender_id     TEXT    NOT NULL,
    kind          TEXT    NOT NULL,
    content       TEXT    NOT NULL,
    file_name     TEXT    NOT NULL DEFAULT '',
    file_size     INTEGER NOT NULL DEFAULT 0,
    duration      INTEGER NOT NULL DEFAULT 0,
    thumbnail     TEXT    NOT NULL DEFAULT '',
    mime_type     TEXT    NOT NULL DEFAULT '',
    timestamp_ms  INTEGER NOT NULL,
    created_at_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_id);
CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind);
CREATE TABLE IF NOT EXISTS rooms (
    room_id      TEXT PRIMARY KEY,
    last_seen_ms INTEGER NOT NULL
);
`

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		room_id       VARCHAR(255) NOT NULL,
		sender_id     VARCHAR(255) NOT NULL,
		kind          VARCHAR(16)  NOT NULL,
		content       TEXT         NOT NULL,
		file_name     VARCHAR(255) NOT NULL DEFAULT '',
		file_size     BIGINT       NOT NULL DEFAULT 0,
		duration      INT          NOT NULL DEFAULT 0,
		thumbnail     TEXT,
		mime_type     VARCHAR(128) NOT NULL DEFAULT '',
		timestamp_ms  BIGINT       NOT NULL,
		created_at_ms BIGINT       NOT NULL,
		INDEX idx_messages_room (room_id, id),
		INDEX idx_messages_sender (sender_id),
		INDEX idx_messages_ts (timestamp_ms),
		INDEX idx_messages_kind (kind)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id      VARCHAR(255) PRIMARY KEY,
		last_seen_ms BIGINT NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	switch s.driver {
	case "sqlite3":
		if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("migrate sqlite schema: %w", err)
		}
	case "mysql":
		for _, stmt := range mysqlSchema {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migrate mysql schema: %w", err)
			}
		}
	default:
		return fmt.Errorf("unsupported driver %q", s.driver)
	}
	log.Printf("schema ready (%s)", s.driver)
	return nil
}
