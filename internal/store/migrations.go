package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS relayed_messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		direction  TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_relayed_channel ON relayed_messages(channel_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_relayed_created ON relayed_messages(created_at);

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	return nil
}
