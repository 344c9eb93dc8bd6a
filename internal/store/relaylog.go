package store

import (
	"fmt"
	"time"
)

// RelayedMessage is one row of the append-only relay audit log: a message
// that crossed the Slack/IRC boundary in either direction.
type RelayedMessage struct {
	ID        int64
	Direction string // "inbound" (Slack -> IRC) or "outbound" (IRC -> Slack)
	ChannelID string
	UserID    string
	Text      string
	CreatedAt int64 // unix millis
}

// SaveRelayedMessage appends one row to the audit log. It satisfies
// internal/ircserver.RelayLog.
func (s *Store) SaveRelayedMessage(direction, channelID, userID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO relayed_messages(direction, channel_id, user_id, text, created_at) VALUES (?, ?, ?, ?, ?)",
		direction, channelID, userID, text, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save relayed message: %w", err)
	}
	return nil
}

// ListRecent returns the most recently relayed messages, newest first,
// bounded by limit.
func (s *Store) ListRecent(limit int) ([]RelayedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT id, direction, channel_id, user_id, text, created_at FROM relayed_messages ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list relayed messages: %w", err)
	}
	defer rows.Close()

	var out []RelayedMessage
	for rows.Next() {
		var m RelayedMessage
		if err := rows.Scan(&m.ID, &m.Direction, &m.ChannelID, &m.UserID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relayed message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
