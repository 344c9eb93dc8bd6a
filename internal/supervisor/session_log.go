package supervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is one entry in the session-lifecycle log: a session starting,
// ending, or being restarted after a disconnect.
type Event struct {
	Kind      string
	Detail    string
	Timestamp time.Time
}

// SessionLog records bridge session lifecycle events, kept in memory for a
// diagnostic endpoint to display.
type SessionLog struct {
	mu      sync.RWMutex
	entries []Event
	logger  zerolog.Logger
}

// NewSessionLog creates an empty session log.
func NewSessionLog(logger zerolog.Logger) *SessionLog {
	return &SessionLog{
		entries: make([]Event, 0, 64),
		logger:  logger.With().Str("component", "session_log").Logger(),
	}
}

// Record appends an event, stamping its timestamp, and logs it.
func (l *SessionLog) Record(e Event) {
	e.Timestamp = time.Now()

	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()

	l.logger.Info().Str("kind", e.Kind).Str("detail", e.Detail).Msg("session event")
}

// Recent returns the last limit events, newest first.
func (l *SessionLog) Recent(limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out
}
