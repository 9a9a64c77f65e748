package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/snapconnect/persona-engine/internal/model"
)

// AppendOutreach records a proactive message in the outreach log.
// Duplicate ids are silently ignored, so a redelivered append is a no-op.
func (s *Store) AppendOutreach(ctx context.Context, entry *model.OutreachEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.Must(uuid.NewV7()).String()
	}
	if entry.SentAt.IsZero() {
		entry.SentAt = s.now().UTC().Truncate(time.Millisecond)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outreach_log (id, persona_id, human_id, message_id, trigger_kind, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		entry.ID,
		entry.PersonaID,
		entry.HumanID,
		entry.MessageID,
		string(entry.Trigger),
		millis(entry.SentAt),
	)
	if err != nil {
		return &model.StorageUnavailable{Op: "append outreach", Err: err}
	}
	return nil
}

// HasRecentOutreach reports whether an outreach entry exists for the pair
// within the cooldown window. Keying is per trigger kind unless global is
// set, in which case any trigger suppresses.
func (s *Store) HasRecentOutreach(ctx context.Context, personaID, humanID string, kind model.TriggerKind, window time.Duration, global bool) (bool, error) {
	since := millis(s.now().Add(-window))

	var query string
	var args []any
	if global {
		query = `SELECT 1 FROM outreach_log
			WHERE persona_id = ? AND human_id = ? AND sent_at > ? LIMIT 1`
		args = []any{personaID, humanID, since}
	} else {
		query = `SELECT 1 FROM outreach_log
			WHERE persona_id = ? AND human_id = ? AND trigger_kind = ? AND sent_at > ? LIMIT 1`
		args = []any{personaID, humanID, string(kind), since}
	}

	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &model.StorageUnavailable{Op: "lookup outreach", Err: err}
	}
	return true, nil
}

// LastActivityBetween returns the sent_at of the most recent message in
// either direction of the pair, expired or not. The zero time means the
// pair has no history at all.
func (s *Store) LastActivityBetween(ctx context.Context, a, b string) (time.Time, error) {
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(sent_at) FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
	`, a, b, b, a).Scan(&last)
	if err != nil {
		return time.Time{}, &model.StorageUnavailable{Op: "last activity", Err: err}
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return fromMillis(last.Int64), nil
}
