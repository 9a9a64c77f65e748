package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, content, media_url, kind,
	sent_at, is_synthetic_sender, viewed, viewed_at, expires_at`

// InsertMessage validates and persists a draft, assigning its id and
// sent_at, then emits a MessageCreated event. Synthetic drafts must carry
// a concrete persona sender id; drafts never carry expiry state.
func (s *Store) InsertMessage(ctx context.Context, draft model.Draft) (*model.Message, error) {
	if draft.SenderID == "" {
		return nil, &model.ValidationError{Field: "sender_id", Reason: "empty"}
	}
	if draft.ReceiverID == "" {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "empty"}
	}
	if draft.SenderID == draft.ReceiverID {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "sender and receiver are identical"}
	}

	kind := draft.Kind
	if kind == "" {
		kind = model.KindText
	}

	exists, _, err := s.participantInfo(ctx, draft.ReceiverID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, &model.ValidationError{Field: "receiver_id", Reason: "receiver does not exist"}
	}

	if draft.IsSyntheticSender {
		exists, isPersona, err := s.participantInfo(ctx, draft.SenderID)
		if err != nil {
			return nil, err
		}
		if !exists || !isPersona {
			return nil, &model.ValidationError{Field: "sender_id", Reason: "synthetic sender is not a persona"}
		}
	}

	msg := &model.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		SenderID:          draft.SenderID,
		ReceiverID:        draft.ReceiverID,
		Content:           draft.Content,
		MediaURL:          draft.MediaURL,
		Kind:              kind,
		SentAt:            s.now().UTC().Truncate(time.Millisecond),
		IsSyntheticSender: draft.IsSyntheticSender,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages
		(id, sender_id, receiver_id, content, media_url, kind, sent_at, is_synthetic_sender)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		nullString(msg.MediaURL),
		string(msg.Kind),
		millis(msg.SentAt),
		boolInt(msg.IsSyntheticSender),
	)
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "insert message", Err: err}
	}

	s.notify(ctx, msg)

	return msg, nil
}

// notify emits the change event for a committed insert. One failed
// publish is retried once; a second failure is logged and dropped, the
// write stands regardless.
func (s *Store) notify(ctx context.Context, msg *model.Message) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.MessageCreated(ctx, msg)
	if err != nil {
		err = s.notifier.MessageCreated(ctx, msg)
	}
	if err != nil && s.log != nil {
		s.log.Warn("failed to publish message created event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}
}

// MarkViewed transitions a message to viewed on behalf of its receiver.
// Human-sender messages get expires_at = viewed_at + expiry; synthetic
// messages never expire. Idempotent for an already-viewed message.
func (s *Store) MarkViewed(ctx context.Context, messageID, viewerID string, expiry time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &model.StorageUnavailable{Op: "mark viewed", Err: err}
	}
	defer tx.Rollback()

	var receiverID string
	var synthetic, viewed int
	err = tx.QueryRowContext(ctx, `
		SELECT receiver_id, is_synthetic_sender, viewed FROM messages WHERE id = ?
	`, messageID).Scan(&receiverID, &synthetic, &viewed)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrMessageNotFound
	}
	if err != nil {
		return &model.StorageUnavailable{Op: "mark viewed", Err: err}
	}

	if viewerID != receiverID {
		return &model.AuthorizationError{MessageID: messageID, ViewerID: viewerID}
	}
	if viewed == 1 {
		return nil
	}

	viewedAt := s.now().UTC().Truncate(time.Millisecond)
	if synthetic == 1 {
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET viewed = 1, viewed_at = ? WHERE id = ?
		`, millis(viewedAt), messageID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE messages SET viewed = 1, viewed_at = ?, expires_at = ? WHERE id = ?
		`, millis(viewedAt), millis(viewedAt.Add(expiry)), messageID)
	}
	if err != nil {
		return &model.StorageUnavailable{Op: "mark viewed", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &model.StorageUnavailable{Op: "mark viewed", Err: err}
	}
	return nil
}

// SetExpiry schedules expiry on a human-sender message as a single
// conditional update. The synthetic guard lives in the lifecycle manager;
// this refuses to touch synthetic rows regardless.
func (s *Store) SetExpiry(ctx context.Context, messageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET expires_at = ? WHERE id = ? AND is_synthetic_sender = 0
	`, millis(at), messageID)
	if err != nil {
		return &model.StorageUnavailable{Op: "set expiry", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &model.StorageUnavailable{Op: "set expiry", Err: err}
	}
	if n == 0 {
		return model.ErrMessageNotFound
	}
	return nil
}

// FetchConversation returns up to limit messages between the two
// participants, newest-first. Expired human-sender messages are excluded;
// synthetic-sender messages are always included regardless of age.
func (s *Store) FetchConversation(ctx context.Context, a, b string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND (is_synthetic_sender = 1 OR expires_at IS NULL OR expires_at > ?)
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`, a, b, b, a, millis(s.now()), limit)
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "fetch conversation", Err: err}
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, &model.StorageUnavailable{Op: "fetch conversation", Err: err}
		}
		msgs = append(msgs, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageUnavailable{Op: "fetch conversation", Err: err}
	}
	return msgs, nil
}

// PurgeExpired deletes all non-synthetic messages past their expiry as a
// single atomic statement. Idempotent; returns the number of rows removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE is_synthetic_sender = 0 AND expires_at IS NOT NULL AND expires_at <= ?
	`, millis(s.now()))
	if err != nil {
		return 0, &model.StorageUnavailable{Op: "purge expired", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &model.StorageUnavailable{Op: "purge expired", Err: err}
	}
	return n, nil
}

// GetMessage loads a single message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages WHERE id = ?
	`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrMessageNotFound
	}
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "get message", Err: err}
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		msg       model.Message
		mediaURL  sql.NullString
		kind      string
		sentAt    int64
		synthetic int
		viewed    int
		viewedAt  sql.NullInt64
		expiresAt sql.NullInt64
	)
	err := row.Scan(
		&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &mediaURL, &kind,
		&sentAt, &synthetic, &viewed, &viewedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	msg.MediaURL = mediaURL.String
	msg.Kind = model.Kind(kind)
	msg.SentAt = fromMillis(sentAt)
	msg.IsSyntheticSender = synthetic == 1
	msg.Viewed = viewed == 1
	msg.ViewedAt = fromNullMillis(viewedAt)
	msg.ExpiresAt = fromNullMillis(expiresAt)
	return &msg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
