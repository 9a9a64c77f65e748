// Package lifecycle owns the message state machine: viewed transitions,
// expiration, and the periodic purge. It is the only component allowed to
// schedule an expiry.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/snapconnect/persona-engine/internal/model"
	"github.com/snapconnect/persona-engine/pkg/logger"
	"github.com/snapconnect/persona-engine/pkg/metrics"
)

// ErrSyntheticExpiry rejects any attempt to schedule expiry on a
// synthetic-sender message. Expiring one would silently erase persona
// conversation history from future context, so this is surfaced loudly
// rather than ignored.
var ErrSyntheticExpiry = errors.New("cannot set expiry on a synthetic-sender message")

// Store is the slice of the store adapter the manager drives.
type Store interface {
	InsertMessage(ctx context.Context, draft model.Draft) (*model.Message, error)
	MarkViewed(ctx context.Context, messageID, viewerID string, expiry time.Duration) error
	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SetExpiry(ctx context.Context, messageID string, at time.Time) error
	PurgeExpired(ctx context.Context) (int64, error)
}

// Manager applies lifecycle policy on top of the store adapter.
type Manager struct {
	store  Store
	expiry time.Duration
	log    *logger.Logger
}

// New creates a manager. expiry is the human-sender viewed-to-expired
// window (T_expire).
func New(store Store, expiry time.Duration, log *logger.Logger) *Manager {
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	return &Manager{store: store, expiry: expiry, log: log}
}

// MarkViewed transitions a message to viewed on behalf of viewerID.
// Human-sender messages get expires_at = viewed_at + T_expire; synthetic
// messages never gain an expiry.
func (m *Manager) MarkViewed(ctx context.Context, messageID, viewerID string) error {
	return m.store.MarkViewed(ctx, messageID, viewerID, m.expiry)
}

// ScheduleExpiry sets an explicit expiry on a human-sender message.
// Synthetic-sender messages are rejected with ErrSyntheticExpiry.
func (m *Manager) ScheduleExpiry(ctx context.Context, messageID string, at time.Time) error {
	msg, err := m.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.IsSyntheticSender {
		return ErrSyntheticExpiry
	}
	return m.store.SetExpiry(ctx, messageID, at)
}

// InsertOutbound persists a persona reply. This is the single insert path
// both the reactive and proactive flows use; the resulting message is
// synthetic and therefore never expires.
func (m *Manager) InsertOutbound(ctx context.Context, personaID, receiverID, content string) (*model.Message, error) {
	return m.store.InsertMessage(ctx, model.Draft{
		SenderID:          personaID,
		ReceiverID:        receiverID,
		Content:           content,
		Kind:              model.KindText,
		IsSyntheticSender: true,
	})
}

// RunPurge deletes expired human-sender messages on a fixed interval
// until ctx is done. Storage hiccups are logged and retried next tick.
func (m *Manager) RunPurge(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.store.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				m.log.Warn("purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				metrics.PurgedMessagesTotal.Add(float64(n))
				m.log.Debug("purged expired messages", zap.Int64("count", n))
			}
		}
	}
}
