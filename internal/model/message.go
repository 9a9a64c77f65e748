package model

import (
	"time"
)

// Kind is the message payload kind.
type Kind string

const (
	KindText   Kind = "text"
	KindMedia  Kind = "media"
	KindSystem Kind = "system"
)

// Message is a persisted conversation message.
//
// Lifecycle: created once by either the reactive or proactive path;
// mutated only when the receiver views it (viewed, viewed_at, expires_at)
// or when the purge deletes expired human-sender rows. A synthetic-sender
// message never carries an expires_at.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`

	Content  string `json:"content"`
	MediaURL string `json:"media_url,omitempty"`
	Kind     Kind   `json:"kind"`

	SentAt            time.Time `json:"sent_at"`
	IsSyntheticSender bool      `json:"is_synthetic_sender"`

	Viewed    bool       `json:"viewed"`
	ViewedAt  *time.Time `json:"viewed_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the message is past its expiry at the given
// instant. Synthetic-sender messages never expire.
func (m *Message) Expired(now time.Time) bool {
	if m.IsSyntheticSender || m.ExpiresAt == nil {
		return false
	}
	return !m.ExpiresAt.After(now)
}

// Draft is the input to the store adapter's insert. The adapter assigns
// the id and sent_at; a draft never carries expiry state.
type Draft struct {
	SenderID          string
	ReceiverID        string
	Content           string
	MediaURL          string
	Kind              Kind
	IsSyntheticSender bool
}

// MessageCreated is the change-stream event emitted once per persisted
// insert. Delivery is at-least-once; consumers deduplicate by MessageID.
//
// SenderID is nullable on the wire for compatibility with legacy writers
// that encoded "synthetic sender" as a null sender; decode through
// NormalizeSender before use.
type MessageCreated struct {
	MessageID         string    `json:"message_id"`
	SenderID          *string   `json:"sender_id"`
	ReceiverID        string    `json:"receiver_id"`
	Content           string    `json:"content"`
	Kind              Kind      `json:"kind"`
	IsSyntheticSender bool      `json:"is_synthetic_sender"`
	SentAt            time.Time `json:"sent_at"`
}

// NormalizeSender resolves the legacy nullable-sender encoding into the
// authoritative form: the boolean flag plus a concrete sender id. A null
// sender implies a synthetic message whose persona id must be resolved by
// the caller (resolve receives the event and returns the persona id, or
// "" when no persona can be determined).
func (e *MessageCreated) NormalizeSender(resolve func(*MessageCreated) string) (senderID string, synthetic bool, ok bool) {
	if e.SenderID != nil && *e.SenderID != "" {
		return *e.SenderID, e.IsSyntheticSender, true
	}
	id := ""
	if resolve != nil {
		id = resolve(e)
	}
	if id == "" {
		return "", true, false
	}
	return id, true, true
}

// TriggerKind names a proactive outreach condition.
type TriggerKind string

const (
	TriggerInactivity TriggerKind = "inactivity"
	TriggerCheckIn    TriggerKind = "checkin"
)

// OutreachEntry is an append-only record of a proactive message. Its
// existence inside the cooldown window suppresses re-triggering.
type OutreachEntry struct {
	ID        string      `json:"id"`
	PersonaID string      `json:"persona_id"`
	HumanID   string      `json:"human_id"`
	MessageID string      `json:"message_id"`
	Trigger   TriggerKind `json:"trigger_kind"`
	SentAt    time.Time   `json:"sent_at"`
}
