// Package domain defines the persistence models and the platform-agnostic
// message types exchanged with connector adapters. This file contains the
// value types: adapters normalize inbound payloads to NormalizedEvent, and
// the pipeline hands back OutboundMessage values for the adapter to deliver.
package domain

import "time"

// Platform identifies a messaging platform connector.
type Platform string

// Supported platforms.
const (
	PlatformTelegram Platform = "telegram"
	PlatformDiscord  Platform = "discord"
	PlatformSlack    Platform = "slack"
	PlatformWhatsApp Platform = "whatsapp"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformDiscord, PlatformSlack, PlatformWhatsApp:
		return true
	}
	return false
}

// NormalizedEvent is the platform-agnostic form of an inbound message.
// EventID is globally unique across chats and platforms and is the dedupe
// key. Treated as immutable once constructed.
type NormalizedEvent struct {
	Platform  Platform  `json:"platform"  binding:"required"`
	EventID   string    `json:"event_id"  binding:"required"`
	ChatID    string    `json:"chat_id"   binding:"required"`
	UserID    string    `json:"user_id"   binding:"required"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
}

// ParsedTime is a single time reference extracted from message text.
// Hour/Minute always hold a valid wall-clock time in 24-hour form. TZHint is
// the IANA id of a timezone mentioned alongside the time, or empty.
// Confidence reflects how explicit the matched format was. Immutable.
type ParsedTime struct {
	OriginalText string  `json:"original_text"`
	Hour         int     `json:"hour"`
	Minute       int     `json:"minute"`
	TZHint       string  `json:"tz_hint,omitempty"`
	Tomorrow     bool    `json:"tomorrow,omitempty"`
	Confidence   float64 `json:"confidence"`
}

// ParseMode selects how outbound text should be rendered by the platform.
type ParseMode string

// Outbound rendering modes.
const (
	ParsePlain    ParseMode = "plain"
	ParseMarkdown ParseMode = "markdown"
	ParseHTML     ParseMode = "html"
)

// OutboundMessage is a response for a platform adapter to deliver. The core
// never calls a platform API directly.
type OutboundMessage struct {
	Platform  Platform  `json:"platform"`
	ChatID    string    `json:"chat_id"`
	Text      string    `json:"text"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	ParseMode ParseMode `json:"parse_mode,omitempty"`
}
