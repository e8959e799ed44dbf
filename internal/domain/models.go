// Package domain defines the persistence models for timezone beliefs, chat
// configuration, and event deduplication. These types are mapped with GORM
// and form the core data layer of the assistant.
package domain

import "time"

// BeliefSource tags how a user's timezone belief was established.
type BeliefSource string

// Belief provenance values, strongest evidence first.
const (
	SourceWebVerified     BeliefSource = "web_verified"     // browser-detected, user confirmed
	SourceCityPick        BeliefSource = "city_pick"        // user picked a city by name
	SourceMessageInferred BeliefSource = "message_inferred" // inferred from message content
	SourceChatDefault     BeliefSource = "chat_default"     // fell back to the chat default
	SourceNone            BeliefSource = "none"             // no evidence yet
)

// Valid reports whether s is one of the known provenance values.
func (s BeliefSource) Valid() bool {
	switch s {
	case SourceWebVerified, SourceCityPick, SourceMessageInferred, SourceChatDefault, SourceNone:
		return true
	}
	return false
}

// TimezoneBelief is the system's current best estimate of a user's home
// timezone, one row per (platform, user). Confidence is the raw stored value;
// effective confidence after decay is always computed at read time, never
// persisted.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Platform / UserID: composite identity; unique together.
//   - TZ: IANA timezone identifier, empty until first established.
//   - Confidence: stored confidence in [0,1].
//   - Source: provenance tag (see BeliefSource).
//   - ConfirmedAt: last explicit user confirmation, nil if never confirmed.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type TimezoneBelief struct {
	ID          string       `json:"id"           gorm:"type:char(36);primaryKey"`
	Platform    string       `json:"platform"     gorm:"type:varchar(32);not null;uniqueIndex:ux_belief_platform_user,priority:1"`
	UserID      string       `json:"user_id"      gorm:"type:varchar(64);not null;uniqueIndex:ux_belief_platform_user,priority:2"`
	TZ          string       `json:"tz"           gorm:"type:varchar(64);not null;default:''"`
	Confidence  float64      `json:"confidence"   gorm:"not null;default:0"`
	Source      BeliefSource `json:"source"       gorm:"type:varchar(32);not null;default:'none'"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName returns the database table name for TimezoneBelief.
func (TimezoneBelief) TableName() string { return "timezone_beliefs" }

// ChatConfig holds per-chat settings, one row per (platform, chat). The
// LastResponseAt timestamp feeds the external throttle check; the chat's
// active timezones live in ChatTimezone rows.
type ChatConfig struct {
	ID             string     `json:"id"         gorm:"type:char(36);primaryKey"`
	Platform       string     `json:"platform"   gorm:"type:varchar(32);not null;uniqueIndex:ux_chat_platform_chat,priority:1"`
	ChatID         string     `json:"chat_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_platform_chat,priority:2"`
	DefaultTZ      string     `json:"default_tz" gorm:"type:varchar(64);not null;default:''"`
	LastResponseAt *time.Time `json:"last_response_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ChatConfig.
func (ChatConfig) TableName() string { return "chat_configs" }

// ChatTimezone is a member of a chat's active timezone set, accumulated from
// users who verified in that chat. The unique index makes the add operation
// idempotent at the database level; CreatedAt keeps display order stable.
type ChatTimezone struct {
	ID        string    `json:"id"       gorm:"type:char(36);primaryKey"`
	Platform  string    `json:"platform" gorm:"type:varchar(32);not null;uniqueIndex:ux_chat_tz,priority:1"`
	ChatID    string    `json:"chat_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_tz,priority:2"`
	TZ        string    `json:"tz"       gorm:"type:varchar(64);not null;uniqueIndex:ux_chat_tz,priority:3"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for ChatTimezone.
func (ChatTimezone) TableName() string { return "chat_timezones" }

// DedupeEvent records a processed inbound event, keyed by (platform,
// event_id). Inserting it IS the dedupe gate: a unique violation means the
// event was already handled. Rows expire after the retention window and are
// purged opportunistically.
type DedupeEvent struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Platform  string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_dedupe_platform_event,priority:1"`
	EventID   string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_dedupe_platform_event,priority:2"`
	ChatID    string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName returns the database table name for DedupeEvent.
func (DedupeEvent) TableName() string { return "dedupe_events" }
