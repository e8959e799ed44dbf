// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for per-chat
// configuration and the chat's active timezone set.
//
// Functions:
//
//   - GetChatConfig(ctx, db, platform, chatID) -> *domain.ChatConfig, error
//     Fetches a chat's config row, or ErrNotFound.
//
//   - ListActiveTimezones(ctx, db, platform, chatID) -> []string, error
//     Returns the chat's active timezones in stable insertion order.
//
//   - AddActiveTimezone(ctx, db, platform, chatID, tz) -> error
//     Atomic idempotent set-insert backed by a unique index; adding an
//     already-present timezone is a no-op.
//
//   - TouchLastResponse(ctx, db, platform, chatID, at, defaultTZ) -> error
//     Records when the bot last responded in a chat, for the external
//     throttle check. A new chat's config row is seeded with defaultTZ.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/domain"
)

// GetChatConfig fetches the config for (platform, chatID), or ErrNotFound.
func GetChatConfig(ctx context.Context, db *gorm.DB, platform domain.Platform, chatID string) (*domain.ChatConfig, error) {
	var c domain.ChatConfig
	err := db.WithContext(ctx).
		Where("platform = ? AND chat_id = ?", string(platform), chatID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActiveTimezones returns the chat's active timezone set in insertion
// order. A chat with no rows yields an empty (non-nil) slice.
func ListActiveTimezones(ctx context.Context, db *gorm.DB, platform domain.Platform, chatID string) ([]string, error) {
	var rows []domain.ChatTimezone
	err := db.WithContext(ctx).
		Where("platform = ? AND chat_id = ?", string(platform), chatID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.TZ)
	}
	return out, nil
}

// AddActiveTimezone inserts tz into the chat's active set. The unique index
// on (platform, chat_id, tz) makes concurrent adds safe: a duplicate insert
// is swallowed and reported as success.
func AddActiveTimezone(ctx context.Context, db *gorm.DB, platform domain.Platform, chatID, tz string) error {
	row := &domain.ChatTimezone{
		ID:        uuid.NewString(),
		Platform:  string(platform),
		ChatID:    chatID,
		TZ:        tz,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// TouchLastResponse records the timestamp of the bot's most recent response
// in a chat, creating the config row if the chat is new. defaultTZ seeds the
// chat's default timezone on creation only; an existing row keeps whatever
// default it already has.
func TouchLastResponse(ctx context.Context, db *gorm.DB, platform domain.Platform, chatID string, at time.Time, defaultTZ string) error {
	at = at.UTC()

	existing, err := GetChatConfig(ctx, db, platform, chatID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if existing == nil {
		c := &domain.ChatConfig{
			ID:             uuid.NewString(),
			Platform:       string(platform),
			ChatID:         chatID,
			DefaultTZ:      defaultTZ,
			LastResponseAt: &at,
			CreatedAt:      at,
			UpdatedAt:      at,
		}
		if err := db.WithContext(ctx).Create(c).Error; err != nil {
			// Concurrent first-touch of the same chat: fall through to update.
			if !isUniqueViolation(err) {
				return err
			}
		} else {
			return nil
		}
	}

	return db.WithContext(ctx).
		Model(&domain.ChatConfig{}).
		Where("platform = ? AND chat_id = ?", string(platform), chatID).
		Updates(map[string]any{"last_response_at": &at, "updated_at": at}).Error
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
