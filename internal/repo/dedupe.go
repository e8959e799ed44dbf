// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the dedupe gate used to implement
// at-most-once processing for inbound events.
//
// The insert IS the check: a unique index on (platform, event_id) turns
// "has this event been seen" and "mark it seen" into a single atomic
// operation, so concurrent redeliveries of the same webhook cannot both win.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/domain"
)

// DedupeCheckAndMark atomically records (platform, eventID) as processed.
// It returns true when this call is the first sighting of the event and
// false when a record already exists, in which case the caller must not
// process the event again.
//
// Expired records are not consulted: after the retention window the original
// event IDs' global uniqueness makes replay statistically irrelevant.
func DedupeCheckAndMark(ctx context.Context, db *gorm.DB, platform domain.Platform, eventID, chatID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	rec := &domain.DedupeEvent{
		ID:        uuid.NewString(),
		Platform:  string(platform),
		EventID:   eventID,
		ChatID:    chatID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeExpiredDedupe deletes dedupe records past their retention window and
// returns the number of rows removed. Safe to call opportunistically; there
// is no background job.
func PurgeExpiredDedupe(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.DedupeEvent{})
	return res.RowsAffected, res.Error
}
