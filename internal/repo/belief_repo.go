// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// TimezoneBelief model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no confidence arithmetic or decay
// logic here, only CRUD persistence; the belief package owns the semantics.
//
// Error semantics:
//   - When a belief is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the pipeline and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetBelief fetches the timezone belief for (platform, userID), or
// ErrNotFound if the user has never been seen.
func GetBelief(ctx context.Context, db *gorm.DB, platform domain.Platform, userID string) (*domain.TimezoneBelief, error) {
	var b domain.TimezoneBelief
	err := db.WithContext(ctx).
		Where("platform = ? AND user_id = ?", string(platform), userID).
		First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBelief writes a belief row for (platform, userID), creating it on
// first sight. The create is attempted first; a unique-index collision from
// a concurrent first write falls through to the update path. Last write wins
// on the explicit fields (tz, confidence, source, confirmed_at) and
// CreatedAt of an existing row is preserved. Rows are never deleted: a
// superseded belief keeps its provenance at whatever confidence the caller
// writes.
func UpsertBelief(ctx context.Context, db *gorm.DB, b *domain.TimezoneBelief) error {
	now := time.Now().UTC()

	row := *b
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = now
	row.UpdatedAt = now
	err := db.WithContext(ctx).Create(&row).Error
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return err
	}

	return db.WithContext(ctx).
		Model(&domain.TimezoneBelief{}).
		Where("platform = ? AND user_id = ?", b.Platform, b.UserID).
		Updates(map[string]any{
			"tz":           b.TZ,
			"confidence":   b.Confidence,
			"source":       b.Source,
			"confirmed_at": b.ConfirmedAt,
			"updated_at":   now,
		}).Error
}
