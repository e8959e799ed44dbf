// Package belief – timezone belief lifecycle
//
// A belief is the system's current best guess at a user's timezone, with a
// confidence that decays as it ages. This package owns every rule about how
// beliefs change:
//
//   - Effective confidence is computed lazily at read time as
//     max(0, stored - decayPerDay * fractionalDaysSinceUpdate). Nothing is
//     rewritten in the background; the stored value only changes when a new
//     observation arrives.
//   - All writes flow through Manager.Apply (or the Relocate/Reset wrappers
//     built on it). Apply validates the zone against the tz database, clamps
//     confidence into [0, ceiling], and refuses inferred downgrades: a new
//     observation only replaces an existing belief when its confidence beats
//     the existing belief's effective confidence, unless the write is forced
//     (verification and relocation are forced by nature).
//   - Verified writes pin confidence to the ceiling and stamp ConfirmedAt.
//   - Relocation forces confidence to zero: announcing a move never earns
//     trust by itself, it only revokes the old zone until the user confirms.
//   - Beliefs are never hard-deleted. Superseding writes keep the row so
//     the last known zone survives for re-verification prompts.
//
// Handlers and the pipeline never touch the repo's belief functions
// directly; that is what keeps the invariants airtight.

package belief

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/repo"
)

var (
	// ErrInvalidZone is returned when a write names a zone the tz database
	// does not know.
	ErrInvalidZone = errors.New("belief: invalid timezone")
	// ErrInvalidSource is returned for writes with an unknown source tag.
	ErrInvalidSource = errors.New("belief: invalid source")
	// ErrStaleWrite is returned when an inferred update loses to the
	// existing belief's effective confidence.
	ErrStaleWrite = errors.New("belief: existing belief is stronger")
)

// Manager applies belief semantics over the persistence layer. Now is
// injectable for tests and defaults to time.Now.
type Manager struct {
	DB   *gorm.DB
	Conf config.ConfidenceConfig
	Now  func() time.Time
}

// NewManager wires a Manager with the wall clock.
func NewManager(db *gorm.DB, conf config.ConfidenceConfig) *Manager {
	return &Manager{DB: db, Conf: conf, Now: time.Now}
}

// Update describes one belief write. Force bypasses the downgrade guard and
// is reserved for verification and relocation flows.
type Update struct {
	TZ         string
	Confidence float64
	Source     domain.BeliefSource
	Verified   bool
	Force      bool
}

// Effective returns the belief's decayed confidence at time now.
func (m *Manager) Effective(b *domain.TimezoneBelief, now time.Time) float64 {
	if b == nil {
		return 0
	}
	days := now.Sub(b.UpdatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	eff := b.Confidence - m.Conf.DecayPerDay*days
	if eff < 0 {
		return 0
	}
	return eff
}

// Current loads the belief for (platform, userID) together with its
// effective confidence. A missing row comes back as (nil, 0, nil): having
// no belief is a normal state, not an error.
func (m *Manager) Current(ctx context.Context, platform domain.Platform, userID string) (*domain.TimezoneBelief, float64, error) {
	b, err := repo.GetBelief(ctx, m.DB, platform, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return b, m.Effective(b, m.Now().UTC()), nil
}

// Apply validates and persists one belief update. See the package comment
// for the rules it enforces.
func (m *Manager) Apply(ctx context.Context, platform domain.Platform, userID string, u Update) (*domain.TimezoneBelief, error) {
	if !u.Source.Valid() || u.Source == domain.SourceNone {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSource, u.Source)
	}
	if _, err := time.LoadLocation(u.TZ); err != nil || u.TZ == "" || u.TZ == "Local" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidZone, u.TZ)
	}

	now := m.Now().UTC()
	conf := u.Confidence
	if u.Verified {
		conf = m.Conf.Ceiling
	}
	if conf < 0 {
		conf = 0
	}
	if conf > m.Conf.Ceiling {
		conf = m.Conf.Ceiling
	}

	if !u.Force {
		existing, err := repo.GetBelief(ctx, m.DB, platform, userID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if existing != nil && conf <= m.Effective(existing, now) {
			return nil, ErrStaleWrite
		}
	}

	b := &domain.TimezoneBelief{
		Platform:   string(platform),
		UserID:     userID,
		TZ:         u.TZ,
		Confidence: conf,
		Source:     u.Source,
	}
	if u.Verified {
		b.ConfirmedAt = &now
	}
	if err := repo.UpsertBelief(ctx, m.DB, b); err != nil {
		return nil, err
	}
	return repo.GetBelief(ctx, m.DB, platform, userID)
}

// Verify records a user-confirmed zone: ceiling confidence, web_verified
// source, ConfirmedAt stamped. Always wins over whatever was stored.
func (m *Manager) Verify(ctx context.Context, platform domain.Platform, userID, tz string) (*domain.TimezoneBelief, error) {
	return m.Apply(ctx, platform, userID, Update{
		TZ:       tz,
		Source:   domain.SourceWebVerified,
		Verified: true,
		Force:    true,
	})
}

// CityPick records a zone chosen from a city prompt.
func (m *Manager) CityPick(ctx context.Context, platform domain.Platform, userID, tz string) (*domain.TimezoneBelief, error) {
	return m.Apply(ctx, platform, userID, Update{
		TZ:         tz,
		Confidence: m.Conf.CityPick,
		Source:     domain.SourceCityPick,
		Force:      true,
	})
}

// Relocate resets the belief after a relocation or travel announcement.
// Whatever the destination, effective confidence drops to zero so the next
// time mention triggers re-verification instead of a conversion. A known
// destination records the new zone as the unconfirmed best guess; an
// unknown one (tz == "") keeps the previous zone for the re-verify prompt.
func (m *Manager) Relocate(ctx context.Context, platform domain.Platform, userID, tz string) (*domain.TimezoneBelief, error) {
	if tz == "" {
		return m.Reset(ctx, platform, userID)
	}
	return m.Apply(ctx, platform, userID, Update{
		TZ:     tz,
		Source: domain.SourceMessageInferred,
		Force:  true,
	})
}

// Reset zeroes the stored confidence while preserving zone and source, so
// the belief's provenance survives for the "still in X?" prompt. A user
// with no row is a no-op.
func (m *Manager) Reset(ctx context.Context, platform domain.Platform, userID string) (*domain.TimezoneBelief, error) {
	b, err := repo.GetBelief(ctx, m.DB, platform, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Confidence = 0
	if err := repo.UpsertBelief(ctx, m.DB, b); err != nil {
		return nil, err
	}
	return repo.GetBelief(ctx, m.DB, platform, userID)
}
