package belief

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("belief_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.TimezoneBelief{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConf() config.ConfidenceConfig {
	return config.ConfidenceConfig{
		Ceiling:     1.0,
		Threshold:   0.7,
		CityPick:    0.85,
		ChatDefault: 0.5,
		DecayPerDay: 0.01,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(newTestDB(t), testConf())
	m.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func TestEffectiveDecay(t *testing.T) {
	m := newTestManager(t)
	now := m.Now()

	b := &domain.TimezoneBelief{Confidence: 0.85, UpdatedAt: now.Add(-36 * time.Hour)}
	got := m.Effective(b, now)
	want := 0.85 - 0.01*1.5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Effective = %v, want %v", got, want)
	}

	// Decay floors at zero, never goes negative.
	old := &domain.TimezoneBelief{Confidence: 0.05, UpdatedAt: now.Add(-100 * 24 * time.Hour)}
	if got := m.Effective(old, now); got != 0 {
		t.Errorf("Effective of ancient belief = %v, want 0", got)
	}

	if got := m.Effective(nil, now); got != 0 {
		t.Errorf("Effective(nil) = %v, want 0", got)
	}
}

func TestCurrentMissingIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	b, eff, err := m.Current(context.Background(), domain.PlatformTelegram, "nobody")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b != nil || eff != 0 {
		t.Fatalf("Current = (%+v, %v), want (nil, 0)", b, eff)
	}
}

func TestApplyValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{TZ: "Mars/Olympus", Confidence: 0.9, Source: domain.SourceMessageInferred}); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("bad zone err = %v, want ErrInvalidZone", err)
	}
	if _, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{TZ: "", Confidence: 0.9, Source: domain.SourceMessageInferred}); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("empty zone err = %v, want ErrInvalidZone", err)
	}
	if _, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{TZ: "Europe/Berlin", Confidence: 0.9, Source: "vibes"}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("bad source err = %v, want ErrInvalidSource", err)
	}
	if _, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{TZ: "Europe/Berlin", Confidence: 0.9, Source: domain.SourceNone}); !errors.Is(err, ErrInvalidSource) {
		t.Errorf("source none err = %v, want ErrInvalidSource", err)
	}
}

func TestApplyClampsConfidence(t *testing.T) {
	m := newTestManager(t)
	b, err := m.Apply(context.Background(), domain.PlatformTelegram, "u1", Update{
		TZ: "Europe/Berlin", Confidence: 3.5, Source: domain.SourceMessageInferred,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.Confidence != 1.0 {
		t.Errorf("confidence = %v, want clamped to ceiling 1.0", b.Confidence)
	}
}

func TestApplyRefusesInferredDowngrade(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Verify(ctx, domain.PlatformTelegram, "u1", "America/New_York"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	_, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{
		TZ: "Europe/Berlin", Confidence: 0.6, Source: domain.SourceMessageInferred,
	})
	if !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("downgrade err = %v, want ErrStaleWrite", err)
	}

	b, _, err := m.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b.TZ != "America/New_York" || b.Source != domain.SourceWebVerified {
		t.Fatalf("belief overwritten by weaker observation: %+v", b)
	}
}

func TestApplyStrongerObservationWins(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{
		TZ: "Europe/Berlin", Confidence: 0.5, Source: domain.SourceMessageInferred,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	b, err := m.Apply(ctx, domain.PlatformTelegram, "u1", Update{
		TZ: "Asia/Tokyo", Confidence: 0.9, Source: domain.SourceMessageInferred,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if b.TZ != "Asia/Tokyo" || b.Confidence != 0.9 {
		t.Fatalf("unexpected belief: %+v", b)
	}
}

func TestVerifyPinsCeilingAndConfirmedAt(t *testing.T) {
	m := newTestManager(t)
	b, err := m.Verify(context.Background(), domain.PlatformDiscord, "u2", "Europe/London")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if b.Confidence != 1.0 {
		t.Errorf("confidence = %v, want ceiling", b.Confidence)
	}
	if b.ConfirmedAt == nil {
		t.Error("ConfirmedAt not stamped")
	}
	if b.Source != domain.SourceWebVerified {
		t.Errorf("source = %q, want web_verified", b.Source)
	}
}

func TestRelocateKnownDestinationZeroesConfidence(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Verify(ctx, domain.PlatformTelegram, "u1", "America/New_York"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	b, err := m.Relocate(ctx, domain.PlatformTelegram, "u1", "Europe/Berlin")
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if b.TZ != "Europe/Berlin" || b.Source != domain.SourceMessageInferred {
		t.Fatalf("unexpected belief after relocation: %+v", b)
	}
	if b.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 until the move is confirmed", b.Confidence)
	}
	if b.ConfirmedAt != nil {
		t.Error("relocation kept a stale confirmation stamp")
	}
}

func TestRelocateUnknownDestinationKeepsRowAtZero(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Verify(ctx, domain.PlatformTelegram, "u1", "America/New_York"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if _, err := m.Relocate(ctx, domain.PlatformTelegram, "u1", ""); err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	b, eff, err := m.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b == nil {
		t.Fatal("belief row vanished; relocation must distrust, not delete")
	}
	if b.TZ != "America/New_York" {
		t.Errorf("tz = %q, want the prior zone preserved for re-verification", b.TZ)
	}
	if b.Confidence != 0 || eff != 0 {
		t.Errorf("confidence = %v (effective %v), want 0", b.Confidence, eff)
	}
}

func TestResetMissingUserIsNoop(t *testing.T) {
	m := newTestManager(t)
	b, err := m.Reset(context.Background(), domain.PlatformTelegram, "ghost")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if b != nil {
		t.Fatalf("expected no belief for an unknown user, got %+v", b)
	}
}
