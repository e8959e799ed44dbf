package resolve

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teamops/tzbot/internal/belief"
	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/fallback"
)

// stubSource records the query it was asked and returns a canned outcome.
type stubSource struct {
	out  fallback.Outcome
	last fallback.SourceQuery
}

func (s *stubSource) Resolve(ctx context.Context, text string) fallback.Outcome {
	return fallback.Outcome{Status: fallback.Inconclusive}
}

func (s *stubSource) ResolveSourceTimezone(ctx context.Context, q fallback.SourceQuery) fallback.Outcome {
	s.last = q
	return s.out
}

func newTestResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("resolve_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(&domain.TimezoneBelief{}, &domain.ChatConfig{}, &domain.ChatTimezone{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	beliefs := belief.NewManager(db, config.ConfidenceConfig{
		Ceiling: 1.0, Threshold: 0.7, CityPick: 0.85, ChatDefault: 0.5, DecayPerDay: 0.01,
	})
	return NewResolver(db, beliefs, nil, 0.7, 0.5), db
}

func testEvent() domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Platform:  domain.PlatformTelegram,
		EventID:   "e1",
		ChatID:    "c1",
		UserID:    "u1",
		Text:      "3pm",
		Timestamp: time.Now().UTC(),
	}
}

func TestResolveExplicitHintWins(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	// Even a verified belief loses to a hint in the message itself.
	if _, err := r.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "Asia/Tokyo"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	res, ok := r.Resolve(ctx, testEvent(), "America/Los_Angeles")
	if !ok {
		t.Fatal("Resolve failed with explicit hint")
	}
	if res.TZ != "America/Los_Angeles" || res.Source != domain.SourceMessageInferred {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveUnloadableHintFallsThrough(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "Asia/Tokyo"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, ok := r.Resolve(ctx, testEvent(), "Not/AZone")
	if !ok || res.TZ != "Asia/Tokyo" {
		t.Fatalf("bad hint did not fall through to belief: %+v ok=%v", res, ok)
	}
}

func TestResolveBeliefAboveThreshold(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Beliefs.CityPick(ctx, domain.PlatformTelegram, "u1", "Europe/Berlin"); err != nil {
		t.Fatalf("CityPick: %v", err)
	}
	res, ok := r.Resolve(ctx, testEvent(), "")
	if !ok {
		t.Fatal("Resolve failed with a fresh city-pick belief")
	}
	if res.TZ != "Europe/Berlin" || res.Source != domain.SourceCityPick {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if res.Confidence < 0.7 {
		t.Errorf("confidence %v below threshold yet resolved", res.Confidence)
	}
}

func TestResolveWeakBeliefFallsToChatDefault(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	if _, err := r.Beliefs.Apply(ctx, domain.PlatformTelegram, "u1", belief.Update{
		TZ: "Europe/Berlin", Confidence: 0.3, Source: domain.SourceMessageInferred,
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := db.Create(&domain.ChatConfig{
		ID: "cc1", Platform: "telegram", ChatID: "c1", DefaultTZ: "Europe/London",
	}).Error; err != nil {
		t.Fatalf("seed chat config: %v", err)
	}

	res, ok := r.Resolve(ctx, testEvent(), "")
	if !ok {
		t.Fatal("Resolve failed with chat default available")
	}
	if res.TZ != "Europe/London" || res.Source != domain.SourceChatDefault || res.Confidence != 0.5 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
}

func TestResolveExhaustedNeedsVerification(t *testing.T) {
	r, _ := newTestResolver(t)
	res, ok := r.Resolve(context.Background(), testEvent(), "")
	if ok {
		t.Fatalf("Resolve = %+v, want exhaustion", res)
	}
	if res.Source != domain.SourceNone {
		t.Errorf("source = %q, want none", res.Source)
	}
}

func TestResolveModelRungCarriesContext(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	// A weak belief and an active chat zone both travel with the query.
	if _, err := r.Beliefs.Apply(ctx, domain.PlatformTelegram, "u1", belief.Update{
		TZ: "Europe/Berlin", Confidence: 0.3, Source: domain.SourceMessageInferred,
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := db.Create(&domain.ChatTimezone{
		ID: "ct1", Platform: "telegram", ChatID: "c1", TZ: "Asia/Tokyo",
	}).Error; err != nil {
		t.Fatalf("seed chat timezone: %v", err)
	}

	stub := &stubSource{out: fallback.Outcome{Status: fallback.Resolved, TZ: "Europe/Madrid", Confidence: 0.8}}
	r.Fallback = stub

	res, ok := r.Resolve(ctx, testEvent(), "")
	if !ok {
		t.Fatal("Resolve failed with a confident model answer")
	}
	if res.TZ != "Europe/Madrid" || res.Source != domain.SourceMessageInferred || res.Confidence != 0.8 {
		t.Fatalf("unexpected resolution: %+v", res)
	}
	if stub.last.Text != "3pm" {
		t.Errorf("query text = %q, want the message text", stub.last.Text)
	}
	if stub.last.UserTZ != "Europe/Berlin" {
		t.Errorf("query user tz = %q, want the stale belief's zone", stub.last.UserTZ)
	}
	if len(stub.last.ChatZones) != 1 || stub.last.ChatZones[0] != "Asia/Tokyo" {
		t.Errorf("query chat zones = %v, want the chat's active set", stub.last.ChatZones)
	}
}

func TestResolveModelRungRejectsWeakOrBogusAnswers(t *testing.T) {
	cases := []struct {
		name string
		out  fallback.Outcome
	}{
		{"below threshold", fallback.Outcome{Status: fallback.Resolved, TZ: "Europe/Madrid", Confidence: 0.4}},
		{"unloadable zone", fallback.Outcome{Status: fallback.Resolved, TZ: "Mars/Olympus", Confidence: 0.9}},
		{"inconclusive", fallback.Outcome{Status: fallback.Inconclusive}},
		{"timed out", fallback.Outcome{Status: fallback.TimedOut}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := newTestResolver(t)
			r.Fallback = &stubSource{out: tc.out}
			res, ok := r.Resolve(context.Background(), testEvent(), "")
			if ok {
				t.Fatalf("Resolve = %+v, want exhaustion", res)
			}
		})
	}
}
