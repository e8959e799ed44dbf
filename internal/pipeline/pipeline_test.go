package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/fallback"
	"github.com/teamops/tzbot/internal/repo"
	"github.com/teamops/tzbot/internal/verify"
)

// stubResolver returns fixed outcomes and records whether it was called.
type stubResolver struct {
	out    fallback.Outcome
	srcOut fallback.Outcome
	called bool
}

func (s *stubResolver) Resolve(context.Context, string) fallback.Outcome {
	s.called = true
	return s.out
}

func (s *stubResolver) ResolveSourceTimezone(context.Context, fallback.SourceQuery) fallback.Outcome {
	return s.srcOut
}

func testConfig() config.Config {
	return config.Config{
		BaseURL: "https://tz.example.com",
		Confidence: config.ConfidenceConfig{
			Ceiling: 1.0, Threshold: 0.7, CityPick: 0.85, ChatDefault: 0.5, DecayPerDay: 0.01,
		},
		Classifier: config.ClassifierConfig{Low: 0.4, High: 0.6},
		Tiers: config.TierConfig{
			HHMMAmPm: 0.95, EuropeanHHMM: 0.90, Military: 0.85,
			PlainHHMM: 0.80, HAmPm: 0.85, Range: 0.80, AtH: 0.50,
		},
		RelocationConfidence: 0.9,
		TeamTimezones:        []string{"America/New_York", "Europe/London", "Asia/Tokyo"},
		TeamCities:           []config.City{{Name: "Berlin", TZ: "Europe/Berlin"}},
		DedupeTTL:            168 * time.Hour,
	}
}

func newTestProcessor(t *testing.T, cfg config.Config, fb fallback.Resolver) *Processor {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("pipeline_test_%d.db", time.Now().UnixNano()))
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
	if err := db.AutoMigrate(
		&domain.TimezoneBelief{}, &domain.ChatConfig{},
		&domain.ChatTimezone{}, &domain.DedupeEvent{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	p := New(db, cfg, fb, verify.NewTokens("test-secret", time.Hour))
	// Fixed winter date keeps DST out of the expectations.
	p.Now = func() time.Time { return time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC) }
	return p
}

func event(id, text string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Platform:  domain.PlatformTelegram,
		EventID:   id,
		ChatID:    "c1",
		UserID:    "u1",
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
}

func TestProcessRejectsInvalidEvent(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	_, err := p.Process(context.Background(), domain.NormalizedEvent{Platform: "carrier-pigeon"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestProcessDuplicateSkipped(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()
	ev := event("e1", "no times here")

	if _, err := p.Process(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	res, err := p.Process(ctx, ev)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if res.Kind != Skipped || res.Reason != SkipDuplicate {
		t.Fatalf("second delivery = %+v, want duplicate skip", res)
	}
}

func TestProcessNoSignal(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	res, err := p.Process(context.Background(), event("e1", "shipping the release today"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Skipped || res.Reason != SkipNoSignal {
		t.Fatalf("res = %+v, want no-signal skip", res)
	}
}

func TestProcessConvertsWithExplicitHint(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	res, err := p.Process(context.Background(), event("e1", "kickoff at 3pm PST"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Replied || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want one reply", res)
	}
	msg := res.Messages[0]
	if msg.ReplyToID != "e1" || msg.ChatID != "c1" || msg.Platform != domain.PlatformTelegram {
		t.Fatalf("bad envelope: %+v", msg)
	}
	for _, want := range []string{
		"15:00 Los Angeles",
		"18:00 New York",
		"23:00 London",
		"08:00 Tokyo",
		"next day",
	} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("reply missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestProcessHintRecordsBelief(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, event("e1", "kickoff at 3pm PST")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	b, _, err := p.Beliefs.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b == nil || b.TZ != "America/Los_Angeles" || b.Source != domain.SourceMessageInferred {
		t.Fatalf("hint not recorded as belief: %+v", b)
	}
}

func TestProcessHelpWinsOverTime(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	res, err := p.Process(context.Background(), event("e1", "@bot what time is the meeting at 3pm?"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Replied || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want help reply", res)
	}
	if res.Messages[0].Text != helpText {
		t.Fatalf("got %q, want the help text, not a conversion", res.Messages[0].Text)
	}
}

func TestProcessRelocationResetsBelief(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "America/New_York"); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	res, err := p.Process(ctx, event("e1", "hey all, I moved to Berlin last week"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Prompted || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want confirmation prompt", res)
	}
	if !strings.Contains(res.Messages[0].Text, "/verify?token=") {
		t.Errorf("prompt missing verification link: %q", res.Messages[0].Text)
	}
	b, eff, err := p.Beliefs.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b.TZ != "Europe/Berlin" || b.Source != domain.SourceMessageInferred || b.ConfirmedAt != nil {
		t.Fatalf("belief after relocation: %+v", b)
	}
	if b.Confidence != 0 || eff != 0 {
		t.Fatalf("confidence = %v (effective %v), want 0 until confirmed", b.Confidence, eff)
	}

	// The next time mention must re-verify, not convert on the hearsay zone.
	next, err := p.Process(ctx, event("e2", "standup at 9:30 then"))
	if err != nil {
		t.Fatalf("Process follow-up: %v", err)
	}
	if next.Kind != Prompted || len(next.Messages) != 1 {
		t.Fatalf("follow-up = %+v, want re-verification prompt", next)
	}
	if !strings.Contains(next.Messages[0].Text, "Are you still in Berlin") {
		t.Errorf("follow-up should name the unconfirmed zone: %q", next.Messages[0].Text)
	}
}

func TestProcessRelocationUnknownPlacePrompts(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "America/New_York"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, err := p.Process(ctx, event("e1", "I moved to Springfield"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Prompted {
		t.Fatalf("res = %+v, want prompt", res)
	}
	b, eff, err := p.Beliefs.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b == nil {
		t.Fatal("belief row deleted; relocation must only zero the confidence")
	}
	if b.TZ != "America/New_York" || b.Confidence != 0 || eff != 0 {
		t.Fatalf("belief after relocation: %+v (effective %v)", b, eff)
	}
}

func TestProcessUnknownUserPrompted(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	res, err := p.Process(context.Background(), event("e1", "standup at 9:30 then"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Prompted || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want verification prompt", res)
	}
	if !strings.Contains(res.Messages[0].Text, "/verify?token=") {
		t.Errorf("prompt missing verification link: %q", res.Messages[0].Text)
	}
}

func TestProcessStaleBeliefReverifyPrompt(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	// A zone we once knew, decayed well below the resolution threshold.
	if err := repo.UpsertBelief(ctx, p.DB, &domain.TimezoneBelief{
		Platform:   string(domain.PlatformTelegram),
		UserID:     "u1",
		TZ:         "Europe/Berlin",
		Confidence: 0.2,
		Source:     domain.SourceCityPick,
	}); err != nil {
		t.Fatalf("seed belief: %v", err)
	}

	res, err := p.Process(ctx, event("e1", "standup at 9:30 then"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Prompted || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want re-verification prompt", res)
	}
	if !strings.Contains(res.Messages[0].Text, "Are you still in Berlin") {
		t.Errorf("prompt should name the stale zone: %q", res.Messages[0].Text)
	}
	if !strings.Contains(res.Messages[0].Text, "/verify?token=") {
		t.Errorf("prompt missing verification link: %q", res.Messages[0].Text)
	}
}

func TestProcessCityPickAfterPrompt(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, event("e1", "standup at 9:30 then")); err != nil {
		t.Fatalf("prompt round: %v", err)
	}
	res, err := p.Process(ctx, event("e2", "Berlin"))
	if err != nil {
		t.Fatalf("city pick round: %v", err)
	}
	if res.Kind != Replied {
		t.Fatalf("res = %+v, want confirmation", res)
	}
	b, _, err := p.Beliefs.Current(ctx, domain.PlatformTelegram, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if b == nil || b.TZ != "Europe/Berlin" || b.Source != domain.SourceCityPick || b.Confidence != 0.85 {
		t.Fatalf("city pick belief: %+v", b)
	}
}

func TestProcessCityNameFromKnownUserIgnored(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "Asia/Tokyo"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, err := p.Process(ctx, event("e1", "Berlin"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Skipped {
		t.Fatalf("res = %+v, want skip: a known user naming a city is chatter", res)
	}
	b, _, _ := p.Beliefs.Current(ctx, domain.PlatformTelegram, "u1")
	if b.TZ != "Asia/Tokyo" {
		t.Fatalf("belief overwritten by chatter: %+v", b)
	}
}

func TestProcessGateRejectsNonScheduling(t *testing.T) {
	fb := &stubResolver{out: fallback.Outcome{Status: fallback.Resolved, IsTime: true, Confidence: 0.9}}
	p := newTestProcessor(t, testConfig(), fb)

	res, err := p.Process(context.Background(), event("e1", "we lost 4 items at 5"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Skipped || res.Reason != SkipNotTime {
		t.Fatalf("res = %+v, want not-a-time skip", res)
	}
	if fb.called {
		t.Error("fallback consulted despite a clear rejection")
	}
}

func TestProcessUncertainEscalatesToFallback(t *testing.T) {
	fb := &stubResolver{out: fallback.Outcome{Status: fallback.Resolved, IsTime: true, Confidence: 0.9}}
	p := newTestProcessor(t, testConfig(), fb)
	ctx := context.Background()

	if _, err := p.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "America/Los_Angeles"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	res, err := p.Process(ctx, event("e1", "at 5"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !fb.called {
		t.Fatal("fallback not consulted for an uncertain candidate")
	}
	if res.Kind != Replied {
		t.Fatalf("res = %+v, want conversion reply", res)
	}
	if !strings.Contains(res.Messages[0].Text, "05:00 Los Angeles") {
		t.Errorf("reply missing source rendering: %q", res.Messages[0].Text)
	}
}

func TestProcessFallbackNotATimeSkips(t *testing.T) {
	fb := &stubResolver{out: fallback.Outcome{Status: fallback.Resolved, IsTime: false, Confidence: 0.9}}
	p := newTestProcessor(t, testConfig(), fb)

	res, err := p.Process(context.Background(), event("e1", "at 5"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Skipped || res.Reason != SkipNotTime {
		t.Fatalf("res = %+v, want not-a-time skip", res)
	}
}

func TestProcessFallbackUnreachableFollowsGateLeaning(t *testing.T) {
	// With the model unreachable the gate's own score decides: below the
	// band midpoint the candidate is dropped, at or above it the pipeline
	// proceeds as if the candidate were a real time.
	for _, status := range []fallback.Status{fallback.Inconclusive, fallback.TimedOut} {
		fb := &stubResolver{out: fallback.Outcome{Status: status}}
		p := newTestProcessor(t, testConfig(), fb)
		ctx := context.Background()

		if _, err := p.Beliefs.Verify(ctx, domain.PlatformTelegram, "u1", "America/Los_Angeles"); err != nil {
			t.Fatalf("Verify: %v", err)
		}

		res, err := p.Process(ctx, event("e1", "tomorrow we close 5 tickets at 5"))
		if err != nil {
			t.Fatalf("Process(%v): %v", status, err)
		}
		if res.Kind != Skipped || res.Reason != SkipInconclusive {
			t.Fatalf("status %v: res = %+v, want inconclusive skip", status, res)
		}
		if !fb.called {
			t.Fatalf("status %v: fallback never consulted", status)
		}

		res, err = p.Process(ctx, event("e2", "tomorrow at 5"))
		if err != nil {
			t.Fatalf("Process(%v): %v", status, err)
		}
		if res.Kind != Replied {
			t.Fatalf("status %v: res = %+v, want conversion on a positive-leaning candidate", status, res)
		}
		if !strings.Contains(res.Messages[0].Text, "05:00 Los Angeles") {
			t.Errorf("status %v: reply missing source rendering: %q", status, res.Messages[0].Text)
		}
	}
}

func TestProcessThrottleWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleWindow = 2 * time.Second
	p := newTestProcessor(t, cfg, nil)
	ctx := context.Background()

	if res, err := p.Process(ctx, event("e1", "15:30 MSK works")); err != nil || res.Kind != Replied {
		t.Fatalf("first reply = %+v, err %v", res, err)
	}
	res, err := p.Process(ctx, event("e2", "or 16:30 MSK"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Skipped || res.Reason != SkipThrottled {
		t.Fatalf("res = %+v, want throttled skip", res)
	}

	// Outside the window the chat is answerable again.
	p.Now = func() time.Time { return time.Date(2026, 1, 15, 10, 0, 5, 0, time.UTC) }
	if res, err := p.Process(ctx, event("e3", "or 17:30 MSK")); err != nil || res.Kind != Replied {
		t.Fatalf("post-window reply = %+v, err %v", res, err)
	}
}

func TestProcessSeedsChatDefaultTimezone(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTZ = "Europe/London"
	p := newTestProcessor(t, cfg, nil)
	ctx := context.Background()

	// First reply in the chat creates the config row with the team default.
	if res, err := p.Process(ctx, event("e1", "kickoff at 3pm PST")); err != nil || res.Kind != Replied {
		t.Fatalf("first reply = %+v, err %v", res, err)
	}
	cc, err := repo.GetChatConfig(ctx, p.DB, domain.PlatformTelegram, "c1")
	if err != nil {
		t.Fatalf("GetChatConfig: %v", err)
	}
	if cc.DefaultTZ != "Europe/London" {
		t.Fatalf("chat default tz = %q, want the configured seed", cc.DefaultTZ)
	}

	// An unknown author now resolves through the chat default instead of
	// being prompted.
	ev := event("e2", "standup at 9:30 then")
	ev.UserID = "u2"
	res, err := p.Process(ctx, ev)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Kind != Replied || len(res.Messages) != 1 {
		t.Fatalf("res = %+v, want conversion via chat default", res)
	}
	for _, want := range []string{"09:30 London", "01:30 Los Angeles"} {
		if !strings.Contains(res.Messages[0].Text, want) {
			t.Errorf("reply missing %q:\n%s", want, res.Messages[0].Text)
		}
	}
}

func TestProcessRemembersActiveZone(t *testing.T) {
	p := newTestProcessor(t, testConfig(), nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, event("e1", "kickoff at 3pm PST")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	var count int64
	if err := p.DB.Model(&domain.ChatTimezone{}).
		Where("platform = ? AND chat_id = ? AND tz = ?", "telegram", "c1", "America/Los_Angeles").
		Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("active zone rows = %d, want 1", count)
	}
}
