// Package pipeline – event orchestration
//
// Processor.Process is the single entry point for inbound chat events. The
// stages run in a fixed order:
//
//  1. Dedupe gate. Inserting the processed-event record IS the check; a
//     duplicate delivery is skipped before any detector runs.
//  2. City-pick shortcut. A bare city name from a user without a confident
//     belief is treated as an answer to an earlier verification prompt.
//  3. Detection sweep (help > relocation > time), one action per event.
//  4. Throttle. A chat that was answered inside the throttle window gets
//     nothing, whatever the action was.
//  5. Action handling. Time mentions run the classifier gate, escalate
//     ambiguity to the fallback resolver (an unreachable model degrades to
//     the gate's own leaning), resolve the source zone, and convert into
//     the chat's active zones. Relocations zero the belief and ask for
//     confirmation. Unresolvable users get a verification prompt instead
//     of a guess.
//
// Belief writes on the reply path are best effort: a failed write is logged
// and the reply still goes out. Every outcome is a tagged Result; errors
// are reserved for infrastructure failures (database down, invalid event).

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/belief"
	"github.com/teamops/tzbot/internal/classifier"
	"github.com/teamops/tzbot/internal/config"
	"github.com/teamops/tzbot/internal/convert"
	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/fallback"
	"github.com/teamops/tzbot/internal/relocation"
	"github.com/teamops/tzbot/internal/repo"
	"github.com/teamops/tzbot/internal/resolve"
	"github.com/teamops/tzbot/internal/timeparse"
	"github.com/teamops/tzbot/internal/verify"
)

// ErrInvalidEvent is returned for events missing identity fields.
var ErrInvalidEvent = errors.New("pipeline: invalid event")

// ResultKind tags the terminal outcome of processing one event.
type ResultKind int

const (
	// Skipped means the event produced no outbound message.
	Skipped ResultKind = iota
	// Replied means a conversion, confirmation or help answer went out.
	Replied
	// Prompted means the user was asked to verify their timezone.
	Prompted
)

// Skip reasons, recorded on Skipped results for logs and metrics.
const (
	SkipDuplicate    = "duplicate"
	SkipThrottled    = "throttled"
	SkipNoSignal     = "no_signal"
	SkipNotTime      = "not_a_time"
	SkipInconclusive = "inconclusive"
)

// Result is the terminal outcome of one event.
type Result struct {
	Kind     ResultKind
	Reason   string // populated on Skipped
	Messages []domain.OutboundMessage
}

// Processor wires every pipeline stage together. Build with New; Now is
// injectable for tests.
type Processor struct {
	DB          *gorm.DB
	Cfg         config.Config
	Extractor   *timeparse.Extractor
	Gate        *classifier.Gate
	Relocations *relocation.Detector
	Beliefs     *belief.Manager
	Resolver    *resolve.Resolver
	Fallback    fallback.Resolver
	Tokens      *verify.Tokens
	Now         func() time.Time
}

// New assembles a Processor from validated config. fb may be nil, in which
// case ambiguous mentions fall back to the classifier's own leaning.
func New(db *gorm.DB, cfg config.Config, fb fallback.Resolver, tokens *verify.Tokens) *Processor {
	if fb == nil {
		fb = fallback.NopResolver{}
	}
	beliefs := belief.NewManager(db, cfg.Confidence)
	return &Processor{
		DB:        db,
		Cfg:       cfg,
		Extractor: timeparse.NewExtractor(timeparse.Tiers(cfg.Tiers)),
		Gate:      classifier.New(cfg.Classifier.Low, cfg.Classifier.High),
		Relocations: relocation.NewDetector(
			cfg.RelocationConfidence,
		),
		Beliefs:  beliefs,
		Resolver: resolve.NewResolver(db, beliefs, fb, cfg.Confidence.Threshold, cfg.Confidence.ChatDefault),
		Fallback: fb,
		Tokens:   tokens,
		Now:      time.Now,
	}
}

// Process runs one event through the pipeline. See the package comment for
// stage order.
func (p *Processor) Process(ctx context.Context, ev domain.NormalizedEvent) (Result, error) {
	if !ev.Platform.Valid() || ev.EventID == "" || ev.ChatID == "" || ev.UserID == "" {
		return Result{}, fmt.Errorf("%w: platform=%q event=%q chat=%q user=%q",
			ErrInvalidEvent, ev.Platform, ev.EventID, ev.ChatID, ev.UserID)
	}

	first, err := repo.DedupeCheckAndMark(ctx, p.DB, ev.Platform, ev.EventID, ev.ChatID, p.Cfg.DedupeTTL)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: dedupe gate: %w", err)
	}
	if !first {
		return Result{Kind: Skipped, Reason: SkipDuplicate}, nil
	}

	if tz, ok := p.cityPick(ctx, ev); ok {
		if p.throttled(ctx, ev) {
			return Result{Kind: Skipped, Reason: SkipThrottled}, nil
		}
		return p.confirmCityPick(ctx, ev, tz), nil
	}

	det := p.sweep(ev)
	if det.Action == ActionNone {
		return Result{Kind: Skipped, Reason: SkipNoSignal}, nil
	}
	if p.throttled(ctx, ev) {
		return Result{Kind: Skipped, Reason: SkipThrottled}, nil
	}

	switch det.Action {
	case ActionHelp:
		return p.reply(ctx, ev, Replied, helpText), nil
	case ActionRelocation:
		return p.handleRelocation(ctx, ev, det.Relocation), nil
	default:
		return p.handleTime(ctx, ev, det.Times)
	}
}

// cityPick recognizes a bare city name as the answer to a verification
// prompt, but only for users whose belief is missing or below threshold; a
// confidently known user saying "Paris" is just talking about Paris.
func (p *Processor) cityPick(ctx context.Context, ev domain.NormalizedEvent) (string, bool) {
	text := strings.TrimSpace(ev.Text)
	if text == "" || len(strings.Fields(text)) > 3 {
		return "", false
	}

	tz := ""
	for _, c := range p.Cfg.TeamCities {
		if strings.EqualFold(c.Name, strings.Trim(text, ".,!?")) {
			tz = c.TZ
			break
		}
	}
	if tz == "" {
		var ok bool
		if tz, ok = timeparse.FindCity(text); !ok {
			return "", false
		}
	}

	b, eff, err := p.Beliefs.Current(ctx, ev.Platform, ev.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", ev.UserID).Msg("belief read failed during city pick")
		return "", false
	}
	if b != nil && eff >= p.Cfg.Confidence.Threshold {
		return "", false
	}
	return tz, true
}

func (p *Processor) confirmCityPick(ctx context.Context, ev domain.NormalizedEvent, tz string) Result {
	if _, err := p.Beliefs.CityPick(ctx, ev.Platform, ev.UserID, tz); err != nil {
		log.Error().Err(err).Str("tz", tz).Msg("city pick belief write failed")
		return Result{Kind: Skipped, Reason: SkipInconclusive}
	}
	p.rememberChatZone(ctx, ev, tz)
	text := fmt.Sprintf("Got it, I'll read your times as %s from now on.", convert.ZoneLabel(tz))
	return p.reply(ctx, ev, Replied, text)
}

// handleRelocation revokes whatever the system believed about the author.
// Announcing a move never earns trust by itself: the destination, even a
// recognized one, stays an unconfirmed guess at zero confidence until the
// user verifies it.
func (p *Processor) handleRelocation(ctx context.Context, ev domain.NormalizedEvent, m *relocation.Mention) Result {
	if _, err := p.Beliefs.Relocate(ctx, ev.Platform, ev.UserID, m.TZ); err != nil {
		log.Error().Err(err).Str("place", m.Place).Msg("relocation belief reset failed")
		return Result{Kind: Skipped, Reason: SkipInconclusive}
	}
	log.Info().Str("place", m.Place).Float64("confidence", m.Confidence).
		Str("user_id", ev.UserID).Msg("relocation detected, belief reset")
	if m.TZ == "" {
		text := fmt.Sprintf("Noted that you moved to %s, but I don't know its timezone. %s", m.Place, p.verifyInvite(ev))
		return p.reply(ctx, ev, Prompted, text)
	}
	text := fmt.Sprintf("Safe travels! Before I convert your times as %s, please confirm. %s",
		convert.ZoneLabel(m.TZ), p.verifyInvite(ev))
	return p.reply(ctx, ev, Prompted, text)
}

func (p *Processor) handleTime(ctx context.Context, ev domain.NormalizedEvent, times []domain.ParsedTime) (Result, error) {
	best := times[0]

	// Low-tier candidates go through the intent gate; ambiguity escalates
	// to the fallback resolver and silence is the failure mode.
	if best.Confidence < p.Cfg.Confidence.Threshold {
		switch p.Gate.Judge(ev.Text) {
		case classifier.Reject:
			return Result{Kind: Skipped, Reason: SkipNotTime}, nil
		case classifier.Uncertain:
			out := p.Fallback.Resolve(ctx, ev.Text)
			switch {
			case out.Status == fallback.Resolved && !out.IsTime:
				return Result{Kind: Skipped, Reason: SkipNotTime}, nil
			case out.Status == fallback.Resolved:
				if best.TZHint == "" && out.TZ != "" {
					best.TZHint = out.TZ
				}
			default:
				// Model unreachable or undecided: the gate's own leaning is
				// the best remaining signal. Below the midpoint of the
				// uncertainty band the message reads as not-a-time.
				if p.Gate.Score(ev.Text) < (p.Cfg.Classifier.Low+p.Cfg.Classifier.High)/2 {
					return Result{Kind: Skipped, Reason: SkipInconclusive}, nil
				}
			}
		}
	}

	res, ok := p.Resolver.Resolve(ctx, ev, best.TZHint)
	if !ok {
		// A stale belief gets a re-confirmation nudge; a blank slate gets
		// the onboarding prompt.
		text := "I spotted a time but I don't know your timezone yet. " + p.verifyInvite(ev)
		if b, _, berr := p.Beliefs.Current(ctx, ev.Platform, ev.UserID); berr == nil && b != nil && b.TZ != "" {
			text = fmt.Sprintf("Are you still in %s? It's been a while since you confirmed. %s",
				convert.ZoneLabel(b.TZ), p.verifyInvite(ev))
		}
		return p.reply(ctx, ev, Prompted, text), nil
	}

	// An explicit hint is also an observation about the author; record it
	// without ever blocking the reply.
	if best.TZHint != "" && res.Source == domain.SourceMessageInferred {
		if _, err := p.Beliefs.Apply(ctx, ev.Platform, ev.UserID, belief.Update{
			TZ:         best.TZHint,
			Confidence: best.Confidence,
			Source:     domain.SourceMessageInferred,
		}); err != nil && !errors.Is(err, belief.ErrStaleWrite) {
			log.Warn().Err(err).Str("tz", best.TZHint).Msg("hint belief write failed")
		}
		p.rememberChatZone(ctx, ev, best.TZHint)
	}

	targets, err := repo.ListActiveTimezones(ctx, p.DB, ev.Platform, ev.ChatID)
	if err != nil {
		log.Error().Err(err).Str("chat_id", ev.ChatID).Msg("active timezone read failed, using team defaults")
		targets = nil
	}
	// The active set always contains the speaker's own zone; when it holds
	// nothing else there is nobody to translate for, so fall back to the
	// team-wide defaults.
	others := 0
	for _, tz := range targets {
		if tz != res.TZ {
			others++
		}
	}
	if others == 0 {
		targets = p.Cfg.TeamTimezones
	}

	src, err := convert.At(best, res.TZ, p.Now().UTC())
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: anchor mention: %w", err)
	}
	converted, err := convert.Convert(best, res.TZ, p.Now().UTC(), targets)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: convert mention: %w", err)
	}
	if len(converted) == 0 {
		// Nothing to translate into; a one-zone chat needs no echo.
		return Result{Kind: Skipped, Reason: SkipNoSignal}, nil
	}

	return p.reply(ctx, ev, Replied, convert.BuildReply(best.OriginalText, src, converted)), nil
}

// reply finalizes an outcome that sends a message: it stamps the chat's
// throttle timestamp and wraps the text for the adapter.
func (p *Processor) reply(ctx context.Context, ev domain.NormalizedEvent, kind ResultKind, text string) Result {
	if err := repo.TouchLastResponse(ctx, p.DB, ev.Platform, ev.ChatID, p.Now().UTC(), p.Cfg.DefaultTZ); err != nil {
		log.Warn().Err(err).Str("chat_id", ev.ChatID).Msg("throttle timestamp write failed")
	}
	return Result{
		Kind: kind,
		Messages: []domain.OutboundMessage{{
			Platform:  ev.Platform,
			ChatID:    ev.ChatID,
			Text:      text,
			ReplyToID: ev.EventID,
			ParseMode: domain.ParsePlain,
		}},
	}
}

// throttled reports whether the chat was answered within the throttle
// window. Read failures fail open: better an extra reply than silence.
func (p *Processor) throttled(ctx context.Context, ev domain.NormalizedEvent) bool {
	cc, err := repo.GetChatConfig(ctx, p.DB, ev.Platform, ev.ChatID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			log.Warn().Err(err).Str("chat_id", ev.ChatID).Msg("throttle read failed")
		}
		return false
	}
	if cc.LastResponseAt == nil {
		return false
	}
	return p.Now().UTC().Sub(*cc.LastResponseAt) < p.Cfg.ThrottleWindow
}

// rememberChatZone adds tz to the chat's active conversion set. Idempotent
// at the database level and best effort here.
func (p *Processor) rememberChatZone(ctx context.Context, ev domain.NormalizedEvent, tz string) {
	if err := repo.AddActiveTimezone(ctx, p.DB, ev.Platform, ev.ChatID, tz); err != nil {
		log.Warn().Err(err).Str("tz", tz).Msg("active timezone add failed")
	}
}

// verifyInvite renders the verification link for ev's author, or a city
// fallback when token signing is unavailable.
func (p *Processor) verifyInvite(ev domain.NormalizedEvent) string {
	if p.Tokens != nil && p.Cfg.BaseURL != "" {
		token, err := p.Tokens.Issue(ev.Platform, ev.UserID, ev.ChatID)
		if err == nil {
			return fmt.Sprintf("Confirm it here: %s/verify?token=%s or just reply with your city.", p.Cfg.BaseURL, token)
		}
		log.Warn().Err(err).Msg("verify token issue failed")
	}
	return "Reply with your city (for example \"Berlin\") and I'll remember it."
}

const helpText = `I convert meeting times for this chat.
Mention a time ("15:30", "3pm PST", "в 10 утра") and I'll translate it into everyone's timezone.
Tell me "I moved to Berlin" after relocating, or reply with your city so I know where you are.`
