// Package resolve – source timezone resolution
//
// Given a time mention, resolve decides which timezone the author meant it
// in. The priority chain is fixed:
//
//  1. An explicit hint in the message itself ("3pm PST") always wins.
//  2. The author's stored belief, when its effective confidence clears the
//     configured threshold.
//  3. The chat's default timezone, when one is set.
//  4. The model fallback, consulted with the author's stale zone and the
//     chat's active zones; its answer counts only above the threshold.
//  5. Nothing. The caller prompts the author to verify instead of guessing.
//
// Persistence failures while reading the belief or chat config degrade to
// "no belief" / "no default": the chain keeps walking and, at worst, ends
// in a verification prompt. A broken database never produces a wrong
// conversion, only a more cautious reply.

package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/teamops/tzbot/internal/belief"
	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/fallback"
	"github.com/teamops/tzbot/internal/repo"
)

// Resolution names the zone a time mention should be read in and how sure
// the chain is about it.
type Resolution struct {
	TZ         string
	Source     domain.BeliefSource
	Confidence float64
}

// Resolver walks the priority chain. Construct once and share.
type Resolver struct {
	DB          *gorm.DB
	Beliefs     *belief.Manager
	Fallback    fallback.Resolver
	Threshold   float64
	ChatDefault float64
}

// NewResolver wires a Resolver over the belief manager, chat config and the
// model fallback. fb may be nil, which disables the fallback rung.
func NewResolver(db *gorm.DB, beliefs *belief.Manager, fb fallback.Resolver, threshold, chatDefault float64) *Resolver {
	return &Resolver{DB: db, Beliefs: beliefs, Fallback: fb, Threshold: threshold, ChatDefault: chatDefault}
}

// Resolve returns the zone for a mention by ev's author, with hint being
// the timezone named in the message, if any. ok is false when the chain is
// exhausted and the author needs to verify.
func (r *Resolver) Resolve(ctx context.Context, ev domain.NormalizedEvent, hint string) (Resolution, bool) {
	if hint != "" {
		if _, err := time.LoadLocation(hint); err == nil {
			return Resolution{TZ: hint, Source: domain.SourceMessageInferred, Confidence: 1.0}, true
		}
		log.Warn().Str("hint", hint).Msg("unloadable timezone hint ignored")
	}

	b, eff, err := r.Beliefs.Current(ctx, ev.Platform, ev.UserID)
	if err != nil {
		log.Error().Err(err).
			Str("platform", string(ev.Platform)).
			Str("user_id", ev.UserID).
			Msg("belief read failed, continuing without")
	} else if b != nil && b.TZ != "" && eff >= r.Threshold {
		return Resolution{TZ: b.TZ, Source: b.Source, Confidence: eff}, true
	}

	cc, err := repo.GetChatConfig(ctx, r.DB, ev.Platform, ev.ChatID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		log.Error().Err(err).
			Str("platform", string(ev.Platform)).
			Str("chat_id", ev.ChatID).
			Msg("chat config read failed, continuing without")
	} else if cc != nil && cc.DefaultTZ != "" {
		if _, lerr := time.LoadLocation(cc.DefaultTZ); lerr == nil {
			return Resolution{TZ: cc.DefaultTZ, Source: domain.SourceChatDefault, Confidence: r.ChatDefault}, true
		}
		log.Warn().Str("default_tz", cc.DefaultTZ).Msg("chat default timezone is unloadable")
	}

	if r.Fallback != nil {
		q := fallback.SourceQuery{Text: ev.Text}
		if b != nil {
			q.UserTZ = b.TZ
		}
		if zones, zerr := repo.ListActiveTimezones(ctx, r.DB, ev.Platform, ev.ChatID); zerr == nil {
			q.ChatZones = zones
		} else {
			log.Warn().Err(zerr).Str("chat_id", ev.ChatID).Msg("active timezone read failed, asking fallback without")
		}
		out := r.Fallback.ResolveSourceTimezone(ctx, q)
		if out.Status == fallback.Resolved && out.TZ != "" && out.Confidence >= r.Threshold {
			if _, lerr := time.LoadLocation(out.TZ); lerr == nil {
				return Resolution{TZ: out.TZ, Source: domain.SourceMessageInferred, Confidence: out.Confidence}, true
			}
			log.Warn().Str("tz", out.TZ).Msg("fallback named an unloadable zone")
		}
	}

	return Resolution{Source: domain.SourceNone}, false
}
