// Package classifier – scheduling-intent gate
//
// Low-confidence time candidates ("at 5", "в 10") are too ambiguous to act
// on from the pattern alone: "at 5" can be a meeting time or an item count.
// This package scores message text for scheduling intent on a [0,1] scale
// using weighted lexical cues, and buckets the score into a three-way
// verdict. Scores inside the configured uncertainty band are neither
// accepted nor rejected; the caller escalates those to the model fallback.
//
// The scorer is deterministic and has no external dependencies, so a scoring
// failure is impossible by construction; the zero-cue score sits inside the
// uncertainty band, which keeps genuinely ambiguous text on the escalation
// path rather than silently dropped.

package classifier

import (
	"regexp"
	"strings"
)

// Verdict is the three-way outcome of gating a low-tier time candidate.
type Verdict int

const (
	// Reject means the text is about something other than scheduling.
	Reject Verdict = iota
	// Uncertain means the cues cancel out; escalate to the fallback.
	Uncertain
	// Accept means the text reads as a genuine scheduling reference.
	Accept
)

func (v Verdict) String() string {
	switch v {
	case Reject:
		return "reject"
	case Accept:
		return "accept"
	default:
		return "uncertain"
	}
}

// Gate scores text and applies the uncertainty band. Safe for concurrent
// use; construct once at startup.
type Gate struct {
	low  float64
	high float64
}

// New returns a Gate with the given band. Callers are expected to pass
// validated config values with 0 <= low <= high <= 1.
func New(low, high float64) *Gate {
	return &Gate{low: low, high: high}
}

const baseline = 0.5

// Lexical cues. Each regexp hit moves the score once, no matter how many
// times the cue occurs.
var positiveCues = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`(?i)\b(meet(ing)?|call|sync|standup|stand-up|demo|interview|review|retro|1:1|huddle)\b`), 0.15},
	{regexp.MustCompile(`(?i)(созвон|встреч|собрани|планерк|митинг|демо)`), 0.15},
	{regexp.MustCompile(`(?i)\b(schedule[d]?|starts?|begins?|join(ing)?|deadline|due)\b`), 0.12},
	{regexp.MustCompile(`(?i)\b(tomorrow|tonight|today|morning|afternoon|evening|noon|midnight)\b`), 0.10},
	{regexp.MustCompile(`(?i)(завтра|сегодня|вечером|утром|днем|днём|в полдень)`), 0.10},
	{regexp.MustCompile(`(?i)\b(what time|when is|when does|what about)\b`), 0.10},
	{regexp.MustCompile(`(?i)(во сколько|когда)`), 0.10},
	{regexp.MustCompile(`(?i)\b(mon|tues?|wednes|thurs?|fri|satur|sun)day\b`), 0.08},
	{regexp.MustCompile(`(?i)(понедельник|вторник|сред[ау]|четверг|пятниц|суббот|воскресень)`), 0.08},
	{regexp.MustCompile(`(?i)\b(am|pm|o'?clock)\b`), 0.08},
}

var negativeCues = []struct {
	re     *regexp.Regexp
	weight float64
}{
	{regexp.MustCompile(`(?i)\b(yesterday|ago|last (week|month|year|night))\b`), 0.15},
	{regexp.MustCompile(`(?i)(вчера|назад|в прошл)`), 0.15},
	{regexp.MustCompile(`(?i)\b(items?|points?|people|users?|bugs?|tickets?|tasks?|dollars?|bucks|percent)\b`), 0.15},
	{regexp.MustCompile(`(?i)(штук|пункт|человек|баг|тикет|задач|доллар|процент)`), 0.15},
	{regexp.MustCompile(`(?i)\b(version|release|chapter|page|room|floor|gate|seat|line)\s+\d`), 0.15},
	{regexp.MustCompile(`(?i)\b(score[d]?|won|lost|beat|ratio)\b`), 0.12},
	{regexp.MustCompile(`[$€£%]`), 0.10},
	{regexp.MustCompile(`(?i)\b(years? old|kg|km|miles?|lbs?)\b`), 0.10},
}

// Score rates text for scheduling intent. The result starts at 0.5 and each
// matched cue nudges it toward 1 (scheduling) or 0 (not scheduling);
// the final value is clamped to [0,1].
func (g *Gate) Score(text string) float64 {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0
	}
	score := baseline
	for _, c := range positiveCues {
		if c.re.MatchString(s) {
			score += c.weight
		}
	}
	for _, c := range negativeCues {
		if c.re.MatchString(s) {
			score -= c.weight
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Judge buckets Score against the uncertainty band: below the band rejects,
// above it accepts, inside it stays uncertain.
func (g *Gate) Judge(text string) Verdict {
	score := g.Score(text)
	switch {
	case score < g.low:
		return Reject
	case score > g.high:
		return Accept
	default:
		return Uncertain
	}
}
