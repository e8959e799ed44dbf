// Package relocation – relocation and travel phrase detection
//
// Detects messages announcing a change of location ("I moved to Berlin",
// "я переехал в Москву", "flying to Tokyo tonight") and extracts the
// destination. Travel and permanent relocation get the same treatment: in
// either case the user's previous timezone belief no longer describes where
// they are, so the caller resets it.
//
// Place extraction is two-stage: a phrase pattern captures everything after
// the destination preposition, then trailing words are peeled off until the
// remainder resolves to a known zone. Unresolvable destinations still count
// as relocations; the caller prompts for the city instead of guessing.

package relocation

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teamops/tzbot/internal/timeparse"
)

// Mention is a detected relocation. TZ is the resolved IANA zone, or empty
// when the destination did not match a known city; Place always carries the
// cleaned destination text for prompting.
type Mention struct {
	Place      string
	TZ         string
	Confidence float64
}

// Detector matches relocation phrases. Safe for concurrent use.
type Detector struct {
	confidence float64
}

// NewDetector returns a Detector that stamps matches with the given
// confidence.
func NewDetector(confidence float64) *Detector {
	return &Detector{confidence: confidence}
}

// Phrase patterns capture the destination text after the preposition. The
// capture is intentionally greedy; cleanup trims it down afterwards.
var phrasePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi(?:'ve| have)?\s+(?:just\s+)?moved\s+to\s+(.{2,60})`),
	regexp.MustCompile(`(?i)\b(?:i(?:'m| am)\s+)?relocat(?:ed|ing)\s+to\s+(.{2,60})`),
	regexp.MustCompile(`(?i)\bi(?:'m| am)\s+(?:now|currently)\s+(?:in|based in)\s+(.{2,60})`),
	regexp.MustCompile(`(?i)\bi(?:'m| am)\s+based\s+in\s+(.{2,60})`),
	regexp.MustCompile(`(?i)\b(?:flying|flew|travell?ing|landed|heading|moving)\s+(?:to|in)\s+(.{2,60})`),
	regexp.MustCompile(`(?i)\bnow\s+in\s+(.{2,60})`),
	regexp.MustCompile(`(?i)(?:я\s+)?переехал[а]?\s+во?\s+(.{2,60})`),
	regexp.MustCompile(`(?i)(?:я\s+)?переезжаю\s+во?\s+(.{2,60})`),
	regexp.MustCompile(`(?i)я\s+(?:теперь|сейчас|уже)\s+во?\s+(.{2,60})`),
	regexp.MustCompile(`(?i)(?:при|у)летел[а]?\s+во?\s+(.{2,60})`),
	regexp.MustCompile(`(?i)лечу\s+во?\s+(.{2,60})`),
}

// Trailing words that are part of the sentence, not the place name.
var trailingNoise = map[string]struct{}{
	"now": {}, "today": {}, "tomorrow": {}, "tonight": {}, "already": {},
	"soon": {}, "permanently": {}, "temporarily": {}, "btw": {}, "finally": {},
	"next": {}, "last": {}, "week": {}, "month": {}, "yesterday": {}, "again": {},
	"сейчас": {}, "теперь": {}, "уже": {}, "навсегда": {}, "сегодня": {},
	"завтра": {}, "вчера": {}, "снова": {}, "опять": {}, "кстати": {},
}

// Detect reports whether text announces a relocation and, if so, returns
// the destination. The first matching phrase pattern wins.
func (d *Detector) Detect(text string) (*Mention, bool) {
	for _, re := range phrasePatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		place := cleanupPlace(m[1])
		if place == "" {
			continue
		}
		mention := &Mention{Place: place, Confidence: d.confidence}
		if tz, ok := resolvePlace(place); ok {
			mention.TZ = tz
		}
		return mention, true
	}
	return nil, false
}

// cleanupPlace cuts the capture at the first clause break and strips
// trailing noise words, leaving at most three words of place name.
func cleanupPlace(raw string) string {
	s := raw
	if i := strings.IndexAny(s, ".,!?;:\n("); i >= 0 {
		s = s[:i]
	}
	words := strings.Fields(s)
	for len(words) > 0 {
		last := strings.ToLower(strings.Trim(words[len(words)-1], `"'`))
		if _, noisy := trailingNoise[last]; !noisy {
			break
		}
		words = words[:len(words)-1]
	}
	if len(words) > 3 {
		words = words[:3]
	}
	place := strings.Trim(strings.Join(words, " "), `"' `)
	return placeCaser.String(place)
}

// placeCaser normalizes all-lowercase destinations ("berlin" -> "Berlin")
// for echoing back at the user. NoLower keeps existing capitals intact, so
// "New York" and Cyrillic declensions pass through unchanged.
var placeCaser = cases.Title(language.Und, cases.NoLower)

// resolvePlace tries the full cleaned phrase, then progressively shorter
// prefixes, against the known city and abbreviation tables.
func resolvePlace(place string) (string, bool) {
	words := strings.Fields(place)
	for n := len(words); n >= 1; n-- {
		if tz, ok := timeparse.FindCity(strings.Join(words[:n], " ")); ok {
			return tz, true
		}
	}
	return "", false
}
