// Package timeparse – time mention extraction
//
// This package turns free-form chat text into structured time references.
// It recognizes explicit clock formats (3:30pm, 14h30, 1500Z, 15:30), bare
// hours with meridiem (5pm), ranges (5-7pm), prepositional hours ("at 5",
// "в 5 утра"), and day qualifiers (tomorrow / завтра). Each match carries a
// confidence tier reflecting how unambiguous the matched format is.
//
// The extractor also scans for timezone hints in the same message: common
// abbreviations (PST, MSK), well-known city names, and numeric offsets
// (UTC+3). A hint applies to every time reference in the message.
//
// Go's regexp engine has no lookaround, so the negative cases the patterns
// must not fire on (ISO-8601 timestamps, version strings, scripture
// citations, score/ratio contexts, ticket ids like MSK-2024) are handled by
// computing exclusion spans first and dropping candidate matches that fall
// inside one.

package timeparse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/teamops/tzbot/internal/domain"
)

// Tiers holds the per-pattern confidence values. Explicit formats should be
// configured strictly above bare-hour forms; validation lives in config.
type Tiers struct {
	HHMMAmPm     float64
	EuropeanHHMM float64
	Military     float64
	PlainHHMM    float64
	HAmPm        float64
	Range        float64
	AtH          float64
}

// Extractor parses time mentions out of message text. Zero-allocation per
// call is not a goal; messages are short. Safe for concurrent use.
type Extractor struct {
	tiers Tiers
}

// NewExtractor returns an Extractor using the given confidence tiers.
func NewExtractor(tiers Tiers) *Extractor {
	return &Extractor{tiers: tiers}
}

// Positive patterns, ordered from most to least explicit. Order matters:
// a span claimed by an earlier pattern suppresses later overlapping matches.
var (
	reHHMMAmPm = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(a\.?m\.?|p\.?m\.?)(?:\b|[^a-z])`)
	reEuropean = regexp.MustCompile(`(?i)\b(\d{1,2})h(\d{2})?\b`)
	reMilitary = regexp.MustCompile(`\b([01]\d|2[0-3])([0-5]\d)(z|Z)?\b`)
	rePlain    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reHAmPm    = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(a\.?m\.?|p\.?m\.?)(?:\b|[^a-z])`)
	reRange    = regexp.MustCompile(`(?i)\b(\d{1,2})\s*[-–]\s*(\d{1,2})\s*(am|pm)\b`)
	reAtH      = regexp.MustCompile(`(?i)\bat\s+(\d{1,2})\b`)

	// Russian forms. \b is ASCII-only in RE2, so Cyrillic patterns anchor on
	// whitespace / string edges instead of word boundaries.
	reRuVMeridiem = regexp.MustCompile(`(?i)(?:^|[\s,.!?(])в\s+(\d{1,2})\s*(?:часов\s+|часа\s+)?(утра|вечера|дня|ночи)`)
	reRuVHhMm     = regexp.MustCompile(`(?i)(?:^|[\s,.!?(])в\s+(\d{1,2})-(\d{2})\b`)
	reRuVH        = regexp.MustCompile(`(?i)(?:^|[\s,.!?(])в\s+(\d{1,2})\b`)

	reTomorrowEN = regexp.MustCompile(`(?i)\btomorrow\b`)
	reTomorrowRU = regexp.MustCompile(`(?i)завтра`)
)

// Exclusion patterns. Any candidate time whose span overlaps one of these is
// discarded before it can produce a mention.
var (
	reISO       = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{1,2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:?\d{2})?`)
	reVersion   = regexp.MustCompile(`(?i)\bv?\d+\.\d+(?:\.\d+)+\b`)
	reVersionKw = regexp.MustCompile(`(?i)\bversion\s+\d+(?:\.\d+)*\b`)
	reCitation  = regexp.MustCompile(`\b(?:Genesis|Exodus|Psalms?|Proverbs|Isaiah|Matthew|Mark|Luke|John|Acts|Romans|Corinthians|Galatians|Ephesians|Hebrews|James|Revelation)\s+\d{1,3}:\d{1,3}\b`)
	reTicketID  = regexp.MustCompile(`(?i)\b[a-z]{2,5}-\d{2,6}(?:-\d+)*\b`)
	reScoreCtx  = regexp.MustCompile(`(?i)\b(?:score[d]?|ratio|aspect|resolution|won|lost|beat|final)\b[^.!?\n]{0,24}\b\d{1,2}:\d{1,2}\b`)
	reRatioTail = regexp.MustCompile(`(?i)\b\d{1,2}:\d{1,2}\s*(?:ratio|aspect)\b`)
)

var excluders = []*regexp.Regexp{
	reISO, reVersion, reVersionKw, reCitation, reTicketID, reScoreCtx, reRatioTail,
}

// Hint patterns.
var (
	reUTCOffset = regexp.MustCompile(`(?i)\b(?:utc|gmt)\s*([+-])\s*(\d{1,2})(?::\d{2})?\b`)
	reAbbrev    = regexp.MustCompile(`(?i)\b(pst|pdt|mst|mdt|cst|cdt|est|edt|gmt|bst|cet|cest|eet|eest|msk|ist|sgt|hkt|jst|kst|aest|aedt|nzst|nzdt|utc)\b`)
)

type span struct{ lo, hi int }

func (s span) overlaps(o span) bool { return s.lo < o.hi && o.lo < s.hi }

// Extract returns every time mention found in text, most confident first.
// An empty slice means the text contains no recognizable time reference.
func (e *Extractor) Extract(text string) []domain.ParsedTime {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	excluded := exclusionSpans(text)
	hint := FindTZHint(text)
	tomorrow := reTomorrowEN.MatchString(text) || reTomorrowRU.MatchString(text)

	var out []domain.ParsedTime
	var claimed []span

	add := func(m span, hour, minute int, conf float64) {
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return
		}
		for _, ex := range excluded {
			if m.overlaps(ex) {
				return
			}
		}
		for _, c := range claimed {
			if m.overlaps(c) {
				return
			}
		}
		claimed = append(claimed, m)
		out = append(out, domain.ParsedTime{
			OriginalText: strings.TrimSpace(text[m.lo:m.hi]),
			Hour:         hour,
			Minute:       minute,
			TZHint:       hint,
			Tomorrow:     tomorrow,
			Confidence:   conf,
		})
	}

	// 12-hour clock with minutes: "3:30pm"
	for _, idx := range reHHMMAmPm.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		m := atoi(text[idx[4]:idx[5]])
		h, ok := meridiemHour(h, text[idx[6]:idx[7]])
		if !ok {
			continue
		}
		add(span{idx[0], idx[7]}, h, m, e.tiers.HHMMAmPm)
	}

	// Ranges before bare meridiem hours so "5-7pm" is one mention, not two.
	for _, idx := range reRange.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		h, ok := meridiemHour(h, text[idx[6]:idx[7]])
		if !ok {
			continue
		}
		add(span{idx[0], idx[1]}, h, 0, e.tiers.Range)
	}

	// European notation: "14h30", "9h"
	for _, idx := range reEuropean.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		m := 0
		if idx[4] >= 0 {
			m = atoi(text[idx[4]:idx[5]])
		}
		add(span{idx[0], idx[1]}, h, m, e.tiers.EuropeanHHMM)
	}

	// Military: "1500Z", "0930". Bare four-digit groups that read as years
	// (1900-2099) are skipped unless the Z suffix makes the intent explicit.
	for _, idx := range reMilitary.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		m := atoi(text[idx[4]:idx[5]])
		hasZ := idx[6] >= 0
		if !hasZ && looksLikeYear(h, m) {
			continue
		}
		add(span{idx[0], idx[1]}, h, m, e.tiers.Military)
	}

	// Bare hour with meridiem: "5pm"
	for _, idx := range reHAmPm.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		h, ok := meridiemHour(h, text[idx[4]:idx[5]])
		if !ok {
			continue
		}
		add(span{idx[0], idx[5]}, h, 0, e.tiers.HAmPm)
	}

	// Plain 24-hour clock: "15:30"
	for _, idx := range rePlain.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		m := atoi(text[idx[4]:idx[5]])
		add(span{idx[0], idx[1]}, h, m, e.tiers.PlainHHMM)
	}

	// Russian meridiem: "в 5 утра" / "в 9 вечера"
	for _, idx := range reRuVMeridiem.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		h, ok := ruMeridiemHour(h, text[idx[4]:idx[5]])
		if !ok {
			continue
		}
		add(span{idx[0], idx[1]}, h, 0, e.tiers.HAmPm)
	}

	// Russian dashed clock: "в 10-30"
	for _, idx := range reRuVHhMm.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		m := atoi(text[idx[4]:idx[5]])
		add(span{idx[0], idx[1]}, h, m, e.tiers.PlainHHMM)
	}

	// Prepositional bare hour: "at 5" / "в 10". Lowest tier; these are the
	// mentions the uncertainty gate exists for.
	for _, idx := range reAtH.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		add(span{idx[0], idx[1]}, h, 0, e.tiers.AtH)
	}
	for _, idx := range reRuVH.FindAllStringSubmatchIndex(text, -1) {
		h := atoi(text[idx[2]:idx[3]])
		add(span{idx[0], idx[1]}, h, 0, e.tiers.AtH)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Best returns the highest-confidence mention, or nil when there is none.
func (e *Extractor) Best(text string) *domain.ParsedTime {
	parsed := e.Extract(text)
	if len(parsed) == 0 {
		return nil
	}
	return &parsed[0]
}

// FindTZHint scans text for an explicit timezone reference and returns its
// IANA id, or "" when the message names no zone. Priority: numeric offsets,
// then abbreviations, then city names. Abbreviations that are part of a
// ticket id (MSK-2024) or a file extension mention (PST file) do not count.
func FindTZHint(text string) string {
	if m := reUTCOffset.FindStringSubmatch(text); m != nil {
		n := atoi(m[2])
		if m[1] == "-" {
			n = -n
		}
		if zone, ok := etcGMTZone(n); ok {
			return zone
		}
	}

	for _, idx := range reAbbrev.FindAllStringSubmatchIndex(text, -1) {
		abbr := strings.ToLower(text[idx[2]:idx[3]])
		if abbrInTicketOrFile(text, idx[2], idx[3]) {
			continue
		}
		if zone, ok := tzAbbrevs[abbr]; ok {
			return zone
		}
	}

	lower := strings.ToLower(text)
	for city, zone := range cityZones {
		if pos := strings.Index(lower, city); pos >= 0 && standaloneWord(lower, pos, pos+len(city)) {
			return zone
		}
	}
	return ""
}

// FindCity resolves a short free-form reply ("Berlin", "in Moscow") to an
// IANA zone. Used for verification replies and relocation destinations.
func FindCity(text string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, ".,!?:;\"'")
	for _, prefix := range []string{"in ", "to ", "в ", "во "} {
		s = strings.TrimPrefix(s, prefix)
	}
	if zone, ok := cityZones[s]; ok {
		return zone, true
	}
	if zone, ok := tzAbbrevs[s]; ok {
		return zone, true
	}
	return "", false
}

func exclusionSpans(text string) []span {
	var out []span
	for _, re := range excluders {
		for _, idx := range re.FindAllStringIndex(text, -1) {
			out = append(out, span{idx[0], idx[1]})
		}
	}
	return out
}

// abbrInTicketOrFile reports whether the abbreviation at [lo,hi) is being
// used as something other than a timezone: a ticket prefix ("MSK-2024") or
// a file-format mention ("PST file", "файл PST").
func abbrInTicketOrFile(text string, lo, hi int) bool {
	rest := text[hi:]
	if len(rest) >= 2 && rest[0] == '-' && rest[1] >= '0' && rest[1] <= '9' {
		return true
	}
	tail := strings.ToLower(rest)
	for _, w := range []string{" file", " files", " export", " файл"} {
		if strings.HasPrefix(tail, w) {
			return true
		}
	}
	head := strings.ToLower(text[:lo])
	return strings.HasSuffix(head, "file ") || strings.HasSuffix(head, "файл ")
}

// standaloneWord reports whether [lo,hi) is not glued to adjacent letters,
// approximating a word boundary for names that may sit next to punctuation.
func standaloneWord(s string, lo, hi int) bool {
	if lo > 0 && isWordByte(s[lo-1]) {
		return false
	}
	if hi < len(s) && isWordByte(s[hi]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// meridiemHour converts a 12-hour value plus am/pm marker to 24-hour form.
func meridiemHour(h int, meridiem string) (int, bool) {
	if h < 1 || h > 12 {
		return 0, false
	}
	pm := strings.HasPrefix(strings.ToLower(meridiem), "p")
	switch {
	case pm && h != 12:
		return h + 12, true
	case !pm && h == 12:
		return 0, true
	default:
		return h, true
	}
}

// ruMeridiemHour maps Russian day-part words onto the 24-hour clock the way
// they are used conversationally: утра 4-11, дня 12-16, вечера 17-23 (hours
// 1-11 shift by 12), ночи 0-3.
func ruMeridiemHour(h int, part string) (int, bool) {
	if h < 0 || h > 12 {
		return 0, false
	}
	switch strings.ToLower(part) {
	case "утра":
		return h % 12, true
	case "дня":
		if h == 12 {
			return 12, true
		}
		return h%12 + 12, true
	case "вечера":
		return h%12 + 12, true
	case "ночи":
		return h % 12, true
	}
	return 0, false
}

func looksLikeYear(h, m int) bool {
	v := h*100 + m
	return v >= 1900 && v <= 2099
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
