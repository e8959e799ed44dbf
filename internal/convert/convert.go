// Package convert – wall-clock conversion across zones
//
// Pure time arithmetic, no I/O. Given a parsed mention, the zone it was
// spoken in and the chat's active zones, Convert anchors the mention on a
// concrete date and projects it into every target zone. DST is handled by
// the tz database via time.Date in the source location; day rollovers are
// reported relative to the source date so replies can say "next day".

package convert

import (
	"fmt"
	"strings"
	"time"

	"github.com/teamops/tzbot/internal/domain"
)

// Converted is the mention projected into one target zone.
type Converted struct {
	Zone     string // IANA id
	Label    string // short human label derived from the id
	Abbrev   string // zone abbreviation at that instant (EST, CEST, ...)
	Offset   string // UTC offset at that instant (UTC+5, UTC+5:30)
	Hour     int
	Minute   int
	DayShift int // target day minus source day: -1, 0 or +1
}

// Convert anchors pt on date in sourceTZ and projects it into each target
// zone. Targets equal to the source zone are skipped; duplicates are
// dropped. Returns an error only for unloadable zone ids.
func Convert(pt domain.ParsedTime, sourceTZ string, date time.Time, targets []string) ([]Converted, error) {
	src, err := time.LoadLocation(sourceTZ)
	if err != nil {
		return nil, fmt.Errorf("convert: load source zone %q: %w", sourceTZ, err)
	}

	day := date.In(src)
	if pt.Tomorrow {
		day = day.AddDate(0, 0, 1)
	}
	anchor := time.Date(day.Year(), day.Month(), day.Day(), pt.Hour, pt.Minute, 0, 0, src)

	out := make([]Converted, 0, len(targets))
	seen := map[string]struct{}{sourceTZ: {}}
	for _, tz := range targets {
		if _, dup := seen[tz]; dup {
			continue
		}
		seen[tz] = struct{}{}

		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("convert: load target zone %q: %w", tz, err)
		}
		local := anchor.In(loc)
		out = append(out, Converted{
			Zone:     tz,
			Label:    ZoneLabel(tz),
			Abbrev:   local.Format("MST"),
			Offset:   OffsetString(local),
			Hour:     local.Hour(),
			Minute:   local.Minute(),
			DayShift: dayShift(anchor, local),
		})
	}
	return out, nil
}

// At reports the anchored instant itself, for callers that need the source
// rendering (abbreviation, offset) of the mention.
func At(pt domain.ParsedTime, sourceTZ string, date time.Time) (Converted, error) {
	src, err := time.LoadLocation(sourceTZ)
	if err != nil {
		return Converted{}, fmt.Errorf("convert: load source zone %q: %w", sourceTZ, err)
	}
	day := date.In(src)
	if pt.Tomorrow {
		day = day.AddDate(0, 0, 1)
	}
	anchor := time.Date(day.Year(), day.Month(), day.Day(), pt.Hour, pt.Minute, 0, 0, src)
	return Converted{
		Zone:   sourceTZ,
		Label:  ZoneLabel(sourceTZ),
		Abbrev: anchor.Format("MST"),
		Offset: OffsetString(anchor),
		Hour:   anchor.Hour(),
		Minute: anchor.Minute(),
	}, nil
}

// dayShift compares calendar days between the source instant and its target
// rendering. Conversions never move more than one calendar day.
func dayShift(src, dst time.Time) int {
	sy, sm, sd := src.Date()
	dy, dm, dd := dst.Date()
	a := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	b := time.Date(dy, dm, dd, 0, 0, 0, 0, time.UTC)
	switch {
	case b.After(a):
		return 1
	case b.Before(a):
		return -1
	default:
		return 0
	}
}

// OffsetString renders t's UTC offset as "UTC+5" or "UTC+5:30".
func OffsetString(t time.Time) string {
	_, secs := t.Zone()
	sign := "+"
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	h := secs / 3600
	m := secs % 3600 / 60
	if m == 0 {
		return fmt.Sprintf("UTC%s%d", sign, h)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, h, m)
}

// ZoneLabel turns "America/New_York" into "New York" for display.
func ZoneLabel(tz string) string {
	if tz == "UTC" || strings.HasPrefix(tz, "Etc/") {
		return strings.TrimPrefix(tz, "Etc/")
	}
	last := tz
	if i := strings.LastIndex(tz, "/"); i >= 0 {
		last = tz[i+1:]
	}
	return strings.ReplaceAll(last, "_", " ")
}

// FormatLine renders one conversion as a reply line: "18:00 New York (EST,
// UTC-5)", with a day marker when the conversion crosses midnight.
func FormatLine(c Converted) string {
	line := fmt.Sprintf("%02d:%02d %s", c.Hour, c.Minute, c.Label)
	detail := c.Offset
	if c.Abbrev != "" && !strings.HasPrefix(c.Abbrev, "+") && !strings.HasPrefix(c.Abbrev, "-") {
		detail = c.Abbrev + ", " + c.Offset
	}
	line += " (" + detail + ")"
	switch c.DayShift {
	case 1:
		line += " next day"
	case -1:
		line += " previous day"
	}
	return line
}

// BuildReply assembles the full conversion reply: the source rendering on
// the first line, one target per line after it.
func BuildReply(original string, source Converted, targets []Converted) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%q is %s", original, FormatLine(source))
	for _, c := range targets {
		b.WriteString("\n• ")
		b.WriteString(FormatLine(c))
	}
	return b.String()
}
