// Package pipeline – detection sweep
//
// One message produces at most one action. The sweep runs the detectors in
// fixed priority order (help address > relocation > time mention) and tags
// the result, so "@bot what time is the meeting at 3pm?" is answered as a
// help request even though it also contains a parseable time.

package pipeline

import (
	"regexp"

	"github.com/teamops/tzbot/internal/domain"
	"github.com/teamops/tzbot/internal/relocation"
)

// Action tags what a message asks the assistant to do.
type Action int

const (
	// ActionNone means no detector fired; stay silent.
	ActionNone Action = iota
	// ActionHelp means the assistant was addressed directly.
	ActionHelp
	// ActionRelocation means the author announced a move.
	ActionRelocation
	// ActionTime means the message carries a time mention.
	ActionTime
)

// Detection is the sweep outcome. Exactly one payload field is populated,
// matching the Action tag.
type Detection struct {
	Action     Action
	Relocation *relocation.Mention
	Times      []domain.ParsedTime
}

// Direct-address patterns. Cyrillic has no ASCII word boundary, so the
// Russian forms anchor on whitespace and string edges instead.
var mentionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)@bot\b`),
	regexp.MustCompile(`(?i)\bbot[,:]?\s`),
	regexp.MustCompile(`(?i)\bbot[.!?]?$`),
	regexp.MustCompile(`(?i)\bhelp\b`),
	regexp.MustCompile(`(?i)(?:^|\s)бот[а-я]?[,:.!?]?(?:\s|$)`),
	regexp.MustCompile(`(?i)(?:^|\s)помощь[.!?]?(?:\s|$)`),
}

func isHelpRequest(text string) bool {
	for _, re := range mentionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// sweep classifies ev's text. Detector order is the priority order.
func (p *Processor) sweep(ev domain.NormalizedEvent) Detection {
	if isHelpRequest(ev.Text) {
		return Detection{Action: ActionHelp}
	}
	if m, ok := p.Relocations.Detect(ev.Text); ok {
		return Detection{Action: ActionRelocation, Relocation: m}
	}
	if times := p.Extractor.Extract(ev.Text); len(times) > 0 {
		return Detection{Action: ActionTime, Times: times}
	}
	return Detection{Action: ActionNone}
}
