// Package sysutil holds small process-level helpers shared by the entry
// point and the config layer.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config string. "warning"
// is accepted as an alias for "warn"; anything unrecognised falls back to
// info so a typo in LOG_LEVEL never silences the service.
func SetLogLevel(lvl string) {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	parsed, err := zerolog.ParseLevel(s)
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

var truthy = map[string]bool{
	"1": true, "true": true, "yes": true, "y": true, "on": true,
}

// IsTruthy reports whether an environment value means "enabled".
func IsTruthy(v string) bool {
	return truthy[strings.ToLower(strings.TrimSpace(v))]
}

// FirstNonEmpty returns the first value that is not blank after trimming,
// or "" when every value is blank. The winner is returned as passed, with
// its original spacing.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
