// Package timeparse – lookup tables
//
// This file holds the static lookup tables used by the extractor: timezone
// abbreviations, well-known city names, and the fixed-offset zone mapping
// for "UTC+N" style hints. All tables map to IANA zone identifiers so that
// downstream conversion can rely on time.LoadLocation.

package timeparse

import "strconv"

// tzAbbrevs maps common timezone abbreviations (lowercase) to IANA ids.
// Daylight variants map to the same zone as their standard counterpart;
// the zone database picks the right offset for the date.
var tzAbbrevs = map[string]string{
	"pst":  "America/Los_Angeles",
	"pdt":  "America/Los_Angeles",
	"mst":  "America/Denver",
	"mdt":  "America/Denver",
	"cst":  "America/Chicago",
	"cdt":  "America/Chicago",
	"est":  "America/New_York",
	"edt":  "America/New_York",
	"gmt":  "Europe/London",
	"bst":  "Europe/London",
	"cet":  "Europe/Paris",
	"cest": "Europe/Paris",
	"eet":  "Europe/Kyiv",
	"eest": "Europe/Kyiv",
	"msk":  "Europe/Moscow",
	"ist":  "Asia/Kolkata",
	"sgt":  "Asia/Singapore",
	"hkt":  "Asia/Hong_Kong",
	"jst":  "Asia/Tokyo",
	"kst":  "Asia/Seoul",
	"aest": "Australia/Sydney",
	"aedt": "Australia/Sydney",
	"nzst": "Pacific/Auckland",
	"nzdt": "Pacific/Auckland",
	"utc":  "UTC",
}

// cityZones maps well-known city names (lowercase) to IANA ids. Both Latin
// and Cyrillic spellings are included where chats commonly use either.
var cityZones = map[string]string{
	"london":        "Europe/London",
	"paris":         "Europe/Paris",
	"berlin":        "Europe/Berlin",
	"madrid":        "Europe/Madrid",
	"rome":          "Europe/Rome",
	"amsterdam":     "Europe/Amsterdam",
	"lisbon":        "Europe/Lisbon",
	"warsaw":        "Europe/Warsaw",
	"kyiv":          "Europe/Kyiv",
	"kiev":          "Europe/Kyiv",
	"moscow":        "Europe/Moscow",
	"москва":        "Europe/Moscow",
	"москве":        "Europe/Moscow",
	"москву":        "Europe/Moscow",
	"питер":         "Europe/Moscow",
	"питере":        "Europe/Moscow",
	"лондон":        "Europe/London",
	"лондоне":       "Europe/London",
	"берлин":        "Europe/Berlin",
	"берлине":       "Europe/Berlin",
	"париж":         "Europe/Paris",
	"париже":        "Europe/Paris",
	"токио":         "Asia/Tokyo",
	"нью-йорк":      "America/New_York",
	"нью-йорке":     "America/New_York",
	"istanbul":      "Europe/Istanbul",
	"dubai":         "Asia/Dubai",
	"mumbai":        "Asia/Kolkata",
	"delhi":         "Asia/Kolkata",
	"bangalore":     "Asia/Kolkata",
	"singapore":     "Asia/Singapore",
	"hong kong":     "Asia/Hong_Kong",
	"shanghai":      "Asia/Shanghai",
	"beijing":       "Asia/Shanghai",
	"tokyo":         "Asia/Tokyo",
	"seoul":         "Asia/Seoul",
	"sydney":        "Australia/Sydney",
	"melbourne":     "Australia/Melbourne",
	"auckland":      "Pacific/Auckland",
	"new york":      "America/New_York",
	"nyc":           "America/New_York",
	"boston":        "America/New_York",
	"toronto":       "America/Toronto",
	"chicago":       "America/Chicago",
	"austin":        "America/Chicago",
	"denver":        "America/Denver",
	"seattle":       "America/Los_Angeles",
	"san francisco": "America/Los_Angeles",
	"sf":            "America/Los_Angeles",
	"los angeles":   "America/Los_Angeles",
	"la":            "America/Los_Angeles",
	"vancouver":     "America/Vancouver",
	"mexico city":   "America/Mexico_City",
	"sao paulo":     "America/Sao_Paulo",
	"buenos aires":  "America/Argentina/Buenos_Aires",
	"tbilisi":       "Asia/Tbilisi",
	"yerevan":       "Asia/Yerevan",
	"almaty":        "Asia/Almaty",
	"tashkent":      "Asia/Tashkent",
	"bali":          "Asia/Makassar",
	"bangkok":       "Asia/Bangkok",
	"tel aviv":      "Asia/Jerusalem",
	"lagos":         "Africa/Lagos",
	"nairobi":       "Africa/Nairobi",
	"cairo":         "Africa/Cairo",
	"johannesburg":  "Africa/Johannesburg",
}

// etcGMTZone maps a UTC offset in whole hours to the matching Etc/GMT zone.
// The Etc/GMT naming inverts the sign: UTC+3 is Etc/GMT-3.
func etcGMTZone(hours int) (string, bool) {
	if hours == 0 {
		return "UTC", true
	}
	if hours < -12 || hours > 14 {
		return "", false
	}
	if hours > 0 {
		return "Etc/GMT-" + strconv.Itoa(hours), true
	}
	return "Etc/GMT+" + strconv.Itoa(-hours), true
}
