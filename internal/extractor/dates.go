package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reNumericDate = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4}|\d{2})\b`)
	reISODate     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})`)
	reFrenchDate  = regexp.MustCompile(
		`(?i)\b(\d{1,2})(?:er)?\s+(janvier|février|fevrier|mars|avril|mai|juin|juillet|août|aout|septembre|octobre|novembre|décembre|decembre)\s+(\d{4})\b`)
)

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"février":   time.February,
	"fevrier":   time.February,
	"mars":      time.March,
	"avril":     time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"août":      time.August,
	"aout":      time.August,
	"septembre": time.September,
	"octobre":   time.October,
	"novembre":  time.November,
	"décembre":  time.December,
	"decembre":  time.December,
}

// isMonthName reports whether s is nothing but a French month name.
func isMonthName(s string) bool {
	_, ok := frenchMonths[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// ParseDate finds the first recognizable date in s. Supported forms are
// ISO 8601 (2025-11-18), day-first numeric (18/11/2025, 18-11-25, 18.11.2025)
// and French long form (18 novembre 2025, 1er mars 2024). The result is a
// UTC midnight, or nil when nothing parses to a real calendar day.
func ParseDate(s string) *time.Time {
	if s = strings.TrimSpace(s); s == "" {
		return nil
	}
	if m := reISODate.FindStringSubmatch(s); m != nil {
		if d := buildDate(m[1], m[2], m[3]); d != nil {
			return d
		}
	}
	if m := reNumericDate.FindStringSubmatch(s); m != nil {
		if d := buildDate(m[3], m[2], m[1]); d != nil {
			return d
		}
	}
	if m := reFrenchDate.FindStringSubmatch(s); m != nil {
		month := frenchMonths[strings.ToLower(m[2])]
		if d := buildDate(m[3], strconv.Itoa(int(month)), m[1]); d != nil {
			return d
		}
	}
	return nil
}

func buildDate(year, month, day string) *time.Time {
	y, err := strconv.Atoi(year)
	if err != nil {
		return nil
	}
	if len(year) == 2 {
		y += 2000
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return nil
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 {
		return nil
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return nil
	}
	return &t
}
