// Package reltime parses Reddit-style relative time phrases and derives
// recency ranks and display strings from them.
package reltime

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// phrasePattern matches "<integer> <unit>" anywhere in a phrase, tolerant
// of trailing periods and plural forms ("34 min. ago", "2 weeks ago").
var phrasePattern = regexp.MustCompile(`(\d+)\s*(min|minute|hr|hour|day|week|month|year)`)

// Unit approximations. Months and years are calendar-approximate on
// purpose: a month is 30 days, a year is 365.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// Parse converts a relative time phrase into an absolute time anchored at
// now. It returns false for empty or unparseable input; callers must treat
// that as "no parsed time", not as an error.
func Parse(phrase string, now time.Time) (time.Time, bool) {
	s := strings.ToLower(strings.TrimSpace(phrase))
	if s == "" {
		return time.Time{}, false
	}
	if s == "just now" || s == "now" {
		return now, true
	}

	m := phrasePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}

	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}

	var unit time.Duration
	switch m[2] {
	case "min", "minute":
		unit = time.Minute
	case "hr", "hour":
		unit = time.Hour
	case "day":
		unit = day
	case "week":
		unit = week
	case "month":
		unit = month
	case "year":
		unit = year
	}

	if value > math.MaxInt64/int64(unit) {
		return time.Time{}, false
	}
	return now.Add(-time.Duration(value) * unit), true
}

// Rank derives a monotonic recency rank from a phrase: the floor of the
// parsed time's epoch seconds divided by 60. Unparseable input ranks 0,
// below any parseable input.
func Rank(phrase string, now time.Time) int64 {
	t, ok := Parse(phrase, now)
	if !ok {
		return 0
	}
	return epochMinutes(t)
}

func epochMinutes(t time.Time) int64 {
	secs := t.Unix()
	m := secs / 60
	// Floor, not truncate, for pre-epoch times.
	if secs%60 != 0 && secs < 0 {
		m--
	}
	return m
}

// FormatAgo re-derives a display string for a stored phrase against the
// current clock. Unparseable phrases are returned verbatim; empty input
// formats as "Unknown".
func FormatAgo(phrase string, now time.Time) string {
	if strings.TrimSpace(phrase) == "" {
		return "Unknown"
	}
	t, ok := Parse(phrase, now)
	if !ok {
		return phrase
	}
	return FormatSince(t, now)
}

// FormatSince buckets the distance between t and now into a human string:
// Just now / N min(s) / N hr(s) / N day(s) / N week(s) / N month(s) /
// N year(s) ago.
func FormatSince(t, now time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return agoString(int(diff.Minutes()), "min")
	case diff < day:
		return agoString(int(diff.Hours()), "hr")
	}

	days := int(diff / day)
	switch {
	case days < 7:
		return agoString(days, "day")
	case days < 30:
		return agoString(days/7, "week")
	case days < 365:
		return agoString(days/30, "month")
	default:
		return agoString(days/365, "year")
	}
}

func agoString(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
