package text

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// NormalizeDomain accepts a list of tags or a comma-separated string and
// returns trimmed tags, deduplicated case-insensitively (first spelling wins).
func NormalizeDomain(raw any) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return []string{}
	case string:
		parts = strings.Split(v, ",")
	case []string:
		parts = v
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			parts = append(parts, fmt.Sprint(item))
		}
	default:
		parts = strings.Split(fmt.Sprint(v), ",")
	}

	seen := make(map[string]struct{})
	out := []string{}
	for _, p := range parts {
		tag := strings.TrimSpace(p)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, tag)
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 timestamps. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RecencyDays returns whole days between created and now, floored at zero
func RecencyDays(created string, now time.Time) (int, bool) {
	t, ok := ParseTimestamp(created)
	if !ok {
		return 0, false
	}
	days := int(now.Sub(t).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, true
}

// NormalizeWhitespace collapses runs of whitespace to single spaces
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ShortTitle returns the first line of s, cut to max runes with an ellipsis
func ShortTitle(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = NormalizeWhitespace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	if max <= 3 {
		if max < 0 {
			max = 0
		}
		return string(runes[:max])
	}
	return strings.TrimSpace(string(runes[:max-3])) + "..."
}
