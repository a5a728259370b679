package router

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vthunder/toolbox/internal/types"
)

// ErrNoPageID is returned when a page id cannot be canonicalized
var ErrNoPageID = errors.New("no page id")

var (
	uuidRe  = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hex32Re = regexp.MustCompile(`(?i)[0-9a-f]{32}`)

	doubleQuotedRe = regexp.MustCompile(`"([^"]+)"|“([^”]+)”`)
	// Apostrophes inside words (won't, it's) are not quote marks.
	singleQuotedRe = regexp.MustCompile(`(?:^|[^\w])'([^']+)'|‘([^’]+)’`)

	searchTailRe = regexp.MustCompile(`(?i)(?:search|find|lookup)\s+(?:wishes|tool requests|requests|for|about)?\s*(.+)`)
	notionWordRe = regexp.MustCompile(`(?i)\b(?:in\s+notion|notion)\b`)

	callRe = regexp.MustCompile(`(?is)^\s*call\s+([a-z0-9_-]+)\s*(\{.*\})?\s*$`)

	changeToRe     = regexp.MustCompile(`(?i)\bchange\s+(.+?)\s+to\s+(.+)`)
	changeTargetRe = regexp.MustCompile(`(?i)^(?:the\s+)?(?:tool\s+requests?|friction\s+log)(?:\s+(?:title|entry))?\s*(?:from\s+)?`)

	titleRe       = regexp.MustCompile(`(?i)(?:rename|change|update|set)\s+title(?:\s+from)?\s+(.+?)\s+to\s+(.+)`)
	statusRe      = regexp.MustCompile(`(?i)set\s+status\s+(.+)`)
	descriptionRe = regexp.MustCompile(`(?i)set\s+description\s+(.+)`)
	tagsRe        = regexp.MustCompile(`(?i)(?:add|set)\s+tags?\s+(.+)`)

	enableRe    = regexp.MustCompile(`(?i)\b(?:enable|enabled|turn\s+on|on|yes|true)\b`)
	disableRe   = regexp.MustCompile(`(?i)\b(?:disable|disabled|turn\s+off|off|no|false)\b`)
	thresholdRe = regexp.MustCompile(`(?i)\b(?:threshold(?:\s+(?:to|of|at))?|at|to)\s*(\d+(?:\.\d+)?)\s*(%?)`)
)

// ExtractPageID returns a hyphenated UUID if present, else a bare 32-hex id
func ExtractPageID(s string) string {
	if m := uuidRe.FindString(s); m != "" {
		return m
	}
	return hex32Re.FindString(s)
}

// CanonicalPageID normalizes either page id form to the hyphenated lowercase UUID
func CanonicalPageID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrNoPageID
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid page id %q: %w", id, err)
	}
	return u.String(), nil
}

// QuotedPhrases returns double-quoted phrases first, then single-quoted ones
func QuotedPhrases(s string) []string {
	var out []string
	for _, m := range doubleQuotedRe.FindAllStringSubmatch(s, -1) {
		out = append(out, firstGroup(m))
	}
	for _, m := range singleQuotedRe.FindAllStringSubmatch(s, -1) {
		out = append(out, firstGroup(m))
	}
	return out
}

func firstGroup(m []string) string {
	for _, g := range m[1:] {
		if g != "" {
			return g
		}
	}
	return ""
}

// ExtractSearchQuery picks the first quoted phrase, else the text after
// search/find/lookup, else the whole request.
func ExtractSearchQuery(s string) string {
	if q := QuotedPhrases(s); len(q) > 0 {
		return q[0]
	}
	if m := searchTailRe.FindStringSubmatch(s); m != nil {
		if tail := strings.TrimSpace(m[1]); tail != "" {
			return tail
		}
	}
	return strings.TrimSpace(s)
}

// ExtractEditQuery is the search query with mentions of Notion removed
func ExtractEditQuery(s string) string {
	q := notionWordRe.ReplaceAllString(ExtractSearchQuery(s), "")
	return strings.Join(strings.Fields(q), " ")
}

func stripQuotes(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'“”‘’`)
	return strings.TrimSpace(s)
}

func trimSentence(s string) string {
	return strings.TrimRight(stripQuotes(strings.TrimRight(strings.TrimSpace(s), ".!?")), ".!?")
}

// ParseCorrection extracts (old, new) from two quoted phrases or "change X to Y"
func ParseCorrection(s string) (Correction, bool) {
	if q := QuotedPhrases(s); len(q) >= 2 {
		return Correction{Old: strings.TrimSpace(q[0]), New: strings.TrimSpace(q[1])}, true
	}
	if m := changeToRe.FindStringSubmatch(s); m != nil {
		old := trimSentence(changeTargetRe.ReplaceAllString(strings.TrimSpace(m[1]), ""))
		replacement := trimSentence(m[2])
		if old != "" && replacement != "" {
			return Correction{Old: old, New: replacement}, true
		}
	}
	return Correction{}, false
}

// NoUpdateIntentNote is surfaced when an edit request names no field
const NoUpdateIntentNote = "No update intent detected; specify title/status/description/tag."

// ParseEditIntent turns edit phrasing into a structured page update
func ParseEditIntent(s string) (types.PageUpdates, []string) {
	u := types.PageUpdates{Properties: map[string]any{}}
	var notes []string

	if m := titleRe.FindStringSubmatch(s); m != nil {
		u.Title = stripQuotes(m[2])
	}
	if m := statusRe.FindStringSubmatch(s); m != nil {
		u.Properties["Status"] = stripQuotes(m[1])
	}
	if m := descriptionRe.FindStringSubmatch(s); m != nil {
		u.Properties["Description"] = stripQuotes(m[1])
	}
	if m := tagsRe.FindStringSubmatch(s); m != nil {
		var tags []string
		for _, tag := range strings.Split(stripQuotes(m[1]), ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		if len(tags) > 0 {
			u.Properties["Domain"] = tags
		}
	}

	if u.Empty() {
		notes = append(notes, NoUpdateIntentNote)
	}
	return u, notes
}

// ParseCall extracts the tool name (lowercased) and the raw JSON args text
func ParseCall(s string) (tool, args string, ok bool) {
	m := callRe.FindStringSubmatch(s)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(m[1]), m[2], true
}

// ParsePrefsChange reads enable/disable and a threshold (fraction or percent)
func ParsePrefsChange(s string) PrefsChange {
	var p PrefsChange
	rest := thresholdRe.ReplaceAllString(s, "")
	switch {
	case disableRe.MatchString(rest):
		v := false
		p.AutoApplyEnabled = &v
	case enableRe.MatchString(rest):
		v := true
		p.AutoApplyEnabled = &v
	}
	if m := thresholdRe.FindStringSubmatch(s); m != nil {
		if v, ok := parseThreshold(m[1], m[2] == "%"); ok {
			p.AutoApplyThreshold = &v
		} else {
			p.InvalidThreshold = m[1] + m[2]
		}
	}
	return p
}

// parseThreshold accepts a fraction in [0,1], a percent, or a whole number
// 2..100 read as a percent. Anything else is rejected rather than rescaled.
func parseThreshold(num string, percent bool) (float64, bool) {
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	switch {
	case percent:
		v /= 100
	case v <= 1:
	case v == math.Trunc(v) && v >= 2 && v <= 100:
		v /= 100
	default:
		return 0, false
	}
	if v < 0 || v > 1 {
		return 0, false
	}
	return v, true
}

func extractPrefs(r Request) Params {
	change := ParsePrefsChange(r.Text)
	return Params{Prefs: &change}
}

func extractCorrection(r Request) Params {
	p := Params{PageID: ExtractPageID(r.Text)}
	if c, ok := ParseCorrection(r.Text); ok {
		p.Correction = &c
		p.Query = c.Old
	} else {
		p.Notes = append(p.Notes, "No correction pair found; quote the old and new phrases.")
	}
	return p
}

func extractCall(r Request) Params {
	tool, args, _ := ParseCall(r.Text)
	return Params{Tool: tool, Args: args}
}

func extractEdit(r Request) Params {
	updates, notes := ParseEditIntent(r.Text)
	return Params{
		PageID:  ExtractPageID(r.Text),
		Query:   ExtractEditQuery(r.Text),
		Updates: &updates,
		Notes:   notes,
	}
}
