// Package hygiene plans calendar buffer blocks and shorten suggestions from
// a list of events, persists the plan, and applies selected actions later.
package hygiene

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vthunder/toolbox/internal/text"
)

var privateTitles = map[string]bool{
	"busy":        true,
	"private":     true,
	"unavailable": true,
}

var dateOnlyRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Event is a calendar event as seen by the planner
type Event struct {
	ID          string
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	AllDay      bool
	Private     bool
}

// Minutes returns the event length in minutes (negative for inverted ranges)
func (e Event) Minutes() float64 {
	return e.End.Sub(e.Start).Minutes()
}

// Summary is the event record written into a plan
type Summary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

// Summary returns the plan record for the event
func (e Event) Summary() Summary {
	return Summary{
		ID:          e.ID,
		Title:       e.Title,
		Start:       e.Start.Format(time.RFC3339),
		End:         e.End.Format(time.RFC3339),
		Description: e.Description,
		Location:    e.Location,
	}
}

// EventFromRaw builds an Event from a loosely shaped upstream record.
// start/end may be strings or {dateTime|date} objects. It reports false
// when either boundary is missing or unparseable.
func EventFromRaw(raw map[string]any) (Event, bool) {
	title := strings.TrimSpace(firstString(raw, "title", "summary"))
	if title == "" {
		title = "Untitled"
	}

	startVal, startAllDay := boundary(raw["start"])
	endVal, _ := boundary(raw["end"])
	allDay := startAllDay || dateOnlyRe.MatchString(startVal) || dateOnlyRe.MatchString(endVal)

	start, ok := text.ParseTimestamp(startVal)
	if !ok {
		return Event{}, false
	}
	end, ok := text.ParseTimestamp(endVal)
	if !ok {
		return Event{}, false
	}

	visibility := strings.ToLower(stringValue(raw["visibility"]))
	return Event{
		ID:          strings.TrimSpace(stringValue(raw["id"])),
		Title:       title,
		Start:       start,
		End:         end,
		Description: stringValue(raw["description"]),
		Location:    stringValue(raw["location"]),
		AllDay:      allDay,
		Private:     privateTitles[strings.ToLower(title)] || visibility == "private",
	}, true
}

// EventsFromRaw converts every parseable record, dropping the rest
func EventsFromRaw(items []map[string]any) []Event {
	events := make([]Event, 0, len(items))
	for _, raw := range items {
		if e, ok := EventFromRaw(raw); ok {
			events = append(events, e)
		}
	}
	return events
}

// boundary unwraps a start/end value and reports whether it was a
// date-only object.
func boundary(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return strings.TrimSpace(stringValue(v)), false
	}
	dateTime := stringValue(m["dateTime"])
	date := stringValue(m["date"])
	_, hasDate := m["date"]
	_, hasDateTime := m["dateTime"]
	if dateTime != "" {
		return strings.TrimSpace(dateTime), false
	}
	return strings.TrimSpace(date), hasDate && !hasDateTime
}

func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringValue(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// Stats counts what filtering saw
type Stats struct {
	Total          int `json:"total"`
	AllDayExcluded int `json:"all_day_excluded"`
	PrivateCount   int `json:"private_count"`
}

// FilterEvents drops all-day events and counts private ones. Private
// events stay in the result so their timing still blocks slots.
func FilterEvents(events []Event) ([]Event, Stats) {
	stats := Stats{Total: len(events)}
	filtered := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Private {
			stats.PrivateCount++
		}
		if e.AllDay {
			stats.AllDayExcluded++
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered, stats
}

// MockEvents returns the fixed sample used when no calendar data is
// available: a medical appointment tomorrow and a team sync the day after.
func MockEvents(start time.Time) []Event {
	base := time.Date(start.Year(), start.Month(), start.Day(), 9, 0, 0, 0, start.Location())
	return []Event{
		{
			ID:    "mock-1",
			Title: "Medical appointment",
			Start: base.AddDate(0, 0, 1).Add(2 * time.Hour),
			End:   base.AddDate(0, 0, 1).Add(3 * time.Hour),
		},
		{
			ID:    "mock-2",
			Title: "Team sync meeting",
			Start: base.AddDate(0, 0, 2).Add(time.Hour),
			End:   base.AddDate(0, 0, 2).Add(2 * time.Hour),
		},
	}
}
