package hygiene

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action types
const (
	ActionCreateBlock    = "create_block"
	ActionSuggestShorten = "suggest_shorten"
)

const (
	shortenMinutes     = 5
	backToBackMaxGap   = 5.0
	bufferDuration     = 15 * time.Minute
	anchorDuration     = 20 * time.Minute
	anchorMinEvents    = 3
	anchorMinMinutes   = 120.0
	dailyPlanningTitle = "Daily planning/admin"
)

var medicalKeywords = []string{
	"doctor", "hospital", "appointment", "mri", "clinic", "physio",
	"physiotherapy", "neurologist", "infusion", "dentist", "therapy",
	"scan", "surgery", "lab", "bloodwork",
}

// anchorWindows are the local-time windows searched for a planning anchor, in order
var anchorWindows = []struct{ startH, startM, endH, endM int }{
	{8, 30, 11, 30},
	{13, 0, 17, 30},
}

// Action is a proposed schedule change. create_block actions carry
// Start/End/Title; suggest_shorten actions carry TargetEventID/Minutes.
type Action struct {
	ID             string     `json:"action_id"`
	Type           string     `json:"type"`
	Start          *time.Time `json:"start,omitempty"`
	End            *time.Time `json:"end,omitempty"`
	Title          string     `json:"title,omitempty"`
	TargetEventID  string     `json:"target_event_id,omitempty"`
	Minutes        int        `json:"minutes,omitempty"`
	Reason         string     `json:"reason"`
	Reasoning      string     `json:"reasoning"`
	Confidence     float64    `json:"confidence"`
	Risk           string     `json:"risk"`
	RelatedEventID string     `json:"related_event_id,omitempty"`
}

// Interval is a half-open time range [Start, End)
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether the interval intersects [start, end)
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

// ActionID derives a stable id from the canonical seed of an action
func ActionID(seed string) string {
	sum := sha1.Sum([]byte(seed))
	return "act-" + hex.EncodeToString(sum[:])[:10]
}

func stamp(t time.Time) string {
	return t.Format(time.RFC3339)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// FindFreeSlot returns the earliest start in [windowStart, windowEnd) where
// dur fits without touching any busy interval. Busy intervals outside the
// window are ignored.
func FindFreeSlot(busy []Interval, windowStart, windowEnd time.Time, dur time.Duration) (time.Time, bool) {
	if !windowEnd.After(windowStart) {
		return time.Time{}, false
	}
	var inWindow []Interval
	for _, iv := range busy {
		if iv.End.After(windowStart) && iv.Start.Before(windowEnd) {
			inWindow = append(inWindow, iv)
		}
	}
	sort.SliceStable(inWindow, func(i, j int) bool {
		return inWindow[i].Start.Before(inWindow[j].Start)
	})

	cursor := windowStart
	for _, iv := range inWindow {
		if !cursor.Add(dur).After(iv.Start) {
			return cursor, true
		}
		if iv.End.After(cursor) {
			cursor = iv.End
		}
	}
	if !cursor.Add(dur).After(windowEnd) {
		return cursor, true
	}
	return time.Time{}, false
}

// planner holds the state of one BuildActions run. reserved grows as
// create_block actions are proposed so later heuristics cannot double-book.
type planner struct {
	events   []Event
	reserved []Interval
	actions  []Action
	traces   []string
}

// BuildActions runs the back-to-back, medical prep and daily anchor
// heuristics in that order. It is deterministic: the same events always
// yield the same actions, ids and order. The second result is a
// human-readable trace of every decision.
func BuildActions(events []Event) ([]Action, []string) {
	p := &planner{events: events, actions: []Action{}, traces: []string{}}

	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	p.backToBack(sorted)
	p.medicalBuffers(sorted)
	p.dailyAnchors(sorted)
	return p.actions, p.traces
}

func (p *planner) trace(format string, args ...any) {
	p.traces = append(p.traces, fmt.Sprintf(format, args...))
}

func (p *planner) reserve(start, end time.Time) {
	p.reserved = append(p.reserved, Interval{Start: start, End: end})
}

// slotFree checks [start, end) against every event except excludeID and
// every reserved interval.
func (p *planner) slotFree(start, end time.Time, excludeID string) bool {
	for _, e := range p.events {
		if excludeID != "" && e.ID == excludeID {
			continue
		}
		if (Interval{Start: e.Start, End: e.End}).Overlaps(start, end) {
			return false
		}
	}
	for _, iv := range p.reserved {
		if iv.Overlaps(start, end) {
			return false
		}
	}
	return true
}

func (p *planner) backToBack(sorted []Event) {
	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		gap := next.Start.Sub(cur.End).Minutes()
		switch {
		case gap < 0:
			p.trace("[Back-to-back] %s -> %s: overlap (%.1fm); no action.", cur.Title, next.Title, gap)
		case gap <= backToBackMaxGap:
			seed := strings.Join([]string{ActionSuggestShorten, cur.ID, next.ID, stamp(cur.End)}, ":")
			p.actions = append(p.actions, Action{
				ID:            ActionID(seed),
				Type:          ActionSuggestShorten,
				TargetEventID: cur.ID,
				Minutes:       shortenMinutes,
				Reason:        "Back-to-back events with no buffer.",
				Reasoning:     fmt.Sprintf("Gap is %.1f minutes between '%s' and '%s'.", gap, cur.Title, next.Title),
				Confidence:    0.4,
				Risk:          "low",
			})
			p.trace("[Back-to-back] %s -> %s: gap %.1fm; suggest shorten.", cur.Title, next.Title, gap)
		default:
			p.trace("[Back-to-back] %s -> %s: gap %.1fm; no action.", cur.Title, next.Title, gap)
		}
	}
}

func medicalMatches(title string) []string {
	lower := strings.ToLower(title)
	var out []string
	for _, kw := range medicalKeywords {
		if strings.Contains(lower, kw) {
			out = append(out, kw)
		}
	}
	return out
}

func (p *planner) medicalBuffers(sorted []Event) {
	for _, e := range sorted {
		if e.Private {
			p.trace("[Medical] %s: private event; keyword heuristics skipped.", e.Title)
			continue
		}
		keywords := medicalMatches(e.Title)
		if len(keywords) == 0 {
			p.trace("[Medical] %s: no medical keywords matched.", e.Title)
			continue
		}

		prepStart, prepEnd := e.Start.Add(-bufferDuration), e.Start
		if p.slotFree(prepStart, prepEnd, e.ID) {
			title := "Prep: " + e.Title
			reason := "Medical prep buffer before appointment."
			if e.Location != "" {
				title = "Prep/Travel to " + e.Location
				reason = "Prep/travel buffer before appointment."
			}
			p.actions = append(p.actions, Action{
				ID:             ActionID(strings.Join([]string{ActionCreateBlock, "prep", e.ID, stamp(e.Start)}, ":")),
				Type:           ActionCreateBlock,
				Start:          timePtr(prepStart),
				End:            timePtr(prepEnd),
				Title:          title,
				Reason:         reason,
				Reasoning:      fmt.Sprintf("Keyword match: %s.", strings.Join(keywords, ", ")),
				Confidence:     0.7,
				Risk:           "low",
				RelatedEventID: e.ID,
			})
			p.reserve(prepStart, prepEnd)
			p.trace("[Medical] %s: prep block proposed.", e.Title)
		} else {
			p.trace("[Medical] %s: prep block skipped (slot overlaps).", e.Title)
		}

		if e.Location == "" {
			continue
		}
		travelStart, travelEnd := e.End, e.End.Add(bufferDuration)
		if !p.slotFree(travelStart, travelEnd, e.ID) {
			p.trace("[Medical] %s: travel-from block skipped (slot overlaps).", e.Title)
			continue
		}
		p.actions = append(p.actions, Action{
			ID:             ActionID(strings.Join([]string{ActionCreateBlock, "travel_from", e.ID, stamp(e.End)}, ":")),
			Type:           ActionCreateBlock,
			Start:          timePtr(travelStart),
			End:            timePtr(travelEnd),
			Title:          "Travel from " + e.Location,
			Reason:         "Travel buffer after medical appointment.",
			Reasoning:      "Location present; add travel buffer.",
			Confidence:     0.7,
			Risk:           "low",
			RelatedEventID: e.ID,
		})
		p.reserve(travelStart, travelEnd)
		p.trace("[Medical] %s: travel-from block proposed.", e.Title)
	}
}

// dayKey is the event's calendar date in its own time zone
func dayKey(e Event) string {
	return e.Start.Format("2006-01-02")
}

func (p *planner) dailyAnchors(sorted []Event) {
	byDay := make(map[string][]Event)
	var days []string
	for _, e := range sorted {
		k := dayKey(e)
		if _, ok := byDay[k]; !ok {
			days = append(days, k)
		}
		byDay[k] = append(byDay[k], e)
	}
	sort.Strings(days)

	for _, day := range days {
		dayEvents := byDay[day]
		var total float64
		for _, e := range dayEvents {
			total += e.Minutes()
		}
		if len(dayEvents) < anchorMinEvents && total < anchorMinMinutes {
			p.trace("[Daily anchor] %s: %d events, %.0fm; no action.", day, len(dayEvents), total)
			continue
		}
		if hasPlanningBlock(dayEvents) {
			p.trace("[Daily anchor] %s: planning block already exists; no action.", day)
			continue
		}

		slot, ok := p.anchorSlot(dayEvents)
		if !ok {
			p.trace("[Daily anchor] %s: qualified but no free 20m slot found.", day)
			continue
		}
		end := slot.Add(anchorDuration)
		p.actions = append(p.actions, Action{
			ID:         ActionID(strings.Join([]string{ActionCreateBlock, "daily_admin", day, stamp(slot)}, ":")),
			Type:       ActionCreateBlock,
			Start:      timePtr(slot),
			End:        timePtr(end),
			Title:      dailyPlanningTitle,
			Reason:     "High-activity day needs a planning anchor.",
			Reasoning:  fmt.Sprintf("%d events totaling %.0f minutes.", len(dayEvents), total),
			Confidence: 0.5,
			Risk:       "low",
		})
		p.reserve(slot, end)
		p.trace("[Daily anchor] %s: planning block proposed at %s.", day, slot.Format("15:04:05"))
	}
}

func hasPlanningBlock(events []Event) bool {
	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Title), "daily planning") {
			return true
		}
	}
	return false
}

// anchorSlot searches the morning then the afternoon window of the day,
// in the time zone of the day's first event.
func (p *planner) anchorSlot(dayEvents []Event) (time.Time, bool) {
	first := dayEvents[0].Start
	loc := first.Location()
	busy := make([]Interval, 0, len(dayEvents)+len(p.reserved))
	for _, e := range dayEvents {
		busy = append(busy, Interval{Start: e.Start, End: e.End})
	}
	busy = append(busy, p.reserved...)

	for _, w := range anchorWindows {
		start := time.Date(first.Year(), first.Month(), first.Day(), w.startH, w.startM, 0, 0, loc)
		end := time.Date(first.Year(), first.Month(), first.Day(), w.endH, w.endM, 0, 0, loc)
		if slot, ok := FindFreeSlot(busy, start, end, anchorDuration); ok {
			return slot, true
		}
	}
	return time.Time{}, false
}
