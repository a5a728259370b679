package notion

import (
	"fmt"
	"strings"
)

// PropertyUpdate is one validated property change: the PATCH payload plus
// the plain value it will produce, for previews.
type PropertyUpdate struct {
	Name  string
	Type  string
	Patch map[string]any
	Value any
}

// BuildPropertyUpdate validates value against the property's type and builds
// its PATCH payload. Multi-select values are merged into the existing options
// unless given as {"replace": [...]}.
func BuildPropertyUpdate(name string, prop Property, value any) (PropertyUpdate, error) {
	u := PropertyUpdate{Name: name, Type: prop.Type}
	switch prop.Type {
	case "title", "rich_text", "select", "status", "url":
		s, ok := value.(string)
		if !ok {
			return u, fmt.Errorf("%s property '%s' expects a string.", typeLabel(prop.Type), name)
		}
		u.Value = s
		switch prop.Type {
		case "title", "rich_text":
			u.Patch = map[string]any{prop.Type: textValue(s)}
		case "url":
			u.Patch = map[string]any{"url": s}
		default:
			u.Patch = map[string]any{prop.Type: map[string]any{"name": s}}
		}
	case "multi_select":
		names, err := multiSelectNames(name, prop, value)
		if err != nil {
			return u, err
		}
		opts := make([]map[string]any, 0, len(names))
		for _, n := range names {
			opts = append(opts, map[string]any{"name": n})
		}
		u.Value = names
		u.Patch = map[string]any{"multi_select": opts}
	case "checkbox":
		b, ok := value.(bool)
		if !ok {
			return u, fmt.Errorf("Checkbox property '%s' expects true/false.", name)
		}
		u.Value = b
		u.Patch = map[string]any{"checkbox": b}
	case "number":
		n, ok := toNumber(value)
		if !ok {
			return u, fmt.Errorf("Number property '%s' expects a number.", name)
		}
		u.Value = n
		u.Patch = map[string]any{"number": n}
	case "date":
		switch v := value.(type) {
		case string:
			u.Value = map[string]any{"start": v}
		case map[string]any:
			u.Value = v
		default:
			return u, fmt.Errorf("Date property '%s' expects a date string or object.", name)
		}
		u.Patch = map[string]any{"date": u.Value}
	default:
		return u, fmt.Errorf("Property '%s' type '%s' not supported for updates.", name, prop.Type)
	}
	return u, nil
}

func typeLabel(t string) string {
	switch t {
	case "title":
		return "Title"
	case "rich_text":
		return "Rich text"
	case "select":
		return "Select"
	case "status":
		return "Status"
	}
	return "URL"
}

func multiSelectNames(name string, prop Property, value any) ([]string, error) {
	if m, ok := value.(map[string]any); ok {
		if rv, has := m["replace"]; has {
			list, ok := rv.([]any)
			if !ok {
				if ss, ok := rv.([]string); ok {
					return nonEmpty(ss), nil
				}
				return nil, fmt.Errorf("Multi-select property '%s' expects a list for replace.", name)
			}
			return nonEmpty(stringsOf(list)), nil
		}
	}

	var add []string
	switch v := value.(type) {
	case string:
		add = []string{v}
	case []string:
		add = v
	case []any:
		add = stringsOf(v)
	default:
		return nil, fmt.Errorf("Multi-select property '%s' expects a list of strings.", name)
	}

	seen := map[string]bool{}
	var merged []string
	for _, o := range prop.MultiSelect {
		if o.Name != "" && !seen[o.Name] {
			seen[o.Name] = true
			merged = append(merged, o.Name)
		}
	}
	for _, n := range nonEmpty(add) {
		if !seen[n] {
			seen[n] = true
			merged = append(merged, n)
		}
	}
	return merged, nil
}

func stringsOf(list []any) []string {
	out := make([]string, 0, len(list))
	for _, it := range list {
		if it == nil {
			continue
		}
		out = append(out, fmt.Sprint(it))
	}
	return out
}

func nonEmpty(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func textValue(s string) []map[string]any {
	return []map[string]any{{"text": map[string]any{"content": s}}}
}

// ParagraphTexts validates append_blocks entries; only paragraph blocks with
// text are accepted. Rejected entries are reported as error strings.
func ParagraphTexts(raw any) ([]string, []string) {
	list, _ := raw.([]any)
	var texts, errs []string
	for _, it := range list {
		block, _ := it.(map[string]any)
		if block["type"] != "paragraph" {
			errs = append(errs, "Only paragraph blocks are supported.")
			continue
		}
		text, ok := block["text"].(string)
		if !ok {
			errs = append(errs, "Paragraph block requires text.")
			continue
		}
		texts = append(texts, text)
	}
	return texts, errs
}

// PropertySummary is a property reduced to its type and plain value
type PropertySummary struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// PageSummary is the flattened view of a page used in previews
type PageSummary struct {
	ID             string                     `json:"id"`
	Title          string                     `json:"title"`
	URL            string                     `json:"url"`
	LastEditedTime string                     `json:"last_edited_time"`
	Properties     map[string]PropertySummary `json:"properties"`
}

// Summarize flattens the page for display
func (o *Object) Summarize() PageSummary {
	s := PageSummary{
		ID:             o.ID,
		Title:          o.GetTitle(),
		URL:            o.URL,
		LastEditedTime: o.LastEditedTime,
		Properties:     make(map[string]PropertySummary, len(o.Properties)),
	}
	for name, p := range o.Properties {
		s.Properties[name] = PropertySummary{Type: p.Type, Value: PropertyValue(p)}
	}
	return s
}

// Clone returns a copy whose property map can be modified independently
func (s PageSummary) Clone() PageSummary {
	c := s
	c.Properties = make(map[string]PropertySummary, len(s.Properties))
	for k, v := range s.Properties {
		c.Properties[k] = v
	}
	return c
}

// Tool-request database property names
const (
	PropTitle          = "Title"
	PropDescription    = "Description"
	PropDesiredOutcome = "Desired outcome"
	PropStatus         = "Status"
	PropSource         = "Source"
	PropDomain         = "Domain"
	PropImpact         = "Impact"
	PropFrequency      = "Frequency"
	PropLinks          = "Link(s)"
	PropNotes          = "Notes / constraints"
)

// StatusFilter matches any of the given statuses; nil when none are given
func StatusFilter(statuses []string) map[string]any {
	var cleaned []string
	for _, s := range statuses {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	switch len(cleaned) {
	case 0:
		return nil
	case 1:
		return map[string]any{"property": PropStatus, "select": map[string]any{"equals": cleaned[0]}}
	}
	or := make([]any, 0, len(cleaned))
	for _, s := range cleaned {
		or = append(or, map[string]any{"property": PropStatus, "select": map[string]any{"equals": s}})
	}
	return map[string]any{"or": or}
}

// SearchFilter matches query in the title, description or desired outcome
func SearchFilter(query string) map[string]any {
	return map[string]any{"or": []any{
		map[string]any{"property": PropTitle, "title": map[string]any{"contains": query}},
		map[string]any{"property": PropDescription, "rich_text": map[string]any{"contains": query}},
		map[string]any{"property": PropDesiredOutcome, "rich_text": map[string]any{"contains": query}},
	}}
}

// ToolRequest is a tool-request database row
type ToolRequest struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	CreatedTime    string   `json:"created_time"`
	Status         string   `json:"status"`
	Source         string   `json:"source"`
	DesiredOutcome string   `json:"desired_outcome"`
	Domain         []string `json:"domain"`
	Impact         string   `json:"impact"`
	Frequency      string   `json:"frequency"`
	URL            string   `json:"url"`
}

// ToolRequestFromPage reads a row, tolerating missing or mistyped properties
func ToolRequestFromPage(o Object) ToolRequest {
	return ToolRequest{
		ID:             o.ID,
		Title:          o.GetTitle(),
		Description:    typedText(o.Properties, PropDescription, "rich_text"),
		CreatedTime:    o.CreatedTime,
		Status:         typedText(o.Properties, PropStatus, "select"),
		Source:         typedText(o.Properties, PropSource, "select"),
		DesiredOutcome: typedText(o.Properties, PropDesiredOutcome, "rich_text"),
		Domain:         multiSelect(o.Properties, PropDomain),
		Impact:         typedText(o.Properties, PropImpact, "select"),
		Frequency:      typedText(o.Properties, PropFrequency, "select"),
		URL:            o.URL,
	}
}

func typedText(props map[string]Property, name, typ string) string {
	p, ok := props[name]
	if !ok || p.Type != typ {
		return ""
	}
	s, _ := PropertyValue(p).(string)
	return strings.TrimSpace(s)
}

func multiSelect(props map[string]Property, name string) []string {
	p, ok := props[name]
	if !ok || p.Type != "multi_select" {
		return []string{}
	}
	names := []string{}
	for _, o := range p.MultiSelect {
		if n := strings.TrimSpace(o.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// NewToolRequest is the input for creating a tool-request row
type NewToolRequest struct {
	Title          string
	Description    string
	DesiredOutcome string
	Frequency      string
	Impact         string
	Source         string
	Domain         []string
	Link           string
	Notes          string
}

// Properties builds the create-page property payload. New rows start in
// status "new".
func (r NewToolRequest) Properties() map[string]any {
	props := map[string]any{
		PropTitle:          map[string]any{"title": textValue(r.Title)},
		PropDescription:    map[string]any{"rich_text": textValue(r.Description)},
		PropDesiredOutcome: map[string]any{"rich_text": textValue(r.DesiredOutcome)},
		PropStatus:         map[string]any{"select": map[string]any{"name": "new"}},
	}
	for name, v := range map[string]string{PropFrequency: r.Frequency, PropImpact: r.Impact, PropSource: r.Source} {
		if v != "" {
			props[name] = map[string]any{"select": map[string]any{"name": v}}
		}
	}
	if len(r.Domain) > 0 {
		opts := make([]map[string]any, 0, len(r.Domain))
		for _, d := range r.Domain {
			opts = append(opts, map[string]any{"name": d})
		}
		props[PropDomain] = map[string]any{"multi_select": opts}
	}
	if r.Link != "" {
		props[PropLinks] = map[string]any{"url": r.Link}
	}
	if r.Notes != "" {
		props[PropNotes] = map[string]any{"rich_text": textValue(r.Notes)}
	}
	return props
}
