// Package router classifies free-text requests into routes and extracts
// route parameters. Classification is an ordered rule table: the first
// rule whose predicate matches wins.
package router

import (
	"regexp"
	"strings"

	"github.com/vthunder/toolbox/internal/types"
)

// Route is a classified action category
type Route string

const (
	RouteScaffold   Route = "scaffold"
	RouteApplyLast  Route = "apply_last"
	RoutePrefs      Route = "prefs"
	RouteCorrection Route = "correct_tool_request"
	RouteCall       Route = "call"
	RouteDeploy     Route = "deploy"
	RouteEditNotion Route = "edit_notion"
	RouteTriage     Route = "triage"
	RouteSearch     Route = "search"
	RouteList       Route = "list"
	RouteUnknown    Route = "unknown"
)

// Flags are explicit caller overrides that take part in routing
type Flags struct {
	ForceScaffold bool
}

// Correction is an (old, new) phrase pair
type Correction struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// PrefsChange is a requested preference update. Nil fields mean unchanged.
type PrefsChange struct {
	AutoApplyEnabled   *bool    `json:"auto_apply_enabled,omitempty"`
	AutoApplyThreshold *float64 `json:"auto_apply_threshold,omitempty"`
	InvalidThreshold   string   `json:"invalid_threshold,omitempty"` // value given but out of range
}

// Empty reports whether nothing would change
func (p PrefsChange) Empty() bool {
	return p.AutoApplyEnabled == nil && p.AutoApplyThreshold == nil && p.InvalidThreshold == ""
}

// Params are the route-specific values pulled out of the request
type Params struct {
	Query      string             `json:"query,omitempty"`
	PageID     string             `json:"page_id,omitempty"`
	Tool       string             `json:"tool,omitempty"`
	Args       string             `json:"args,omitempty"` // raw JSON object text
	Correction *Correction        `json:"correction,omitempty"`
	Updates    *types.PageUpdates `json:"updates,omitempty"`
	Prefs      *PrefsChange       `json:"prefs,omitempty"`
	Notes      []string           `json:"notes,omitempty"`
}

// Decision is the router's output for one request
type Decision struct {
	Route  Route  `json:"route"`
	Rule   string `json:"rule"`
	Params Params `json:"params"`
}

// Request is the normalized input seen by rule predicates
type Request struct {
	Text  string
	Lower string
	Flags Flags
}

// Rule is one entry of the precedence table
type Rule struct {
	Name    string
	Route   Route
	Match   func(r Request) bool
	Extract func(r Request) Params
}

func phrases(words ...string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = strings.ReplaceAll(regexp.QuoteMeta(w), " ", `\s+`)
	}
	// inflected forms (searching, triaging, implemented) match their stem
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\w*`)
}

var (
	applyLastRe   = phrases("apply that", "apply last preview", "apply last correction", "apply the last preview", "apply the last correction")
	prefsRe       = phrases("auto apply", "auto-apply", "autoapply")
	toolRequestRe = phrases("tool request", "tool requests", "friction log")
	correctVerbRe = phrases("fix", "correct", "change", "update", "edit")
	deployRe      = phrases("deploy", "ship", "push to vm")
	notionRe      = phrases("notion")
	editVerbRe    = phrases("edit", "update", "change", "fix", "correct", "rename", "set", "add tag", "remove tag")
	scaffoldRe    = phrases("scaffold", "start project", "start a project", "create tool", "implement")
	triageRe      = phrases("pick", "choose", "what to build", "next tool", "triag", "what should we build",
		"build next", "build something", "make a wish", "fulfil a wish", "fulfill a wish")
	searchRe = phrases("search", "find", "lookup")
	listRe   = phrases("list wishes", "show wishes", "list tool requests", "show tool requests",
		"list requests", "show requests", "show backlog", "list backlog")
)

// Rules is the routing precedence table, evaluated top to bottom.
var Rules = []Rule{
	{
		Name:  "force_scaffold",
		Route: RouteScaffold,
		Match: func(r Request) bool { return r.Flags.ForceScaffold },
	},
	{
		Name:  "apply_last",
		Route: RouteApplyLast,
		Match: func(r Request) bool { return applyLastRe.MatchString(r.Text) },
	},
	{
		Name:    "prefs",
		Route:   RoutePrefs,
		Match:   func(r Request) bool { return prefsRe.MatchString(r.Text) },
		Extract: extractPrefs,
	},
	{
		Name:  "tool_request_correction",
		Route: RouteCorrection,
		Match: func(r Request) bool {
			return toolRequestRe.MatchString(r.Text) && correctVerbRe.MatchString(r.Text)
		},
		Extract: extractCorrection,
	},
	{
		Name:    "call",
		Route:   RouteCall,
		Match:   func(r Request) bool { return callRe.MatchString(r.Text) },
		Extract: extractCall,
	},
	{
		Name:  "deploy",
		Route: RouteDeploy,
		Match: func(r Request) bool { return deployRe.MatchString(r.Text) },
	},
	{
		Name:  "edit_notion",
		Route: RouteEditNotion,
		Match: func(r Request) bool {
			return notionRe.MatchString(r.Text) && editVerbRe.MatchString(r.Text)
		},
		Extract: extractEdit,
	},
	{
		Name:  "scaffold",
		Route: RouteScaffold,
		Match: func(r Request) bool { return scaffoldRe.MatchString(r.Text) },
	},
	{
		Name:  "triage",
		Route: RouteTriage,
		Match: func(r Request) bool { return triageRe.MatchString(r.Text) },
	},
	{
		Name:  "search",
		Route: RouteSearch,
		Match: func(r Request) bool { return searchRe.MatchString(r.Text) },
		Extract: func(r Request) Params {
			return Params{Query: ExtractSearchQuery(r.Text)}
		},
	},
	{
		Name:  "list",
		Route: RouteList,
		Match: func(r Request) bool { return listRe.MatchString(r.Text) },
	},
}

// Classify routes a request. It never fails: no match yields RouteUnknown.
func Classify(s string, flags Flags) Decision {
	req := Request{Text: strings.TrimSpace(s), Lower: strings.ToLower(s), Flags: flags}
	for _, rule := range Rules {
		if !rule.Match(req) {
			continue
		}
		d := Decision{Route: rule.Route, Rule: rule.Name}
		if rule.Extract != nil {
			d.Params = rule.Extract(req)
		}
		return d
	}
	return Decision{Route: RouteUnknown, Rule: "fallback"}
}

// Suggestions are example invocations offered when nothing matched
func Suggestions(cli string) []string {
	return []string{
		`Try: ` + cli + ` "what should we build next?"`,
		`Or: ` + cli + ` "show tool requests"`,
		`Or: ` + cli + ` "search tool requests for pantry"`,
		`Or: ` + cli + ` "fix tool request 'old phrase' to 'new phrase'"`,
	}
}

var mutatingToolRe = regexp.MustCompile(`(?i)(apply|deploy|write|create|set|update|delete)`)

// IsMutatingTool reports whether calling the tool may change external state
func IsMutatingTool(name string) bool {
	return mutatingToolRe.MatchString(name)
}
