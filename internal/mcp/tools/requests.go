package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vthunder/toolbox/internal/integrations/notion"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/text"
	"github.com/vthunder/toolbox/internal/types"
)

var defaultStatuses = []string{"new", "triaging"}

// notionConfigErrors lists what is missing for tool-request database access
func notionConfigErrors(deps *Dependencies, needDB bool) []string {
	var errs []string
	if deps.Notion == nil {
		errs = append(errs, "NOTION_TOKEN is not set on the server.")
	}
	if needDB && deps.ToolRequestsDB == "" {
		errs = append(errs, "TOOL_REQUESTS_DB_ID is not set on the server.")
	}
	return errs
}

func itemsResult(items []notion.ToolRequest) map[string]any {
	if items == nil {
		items = []notion.ToolRequest{}
	}
	return map[string]any{"items": items}
}

// summarizeItems renders "<label>: N item(s). Top: a; b; c."
func summarizeItems(items []notion.ToolRequest, label string) string {
	titles := make([]string, 0, 3)
	for _, it := range items {
		if len(titles) == 3 {
			break
		}
		t := it.Title
		if t == "" {
			t = "Untitled"
		}
		titles = append(titles, t)
	}
	summary := fmt.Sprintf("%s: %d item(s).", label, len(items))
	if len(titles) > 0 {
		summary += " Top: " + strings.Join(titles, "; ") + "."
	}
	return summary
}

func (d *Dependencies) queryToolRequests(ctx context.Context, filter map[string]any, limit int) ([]notion.ToolRequest, error) {
	params := notion.QueryParams{Sorts: notion.NewestFirst, PageSize: clampLimit(limit)}
	if filter != nil {
		params.Filter = filter
	}
	res, err := d.Notion.QueryDatabase(ctx, d.ToolRequestsDB, params)
	if err != nil {
		return nil, err
	}
	items := make([]notion.ToolRequest, 0, len(res.Results))
	for _, page := range res.Results {
		items = append(items, notion.ToolRequestFromPage(page))
	}
	return items, nil
}

// notionMessage strips the client's status prefix so envelope errors read
// like Notion's own message. Rate-limit errors already carry their text.
func notionMessage(err error) string {
	var rl *notion.RateLimitError
	if errors.As(err, &rl) {
		return rl.Error()
	}
	msg := err.Error()
	if i := strings.Index(msg, "): "); i >= 0 && strings.HasPrefix(msg, "notion API error (") {
		return msg[i+3:]
	}
	return msg
}

func registerToolRequestTools(reg *mcp.Registry, deps *Dependencies) {
	reg.Register("tool_requests_latest", mcp.ToolDef{
		Description: "Return the latest Tool Requests entries filtered by status.",
		Properties: map[string]mcp.PropDef{
			"limit":    {Type: "number", Description: "Maximum items (1-50, default 10)"},
			"statuses": {Type: "array", Description: "Statuses to include (default new, triaging)"},
		},
	}, handle(deps, "tool_requests_latest", func(ctx context.Context, args map[string]any) types.Envelope {
		if errs := notionConfigErrors(deps, true); len(errs) > 0 {
			return failure("Missing configuration for Notion access.", itemsResult(nil),
				"Set NOTION_TOKEN and TOOL_REQUESTS_DB_ID.", errs...)
		}
		statuses := stringsArg(args, "statuses")
		if len(statuses) == 0 {
			statuses = defaultStatuses
		}
		items, err := deps.queryToolRequests(ctx, notion.StatusFilter(statuses), intArg(args, "limit", 10))
		if err != nil {
			return failure("Failed to fetch Tool Requests.", itemsResult(nil),
				"Check Notion token, DB ID, and permissions.", notionMessage(err))
		}
		env := types.NewEnvelope(summarizeItems(items, "Latest tool requests"))
		env.Result = itemsResult(items)
		return env
	}))

	reg.Register("tool_requests_search", mcp.ToolDef{
		Description: "Search Tool Requests by keyword across title, description and desired outcome.",
		Properties: map[string]mcp.PropDef{
			"query": {Type: "string", Description: "Search text"},
			"limit": {Type: "number", Description: "Maximum items (1-50, default 10)"},
		},
		Required: []string{"query"},
	}, handle(deps, "tool_requests_search", func(ctx context.Context, args map[string]any) types.Envelope {
		query := strings.TrimSpace(stringArg(args, "query"))
		errs := notionConfigErrors(deps, true)
		if query == "" {
			errs = append(errs, "Query is required.")
		}
		if len(errs) > 0 {
			return failure("Missing configuration for Notion search.", itemsResult(nil),
				"Set NOTION_TOKEN and TOOL_REQUESTS_DB_ID.", errs...)
		}
		items, err := deps.queryToolRequests(ctx, notion.SearchFilter(query), intArg(args, "limit", 10))
		if err != nil {
			return failure("Failed to search Tool Requests.", itemsResult(nil),
				"Check Notion token, DB ID, and permissions.", notionMessage(err))
		}
		env := types.NewEnvelope(summarizeItems(items, "Search results"))
		env.Result = itemsResult(items)
		return env
	}))

	reg.Register("tool_requests_create", mcp.ToolDef{
		Description: "Create a Tool Requests entry with status new.",
		Properties: map[string]mcp.PropDef{
			"title":           {Type: "string", Description: "Short title"},
			"description":     {Type: "string", Description: "What is wrong or missing"},
			"desired_outcome": {Type: "string", Description: "What done looks like"},
			"frequency":       {Type: "string", Description: "once, weekly, daily, many-times-per-day"},
			"impact":          {Type: "string", Description: "low, medium, high"},
			"domain":          {Type: "array", Description: "Domain tags"},
			"source":          {Type: "string", Description: "Where the request came from"},
			"link":            {Type: "string", Description: "Related URL"},
			"notes":           {Type: "string", Description: "Notes or constraints"},
		},
		Required: []string{"title"},
	}, handle(deps, "tool_requests_create", func(ctx context.Context, args map[string]any) types.Envelope {
		title := text.NormalizeWhitespace(stringArg(args, "title"))
		errs := notionConfigErrors(deps, true)
		if title == "" {
			errs = append(errs, "title is required.")
		}
		if len(errs) > 0 {
			return failure("Missing configuration for Notion create.", map[string]any{"page": nil},
				"Set NOTION_TOKEN and TOOL_REQUESTS_DB_ID.", errs...)
		}

		req := notion.NewToolRequest{
			Title:          title,
			Description:    stringArg(args, "description"),
			DesiredOutcome: stringArg(args, "desired_outcome"),
			Frequency:      stringArg(args, "frequency"),
			Impact:         stringArg(args, "impact"),
			Source:         stringArg(args, "source"),
			Domain:         text.NormalizeDomain(args["domain"]),
			Link:           stringArg(args, "link"),
			Notes:          stringArg(args, "notes"),
		}
		page, err := deps.Notion.CreatePage(ctx, deps.ToolRequestsDB, req.Properties())
		if err != nil {
			return failure("Failed to create Tool Request.", map[string]any{"page": nil},
				"Check Notion token, DB ID, and permissions.", notionMessage(err))
		}
		if deps.ActivityLog != nil {
			deps.ActivityLog.LogMutation("Created tool request "+title, "tool_requests_create",
				map[string]any{"page_id": page.ID, "url": page.URL})
		}
		env := types.NewEnvelope("Created tool request: " + title)
		env.Result = map[string]any{"id": page.ID, "url": page.URL, "title": title}
		return env
	}))
}
