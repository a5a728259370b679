package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vthunder/toolbox/internal/integrations/notion"
	"github.com/vthunder/toolbox/internal/mcp"
	"github.com/vthunder/toolbox/internal/types"
)

// pageChanges is a validated notion_update_page request
type pageChanges struct {
	patches map[string]any
	values  map[string]notion.PropertySummary
	title   *string
	blocks  []string
	errs    []string
}

// buildPageChanges validates updates against the page's current properties.
// Invalid entries become error strings; valid ones still apply.
func buildPageChanges(page *notion.Object, updates map[string]any) pageChanges {
	ch := pageChanges{patches: map[string]any{}, values: map[string]notion.PropertySummary{}}
	add := func(name string, prop notion.Property, value any) {
		u, err := notion.BuildPropertyUpdate(name, prop, value)
		if err != nil {
			ch.errs = append(ch.errs, err.Error())
			return
		}
		ch.patches[name] = u.Patch
		ch.values[name] = notion.PropertySummary{Type: u.Type, Value: u.Value}
	}

	if title, ok := updates["title"]; ok && title != nil {
		name := notion.TitlePropertyName(page.Properties)
		if name == "" {
			ch.errs = append(ch.errs, "No title property found on page.")
		} else {
			add(name, page.Properties[name], title)
			if s, ok := title.(string); ok {
				ch.title = &s
			}
		}
	}

	if props, ok := updates["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop, exists := page.Properties[name]
			if !exists {
				ch.errs = append(ch.errs, fmt.Sprintf("Property '%s' does not exist on this page.", name))
				continue
			}
			add(name, prop, props[name])
		}
	}

	texts, blockErrs := notion.ParagraphTexts(updates["append_blocks"])
	ch.blocks = texts
	ch.errs = append(ch.errs, blockErrs...)
	return ch
}

func (ch pageChanges) preview(before notion.PageSummary) notion.PageSummary {
	after := before.Clone()
	for name, v := range ch.values {
		after.Properties[name] = v
	}
	if ch.title != nil {
		after.Title = *ch.title
	}
	return after
}

func (ch pageChanges) updatedNames() []string {
	names := make([]string, 0, len(ch.patches))
	for name := range ch.patches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func registerNotionTools(reg *mcp.Registry, deps *Dependencies) {
	reg.Register("notion_search", mcp.ToolDef{
		Description: "Search Notion pages by text.",
		Properties: map[string]mcp.PropDef{
			"query": {Type: "string", Description: "Search text"},
			"limit": {Type: "number", Description: "Maximum pages (1-50, default 10)"},
		},
		Required: []string{"query"},
	}, handle(deps, "notion_search", func(ctx context.Context, args map[string]any) types.Envelope {
		query := strings.TrimSpace(stringArg(args, "query"))
		errs := notionConfigErrors(deps, false)
		if query == "" {
			errs = append(errs, "Query is required.")
		}
		if len(errs) > 0 {
			return failure("Missing configuration for Notion search.", map[string]any{"items": []any{}},
				"Set NOTION_TOKEN and provide a query.", errs...)
		}

		res, err := deps.Notion.Search(ctx, notion.SearchParams{
			Query:    query,
			Filter:   &notion.ObjectFilter{Property: "object", Value: "page"},
			PageSize: clampLimit(intArg(args, "limit", 10)),
		})
		if err != nil {
			return failure("Failed to search Notion.", map[string]any{"items": []any{}},
				"Check Notion token and permissions.", notionMessage(err))
		}
		items := make([]map[string]any, 0, len(res.Results))
		for _, page := range res.Results {
			items = append(items, map[string]any{
				"id":               page.ID,
				"title":            page.GetTitle(),
				"last_edited_time": page.LastEditedTime,
				"url":              page.URL,
			})
		}
		env := types.NewEnvelope(fmt.Sprintf("Found %d Notion page(s) for query '%s'.", len(items), query))
		env.Result = map[string]any{"items": items}
		return env
	}))

	reg.Register("notion_get_page", mcp.ToolDef{
		Description: "Fetch a Notion page with its properties flattened to plain values.",
		Properties: map[string]mcp.PropDef{
			"page_id": {Type: "string", Description: "Page id (with or without hyphens)"},
		},
		Required: []string{"page_id"},
	}, handle(deps, "notion_get_page", func(ctx context.Context, args map[string]any) types.Envelope {
		pageID := strings.TrimSpace(stringArg(args, "page_id"))
		errs := notionConfigErrors(deps, false)
		if pageID == "" {
			errs = append(errs, "page_id is required.")
		}
		if len(errs) > 0 {
			return failure("Missing configuration for Notion page fetch.", map[string]any{"page": nil},
				"Set NOTION_TOKEN and provide page_id.", errs...)
		}
		page, err := deps.Notion.GetPage(ctx, pageID)
		if err != nil {
			return failure("Failed to fetch Notion page.", map[string]any{"page": nil},
				"Check Notion token, page ID, and permissions.", notionMessage(err))
		}
		summary := page.Summarize()
		env := types.NewEnvelope(fmt.Sprintf("Fetched Notion page '%s'.", summary.Title))
		env.Result = map[string]any{"page": summary}
		return env
	}))

	reg.Register("notion_update_page", mcp.ToolDef{
		Description: "Update a Notion page's title and properties and append paragraph notes. Dry-run by default.",
		Properties: map[string]mcp.PropDef{
			"page_id": {Type: "string", Description: "Page id"},
			"updates": {Type: "object", Description: "{title?, properties?: {name: value}, append_blocks?: [{type: paragraph, text}]}"},
			"dry_run": {Type: "boolean", Description: "Preview only (default true)"},
		},
		Required: []string{"page_id", "updates"},
	}, handle(deps, "notion_update_page", func(ctx context.Context, args map[string]any) types.Envelope {
		pageID := strings.TrimSpace(stringArg(args, "page_id"))
		updates, isObj := args["updates"].(map[string]any)
		errs := notionConfigErrors(deps, false)
		if pageID == "" {
			errs = append(errs, "page_id is required.")
		}
		if !isObj {
			errs = append(errs, "updates must be an object.")
		}
		if len(errs) > 0 {
			return failure("Missing configuration for Notion update.", nil,
				"Set NOTION_TOKEN and provide page_id/updates.", errs...)
		}

		page, err := deps.Notion.GetPage(ctx, pageID)
		if err != nil {
			return failure("Failed to fetch Notion page.", nil,
				"Check Notion token, page ID, and permissions.", notionMessage(err))
		}
		before := page.Summarize()
		ch := buildPageChanges(page, updates)

		if boolArg(args, "dry_run", true) {
			env := types.NewEnvelope("Dry-run: Notion update preview generated.")
			env.Result = map[string]any{
				"page_id":             pageID,
				"url":                 page.URL,
				"dry_run":             true,
				"before":              before,
				"after":               ch.preview(before),
				"proposed_updates":    updates,
				"append_blocks_count": len(ch.blocks),
			}
			env.NextActions = []string{"Re-run with dry_run=false to apply updates."}
			env.Errors = append(env.Errors, ch.errs...)
			return env
		}

		errs = ch.errs
		after := before
		if len(ch.patches) > 0 {
			updated, err := deps.Notion.UpdatePage(ctx, pageID, ch.patches)
			if err != nil {
				errs = append(errs, notionMessage(err))
			} else {
				after = updated.Summarize()
				page = updated
			}
		}
		if len(ch.blocks) > 0 {
			if err := deps.Notion.AppendParagraphs(ctx, pageID, ch.blocks); err != nil {
				errs = append(errs, notionMessage(err))
			}
		}

		summary := "Updated Notion page."
		if len(errs) > 0 {
			summary = "Update completed with warnings."
		}
		if deps.ActivityLog != nil {
			deps.ActivityLog.LogMutation(summary, "notion_update_page", map[string]any{
				"page_id":            pageID,
				"updated_properties": ch.updatedNames(),
				"append_blocks":      len(ch.blocks),
			})
		}
		env := types.NewEnvelope(summary)
		env.Result = map[string]any{
			"page_id":             pageID,
			"url":                 page.URL,
			"dry_run":             false,
			"before":              before,
			"after":               after,
			"updated_properties":  ch.updatedNames(),
			"append_blocks_count": len(ch.blocks),
		}
		env.Errors = append(env.Errors, errs...)
		return env
	}))
}
