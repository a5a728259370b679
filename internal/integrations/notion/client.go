package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.notion.com/v1"
	notionVersion  = "2022-06-28"
	defaultTimeout = 15 * time.Second
)

// ErrRateLimited matches errors caused by HTTP 429 responses
var ErrRateLimited = errors.New("notion rate limited")

// ErrNoToken is returned by NewClient when no token is configured
var ErrNoToken = errors.New("notion token not set")

// RateLimitError carries the Retry-After header of a 429 response
type RateLimitError struct {
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	retry := e.RetryAfter
	if retry == "" {
		retry = "later"
	}
	return fmt.Sprintf("Notion rate limited (HTTP 429). Retry after %s.", retry)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Client is a Notion API client
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another API root (tests, proxies)
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default 15s-timeout HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient creates a client authenticated with token
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// request makes an authenticated request to the Notion API
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", notionVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: resp.Header.Get("Retry-After")}
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			if errResp.Message != "" {
				return nil, fmt.Errorf("notion API error (%d): %s", resp.StatusCode, errResp.Message)
			}
			if errResp.Code != "" {
				return nil, fmt.Errorf("notion API error (%d): %s", resp.StatusCode, errResp.Code)
			}
		}
		return nil, fmt.Errorf("notion API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// ErrorResponse is a Notion API error
type ErrorResponse struct {
	Object  string `json:"object"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchParams for the search endpoint
type SearchParams struct {
	Query       string        `json:"query,omitempty"`
	Filter      *ObjectFilter `json:"filter,omitempty"`
	Sort        *SearchSort   `json:"sort,omitempty"`
	StartCursor string        `json:"start_cursor,omitempty"`
	PageSize    int           `json:"page_size,omitempty"`
}

// ObjectFilter restricts search to pages or databases
type ObjectFilter struct {
	Property string `json:"property"`
	Value    string `json:"value"` // "page" or "database"
}

type SearchSort struct {
	Direction string `json:"direction"` // "ascending" or "descending"
	Timestamp string `json:"timestamp"` // "last_edited_time"
}

// ListResult is the paginated response of search and database queries
type ListResult struct {
	Object     string   `json:"object"`
	Results    []Object `json:"results"`
	NextCursor string   `json:"next_cursor,omitempty"`
	HasMore    bool     `json:"has_more"`
}

// Object is a generic Notion object (page or database)
type Object struct {
	Object         string              `json:"object"` // "page" or "database"
	ID             string              `json:"id"`
	CreatedTime    string              `json:"created_time"`
	LastEditedTime string              `json:"last_edited_time"`
	Title          []RichText          `json:"title,omitempty"`
	Properties     map[string]Property `json:"properties,omitempty"`
	URL            string              `json:"url,omitempty"`
	Parent         Parent              `json:"parent,omitempty"`
}

// RichText is a Notion rich text object
type RichText struct {
	Type      string   `json:"type"`
	PlainText string   `json:"plain_text"`
	Text      *TextObj `json:"text,omitempty"`
}

type TextObj struct {
	Content string `json:"content"`
}

// Parent describes the parent of an object
type Parent struct {
	Type       string `json:"type"`
	DatabaseID string `json:"database_id,omitempty"`
	PageID     string `json:"page_id,omitempty"`
	Workspace  bool   `json:"workspace,omitempty"`
}

// Property is a page property value
type Property struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Title       []RichText     `json:"title,omitempty"`
	RichText    []RichText     `json:"rich_text,omitempty"`
	Number      *float64       `json:"number,omitempty"`
	Select      *SelectOption  `json:"select,omitempty"`
	MultiSelect []SelectOption `json:"multi_select,omitempty"`
	Date        *DateProperty  `json:"date,omitempty"`
	Checkbox    bool           `json:"checkbox,omitempty"`
	URL         string         `json:"url,omitempty"`
	Status      *SelectOption  `json:"status,omitempty"`
}

type SelectOption struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type DateProperty struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

// Database is a Notion database with schema
type Database struct {
	Object     string                    `json:"object"`
	ID         string                    `json:"id"`
	Title      []RichText                `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
	URL        string                    `json:"url"`
}

// PropertySchema describes a database property
type PropertySchema struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Select      *SelectSchema `json:"select,omitempty"`
	MultiSelect *SelectSchema `json:"multi_select,omitempty"`
	Status      *SelectSchema `json:"status,omitempty"`
}

type SelectSchema struct {
	Options []SelectOption `json:"options"`
}

// QueryParams for querying a database
type QueryParams struct {
	Filter      any    `json:"filter,omitempty"`
	Sorts       []Sort `json:"sorts,omitempty"`
	StartCursor string `json:"start_cursor,omitempty"`
	PageSize    int    `json:"page_size,omitempty"`
}

type Sort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"` // "created_time" or "last_edited_time"
	Direction string `json:"direction"`           // "ascending" or "descending"
}

// NewestFirst sorts by creation time, newest first
var NewestFirst = []Sort{{Timestamp: "created_time", Direction: "descending"}}

// Search searches pages and databases
func (c *Client) Search(ctx context.Context, params SearchParams) (*ListResult, error) {
	if params.PageSize == 0 {
		params.PageSize = 100
	}
	data, err := c.request(ctx, http.MethodPost, "/search", params)
	if err != nil {
		return nil, err
	}
	var result ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal search result: %w", err)
	}
	return &result, nil
}

// GetPage retrieves a page by ID
func (c *Client) GetPage(ctx context.Context, pageID string) (*Object, error) {
	data, err := c.request(ctx, http.MethodGet, "/pages/"+pageID, nil)
	if err != nil {
		return nil, err
	}
	var page Object
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("unmarshal page: %w", err)
	}
	return &page, nil
}

// GetDatabase retrieves a database schema by ID
func (c *Client) GetDatabase(ctx context.Context, databaseID string) (*Database, error) {
	data, err := c.request(ctx, http.MethodGet, "/databases/"+databaseID, nil)
	if err != nil {
		return nil, err
	}
	var db Database
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("unmarshal database: %w", err)
	}
	return &db, nil
}

// QueryDatabase queries a database with optional filter and sort
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, params QueryParams) (*ListResult, error) {
	if params.PageSize == 0 {
		params.PageSize = 100
	}
	data, err := c.request(ctx, http.MethodPost, "/databases/"+databaseID+"/query", params)
	if err != nil {
		return nil, err
	}
	var result ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal query result: %w", err)
	}
	return &result, nil
}

// UpdatePage patches page properties and returns the updated page
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) (*Object, error) {
	data, err := c.request(ctx, http.MethodPatch, "/pages/"+pageID, map[string]any{"properties": properties})
	if err != nil {
		return nil, err
	}
	var page Object
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("unmarshal page: %w", err)
	}
	return &page, nil
}

// AppendParagraphs appends one paragraph block per text to the page body
func (c *Client) AppendParagraphs(ctx context.Context, pageID string, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	children := make([]map[string]any, 0, len(texts))
	for _, t := range texts {
		children = append(children, map[string]any{
			"object":    "block",
			"type":      "paragraph",
			"paragraph": map[string]any{"rich_text": textValue(t)},
		})
	}
	_, err := c.request(ctx, http.MethodPatch, "/blocks/"+pageID+"/children", map[string]any{"children": children})
	return err
}

// CreatePage creates a page in a database
func (c *Client) CreatePage(ctx context.Context, databaseID string, properties map[string]any) (*Object, error) {
	body := map[string]any{
		"parent":     map[string]any{"database_id": databaseID},
		"properties": properties,
	}
	data, err := c.request(ctx, http.MethodPost, "/pages", body)
	if err != nil {
		return nil, err
	}
	var page Object
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("unmarshal page: %w", err)
	}
	return &page, nil
}

// PlainText joins the plain text of rich text items
func PlainText(items []RichText) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.PlainText)
	}
	return strings.TrimSpace(b.String())
}

// GetTitle extracts the plain text title from a page or database
func (o *Object) GetTitle() string {
	if len(o.Title) > 0 {
		return PlainText(o.Title)
	}
	if name := TitlePropertyName(o.Properties); name != "" {
		return PlainText(o.Properties[name].Title)
	}
	return ""
}

// TitlePropertyName returns the name of the title-typed property
func TitlePropertyName(props map[string]Property) string {
	for name, p := range props {
		if p.Type == "title" {
			return name
		}
	}
	return ""
}

// GetPropertyText gets the text value of a property
func (o *Object) GetPropertyText(name string) string {
	prop, ok := o.Properties[name]
	if !ok {
		return ""
	}
	switch v := PropertyValue(prop).(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case *float64:
		if v == nil {
			return ""
		}
		return fmt.Sprintf("%v", *v)
	case *DateProperty:
		if v == nil {
			return ""
		}
		return v.Start
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PropertyValue returns a plain Go value for a property: strings for text,
// select and url types, []string for multi_select, and so on. Unsupported
// types yield nil.
func PropertyValue(p Property) any {
	switch p.Type {
	case "title":
		return PlainText(p.Title)
	case "rich_text":
		return PlainText(p.RichText)
	case "select":
		if p.Select != nil {
			return p.Select.Name
		}
		return nil
	case "status":
		if p.Status != nil {
			return p.Status.Name
		}
		return nil
	case "multi_select":
		names := make([]string, 0, len(p.MultiSelect))
		for _, o := range p.MultiSelect {
			names = append(names, o.Name)
		}
		return names
	case "checkbox":
		return p.Checkbox
	case "number":
		return p.Number
	case "url":
		return p.URL
	case "date":
		return p.Date
	}
	return nil
}
