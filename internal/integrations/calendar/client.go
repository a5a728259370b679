package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	tokenLifetime   = 55 * time.Minute // refresh before the 1h expiry
	calendarScope   = "https://www.googleapis.com/auth/calendar.readonly https://www.googleapis.com/auth/calendar.events"
)

// ErrNotConfigured is returned when no credentials are available
var ErrNotConfigured = errors.New("calendar credentials not configured")

// Client is a Google Calendar API client using service account authentication
type Client struct {
	httpClient  *http.Client
	calendarID  string
	baseURL     string
	tokenURL    string
	credentials *serviceAccountCredentials
	now         func() time.Time

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// serviceAccountCredentials holds the service account JSON key
type serviceAccountCredentials struct {
	Type         string `json:"type"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// Config holds calendar client configuration
type Config struct {
	CredentialsFile string // path to a service account JSON key
	CalendarID      string // default calendar, usually an email address
	BaseURL         string // API root override
	TokenURL        string // token endpoint override; defaults to the key's token_uri
	HTTPClient      *http.Client
}

// NewClient creates a client from the service account key at
// cfg.CredentialsFile
func NewClient(cfg Config) (*Client, error) {
	if cfg.CredentialsFile == "" {
		return nil, ErrNotConfigured
	}
	data, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return NewClientFromJSON(data, cfg)
}

// NewClientFromJSON creates a client from service account key bytes
func NewClientFromJSON(key []byte, cfg Config) (*Client, error) {
	var creds serviceAccountCredentials
	if err := json.Unmarshal(key, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Type != "service_account" {
		return nil, fmt.Errorf("credentials file must be a service account key (got %s)", creds.Type)
	}

	c := &Client{
		httpClient:  cfg.HTTPClient,
		calendarID:  cfg.CalendarID,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokenURL:    cfg.TokenURL,
		credentials: &creds,
		now:         time.Now,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.calendarID == "" {
		c.calendarID = "primary"
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.tokenURL == "" {
		c.tokenURL = creds.TokenURI
	}
	if c.tokenURL == "" {
		c.tokenURL = defaultTokenURL
	}
	return c, nil
}

// CalendarID returns the default calendar ID
func (c *Client) CalendarID() string {
	return c.calendarID
}

func (c *Client) resolve(calendarID string) string {
	if calendarID == "" {
		return c.calendarID
	}
	return calendarID
}

// getAccessToken returns a cached access token, exchanging a fresh JWT
// assertion when it has expired
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.accessToken != "" && now.Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	assertion, err := c.signAssertion(now)
	if err != nil {
		return "", fmt.Errorf("sign JWT: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token request failed (%d): %s", resp.StatusCode, string(body))
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response has no access_token")
	}

	c.accessToken = tokenResp.AccessToken
	c.tokenExpiry = now.Add(tokenLifetime)
	return c.accessToken, nil
}

// signAssertion builds the RS256 service-account assertion
func (c *Client) signAssertion(now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.credentials.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   c.credentials.ClientEmail,
		"scope": calendarScope,
		"aud":   c.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	if c.credentials.PrivateKeyID != "" {
		token.Header["kid"] = c.credentials.PrivateKeyID
	}
	return token.SignedString(key)
}

// request makes an authenticated request to the Calendar API
func (c *Client) request(ctx context.Context, method, path string, body any) ([]byte, error) {
	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("get access token: %w", err)
	}

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
	req.Header.Set("Authorization", "Bearer "+token)
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

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return nil, fmt.Errorf("calendar API error (%d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Event represents a calendar event
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Status      string    `json:"status"`               // confirmed, tentative, cancelled
	Visibility  string    `json:"visibility,omitempty"` // default, public, private, confidential
	HTMLLink    string    `json:"html_link,omitempty"`
}

// Fields returns the loosely shaped record the tool server emits: start/end
// as RFC3339 strings, or {"date": ...} objects for all-day events.
func (e Event) Fields() map[string]any {
	m := map[string]any{
		"id":          e.ID,
		"title":       e.Summary,
		"description": e.Description,
		"location":    e.Location,
		"status":      e.Status,
		"visibility":  e.Visibility,
		"all_day":     e.AllDay,
	}
	if e.HTMLLink != "" {
		m["url"] = e.HTMLLink
	}
	if e.AllDay {
		m["start"] = map[string]any{"date": e.Start.Format("2006-01-02")}
		m["end"] = map[string]any{"date": e.End.Format("2006-01-02")}
	} else {
		m["start"] = e.Start.Format(time.RFC3339)
		m["end"] = e.End.Format(time.RFC3339)
	}
	return m
}

// Duration returns the event duration
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// googleEvent is the Google Calendar API event format
type googleEvent struct {
	ID          string          `json:"id"`
	Summary     string          `json:"summary"`
	Description string          `json:"description,omitempty"`
	Location    string          `json:"location,omitempty"`
	Status      string          `json:"status"`
	Visibility  string          `json:"visibility,omitempty"`
	HTMLLink    string          `json:"htmlLink,omitempty"`
	Start       *googleDateTime `json:"start,omitempty"`
	End         *googleDateTime `json:"end,omitempty"`
}

type googleDateTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// ListEventsParams for querying events
type ListEventsParams struct {
	CalendarID string    // empty uses the client default
	TimeMin    time.Time // required
	TimeMax    time.Time // required
	MaxResults int       // default 250
	Query      string
}

// ListEvents retrieves single (expanded) events in the time range ordered by
// start time. Cancelled and malformed events are dropped.
func (c *Client) ListEvents(ctx context.Context, params ListEventsParams) ([]Event, error) {
	if params.MaxResults == 0 {
		params.MaxResults = 250
	}

	q := url.Values{}
	q.Set("timeMin", params.TimeMin.Format(time.RFC3339))
	q.Set("timeMax", params.TimeMax.Format(time.RFC3339))
	q.Set("maxResults", fmt.Sprintf("%d", params.MaxResults))
	q.Set("singleEvents", "true")
	q.Set("orderBy", "startTime")
	if params.Query != "" {
		q.Set("q", params.Query)
	}

	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(c.resolve(params.CalendarID)), q.Encode())
	data, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Items []googleEvent `json:"items"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse events response: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for i := range resp.Items {
		if resp.Items[i].Status == "cancelled" {
			continue
		}
		event, err := convertEvent(&resp.Items[i])
		if err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// CreateEventParams for creating a new event
type CreateEventParams struct {
	CalendarID  string // empty uses the client default
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
}

// CreateEvent creates a new calendar event
func (c *Client) CreateEvent(ctx context.Context, params CreateEventParams) (*Event, error) {
	if !params.End.After(params.Start) {
		return nil, fmt.Errorf("event end %s is not after start %s", params.End.Format(time.RFC3339), params.Start.Format(time.RFC3339))
	}
	event := map[string]any{
		"summary":     params.Summary,
		"description": params.Description,
	}
	if params.Location != "" {
		event["location"] = params.Location
	}
	if params.AllDay {
		event["start"] = map[string]string{"date": params.Start.Format("2006-01-02")}
		event["end"] = map[string]string{"date": params.End.Format("2006-01-02")}
	} else {
		event["start"] = map[string]string{"dateTime": params.Start.Format(time.RFC3339)}
		event["end"] = map[string]string{"dateTime": params.End.Format(time.RFC3339)}
	}

	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(c.resolve(params.CalendarID)))
	data, err := c.request(ctx, http.MethodPost, path, event)
	if err != nil {
		return nil, err
	}

	var item googleEvent
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("parse created event: %w", err)
	}
	result, err := convertEvent(&item)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// convertEvent converts a Google Calendar event to our Event type
func convertEvent(item *googleEvent) (Event, error) {
	event := Event{
		ID:          item.ID,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		Visibility:  item.Visibility,
		HTMLLink:    item.HTMLLink,
	}

	start, allDay, err := parseBoundary(item.Start)
	if err != nil {
		return Event{}, fmt.Errorf("parse start: %w", err)
	}
	end, _, err := parseBoundary(item.End)
	if err != nil {
		return Event{}, fmt.Errorf("parse end: %w", err)
	}
	event.Start, event.End, event.AllDay = start, end, allDay
	return event, nil
}

func parseBoundary(dt *googleDateTime) (time.Time, bool, error) {
	switch {
	case dt == nil:
		return time.Time{}, false, errors.New("missing")
	case dt.DateTime != "":
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err
	case dt.Date != "":
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, true, err
	}
	return time.Time{}, false, errors.New("empty")
}
