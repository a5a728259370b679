package calendar

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	creds, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"private_key_id": "kid-1",
		"private_key":    string(pemBytes),
		"client_email":   "bot@example.iam.gserviceaccount.com",
	})
	require.NoError(t, err)
	return key, creds
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = NewClientFromJSON([]byte(`{"type":"authorized_user"}`), Config{})
	assert.ErrorContains(t, err, "service account")

	_, creds := testKey(t)
	path := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(path, creds, 0600))
	c, err := NewClient(Config{CredentialsFile: path})
	require.NoError(t, err)
	assert.Equal(t, "primary", c.CalendarID())
}

func TestClientListAndCreate(t *testing.T) {
	key, creds := testKey(t)
	var tokenCalls atomic.Int32
	var created map[string]any

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		parsed, err := jwt.Parse(r.PostForm.Get("assertion"), func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "kid-1", parsed.Header["kid"])
		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, "bot@example.iam.gserviceaccount.com", claims["iss"])
		w.Write([]byte(`{"access_token":"at-1","expires_in":3600}`))
	})
	mux.HandleFunc("/calendars/team@example.com/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&created)
			w.Write([]byte(`{"id":"new1","summary":"Prep","status":"confirmed",
				"start":{"dateTime":"2026-03-02T09:45:00Z"},"end":{"dateTime":"2026-03-02T10:00:00Z"}}`))
			return
		}
		assert.Equal(t, "true", r.URL.Query().Get("singleEvents"))
		w.Write([]byte(`{"items":[
			{"id":"e1","summary":"Dentist","status":"confirmed","visibility":"private",
			 "start":{"dateTime":"2026-03-02T10:00:00Z"},"end":{"dateTime":"2026-03-02T11:00:00Z"}},
			{"id":"e2","summary":"Holiday","status":"confirmed","start":{"date":"2026-03-03"},"end":{"date":"2026-03-04"}},
			{"id":"e3","summary":"Gone","status":"cancelled","start":{"date":"2026-03-03"},"end":{"date":"2026-03-04"}},
			{"id":"e4","summary":"Broken","status":"confirmed"}
		]}`))
	})
	mux.HandleFunc("/calendars/missing/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewClientFromJSON(creds, Config{
		CalendarID: "team@example.com",
		BaseURL:    srv.URL,
		TokenURL:   srv.URL + "/token",
	})
	require.NoError(t, err)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	events, err := c.ListEvents(ctx, ListEventsParams{TimeMin: day, TimeMax: day.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "private", events[0].Visibility)
	assert.Equal(t, time.Hour, events[0].Duration())
	assert.True(t, events[1].AllDay)

	fields := events[0].Fields()
	assert.Equal(t, "Dentist", fields["title"])
	assert.Equal(t, "2026-03-02T10:00:00Z", fields["start"])
	assert.Equal(t, map[string]any{"date": "2026-03-03"}, events[1].Fields()["start"])

	ev, err := c.CreateEvent(ctx, CreateEventParams{
		Summary: "Prep",
		Start:   day.Add(9*time.Hour + 45*time.Minute),
		End:     day.Add(10 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "new1", ev.ID)
	assert.Equal(t, map[string]any{"dateTime": "2026-03-02T09:45:00Z"}, created["start"])

	_, err = c.CreateEvent(ctx, CreateEventParams{Summary: "bad", Start: day, End: day})
	assert.ErrorContains(t, err, "not after start")

	_, err = c.ListEvents(ctx, ListEventsParams{CalendarID: "missing", TimeMin: day, TimeMax: day})
	assert.EqualError(t, err, "calendar API error (404): Not Found")

	// the token is cached across calls
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestTokenFailure(t *testing.T) {
	_, creds := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	c, err := NewClientFromJSON(creds, Config{BaseURL: srv.URL, TokenURL: srv.URL})
	require.NoError(t, err)
	_, err = c.ListEvents(context.Background(), ListEventsParams{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid_grant"))
}
