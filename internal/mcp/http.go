package mcp

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/tailscale/hujson"

	"github.com/vthunder/toolbox/internal/logging"
)

// HTTPConfig configures the HTTP transport
type HTTPConfig struct {
	BaseURL string // public URL advertised to SSE clients
	Token   string // optional bearer token required on every route but /healthz
}

// NewHTTPHandler serves reg over HTTP: plain JSON routes for scripts plus the
// SSE transport for MCP clients.
//
//	GET  /healthz
//	GET  /tools
//	POST /call/{tool}
//	GET  /sse, POST /message
func NewHTTPHandler(reg *Registry, cfg HTTPConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tools": len(reg.Tools())})
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.Token))

		r.Get("/tools", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"tools": reg.Tools()})
		})
		r.Post("/call/{tool}", callRoute(reg))

		var opts []server.SSEOption
		if cfg.BaseURL != "" {
			opts = append(opts, server.WithBaseURL(cfg.BaseURL))
		}
		sse := server.NewSSEServer(NewServer(reg), opts...)
		r.Handle("/sse", sse.SSEHandler())
		r.Handle("/message", sse.MessageHandler())
	})
	return r
}

func callRoute(reg *Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tool := chi.URLParam(req, "tool")
		if !ValidToolName(tool) {
			writeJSON(w, http.StatusBadRequest, errorEnvelope("Invalid tool name."))
			return
		}

		args := map[string]any{}
		body, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorEnvelope("Could not read request body."))
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			std, err := hujson.Standardize(body)
			if err == nil {
				err = json.Unmarshal(std, &args)
			}
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorEnvelope("Arguments must be a JSON object."))
				return
			}
		}

		text, err := reg.Invoke(req.Context(), tool, args)
		if errors.Is(err, ErrUnknownTool) {
			writeJSON(w, http.StatusNotFound, errorEnvelope("Unknown tool: "+tool))
			return
		}
		if err != nil {
			logging.Warn("server", "/call/%s failed: %v", tool, err)
			writeJSON(w, http.StatusInternalServerError, errorEnvelope(err.Error()))
			return
		}
		writeJSON(w, http.StatusOK, DecodeText(text))
	}
}

func bearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorEnvelope("Unauthorized."))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func errorEnvelope(msg string) map[string]any {
	return map[string]any{
		"summary":      msg,
		"result":       map[string]any{},
		"next_actions": []string{},
		"errors":       []string{msg},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("server", "write response: %v", err)
	}
}
