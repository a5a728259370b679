package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingContent is returned when a tool response carries neither
// structured content nor decodable text
var ErrMissingContent = errors.New("missing structuredContent in tool response")

// ParseResponse extracts the envelope from a tool server payload. JSON-RPC
// wrapped results are unpacked from result.structuredContent, then from the
// first JSON object in result.content[].text. Anything else is assumed to
// already be an envelope.
func ParseResponse(payload map[string]any) (map[string]any, error) {
	if rpcErr, ok := payload["error"].(map[string]any); ok {
		return nil, fmt.Errorf("rpc error %v: %v", rpcErr["code"], rpcErr["message"])
	}

	result, ok := payload["result"].(map[string]any)
	if !ok || !isToolResult(result) {
		return payload, nil
	}

	isError, _ := result["isError"].(bool)
	if structured, ok := result["structuredContent"].(map[string]any); ok && len(structured) > 0 {
		if isError {
			return nil, fmt.Errorf("tool error: %s", firstError(structured))
		}
		return structured, nil
	}

	blocks, _ := result["content"].([]any)
	var texts []string
	for _, b := range blocks {
		block, _ := b.(map[string]any)
		text, ok := block["text"].(string)
		if !ok {
			continue
		}
		texts = append(texts, text)
		var decoded map[string]any
		if json.Unmarshal([]byte(text), &decoded) == nil {
			if isError {
				return nil, fmt.Errorf("tool error: %s", firstError(decoded))
			}
			return decoded, nil
		}
	}
	if isError {
		return nil, fmt.Errorf("tool error: %s", strings.Join(texts, "; "))
	}
	return nil, ErrMissingContent
}

// DecodeText turns a handler's text result into an envelope map. Non-JSON
// text is wrapped as {"summary": text}.
func DecodeText(text string) map[string]any {
	var decoded map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &decoded); err == nil && decoded != nil {
		return decoded
	}
	return map[string]any{
		"summary":      text,
		"result":       map[string]any{},
		"next_actions": []any{},
		"errors":       []any{},
	}
}

func isToolResult(result map[string]any) bool {
	_, hasStructured := result["structuredContent"]
	_, hasContent := result["content"]
	return hasStructured || hasContent
}

func firstError(env map[string]any) string {
	if errs, ok := env["errors"].([]any); ok && len(errs) > 0 {
		return fmt.Sprint(errs[0])
	}
	if s, ok := env["summary"].(string); ok && s != "" {
		return s
	}
	return "unknown error"
}
