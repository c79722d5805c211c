package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relaycore/orchestrator/internal/observability"
	"github.com/relaycore/orchestrator/internal/registry"
	"github.com/relaycore/orchestrator/internal/storage"
)

// TokenRefresher renews an expired OAuth2 grant before it is used. Satisfied
// by *resolver.TokenRefresher.
type TokenRefresher interface {
	Refresh(ctx context.Context, tok *storage.OAuthToken) (*storage.OAuthToken, error)
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	OK bool
	Data any
	ErrorCode string
}

// ToolInvoker is the tool-invocation capability injected into the
// executor: invoke(user_id, tool_name, payload) -> {ok, data, error_code?}.
type ToolInvoker interface {
	Invoke(ctx context.Context, userID, toolName string, payload map[string]any) ToolResult
}

// RegistryLookup is the subset of the registry the invoker needs.
type RegistryLookup interface {
	GetTool(name string) (registry.ToolDefinition, error)
}

// HTTPToolInvoker renders a ToolDefinition's path/method/body, obtains the
// caller's OAuth token for the tool's service, issues the HTTP call, and
// maps the response through the tool's error_map.
type HTTPToolInvoker struct {
	Registry RegistryLookup
	Tokens storage.OAuthTokenStore
	Refresh TokenRefresher // optional; nil disables proactive refresh
	Client *http.Client
	Metrics *observability.Metrics // optional; nil disables metric recording
}

// WithMetrics enables per-call tool execution metrics.
func (inv *HTTPToolInvoker) WithMetrics(m *observability.Metrics) *HTTPToolInvoker {
	inv.Metrics = m
	return inv
}

func NewHTTPToolInvoker(reg RegistryLookup, tokens storage.OAuthTokenStore) *HTTPToolInvoker {
	return &HTTPToolInvoker{Registry: reg, Tokens: tokens, Client: &http.Client{Timeout: 30 * time.Second}}
}

// WithTokenRefresher enables proactive OAuth2 refresh for tokens nearing
// expiry.
func (inv *HTTPToolInvoker) WithTokenRefresher(r TokenRefresher) *HTTPToolInvoker {
	inv.Refresh = r
	return inv
}

func (inv *HTTPToolInvoker) Invoke(ctx context.Context, userID, toolName string, payload map[string]any) ToolResult {
	start := time.Now()
	result := inv.doInvoke(ctx, userID, toolName, payload)
	if inv.Metrics != nil {
		status := "success"
		if !result.OK {
			status = "error"
			inv.Metrics.RecordError("executor", "tool_failed")
		}
		inv.Metrics.RecordToolExecution(toolName, status, time.Since(start).Seconds())
	}
	return result
}

func (inv *HTTPToolInvoker) doInvoke(ctx context.Context, userID, toolName string, payload map[string]any) ToolResult {
	def, err := inv.Registry.GetTool(toolName)
	if err != nil {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:not_found", toolName)}
	}

	if verrs, err := ValidatePayload(def.InputSchema, payload); err != nil {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:VALIDATION_TYPE:payload", toolName)}
	} else if len(verrs) > 0 {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:%s", toolName, verrs[0])}
	}

	pathParams, body := splitPathParams(def.PathTemplate, payload)
	renderedPath, missing := renderPath(def.PathTemplate, pathParams)
	if missing != "" {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("missing_path_param:%s", missing)}
	}

	tok, err := inv.Tokens.Get(ctx, userID, def.Service)
	if err != nil || tok == nil {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:token_missing", toolName)}
	}
	if inv.Refresh != nil && needsRefresh(tok) {
		if fresh, err := inv.Refresh.Refresh(ctx, tok); err == nil {
			tok = fresh
			_ = inv.Tokens.Upsert(ctx, tok)
		}
	}

	req, err := buildRequest(ctx, def, renderedPath, body)
	if err != nil {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:request_build_failed", toolName)}
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessTokenEncrypted)
	req.Header.Set("Content-Type", "application/json")

	resp, err := inv.Client.Do(req)
	if err != nil {
		return ToolResult{OK: false, ErrorCode: fmt.Sprintf("%s:TOOL_TIMEOUT", toolName)}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		mapped := def.ErrorMap[strconv.Itoa(resp.StatusCode)]
		if mapped == "" {
			mapped = "TOOL_FAILED"
		}
		return ToolResult{
			OK: false,
			ErrorCode: fmt.Sprintf("%s:%s|status=%d|message=%s", toolName, mapped, resp.StatusCode, truncate(string(raw), 200)),
		}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = map[string]any{"raw_text": string(raw)}
	}
	return ToolResult{OK: true, Data: data}
}

func needsRefresh(tok *storage.OAuthToken) bool {
	if tok.ExpiresAt.IsZero() {
		return false
	}
	return time.Until(tok.ExpiresAt) < 30*time.Second
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// splitPathParams extracts the `{name}` placeholders in template from
// payload into a separate map, returning the remaining body payload.
func splitPathParams(template string, payload map[string]any) (map[string]any, map[string]any) {
	pathParams := map[string]any{}
	body := map[string]any{}
	names := pathParamNames(template)
	for k, v := range payload {
		if names[k] {
			pathParams[k] = v
		} else {
			body[k] = v
		}
	}
	return pathParams, body
}

func pathParamNames(template string) map[string]bool {
	out := map[string]bool{}
	parts := strings.Split(template, "{")
	for _, p := range parts[1:] {
		idx := strings.Index(p, "}")
		if idx < 0 {
			continue
		}
		out[p[:idx]] = true
	}
	return out
}

func renderPath(template string, pathParams map[string]any) (string, string) {
	result := template
	for name := range pathParamNames(template) {
		v, ok := pathParams[name]
		if !ok {
			return "", name
		}
		result = strings.ReplaceAll(result, "{"+name+"}", fmt.Sprintf("%v", v))
	}
	return result, ""
}

func buildRequest(ctx context.Context, def registry.ToolDefinition, path string, body map[string]any) (*http.Request, error) {
	full := def.BaseURL + path
	method := strings.ToUpper(def.HTTPMethod)

	if method == http.MethodGet || method == http.MethodDelete {
		u, err := url.Parse(full)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		for k, v := range body {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, method, full, bytes.NewReader(raw))
}

// IdempotencyKey derives the idempotency key for a tool invocation
// according to its idempotency_key_policy.
func IdempotencyKey(policy, eventID string, payload map[string]any) string {
	switch policy {
	case "event_id":
		return eventID
	case "hash":
		return payloadHash(payload)
	default:
		return ""
	}
}

func payloadHash(payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, payload[k])
	}
	raw, _ := json.Marshal(ordered)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
