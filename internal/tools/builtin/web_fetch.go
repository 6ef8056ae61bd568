package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/qbit-ai/qbit/internal/net/ssrf"
	"github.com/qbit-ai/qbit/internal/tools"
)

// WebFetch implements the web_fetch tool: fetch a public URL's body,
// rejecting any hostname that resolves to a private or internal address.
type WebFetch struct {
	MaxChars int
	Client   *http.Client
}

func (t *WebFetch) Name() string { return tools.WebFetch }

func (t *WebFetch) httpClient() *http.Client {
	if t.Client != nil {
		return t.Client
	}
	return &http.Client{Timeout: 20 * time.Second}
}

func (t *WebFetch) Execute(ctx context.Context, params json.RawMessage) (*tools.Result, error) {
	var input struct {
		URL      string `json:"url"`
		MaxChars int    `json:"max_chars"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError("invalid parameters: %v", err), nil
	}
	raw := strings.TrimSpace(input.URL)
	if raw == "" {
		return toolError("url is required"), nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return toolError("invalid url: %v", err), nil
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return toolError("url must use http or https"), nil
	}
	if err := ssrf.ValidatePublicHostname(ctx, parsed.Hostname()); err != nil {
		return toolError("blocked url: %v", err), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return toolError("build request: %v", err), nil
	}
	resp, err := t.httpClient().Do(req)
	if err != nil {
		return toolError("fetch failed: %v", err), nil
	}
	defer resp.Body.Close()

	limit := t.MaxChars
	if limit <= 0 {
		limit = 10_000
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return toolError("read response: %v", err), nil
	}

	content := string(body)
	truncated := len(content) > limit
	if truncated {
		content = content[:limit]
	}

	return toolOK(map[string]any{
		"url": raw, "status": resp.StatusCode, "content": content, "truncated": truncated,
	}), nil
}
