package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// URLHandler fetches a remote resource with configurable headers/timeout
// and extracts its body as text.
type URLHandler struct {
	client *http.Client
}

// NewURLHandler constructs a URLHandler. A nil client falls back to
// http.DefaultClient with a per-request timeout override.
func NewURLHandler(client *http.Client) *URLHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &URLHandler{client: client}
}

func (h *URLHandler) Validate(cfg map[string]any) error {
	url, ok := cfg["url"].(string)
	if !ok || url == "" {
		return fmt.Errorf("url source requires a non-empty %q string", "url")
	}
	return nil
}

func (h *URLHandler) Load(ctx context.Context, cfg map[string]any, _ LoadContext) (Content, error) {
	rawURL, _ := cfg["url"].(string)
	timeout := 10 * time.Second
	if secs, ok := cfg["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Content{}, fmt.Errorf("build request for %s: %w", rawURL, err)
	}
	if headers, ok := cfg["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Content{}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Content{}, fmt.Errorf("read body for %s: %w", rawURL, err)
	}
	return Content{Text: string(body), Meta: map[string]any{"url": rawURL, "status": resp.StatusCode, "contentType": resp.Header.Get("Content-Type")}}, nil
}
