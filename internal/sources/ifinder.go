package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// IFinderHandler queries an iFinder enterprise-search endpoint and returns
// the response body as source content. Unlike the plain URL handler it is an
// integration: loads are refused without an authenticated user, since search
// results are scoped to the caller's identity on the iFinder side.
type IFinderHandler struct {
	client *http.Client
}

// NewIFinderHandler constructs an IFinderHandler. A nil client falls back to
// http.DefaultClient with a per-request timeout override.
func NewIFinderHandler(client *http.Client) *IFinderHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &IFinderHandler{client: client}
}

func (h *IFinderHandler) Validate(cfg map[string]any) error {
	baseURL, ok := cfg["baseUrl"].(string)
	if !ok || baseURL == "" {
		return fmt.Errorf("ifinder source requires a non-empty %q string", "baseUrl")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return fmt.Errorf("ifinder source has an invalid %q: %w", "baseUrl", err)
	}
	query, ok := cfg["query"].(string)
	if !ok || query == "" {
		return fmt.Errorf("ifinder source requires a non-empty %q string", "query")
	}
	return nil
}

func (h *IFinderHandler) Load(ctx context.Context, cfg map[string]any, lc LoadContext) (Content, error) {
	if !lc.User.Authenticated {
		return Content{}, fmt.Errorf("ifinder source requires an authenticated user")
	}

	baseURL, _ := cfg["baseUrl"].(string)
	query, _ := cfg["query"].(string)
	timeout := 30 * time.Second
	if secs, ok := cfg["timeoutSeconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	searchURL := baseURL + "/api/v2/search?query=" + url.QueryEscape(query)
	if max, ok := cfg["maxResults"].(float64); ok && max > 0 {
		searchURL += "&maxResults=" + strconv.Itoa(int(max))
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, searchURL, nil)
	if err != nil {
		return Content{}, fmt.Errorf("build request for %s: %w", baseURL, err)
	}
	if apiKey, ok := cfg["apiKey"].(string); ok && apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("X-On-Behalf-Of", lc.User.ID)

	resp, err := h.client.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("search %s: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Content{}, fmt.Errorf("search %s: status %d", baseURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return Content{}, fmt.Errorf("read body for %s: %w", baseURL, err)
	}
	return Content{Text: string(body), Meta: map[string]any{"baseUrl": baseURL, "query": query, "status": resp.StatusCode}}, nil
}
