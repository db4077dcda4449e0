package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/admin"
	"github.com/intrafind/ihub-apps-sub002/internal/auth"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/httpapi"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/orchestrator"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	"github.com/intrafind/ihub-apps-sub002/internal/ratelimit"
	"github.com/intrafind/ihub-apps-sub002/internal/sources"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

// delayedProvider plays back one event script per Stream call after a short
// delay, giving the SSE handler time to attach to the hub channel before the
// stream completes.
type delayedProvider struct {
	mu      sync.Mutex
	scripts [][]normalizer.StreamEvent
}

func (p *delayedProvider) Name() string { return "delayed" }

func (p *delayedProvider) Complete(context.Context, providers.Request) (*providers.Response, error) {
	return nil, &providers.Error{Category: providers.ErrorUnknown, Message: "stream-only test provider"}
}

func (p *delayedProvider) Stream(ctx context.Context, _ providers.Request) (<-chan normalizer.StreamEvent, error) {
	p.mu.Lock()
	var script []normalizer.StreamEvent
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	p.mu.Unlock()

	out := make(chan normalizer.StreamEvent, len(script)+1)
	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
		for _, ev := range script {
			out <- ev
		}
	}()
	return out, nil
}

type testGateway struct {
	server *httptest.Server
	cache  *config.Cache
}

func newTestGateway(t *testing.T, mode auth.AuthMode, provider providers.Provider) *testGateway {
	t.Helper()
	ctx := context.Background()

	loader := config.NewLoader(t.TempDir(), telemetry.NoopLogger{})
	cache, err := config.NewCache(ctx, loader, telemetry.NoopLogger{}, true)
	require.NoError(t, err)

	require.NoError(t, cache.PutResource(ctx, "groups", "anonymous", config.Group{
		ID:          "anonymous",
		Name:        "Anonymous",
		Permissions: config.GroupPermissions{Apps: []string{"chat"}, Models: []string{"*"}},
	}))
	require.NoError(t, cache.PutResource(ctx, "apps", "chat", config.App{
		ID: "chat", Type: config.AppTypeChat, SystemPromptTemplate: "You are helpful.", Enabled: true,
		Tools: []config.ToolBinding{{ToolID: "echo"}},
	}))
	require.NoError(t, cache.PutResource(ctx, "apps", "hidden", config.App{
		ID: "hidden", Type: config.AppTypeChat, SystemPromptTemplate: "Secret.", Enabled: true,
	}))
	require.NoError(t, cache.PutResource(ctx, "models", "gpt-4o", config.Model{
		ID: "gpt-4o", ModelID: "gpt-4o", Provider: config.ProviderOpenAI, TokenLimit: 4096,
		SupportsTools: true, Enabled: true,
	}))
	platform := config.DefaultPlatformConfig()
	platform.AdminSecret = "s3cret"
	require.NoError(t, cache.PutPlatform(ctx, platform))

	reg := toolregistry.NewRegistry()
	echoTool := config.Tool{
		ID:          "echo",
		Enabled:     true,
		Description: map[string]string{"en": "Echo the given text back"},
		Parameters: config.ToolParameters{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
		},
	}
	echoHandler := toolregistry.HandlerFunc(func(_ context.Context, _ string, _ json.RawMessage, inv toolregistry.Invocation) (any, error) {
		if inv.Progress != nil {
			inv.Progress("echo step")
		}
		return map[string]any{"ok": true}, nil
	})
	require.NoError(t, reg.Load([]config.Tool{echoTool}, map[string]toolregistry.Handler{"echo": echoHandler}))

	hub := stream.NewHub(nil)
	factories := map[config.Provider]orchestrator.ProviderFactory{}
	if provider != nil {
		factories[config.ProviderOpenAI] = func(config.Model, string) providers.Provider { return provider }
	}
	orch := orchestrator.New(orchestrator.Deps{
		Cache:             cache,
		Tools:             reg,
		Sources:           sources.NewManager(),
		Hub:               hub,
		ProviderFactories: factories,
		EnvLookup:         func(string) string { return "test-key" },
	})

	srv := httpapi.NewServer(httpapi.Server{
		Cache:        cache,
		Resolver:     authz.NewResolver(nil),
		Admin:        admin.New(cache, nil),
		Orchestrator: orch,
		Hub:          hub,
		RateLimit:    ratelimit.New(platform.RateLimits),
		JWT:          auth.NewJWTService("test-secret", time.Hour),
		AuthMode:     mode,
		AdminSecret:  "s3cret",
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testGateway{server: ts, cache: cache}
}

func (g *testGateway) do(t *testing.T, method, path, bearer string, body string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, g.server.URL+path, reader)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := g.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestListAppsFiltersAndSupportsConditionalGet(t *testing.T) {
	g := newTestGateway(t, auth.ModeAnonymous, nil)

	resp := g.do(t, http.MethodGet, "/api/apps", "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	var apps []config.App
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apps))
	require.Len(t, apps, 1, "anonymous callers must only see permitted apps")
	assert.Equal(t, "chat", apps[0].ID)

	req, err := http.NewRequest(http.MethodGet, g.server.URL+"/api/apps", nil)
	require.NoError(t, err)
	req.Header.Set("If-None-Match", etag)
	resp2, err := g.server.Client().Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotModified, resp2.StatusCode)
	body, _ := io.ReadAll(resp2.Body)
	assert.Empty(t, body)
}

func TestAdminRoutesRequireAdminAccess(t *testing.T) {
	g := newTestGateway(t, auth.ModeAnonymous, nil)
	payload := `{"id":"newapp","type":"chat","systemPromptTemplate":"Hi.","enabled":true}`

	resp := g.do(t, http.MethodPut, "/api/admin/apps/newapp", "", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp2 := g.do(t, http.MethodPut, "/api/admin/apps/newapp", "s3cret", payload)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&out))
	assert.NotEmpty(t, out["etag"])

	_, ok := g.cache.Snapshot().Apps["newapp"]
	assert.True(t, ok, "an admin write must be visible in the cache immediately")
}

func TestAdminSecretDoesNotElevateOutsideAnonymousMode(t *testing.T) {
	g := newTestGateway(t, auth.ModeOIDC, nil)
	payload := `{"id":"sneaky","type":"chat","enabled":true}`

	resp := g.do(t, http.MethodPut, "/api/admin/apps/sneaky", "s3cret", payload)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	_, ok := g.cache.Snapshot().Apps["sneaky"]
	assert.False(t, ok)
}

func TestAuthStatusNeverRejects(t *testing.T) {
	g := newTestGateway(t, auth.ModeOIDC, nil)

	resp := g.do(t, http.MethodGet, "/api/auth/status", "not-a-real-token", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, false, status["authenticated"])
}

func TestRateLimitHeadersAndExhaustion(t *testing.T) {
	gw := newTightLimitGateway(t)

	var last *http.Response
	for i := 0; i < 3; i++ {
		if last != nil {
			last.Body.Close()
		}
		last = gw.do(t, http.MethodGet, "/api/apps", "", "")
	}
	defer last.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	assert.Equal(t, "2", last.Header.Get("RateLimit-Limit"))
	assert.Equal(t, "0", last.Header.Get("RateLimit-Remaining"))
	assert.NotEmpty(t, last.Header.Get("RateLimit-Policy"))
	assert.NotEmpty(t, last.Header.Get("RateLimit-Reset"))
}

// newTightLimitGateway builds a gateway whose every bucket allows two
// requests per minute, so exhaustion is reachable in a test.
func newTightLimitGateway(t *testing.T) *testGateway {
	t.Helper()
	ctx := context.Background()

	limiter := ratelimit.New(config.RateLimitConfig{
		Public:    config.BucketConfig{WindowMS: 60_000, Limit: 2},
		Admin:     config.BucketConfig{WindowMS: 60_000, Limit: 2},
		Auth:      config.BucketConfig{WindowMS: 60_000, Limit: 2},
		Inference: config.BucketConfig{WindowMS: 60_000, Limit: 2},
	})

	loader := config.NewLoader(t.TempDir(), telemetry.NoopLogger{})
	cache, err := config.NewCache(ctx, loader, telemetry.NoopLogger{}, true)
	require.NoError(t, err)
	require.NoError(t, cache.PutResource(ctx, "groups", "anonymous", config.Group{
		ID: "anonymous", Permissions: config.GroupPermissions{Apps: []string{"*"}},
	}))

	hub := stream.NewHub(nil)
	srv := httpapi.NewServer(httpapi.Server{
		Cache:    cache,
		Resolver: authz.NewResolver(nil),
		Admin:    admin.New(cache, nil),
		Orchestrator: orchestrator.New(orchestrator.Deps{
			Cache: cache, Tools: toolregistry.NewRegistry(), Sources: sources.NewManager(), Hub: hub,
			ProviderFactories: map[config.Provider]orchestrator.ProviderFactory{},
		}),
		Hub:       hub,
		RateLimit: limiter,
		AuthMode:  auth.ModeAnonymous,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testGateway{server: ts, cache: cache}
}

func TestChatPostStreamsSSE(t *testing.T) {
	provider := &delayedProvider{scripts: [][]normalizer.StreamEvent{{
		{Kind: normalizer.EventContentDelta, TextDelta: "Hel"},
		{Kind: normalizer.EventContentDelta, TextDelta: "lo!"},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	}}}
	g := newTestGateway(t, auth.ModeAnonymous, provider)

	resp := g.do(t, http.MethodPost, "/api/apps/chat/chat/c1", "", `{"messages":[{"role":"user","content":"Hello"}]}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "event: content")
	assert.Contains(t, text, `"Hel"`)
	assert.Contains(t, text, "event: done")
	assert.NotContains(t, text, "event: error")

	status := g.do(t, http.MethodGet, "/api/apps/chat/chat/c1/status", "", "")
	defer status.Body.Close()
	var st map[string]string
	require.NoError(t, json.NewDecoder(status.Body).Decode(&st))
	assert.Equal(t, "idle", st["status"])
}

func TestChatPostStreamsActionEvents(t *testing.T) {
	provider := &delayedProvider{scripts: [][]normalizer.StreamEvent{
		{
			{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "c1", ToolCallName: "echo", Args: json.RawMessage(`{"text":"hi"}`)},
			{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
		},
		{
			{Kind: normalizer.EventContentDelta, TextDelta: "done"},
			{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
		},
	}}
	g := newTestGateway(t, auth.ModeAnonymous, provider)

	resp := g.do(t, http.MethodPost, "/api/apps/chat/chat/c9", "", `{"messages":[{"role":"user","content":"Echo hi"}]}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "event: action")
	assert.Contains(t, text, `"tool":"echo"`)
	assert.Contains(t, text, `"message":"echo step"`)
	assert.Contains(t, text, "event: done")
}

func TestChatPostToForbiddenAppReportsError(t *testing.T) {
	g := newTestGateway(t, auth.ModeAnonymous, nil)

	resp := g.do(t, http.MethodPost, "/api/apps/hidden/chat/c2", "", `{"messages":[{"role":"user","content":"Hi"}]}`)
	defer resp.Body.Close()
	// The SSE stream opens before resolution; the rejection arrives as an
	// error event on the stream rather than as an HTTP status.
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "event: error")
}
