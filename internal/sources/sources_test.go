package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// countingHandler returns fixed content and counts how many loads actually
// reached it, so cache behavior is observable.
type countingHandler struct {
	loads atomic.Int64
	err   error
}

func (h *countingHandler) Validate(cfg map[string]any) error { return nil }

func (h *countingHandler) Load(_ context.Context, cfg map[string]any, _ LoadContext) (Content, error) {
	h.loads.Add(1)
	if h.err != nil {
		return Content{}, h.err
	}
	return Content{Text: "payload"}, nil
}

func TestManagerCachesByConfigKey(t *testing.T) {
	h := &countingHandler{}
	m := NewManager().WithHandler(config.SourceTypeURL, h)
	src := config.Source{ID: "s1", Type: config.SourceTypeURL, Config: map[string]any{"url": "https://example.test"}}

	for i := 0; i < 3; i++ {
		content, err := m.Load(context.Background(), src, LoadContext{})
		require.NoError(t, err)
		assert.Equal(t, "payload", content.Text)
	}
	assert.EqualValues(t, 1, h.loads.Load(), "repeat loads with identical config must be served from cache")

	// A different config is a different cache key.
	other := src
	other.Config = map[string]any{"url": "https://other.test"}
	_, err := m.Load(context.Background(), other, LoadContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.loads.Load())

	// Invalidation forces the next load through to the handler.
	m.Invalidate(src)
	_, err = m.Load(context.Background(), src, LoadContext{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, h.loads.Load())
}

func TestManagerWrapsHandlerErrors(t *testing.T) {
	h := &countingHandler{err: errors.New("upstream exploded: secret details")}
	m := NewManager().WithHandler(config.SourceTypeURL, h)
	src := config.Source{ID: "s2", Type: config.SourceTypeURL, Config: map[string]any{"url": "https://example.test"}}

	_, err := m.Load(context.Background(), src, LoadContext{})
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok, "handler failures must surface as typed errors, not raw provider text")
	assert.Equal(t, apierror.CodeInternal, apiErr.Code)

	// Errors are not cached; the handler is consulted again.
	_, _ = m.Load(context.Background(), src, LoadContext{})
	assert.EqualValues(t, 2, h.loads.Load())
}

func TestManagerRejectsUnknownSourceType(t *testing.T) {
	m := NewManager()
	_, err := m.Load(context.Background(), config.Source{ID: "s3", Type: "carrier-pigeon"}, LoadContext{})
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeInternal, apiErr.Code)
}

func TestCanonicalKeyIsOrderStable(t *testing.T) {
	a := canonicalKey(map[string]any{"url": "x", "timeoutSeconds": 5.0})
	b := canonicalKey(map[string]any{"timeoutSeconds": 5.0, "url": "x"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, canonicalKey(map[string]any{"url": "y", "timeoutSeconds": 5.0}))
	assert.Equal(t, "{}", canonicalKey(nil))
}

func TestFilesystemHandlerReadsWithinBase(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "doc.md"), []byte("# hello"), 0o600))

	h := NewFilesystemHandler(base)
	content, err := h.Load(context.Background(), map[string]any{"path": "doc.md"}, LoadContext{})
	require.NoError(t, err)
	assert.Equal(t, "# hello", content.Text)
	assert.Equal(t, 7, content.Meta["bytes"])
}

func TestFilesystemHandlerValidateRejectsTraversal(t *testing.T) {
	h := NewFilesystemHandler(t.TempDir())
	assert.Error(t, h.Validate(map[string]any{"path": "../etc/passwd"}))
	assert.Error(t, h.Validate(map[string]any{"path": ""}))
	assert.Error(t, h.Validate(map[string]any{}))
	assert.NoError(t, h.Validate(map[string]any{"path": "docs/readme.md"}))
}

func TestFilesystemHandlerEnforcesExtensionAllowList(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "run.sh"), []byte("#!/bin/sh"), 0o600))

	h := NewFilesystemHandler(base)
	cfg := map[string]any{"path": "run.sh", "allowedExtensions": []any{".md", ".txt"}}
	_, err := h.Load(context.Background(), cfg, LoadContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestURLHandlerFetchesAndSendsHeaders(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Token")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("remote body"))
	}))
	defer srv.Close()

	h := NewURLHandler(srv.Client())
	cfg := map[string]any{"url": srv.URL, "headers": map[string]any{"X-Api-Token": "t0ken"}}
	content, err := h.Load(context.Background(), cfg, LoadContext{})
	require.NoError(t, err)
	assert.Equal(t, "remote body", content.Text)
	assert.Equal(t, "t0ken", gotHeader)
	assert.Equal(t, "text/plain", content.Meta["contentType"])
}

func TestURLHandlerRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	h := NewURLHandler(srv.Client())
	_, err := h.Load(context.Background(), map[string]any{"url": srv.URL}, LoadContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestPageHandlerReadsLocalizedPage(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "de"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "de", "impressum.jsx"), []byte("<Impressum/>"), 0o600))

	h := NewPageHandler(base)
	content, err := h.Load(context.Background(), map[string]any{"slug": "impressum", "lang": "de"}, LoadContext{})
	require.NoError(t, err)
	assert.Equal(t, "<Impressum/>", content.Text)
	assert.Equal(t, "de", content.Meta["lang"])

	// Language defaults to "en" when the config omits it.
	require.NoError(t, os.MkdirAll(filepath.Join(base, "en"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "en", "about.jsx"), []byte("<About/>"), 0o600))
	content, err = h.Load(context.Background(), map[string]any{"slug": "about"}, LoadContext{})
	require.NoError(t, err)
	assert.Equal(t, "<About/>", content.Text)
}

func TestPageHandlerValidateRejectsTraversal(t *testing.T) {
	h := NewPageHandler(t.TempDir())
	assert.Error(t, h.Validate(map[string]any{}))
	assert.Error(t, h.Validate(map[string]any{"slug": ""}))
	assert.Error(t, h.Validate(map[string]any{"slug": "../secret"}))
	assert.Error(t, h.Validate(map[string]any{"slug": "a/b"}))
	assert.Error(t, h.Validate(map[string]any{"slug": "about", "lang": "../de"}))
	assert.NoError(t, h.Validate(map[string]any{"slug": "about", "lang": "de"}))
}

func TestIFinderHandlerRequiresAuthenticatedUser(t *testing.T) {
	h := NewIFinderHandler(nil)
	cfg := map[string]any{"baseUrl": "https://search.example.test", "query": "handbook"}
	_, err := h.Load(context.Background(), cfg, LoadContext{User: authz.User{ID: "anonymous"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticated")
}

func TestIFinderHandlerQueriesEndpoint(t *testing.T) {
	var gotPath, gotQuery, gotOnBehalf string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotOnBehalf = r.Header.Get("X-On-Behalf-Of")
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	h := NewIFinderHandler(srv.Client())
	cfg := map[string]any{"baseUrl": srv.URL, "query": "expense policy", "maxResults": 5.0}
	lc := LoadContext{User: authz.User{ID: "u1", Authenticated: true}}
	content, err := h.Load(context.Background(), cfg, lc)
	require.NoError(t, err)
	assert.Equal(t, `{"results":[]}`, content.Text)
	assert.Equal(t, "/api/v2/search", gotPath)
	assert.Equal(t, "expense policy", gotQuery)
	assert.Equal(t, "u1", gotOnBehalf)
}

func TestIFinderHandlerValidate(t *testing.T) {
	h := NewIFinderHandler(nil)
	assert.Error(t, h.Validate(map[string]any{"query": "x"}))
	assert.Error(t, h.Validate(map[string]any{"baseUrl": "https://s.example"}))
	assert.NoError(t, h.Validate(map[string]any{"baseUrl": "https://s.example", "query": "x"}))
}
