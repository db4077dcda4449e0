// Package sources implements the Source Manager: loading and
// caching content from filesystem/URL/integration handlers, and exposing it
// to prompts (template substitution) or as a synthetic query tool. Each
// handler implements a uniform Validate/Load pair behind a config-keyed TTL
// cache.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
)

// Content is a handler's load result.
type Content struct {
	Text string
	Meta map[string]any
}

// LoadContext carries the calling user for integration handlers that
// require authenticated context.
type LoadContext struct {
	User authz.User
}

// Handler is the uniform source handler interface.
type Handler interface {
	Validate(cfg map[string]any) error
	Load(ctx context.Context, cfg map[string]any, lc LoadContext) (Content, error)
}

const defaultTTL = 5 * time.Minute

// Manager loads, caches, and exposes configured sources.
type Manager struct {
	handlers map[config.SourceType]Handler
	cache    *memoryCache
}

// NewManager constructs a Manager with the standard handler set.
func NewManager() *Manager {
	return &Manager{
		handlers: map[config.SourceType]Handler{
			config.SourceTypeFilesystem: NewFilesystemHandler(""),
			config.SourceTypeURL:        NewURLHandler(nil),
			config.SourceTypeIFinder:    NewIFinderHandler(nil),
			config.SourceTypePage:       NewPageHandler(""),
		},
	}
}

// WithHandler overrides (or adds) the handler for a source type, letting
// callers wire a real HTTP client / base dir / integration client without
// this package depending on those concerns directly.
func (m *Manager) WithHandler(t config.SourceType, h Handler) *Manager {
	m.handlers[t] = h
	if m.cache == nil {
		m.cache = newMemoryCache()
	}
	return m
}

func (m *Manager) cacheOrNew() *memoryCache {
	if m.cache == nil {
		m.cache = newMemoryCache()
	}
	return m.cache
}

// Load resolves src's content, consulting the cache keyed by
// JSON-canonical(config) first. On handler error it
// returns a structured *apierror.Error rather than the raw provider text,
// so callers never inline arbitrary error strings into a system prompt.
func (m *Manager) Load(ctx context.Context, src config.Source, lc LoadContext) (Content, error) {
	handler, ok := m.handlers[src.Type]
	if !ok {
		return Content{}, apierror.New(apierror.CodeInternal, fmt.Sprintf("source %q has unknown type %q", src.ID, src.Type))
	}
	if err := handler.Validate(src.Config); err != nil {
		return Content{}, apierror.Wrap(apierror.CodeValidation, fmt.Sprintf("source %q has invalid config", src.ID), err).WithField("config")
	}

	key := src.ID + ":" + canonicalKey(src.Config)
	cache := m.cacheOrNew()
	if cached, ok := cache.get(key); ok {
		return cached, nil
	}

	content, err := handler.Load(ctx, src.Config, lc)
	if err != nil {
		return Content{}, apierror.Wrap(apierror.CodeInternal, fmt.Sprintf("failed to load source %q", src.ID), err)
	}

	ttl := defaultTTL
	if src.CacheTTLSeconds > 0 {
		ttl = time.Duration(src.CacheTTLSeconds) * time.Second
	}
	cache.set(key, content, ttl)
	return content, nil
}

// Invalidate drops any cached content for src, forcing the next Load to
// re-fetch. Used by the Admin CRUD layer when a source's config changes.
func (m *Manager) Invalidate(src config.Source) {
	m.cacheOrNew().delete(src.ID + ":" + canonicalKey(src.Config))
}

// canonicalKey produces a stable cache key from a config map by
// round-tripping through sorted-key JSON encoding.
func canonicalKey(cfg map[string]any) string {
	if len(cfg) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, cfg[k])
	}
	raw, err := json.Marshal(ordered)
	if err != nil {
		return fmt.Sprintf("%v", cfg)
	}
	return string(raw)
}
