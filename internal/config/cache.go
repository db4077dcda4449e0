package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

// View is the result of Cache.Get: the filtered resource data and its
// content-derived ETag.
type View[T any] struct {
	Data T
	ETag string
}

// Cache is the single source of truth for apps, models, tools, sources,
// groups, and platform settings. Readers proceed
// lock-free against an atomic snapshot pointer; writers (Refresh) swap the
// pointer after building a new Snapshot.
type Cache struct {
	loader *Loader
	logger telemetry.Logger
	ptr    atomic.Pointer[Snapshot]

	sf singleflightGroup

	devMode bool
}

// NewCache constructs a Cache and performs the initial synchronous load.
func NewCache(ctx context.Context, loader *Loader, logger telemetry.Logger, devMode bool) (*Cache, error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	c := &Cache{loader: loader, logger: logger, devMode: devMode}
	c.ptr.Store(emptySnapshot())
	if err := c.refreshAll(ctx); err != nil {
		return nil, fmt.Errorf("config: initial load: %w", err)
	}
	return c, nil
}

// Snapshot returns the currently active snapshot.
func (c *Cache) Snapshot() *Snapshot {
	return c.ptr.Load()
}

// Loader returns the underlying on-disk loader, for callers (tests, admin
// cold-cache fallbacks) that need to bypass the cached snapshot.
func (c *Cache) Loader() *Loader {
	return c.loader
}

// RefreshInterval returns the background refresh period for the configured
// environment.
func (c *Cache) RefreshInterval() time.Duration {
	s := c.Snapshot()
	secs := s.Platform.RefreshIntervalProd
	if c.devMode {
		secs = s.Platform.RefreshIntervalDev
	}
	if secs <= 0 {
		secs = 300
	}
	return time.Duration(secs) * time.Second
}

// Refresh forces a reload of every resource type. Concurrent calls collapse
// into a single in-flight load.
// On error the previous snapshot is retained and the error is logged
// (fail-open).
func (c *Cache) Refresh(ctx context.Context, _ string) error {
	return c.refreshAll(ctx)
}

// Invalidate marks the cache stale by triggering an immediate refresh. The
// resource argument is accepted for interface symmetry with admin callers
// but the current implementation always reloads every resource
// type together, since loads are already cheap, single-pass directory scans.
func (c *Cache) Invalidate(ctx context.Context, resource string) error {
	return c.refreshAll(ctx)
}

func (c *Cache) refreshAll(ctx context.Context) error {
	_, err, _ := c.sf.Do("refresh", func() (any, error) {
		snap, err := c.loader.Load(ctx)
		if err != nil {
			c.logger.Error(ctx, "config refresh failed, retaining previous snapshot", "err", err)
			return nil, err
		}
		c.ptr.Store(snap)
		return snap, nil
	})
	return err
}

// StartBackgroundRefresh runs Refresh on a timer until ctx is cancelled,
// providing the periodic refresh trigger.
func (c *Cache) StartBackgroundRefresh(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.RefreshInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.refreshAll(ctx); err != nil {
					c.logger.Warn(ctx, "scheduled config refresh failed", "err", err)
				}
			}
		}
	}()
}

// Apps returns the apps visible to view, with a per-view ETag.
func (c *Cache) Apps(view UserView) View[[]App] {
	snap := c.Snapshot()
	filtered := make([]App, 0, len(snap.Apps))
	for _, a := range snap.AppList() {
		if view.Apps.Permits(a.ID) {
			filtered = append(filtered, redactApp(a))
		}
	}
	return View[[]App]{Data: filtered, ETag: c.composeViewETag("apps", snap, filtered)}
}

// App returns a single app by id if permitted, or false.
func (c *Cache) App(view UserView, id string) (App, bool) {
	snap := c.Snapshot()
	a, ok := snap.Apps[id]
	if !ok || !view.Apps.Permits(id) {
		return App{}, false
	}
	return a, true
}

// Models returns the models visible to view (API keys always redacted).
func (c *Cache) Models(view UserView) View[[]Model] {
	snap := c.Snapshot()
	filtered := make([]Model, 0, len(snap.Models))
	for _, m := range snap.ModelList() {
		if view.Models.Permits(m.ID) {
			filtered = append(filtered, redactModel(m))
		}
	}
	return View[[]Model]{Data: filtered, ETag: c.composeViewETag("models", snap, filtered)}
}

// Model returns a single model by id, including its encrypted key, for
// internal use by the orchestrator. It is not filtered by permission since
// callers resolve permission separately via authz before reaching the model.
func (c *Cache) Model(id string) (Model, bool) {
	m, ok := c.Snapshot().Models[id]
	return m, ok
}

// ModelFromDisk re-reads a single model directly from disk, bypassing the
// cached snapshot.
func (c *Cache) ModelFromDisk(id string) (Model, bool) {
	return c.loader.ReadModel(id)
}

// Tools returns every registered tool (not permission-filtered; tools are
// bound to apps, and app access already gates exposure).
func (c *Cache) Tools() []Tool {
	return c.Snapshot().ToolList()
}

// Tool returns a single tool by id.
func (c *Cache) Tool(id string) (Tool, bool) {
	t, ok := c.Snapshot().Tools[id]
	return t, ok
}

// Sources returns every registered source.
func (c *Cache) Sources() []Source {
	return c.Snapshot().SourceList()
}

// Source returns a single source by id.
func (c *Cache) Source(id string) (Source, bool) {
	s, ok := c.Snapshot().Sources[id]
	return s, ok
}

// Groups returns every group, used by the authorization resolver.
func (c *Cache) Groups() map[string]Group {
	return c.Snapshot().Groups
}

// Platform returns the current platform configuration.
func (c *Cache) Platform() PlatformConfig {
	return c.Snapshot().Platform
}

// Blob returns a singleton UI-facing config document (prompts, styles, ui,
// features) verbatim. The document's ETag is not returned here.
func (c *Cache) Blob(name string) (json.RawMessage, bool) {
	snap := c.Snapshot()
	data, ok := snap.Blobs[name]
	return data, ok
}

// Translation returns the translation table for a language code verbatim.
func (c *Cache) Translation(lang string) (json.RawMessage, bool) {
	data, ok := c.Snapshot().Translations[lang]
	return data, ok
}

// PutResource writes one collection resource (apps/models/tools/sources/
// groups) to disk and synchronously refreshes the cache, so the caller can
// immediately report the new global ETag.
func (c *Cache) PutResource(ctx context.Context, kind, id string, v any) error {
	if err := c.loader.WriteResource(kind, id, v); err != nil {
		return err
	}
	return c.refreshAll(ctx)
}

// DeleteResourceFile removes one collection resource from disk and refreshes
// the cache.
func (c *Cache) DeleteResourceFile(ctx context.Context, kind, id string) error {
	if err := c.loader.DeleteResource(kind, id); err != nil {
		return err
	}
	return c.refreshAll(ctx)
}

// PutPlatform writes the platform configuration singleton and refreshes.
func (c *Cache) PutPlatform(ctx context.Context, p PlatformConfig) error {
	if err := c.loader.WriteSingle("config/platform.json", p); err != nil {
		return err
	}
	return c.refreshAll(ctx)
}

// GlobalETag returns the unfiltered content ETag for a resource collection.
func (c *Cache) GlobalETag(resource string) string {
	return c.Snapshot().globalETags[resource]
}

// composeViewETag implements the per-user ETag algorithm: hash the
// filtered content, then compose with the resource's global ETag.
func (c *Cache) composeViewETag(resource string, snap *Snapshot, filtered any) string {
	hash, err := contentHash(filtered)
	if err != nil {
		return snap.globalETags[resource]
	}
	return composeETag(snap.globalETags[resource], hash)
}

// redactModel clears secret fields before returning a model to any caller
// outside the orchestrator/admin internals.
func redactModel(m Model) Model {
	if m.EncryptedAPIKey != "" {
		m.EncryptedAPIKey = "••••••••"
	}
	return m
}

// redactApp is a hook point for any future app-level secret fields; apps
// currently carry no secrets, but keeping this symmetric with redactModel
// makes future additions safe by default.
func redactApp(a App) App { return a }

// singleflightGroup is a minimal single-key in-flight call collapser, used
// instead of pulling in golang.org/x/sync/singleflight for one call site.
type singleflightGroup struct {
	mu    sync.Mutex
	calls map[string]*sfCall
}

type sfCall struct {
	wg  sync.WaitGroup
	val any
	err error
}

func (g *singleflightGroup) Do(key string, fn func() (any, error)) (any, error, bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = map[string]*sfCall{}
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}
	c := &sfCall{}
	c.wg.Add(1)
	g.calls[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()
	c.wg.Done()

	g.mu.Lock()
	delete(g.calls, key)
	g.mu.Unlock()
	return c.val, c.err, false
}
