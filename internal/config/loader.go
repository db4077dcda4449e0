package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
)

// Loader reads resources from an on-disk root: reads
// prefer contents/, fall back to defaults/; apps/models/tools/sources may be
// split into one-file-per-id directories under either root.
type Loader struct {
	root   string
	logger telemetry.Logger
}

// NewLoader constructs a Loader rooted at dir (the CONTENTS_DIR root itself,
// containing both contents/ and defaults/ subdirectories).
func NewLoader(dir string, logger telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Loader{root: dir, logger: logger}
}

// Load reads every resource type into a new Snapshot. Malformed individual
// files are logged and skipped rather than failing the
// whole load; a missing directory simply yields an empty resource map.
func (l *Loader) Load(ctx context.Context) (*Snapshot, error) {
	snap := emptySnapshot()

	apps, appsHash, err := loadCollection[App](ctx, l, "apps", func(a App) string { return a.ID })
	if err != nil {
		return nil, err
	}
	snap.Apps = apps

	models, modelsHash, err := loadCollection[Model](ctx, l, "models", func(m Model) string { return m.ID })
	if err != nil {
		return nil, err
	}
	snap.Models = models

	tools, toolsHash, err := loadCollection[Tool](ctx, l, "tools", func(t Tool) string { return t.ID })
	if err != nil {
		return nil, err
	}
	snap.Tools = tools

	sources, sourcesHash, err := loadCollection[Source](ctx, l, "sources", func(s Source) string { return s.ID })
	if err != nil {
		return nil, err
	}
	snap.Sources = sources

	groups, groupsHash, err := loadCollection[Group](ctx, l, "groups", func(g Group) string { return g.ID })
	if err != nil {
		return nil, err
	}
	snap.Groups = groups

	platform := DefaultPlatformConfig()
	if data, ok := l.readSingle("config/platform.json"); ok {
		if err := json.Unmarshal(data, &platform); err != nil {
			l.logger.Warn(ctx, "skipping malformed platform config", "path", "config/platform.json", "err", err)
		}
	}
	snap.Platform = platform
	platformHash, _ := contentHash(platform)

	snap.globalETags = map[string]string{
		"apps":     appsHash,
		"models":   modelsHash,
		"tools":    toolsHash,
		"sources":  sourcesHash,
		"groups":   groupsHash,
		"platform": platformHash,
	}

	for _, name := range blobNames {
		data, ok := l.readSingle("config/" + name + ".json")
		if !ok {
			data = []byte("{}")
		}
		snap.Blobs[name] = json.RawMessage(data)
		hash, err := contentHash(data)
		if err != nil {
			return nil, fmt.Errorf("config: hash %s: %w", name, err)
		}
		snap.globalETags[name] = hash
	}

	translations, translationsHash, err := l.loadTranslations()
	if err != nil {
		return nil, err
	}
	snap.Translations = translations
	snap.globalETags["translations"] = translationsHash

	return snap, nil
}

// loadTranslations reads contents/translations/<lang>.json (falling back to
// defaults/translations/<lang>.json) for every language file present,
// keyed by language code.
func (l *Loader) loadTranslations() (map[string]json.RawMessage, string, error) {
	out := map[string]json.RawMessage{}
	for _, base := range []string{"defaults", "contents"} {
		dir := filepath.Join(l.root, base, "translations")
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // path built from trusted config root
			if err != nil {
				l.logger.Warn(context.Background(), "failed to read translation file", "path", e.Name(), "err", err)
				continue
			}
			lang := strings.TrimSuffix(e.Name(), ".json")
			out[lang] = json.RawMessage(data)
		}
	}
	hash, err := contentHash(out)
	if err != nil {
		return nil, "", fmt.Errorf("config: hash translations: %w", err)
	}
	return out, hash, nil
}

// loadCollection loads a resource type that may be laid out as either a
// single "<name>.json" file holding an object keyed by id or a "<name>/<id>.json"
// directory of one-file-per-id entries, preferring contents/ over defaults/.
func loadCollection[T any](ctx context.Context, l *Loader, name string, idOf func(T) string) (map[string]T, string, error) {
	out := map[string]T{}

	// Directory layout: contents/<name>/*.json merged with defaults/<name>/*.json,
	// contents/ entries winning by id.
	defaultsDir := filepath.Join(l.root, "defaults", name)
	contentsDir := filepath.Join(l.root, "contents", name)
	loadedAny := false

	for _, dir := range []string{defaultsDir, contentsDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			path := filepath.Join(dir, e.Name())
			data, err := os.ReadFile(path) //nolint:gosec // path built from trusted config root
			if err != nil {
				l.logger.Warn(ctx, "failed to read config file", "path", path, "err", err)
				continue
			}
			var item T
			if err := json.Unmarshal(data, &item); err != nil {
				l.logger.Warn(ctx, "skipping malformed config file", "path", path, "err", err)
				continue
			}
			id := idOf(item)
			if id == "" {
				id = strings.TrimSuffix(e.Name(), ".json")
			}
			out[id] = item
			loadedAny = true
		}
	}

	// Single-file layout: "<name>.json" containing an object keyed by id.
	if !loadedAny {
		if data, ok := l.readSingle(name + ".json"); ok {
			var collection map[string]T
			if err := json.Unmarshal(data, &collection); err != nil {
				l.logger.Warn(ctx, "skipping malformed config file", "path", name+".json", "err", err)
			} else {
				for id, item := range collection {
					out[id] = item
				}
			}
		}
	}

	hash, err := contentHash(out)
	if err != nil {
		return nil, "", fmt.Errorf("config: hash %s: %w", name, err)
	}
	return out, hash, nil
}

// ReadModel re-reads a single model directly from disk, bypassing whatever
// snapshot is currently cached. The orchestrator falls back to this when a
// just-written model's encrypted API key is missing from the in-memory
// snapshot.
func (l *Loader) ReadModel(id string) (Model, bool) {
	models, _, err := loadCollection[Model](context.Background(), l, "models", func(m Model) string { return m.ID })
	if err != nil {
		return Model{}, false
	}
	m, ok := models[id]
	return m, ok
}

// readSingle reads "contents/<rel>" falling back to "defaults/<rel>".
func (l *Loader) readSingle(rel string) ([]byte, bool) {
	for _, base := range []string{"contents", "defaults"} {
		path := filepath.Join(l.root, base, rel)
		data, err := os.ReadFile(path) //nolint:gosec // path built from trusted config root
		if err == nil {
			return data, true
		}
	}
	return nil, false
}

// WriteResource serializes v to contents/<kind>/<id>.json via the same
// atomic temp-file-then-rename pattern. Writes always target
// contents/, never defaults/.
func (l *Loader) WriteResource(kind, id string, v any) error {
	return l.writeJSONAtomic(filepath.Join("contents", kind, id+".json"), v)
}

// DeleteResource removes contents/<kind>/<id>.json. Deleting a resource that
// exists only in defaults/ is a no-op success: the shipped-in fallback
// remains visible, which is the intended behavior for "reset to default".
func (l *Loader) DeleteResource(kind, id string) error {
	path := filepath.Join(l.root, "contents", kind, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: delete %s: %w", path, err)
	}
	return nil
}

// WriteSingle serializes v to contents/<rel>, where rel carries its own .json
// extension; the platform config (platform.json) is written this way.
func (l *Loader) WriteSingle(rel string, v any) error {
	return l.writeJSONAtomic(filepath.Join("contents", rel), v)
}

func (l *Loader) writeJSONAtomic(rel string, v any) error {
	path := filepath.Join(l.root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("config: sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("config: rename %s -> %s: %w", tmpPath, path, err)
	}
	cleanup = false
	return nil
}
