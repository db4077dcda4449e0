package config

import "encoding/json"

// Snapshot is an immutable view of every on-disk resource at a point in time.
// The Cache holds an atomic pointer to the current Snapshot; readers
// dereference the pointer without locks, writers build a new Snapshot and
// swap the pointer.
type Snapshot struct {
	Apps     map[string]App
	Models   map[string]Model
	Tools    map[string]Tool
	Sources  map[string]Source
	Groups   map[string]Group
	Platform PlatformConfig

	// Blobs holds the UI-facing singleton config documents and per-language
	// translation tables that this gateway passes through to clients verbatim
	// rather than modeling as first-class entities — they carry no permission
	// filtering or server-side logic of their own.
	Blobs        map[string]json.RawMessage
	Translations map[string]json.RawMessage

	// globalETags holds a whole-resource-set ETag per resource type, composed
	// into per-user ETags in etag.go. It changes only when the underlying
	// files change, independent of who is asking.
	globalETags map[string]string
}

// resourceNames enumerates the resource types the cache understands. Loading
// and refresh handle each type explicitly; nothing iterates over this list.
var resourceNames = []string{"apps", "models", "tools", "sources", "groups", "platform"}

// blobNames enumerates the singleton UI-facing config documents loaded
// verbatim from contents/config/<name>.json.
var blobNames = []string{"prompts", "styles", "ui", "features"}

// emptySnapshot returns a Snapshot with all maps initialized but empty, used
// as the zero state before the first successful load.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Apps:         map[string]App{},
		Models:       map[string]Model{},
		Tools:        map[string]Tool{},
		Sources:      map[string]Source{},
		Groups:       map[string]Group{},
		Platform:     DefaultPlatformConfig(),
		Blobs:        map[string]json.RawMessage{},
		Translations: map[string]json.RawMessage{},
		globalETags:  map[string]string{},
	}
}

// AppList returns apps in stable (sorted by id) order.
func (s *Snapshot) AppList() []App {
	keys := sortedKeys(s.Apps)
	out := make([]App, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Apps[k])
	}
	return out
}

// ModelList returns models in stable (sorted by id) order.
func (s *Snapshot) ModelList() []Model {
	keys := sortedKeys(s.Models)
	out := make([]Model, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Models[k])
	}
	return out
}

// ToolList returns tools in stable (sorted by id) order.
func (s *Snapshot) ToolList() []Tool {
	keys := sortedKeys(s.Tools)
	out := make([]Tool, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Tools[k])
	}
	return out
}

// SourceList returns sources in stable (sorted by id) order.
func (s *Snapshot) SourceList() []Source {
	keys := sortedKeys(s.Sources)
	out := make([]Source, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Sources[k])
	}
	return out
}

// GroupList returns groups in stable (sorted by id) order.
func (s *Snapshot) GroupList() []Group {
	keys := sortedKeys(s.Groups)
	out := make([]Group, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Groups[k])
	}
	return out
}
