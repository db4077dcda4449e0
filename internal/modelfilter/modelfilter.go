// Package modelfilter implements the model filtering helper shared by the
// chat orchestrator and the model-selector payload: given a model list and
// an app, produce the compatible subset and its default, identically on
// server and (conceptually) client.
package modelfilter

import "github.com/intrafind/ihub-apps-sub002/internal/config"

// Compatible returns the subset of models usable by app, applying the three
// filters in order: allowedModels intersection, supportsTools
// requirement, and the app's capability filter map.
func Compatible(models []config.Model, app config.App) []config.Model {
	out := models
	if len(app.AllowedModels) > 0 {
		allowed := make(map[string]struct{}, len(app.AllowedModels))
		for _, id := range app.AllowedModels {
			allowed[id] = struct{}{}
		}
		out = filter(out, func(m config.Model) bool {
			_, ok := allowed[m.ID]
			return ok
		})
	}
	if len(app.Tools) > 0 {
		out = filter(out, func(m config.Model) bool { return m.SupportsTools })
	}
	if len(app.Settings.Model.Filter) > 0 {
		out = filter(out, func(m config.Model) bool { return matchesCapabilityFilter(m, app.Settings.Model.Filter) })
	}
	return out
}

func matchesCapabilityFilter(m config.Model, required config.ModelFilter) bool {
	for capability, want := range required {
		if capabilityValue(m, capability) != want {
			return false
		}
	}
	return true
}

func capabilityValue(m config.Model, capability string) bool {
	switch capability {
	case "supportsTools":
		return m.SupportsTools
	case "supportsImages":
		return m.SupportsImages
	case "supportsImageGeneration":
		return m.SupportsImageGeneration
	default:
		return false
	}
}

func filter(models []config.Model, keep func(config.Model) bool) []config.Model {
	out := make([]config.Model, 0, len(models))
	for _, m := range models {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Default picks the subset's default model:
// app.preferredModel if present and in subset, else the model flagged
// default in the subset, else the first.
func Default(subset []config.Model, preferredModel string) (config.Model, bool) {
	if len(subset) == 0 {
		return config.Model{}, false
	}
	if preferredModel != "" {
		for _, m := range subset {
			if m.ID == preferredModel {
				return m, true
			}
		}
	}
	for _, m := range subset {
		if m.Default {
			return m, true
		}
	}
	return subset[0], true
}

// Resolve implements the Chat Orchestrator's model resolution step: if
// requestedModel is in the filtered set, use it; else fall
// back through preferredModel → default-flagged → first; else fail.
func Resolve(models []config.Model, app config.App, requestedModel string) (config.Model, bool) {
	subset := Compatible(models, app)
	if requestedModel != "" {
		for _, m := range subset {
			if m.ID == requestedModel {
				return m, true
			}
		}
	}
	return Default(subset, app.PreferredModel)
}
