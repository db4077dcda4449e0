package modelfilter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/modelfilter"
)

func TestCompatible_IntersectsAllowedModels(t *testing.T) {
	models := []config.Model{{ID: "gpt-4o"}, {ID: "claude"}, {ID: "gemini"}}
	app := config.App{AllowedModels: []string{"gpt-4o", "gemini"}}
	out := modelfilter.Compatible(models, app)
	require.Len(t, out, 2)
	assert.Equal(t, "gpt-4o", out[0].ID)
	assert.Equal(t, "gemini", out[1].ID)
}

func TestCompatible_RequiresToolSupportWhenAppHasTools(t *testing.T) {
	models := []config.Model{{ID: "a", SupportsTools: true}, {ID: "b", SupportsTools: false}}
	app := config.App{Tools: []config.ToolBinding{{ToolID: "search"}}}
	out := modelfilter.Compatible(models, app)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestCompatible_AppliesCapabilityFilter(t *testing.T) {
	models := []config.Model{
		{ID: "a", SupportsImageGeneration: true},
		{ID: "b", SupportsImageGeneration: false},
	}
	var app config.App
	app.Settings.Model.Filter = config.ModelFilter{"supportsImageGeneration": true}
	out := modelfilter.Compatible(models, app)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestDefault_PrefersPreferredModel(t *testing.T) {
	subset := []config.Model{{ID: "a"}, {ID: "b", Default: true}}
	m, ok := modelfilter.Default(subset, "b")
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)
}

func TestDefault_FallsBackToDefaultFlagThenFirst(t *testing.T) {
	subset := []config.Model{{ID: "a"}, {ID: "b", Default: true}}
	m, ok := modelfilter.Default(subset, "")
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)

	subset2 := []config.Model{{ID: "a"}, {ID: "b"}}
	m2, ok2 := modelfilter.Default(subset2, "missing")
	require.True(t, ok2)
	assert.Equal(t, "a", m2.ID)
}

func TestResolve_FallsBackWhenRequestedModelNotInSubset(t *testing.T) {
	models := []config.Model{{ID: "a"}, {ID: "b", Default: true}}
	app := config.App{PreferredModel: "b"}
	m, ok := modelfilter.Resolve(models, app, "not-allowed")
	require.True(t, ok)
	assert.Equal(t, "b", m.ID)
}

func TestResolve_NoCompatibleModelFails(t *testing.T) {
	app := config.App{AllowedModels: []string{"x"}}
	_, ok := modelfilter.Resolve(nil, app, "")
	assert.False(t, ok)
}
