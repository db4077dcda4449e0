package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelEnvVar(t *testing.T) {
	assert.Equal(t, "GPT_4O_API_KEY", modelEnvVar("gpt-4o"))
	assert.Equal(t, "CLAUDE_3_5_SONNET_API_KEY", modelEnvVar("claude-3.5-sonnet"))
	assert.Equal(t, "LOCAL_API_KEY", modelEnvVar("local"))
	assert.Equal(t, "", modelEnvVar(""))
}

// TestResolveAPIKeyPrefersPerModelEnvVar covers the middle resolution tier:
// with no encrypted key stored, the model's own environment variable wins
// over the provider-wide one.
func TestResolveAPIKeyPrefersPerModelEnvVar(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp())
	o := New(Deps{
		Cache: f.cache,
		EnvLookup: func(name string) string {
			switch name {
			case "GPT_4O_API_KEY":
				return "model-env-key"
			case "OPENAI_API_KEY":
				return "provider-env-key"
			}
			return ""
		},
	})

	got, err := o.resolveAPIKey(plainModel())
	require.NoError(t, err)
	assert.Equal(t, "model-env-key", got)
}

func TestResolveAPIKeyFallsBackToProviderEnvVar(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp())
	o := New(Deps{
		Cache: f.cache,
		EnvLookup: func(name string) string {
			if name == "OPENAI_API_KEY" {
				return "provider-env-key"
			}
			return ""
		},
	})

	got, err := o.resolveAPIKey(plainModel())
	require.NoError(t, err)
	assert.Equal(t, "provider-env-key", got)
}
