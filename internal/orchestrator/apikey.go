package orchestrator

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
)

// envVarRef matches Model.url's ${VAR} environment-variable placeholders.
var envVarRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs substitutes every ${VAR} placeholder in s using lookup.
func expandEnvRefs(s string, lookup func(string) string) string {
	return envVarRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := envVarRef.FindStringSubmatch(ref)[1]
		return lookup(name)
	})
}

// envVarForProvider names the fallback environment variable a provider's
// key is read from when a model has no per-model encrypted key configured.
func envVarForProvider(p config.Provider) string {
	switch p {
	case config.ProviderOpenAI, config.ProviderOpenAIResponses:
		return "OPENAI_API_KEY"
	case config.ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case config.ProviderGoogle:
		return "GOOGLE_API_KEY"
	case config.ProviderMistral:
		return "MISTRAL_API_KEY"
	case config.ProviderAzureImage:
		return "AZURE_OPENAI_API_KEY"
	default: // local, iassistant: no standard bearer key
		return ""
	}
}

// modelEnvVar names the per-model environment variable for a model id:
// uppercased, with runes an env name cannot carry folded to '_', e.g.
// "gpt-4o" -> "GPT_4O_API_KEY".
func modelEnvVar(id string) string {
	if id == "" {
		return ""
	}
	upper := []rune(strings.ToUpper(id))
	for i, r := range upper {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			upper[i] = '_'
		}
	}
	return string(upper) + "_API_KEY"
}

// resolveAPIKey resolves a model's API key, first hit wins: the per-model
// encrypted key (re-read directly from disk when the cached snapshot lacks
// it, the cold-cache case just after an admin write), then the per-model
// environment variable (<MODEL_ID_UPPER>_API_KEY), then the provider's
// standard environment variable.
func (o *Orchestrator) resolveAPIKey(model config.Model) (string, error) {
	encrypted := model.EncryptedAPIKey
	if encrypted == "" {
		if fromDisk, ok := o.deps.Cache.ModelFromDisk(model.ID); ok && fromDisk.EncryptedAPIKey != "" {
			encrypted = fromDisk.EncryptedAPIKey
		}
	}

	var decrypted string
	if encrypted != "" {
		if o.deps.KeyCrypt == nil {
			return "", apierror.New(apierror.CodeInternal, fmt.Sprintf("model %q has an encrypted API key but no key crypt is configured", model.ID))
		}
		key, err := o.deps.KeyCrypt.Decrypt(encrypted)
		if err != nil {
			return "", apierror.Wrap(apierror.CodeInternal, fmt.Sprintf("failed to decrypt API key for model %q", model.ID), err)
		}
		decrypted = key
	}

	return providers.ResolveAPIKey(decrypted, o.deps.EnvLookup, modelEnvVar(model.ID), envVarForProvider(model.Provider)), nil
}

// providerFor builds the provider adapter and resolved endpoint for model,
// expanding any ${VAR} placeholders in its configured URL.
func (o *Orchestrator) providerFor(model config.Model) (providers.Provider, string, string, error) {
	factory, ok := o.deps.ProviderFactories[model.Provider]
	if !ok {
		return nil, "", "", apierror.New(apierror.CodeInternal, fmt.Sprintf("no provider adapter registered for %q", model.Provider))
	}
	apiKey, err := o.resolveAPIKey(model)
	if err != nil {
		return nil, "", "", err
	}
	baseURL := expandEnvRefs(model.URL, o.deps.EnvLookup)
	return factory(model, apiKey), apiKey, baseURL, nil
}

// defaultEnvLookup is os.LookupEnv adapted to the plain string->string shape
// Deps.EnvLookup expects, for callers that do not supply their own.
func defaultEnvLookup(name string) string {
	v, _ := os.LookupEnv(name)
	return v
}
