// Package config implements the Config Cache: a preloaded,
// ETag-versioned, content-hashed view over apps, models, tools, sources,
// groups, and platform settings. Resources are loaded from contents/<path>
// with fallback to defaults/<path>.
package config

// ModelFilter is the capability filter an app can require of its models, e.g.
// {"supportsImageGeneration": true}.
type ModelFilter map[string]bool

// Variable describes a declared app template variable.
type Variable struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Required         bool     `json:"required"`
	PredefinedValues []string `json:"predefinedValues,omitempty"`
	DefaultValue     string   `json:"defaultValue,omitempty"`
}

// ToolBinding references a tool id bound to an app, with optional per-app
// overrides.
type ToolBinding struct {
	ToolID string `json:"toolId"`
}

// SourceBinding references a source id bound to an app.
type SourceBinding struct {
	SourceID string `json:"sourceId"`
}

// AppType enumerates the kinds of configured apps.
type AppType string

const (
	AppTypeChat     AppType = "chat"
	AppTypeRedirect AppType = "redirect"
	AppTypeIframe   AppType = "iframe"
)

// AppSettings bundles optional per-app behavior knobs.
type AppSettings struct {
	Model struct {
		Filter ModelFilter `json:"filter,omitempty"`
	} `json:"model"`
}

// App is a configured conversation experience: prompt + bound tools + defaults.
type App struct {
	ID                string          `json:"id"`
	Name              map[string]string `json:"name"`
	Description       map[string]string `json:"description"`
	Type              AppType         `json:"type"`
	SystemPromptTemplate string       `json:"systemPromptTemplate"`
	Variables         []Variable      `json:"variables,omitempty"`
	AllowedModels     []string        `json:"allowedModels,omitempty"`
	Tools             []ToolBinding   `json:"tools,omitempty"`
	Sources           []SourceBinding `json:"sources,omitempty"`
	PreferredModel    string          `json:"preferredModel,omitempty"`
	Settings          AppSettings     `json:"settings"`
	AutoStart         bool            `json:"autoStart,omitempty"`
	Enabled           bool            `json:"enabled"`
}

// HintLevel enumerates model hint severities.
type HintLevel string

const (
	HintLevelHint    HintLevel = "hint"
	HintLevelInfo    HintLevel = "info"
	HintLevelWarning HintLevel = "warning"
	HintLevelAlert   HintLevel = "alert"
)

// ModelHint is a server-observable, UI-consumed annotation on a model.
type ModelHint struct {
	Level       HintLevel `json:"level"`
	Dismissible bool      `json:"dismissible"`
	Message     string    `json:"message"`
}

// Provider enumerates supported upstream LLM providers.
type Provider string

const (
	ProviderOpenAI          Provider = "openai"
	ProviderOpenAIResponses Provider = "openai-responses"
	ProviderAnthropic       Provider = "anthropic"
	ProviderGoogle          Provider = "google"
	ProviderMistral         Provider = "mistral"
	ProviderLocal           Provider = "local"
	ProviderIAssistant      Provider = "iassistant"
	ProviderAzureImage      Provider = "azure-image"
)

// Model is a configured LLM endpoint.
type Model struct {
	ID                       string    `json:"id"`
	ModelID                  string    `json:"modelId"`
	Provider                 Provider  `json:"provider"`
	URL                      string    `json:"url"`
	TokenLimit               int       `json:"tokenLimit"`
	SupportsTools            bool      `json:"supportsTools"`
	SupportsImages           bool      `json:"supportsImages"`
	SupportsImageGeneration  bool      `json:"supportsImageGeneration"`
	EncryptedAPIKey          string    `json:"apiKey,omitempty"`
	Hint                     *ModelHint `json:"hint,omitempty"`
	Default                  bool      `json:"default,omitempty"`
	Enabled                  bool      `json:"enabled"`
}

// ToolParameters is the JSON-Schema describing a tool's input payload.
type ToolParameters map[string]any

// Tool is a callable function the LLM may invoke mid-conversation.
type Tool struct {
	ID               string            `json:"id"`
	Name             map[string]string `json:"name"`
	Description      map[string]string `json:"description"`
	Script           string            `json:"script,omitempty"`
	Functions        map[string]ToolFunction `json:"functions,omitempty"`
	Parameters       ToolParameters    `json:"parameters,omitempty"`
	Concurrency      int               `json:"concurrency,omitempty"`
	Provider         string            `json:"provider,omitempty"`
	IsSpecialTool    bool              `json:"isSpecialTool,omitempty"`
	RequiresUserInput bool             `json:"requiresUserInput,omitempty"`
	Enabled          bool              `json:"enabled"`
}

// ToolFunction describes one entry of a multi-function tool.
type ToolFunction struct {
	Description map[string]string `json:"description"`
	Parameters  ToolParameters     `json:"parameters,omitempty"`
}

// SourceType enumerates source handler kinds.
type SourceType string

const (
	SourceTypeFilesystem SourceType = "filesystem"
	SourceTypeURL        SourceType = "url"
	SourceTypeIFinder    SourceType = "ifinder"
	SourceTypePage       SourceType = "page"
)

// SourceExposeAs controls how a source is surfaced to an app.
type SourceExposeAs string

const (
	SourceExposeAsPrompt SourceExposeAs = "prompt"
	SourceExposeAsTool   SourceExposeAs = "tool"
)

// Source is external content fetched at request time.
type Source struct {
	ID       string         `json:"id"`
	Type     SourceType     `json:"type"`
	ExposeAs SourceExposeAs `json:"exposeAs"`
	Config   map[string]any `json:"config,omitempty"`
	CacheTTLSeconds int     `json:"cacheTtlSeconds,omitempty"`
}

// GroupPermissions lists the resources a group (or its inheritance closure)
// grants.
type GroupPermissions struct {
	Apps         []string `json:"apps,omitempty"`
	Prompts      []string `json:"prompts,omitempty"`
	Models       []string `json:"models,omitempty"`
	AdminAccess  bool     `json:"adminAccess,omitempty"`
}

// Group is an authorization group with inheritance and external mappings.
type Group struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Permissions GroupPermissions `json:"permissions"`
	Inherits    []string         `json:"inherits,omitempty"`
	Mappings    []string         `json:"mappings,omitempty"`
}

// PlatformConfig carries global gateway configuration not tied to another
// resource.
type PlatformConfig struct {
	DefaultGroups       map[string][]string `json:"defaultGroups"`
	AnonymousAuth       bool                `json:"anonymousAuth"`
	AdminSecret         string              `json:"adminSecret,omitempty"`
	RefreshIntervalDev  int                 `json:"refreshIntervalDevSeconds"`
	RefreshIntervalProd int                 `json:"refreshIntervalProdSeconds"`
	MaxToolLoopDepth    int                 `json:"maxToolLoopDepth"`
	RateLimits          RateLimitConfig     `json:"rateLimits"`
}

// RateLimitConfig configures the four rate-limit buckets.
type RateLimitConfig struct {
	Public    BucketConfig `json:"public"`
	Admin     BucketConfig `json:"admin"`
	Auth      BucketConfig `json:"auth"`
	Inference BucketConfig `json:"inference"`
}

// BucketConfig is a single rate-limit bucket's parameters. The limiter is a
// token bucket holding up to Limit tokens, refilled at Limit per WindowMS; it
// is not a sliding window.
type BucketConfig struct {
	WindowMS int `json:"windowMs"`
	Limit    int `json:"limit"`
}

// DefaultPlatformConfig returns the built-in platform defaults, used
// when contents/config/platform.json omits a bucket or field.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		DefaultGroups:      map[string][]string{"default": {"anonymous"}},
		RefreshIntervalDev: 60,
		RefreshIntervalProd: 300,
		MaxToolLoopDepth:   10,
		RateLimits: RateLimitConfig{
			Public:    BucketConfig{WindowMS: 15 * 60 * 1000, Limit: 100},
			Admin:     BucketConfig{WindowMS: 15 * 60 * 1000, Limit: 50},
			Auth:      BucketConfig{WindowMS: 15 * 60 * 1000, Limit: 30},
			Inference: BucketConfig{WindowMS: 15 * 60 * 1000, Limit: 60},
		},
	}
}
