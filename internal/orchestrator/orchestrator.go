// Package orchestrator implements the Chat Orchestrator: request
// resolution (app/model/tool/source), the provider-agnostic tool-calling
// loop, cancellation, and the ask_user clarification protocol. It is the
// seam where every other component (config cache, authorization, provider
// adapters, the tool registry, the source manager, and the streaming
// pipeline) is wired together into one conversation turn. The loop runs as
// a single in-process goroutine per chat request: resolve, stream from the
// provider, dispatch tool calls, append results, repeat.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/modelfilter"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	"github.com/intrafind/ihub-apps-sub002/internal/secrets"
	"github.com/intrafind/ihub-apps-sub002/internal/sources"
	"github.com/intrafind/ihub-apps-sub002/internal/store"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

// ProviderFactory constructs a provider adapter scoped to one resolved model
// and its decrypted API key. Building adapters lazily (rather than holding
// one static instance per provider) lets each model carry its own key and
// base URL.
type ProviderFactory func(model config.Model, apiKey string) providers.Provider

// Deps bundles every collaborator the orchestrator drives. All fields are
// required except Usage, KeyCrypt, Logger, and EnvLookup. The first three
// degrade gracefully when nil (no durable usage tracking, no key decryption,
// no logging); a nil EnvLookup reads the process environment.
type Deps struct {
	Cache             *config.Cache
	Tools             *toolregistry.Registry
	Sources           *sources.Manager
	Hub               *stream.Hub
	KeyCrypt          *secrets.KeyCrypt
	Usage             *store.UsageTracker
	ProviderFactories map[config.Provider]ProviderFactory
	Logger            telemetry.Logger
	EnvLookup         func(string) string
}

// Orchestrator runs the Chat Orchestrator's resolution and tool loop for
// one gateway instance, tracking one session per active chatId.
type Orchestrator struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*session
}

// New constructs an Orchestrator from its dependencies, filling in no-op
// defaults for optional fields left zero.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = telemetry.NoopLogger{}
	}
	if deps.EnvLookup == nil {
		deps.EnvLookup = defaultEnvLookup
	}
	return &Orchestrator{deps: deps, sessions: map[string]*session{}}
}

// Message is one user-authored line of conversation submitted with a chat
// request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions carries per-request overrides.
type ChatOptions struct {
	ToolOverrides []string
	ModelOverride string
}

// ChatRequest is the Chat Orchestrator's entry payload.
// View and User must already reflect a resolved authorization decision —
// the orchestrator enforces app/model permission using View, but does not
// itself perform group-to-permission resolution (internal/authz does).
type ChatRequest struct {
	ChatID    string
	AppID     string
	ModelID   string
	Language  string
	Messages  []Message
	Variables map[string]string
	Options   ChatOptions
	View      config.UserView
	User      authz.User
}

// Handle resolves a chat request (app, model, tools, sources, variables),
// then drives the tool-calling loop to completion, suspension (ask_user),
// cancellation, or error, publishing every intermediate event to the Hub
// for chatId. Handle itself opens the hub channel, so callers should call
// Events(chatId) only after Handle has started: launch Handle in a
// goroutine, then serve SSE from Hub.Events/Actions.
func (o *Orchestrator) Handle(ctx context.Context, req ChatRequest) error {
	snap := o.deps.Cache.Snapshot()

	app, ok := o.deps.Cache.App(req.View, req.AppID)
	if !ok {
		return apierror.New(apierror.CodeForbidden, fmt.Sprintf("app %q is not accessible", req.AppID))
	}
	if !app.Enabled {
		return apierror.New(apierror.CodeFeatureDisabled, fmt.Sprintf("app %q is disabled", req.AppID))
	}

	permitted := make([]config.Model, 0, len(snap.Models))
	for _, m := range snap.ModelList() {
		if !m.Enabled {
			continue
		}
		if req.View.Models.Permits(m.ID) {
			permitted = append(permitted, m)
		}
	}
	requestedModel := req.ModelID
	if req.Options.ModelOverride != "" {
		requestedModel = req.Options.ModelOverride
	}
	model, ok := modelfilter.Resolve(permitted, app, requestedModel)
	if !ok {
		return apierror.New(apierror.CodeValidation, "no compatible model is available for this app")
	}

	toolDefs, err := o.resolveTools(app, req.Options.ToolOverrides, model)
	if err != nil {
		return err
	}
	toolDefs = append(toolDefs, o.resolveSourceTools(app, snap, model)...)

	systemPrompt, err := o.renderSystemPrompt(ctx, app, req, snap)
	if err != nil {
		return err
	}

	sess := o.sessionFor(req.ChatID, req.User.ID)
	messages := req.Messages
	if pendingID := sess.takePendingToolCall(); pendingID != "" && len(messages) > 0 {
		sess.resolvePendingToolResult(pendingID, messages[0].Content)
		messages = messages[1:]
	} else if len(messages) == 0 && app.AutoStart && len(sess.snapshotTurns()) == 0 {
		sess.appendTurn(turn{role: "user", text: ""})
	}
	for _, m := range messages {
		sess.appendTurn(turn{role: "user", text: m.Content})
	}

	o.deps.Hub.Open(req.ChatID)

	loopCtx, cancel := context.WithCancel(ctx)
	gen := sess.startRequest(cancel)
	defer func() {
		sess.endRequest(gen)
		cancel()
	}()

	return o.runLoop(loopCtx, req.ChatID, app.ID, sess, model, systemPrompt, toolDefs, snap, req.User)
}

// Stop cancels the in-flight request for chatId, if any. Idempotent: stopping
// an idle or already-stopped chat is a no-op.
func (o *Orchestrator) Stop(chatID string) {
	o.mu.Lock()
	sess, ok := o.sessions[chatID]
	o.mu.Unlock()
	if !ok {
		return
	}
	sess.cancelActive()
}

// Status reports whether chatId currently has an in-flight request.
func (o *Orchestrator) Status(chatID string) (live bool) {
	o.mu.Lock()
	sess, ok := o.sessions[chatID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return sess.isActive()
}

func (o *Orchestrator) sessionFor(chatID, userID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[chatID]
	if !ok {
		sess = &session{userID: userID}
		o.sessions[chatID] = sess
	}
	return sess
}

// resolveTools computes the union of app tools and
// overrides, intersected with the tool registry, skipped entirely for
// models that do not advertise supportsTools. The ask_user built-in is
// always appended when tools are in play, since it has no config-file
// representation of its own.
func (o *Orchestrator) resolveTools(app config.App, overrides []string, model config.Model) ([]normalizer.ToolDefinition, error) {
	if !model.SupportsTools {
		return nil, nil
	}
	ids := make(map[string]struct{}, len(app.Tools)+len(overrides))
	for _, b := range app.Tools {
		ids[b.ToolID] = struct{}{}
	}
	for _, id := range overrides {
		ids[id] = struct{}{}
	}
	if len(ids) == 0 {
		return []normalizer.ToolDefinition{AskUserToolDefinition()}, nil
	}

	defs := make([]normalizer.ToolDefinition, 0, len(ids)+1)
	for id := range ids {
		desc, schema, ok := o.deps.Tools.Describe(id)
		if !ok {
			continue
		}
		defs = append(defs, normalizer.ToolDefinition{Name: id, Description: desc, Parameters: schema})
	}
	defs = append(defs, AskUserToolDefinition())
	return defs, nil
}
