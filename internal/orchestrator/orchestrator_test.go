package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	"github.com/intrafind/ihub-apps-sub002/internal/sources"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/telemetry"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

// scriptedProvider plays back a fixed sequence of event scripts, one per
// Stream call, recording every request it receives. The optional gate makes
// the first Stream call wait until the test has attached to the hub channel,
// so no events race past the collector.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []providers.Request
	scripts  [][]normalizer.StreamEvent
	gate     chan struct{}
	blockAll bool // hold the stream open until ctx is cancelled, emitting nothing
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req providers.Request) (*providers.Response, error) {
	return nil, &providers.Error{Category: providers.ErrorUnknown, Message: "scripted provider is stream-only"}
}

func (p *scriptedProvider) Stream(ctx context.Context, req providers.Request) (<-chan normalizer.StreamEvent, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var script []normalizer.StreamEvent
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	gate := p.gate
	p.gate = nil
	p.mu.Unlock()

	out := make(chan normalizer.StreamEvent, len(script)+1)
	go func() {
		defer close(out)
		if gate != nil {
			<-gate
		}
		if p.blockAll {
			<-ctx.Done()
			return
		}
		for _, ev := range script {
			out <- ev
		}
	}()
	return out, nil
}

func (p *scriptedProvider) addScript(script []normalizer.StreamEvent) {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
}

func (p *scriptedProvider) setGate(gate chan struct{}) {
	p.mu.Lock()
	p.gate = gate
	p.mu.Unlock()
}

func (p *scriptedProvider) recorded() []providers.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]providers.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

// echoRecorder is the registered handler for the "echo" test tool, keeping
// every invocation's raw arguments.
type echoRecorder struct {
	mu    sync.Mutex
	calls []json.RawMessage
}

func (e *echoRecorder) Invoke(_ context.Context, _ string, args json.RawMessage, inv toolregistry.Invocation) (any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, args)
	e.mu.Unlock()
	if inv.Progress != nil {
		inv.Progress("echoing")
	}
	var p struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &p)
	return map[string]any{"echoed": p.Text}, nil
}

func (e *echoRecorder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// staticSourceHandler serves fixed content derived from the configured path,
// standing in for the real filesystem handler.
type staticSourceHandler struct{}

func (staticSourceHandler) Validate(cfg map[string]any) error { return nil }

func (staticSourceHandler) Load(_ context.Context, cfg map[string]any, _ sources.LoadContext) (sources.Content, error) {
	path, _ := cfg["path"].(string)
	return sources.Content{Text: "CONTENT:" + path}, nil
}

type fixture struct {
	orch     *Orchestrator
	provider *scriptedProvider
	hub      *stream.Hub
	cache    *config.Cache
	echo     *echoRecorder

	// actions holds the tool progress markers published during the most
	// recent runAndCollect call.
	actions []stream.ActionEvent
}

func newFixture(t *testing.T, model config.Model, app config.App) *fixture {
	t.Helper()
	ctx := context.Background()

	loader := config.NewLoader(t.TempDir(), telemetry.NoopLogger{})
	cache, err := config.NewCache(ctx, loader, telemetry.NoopLogger{}, true)
	require.NoError(t, err)
	require.NoError(t, cache.PutResource(ctx, "models", model.ID, model))
	require.NoError(t, cache.PutResource(ctx, "apps", app.ID, app))

	echo := &echoRecorder{}
	reg := toolregistry.NewRegistry()
	echoTool := config.Tool{
		ID:          "echo",
		Enabled:     true,
		Description: map[string]string{"en": "Echo the given text back"},
		Parameters: config.ToolParameters{
			"type":       "object",
			"properties": map[string]any{"text": map[string]any{"type": "string"}},
			"required":   []any{"text"},
		},
	}
	require.NoError(t, reg.Load([]config.Tool{echoTool}, map[string]toolregistry.Handler{"echo": echo}))

	provider := &scriptedProvider{}
	hub := stream.NewHub(nil)
	orch := New(Deps{
		Cache:   cache,
		Tools:   reg,
		Sources: sources.NewManager().WithHandler(config.SourceTypeFilesystem, staticSourceHandler{}),
		Hub:     hub,
		ProviderFactories: map[config.Provider]ProviderFactory{
			config.ProviderOpenAI: func(config.Model, string) providers.Provider { return provider },
		},
		EnvLookup: func(string) string { return "test-key" },
	})
	return &fixture{orch: orch, provider: provider, hub: hub, cache: cache, echo: echo}
}

func toolModel() config.Model {
	return config.Model{ID: "gpt-4o", ModelID: "gpt-4o", Provider: config.ProviderOpenAI, TokenLimit: 4096, SupportsTools: true, Enabled: true}
}

func plainModel() config.Model {
	m := toolModel()
	m.SupportsTools = false
	return m
}

func chatApp(mutate ...func(*config.App)) config.App {
	app := config.App{
		ID:                   "chat",
		Type:                 config.AppTypeChat,
		SystemPromptTemplate: "You are helpful.",
		Enabled:              true,
	}
	for _, m := range mutate {
		m(&app)
	}
	return app
}

func chatReq(chatID string, messages ...string) ChatRequest {
	req := ChatRequest{
		ChatID: chatID,
		AppID:  "chat",
		View: config.UserView{
			Key:    "u1",
			Apps:   config.AllowAllFilter(),
			Models: config.AllowAllFilter(),
		},
		User: authz.User{ID: "u1", Authenticated: true},
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, Message{Role: "user", Content: m})
	}
	return req
}

// runAndCollect drives one Handle call to completion, attaching to the hub
// channel before the provider is allowed to emit, and returns every published
// event alongside Handle's error.
func runAndCollect(t *testing.T, f *fixture, req ChatRequest) ([]normalizer.StreamEvent, error) {
	t.Helper()
	gate := make(chan struct{})
	f.provider.setGate(gate)

	errCh := make(chan error, 1)
	go func() { errCh <- f.orch.Handle(context.Background(), req) }()

	var ch <-chan stream.ClientEvent
	deadline := time.Now().Add(5 * time.Second)
	for ch == nil {
		select {
		case err := <-errCh:
			// Handle failed during resolution, before the channel opened.
			return nil, err
		default:
		}
		if c, ok := f.hub.Events(req.ChatID); ok {
			ch = c
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("hub channel for chat never opened")
		}
		time.Sleep(2 * time.Millisecond)
	}
	acts, _ := f.hub.Actions(req.ChatID)
	close(gate)

	var events []normalizer.StreamEvent
	for ev := range ch {
		events = append(events, ev.Event)
	}
	f.actions = nil
	if acts != nil {
		for a := range acts {
			f.actions = append(f.actions, a)
		}
	}
	return events, <-errCh
}

func eventKinds(events []normalizer.StreamEvent) []normalizer.StreamEventKind {
	kinds := make([]normalizer.StreamEventKind, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func toolNames(defs []normalizer.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func TestSimpleChatStreamsToDone(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp())
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventContentDelta, TextDelta: "Hel"},
		{Kind: normalizer.EventContentDelta, TextDelta: "lo!"},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop, Usage: &normalizer.TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5}},
	})

	events, err := runAndCollect(t, f, chatReq("c1", "Hello"))
	require.NoError(t, err)

	reqs := f.provider.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-4o", reqs[0].Model)
	assert.Equal(t, "test-key", reqs[0].APIKey)
	assert.Equal(t, "You are helpful.", reqs[0].SystemPrompt)
	assert.Equal(t, []map[string]any{{"role": "user", "content": "Hello"}}, reqs[0].Messages)
	assert.Empty(t, reqs[0].Tools, "a model without tool support must not be sent tool definitions")

	assert.Equal(t, []normalizer.StreamEventKind{
		normalizer.EventContentDelta,
		normalizer.EventContentDelta,
		normalizer.EventFinish,
	}, eventKinds(events))
	assert.Equal(t, normalizer.FinishStop, events[2].FinishReason)

	assert.False(t, f.orch.Status("c1"))
}

func TestToolLoopExecutesAndContinues(t *testing.T) {
	f := newFixture(t, toolModel(), chatApp(func(a *config.App) {
		a.Tools = []config.ToolBinding{{ToolID: "echo"}}
	}))
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "call_1", ToolCallName: "echo", Args: json.RawMessage(`{"text":"hi"}`)},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
	})
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventContentDelta, TextDelta: "echo says hi"},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	})

	events, err := runAndCollect(t, f, chatReq("c2", "Say hi back"))
	require.NoError(t, err)
	require.Equal(t, 1, f.echo.count())

	reqs := f.provider.recorded()
	require.Len(t, reqs, 2)

	names := toolNames(reqs[0].Tools)
	assert.Contains(t, names, "echo")
	assert.Contains(t, names, AskUserToolID)

	// The continuation transcript replays the original user turn, then the
	// assistant turn carrying the tool call, then one tool-result message.
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0]["role"])
	assert.Equal(t, "assistant", msgs[1]["role"])
	require.NotNil(t, msgs[1]["tool_calls"])
	assert.Equal(t, "tool", msgs[2]["role"])
	assert.Equal(t, "call_1", msgs[2]["tool_call_id"])
	assert.JSONEq(t, `{"echoed":"hi"}`, msgs[2]["content"].(string))

	assert.Contains(t, eventKinds(events), normalizer.EventToolCallComplete)
	last := events[len(events)-1]
	assert.Equal(t, normalizer.EventFinish, last.Kind)
	assert.Equal(t, normalizer.FinishStop, last.FinishReason)

	require.Len(t, f.actions, 1, "the tool's progress marker must reach the action stream")
	assert.Equal(t, "echo", f.actions[0].Tool)
	assert.Equal(t, "echoing", f.actions[0].Message)
}

func TestAskUserSuspendsAndResumes(t *testing.T) {
	f := newFixture(t, toolModel(), chatApp())
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "ask_1", ToolCallName: AskUserToolID, Args: json.RawMessage(`{"question":"Which city?"}`)},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
	})

	events, err := runAndCollect(t, f, chatReq("c3", "What's the weather?"))
	require.NoError(t, err)
	require.Len(t, f.provider.recorded(), 1, "the loop must suspend instead of calling the provider again")

	var clarification, finish *normalizer.StreamEvent
	for i := range events {
		switch events[i].Kind {
		case normalizer.EventClarification:
			clarification = &events[i]
		case normalizer.EventFinish:
			finish = &events[i]
		}
	}
	require.NotNil(t, clarification)
	assert.Equal(t, "Which city?", clarification.ClarificationQuestion)
	assert.Equal(t, "ask_1", clarification.ClarificationToolCallID)
	require.NotNil(t, finish)
	assert.Equal(t, normalizer.FinishClarification, finish.FinishReason)

	// The next user message resolves the suspended call and the loop resumes.
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventContentDelta, TextDelta: "Sunny in Berlin."},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	})
	events, err = runAndCollect(t, f, chatReq("c3", "Berlin"))
	require.NoError(t, err)

	reqs := f.provider.recorded()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool", msgs[2]["role"])
	assert.Equal(t, "ask_1", msgs[2]["tool_call_id"])
	assert.Equal(t, "Berlin", msgs[2]["content"])

	last := events[len(events)-1]
	assert.Equal(t, normalizer.EventFinish, last.Kind)
	assert.Equal(t, normalizer.FinishStop, last.FinishReason)
}

func TestClarificationCapReturnsErrorToModel(t *testing.T) {
	f := newFixture(t, toolModel(), chatApp())
	sess := f.orch.sessionFor("c4", "u1")
	sess.clarifications = maxClarificationsPerConversation

	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "ask_over", ToolCallName: AskUserToolID, Args: json.RawMessage(`{"question":"One more?"}`)},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
	})
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventContentDelta, TextDelta: "Answering without asking."},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	})

	events, err := runAndCollect(t, f, chatReq("c4", "Help me decide"))
	require.NoError(t, err)

	assert.NotContains(t, eventKinds(events), normalizer.EventClarification,
		"past the cap the model gets an error result, not the user a question")

	reqs := f.provider.recorded()
	require.Len(t, reqs, 2, "the loop must continue with an error tool result")
	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool", msgs[2]["role"])
	assert.Contains(t, msgs[2]["content"], "clarification limit")
	assert.Equal(t, "", sess.takePendingToolCall())
}

func TestToolLoopDepthBoundEndsWithLengthFinish(t *testing.T) {
	f := newFixture(t, toolModel(), chatApp(func(a *config.App) {
		a.Tools = []config.ToolBinding{{ToolID: "echo"}}
	}))
	platform := config.DefaultPlatformConfig()
	platform.MaxToolLoopDepth = 2
	require.NoError(t, f.cache.PutPlatform(context.Background(), platform))

	toolRound := []normalizer.StreamEvent{
		{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "call_n", ToolCallName: "echo", Args: json.RawMessage(`{"text":"again"}`)},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
	}
	f.provider.addScript(toolRound)
	f.provider.addScript(toolRound)

	events, err := runAndCollect(t, f, chatReq("c5", "Loop forever"))
	require.NoError(t, err)

	assert.Len(t, f.provider.recorded(), 2)
	assert.Equal(t, 2, f.echo.count())

	last := events[len(events)-1]
	assert.Equal(t, normalizer.EventFinish, last.Kind)
	assert.Equal(t, normalizer.FinishLength, last.FinishReason)
}

func TestStopCancelsActiveRequest(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp())
	f.provider.blockAll = true

	gate := make(chan struct{})
	f.provider.setGate(gate)
	errCh := make(chan error, 1)
	go func() { errCh <- f.orch.Handle(context.Background(), chatReq("c6", "Hang on")) }()

	var ch <-chan stream.ClientEvent
	deadline := time.Now().Add(5 * time.Second)
	for ch == nil {
		if c, ok := f.hub.Events("c6"); ok {
			ch = c
			break
		}
		require.False(t, time.Now().After(deadline), "hub channel never opened")
		time.Sleep(2 * time.Millisecond)
	}
	close(gate)
	// The hub channel opens just before the request claims the session, so
	// give the cancel func a moment to be installed before stopping.
	for !f.orch.Status("c6") {
		require.False(t, time.Now().After(deadline), "request never became active")
		time.Sleep(2 * time.Millisecond)
	}

	f.orch.Stop("c6")

	var events []normalizer.StreamEvent
	for ev := range ch {
		events = append(events, ev.Event)
	}
	err := <-errCh
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeCancelled, apiErr.Code)

	var sawCancelled bool
	for _, ev := range events {
		if ev.Kind == normalizer.EventCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled, "the stream must end with a cancelled event, not a generic error")
	assert.False(t, f.orch.Status("c6"))
}

func TestHandleRejectsInaccessibleApp(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp())

	req := chatReq("c7", "Hello")
	req.View.Apps = config.NewResourceFilter([]string{"some-other-app"})

	_, err := runAndCollect(t, f, req)
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeForbidden, apiErr.Code)
	assert.Empty(t, f.provider.recorded())
}

func TestHandleRejectsMissingRequiredVariable(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp(func(a *config.App) {
		a.SystemPromptTemplate = "You help people in {{city}}."
		a.Variables = []config.Variable{{Name: "city", Type: "string", Required: true}}
	}))

	_, err := runAndCollect(t, f, chatReq("c8", "Hi"))
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeValidation, apiErr.Code)
	assert.Equal(t, "variables.city", apiErr.Field)
}

func TestVariableSubstitutionInSystemPrompt(t *testing.T) {
	f := newFixture(t, plainModel(), chatApp(func(a *config.App) {
		a.SystemPromptTemplate = "You help people in {{city}}."
		a.Variables = []config.Variable{{Name: "city", Type: "string", Required: true}}
	}))
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	})

	req := chatReq("c9", "Hi")
	req.Variables = map[string]string{"city": "Berlin"}
	_, err := runAndCollect(t, f, req)
	require.NoError(t, err)

	reqs := f.provider.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "You help people in Berlin.", reqs[0].SystemPrompt)
}

func TestSourceExposureAsPromptAndTool(t *testing.T) {
	f := newFixture(t, toolModel(), chatApp(func(a *config.App) {
		a.SystemPromptTemplate = "Context:\n{{sources}}"
		a.Sources = []config.SourceBinding{{SourceID: "notes"}, {SourceID: "kb"}}
	}))
	ctx := context.Background()
	require.NoError(t, f.cache.PutResource(ctx, "sources", "notes", config.Source{
		ID: "notes", Type: config.SourceTypeFilesystem, ExposeAs: config.SourceExposeAsPrompt,
		Config: map[string]any{"path": "notes.md"},
	}))
	require.NoError(t, f.cache.PutResource(ctx, "sources", "kb", config.Source{
		ID: "kb", Type: config.SourceTypeFilesystem, ExposeAs: config.SourceExposeAsTool,
		Config: map[string]any{"path": "kb.md"},
	}))

	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventToolCallComplete, ToolCallIndex: 0, ToolCallID: "call_kb", ToolCallName: "source_kb", Args: json.RawMessage(`{"query":"setup"}`)},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishToolCalls},
	})
	f.provider.addScript([]normalizer.StreamEvent{
		{Kind: normalizer.EventContentDelta, TextDelta: "Per the kb..."},
		{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishStop},
	})

	_, err := runAndCollect(t, f, chatReq("c10", "How do I set this up?"))
	require.NoError(t, err)

	reqs := f.provider.recorded()
	require.Len(t, reqs, 2)
	assert.True(t, strings.Contains(reqs[0].SystemPrompt, "CONTENT:notes.md"),
		"prompt-exposed source content must be inlined, got %q", reqs[0].SystemPrompt)
	assert.Contains(t, toolNames(reqs[0].Tools), "source_kb")

	msgs := reqs[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "tool", msgs[2]["role"])
	assert.Equal(t, "CONTENT:kb.md", msgs[2]["content"])
}
