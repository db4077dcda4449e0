package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/providers"
	"github.com/intrafind/ihub-apps-sub002/internal/stream"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

// runLoop drives the tool-calling loop to completion, suspension, or error:
// build messages → stream the model → classify the finish reason → if
// tool_calls, execute them (concurrently, up to the registry's per-tool cap)
// and append results → repeat, up to MaxToolLoopDepth.
func (o *Orchestrator) runLoop(
	ctx context.Context,
	chatID, appID string,
	sess *session,
	model config.Model,
	systemPrompt string,
	toolDefs []normalizer.ToolDefinition,
	snap *config.Snapshot,
	user authz.User,
) error {
	defer o.deps.Hub.Close(chatID)

	maxDepth := o.deps.Cache.Platform().MaxToolLoopDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}

	provider, apiKey, baseURL, err := o.providerFor(model)
	if err != nil {
		o.publishError(chatID, err)
		return err
	}

	var totalUsage normalizer.TokenUsage
	responded := false
	defer func() {
		if responded {
			o.recordUsage(appID, model.ID, totalUsage)
		}
	}()

	for depth := 0; depth < maxDepth; depth++ {
		if err := ctx.Err(); err != nil {
			o.publishCancelled(chatID)
			return apierror.Wrap(apierror.CodeCancelled, "chat request cancelled", err)
		}

		turns := sess.snapshotTurns()
		req := providers.Request{
			Model:        model.ModelID,
			APIKey:       apiKey,
			BaseURL:      baseURL,
			SystemPrompt: systemPrompt,
			Messages:     buildMessages(model.Provider, turns),
			Tools:        toolDefs,
			ToolChoice:   "auto",
			MaxTokens:    model.TokenLimit,
			Stream:       true,
		}

		events, err := provider.Stream(ctx, req)
		if err != nil {
			o.publishError(chatID, err)
			return err
		}

		acc := stream.NewAccumulator(o.deps.Hub, chatID)
		for ev := range events {
			acc.Feed(ev)
		}

		if err := ctx.Err(); err != nil {
			o.publishCancelled(chatID)
			return apierror.Wrap(apierror.CodeCancelled, "chat request cancelled", err)
		}

		finish, ok := acc.Finished()
		if !ok {
			finish = normalizer.FinishStop
		}
		if u := acc.Usage(); u != nil {
			totalUsage.InputTokens += u.InputTokens
			totalUsage.OutputTokens += u.OutputTokens
			totalUsage.TotalTokens += u.TotalTokens
		}

		assistant := normalizer.AssistantMessage{
			Content:    acc.Content(),
			HasContent: acc.Content() != "",
		}
		for _, tc := range acc.ToolCalls() {
			assistant.ToolCalls = append(assistant.ToolCalls, normalizer.ToolCall{
				ID: tc.ID, Index: tc.Index, Type: "function", Name: tc.Name,
				Arguments: tc.Arguments, Metadata: tc.Metadata,
			})
		}
		sess.appendTurn(turn{role: "assistant", assistant: &assistant})
		responded = true

		if finish == normalizer.FinishError {
			err := apierror.New(apierror.CodeProviderError, "the model provider returned an error")
			return err
		}
		if finish != normalizer.FinishToolCalls || len(assistant.ToolCalls) == 0 {
			return nil
		}

		suspended, err := o.executeToolCalls(ctx, chatID, snap, user, sess, assistant.ToolCalls)
		if err != nil {
			return err
		}
		if suspended {
			return nil
		}
	}

	o.deps.Hub.Publish(chatID, normalizer.StreamEvent{
		Kind: normalizer.EventFinish, FinishReason: normalizer.FinishLength,
	})
	return nil
}

// executeToolCalls runs every pending tool call from one assistant turn
// concurrently, appends their results to the session in original
// output order, and reports whether the loop must suspend
// (an ask_user call was issued and has not exceeded the clarification cap).
func (o *Orchestrator) executeToolCalls(ctx context.Context, chatID string, snap *config.Snapshot, user authz.User, sess *session, calls []normalizer.ToolCall) (suspended bool, err error) {
	// ask_user calls are handled first and serially: suspending the loop
	// makes executing the remaining calls in this batch moot.
	var ordinary []normalizer.ToolCall
	for _, tc := range calls {
		if tc.Name != AskUserToolID {
			ordinary = append(ordinary, tc)
			continue
		}
		done, askErr := o.handleAskUser(chatID, sess, tc)
		if askErr != nil {
			return false, askErr
		}
		if done {
			return true, nil
		}
	}
	if len(ordinary) == 0 {
		return false, nil
	}

	results := make([]normalizer.ToolResult, len(ordinary))
	g, gctx := errgroup.WithContext(ctx)
	for i, tc := range ordinary {
		i, tc := i, tc
		g.Go(func() error {
			content, isError := o.invokeOneTool(gctx, snap, user, chatID, tc)
			results[i] = normalizer.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: content, IsError: isError}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return false, err
	}

	sess.appendToolResults(results)
	return false, nil
}

// invokeOneTool dispatches a single non-ask_user tool call: source query
// tools are serviced in-process (prompt.go); everything else goes through
// the tool registry.
func (o *Orchestrator) invokeOneTool(ctx context.Context, snap *config.Snapshot, user authz.User, chatID string, tc normalizer.ToolCall) (content string, isError bool) {
	if isSourceTool(tc.Name) {
		text, err := o.invokeSourceTool(ctx, snap, user, tc.Name)
		if err != nil {
			return err.Error(), true
		}
		return text, false
	}

	result, err := o.deps.Tools.Invoke(ctx, tc.Name, tc.Arguments, toolregistry.Invocation{
		UserID: user.ID,
		ChatID: chatID,
		Progress: func(message string) {
			o.deps.Hub.PublishAction(chatID, tc.Name, message)
		},
	})
	if err != nil {
		return err.Error(), true
	}
	switch v := result.(type) {
	case string:
		return v, false
	default:
		raw, marshalErr := json.Marshal(v)
		if marshalErr != nil {
			return fmt.Sprintf("tool result could not be serialized: %v", marshalErr), true
		}
		return string(raw), false
	}
}

// handleAskUser implements the ask_user special case: validate
// arguments, enforce the clarification cap, and — when still within the
// cap — suspend the loop by recording the pending tool-call id and emitting
// a clarification event instead of a normal tool result.
func (o *Orchestrator) handleAskUser(chatID string, sess *session, tc normalizer.ToolCall) (suspended bool, err error) {
	params, verr := ValidateAskUserParams(tc.Arguments)
	if verr != nil {
		sess.appendToolResults([]normalizer.ToolResult{{ToolCallID: tc.ID, Name: tc.Name, Content: verr.Error(), IsError: true}})
		return false, nil
	}

	count := sess.incrementClarifications()
	if count > maxClarificationsPerConversation {
		sess.appendToolResults([]normalizer.ToolResult{{
			ToolCallID: tc.ID, Name: tc.Name, IsError: true,
			Content: "clarification limit reached; answer with the best available information instead of asking again",
		}})
		return false, nil
	}

	sess.setPendingToolCall(tc.ID)
	o.deps.Hub.Publish(chatID, normalizer.StreamEvent{
		Kind:                    normalizer.EventClarification,
		ClarificationQuestion:   params.Question,
		ClarificationSchema:     askUserSchema,
		ClarificationToolCallID: tc.ID,
	})
	o.deps.Hub.Publish(chatID, normalizer.StreamEvent{Kind: normalizer.EventFinish, FinishReason: normalizer.FinishClarification})
	return true, nil
}

func (o *Orchestrator) publishError(chatID string, err error) {
	o.deps.Hub.Publish(chatID, normalizer.StreamEvent{Kind: normalizer.EventError, ErrorKind: "provider_error", ErrorMessage: err.Error()})
}

func (o *Orchestrator) publishCancelled(chatID string) {
	o.deps.Hub.Publish(chatID, normalizer.StreamEvent{Kind: normalizer.EventCancelled})
}

func (o *Orchestrator) recordUsage(appID, modelID string, usage normalizer.TokenUsage) {
	if o.deps.Usage == nil {
		return
	}
	_ = o.deps.Usage.Record(appID, modelID, usage.InputTokens, usage.OutputTokens)
}
