package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/authz"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
	"github.com/intrafind/ihub-apps-sub002/internal/sources"
)

// sourceToolPrefix namespaces synthetic exposeAs=tool source query tools so
// the loop can recognize and intercept them the same way it does ask_user,
// without colliding with a real registry tool id.
const sourceToolPrefix = "source_"

// sourceQueryParams is the {query: string} synthetic schema for exposeAs=tool
// sources, generated struct-first via invopop/jsonschema rather than
// hand-written as a JSON-Schema literal.
type sourceQueryParams struct {
	Query string `json:"query" jsonschema:"description=What to look up in this source,required"`
}

var sourceQuerySchema = reflectSchema(&sourceQueryParams{})

func reflectSchema(v any) map[string]any {
	schema := (&jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}).Reflect(v)
	raw, err := schema.MarshalJSON()
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// renderSystemPrompt substitutes declared app variables and the content of
// the app's exposeAs=prompt sources into its system prompt template.
func (o *Orchestrator) renderSystemPrompt(ctx context.Context, app config.App, req ChatRequest, snap *config.Snapshot) (string, error) {
	prompt := app.SystemPromptTemplate
	for _, v := range app.Variables {
		value := req.Variables[v.Name]
		if value == "" {
			value = v.DefaultValue
		}
		if v.Required && value == "" {
			return "", apierror.New(apierror.CodeValidation, fmt.Sprintf("variable %q is required", v.Name)).WithField("variables." + v.Name)
		}
		prompt = strings.ReplaceAll(prompt, "{{"+v.Name+"}}", value)
	}

	var promptSections []string
	for _, binding := range app.Sources {
		src, ok := snap.Sources[binding.SourceID]
		if !ok || src.ExposeAs != config.SourceExposeAsPrompt {
			continue
		}
		content, err := o.deps.Sources.Load(ctx, src, sources.LoadContext{User: req.User})
		if err != nil {
			return "", err
		}
		promptSections = append(promptSections, content.Text)
	}
	prompt = strings.ReplaceAll(prompt, "{{sources}}", strings.Join(promptSections, "\n\n"))
	return prompt, nil
}

// resolveSourceTools builds one synthetic ToolDefinition per exposeAs=tool
// source bound to app, only when the model supports
// tool calls at all.
func (o *Orchestrator) resolveSourceTools(app config.App, snap *config.Snapshot, model config.Model) []normalizer.ToolDefinition {
	if !model.SupportsTools {
		return nil
	}
	var out []normalizer.ToolDefinition
	for _, binding := range app.Sources {
		src, ok := snap.Sources[binding.SourceID]
		if !ok || src.ExposeAs != config.SourceExposeAsTool {
			continue
		}
		out = append(out, normalizer.ToolDefinition{
			Name:        sourceToolPrefix + src.ID,
			Description: fmt.Sprintf("Look up information from the %q source.", src.ID),
			Parameters:  sourceQuerySchema,
		})
	}
	return out
}

// invokeSourceTool services a synthetic exposeAs=tool call by performing a
// scoped source load and returning its content as the tool result. The
// query argument is accepted but not passed to the handler: no source type in
// this gateway supports query-scoped fetches yet, so the full cached
// content is returned on every call.
func (o *Orchestrator) invokeSourceTool(ctx context.Context, snap *config.Snapshot, user authz.User, toolName string) (string, error) {
	sourceID := strings.TrimPrefix(toolName, sourceToolPrefix)
	src, ok := snap.Sources[sourceID]
	if !ok {
		return "", apierror.New(apierror.CodeNotFound, fmt.Sprintf("source %q is not configured", sourceID))
	}
	content, err := o.deps.Sources.Load(ctx, src, sources.LoadContext{User: user})
	if err != nil {
		return "", err
	}
	return content.Text, nil
}

// isSourceTool reports whether toolName names a synthetic exposeAs=tool
// source query tool.
func isSourceTool(toolName string) bool {
	return strings.HasPrefix(toolName, sourceToolPrefix)
}
