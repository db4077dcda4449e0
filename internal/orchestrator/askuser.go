// askuser.go implements the ask_user built-in's special-casing:
// parameter validation, the per-conversation clarification cap, and the
// "suspend the loop, the next user message is the tool result" protocol.
// ask_user has no config-file representation (unlike ordinary tools loaded
// by internal/toolregistry); its parameter schema is generated struct-first
// via github.com/invopop/jsonschema the same way the synthetic source query
// tool's schema is (prompt.go), rather than hand-authored as a JSON-Schema
// literal.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"

	"github.com/intrafind/ihub-apps-sub002/internal/normalizer"
)

// AskUserToolID is the built-in tool name the loop intercepts instead of
// dispatching to the tool registry.
const AskUserToolID = "ask_user"

// maxClarificationsPerConversation caps ask_user invocations per
// conversation; past it the model gets an error result instead.
const maxClarificationsPerConversation = 10

const (
	maxQuestionLen    = 500
	maxOptions        = 20
	maxOptionFieldLen = 100
	maxPatternLen     = 200
)

// askUserOption is one choice offered alongside a free-text answer.
type askUserOption struct {
	Label string `json:"label" jsonschema:"description=Label shown to the user,required"`
	Value string `json:"value" jsonschema:"description=Value returned if this option is chosen,required"`
}

// askUserParams is the ask_user tool's parameter shape.
type askUserParams struct {
	Question  string          `json:"question" jsonschema:"description=The clarifying question to ask the user,required"`
	Options   []askUserOption `json:"options,omitempty" jsonschema:"description=Optional multiple-choice answers"`
	InputType string          `json:"inputType,omitempty" jsonschema:"description=Expected answer shape: text, number, or choice"`
	Pattern   string          `json:"pattern,omitempty" jsonschema:"description=Optional validation regex for a free-text answer"`
}

var askUserSchema = reflectSchema(&askUserParams{})

// AskUserToolDefinition returns the generic ToolDefinition for the ask_user
// built-in, appended to every tool-supporting model's tool list.
func AskUserToolDefinition() normalizer.ToolDefinition {
	return normalizer.ToolDefinition{
		Name:        AskUserToolID,
		Description: "Ask the user a clarifying question before continuing.",
		Parameters:  askUserSchema,
	}
}

// catastrophicPatternShapes flags regex shapes known to cause exponential
// backtracking: a quantified group that itself contains a quantified
// sub-expression, e.g. (a+)+ or (a*)*. This is a heuristic, not a proof —
// it catches the textbook nested-quantifier shape, not every ReDoS pattern.
var catastrophicPatternShapes = regexp.MustCompile(`\([^)]*[+*][^)]*\)[+*]`)

// ValidateAskUserParams enforces the ask_user parameter limits.
func ValidateAskUserParams(args json.RawMessage) (*askUserParams, error) {
	var p askUserParams
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, fmt.Errorf("ask_user: arguments are not valid JSON: %w", err)
	}
	if len(p.Question) == 0 {
		return nil, fmt.Errorf("ask_user: question is required")
	}
	if len(p.Question) > maxQuestionLen {
		return nil, fmt.Errorf("ask_user: question exceeds %d characters", maxQuestionLen)
	}
	if len(p.Options) > maxOptions {
		return nil, fmt.Errorf("ask_user: too many options (max %d)", maxOptions)
	}
	for _, opt := range p.Options {
		if len(opt.Label) > maxOptionFieldLen || len(opt.Value) > maxOptionFieldLen {
			return nil, fmt.Errorf("ask_user: option fields exceed %d characters", maxOptionFieldLen)
		}
	}
	if len(p.Pattern) > maxPatternLen {
		return nil, fmt.Errorf("ask_user: pattern exceeds %d characters", maxPatternLen)
	}
	if p.Pattern != "" {
		if catastrophicPatternShapes.MatchString(p.Pattern) {
			return nil, fmt.Errorf("ask_user: pattern has a potentially catastrophic-backtracking shape")
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return nil, fmt.Errorf("ask_user: pattern is not a valid regular expression: %w", err)
		}
	}
	return &p, nil
}

func init() {
	// Builds a zero Reflector and discards it; no schema is checked here, and
	// reflectSchema still falls back to {"type":"object"} on failure.
	_ = jsonschema.Reflector{}
}
