// Package tools provides the approval-aware tool system exposed to the
// model: each tool declares a spec, decides per-input whether human approval
// is required, and executes against the acting user's data.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
)

// Tool spec names.
const (
	UpdateProfileToolName = "update_profile"
	ManageGoalsToolName   = "manage_goals"
	DailyLogToolName      = "log_daily_entry"
)

// ExecutionContext identifies who a tool acts on behalf of. Tools must
// scope every read and write to ActingUserID; user identity never comes
// from model-provided input.
type ExecutionContext struct {
	ActingUserID   string
	ConversationID string
}

// Tool is a capability the model can invoke.
type Tool interface {
	Name() string
	Spec() llm.ToolSpec

	// NeedsApproval reports whether this invocation must pause for human
	// consent before executing. It may inspect the input: the same tool
	// can be gated for mutating actions and free for reads.
	NeedsApproval(input json.RawMessage) bool

	// Execute runs the tool. The returned value is serialized as the tool
	// result; an error marks the invocation as failed without aborting
	// the conversation turn.
	Execute(ctx context.Context, input json.RawMessage) (any, error)
}

// Registry holds the tools bound to one request's execution context.
// Binding happens per request so a tool can never act for the wrong user.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry builds the tool set for a request.
func NewRegistry(execCtx ExecutionContext, store *health.Store) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	r.register(NewUpdateProfileTool(execCtx, store))
	r.register(NewManageGoalsTool(execCtx, store))
	r.register(NewDailyLogTool(execCtx, store))
	return r
}

func (r *Registry) register(tool Tool) {
	r.tools[tool.Name()] = tool
	r.order = append(r.order, tool.Name())
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns the specs for all registered tools in registration order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

func parseInput(input json.RawMessage, dst any) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return fmt.Errorf("invalid tool input: %w", err)
	}
	return nil
}
