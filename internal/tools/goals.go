package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
)

// ManageGoalsTool creates, updates, deletes and lists the user's wellness
// goals. Listing is read-only and runs without approval; every mutating
// action pauses for consent.
type ManageGoalsTool struct {
	execCtx ExecutionContext
	store   *health.Store
}

func NewManageGoalsTool(execCtx ExecutionContext, store *health.Store) *ManageGoalsTool {
	return &ManageGoalsTool{execCtx: execCtx, store: store}
}

// ManageGoalsArgs are the arguments for manage_goals.
type ManageGoalsArgs struct {
	Action      string `json:"action"`
	GoalID      string `json:"goal_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ManageGoalsResult is the outcome of a goal action.
type ManageGoalsResult struct {
	Success bool          `json:"success"`
	Action  string        `json:"action"`
	Goal    *health.Goal  `json:"goal,omitempty"`
	Goals   []health.Goal `json:"goals,omitempty"`
}

func (t *ManageGoalsTool) Name() string { return ManageGoalsToolName }

func (t *ManageGoalsTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: ManageGoalsToolName,
		Description: "Manage the user's health and wellness goals. " +
			"List current goals (action: \"list\") when you need to know what goals the user has set. " +
			"Create new goals when the user mentions wanting to achieve something. " +
			"Update existing goals or mark them as completed or abandoned. " +
			"Delete goals (action: \"delete\", requires goal_id from list results). " +
			"Always list goals first if you need to reference them in your response.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"create", "update", "delete", "list"},
					"description": "The action to perform on goals",
				},
				"goal_id": map[string]any{
					"type":        "string",
					"description": "Goal ID (required for update/delete)",
				},
				"title": map[string]any{
					"type":        "string",
					"maxLength":   200,
					"description": "Goal title (required for create, optional for update)",
				},
				"description": map[string]any{
					"type":        "string",
					"maxLength":   1000,
					"description": "Optional description of the goal",
				},
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"active", "completed", "abandoned"},
					"description": "Goal status: active, completed, or abandoned",
				},
			},
			"required":             []string{"action"},
			"additionalProperties": false,
		},
	}
}

// NeedsApproval gates everything except the read-only list action.
func (t *ManageGoalsTool) NeedsApproval(input json.RawMessage) bool {
	var args ManageGoalsArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return true
	}
	return args.Action != "list"
}

func (t *ManageGoalsTool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var args ManageGoalsArgs
	if err := parseInput(input, &args); err != nil {
		return nil, err
	}
	if args.Status != "" && !health.ValidGoalStatus(health.GoalStatus(args.Status)) {
		return nil, fmt.Errorf("invalid goal status: %s", args.Status)
	}

	userID := t.execCtx.ActingUserID
	switch args.Action {
	case "create":
		if args.Title == "" {
			return nil, fmt.Errorf("title is required to create a goal")
		}
		goal, err := t.store.CreateGoal(ctx, userID, args.Title, args.Description, health.GoalStatus(args.Status))
		if err != nil {
			return nil, fmt.Errorf("create goal: %w", err)
		}
		return ManageGoalsResult{Success: true, Action: "create", Goal: goal}, nil

	case "update":
		if args.GoalID == "" {
			return nil, fmt.Errorf("goal_id is required for update")
		}
		goal, err := t.store.UpdateGoal(ctx, userID, args.GoalID, args.Title, args.Description, health.GoalStatus(args.Status))
		if err != nil {
			return nil, fmt.Errorf("update goal: %w", err)
		}
		if goal == nil {
			return nil, fmt.Errorf("goal not found or not owned by user")
		}
		return ManageGoalsResult{Success: true, Action: "update", Goal: goal}, nil

	case "delete":
		if args.GoalID == "" {
			return nil, fmt.Errorf("goal_id is required for delete")
		}
		deleted, err := t.store.DeleteGoal(ctx, userID, args.GoalID)
		if err != nil {
			return nil, fmt.Errorf("delete goal: %w", err)
		}
		if !deleted {
			return nil, fmt.Errorf("goal not found or not owned by user")
		}
		return ManageGoalsResult{Success: true, Action: "delete"}, nil

	case "list":
		goals, err := t.store.ListGoals(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list goals: %w", err)
		}
		return ManageGoalsResult{Success: true, Action: "list", Goals: goals}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q", args.Action)
	}
}
