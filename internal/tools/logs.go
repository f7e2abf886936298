package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
)

const (
	defaultRecentDays = 7
	maxRecentDays     = 30
)

// DailyLogTool records and reads daily wellness entries. Writing a new
// entry requires approval, the get actions do not.
type DailyLogTool struct {
	execCtx ExecutionContext
	store   *health.Store
	now     func() time.Time
}

func NewDailyLogTool(execCtx ExecutionContext, store *health.Store) *DailyLogTool {
	return &DailyLogTool{execCtx: execCtx, store: store, now: time.Now}
}

// DailyLogArgs are the arguments for log_daily_entry.
type DailyLogArgs struct {
	Action   string         `json:"action"`
	Category string         `json:"category,omitempty"`
	Summary  string         `json:"summary,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Days     int            `json:"days,omitempty"`
}

// DailyLogResult is the outcome of a log action.
type DailyLogResult struct {
	Success bool              `json:"success"`
	Action  string            `json:"action"`
	Entry   *health.LogEntry  `json:"entry,omitempty"`
	Entries []health.LogEntry `json:"entries,omitempty"`
}

func (t *DailyLogTool) Name() string { return DailyLogToolName }

func (t *DailyLogTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: DailyLogToolName,
		Description: "Log daily health and wellness entries. " +
			"Log meals, water intake, exercise, sleep, mood, energy levels, symptoms, supplements, or general notes. " +
			"Get today's logged entries (action: \"get_today\") or recent entries from the past few days (action: \"get_recent\"). " +
			"Example: user says \"I had eggs and toast for breakfast\", log with category \"meal\" and summary \"Eggs and toast for breakfast\".",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"log", "get_today", "get_recent"},
					"description": "The action to perform",
				},
				"category": map[string]any{
					"type":        "string",
					"enum":        []string{"meal", "water", "exercise", "sleep", "mood", "energy", "symptom", "supplement", "note"},
					"description": "Category of the log entry (required for log action)",
				},
				"summary": map[string]any{
					"type":        "string",
					"maxLength":   500,
					"description": "Brief summary of the entry (required for log action), e.g., \"Ate oatmeal with berries for breakfast\"",
				},
				"details": map[string]any{
					"type":        "object",
					"description": "Optional structured details as key-value pairs, e.g., { \"calories\": 350, \"protein\": \"12g\" }",
				},
				"days": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     30,
					"description": "Number of days to fetch for get_recent (default: 7, max: 30)",
				},
			},
			"required":             []string{"action"},
			"additionalProperties": false,
		},
	}
}

// NeedsApproval gates only writes; reading entries back is free.
func (t *DailyLogTool) NeedsApproval(input json.RawMessage) bool {
	var args DailyLogArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return true
	}
	return args.Action == "log"
}

func (t *DailyLogTool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var args DailyLogArgs
	if err := parseInput(input, &args); err != nil {
		return nil, err
	}

	userID := t.execCtx.ActingUserID
	switch args.Action {
	case "log":
		if args.Category == "" {
			return nil, fmt.Errorf("category is required to log an entry")
		}
		if !health.ValidLogCategory(health.LogCategory(args.Category)) {
			return nil, fmt.Errorf("invalid category: %s", args.Category)
		}
		if args.Summary == "" {
			return nil, fmt.Errorf("summary is required to log an entry")
		}
		entry, err := t.store.AddLogEntry(ctx, userID, health.LogCategory(args.Category), args.Summary, args.Details)
		if err != nil {
			return nil, fmt.Errorf("log entry: %w", err)
		}
		return DailyLogResult{Success: true, Action: "log", Entry: entry}, nil

	case "get_today":
		since := startOfDay(t.now())
		entries, err := t.store.ListLogEntries(ctx, userID, since)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		return DailyLogResult{Success: true, Action: "get_today", Entries: entries}, nil

	case "get_recent":
		days := args.Days
		if days == 0 {
			days = defaultRecentDays
		}
		if days < 1 || days > maxRecentDays {
			return nil, fmt.Errorf("days must be between 1 and %d", maxRecentDays)
		}
		since := startOfDay(t.now().AddDate(0, 0, -days))
		entries, err := t.store.ListLogEntries(ctx, userID, since)
		if err != nil {
			return nil, fmt.Errorf("list entries: %w", err)
		}
		return DailyLogResult{Success: true, Action: "get_recent", Entries: entries}, nil

	default:
		return nil, fmt.Errorf("unknown action: %q", args.Action)
	}
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
