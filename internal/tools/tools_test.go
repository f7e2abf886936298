package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/damsac/health-assistant/internal/health"
)

func newTestRegistry(t *testing.T, userID string) (*Registry, *health.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "health.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store, err := health.NewStore(db)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	registry := NewRegistry(ExecutionContext{ActingUserID: userID, ConversationID: "conv-1"}, store)
	return registry, store
}

func TestRegistrySpecs(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")

	specs := registry.Specs()
	if len(specs) != 3 {
		t.Fatalf("expected 3 tool specs, got %d", len(specs))
	}
	want := []string{UpdateProfileToolName, ManageGoalsToolName, DailyLogToolName}
	for i, name := range want {
		if specs[i].Name != name {
			t.Errorf("spec %d = %s, want %s", i, specs[i].Name, name)
		}
		if specs[i].Schema == nil {
			t.Errorf("spec %s has no schema", name)
		}
	}

	if _, ok := registry.Get("update_profile"); !ok {
		t.Error("update_profile not registered")
	}
	if _, ok := registry.Get("nonexistent"); ok {
		t.Error("unknown tool resolved")
	}
}

func TestNeedsApproval(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")

	tests := []struct {
		tool  string
		input string
		want  bool
	}{
		// Profile writes always pause for consent.
		{UpdateProfileToolName, `{"weight_lbs":150}`, true},
		{UpdateProfileToolName, `{}`, true},

		// Goal reads are free, everything else is gated.
		{ManageGoalsToolName, `{"action":"list"}`, false},
		{ManageGoalsToolName, `{"action":"create","title":"x"}`, true},
		{ManageGoalsToolName, `{"action":"update","goal_id":"g1"}`, true},
		{ManageGoalsToolName, `{"action":"delete","goal_id":"g1"}`, true},
		{ManageGoalsToolName, `not json`, true},

		// Daily log gates only the write action.
		{DailyLogToolName, `{"action":"log","category":"meal","summary":"x"}`, true},
		{DailyLogToolName, `{"action":"get_today"}`, false},
		{DailyLogToolName, `{"action":"get_recent","days":3}`, false},
		{DailyLogToolName, `not json`, true},
	}
	for _, tt := range tests {
		tool, ok := registry.Get(tt.tool)
		if !ok {
			t.Fatalf("tool %s missing", tt.tool)
		}
		if got := tool.NeedsApproval(json.RawMessage(tt.input)); got != tt.want {
			t.Errorf("%s.NeedsApproval(%s) = %v, want %v", tt.tool, tt.input, got, tt.want)
		}
	}
}

func TestUpdateProfileConvertsUnits(t *testing.T) {
	registry, store := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(UpdateProfileToolName)

	result, err := tool.Execute(ctx, json.RawMessage(`{
		"name": "Alice",
		"weight_lbs": 150,
		"height_feet": 5,
		"height_inches": 6,
		"gender": "female",
		"date_of_birth": "1990-03-15"
	}`))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	res, ok := result.(UpdateProfileResult)
	if !ok || !res.Success {
		t.Fatalf("unexpected result: %+v", result)
	}

	p, err := store.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	// 150 lbs = 68038.8 g, rounded
	if p.WeightGrams != 68039 {
		t.Errorf("weight = %d grams, want 68039", p.WeightGrams)
	}
	// 5'6" = 66in * 2.54 = 167.64, rounded
	if p.HeightCm != 168 {
		t.Errorf("height = %d cm, want 168", p.HeightCm)
	}
	if p.DateOfBirth == nil || p.DateOfBirth.Year() != 1990 {
		t.Errorf("date of birth = %v", p.DateOfBirth)
	}
}

func TestUpdateProfileMetricWinsOverImperial(t *testing.T) {
	registry, store := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(UpdateProfileToolName)

	if _, err := tool.Execute(ctx, json.RawMessage(`{
		"weight_kg": 70,
		"weight_lbs": 999,
		"height_cm": 170.4,
		"height_feet": 9
	}`)); err != nil {
		t.Fatalf("execute: %v", err)
	}

	p, err := store.GetProfile(ctx, "alice")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.WeightGrams != 70000 {
		t.Errorf("weight = %d, want 70000 (kg should win over lbs)", p.WeightGrams)
	}
	if p.HeightCm != 170 {
		t.Errorf("height = %d, want 170 (cm should win over feet)", p.HeightCm)
	}
}

func TestUpdateProfileRejectsBadInput(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(UpdateProfileToolName)

	tests := []struct {
		name  string
		input string
	}{
		{"negative weight", `{"weight_lbs":-10}`},
		{"zero height", `{"height_cm":0}`},
		{"inches out of range", `{"height_feet":5,"height_inches":12}`},
		{"bad date", `{"date_of_birth":"15/03/1990"}`},
		{"bad measurement system", `{"measurement_system":"stones"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tool.Execute(ctx, json.RawMessage(tt.input)); err == nil {
				t.Errorf("expected error for %s", tt.input)
			}
		})
	}
}

func TestManageGoalsLifecycle(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(ManageGoalsToolName)

	created, err := tool.Execute(ctx, json.RawMessage(`{"action":"create","title":"Run a 5k","description":"By spring"}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	goal := created.(ManageGoalsResult).Goal
	if goal == nil || goal.Title != "Run a 5k" {
		t.Fatalf("unexpected create result: %+v", created)
	}

	updated, err := tool.Execute(ctx, json.RawMessage(`{"action":"update","goal_id":"`+goal.ID+`","status":"completed"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.(ManageGoalsResult).Goal.Status != health.GoalCompleted {
		t.Errorf("status not updated: %+v", updated)
	}

	listed, err := tool.Execute(ctx, json.RawMessage(`{"action":"list"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listed.(ManageGoalsResult).Goals; len(got) != 1 {
		t.Errorf("expected 1 goal, got %d", len(got))
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"action":"delete","goal_id":"`+goal.ID+`"}`)); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestManageGoalsErrors(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(ManageGoalsToolName)

	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"create without title", `{"action":"create"}`, "title is required"},
		{"update without id", `{"action":"update","title":"x"}`, "goal_id is required"},
		{"update missing goal", `{"action":"update","goal_id":"nope","title":"x"}`, "not found"},
		{"delete missing goal", `{"action":"delete","goal_id":"nope"}`, "not found"},
		{"invalid status", `{"action":"create","title":"x","status":"paused"}`, "invalid goal status"},
		{"unknown action", `{"action":"archive"}`, "unknown action"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tool.Execute(ctx, json.RawMessage(tt.input))
			if err == nil {
				t.Fatalf("expected error for %s", tt.input)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestDailyLogActions(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(DailyLogToolName)

	logged, err := tool.Execute(ctx, json.RawMessage(`{"action":"log","category":"meal","summary":"Oatmeal with berries","details":{"calories":350}}`))
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	if entry := logged.(DailyLogResult).Entry; entry == nil || entry.Category != health.LogMeal {
		t.Fatalf("unexpected log result: %+v", logged)
	}

	today, err := tool.Execute(ctx, json.RawMessage(`{"action":"get_today"}`))
	if err != nil {
		t.Fatalf("get_today: %v", err)
	}
	if got := today.(DailyLogResult).Entries; len(got) != 1 {
		t.Errorf("expected 1 entry today, got %d", len(got))
	}

	recent, err := tool.Execute(ctx, json.RawMessage(`{"action":"get_recent"}`))
	if err != nil {
		t.Fatalf("get_recent: %v", err)
	}
	if got := recent.(DailyLogResult).Entries; len(got) != 1 {
		t.Errorf("expected 1 recent entry, got %d", len(got))
	}
}

func TestDailyLogGetRecentWindow(t *testing.T) {
	_, store := newTestRegistry(t, "alice")
	ctx := context.Background()

	tool := NewDailyLogTool(ExecutionContext{ActingUserID: "alice"}, store)

	if _, err := store.AddLogEntry(ctx, "alice", health.LogNote, "recent note", nil); err != nil {
		t.Fatalf("seed entry: %v", err)
	}

	result, err := tool.Execute(ctx, json.RawMessage(`{"action":"get_recent","days":3}`))
	if err != nil {
		t.Fatalf("get_recent: %v", err)
	}
	if got := result.(DailyLogResult).Entries; len(got) != 1 {
		t.Errorf("expected 1 entry within window, got %d", len(got))
	}

	// Pinning the clock far ahead moves the window past the entry.
	tool.now = func() time.Time { return time.Now().AddDate(1, 0, 0) }
	result, err = tool.Execute(ctx, json.RawMessage(`{"action":"get_recent","days":3}`))
	if err != nil {
		t.Fatalf("get_recent with future clock: %v", err)
	}
	if got := result.(DailyLogResult).Entries; len(got) != 0 {
		t.Errorf("expected 0 entries outside window, got %d", len(got))
	}

	tests := []string{
		`{"action":"get_recent","days":31}`,
		`{"action":"get_recent","days":-1}`,
	}
	for _, input := range tests {
		if _, err := tool.Execute(ctx, json.RawMessage(input)); err == nil {
			t.Errorf("expected error for %s", input)
		}
	}
}

func TestDailyLogErrors(t *testing.T) {
	registry, _ := newTestRegistry(t, "alice")
	ctx := context.Background()
	tool, _ := registry.Get(DailyLogToolName)

	tests := []struct {
		name  string
		input string
	}{
		{"log without category", `{"action":"log","summary":"x"}`},
		{"log without summary", `{"action":"log","category":"meal"}`},
		{"invalid category", `{"action":"log","category":"gym","summary":"x"}`},
		{"unknown action", `{"action":"purge"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tool.Execute(ctx, json.RawMessage(tt.input)); err == nil {
				t.Errorf("expected error for %s", tt.input)
			}
		})
	}
}

func TestToolsScopeToActingUser(t *testing.T) {
	registry, store := newTestRegistry(t, "alice")
	ctx := context.Background()

	// Bob's goal must be invisible to tools acting for alice.
	bobGoal, err := store.CreateGoal(ctx, "bob", "Bob's goal", "", health.GoalActive)
	if err != nil {
		t.Fatalf("seed goal: %v", err)
	}

	tool, _ := registry.Get(ManageGoalsToolName)
	listed, err := tool.Execute(ctx, json.RawMessage(`{"action":"list"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := listed.(ManageGoalsResult).Goals; len(got) != 0 {
		t.Errorf("alice sees %d of bob's goals", len(got))
	}

	if _, err := tool.Execute(ctx, json.RawMessage(`{"action":"delete","goal_id":"`+bobGoal.ID+`"}`)); err == nil {
		t.Error("expected delete of another user's goal to fail")
	}
}
