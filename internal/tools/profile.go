package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/damsac/health-assistant/internal/health"
	"github.com/damsac/health-assistant/internal/llm"
)

// UpdateProfileTool writes to the user's health profile. It accepts
// friendly units (pounds, feet and inches) and converts them to the
// canonical grams and centimeters before persisting.
type UpdateProfileTool struct {
	execCtx ExecutionContext
	store   *health.Store
}

func NewUpdateProfileTool(execCtx ExecutionContext, store *health.Store) *UpdateProfileTool {
	return &UpdateProfileTool{execCtx: execCtx, store: store}
}

// UpdateProfileArgs are the arguments for update_profile.
type UpdateProfileArgs struct {
	Name               string   `json:"name,omitempty"`
	WeightLbs          *float64 `json:"weight_lbs,omitempty"`
	WeightKg           *float64 `json:"weight_kg,omitempty"`
	HeightFeet         *int     `json:"height_feet,omitempty"`
	HeightInches       *int     `json:"height_inches,omitempty"`
	HeightCm           *float64 `json:"height_cm,omitempty"`
	Gender             string   `json:"gender,omitempty"`
	DietaryPreferences []string `json:"dietary_preferences,omitempty"`
	HealthConditions   []string `json:"health_conditions,omitempty"`
	DateOfBirth        string   `json:"date_of_birth,omitempty"`
	MeasurementSystem  string   `json:"measurement_system,omitempty"`
	SleepHoursAverage  string   `json:"sleep_hours_average,omitempty"`
	ExerciseFrequency  string   `json:"exercise_frequency,omitempty"`
	StressLevel        string   `json:"stress_level,omitempty"`
}

// UpdateProfileResult reports which profile fields changed.
type UpdateProfileResult struct {
	Success       bool     `json:"success"`
	UpdatedFields []string `json:"updatedFields"`
}

func (t *UpdateProfileTool) Name() string { return UpdateProfileToolName }

func (t *UpdateProfileTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        UpdateProfileToolName,
		Description: "Update the user's health profile. Use this when the user mentions health info like weight, height, age, gender, or dietary preferences. Only include fields that the user explicitly mentioned.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The user's preferred name",
				},
				"weight_lbs": map[string]any{
					"type":        "number",
					"description": "Weight in pounds",
				},
				"weight_kg": map[string]any{
					"type":        "number",
					"description": "Weight in kilograms",
				},
				"height_feet": map[string]any{
					"type":        "integer",
					"description": "Height feet component",
				},
				"height_inches": map[string]any{
					"type":        "integer",
					"description": "Height inches component (0-11)",
				},
				"height_cm": map[string]any{
					"type":        "number",
					"description": "Height in centimeters",
				},
				"gender": map[string]any{
					"type":        "string",
					"enum":        []string{"male", "female", "other", "prefer_not_to_say"},
					"description": "Gender identity",
				},
				"dietary_preferences": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "List of dietary preferences (e.g., vegetarian, vegan, gluten-free)",
				},
				"health_conditions": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "List of ongoing health conditions",
				},
				"date_of_birth": map[string]any{
					"type":        "string",
					"description": "Date of birth in YYYY-MM-DD format",
				},
				"measurement_system": map[string]any{
					"type":        "string",
					"enum":        []string{"metric", "imperial"},
					"description": "Preferred measurement system",
				},
				"sleep_hours_average": map[string]any{
					"type":        "string",
					"description": "Typical hours of sleep per night",
				},
				"exercise_frequency": map[string]any{
					"type":        "string",
					"description": "How often the user exercises",
				},
				"stress_level": map[string]any{
					"type":        "string",
					"description": "Self-reported stress level",
				},
			},
			"additionalProperties": false,
		},
	}
}

// NeedsApproval always gates profile writes: every path through this tool
// mutates personal data.
func (t *UpdateProfileTool) NeedsApproval(input json.RawMessage) bool {
	return true
}

func (t *UpdateProfileTool) Execute(ctx context.Context, input json.RawMessage) (any, error) {
	var args UpdateProfileArgs
	if err := parseInput(input, &args); err != nil {
		return nil, err
	}

	update, err := args.toUpdate()
	if err != nil {
		return nil, err
	}

	updated, err := t.store.UpdateProfile(ctx, t.execCtx.ActingUserID, update)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return UpdateProfileResult{Success: true, UpdatedFields: updated}, nil
}

// toUpdate converts friendly input units to the canonical profile update.
// Kilograms win over pounds and centimeters over feet when both are given.
func (a UpdateProfileArgs) toUpdate() (health.ProfileUpdate, error) {
	var update health.ProfileUpdate

	switch {
	case a.WeightKg != nil:
		if *a.WeightKg <= 0 {
			return update, fmt.Errorf("weight_kg must be positive")
		}
		grams := health.KgToGrams(*a.WeightKg)
		update.WeightGrams = &grams
	case a.WeightLbs != nil:
		if *a.WeightLbs <= 0 {
			return update, fmt.Errorf("weight_lbs must be positive")
		}
		grams := health.KgToGrams(*a.WeightLbs * 0.453592)
		update.WeightGrams = &grams
	}

	switch {
	case a.HeightCm != nil:
		if *a.HeightCm <= 0 {
			return update, fmt.Errorf("height_cm must be positive")
		}
		cm := int(*a.HeightCm + 0.5)
		update.HeightCm = &cm
	case a.HeightFeet != nil:
		inches := 0
		if a.HeightInches != nil {
			inches = *a.HeightInches
		}
		if *a.HeightFeet <= 0 || inches < 0 || inches > 11 {
			return update, fmt.Errorf("height_feet must be positive and height_inches in 0-11")
		}
		cm := health.FeetInchesToCm(*a.HeightFeet, inches)
		update.HeightCm = &cm
	}

	if a.Name != "" {
		update.Name = &a.Name
	}
	if a.Gender != "" {
		update.Gender = &a.Gender
	}
	if a.DietaryPreferences != nil {
		update.DietaryPreferences = a.DietaryPreferences
	}
	if a.HealthConditions != nil {
		update.HealthConditions = a.HealthConditions
	}
	if a.DateOfBirth != "" {
		dob, err := time.Parse("2006-01-02", a.DateOfBirth)
		if err != nil {
			return update, fmt.Errorf("date_of_birth must be YYYY-MM-DD: %w", err)
		}
		update.DateOfBirth = &dob
	}
	if a.MeasurementSystem != "" {
		if a.MeasurementSystem != "metric" && a.MeasurementSystem != "imperial" {
			return update, fmt.Errorf("measurement_system must be metric or imperial")
		}
		update.MeasurementSystem = &a.MeasurementSystem
	}
	if a.SleepHoursAverage != "" {
		update.SleepHoursAverage = &a.SleepHoursAverage
	}
	if a.ExerciseFrequency != "" {
		update.ExerciseFrequency = &a.ExerciseFrequency
	}
	if a.StressLevel != "" {
		update.StressLevel = &a.StressLevel
	}

	return update, nil
}
