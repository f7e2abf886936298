// Package health persists the user-facing health data mutated by the
// assistant's tools: profile, goals, and the daily log. Every row is scoped
// to a user id and cross-user access fails closed.
package health

import (
	"time"
)

// Profile is a user's health profile. Weight is stored in grams and height
// in centimeters as canonical units; tools normalize friendly units on the
// way in.
type Profile struct {
	UserID             string     `json:"userId"`
	Name               string     `json:"name,omitempty"`
	HeightCm           int        `json:"heightCm,omitempty"`
	WeightGrams        int        `json:"weightGrams,omitempty"`
	Gender             string     `json:"gender,omitempty"`
	DateOfBirth        *time.Time `json:"dateOfBirth,omitempty"`
	MeasurementSystem  string     `json:"measurementSystem,omitempty"` // metric or imperial
	DietaryPreferences []string   `json:"dietaryPreferences,omitempty"`
	HealthConditions   []string   `json:"healthConditions,omitempty"`
	SleepHoursAverage  string     `json:"sleepHoursAverage,omitempty"`
	ExerciseFrequency  string     `json:"exerciseFrequency,omitempty"`
	StressLevel        string     `json:"stressLevel,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalAbandoned GoalStatus = "abandoned"
)

// ValidGoalStatus reports whether s is a known goal status.
func ValidGoalStatus(s GoalStatus) bool {
	switch s {
	case GoalActive, GoalCompleted, GoalAbandoned:
		return true
	}
	return false
}

// Goal is a user's health or wellness goal.
type Goal struct {
	ID          string     `json:"id"`
	UserID      string     `json:"-"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// LogCategory classifies a daily log entry.
type LogCategory string

const (
	LogMeal       LogCategory = "meal"
	LogWater      LogCategory = "water"
	LogExercise   LogCategory = "exercise"
	LogSleep      LogCategory = "sleep"
	LogMood       LogCategory = "mood"
	LogEnergy     LogCategory = "energy"
	LogSymptom    LogCategory = "symptom"
	LogSupplement LogCategory = "supplement"
	LogNote       LogCategory = "note"
)

// ValidLogCategory reports whether c is a known category.
func ValidLogCategory(c LogCategory) bool {
	switch c {
	case LogMeal, LogWater, LogExercise, LogSleep, LogMood, LogEnergy,
		LogSymptom, LogSupplement, LogNote:
		return true
	}
	return false
}

// LogEntry is one daily log record.
type LogEntry struct {
	ID        string         `json:"id"`
	UserID    string         `json:"-"`
	Category  LogCategory    `json:"category"`
	Summary   string         `json:"summary"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ProfileUpdate carries the fields to change on a profile. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Name               *string
	HeightCm           *int
	WeightGrams        *int
	Gender             *string
	DateOfBirth        *time.Time
	MeasurementSystem  *string
	DietaryPreferences []string
	HealthConditions   []string
	SleepHoursAverage  *string
	ExerciseFrequency  *string
	StressLevel        *string
}

// Fields lists the names of the fields this update sets, for reporting back
// to the model which fields changed.
func (u ProfileUpdate) Fields() []string {
	var fields []string
	add := func(name string, set bool) {
		if set {
			fields = append(fields, name)
		}
	}
	add("name", u.Name != nil)
	add("heightCm", u.HeightCm != nil)
	add("weightGrams", u.WeightGrams != nil)
	add("gender", u.Gender != nil)
	add("dateOfBirth", u.DateOfBirth != nil)
	add("measurementSystem", u.MeasurementSystem != nil)
	add("dietaryPreferences", u.DietaryPreferences != nil)
	add("healthConditions", u.HealthConditions != nil)
	add("sleepHoursAverage", u.SleepHoursAverage != nil)
	add("exerciseFrequency", u.ExerciseFrequency != nil)
	add("stressLevel", u.StressLevel != nil)
	return fields
}
