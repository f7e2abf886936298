// Package prompt builds the assistant's system prompt from the user's
// stored health profile.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/damsac/health-assistant/internal/health"
)

const basePrompt = `You are a holistic nutrition consultant providing personalized, evidence-based guidance.%s

Your approach:
- View health through a holistic lens: what we eat, how we move, how we think, how we sleep, and how we manage stress are all deeply connected
- Meet people exactly where they are without judgment; sustainable change happens through small, achievable steps
- Focus on education and building self-awareness rather than prescribing rigid rules
- Help users understand the "why" behind recommendations so they can make informed choices
- Recognize that each person's journey is unique; there is no one-size-fits-all approach

Core principles:
- Empower through understanding: help users tune into their body's signals and patterns
- Celebrate progress over perfection; small consistent changes compound over time
- Consider the whole person: stress, sleep, relationships, and environment all impact nutritional needs
- Be curious and ask thoughtful questions to understand context before offering guidance
- Validate feelings and experiences; changing habits is genuinely difficult

Boundaries:
- Always recommend consulting healthcare professionals for medical concerns or symptoms
- Never diagnose conditions or prescribe treatments
- Provide evidence-informed guidance while acknowledging that nutrition science evolves
- Use the user's preferred measurement system when discussing measurements`

// System renders the full system prompt. A nil profile produces the base
// prompt with no profile section.
func System(profile *health.Profile) string {
	return fmt.Sprintf(basePrompt, profileSection(profile, time.Now()))
}

// profileSection formats the known profile fields as a bulleted context
// block. Unset fields are omitted rather than rendered empty.
func profileSection(profile *health.Profile, now time.Time) string {
	if profile == nil {
		return ""
	}

	var basic []string
	if profile.Name != "" {
		basic = append(basic, "Name: "+profile.Name)
	}
	if profile.DateOfBirth != nil {
		basic = append(basic, fmt.Sprintf("Age: %d years old", health.Age(*profile.DateOfBirth, now)))
	}
	if profile.Gender != "" {
		basic = append(basic, "Sex: "+genderDisplay(profile.Gender))
	}
	if profile.HeightCm > 0 {
		basic = append(basic, "Height: "+formatHeight(profile.HeightCm, profile.MeasurementSystem))
	}
	if profile.WeightGrams > 0 {
		basic = append(basic, "Weight: "+formatWeight(profile.WeightGrams, profile.MeasurementSystem))
	}
	if len(profile.DietaryPreferences) > 0 {
		basic = append(basic, "Dietary Restrictions: "+strings.Join(profile.DietaryPreferences, ", "))
	}
	if len(profile.HealthConditions) > 0 {
		basic = append(basic, "Health Conditions: "+strings.Join(profile.HealthConditions, ", "))
	}

	var sections []string
	if len(basic) > 0 {
		sections = append(sections, "Basic Info:\n"+bullets(basic))
	}

	var habits []string
	if profile.SleepHoursAverage != "" {
		habits = append(habits, "Sleep average: "+profile.SleepHoursAverage+" hours")
	}
	if profile.ExerciseFrequency != "" {
		habits = append(habits, "Exercise: "+profile.ExerciseFrequency)
	}
	if profile.StressLevel != "" {
		habits = append(habits, "Stress Level: "+profile.StressLevel)
	}
	if len(habits) > 0 {
		sections = append(sections, "Health Context:\n"+bullets(habits))
	}

	if len(sections) == 0 {
		return ""
	}
	return "\n\nUSER PROFILE:\n" + strings.Join(sections, "\n\n")
}

func bullets(items []string) string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = "- " + item
	}
	return strings.Join(out, "\n")
}

func genderDisplay(gender string) string {
	if gender == "prefer_not_to_say" {
		return "Prefer not to say"
	}
	return strings.ToUpper(gender[:1]) + gender[1:]
}

func formatHeight(cm int, system string) string {
	if system == "imperial" {
		fi := health.CmToFeetInches(cm)
		return fmt.Sprintf("%d'%d\"", fi.Feet, fi.Inches)
	}
	return fmt.Sprintf("%d cm", cm)
}

func formatWeight(grams int, system string) string {
	if system == "imperial" {
		return fmt.Sprintf("%.0f lbs", health.KgToLbs(float64(grams)/1000))
	}
	return fmt.Sprintf("%.1f kg", health.GramsToKg(grams))
}
