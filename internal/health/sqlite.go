package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists health data in SQLite. It can share a database handle with
// the conversation store.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS user_profiles (
    user_id TEXT PRIMARY KEY,
    name TEXT,
    height_cm INTEGER,
    weight_grams INTEGER,
    gender TEXT,
    date_of_birth TIMESTAMP,
    measurement_system TEXT,
    dietary_preferences TEXT,
    health_conditions TEXT,
    sleep_hours_average TEXT,
    exercise_frequency TEXT,
    stress_level TEXT,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_goals (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'abandoned')),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS daily_logs (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    summary TEXT NOT NULL,
    details TEXT,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_user_goals_user ON user_goals(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_daily_logs_user ON daily_logs(user_id, created_at DESC);
`

// NewStore initializes the health schema on db and returns a store.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("initialize health schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetProfile returns the user's profile, or nil when none exists yet.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, height_cm, weight_grams, gender, date_of_birth,
		       measurement_system, dietary_preferences, health_conditions,
		       sleep_hours_average, exercise_frequency, stress_level, updated_at
		FROM user_profiles WHERE user_id = ?`, userID)

	var p Profile
	var name, gender, system, dietary, conditions, sleep, exercise, stress sql.NullString
	var heightCm, weightGrams sql.NullInt64
	var dob sql.NullTime
	err := row.Scan(&p.UserID, &name, &heightCm, &weightGrams, &gender, &dob,
		&system, &dietary, &conditions, &sleep, &exercise, &stress, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.Name = name.String
	p.HeightCm = int(heightCm.Int64)
	p.WeightGrams = int(weightGrams.Int64)
	p.Gender = gender.String
	if dob.Valid {
		t := dob.Time
		p.DateOfBirth = &t
	}
	p.MeasurementSystem = system.String
	p.DietaryPreferences = parseStringList(dietary.String)
	p.HealthConditions = parseStringList(conditions.String)
	p.SleepHoursAverage = sleep.String
	p.ExerciseFrequency = exercise.String
	p.StressLevel = stress.String
	return &p, nil
}

// UpdateProfile applies the non-nil fields of update to the user's profile,
// creating the row if needed. Returns the names of the fields changed.
func (s *Store) UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) ([]string, error) {
	existing, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := Profile{UserID: userID}
	if existing != nil {
		p = *existing
	}

	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.HeightCm != nil {
		p.HeightCm = *update.HeightCm
	}
	if update.WeightGrams != nil {
		p.WeightGrams = *update.WeightGrams
	}
	if update.Gender != nil {
		p.Gender = *update.Gender
	}
	if update.DateOfBirth != nil {
		p.DateOfBirth = update.DateOfBirth
	}
	if update.MeasurementSystem != nil {
		p.MeasurementSystem = *update.MeasurementSystem
	}
	if update.DietaryPreferences != nil {
		p.DietaryPreferences = update.DietaryPreferences
	}
	if update.HealthConditions != nil {
		p.HealthConditions = update.HealthConditions
	}
	if update.SleepHoursAverage != nil {
		p.SleepHoursAverage = *update.SleepHoursAverage
	}
	if update.ExerciseFrequency != nil {
		p.ExerciseFrequency = *update.ExerciseFrequency
	}
	if update.StressLevel != nil {
		p.StressLevel = *update.StressLevel
	}
	p.UpdatedAt = time.Now()

	var dob any
	if p.DateOfBirth != nil {
		dob = *p.DateOfBirth
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, name, height_cm, weight_grams, gender,
		                           date_of_birth, measurement_system, dietary_preferences,
		                           health_conditions, sleep_hours_average, exercise_frequency,
		                           stress_level, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		    name = excluded.name,
		    height_cm = excluded.height_cm,
		    weight_grams = excluded.weight_grams,
		    gender = excluded.gender,
		    date_of_birth = excluded.date_of_birth,
		    measurement_system = excluded.measurement_system,
		    dietary_preferences = excluded.dietary_preferences,
		    health_conditions = excluded.health_conditions,
		    sleep_hours_average = excluded.sleep_hours_average,
		    exercise_frequency = excluded.exercise_frequency,
		    stress_level = excluded.stress_level,
		    updated_at = excluded.updated_at`,
		p.UserID, nullString(p.Name), nullInt(p.HeightCm), nullInt(p.WeightGrams),
		nullString(p.Gender), dob, nullString(p.MeasurementSystem),
		joinStringList(p.DietaryPreferences), joinStringList(p.HealthConditions),
		nullString(p.SleepHoursAverage), nullString(p.ExerciseFrequency),
		nullString(p.StressLevel), p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert profile: %w", err)
	}
	return update.Fields(), nil
}

// CreateGoal inserts a new goal for the user.
func (s *Store) CreateGoal(ctx context.Context, userID, title, description string, status GoalStatus) (*Goal, error) {
	if status == "" {
		status = GoalActive
	}
	now := time.Now()
	g := &Goal{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       title,
		Description: description,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_goals (id, user_id, title, description, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Title, nullString(g.Description), string(g.Status), g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

// UpdateGoal applies the non-empty fields to a goal owned by userID.
// Returns nil when the goal does not exist or is not the user's.
func (s *Store) UpdateGoal(ctx context.Context, userID, goalID, title, description string, status GoalStatus) (*Goal, error) {
	g, err := s.getGoal(ctx, userID, goalID)
	if err != nil || g == nil {
		return nil, err
	}
	if title != "" {
		g.Title = title
	}
	if description != "" {
		g.Description = description
	}
	if status != "" {
		g.Status = status
	}
	g.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE user_goals SET title = ?, description = ?, status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		g.Title, nullString(g.Description), string(g.Status), g.UpdatedAt, goalID, userID)
	if err != nil {
		return nil, fmt.Errorf("update goal: %w", err)
	}
	return g, nil
}

// DeleteGoal removes a goal owned by userID. Returns false when the goal is
// absent or owned by someone else.
func (s *Store) DeleteGoal(ctx context.Context, userID, goalID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_goals WHERE id = ? AND user_id = ?`, goalID, userID)
	if err != nil {
		return false, fmt.Errorf("delete goal: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ListGoals returns the user's goals, newest first.
func (s *Store) ListGoals(ctx context.Context, userID string) ([]Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, description, status, created_at, updated_at
		FROM user_goals
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		goals = append(goals, *g)
	}
	return goals, rows.Err()
}

func (s *Store) getGoal(ctx context.Context, userID, goalID string) (*Goal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, description, status, created_at, updated_at
		FROM user_goals WHERE id = ? AND user_id = ?`, goalID, userID)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return g, err
}

// AddLogEntry records a daily log entry for the user.
func (s *Store) AddLogEntry(ctx context.Context, userID string, category LogCategory, summary string, details map[string]any) (*LogEntry, error) {
	var detailsJSON sql.NullString
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			return nil, fmt.Errorf("serialize details: %w", err)
		}
		detailsJSON = sql.NullString{String: string(data), Valid: true}
	}

	entry := &LogEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		Summary:   summary,
		Details:   details,
		CreatedAt: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_logs (id, user_id, category, summary, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, string(entry.Category), entry.Summary, detailsJSON, entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert log entry: %w", err)
	}
	return entry, nil
}

// ListLogEntries returns the user's log entries since the cutoff, newest
// first.
func (s *Store) ListLogEntries(ctx context.Context, userID string, since time.Time) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, category, summary, details, created_at
		FROM daily_logs
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query log entries: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var entry LogEntry
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Category, &entry.Summary, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &entry.Details); err != nil {
				return nil, fmt.Errorf("deserialize details: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanGoal(row interface{ Scan(...any) error }) (*Goal, error) {
	var g Goal
	var description sql.NullString
	err := row.Scan(&g.ID, &g.UserID, &g.Title, &description, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	g.Description = description.String
	return &g, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}

func joinStringList(list []string) sql.NullString {
	if len(list) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
