package client

import (
	"errors"
	"net/http"

	"github.com/ebalkanci/habita/models"
)

// CreateHabitResult carries the created habit and anything unlocked by
// creating it.
type CreateHabitResult struct {
	Habit    models.Habit         `json:"habit"`
	Unlocked []models.Achievement `json:"unlocked"`
}

// CompleteHabitResult mirrors the server's completion response.
type CompleteHabitResult struct {
	Habit            models.Habit         `json:"habit"`
	AlreadyCompleted bool                 `json:"already_completed"`
	XPAwarded        int                  `json:"xp_awarded"`
	Unlocked         []models.Achievement `json:"unlocked"`
}

// StatsResult mirrors the server's aggregate stats response.
type StatsResult struct {
	TotalHabits    int            `json:"total_habits"`
	ActiveHabits   int            `json:"active_habits"`
	CompletedToday int            `json:"completed_today"`
	StreakSum      int            `json:"streak_sum"`
	LongestStreak  int            `json:"longest_streak"`
	ByCategory     map[string]int `json:"by_category"`
}

// ProfileResult mirrors the server's profile response.
type ProfileResult struct {
	User      models.User `json:"user"`
	Level     int         `json:"level"`
	LevelXP   int         `json:"level_xp"`
	LevelSpan int         `json:"level_span"`
}

// authenticatedToken resolves the current session token or fails when
// nobody is signed in.
func authenticatedToken() (string, error) {
	token, err := IsUserAuthenticated()
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.New("no user is currently signed in")
	}
	return token, nil
}

// ListHabits fetches all habits of the signed in user.
func ListHabits() ([]models.Habit, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	var habits []models.Habit
	if err := sendRequest(http.MethodGet, "/api/habits", &token, nil, &habits); err != nil {
		return nil, err
	}

	return habits, nil
}

// CreateHabit sends a new habit to the server.
func CreateHabit(habit models.Habit) (*CreateHabitResult, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	result := &CreateHabitResult{}
	if err := sendRequest(http.MethodPost, "/api/habits", &token, habit, result); err != nil {
		return nil, err
	}

	return result, nil
}

// CompleteHabit marks a habit done for today. An optional measured
// value records progress toward the habit's target.
func CompleteHabit(habitID string, value *float64) (*CompleteHabitResult, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	var body interface{}
	if value != nil {
		body = map[string]float64{"value": *value}
	}

	result := &CompleteHabitResult{}
	if err := sendRequest(http.MethodPost, "/api/habits/"+habitID+"/complete", &token, body, result); err != nil {
		return nil, err
	}

	return result, nil
}

// UpdateHabit edits a habit's presentation fields.
func UpdateHabit(habitID string, fields map[string]interface{}) error {
	token, err := authenticatedToken()
	if err != nil {
		return err
	}

	return sendRequest(http.MethodPatch, "/api/habits/"+habitID, &token, fields, nil)
}

// DeleteHabit removes a habit.
func DeleteHabit(habitID string) error {
	token, err := authenticatedToken()
	if err != nil {
		return err
	}

	return sendRequest(http.MethodDelete, "/api/habits/"+habitID, &token, nil, nil)
}

// GetStats fetches the aggregate dashboard numbers.
func GetStats() (*StatsResult, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	stats := &StatsResult{}
	if err := sendRequest(http.MethodGet, "/api/stats", &token, nil, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// GetAchievements fetches the achievement catalog with the user's
// unlocked flags.
func GetAchievements() ([]models.Achievement, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	var achievements []models.Achievement
	if err := sendRequest(http.MethodGet, "/api/achievements", &token, nil, &achievements); err != nil {
		return nil, err
	}

	return achievements, nil
}

// GetProfile fetches the user's profile with the derived level fields.
func GetProfile() (*ProfileResult, error) {
	token, err := authenticatedToken()
	if err != nil {
		return nil, err
	}

	profile := &ProfileResult{}
	if err := sendRequest(http.MethodGet, "/api/profile", &token, nil, profile); err != nil {
		return nil, err
	}

	return profile, nil
}
