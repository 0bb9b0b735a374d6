// Package engine holds the habit progress rules: how a completion moves
// a habit's streak, best streak, totals and success rate, which
// achievements it unlocks, and how much experience it awards.
//
// Every function is a pure computation over in-memory values. The engine
// never touches storage and never mutates its inputs; callers get back a
// fresh habit plus a list of side effects to persist, so a caller can
// detect staleness by comparing the record it started from. Serializing
// concurrent completions of the same habit is the storage layer's job.
package engine

import (
	"errors"
	"math"
	"time"

	"github.com/ebalkanci/habita/models"
)

// Errors returned for contract violations. These are programming or
// input errors, not outcomes a caller is expected to recover from.
var (
	ErrInvalidDifficulty = errors.New("invalid habit difficulty")
	ErrInvalidCategory   = errors.New("invalid habit category")
)

// Completion is the result of running a completion event through the
// engine: the next habit state plus the side-effect instructions the
// caller must persist.
type Completion struct {
	// Habit is the updated record. When Skipped is true it is the input
	// record unchanged.
	Habit models.Habit

	// Skipped reports that the habit was already completed on the
	// calendar day of the event. Nothing else in the result is
	// meaningful in that case; this is a defined no-op, not an error.
	Skipped bool

	// XP is the per-completion experience award from the habit's
	// difficulty. It is applied to the profile unconditionally.
	XP int

	// LongestStreak is the candidate for the profile's longest streak;
	// callers apply it as max(profile.LongestStreak, LongestStreak).
	LongestStreak int

	// Unlocked lists achievement ids whose streak condition fired on
	// this completion. The ids are candidates: the profile-level unlock
	// guard decides whether each actually awards XP.
	Unlocked []string
}

// sameDay reports whether a and b fall on the same calendar date.
// Comparison is date-only: two instants hours apart on the same day
// are the same day.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// daysSinceCreated counts calendar-ish days from creation to now as
// floor(elapsed/24h)+1, floored at 1 so a habit completed the moment it
// was created still has one day on the books. Clock skew or a backdated
// creation time can therefore never yield zero or negative days.
func daysSinceCreated(createdAt, now time.Time) int {
	days := int(now.Sub(createdAt).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// successRate computes the integer completion percentage, clamped to
// [0,100]. The clamp matters when completions outnumber days, which can
// happen after a backdated creation time.
func successRate(totalCompletions, days int) int {
	rate := int(math.Round(float64(totalCompletions) / float64(days) * 100))
	if rate > 100 {
		return 100
	}
	if rate < 0 {
		return 0
	}
	return rate
}

// validate checks the enumerated habit fields. Unknown values are a
// contract violation and must not be silently coerced.
func validate(h models.Habit) error {
	switch h.Difficulty {
	case models.DifficultyEasy, models.DifficultyMedium, models.DifficultyHard:
	default:
		return ErrInvalidDifficulty
	}
	switch h.Category {
	case models.CategoryWater, models.CategoryExercise, models.CategoryReading,
		models.CategoryMeditation, models.CategoryCustom:
	default:
		return ErrInvalidCategory
	}
	return nil
}

// Complete applies one completion event to a habit.
//
// If the habit was already completed on the calendar day of now, the
// result has Skipped set and the habit is returned unchanged: streak
// logic grants one credit per day, so a second completion the same day
// must not mutate anything.
//
// Otherwise the streak increments when the previous completion was
// yesterday and resets to 1 after any longer gap, the best streak and
// total completions are recomputed, the success rate is rederived from
// days since creation, and the tracked value either takes the measured
// value or increments by one. The returned side effects carry the
// difficulty XP, the longest-streak candidate and any streak
// achievements that fired at exactly this streak value.
func Complete(habit models.Habit, now time.Time, measured *float64) (Completion, error) {
	if err := validate(habit); err != nil {
		return Completion{}, err
	}

	if habit.LastCompleted != nil && sameDay(*habit.LastCompleted, now) {
		return Completion{Habit: habit, Skipped: true}, nil
	}

	wasYesterday := habit.LastCompleted != nil && sameDay(*habit.LastCompleted, now.AddDate(0, 0, -1))

	next := habit
	if wasYesterday {
		next.Streak = habit.Streak + 1
	} else {
		next.Streak = 1
	}
	if next.Streak > habit.BestStreak {
		next.BestStreak = next.Streak
	}
	next.TotalCompletions = habit.TotalCompletions + 1
	next.SuccessRate = successRate(next.TotalCompletions, daysSinceCreated(habit.CreatedAt, now))
	if measured != nil {
		next.CurrentValue = *measured
	} else {
		next.CurrentValue = habit.CurrentValue + 1
	}
	completedAt := now
	next.LastCompleted = &completedAt
	next.IsCompleted = true

	return Completion{
		Habit:         next,
		XP:            xpForDifficulty(habit.Difficulty),
		LongestStreak: next.BestStreak,
		Unlocked:      streakUnlocks(next.Streak),
	}, nil
}

// xpForDifficulty maps difficulty to the per-completion experience
// award. validate has already rejected unknown difficulties.
func xpForDifficulty(d models.Difficulty) int {
	switch d {
	case models.DifficultyEasy:
		return 10
	case models.DifficultyMedium:
		return 20
	default:
		return 30
	}
}

// New builds a fresh habit record from a template: counters zeroed,
// creation stamped at now. existingCount is the number of habits the
// user owned before this creation; the very first habit yields the
// first-habit achievement candidate.
func New(template models.Habit, existingCount int, now time.Time) (models.Habit, []string, error) {
	if err := validate(template); err != nil {
		return models.Habit{}, nil, err
	}

	habit := template
	habit.Streak = 0
	habit.BestStreak = 0
	habit.TotalCompletions = 0
	habit.SuccessRate = 0
	habit.CurrentValue = 0
	habit.CreatedAt = now
	habit.LastCompleted = nil
	habit.IsCompleted = false

	var unlocks []string
	if existingCount == 0 {
		unlocks = append(unlocks, AchievementFirstHabit)
	}
	return habit, unlocks, nil
}

// NextTotalHabits returns the habit count after a deletion, floored at
// zero so repeated deletes cannot drive the profile negative.
func NextTotalHabits(current int) int {
	if current <= 0 {
		return 0
	}
	return current - 1
}
