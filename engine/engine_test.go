package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebalkanci/habita/models"
)

// newTestHabit returns a valid habit created at the given instant.
func newTestHabit(createdAt time.Time) models.Habit {
	return models.Habit{
		Name:        "Read",
		Description: "Read every evening",
		Icon:        "📚",
		Color:       "#4a90d9",
		Category:    models.CategoryReading,
		Difficulty:  models.DifficultyMedium,
		CreatedAt:   createdAt,
	}
}

func TestCompleteFirstTime(t *testing.T) {
	created := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	res, err := Complete(habit, created, nil)
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.Equal(t, 1, res.Habit.Streak)
	assert.Equal(t, 1, res.Habit.BestStreak)
	assert.Equal(t, 1, res.Habit.TotalCompletions)
	assert.Equal(t, 100, res.Habit.SuccessRate, "one completion on day one is a perfect rate")
	assert.True(t, res.Habit.IsCompleted)
	require.NotNil(t, res.Habit.LastCompleted)
	assert.True(t, res.Habit.LastCompleted.Equal(created))
	assert.Equal(t, 20, res.XP, "medium difficulty awards 20 XP")
	assert.Equal(t, 1, res.LongestStreak)
	assert.Empty(t, res.Unlocked)
}

func TestCompleteDoesNotMutateInput(t *testing.T) {
	created := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)
	snapshot := habit

	_, err := Complete(habit, created.Add(2*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, snapshot, habit)
}

func TestCompleteIdempotentPerDay(t *testing.T) {
	created := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	first, err := Complete(habit, created, nil)
	require.NoError(t, err)

	// Second call later the same calendar day is a no-op.
	second, err := Complete(first.Habit, created.Add(14*time.Hour), nil)
	require.NoError(t, err)

	assert.True(t, second.Skipped)
	assert.Equal(t, first.Habit, second.Habit)
	assert.Zero(t, second.XP)
	assert.Empty(t, second.Unlocked)
}

func TestStreakContinuity(t *testing.T) {
	created := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	day1, err := Complete(habit, created, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, day1.Habit.Streak)

	// Next calendar day extends the streak even across a time-of-day gap.
	day2, err := Complete(day1.Habit, created.AddDate(0, 0, 1).Add(-5*time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, day2.Habit.Streak)

	// A skipped day resets to 1.
	afterGap, err := Complete(day2.Habit, created.AddDate(0, 0, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, afterGap.Habit.Streak)
	assert.Equal(t, 2, afterGap.Habit.BestStreak, "best streak survives the reset")
}

func TestBestStreakMonotonic(t *testing.T) {
	created := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	// Complete on days 0,1,2, skip 3, complete 4,5: best streak must
	// never decrease and must always dominate the live streak.
	days := []int{0, 1, 2, 4, 5}
	best := 0
	for _, d := range days {
		res, err := Complete(habit, created.AddDate(0, 0, d), nil)
		require.NoError(t, err)
		habit = res.Habit
		assert.GreaterOrEqual(t, habit.BestStreak, best)
		assert.GreaterOrEqual(t, habit.BestStreak, habit.Streak)
		best = habit.BestStreak
	}
	assert.Equal(t, 3, best)
	assert.Equal(t, 2, habit.Streak)
	assert.Equal(t, len(days), habit.TotalCompletions)
}

// TestScenarioJanuary walks the concrete create-complete-skip sequence:
// created Jan 1, completed Jan 1 and Jan 2, skipped Jan 3, completed
// Jan 4.
func TestScenarioJanuary(t *testing.T) {
	created := time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	jan1, err := Complete(habit, created, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, jan1.Habit.Streak)
	assert.Equal(t, 1, jan1.Habit.BestStreak)
	assert.Equal(t, 100, jan1.Habit.SuccessRate)

	jan2, err := Complete(jan1.Habit, created.AddDate(0, 0, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, jan2.Habit.Streak)
	assert.Equal(t, 2, jan2.Habit.BestStreak)
	assert.Equal(t, 2, jan2.Habit.TotalCompletions)
	assert.Equal(t, 100, jan2.Habit.SuccessRate)

	jan4, err := Complete(jan2.Habit, created.AddDate(0, 0, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, jan4.Habit.Streak)
	assert.Equal(t, 2, jan4.Habit.BestStreak)
	assert.Equal(t, 3, jan4.Habit.TotalCompletions)
	assert.Equal(t, 75, jan4.Habit.SuccessRate, "3 completions over 4 days")
}

func TestWeekStreakUnlock(t *testing.T) {
	created := time.Date(2024, time.June, 1, 7, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	var res Completion
	var err error
	for d := 0; d < 7; d++ {
		res, err = Complete(habit, created.AddDate(0, 0, d), nil)
		require.NoError(t, err)
		habit = res.Habit
		if d < 6 {
			assert.Empty(t, res.Unlocked, "no unlock before day 7")
		}
	}

	assert.Equal(t, 7, habit.Streak)
	assert.Equal(t, []string{AchievementWeekStreak}, res.Unlocked)

	// Day 8 passes through the threshold without re-firing.
	res, err = Complete(habit, created.AddDate(0, 0, 7), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, res.Habit.Streak)
	assert.Empty(t, res.Unlocked)
}

func TestStreakUnlockRefiresAfterReset(t *testing.T) {
	// The engine reports the condition every time a streak genuinely
	// reaches 7; the one-time award is the profile guard's concern.
	created := time.Date(2024, time.June, 1, 7, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)

	var res Completion
	var err error
	for d := 0; d < 7; d++ {
		res, err = Complete(habit, created.AddDate(0, 0, d), nil)
		require.NoError(t, err)
		habit = res.Habit
	}
	require.Equal(t, []string{AchievementWeekStreak}, res.Unlocked)

	// Break the streak, then climb back to 7.
	for d := 8; d < 15; d++ {
		res, err = Complete(habit, created.AddDate(0, 0, d), nil)
		require.NoError(t, err)
		habit = res.Habit
	}
	assert.Equal(t, 7, habit.Streak)
	assert.Equal(t, []string{AchievementWeekStreak}, res.Unlocked)
}

func TestMeasuredValue(t *testing.T) {
	created := time.Date(2024, time.April, 2, 6, 0, 0, 0, time.UTC)
	habit := newTestHabit(created)
	habit.TargetValue = 50
	habit.Unit = "pages"
	habit.CurrentValue = 12

	pages := 30.0
	res, err := Complete(habit, created, &pages)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.Habit.CurrentValue, "measured value replaces the tracked value")

	// Without a measurement the tracked value increments by one.
	res2, err := Complete(res.Habit, created.AddDate(0, 0, 1), nil)
	require.NoError(t, err)
	assert.Equal(t, 31.0, res2.Habit.CurrentValue)

	// An explicit zero counts as provided.
	zero := 0.0
	res3, err := Complete(res2.Habit, created.AddDate(0, 0, 2), &zero)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res3.Habit.CurrentValue)
}

func TestXPByDifficulty(t *testing.T) {
	created := time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		difficulty models.Difficulty
		xp         int
	}{
		{models.DifficultyEasy, 10},
		{models.DifficultyMedium, 20},
		{models.DifficultyHard, 30},
	}

	for _, c := range cases {
		habit := newTestHabit(created)
		habit.Difficulty = c.difficulty
		res, err := Complete(habit, created, nil)
		require.NoError(t, err)
		assert.Equal(t, c.xp, res.XP)
	}
}

func TestSuccessRateClamped(t *testing.T) {
	// A backdated creation time can make completions outnumber days;
	// the rate must stay within [0,100].
	now := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	habit := newTestHabit(now.AddDate(0, 0, 2))
	habit.TotalCompletions = 40

	res, err := Complete(habit, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Habit.SuccessRate)
}

func TestCompleteInvalidEnums(t *testing.T) {
	created := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	habit := newTestHabit(created)
	habit.Difficulty = "brutal"
	_, err := Complete(habit, created, nil)
	assert.ErrorIs(t, err, ErrInvalidDifficulty)

	habit = newTestHabit(created)
	habit.Category = "sleep"
	_, err = Complete(habit, created, nil)
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestNewHabit(t *testing.T) {
	now := time.Date(2024, time.August, 15, 10, 30, 0, 0, time.UTC)
	template := newTestHabit(time.Time{})
	template.Streak = 9
	template.TotalCompletions = 3
	template.IsCompleted = true

	habit, unlocks, err := New(template, 2, now)
	require.NoError(t, err)

	assert.Zero(t, habit.Streak)
	assert.Zero(t, habit.BestStreak)
	assert.Zero(t, habit.TotalCompletions)
	assert.Zero(t, habit.SuccessRate)
	assert.Zero(t, habit.CurrentValue)
	assert.False(t, habit.IsCompleted)
	assert.Nil(t, habit.LastCompleted)
	assert.True(t, habit.CreatedAt.Equal(now))
	assert.Empty(t, unlocks, "not the first habit")
}

func TestNewFirstHabitUnlock(t *testing.T) {
	now := time.Date(2024, time.August, 15, 10, 30, 0, 0, time.UTC)

	_, unlocks, err := New(newTestHabit(time.Time{}), 0, now)
	require.NoError(t, err)
	assert.Equal(t, []string{AchievementFirstHabit}, unlocks)
}

func TestNewInvalidTemplate(t *testing.T) {
	template := newTestHabit(time.Time{})
	template.Category = ""
	_, _, err := New(template, 0, time.Now())
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestNextTotalHabits(t *testing.T) {
	assert.Equal(t, 2, NextTotalHabits(3))
	assert.Equal(t, 0, NextTotalHabits(1))
	assert.Equal(t, 0, NextTotalHabits(0), "deletion never drives the count negative")
	assert.Equal(t, 0, NextTotalHabits(-4))
}
