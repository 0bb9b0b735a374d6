package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ebalkanci/habita/models"
)

func TestCatalog(t *testing.T) {
	catalog := Catalog()
	assert.Len(t, catalog, 4)

	byID := make(map[string]models.Achievement, len(catalog))
	for _, a := range catalog {
		byID[a.ID] = a
	}

	assert.Equal(t, 50, byID[AchievementFirstHabit].XPReward)
	assert.Equal(t, 100, byID[AchievementWeekStreak].XPReward)
	assert.Equal(t, 500, byID[AchievementMonthStreak].XPReward)
	assert.Equal(t, 1000, byID[AchievementHundredDays].XPReward)
	assert.Equal(t, models.RarityLegendary, byID[AchievementHundredDays].Rarity)

	// Catalog hands out copies; mutating one must not leak back.
	catalog[0].Title = "tampered"
	assert.NotEqual(t, "tampered", Catalog()[0].Title)
}

func TestUnlock(t *testing.T) {
	xp, ok := Unlock(nil, AchievementWeekStreak)
	assert.True(t, ok)
	assert.Equal(t, 100, xp)

	// Already unlocked: no-op, no second award.
	xp, ok = Unlock([]string{AchievementWeekStreak}, AchievementWeekStreak)
	assert.False(t, ok)
	assert.Zero(t, xp)

	// Unknown id: no-op.
	xp, ok = Unlock(nil, "no-such-achievement")
	assert.False(t, ok)
	assert.Zero(t, xp)
}

func TestMergeUnlocked(t *testing.T) {
	merged := MergeUnlocked([]string{AchievementFirstHabit, AchievementMonthStreak})

	got := make(map[string]bool, len(merged))
	for _, a := range merged {
		got[a.ID] = a.IsUnlocked
	}
	assert.True(t, got[AchievementFirstHabit])
	assert.True(t, got[AchievementMonthStreak])
	assert.False(t, got[AchievementWeekStreak])
	assert.False(t, got[AchievementHundredDays])
}

func TestStreakUnlocks(t *testing.T) {
	assert.Nil(t, streakUnlocks(6))
	assert.Equal(t, []string{AchievementWeekStreak}, streakUnlocks(7))
	assert.Nil(t, streakUnlocks(8))
	assert.Equal(t, []string{AchievementMonthStreak}, streakUnlocks(30))
	assert.Equal(t, []string{AchievementHundredDays}, streakUnlocks(100))
	assert.Nil(t, streakUnlocks(101))
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, 1, LevelFor(0))
	assert.Equal(t, 1, LevelFor(999))
	assert.Equal(t, 2, LevelFor(1000))
	assert.Equal(t, 4, LevelFor(3500))
	assert.Equal(t, 1, LevelFor(-10))
}

func TestLevelProgress(t *testing.T) {
	current, span := LevelProgress(2640)
	assert.Equal(t, 640, current)
	assert.Equal(t, 1000, span)

	current, span = LevelProgress(0)
	assert.Zero(t, current)
	assert.Equal(t, 1000, span)
}
