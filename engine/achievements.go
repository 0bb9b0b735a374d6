package engine

import "github.com/ebalkanci/habita/models"

// Achievement ids. Unlock state lives on the user profile as a set of
// these ids; an id is added at most once per user.
const (
	AchievementFirstHabit  = "first-habit"
	AchievementWeekStreak  = "week-streak"
	AchievementMonthStreak = "month-streak"
	AchievementHundredDays = "hundred-days"
)

// catalog is the static achievement table. Streak achievements fire on
// the exact streak value, not a threshold: week-streak fires on the day
// a streak becomes 7 and stays quiet at 8, 9 and beyond.
var catalog = []models.Achievement{
	{
		ID:          AchievementFirstHabit,
		Title:       "First Step",
		Description: "You created your first habit!",
		Icon:        "🌟",
		Rarity:      models.RarityCommon,
		XPReward:    50,
		Condition:   "create_first_habit",
	},
	{
		ID:          AchievementWeekStreak,
		Title:       "Week Warrior",
		Description: "Completed a habit 7 days in a row",
		Icon:        "🔥",
		Rarity:      models.RarityRare,
		XPReward:    100,
		Condition:   "week_streak",
	},
	{
		ID:          AchievementMonthStreak,
		Title:       "Month Master",
		Description: "Completed a habit 30 days in a row",
		Icon:        "👑",
		Rarity:      models.RarityEpic,
		XPReward:    500,
		Condition:   "month_streak",
	},
	{
		ID:          AchievementHundredDays,
		Title:       "Hundred Day Legend",
		Description: "Completed a habit 100 days in a row",
		Icon:        "💎",
		Rarity:      models.RarityLegendary,
		XPReward:    1000,
		Condition:   "hundred_days",
	},
}

// Catalog returns a copy of the static achievement table.
func Catalog() []models.Achievement {
	out := make([]models.Achievement, len(catalog))
	copy(out, catalog)
	return out
}

// streakUnlocks returns the achievement ids whose streak condition is
// met at exactly this streak value.
func streakUnlocks(streak int) []string {
	switch streak {
	case 7:
		return []string{AchievementWeekStreak}
	case 30:
		return []string{AchievementMonthStreak}
	case 100:
		return []string{AchievementHundredDays}
	}
	return nil
}

// Unlock resolves an unlock attempt against a user's current unlocked
// set. It returns the experience award for the achievement and whether
// the unlock is new. An id already in the set is a harmless no-op with
// zero XP, which is what prevents a double award; an id missing from
// the catalog is also a no-op.
func Unlock(unlocked []string, id string) (int, bool) {
	for _, have := range unlocked {
		if have == id {
			return 0, false
		}
	}
	for _, a := range catalog {
		if a.ID == id {
			return a.XPReward, true
		}
	}
	return 0, false
}

// MergeUnlocked returns the catalog with IsUnlocked set for every id in
// the user's unlocked set.
func MergeUnlocked(unlocked []string) []models.Achievement {
	set := make(map[string]struct{}, len(unlocked))
	for _, id := range unlocked {
		set[id] = struct{}{}
	}
	out := Catalog()
	for i := range out {
		_, out[i].IsUnlocked = set[out[i].ID]
	}
	return out
}

// xpPerLevel is the size of one level band.
const xpPerLevel = 1000

// LevelFor derives a user's level from total experience: one level per
// full 1000 XP, starting at level 1.
func LevelFor(xp int) int {
	if xp < 0 {
		return 1
	}
	return xp/xpPerLevel + 1
}

// LevelProgress reports experience accumulated within the current level
// band and the band size, for rendering "640/1000 XP" style progress.
func LevelProgress(xp int) (current, span int) {
	if xp < 0 {
		return 0, xpPerLevel
	}
	return xp % xpPerLevel, xpPerLevel
}
