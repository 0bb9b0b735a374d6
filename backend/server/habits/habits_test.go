package habits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ebalkanci/habita/engine"
	"github.com/ebalkanci/habita/models"
	storage "github.com/ebalkanci/habita/backend/storage/persistent"
)

// memoryStorage is an in-memory StorageInterface used to exercise the
// service layer without a database.
type memoryStorage struct {
	users         map[primitive.ObjectID]*models.User
	habits        map[primitive.ObjectID]*models.Habit
	forceConflict bool
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{
		users:  map[primitive.ObjectID]*models.User{},
		habits: map[primitive.ObjectID]*models.Habit{},
	}
}

func (m *memoryStorage) Connect(dbName, uri string) error { return nil }
func (m *memoryStorage) Disconnect() error                { return nil }

func (m *memoryStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryStorage) FindUser(ctx context.Context, filter interface{}) (*models.User, error) {
	f, ok := filter.(bson.M)
	if !ok {
		return nil, errors.New("unsupported filter")
	}
	id, ok := f["_id"].(primitive.ObjectID)
	if !ok {
		return nil, errors.New("unsupported filter")
	}
	user, ok := m.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	copied := *user
	return &copied, nil
}

func (m *memoryStorage) UpdateUser(ctx context.Context, filter interface{}, update interface{}) (*models.User, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryStorage) DeleteUser(ctx context.Context, filter interface{}) (*storage.DeleteResult, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryStorage) UserCount(ctx context.Context, filter interface{}) (int64, error) {
	return int64(len(m.users)), nil
}

func (m *memoryStorage) ApplyProfileDelta(ctx context.Context, userID primitive.ObjectID, delta storage.ProfileDelta) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.Experience += delta.Experience
	user.TotalHabits += delta.TotalHabits
	if user.TotalHabits < 0 {
		user.TotalHabits = 0
	}
	if delta.LongestStreak > user.LongestStreak {
		user.LongestStreak = delta.LongestStreak
	}
	return nil
}

func (m *memoryStorage) GrantAchievement(ctx context.Context, userID primitive.ObjectID, achievementID string, xp int) (bool, error) {
	user, ok := m.users[userID]
	if !ok {
		return false, errors.New("user not found")
	}
	for _, id := range user.Achievements {
		if id == achievementID {
			return false, nil
		}
	}
	user.Achievements = append(user.Achievements, achievementID)
	user.Experience += xp
	return true, nil
}

func (m *memoryStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.ID.IsZero() {
		habit.ID = primitive.NewObjectID()
	}
	copied := *habit
	m.habits[habit.ID] = &copied
	return habit, nil
}

func (m *memoryStorage) FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	habit, ok := m.habits[habitID]
	if !ok || habit.UserID != userID {
		return nil, errors.New("habit not found")
	}
	copied := *habit
	return &copied, nil
}

func (m *memoryStorage) FindHabitsByParameter(ctx context.Context, filter interface{}) ([]models.Habit, error) {
	f, ok := filter.(bson.M)
	if !ok {
		return nil, errors.New("unsupported filter")
	}
	userID, ok := f["user_id"].(primitive.ObjectID)
	if !ok {
		return nil, errors.New("unsupported filter")
	}
	var out []models.Habit
	for _, h := range m.habits {
		if h.UserID == userID {
			out = append(out, *h)
		}
	}
	return out, nil
}

func (m *memoryStorage) UpdateHabit(ctx context.Context, filter interface{}, update interface{}) (*storage.UpdateResult, error) {
	f := filter.(bson.M)
	habitID := f["_id"].(primitive.ObjectID)
	habit, ok := m.habits[habitID]
	if !ok {
		return &storage.UpdateResult{}, nil
	}
	set := update.(bson.M)["$set"].(bson.M)
	if name, ok := set["name"].(string); ok {
		habit.Name = name
	}
	if color, ok := set["color"].(string); ok {
		habit.Color = color
	}
	return &storage.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (m *memoryStorage) CompleteHabit(ctx context.Context, habit *models.Habit, prevLastCompleted *time.Time) error {
	if m.forceConflict {
		return storage.ErrCompletionConflict
	}
	stored, ok := m.habits[habit.ID]
	if !ok {
		return errors.New("habit not found")
	}
	if (stored.LastCompleted == nil) != (prevLastCompleted == nil) {
		return storage.ErrCompletionConflict
	}
	if stored.LastCompleted != nil && !stored.LastCompleted.Equal(*prevLastCompleted) {
		return storage.ErrCompletionConflict
	}
	copied := *habit
	m.habits[habit.ID] = &copied
	return nil
}

func (m *memoryStorage) HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	var count int64
	for _, h := range m.habits {
		if h.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *memoryStorage) DeleteHabit(ctx context.Context, filter interface{}) (*storage.DeleteResult, error) {
	f := filter.(bson.M)
	habitID := f["_id"].(primitive.ObjectID)
	if _, ok := m.habits[habitID]; !ok {
		return &storage.DeleteResult{}, nil
	}
	delete(m.habits, habitID)
	return &storage.DeleteResult{DeletedCount: 1}, nil
}

func (m *memoryStorage) WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan []models.Habit, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryStorage) FindConfirmation(ctx context.Context, filter interface{}) (*models.Confirmation, error) {
	return nil, errors.New("not implemented")
}

func (m *memoryStorage) DeleteConfirmation(ctx context.Context, filter interface{}) (*storage.DeleteResult, error) {
	return nil, errors.New("not implemented")
}

// memoryCache is a map-backed cache used to exercise the stats cache
// paths.
type memoryCache struct {
	values map[string]interface{}
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string]interface{}{}}
}

func (c *memoryCache) Connect(url string) error { return nil }
func (c *memoryCache) Disconnect() error        { return nil }

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}) error {
	c.values[key] = value
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	value, ok := c.values[key]
	if !ok {
		return nil, errors.New("key does not exist")
	}
	return value, nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func (c *memoryCache) Clear(ctx context.Context) error {
	c.values = map[string]interface{}{}
	return nil
}

func setupService(t *testing.T) (*memoryStorage, primitive.ObjectID) {
	t.Helper()
	mem := newMemoryStorage()
	user := &models.User{
		ID:           primitive.NewObjectID(),
		Username:     "tester",
		Email:        "tester@example.com",
		Achievements: []string{},
	}
	mem.users[user.ID] = user
	InitHabits(mem, nil, nil)
	return mem, user.ID
}

func TestCreateFirstHabitUnlocksFirstStep(t *testing.T) {
	mem, userID := setupService(t)

	habit, unlocked, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name:       "Drink water",
		Category:   models.CategoryWater,
		Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)
	require.NotNil(t, habit)
	assert.Equal(t, 0, habit.Streak)
	assert.False(t, habit.IsCompleted)

	require.Len(t, unlocked, 1)
	assert.Equal(t, engine.AchievementFirstHabit, unlocked[0].ID)

	user := mem.users[userID]
	assert.Equal(t, 1, user.TotalHabits)
	assert.Equal(t, 50, user.Experience)
	assert.Contains(t, user.Achievements, engine.AchievementFirstHabit)
}

func TestCreateSecondHabitNoUnlock(t *testing.T) {
	mem, userID := setupService(t)

	_, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "One", Category: models.CategoryWater, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)

	_, unlocked, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Two", Category: models.CategoryReading, Difficulty: models.DifficultyHard,
	})
	require.NoError(t, err)
	assert.Empty(t, unlocked)
	assert.Equal(t, 2, mem.users[userID].TotalHabits)
}

func TestCreateRejectsInvalidDifficulty(t *testing.T) {
	_, userID := setupService(t)

	_, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Bad", Category: models.CategoryWater, Difficulty: models.Difficulty("impossible"),
	})
	assert.ErrorIs(t, err, engine.ErrInvalidDifficulty)
}

func TestCompleteAwardsXPAndUpdatesProfile(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Read", Category: models.CategoryReading, Difficulty: models.DifficultyMedium,
	})
	require.NoError(t, err)
	xpBefore := mem.users[userID].Experience

	result, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, 20, result.XPAwarded)
	assert.Equal(t, 1, result.Habit.Streak)
	assert.True(t, result.Habit.IsCompleted)

	user := mem.users[userID]
	assert.Equal(t, xpBefore+20, user.Experience)
	assert.Equal(t, 1, user.LongestStreak)
}

func TestCompleteSameDayIsGuarded(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Read", Category: models.CategoryReading, Difficulty: models.DifficultyMedium,
	})
	require.NoError(t, err)

	first, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	require.False(t, first.AlreadyCompleted)
	xpAfterFirst := mem.users[userID].Experience

	second, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Zero(t, second.XPAwarded)
	assert.Equal(t, 1, second.Habit.Streak)
	assert.Equal(t, xpAfterFirst, mem.users[userID].Experience)
}

func TestCompleteWriteConflictReportsAlreadyCompleted(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Read", Category: models.CategoryReading, Difficulty: models.DifficultyMedium,
	})
	require.NoError(t, err)
	xpBefore := mem.users[userID].Experience

	mem.forceConflict = true
	result, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	assert.True(t, result.AlreadyCompleted)
	assert.Zero(t, result.XPAwarded)
	assert.Equal(t, xpBefore, mem.users[userID].Experience)
}

func TestCompleteWeekStreakUnlocksOnce(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Run", Category: models.CategoryExercise, Difficulty: models.DifficultyHard,
	})
	require.NoError(t, err)

	// Backdate the record so the next completion lands on day seven.
	stored := mem.habits[habit.ID]
	yesterday := time.Now().AddDate(0, 0, -1)
	stored.Streak = 6
	stored.BestStreak = 6
	stored.TotalCompletions = 6
	stored.LastCompleted = &yesterday

	result, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Habit.Streak)
	require.Len(t, result.Unlocked, 1)
	assert.Equal(t, engine.AchievementWeekStreak, result.Unlocked[0].ID)
	assert.Equal(t, 30+100, result.XPAwarded)

	user := mem.users[userID]
	assert.Contains(t, user.Achievements, engine.AchievementWeekStreak)
	assert.Equal(t, 7, user.LongestStreak)
}

func TestCompleteWeekStreakNotGrantedTwice(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Run", Category: models.CategoryExercise, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)

	user := mem.users[userID]
	user.Achievements = append(user.Achievements, engine.AchievementWeekStreak)

	stored := mem.habits[habit.ID]
	yesterday := time.Now().AddDate(0, 0, -1)
	stored.Streak = 6
	stored.BestStreak = 6
	stored.TotalCompletions = 6
	stored.LastCompleted = &yesterday

	result, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), nil)
	require.NoError(t, err)
	assert.Empty(t, result.Unlocked)
	assert.Equal(t, 10, result.XPAwarded)
}

func TestCompleteWithMeasuredValue(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Water", Category: models.CategoryWater, Difficulty: models.DifficultyEasy,
		TargetValue: 8, Unit: "glasses",
	})
	require.NoError(t, err)

	value := 5.0
	result, err := Complete(context.Background(), userID.Hex(), habit.ID.Hex(), &value)
	require.NoError(t, err)
	assert.Equal(t, 5.0, result.Habit.CurrentValue)
	assert.Equal(t, 5.0, mem.habits[habit.ID].CurrentValue)
}

func TestDeleteDecrementsTotalHabits(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Gone", Category: models.CategoryCustom, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)
	require.Equal(t, 1, mem.users[userID].TotalHabits)

	err = Delete(context.Background(), userID.Hex(), habit.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 0, mem.users[userID].TotalHabits)

	list, err := List(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDeleteMissingHabit(t *testing.T) {
	_, userID := setupService(t)

	err := Delete(context.Background(), userID.Hex(), primitive.NewObjectID().Hex())
	assert.EqualError(t, err, "habit not found")
}

func TestUpdateRejectsEmptyFields(t *testing.T) {
	_, userID := setupService(t)

	err := Update(context.Background(), userID.Hex(), primitive.NewObjectID().Hex(), map[string]interface{}{})
	assert.EqualError(t, err, "nothing to update")
}

func TestUpdateRenames(t *testing.T) {
	mem, userID := setupService(t)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Old", Category: models.CategoryCustom, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)

	err = Update(context.Background(), userID.Hex(), habit.ID.Hex(), map[string]interface{}{"name": "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", mem.habits[habit.ID].Name)
}

func TestGetStatsAggregates(t *testing.T) {
	mem, userID := setupService(t)

	active, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Active", Category: models.CategoryExercise, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)
	_, _, err = Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Idle", Category: models.CategoryReading, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)

	now := time.Now()
	stored := mem.habits[active.ID]
	stored.Streak = 3
	stored.BestStreak = 5
	stored.LastCompleted = &now

	stats, err := GetStats(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalHabits)
	assert.Equal(t, 1, stats.ActiveHabits)
	assert.Equal(t, 1, stats.CompletedToday)
	assert.Equal(t, 3, stats.StreakSum)
	assert.Equal(t, 5, stats.LongestStreak)
	assert.Equal(t, 1, stats.ByCategory[models.CategoryExercise])
	assert.Equal(t, 1, stats.ByCategory[models.CategoryReading])
}

func TestGetStatsUsesCacheUntilInvalidated(t *testing.T) {
	mem, userID := setupService(t)
	cache := newMemoryCache()
	InitHabits(mem, cache, nil)

	habit, _, err := Create(context.Background(), userID.Hex(), models.Habit{
		Name: "Cached", Category: models.CategoryWater, Difficulty: models.DifficultyEasy,
	})
	require.NoError(t, err)

	first, err := GetStats(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalHabits)
	assert.Contains(t, cache.values, statsKey(userID.Hex()))

	// A stale entry is served until a mutation drops it.
	cache.values[statsKey(userID.Hex())] = &Stats{TotalHabits: 42, ByCategory: map[models.Category]int{}}
	stale, err := GetStats(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 42, stale.TotalHabits)

	require.NoError(t, Delete(context.Background(), userID.Hex(), habit.ID.Hex()))
	fresh, err := GetStats(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.TotalHabits)
}

func TestGetAchievementsMergesUnlocked(t *testing.T) {
	mem, userID := setupService(t)
	mem.users[userID].Achievements = []string{engine.AchievementFirstHabit}

	achievements, err := GetAchievements(context.Background(), userID.Hex())
	require.NoError(t, err)
	require.Len(t, achievements, len(engine.Catalog()))

	unlocked := map[string]bool{}
	for _, a := range achievements {
		unlocked[a.ID] = a.IsUnlocked
	}
	assert.True(t, unlocked[engine.AchievementFirstHabit])
	assert.False(t, unlocked[engine.AchievementWeekStreak])
}

func TestGetProfileDerivesLevel(t *testing.T) {
	mem, userID := setupService(t)
	mem.users[userID].Experience = 2350

	profile, err := GetProfile(context.Background(), userID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, profile.Level)
	assert.Equal(t, 350, profile.LevelXP)
	assert.Equal(t, 1000, profile.LevelSpan)
}

func TestListRejectsBadUserID(t *testing.T) {
	setupService(t)

	_, err := List(context.Background(), "not-an-object-id")
	assert.Error(t, err)
}
