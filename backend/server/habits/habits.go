// Package habits is the service layer between the HTTP handlers and the
// progress engine. It loads the caller's snapshot, runs the pure engine,
// persists the result through the guarded storage operations, and fans
// out the side effects: profile deltas, one-time achievement grants and
// queued unlock mail.
package habits

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ebalkanci/habita/backend/queue"
	cache "github.com/ebalkanci/habita/backend/storage/cache"
	storage "github.com/ebalkanci/habita/backend/storage/persistent"
	"github.com/ebalkanci/habita/engine"
	"github.com/ebalkanci/habita/models"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// statsCache is a global variable that holds the cache used for per-user stats snapshots.
// It may be nil, in which case stats are always recomputed.
var statsCache cache.CacheInterface

// notifyQueue is a global variable that stores a reference to the messaging queue for unlock mail.
// It may be nil, in which case unlock mail is skipped.
var notifyQueue *queue.Queue

// InitHabits is a function for initializing the habit service.
//
// It accepts three arguments:
// - s: The storage backend holding habits and profiles.
// - c: The cache used for stats snapshots (may be nil).
// - q: The queue used for unlock notifications (may be nil).
func InitHabits(s storage.StorageInterface, c cache.CacheInterface, q *queue.Queue) {
	store = s
	statsCache = c
	notifyQueue = q
}

// CompleteResult is what a completion attempt reports back to the
// transport layer.
type CompleteResult struct {
	// Habit is the record after the attempt. On AlreadyCompleted it is
	// the record as the caller would see it, unchanged.
	Habit models.Habit `json:"habit"`

	// AlreadyCompleted reports the per-day guard outcome, whether it
	// fired in the engine or as a write conflict at the store.
	AlreadyCompleted bool `json:"already_completed"`

	// XPAwarded is the total experience credited: the per-completion
	// difficulty award plus any achievement rewards.
	XPAwarded int `json:"xp_awarded"`

	// Unlocked lists achievements newly unlocked by this completion.
	Unlocked []models.Achievement `json:"unlocked,omitempty"`
}

// Stats is the aggregate dashboard view over one user's habits.
type Stats struct {
	TotalHabits    int                     `json:"total_habits"`
	ActiveHabits   int                     `json:"active_habits"`
	CompletedToday int                     `json:"completed_today"`
	StreakSum      int                     `json:"streak_sum"`
	LongestStreak  int                     `json:"longest_streak"`
	ByCategory     map[models.Category]int `json:"by_category"`
}

// Profile is the user aggregate with the level fields derived from
// experience.
type Profile struct {
	User      models.User `json:"user"`
	Level     int         `json:"level"`
	LevelXP   int         `json:"level_xp"`
	LevelSpan int         `json:"level_span"`
}

// List returns all habits owned by a user, newest first.
func List(ctx context.Context, userId string) ([]models.Habit, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}
	return store.FindHabitsByParameter(ctx, bson.M{"user_id": userID})
}

// Create builds a new habit from a template through the engine and
// persists it. The engine zeroes every counter and stamps the creation
// time; if this is the user's first habit the first-habit achievement
// is granted and its XP awarded, exactly once.
func Create(ctx context.Context, userId string, template models.Habit) (*models.Habit, []models.Achievement, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, nil, err
	}

	existing, err := store.HabitCount(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	habit, unlocks, err := engine.New(template, int(existing), time.Now())
	if err != nil {
		return nil, nil, err
	}
	habit.UserID = userID

	added, err := store.AddHabit(ctx, &habit)
	if err != nil {
		return nil, nil, err
	}

	if err := store.ApplyProfileDelta(ctx, userID, storage.ProfileDelta{TotalHabits: 1}); err != nil {
		return nil, nil, err
	}

	granted := grantUnlocks(ctx, userID, unlocks)
	invalidateStats(ctx, userId)

	return added, granted, nil
}

// Complete runs one completion attempt end to end.
//
// The engine decides the next state from the snapshot read here; the
// guarded write then only lands if that snapshot is still current. A
// conflict means another device completed the habit first, which is
// reported the same way as the engine's own same-day guard: already
// completed, nothing credited. The caller may safely retry the whole
// attempt, since a completed day stays guarded.
func Complete(ctx context.Context, userId, habitId string, measured *float64) (*CompleteResult, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}
	habitID, err := primitive.ObjectIDFromHex(habitId)
	if err != nil {
		return nil, err
	}

	habit, err := store.FindHabit(ctx, habitID, userID)
	if err != nil {
		return nil, err
	}

	res, err := engine.Complete(*habit, time.Now(), measured)
	if err != nil {
		return nil, err
	}

	if res.Skipped {
		return &CompleteResult{Habit: *habit, AlreadyCompleted: true}, nil
	}

	err = store.CompleteHabit(ctx, &res.Habit, habit.LastCompleted)
	if errors.Is(err, storage.ErrCompletionConflict) {
		current, findErr := store.FindHabit(ctx, habitID, userID)
		if findErr != nil {
			return nil, findErr
		}
		return &CompleteResult{Habit: *current, AlreadyCompleted: true}, nil
	}
	if err != nil {
		return nil, err
	}

	delta := storage.ProfileDelta{
		Experience:    res.XP,
		LongestStreak: res.LongestStreak,
	}
	if err := store.ApplyProfileDelta(ctx, userID, delta); err != nil {
		return nil, err
	}

	granted := grantUnlocks(ctx, userID, res.Unlocked)
	invalidateStats(ctx, userId)

	result := &CompleteResult{
		Habit:     res.Habit,
		XPAwarded: res.XP,
		Unlocked:  granted,
	}
	for _, a := range granted {
		result.XPAwarded += a.XPReward
	}
	return result, nil
}

// grantUnlocks resolves candidate achievement ids into actual awards.
// Each grant is atomic at the store, so a candidate that raced another
// device simply resolves to nothing here. Newly granted achievements
// are mailed out through the notification queue, best effort.
func grantUnlocks(ctx context.Context, userID primitive.ObjectID, candidates []string) []models.Achievement {
	if len(candidates) == 0 {
		return nil
	}

	catalog := engine.Catalog()
	byID := make(map[string]models.Achievement, len(catalog))
	for _, a := range catalog {
		byID[a.ID] = a
	}

	var granted []models.Achievement
	for _, id := range candidates {
		achievement, ok := byID[id]
		if !ok {
			continue
		}
		newlyGranted, err := store.GrantAchievement(ctx, userID, id, achievement.XPReward)
		if err != nil {
			log.Printf("failed to grant achievement %s: %v", id, err)
			continue
		}
		if !newlyGranted {
			continue
		}
		achievement.IsUnlocked = true
		granted = append(granted, achievement)
		notifyUnlock(ctx, userID, achievement)
	}
	return granted
}

// notifyUnlock queues congratulation mail for a fresh unlock. Mail is a
// courtesy: failures are logged and never fail the completion.
func notifyUnlock(ctx context.Context, userID primitive.ObjectID, achievement models.Achievement) {
	if notifyQueue == nil {
		return
	}

	user, err := store.FindUser(ctx, bson.M{"_id": userID})
	if err != nil {
		log.Printf("failed to load user for unlock mail: %v", err)
		return
	}

	notification := &queue.Notification{
		Id:    userID.Hex() + "_" + achievement.ID,
		Kind:  queue.KindUnlock,
		To:    user.Email,
		Title: achievement.Title,
		XP:    achievement.XPReward,
	}
	if err := queue.ProcessNotification(notification, notifyQueue); err != nil {
		log.Printf("failed to queue unlock mail: %v", err)
	}
}

// Update edits a habit's presentation fields: rename, recolor, icon,
// category, difficulty, target and unit. It bypasses the progress
// algorithm entirely; the storage layer rejects any engine-owned field.
func Update(ctx context.Context, userId, habitId string, fields map[string]interface{}) error {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return err
	}
	habitID, err := primitive.ObjectIDFromHex(habitId)
	if err != nil {
		return err
	}

	if len(fields) == 0 {
		return errors.New("nothing to update")
	}

	set := bson.M{}
	for k, v := range fields {
		set[k] = v
	}

	_, err = store.UpdateHabit(ctx,
		bson.M{"_id": habitID, "user_id": userID},
		bson.M{"$set": set},
	)
	return err
}

// Delete removes a habit and decrements the owner's habit count,
// floored at zero.
func Delete(ctx context.Context, userId, habitId string) error {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return err
	}
	habitID, err := primitive.ObjectIDFromHex(habitId)
	if err != nil {
		return err
	}

	result, err := store.DeleteHabit(ctx, bson.M{"_id": habitID, "user_id": userID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return errors.New("habit not found")
	}

	if err := store.ApplyProfileDelta(ctx, userID, storage.ProfileDelta{TotalHabits: -1}); err != nil {
		return err
	}

	invalidateStats(ctx, userId)
	return nil
}

// GetStats aggregates the dashboard numbers over a user's habits. The
// snapshot is cached until the next mutation.
func GetStats(ctx context.Context, userId string) (*Stats, error) {
	if statsCache != nil {
		if cached, err := statsCache.Get(ctx, statsKey(userId)); err == nil {
			if stats, ok := decodeStats(cached); ok {
				return stats, nil
			}
		}
	}

	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}

	habitList, err := store.FindHabitsByParameter(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	stats := &Stats{ByCategory: map[models.Category]int{}}
	for _, h := range habitList {
		stats.TotalHabits++
		if h.Streak > 0 {
			stats.ActiveHabits++
		}
		if h.LastCompleted != nil {
			ly, lm, ld := h.LastCompleted.Date()
			ny, nm, nd := now.Date()
			if ly == ny && lm == nm && ld == nd {
				stats.CompletedToday++
			}
		}
		stats.StreakSum += h.Streak
		if h.BestStreak > stats.LongestStreak {
			stats.LongestStreak = h.BestStreak
		}
		stats.ByCategory[h.Category]++
	}

	if statsCache != nil {
		if err := statsCache.Set(ctx, statsKey(userId), stats); err != nil {
			log.Printf("failed to cache stats: %v", err)
		}
	}

	return stats, nil
}

// GetAchievements returns the static catalog with the user's unlocked
// flags merged in.
func GetAchievements(ctx context.Context, userId string) ([]models.Achievement, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}

	user, err := store.FindUser(ctx, bson.M{"_id": userID})
	if err != nil {
		return nil, err
	}

	return engine.MergeUnlocked(user.Achievements), nil
}

// GetProfile returns the user aggregate with level fields derived from
// experience.
func GetProfile(ctx context.Context, userId string) (*Profile, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}

	user, err := store.FindUser(ctx, bson.M{"_id": userID})
	if err != nil {
		return nil, err
	}

	levelXP, levelSpan := engine.LevelProgress(user.Experience)
	return &Profile{
		User:      *user,
		Level:     engine.LevelFor(user.Experience),
		LevelXP:   levelXP,
		LevelSpan: levelSpan,
	}, nil
}

// Watch streams the user's full habit list on every remote change.
func Watch(ctx context.Context, userId string) (<-chan []models.Habit, error) {
	userID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}
	return store.WatchHabits(ctx, userID)
}

func statsKey(userId string) string {
	return "stats_" + userId
}

// invalidateStats drops the cached stats snapshot after a mutation.
func invalidateStats(ctx context.Context, userId string) {
	if statsCache == nil {
		return
	}
	if err := statsCache.Delete(ctx, statsKey(userId)); err != nil {
		log.Printf("failed to invalidate stats cache: %v", err)
	}
}

// decodeStats converts the cache's generic JSON value back into Stats.
func decodeStats(value interface{}) (*Stats, bool) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	stats := &Stats{}
	if err := json.Unmarshal(raw, stats); err != nil {
		return nil, false
	}
	if stats.ByCategory == nil {
		stats.ByCategory = map[models.Category]int{}
	}
	return stats, true
}
