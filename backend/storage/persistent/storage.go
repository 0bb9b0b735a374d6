package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ebalkanci/habita/models"
)

// ErrCompletionConflict is returned by CompleteHabit when the guarded
// write matched no document: another writer completed the habit after
// the caller took its snapshot. The caller treats this the same as the
// already-completed-today guard.
var ErrCompletionConflict = errors.New("habit completion conflict")

// DeleteResult represents the result of a deletion operation,
// specifically the count of documents deleted.
type DeleteResult struct {
	DeletedCount int64
}

// UpdateResult represents the result of an update operation,
// specifically the count of documents matched and modified.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
}

// ProfileDelta is the set of profile-side effects a habit operation
// produces. All fields are applied atomically in one update:
// Experience and TotalHabits as increments, LongestStreak as a max.
// Achievement awards are not part of the delta; they go through
// GrantAchievement so the one-time guard stays atomic per id.
type ProfileDelta struct {
	Experience    int
	LongestStreak int
	TotalHabits   int
}

// StorageInterface defines the set of methods that any persistent
// storage backend needs to implement.
type StorageInterface interface {
	// Establishes a connection to the storage backend.
	Connect(dbName, uri string) error
	// Disconnects from the storage backend.
	Disconnect() error
	// Adds a new user to the storage backend.
	AddUser(ctx context.Context, user *models.User) (*models.User, error)
	// Finds a user in the storage backend using a filter.
	FindUser(ctx context.Context, filter interface{}) (*models.User, error)
	// Updates an existing user in the storage backend using a filter and update instructions.
	UpdateUser(ctx context.Context, filter interface{}, update interface{}) (*models.User, error)
	// Deletes a user and everything the user owns.
	DeleteUser(ctx context.Context, filter interface{}) (*DeleteResult, error)
	// Returns the count of users in the storage backend using a filter.
	UserCount(ctx context.Context, filter interface{}) (int64, error)
	// Applies a profile delta (experience, longest streak, habit count) atomically.
	ApplyProfileDelta(ctx context.Context, userID primitive.ObjectID, delta ProfileDelta) error
	// Awards an achievement exactly once per user. Reports whether the
	// award happened; false means another writer got there first.
	GrantAchievement(ctx context.Context, userID primitive.ObjectID, achievementID string, xp int) (bool, error)
	// Adds a new habit to the storage backend.
	AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error)
	// Finds one habit owned by the given user.
	FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error)
	// Finds habits in the storage backend using a filter.
	FindHabitsByParameter(ctx context.Context, filter interface{}) ([]models.Habit, error)
	// Updates an existing habit in the storage backend using a filter and update instructions.
	UpdateHabit(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error)
	// Writes the engine's completion output, guarded on the
	// last-completed snapshot the engine computed from.
	CompleteHabit(ctx context.Context, habit *models.Habit, prevLastCompleted *time.Time) error
	// Counts habits owned by a user.
	HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error)
	// Deletes a habit in the storage backend using a filter.
	DeleteHabit(ctx context.Context, filter interface{}) (*DeleteResult, error)
	// Streams the user's full habit list on every remote change.
	WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan []models.Habit, error)
	// Adds a new confirmation to the storage backend.
	AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error)
	// Finds a confirmation in the storage backend using a filter.
	FindConfirmation(ctx context.Context, filter interface{}) (*models.Confirmation, error)
	// Deletes a confirmation in the storage backend using a filter.
	DeleteConfirmation(ctx context.Context, filter interface{}) (*DeleteResult, error)
}

// NewStorage creates a new StorageInterface with a MongoDB backend,
// using the provided URI to connect to the MongoDB server.
func NewStorage(dbName, uri string) (StorageInterface, error) {
	storage := NewMongoStorage()
	err := storage.Connect(dbName, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return storage, nil
}
