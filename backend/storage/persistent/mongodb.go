package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ebalkanci/habita/models"
)

// MongoStorage is a struct representing a MongoDB storage.
// It provides an interface to perform CRUD operations on various collections in the MongoDB database.
type MongoStorage struct {
	client *mongo.Client
	dbName string
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
func NewMongoStorage() *MongoStorage {
	return &MongoStorage{}
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("error connecting to MongoDB: %v", err)
	}

	m.client = client
	m.dbName = dbName

	// Initializing users collection. Every user has a unique email and
	// a unique username; both fields are queried on every sign-in.
	usersCollection := m.client.Database(m.dbName).Collection("users")

	emailIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"email": 1, // 1 for ascending order
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, emailIndexModel)
	if err != nil {
		return fmt.Errorf("error creating email index: %v", err)
	}

	usernameIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"username": 1,
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = usersCollection.Indexes().CreateOne(ctx, usernameIndexModel)
	if err != nil {
		return fmt.Errorf("error creating username index: %v", err)
	}

	// Initializing habits collection.
	habitsCollection := m.client.Database(m.dbName).Collection("habits")

	userIdIndexModel := mongo.IndexModel{
		Keys: bson.M{
			"user_id": 1,
		},
		Options: options.Index(),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	// A user can't have two habits with the same name.
	userIdNameIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "name", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	_, err = habitsCollection.Indexes().CreateOne(ctx, userIdNameIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id and name index: %v", err)
	}

	// Initializing confirmations collection.
	confirmationsCollection := m.client.Database(m.dbName).Collection("confirmations")

	_, err = confirmationsCollection.Indexes().CreateOne(ctx, userIdIndexModel)
	if err != nil {
		return fmt.Errorf("error creating user_id index: %v", err)
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("error disconnecting from MongoDB: %v", err)
	}

	return nil
}

// UserCount returns the number of documents in the 'users' collection that match the given filter.
// Returns an error if the count operation fails.
func (m *MongoStorage) UserCount(ctx context.Context, filter interface{}) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddUser adds a new user document to the 'users' collection.
// The user is provided as a pointer to a User instance.
// Returns the added user instance and an error if the insert operation fails.
func (m *MongoStorage) AddUser(ctx context.Context, user *models.User) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result, err := collection.InsertOne(ctx, user)
	if err != nil {
		return nil, err
	}

	user.ID = result.InsertedID.(primitive.ObjectID)
	return user, nil
}

// FindUser finds a user document in the 'users' collection that matches the given filter.
// Returns the found user as a User instance and an error if the find operation fails.
func (m *MongoStorage) FindUser(ctx context.Context, filter interface{}) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result := collection.FindOne(ctx, filter)
	user := &models.User{}
	err := result.Decode(user)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser updates a user document in the 'users' collection that matches the given filter with the provided update.
// Returns the updated user as a User instance and an error if the update operation fails.
func (m *MongoStorage) UpdateUser(ctx context.Context, filter interface{}, update interface{}) (*models.User, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, errors.New("no user found to update")
	}
	updatedUser, err := m.FindUser(ctx, filter)
	if err != nil {
		return nil, err
	}
	return updatedUser, nil
}

// ApplyProfileDelta applies experience, longest-streak and habit-count
// changes to a user document in one atomic update. Experience and the
// habit count are increments; the longest streak is applied as a max so
// a stale candidate can never lower it. A second guarded update floors
// total_habits at zero in case deletes raced each other below it.
func (m *MongoStorage) ApplyProfileDelta(ctx context.Context, userID primitive.ObjectID, delta ProfileDelta) error {
	collection := m.client.Database(m.dbName).Collection("users")

	update := bson.M{
		"$inc": bson.M{
			"experience":   delta.Experience,
			"total_habits": delta.TotalHabits,
		},
		"$max": bson.M{
			"longest_streak": delta.LongestStreak,
		},
	}

	result, err := collection.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return errors.New("no user found to update")
	}

	if delta.TotalHabits < 0 {
		_, err = collection.UpdateOne(ctx,
			bson.M{"_id": userID, "total_habits": bson.M{"$lt": 0}},
			bson.M{"$set": bson.M{"total_habits": 0}},
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// GrantAchievement adds an achievement id to a user's unlocked set and
// awards its experience in the same update. The filter requires the id
// to be absent, so two racing unlock attempts resolve to exactly one
// award; the loser matches nothing and reports false.
func (m *MongoStorage) GrantAchievement(ctx context.Context, userID primitive.ObjectID, achievementID string, xp int) (bool, error) {
	collection := m.client.Database(m.dbName).Collection("users")

	result, err := collection.UpdateOne(ctx,
		bson.M{"_id": userID, "achievements": bson.M{"$ne": achievementID}},
		bson.M{
			"$addToSet": bson.M{"achievements": achievementID},
			"$inc":      bson.M{"experience": xp},
		},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// DeleteUser deletes a user document from the 'users' collection that matches the given filter.
// It also deletes all habits and confirmations associated with the user.
// Returns the result of the delete operation as a DeleteResult instance and an error if the delete operation fails.
func (m *MongoStorage) DeleteUser(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("users")
	userResult := collection.FindOne(ctx, filter)
	if err := userResult.Err(); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.New("user not found")
		}
		return nil, err
	}

	user := &models.User{}
	if err := userResult.Decode(user); err != nil {
		return nil, err
	}

	_, err := m.client.Database(m.dbName).Collection("habits").DeleteMany(ctx, bson.M{"user_id": user.ID})
	if err != nil {
		return nil, err
	}
	_, err = m.client.Database(m.dbName).Collection("confirmations").DeleteMany(ctx, bson.M{"user_id": user.ID})
	if err != nil {
		return nil, err
	}

	result, err := collection.DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// AddHabit adds a new habit document to the 'habits' collection.
// The habit is provided as a pointer to a Habit instance; the owning
// user must exist. Returns the added habit instance and an error if the
// insert operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.Name == "" || habit.UserID.IsZero() {
		return nil, errors.New("invalid habit fields")
	}

	usersCollection := m.client.Database(m.dbName).Collection("users")
	err := usersCollection.FindOne(ctx, bson.M{"_id": habit.UserID}).Err()
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("no user found with id %s", habit.UserID.Hex())
		}
		return nil, err
	}

	habitsCollection := m.client.Database(m.dbName).Collection("habits")
	result, err := habitsCollection.InsertOne(ctx, habit)
	if err != nil {
		if writeException, ok := err.(mongo.WriteException); ok {
			for _, writeError := range writeException.WriteErrors {
				if writeError.Code == 11000 {
					return nil, fmt.Errorf("a habit with the name '%s' already exists", habit.Name)
				}
			}
		}
		return nil, err
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds one habit by id, scoped to its owning user so one
// user can never address another user's habit.
func (m *MongoStorage) FindHabit(ctx context.Context, habitID, userID primitive.ObjectID) (*models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	habit := &models.Habit{}
	err := collection.FindOne(ctx, bson.M{"_id": habitID, "user_id": userID}).Decode(habit)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.New("habit not found")
		}
		return nil, err
	}
	return habit, nil
}

// FindHabitsByParameter finds habit documents in the 'habits' collection that match the given filter.
// Returns the found habits as a slice of Habit instances and an error if the find operation fails.
func (m *MongoStorage) FindHabitsByParameter(ctx context.Context, filter interface{}) ([]models.Habit, error) {
	filterMap, ok := filter.(bson.M)
	if !ok {
		return nil, errors.New("invalid filter data")
	}

	// Define the set of valid Habit fields a caller may filter on.
	validFields := map[string]struct{}{
		"_id":            {},
		"user_id":        {},
		"name":           {},
		"category":       {},
		"difficulty":     {},
		"streak":         {},
		"is_completed":   {},
		"last_completed": {},
	}

	for field := range filterMap {
		if _, ok := validFields[field]; !ok {
			return nil, errors.New("invalid field in filter")
		}
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	findOptions := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var habits []models.Habit
	for cursor.Next(ctx) {
		var habit models.Habit
		err := cursor.Decode(&habit)
		if err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}

	return habits, nil
}

// UpdateHabit updates a habit document in the 'habits' collection that matches the given filter with the provided update.
// Filter must be non-empty for a valid updation, and the update may only
// touch presentation fields; the engine-owned counters are rejected.
// Returns the result of the update operation as an UpdateResult instance and an error if the update operation fails.
func (m *MongoStorage) UpdateHabit(ctx context.Context, filter interface{}, update interface{}) (*UpdateResult, error) {
	if filter == nil {
		return nil, errors.New("filter cannot be nil")
	}

	filterMap, ok := filter.(bson.M)
	if !ok {
		return nil, errors.New("filter must be of type bson.M")
	}
	if len(filterMap) == 0 {
		return nil, errors.New("filter cannot be empty")
	}

	updateDoc, ok := update.(bson.M)
	if !ok {
		return nil, errors.New("invalid update data")
	}

	// Only presentation fields may be edited directly. Everything the
	// progress engine owns goes through CompleteHabit.
	editableFields := map[string]struct{}{
		"name":         {},
		"description":  {},
		"icon":         {},
		"color":        {},
		"category":     {},
		"difficulty":   {},
		"target_value": {},
		"unit":         {},
	}

	if setFields, ok := updateDoc["$set"].(bson.M); ok {
		for field := range setFields {
			if _, ok := editableFields[field]; !ok {
				return nil, fmt.Errorf("field '%s' is not editable", field)
			}
		}
		if name, ok := setFields["name"].(string); ok && name == "" {
			return nil, errors.New("invalid habit fields")
		}
	}

	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, errors.New("habit does not exist")
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// CompleteHabit persists the engine's completion output. The filter
// matches both the habit id and the last_completed value the engine
// computed from, which serializes concurrent completions: whichever
// device writes second matches nothing and gets ErrCompletionConflict
// instead of double-crediting the streak.
func (m *MongoStorage) CompleteHabit(ctx context.Context, habit *models.Habit, prevLastCompleted *time.Time) error {
	collection := m.client.Database(m.dbName).Collection("habits")

	filter := bson.M{
		"_id":     habit.ID,
		"user_id": habit.UserID,
	}
	if prevLastCompleted != nil {
		filter["last_completed"] = *prevLastCompleted
	} else {
		// Matches documents where the field is absent or null.
		filter["last_completed"] = nil
	}

	update := bson.M{
		"$set": bson.M{
			"streak":            habit.Streak,
			"best_streak":       habit.BestStreak,
			"total_completions": habit.TotalCompletions,
			"success_rate":      habit.SuccessRate,
			"current_value":     habit.CurrentValue,
			"last_completed":    habit.LastCompleted,
			"is_completed":      habit.IsCompleted,
		},
	}

	result, err := collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrCompletionConflict
	}
	return nil
}

// HabitCount counts habits owned by a user.
func (m *MongoStorage) HabitCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	return collection.CountDocuments(ctx, bson.M{"user_id": userID})
}

// DeleteHabit deletes habit documents from the 'habits' collection that match the given filter.
// Returns the result of the delete operation as a DeleteResult instance and an error if the delete operation fails.
func (m *MongoStorage) DeleteHabit(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("habits")
	result, err := collection.DeleteMany(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// WatchHabits opens a change stream on the user's habits and pushes the
// full current list on every remote change, starting with the list as
// it stands when the watch begins. The channel closes when the context
// is cancelled or the stream dies. Requires the server to support
// change streams (replica set or mongos).
func (m *MongoStorage) WatchHabits(ctx context.Context, userID primitive.ObjectID) (<-chan []models.Habit, error) {
	collection := m.client.Database(m.dbName).Collection("habits")

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"$or": bson.A{
				bson.M{"fullDocument.user_id": userID},
				// Deletes carry no full document; let them through and
				// re-list, which is harmless for other users' deletes.
				bson.M{"operationType": "delete"},
			},
		}}},
	}

	stream, err := collection.Watch(ctx, pipeline,
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, err
	}

	out := make(chan []models.Habit, 1)

	// Initial snapshot so subscribers render without waiting for a change.
	habits, err := m.FindHabitsByParameter(ctx, bson.M{"user_id": userID})
	if err != nil {
		stream.Close(ctx)
		return nil, err
	}
	out <- habits

	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			habits, err := m.FindHabitsByParameter(ctx, bson.M{"user_id": userID})
			if err != nil {
				return
			}
			select {
			case out <- habits:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// AddConfirmation adds a new confirmation document to the 'confirmations' collection.
// The confirmation is provided as a pointer to a Confirmation instance.
// Returns the added confirmation instance and an error if the insert operation fails.
func (m *MongoStorage) AddConfirmation(ctx context.Context, confirmation *models.Confirmation) (*models.Confirmation, error) {
	collection := m.client.Database(m.dbName).Collection("confirmations")
	result, err := collection.InsertOne(ctx, confirmation)
	if err != nil {
		return nil, err
	}

	confirmation.ID = result.InsertedID.(primitive.ObjectID)
	return confirmation, nil
}

// FindConfirmation finds a confirmation document in the 'confirmations' collection that matches the given filter.
// Returns the found confirmation as a Confirmation instance and an error if the find operation fails.
func (m *MongoStorage) FindConfirmation(ctx context.Context, filter interface{}) (*models.Confirmation, error) {
	collection := m.client.Database(m.dbName).Collection("confirmations")
	result := collection.FindOne(ctx, filter)
	confirmation := &models.Confirmation{}
	err := result.Decode(confirmation)
	if err != nil {
		return nil, err
	}
	return confirmation, nil
}

// DeleteConfirmation deletes a confirmation document from the 'confirmations' collection that matches the given filter.
// Returns the result of the delete operation as a DeleteResult instance and an error if the delete operation fails.
func (m *MongoStorage) DeleteConfirmation(ctx context.Context, filter interface{}) (*DeleteResult, error) {
	collection := m.client.Database(m.dbName).Collection("confirmations")
	result, err := collection.DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}

	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}
