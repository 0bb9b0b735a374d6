package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Category enumerates the built-in habit categories. Anything the app
// does not ship a preset for is filed under CategoryCustom.
type Category string

const (
	CategoryWater      Category = "water"
	CategoryExercise   Category = "exercise"
	CategoryReading    Category = "reading"
	CategoryMeditation Category = "meditation"
	CategoryCustom     Category = "custom"
)

// Difficulty enumerates how demanding a habit is. It decides the
// experience awarded for each completion.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Rarity enumerates achievement tiers.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// User is the identity-linked aggregate for a single account. Level is
// never stored: it is derived from Experience by the engine.
type User struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username       string             `bson:"username" json:"username"`
	PasswordHash   string             `bson:"password_hash" json:"-"`
	Email          string             `bson:"email" json:"email"`
	EmailConfirmed bool               `bson:"email_confirmed" json:"email_confirmed"`
	Experience     int                `bson:"experience" json:"experience"`
	LongestStreak  int                `bson:"longest_streak" json:"longest_streak"`
	TotalHabits    int                `bson:"total_habits" json:"total_habits"`
	Achievements   []string           `bson:"achievements" json:"achievements"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	LastLogin      time.Time          `bson:"last_login" json:"last_login"`
}

// Habit is one user-created recurring goal. The counter fields
// (Streak, BestStreak, TotalCompletions, SuccessRate, CurrentValue,
// LastCompleted, IsCompleted) are owned by the progress engine and must
// only change through a completion.
type Habit struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID           primitive.ObjectID `bson:"user_id" json:"user_id"`
	Name             string             `bson:"name" json:"name"`
	Description      string             `bson:"description" json:"description"`
	Icon             string             `bson:"icon" json:"icon"`
	Color            string             `bson:"color" json:"color"`
	Category         Category           `bson:"category" json:"category"`
	Difficulty       Difficulty         `bson:"difficulty" json:"difficulty"`
	Streak           int                `bson:"streak" json:"streak"`
	BestStreak       int                `bson:"best_streak" json:"best_streak"`
	TotalCompletions int                `bson:"total_completions" json:"total_completions"`
	SuccessRate      int                `bson:"success_rate" json:"success_rate"`
	CreatedAt        time.Time          `bson:"created_at" json:"created_at"`
	LastCompleted    *time.Time         `bson:"last_completed,omitempty" json:"last_completed,omitempty"`
	TargetValue      float64            `bson:"target_value,omitempty" json:"target_value,omitempty"`
	CurrentValue     float64            `bson:"current_value" json:"current_value"`
	Unit             string             `bson:"unit,omitempty" json:"unit,omitempty"`
	IsCompleted      bool               `bson:"is_completed" json:"is_completed"`
}

// Achievement is a static catalog entry. IsUnlocked is a per-user view
// field filled in when the catalog is merged with a user's unlocked set;
// it is never persisted on the catalog itself.
type Achievement struct {
	ID          string `bson:"_id" json:"id"`
	Title       string `bson:"title" json:"title"`
	Description string `bson:"description" json:"description"`
	Icon        string `bson:"icon" json:"icon"`
	Rarity      Rarity `bson:"rarity" json:"rarity"`
	XPReward    int    `bson:"xp_reward" json:"xp_reward"`
	Condition   string `bson:"condition" json:"condition"`
	IsUnlocked  bool   `bson:"-" json:"is_unlocked"`
}

// Confirmation holds a pending email confirmation token for a user.
type Confirmation struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID            primitive.ObjectID `bson:"user_id,omitempty" json:"user_id"`
	ConfirmationToken string             `bson:"token" json:"token"`
	ExpiresAt         time.Time          `bson:"expires_at" json:"expires_at"`
}
