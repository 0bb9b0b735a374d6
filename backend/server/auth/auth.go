package auth

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/form3tech-oss/jwt-go"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/ebalkanci/habita/backend/queue"
	storage "github.com/ebalkanci/habita/backend/storage/persistent"
	"github.com/ebalkanci/habita/lib/utils"
	"github.com/ebalkanci/habita/models"
)

// store is a global variable that holds an interface to the storage system (database).
var store storage.StorageInterface

// jwtSigningKey is a global variable that holds the key used for signing and verifying JWT tokens.
var jwtSigningKey string

// notifyQueue is a global variable that stores a reference to the messaging queue used to send mail.
var notifyQueue *queue.Queue

// InitAuth is a function for initializing the authentication system.
//
// It accepts three arguments:
// - s: The storage backend holding user accounts.
// - signingKey: The key used to sign JWT tokens.
// - q: A queue system used to deliver confirmation mail.
//
// The function sets up the storage system and JWT signing key.
func InitAuth(s storage.StorageInterface, signingKey string, q *queue.Queue) {
	store = s
	jwtSigningKey = signingKey
	notifyQueue = q
}

// CreateAuthToken is a function to create a signed JWT token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate a token for.
//
// The function creates a JWT token with the user's ID and an expiration time.
// It returns a signed JWT token or an error if there was a problem during the token creation.
func CreateAuthToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Minute * 15).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create auth token")
	}

	return signedToken, nil
}

// CreateRefreshToken is a function to create a refresh JWT token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate a refresh token for.
//
// The function creates a JWT refresh token with the user's ID and an expiration time.
// It returns a signed JWT refresh token or an error if there was a problem during the token creation.
func CreateRefreshToken(userId string) (string, error) {
	claims := jwt.MapClaims{
		"id":  userId,
		"exp": time.Now().Add(time.Hour * 24).Unix(),
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := newToken.SignedString([]byte(jwtSigningKey))

	if err != nil {
		return "", errors.New("failed to create refresh token")
	}

	return signedToken, nil
}

// CreateTokens is a function to create both an auth token and a refresh token for a user.
//
// It accepts one argument:
// - userId: The ID of the user to generate tokens for.
//
// The function calls the CreateAuthToken and CreateRefreshToken functions to create a pair of tokens.
// It returns the pair of tokens or an error if there was a problem during the token creation.
func CreateTokens(userId string) (string, string, error) {
	authToken, authErr := CreateAuthToken(userId)
	if authErr != nil {
		return "", "", authErr
	}

	refreshToken, refreshErr := CreateRefreshToken(userId)
	if refreshErr != nil {
		return "", "", refreshErr
	}

	return authToken, refreshToken, nil
}

// SignIn is a function for authenticating a user.
//
// It accepts two arguments:
// - username: A string containing the username of the user attempting to log in.
// - password: A string containing the password of the user attempting to log in.
//
// This function finds the user by username, compares the stored hash with
// the provided password, stamps the last login, and issues a new token pair.
//
// The function returns an authentication token, a refresh token, a boolean indicating whether the user's email is confirmed,
// and an error if there was a problem with any step of the process.
func SignIn(username string, password string) (string, string, bool, error) {

	if len(username) < 2 {
		return "", "", false, errors.New("invalid username")
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"username": username})

	if err != nil {
		return "", "", false, errors.New("authentication failed")
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(password))
	if err != nil {
		return "", "", false, errors.New("authentication failed")
	}

	_, err = store.UpdateUser(context.Background(), bson.M{"_id": foundUser.ID}, bson.M{
		"$set": bson.M{"last_login": time.Now()},
	})
	if err != nil {
		return "", "", false, err
	}

	token, refreshToken, err := CreateTokens(foundUser.ID.Hex())

	if err != nil {
		return "", "", false, err
	}

	return token, refreshToken, foundUser.EmailConfirmed, nil
}

// SignUp is a function for registering a new user.
//
// It accepts three arguments:
// - username: A string containing the username of the new user.
// - email: A string containing the email of the new user.
// - password: A string containing the password of the new user.
//
// This function validates the credentials, checks for existing accounts,
// hashes the password, creates the user with a zeroed profile (no
// experience, no achievements, no habits), queues a confirmation mail,
// stores the hashed confirmation token, and issues a token pair.
//
// The function returns an authentication token, a refresh token, and an error if there was a problem with any step of the process.
func SignUp(username string, email string, password string) (string, string, error) {

	if len(username) < 2 {
		return "", "", errors.New("invalid username")
	}

	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}

	if !utils.ValidatePassword(password) {
		return "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"email": email})
	if err != nil && err != mongo.ErrNoDocuments {
		return "", "", err
	}

	if foundUser != nil {
		return "", "", errors.New("an account with this email already exists")
	}

	foundUser, err = store.FindUser(context.Background(), bson.M{"username": username})
	if err != nil && err != mongo.ErrNoDocuments {
		return "", "", err
	}

	if foundUser != nil {
		return "", "", errors.New("username is taken")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	newUserID := primitive.NewObjectID()
	now := time.Now()

	user := &models.User{
		ID:             newUserID,
		Username:       username,
		Email:          email,
		EmailConfirmed: false,
		PasswordHash:   string(hashedPassword),
		Experience:     0,
		LongestStreak:  0,
		TotalHabits:    0,
		Achievements:   []string{},
		CreatedAt:      now,
		LastLogin:      now,
	}

	_, err = store.AddUser(context.Background(), user)
	if err != nil {
		return "", "", err
	}

	// Generate a random token; 3 bytes encode up to 6 base32 characters.
	tokenBytes := make([]byte, 3)
	_, err = rand.Read(tokenBytes)
	if err != nil {
		return "", "", err
	}
	confirmationToken := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(tokenBytes)

	if len(confirmationToken) > 6 {
		confirmationToken = confirmationToken[:6]
	}

	// Hash the confirmation token before storing it in the database.
	hashedToken, err := bcrypt.GenerateFromPassword([]byte(confirmationToken), bcrypt.DefaultCost)
	if err != nil {
		return "", "", err
	}

	notification := &queue.Notification{
		Id:    newUserID.Hex(),
		Kind:  queue.KindConfirmation,
		To:    email,
		Token: confirmationToken,
	}

	if err := queue.ProcessNotification(notification, notifyQueue); err != nil {
		return "", "", err
	}

	confirmation := &models.Confirmation{
		UserID:            newUserID,
		ConfirmationToken: string(hashedToken),
		ExpiresAt:         time.Now().Add(24 * time.Hour),
	}

	_, err = store.AddConfirmation(context.Background(), confirmation)
	if err != nil {
		return "", "", err
	}

	token, refreshToken, err := CreateTokens(newUserID.Hex())
	if err != nil {
		return "", "", err
	}

	return token, refreshToken, nil
}

// RefreshToken is a function that validates a refresh token and generates a new pair of tokens if the refresh token is valid.
// It accepts two arguments:
// - userId: A string containing the id of the user who is requesting new tokens.
// - refreshToken: A string containing the refresh token to be validated.
//
// The function returns the new tokens (or empty strings if there was an error), and an error if there was a problem with any step of the process.
func RefreshToken(userId string, refreshToken string) (string, string, error) {
	token, err := jwt.Parse(refreshToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors == jwt.ValidationErrorExpired {
				return "", "", errors.New("expired refresh token")
			}
		}
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid refresh token")
	}

	if claims["id"] != userId {
		return "", "", errors.New("invalid refresh token")
	}

	return CreateTokens(userId)
}

// GetUser returns the user record for the given id.
func GetUser(userId string) (*models.User, error) {
	objectID, err := primitive.ObjectIDFromHex(userId)
	if err != nil {
		return nil, err
	}
	return store.FindUser(context.Background(), bson.M{"_id": objectID})
}

// UpdateUser is a function that allows the update of user details.
// It accepts five arguments:
// - userId: A string containing the id of the user whose details are to be updated.
// - currentPassword: A string containing the current password of the user. This is used for authentication before updating any details.
// - newUsername: A string containing the new username for the user.
// - newEmail: A string containing the new email for the user.
// - newPassword: A string containing the new password for the user.
//
// The current password must match before any field changes. A changed
// email resets the confirmed flag.
//
// The function returns a boolean indicating whether the update operation was successful, a boolean indicating whether the user's email is confirmed,
// and an error if there was a problem with any step of the process.
func UpdateUser(userId, currentPassword, newUsername, newEmail, newPassword string) (bool, bool, error) {

	objectID, err := primitive.ObjectIDFromHex(userId)

	if err != nil {
		return false, false, err
	}

	foundUser, err := store.FindUser(context.Background(), bson.M{"_id": objectID})
	if err != nil {
		return false, false, errors.New("authentication failed")
	}

	err = bcrypt.CompareHashAndPassword([]byte(foundUser.PasswordHash), []byte(currentPassword))
	if err != nil {
		return false, false, errors.New("authentication failed")
	}

	update := bson.M{
		"$set": bson.M{},
	}

	if newUsername != "" {
		existingUser, err := store.FindUser(context.Background(), bson.M{"username": newUsername})
		if existingUser != nil || err == nil {
			return false, false, errors.New("username already in use")
		}
		update["$set"].(bson.M)["username"] = newUsername
	}

	if newEmail != "" {
		existingUser, err := store.FindUser(context.Background(), bson.M{"email": newEmail})
		if existingUser != nil || err == nil {
			return false, false, errors.New("email already in use")
		}
		update["$set"].(bson.M)["email"] = newEmail
		update["$set"].(bson.M)["email_confirmed"] = false
	}

	if newPassword != "" {
		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return false, false, err
		}
		update["$set"].(bson.M)["password_hash"] = string(hashedPassword)
	}

	if len(update["$set"].(bson.M)) == 0 {
		return false, false, errors.New("nothing to update")
	}

	_, err = store.UpdateUser(context.Background(), bson.M{"_id": objectID}, update)
	if err != nil {
		return false, false, errors.New("internal server error updating user")
	}

	emailConfirmed := foundUser.EmailConfirmed
	if newEmail != "" {
		emailConfirmed = false
	}
	return true, emailConfirmed, nil
}

// DeleteUser is a function that deletes a user record from the database,
// along with every habit and confirmation the user owns.
// It accepts one argument:
// - userId: A string containing the id of the user who is to be deleted.
//
// The function returns a boolean indicating whether the deletion was successful, and an error if there was a problem with the deletion operation.
func DeleteUser(userId string) (bool, error) {

	objectID, err := primitive.ObjectIDFromHex(userId)

	if err != nil {
		return false, err
	}

	_, err = store.DeleteUser(context.Background(), bson.M{"_id": objectID})

	if err != nil {
		return false, errors.New("error deleting user")
	}

	return true, nil
}

// ConfirmEmail is a function that confirms a user's email address.
// It accepts two arguments:
// - userID: A string containing the id of the user whose email address is to be confirmed.
// - confirmationToken: A string containing the confirmation token for confirming the email address.
//
// The stored token hash is compared against the provided token; on a
// match before expiry the user's email is marked confirmed. The
// confirmation record is removed either way once inspected.
//
// The function returns an error if there was a problem with any step of the process.
func ConfirmEmail(userID, confirmationToken string) error {
	var confirmError error

	objectID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return err
	}

	foundConfirmation, err := store.FindConfirmation(context.Background(), bson.M{"user_id": objectID})
	if err != nil {
		return err
	}

	if foundConfirmation.ExpiresAt.Before(time.Now()) {
		confirmError = errors.New("confirmation token has expired")
	} else if err = bcrypt.CompareHashAndPassword([]byte(foundConfirmation.ConfirmationToken), []byte(confirmationToken)); err != nil {
		confirmError = errors.New("invalid confirmation token")
	} else {
		update := bson.M{
			"$set": bson.M{
				"email_confirmed": true,
			},
		}

		_, err = store.UpdateUser(context.Background(), bson.M{"_id": objectID}, update)
		if err != nil {
			return err
		}
	}

	_, err = store.DeleteConfirmation(context.Background(), bson.M{"_id": foundConfirmation.ID})
	if err != nil {
		return errors.New("error removing confirmation record")
	}

	return confirmError
}
