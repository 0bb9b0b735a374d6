package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/form3tech-oss/jwt-go"
	"github.com/zalando/go-keyring"

	"github.com/ebalkanci/habita/lib/utils"
	"github.com/ebalkanci/habita/models"
)

var jwtSigningKey string
var KeyringKey string
var RefreshKeyringKey string
var ServerURL string
var httpClient = &http.Client{}

const KeyringService = "Habita"

// TokenResult is a struct that represents the result of a request to an auth endpoint, such as SignIn or SignUp.
type TokenResult struct {
	Token        string
	RefreshToken string
}

// tokenPayload mirrors the token pair the auth endpoints respond with.
type tokenPayload struct {
	Token          string `json:"token"`
	RefreshToken   string `json:"refresh_token"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

// InitClient initializes the jwtSigningKey and keyring key variables.
// This function must be called before using any other functions in the package.
func InitClient(serverURL, signingKey, authToken, authTokenRefresh string) {
	jwtSigningKey = signingKey
	KeyringKey = authToken
	RefreshKeyringKey = authTokenRefresh
	ServerURL = serverURL
}

// decodeJWT decodes the JWT token and returns the claims if the token is valid.
func decodeJWT(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSigningKey), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	return claims, nil
}

// isJwtTokenInKeyring checks if the keyring contains some token or not and returns it if it exists.
func isJwtTokenInKeyring() (bool, string, error) {
	jwt, err := keyring.Get(KeyringService, KeyringKey)
	if err != nil {
		if err == keyring.ErrNotFound {
			return false, "", nil
		}
		return false, "", errors.New("failed to access keyring: " + err.Error())
	}
	return true, jwt, nil
}

// IsUserAuthenticated checks if there is a valid JWT token stored in the keyring.
// It returns the token if a valid token is found, an empty string otherwise.
// If the token is expired or invalid, it tries to refresh the token using the refresh token.
func IsUserAuthenticated() (string, error) {

	hasJwt, tokenStr, err := isJwtTokenInKeyring()

	if err != nil {
		return "", err
	}

	if !hasJwt {
		return "", nil
	}

	_, err = decodeJWT(tokenStr)
	if err != nil {
		if ve, ok := err.(*jwt.ValidationError); ok {
			if ve.Errors&jwt.ValidationErrorExpired != 0 {
				newToken, refreshErr := RefreshAccessToken(tokenStr)
				if refreshErr != nil {
					return "", refreshErr
				}
				return newToken, nil
			}
		}
		return "", err
	}

	return tokenStr, nil
}

// sendRequest sends a JSON request to the server and decodes the JSON
// response into result when the status is a success. A non-2xx response
// is converted into an error built from the server's error payload.
//
// It accepts five arguments:
// - method: The HTTP method of the request.
// - path: The API path, appended to the server URL.
// - tokenString: An optional JWT attached as a bearer token.
// - body: An optional request payload, marshalled as JSON.
// - result: An optional destination the response body is decoded into.
func sendRequest(method, path string, tokenString *string, body interface{}, result interface{}) error {

	var reqBody io.Reader
	if body != nil {
		marshalled, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to create request: %v", err)
		}
		reqBody = bytes.NewBuffer(marshalled)
	}

	req, err := http.NewRequest(method, ServerURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if tokenString != nil {
		req.Header.Add("Authorization", "Bearer "+*tokenString)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errorBody struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(bodyBytes, &errorBody); err == nil && errorBody.Error != "" {
			return errors.New(errorBody.Error)
		}
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			return err
		}
	}

	return nil
}

// storeTokens saves a token pair in the keyring. If storing the refresh
// token fails, the access token is removed again so the keyring never
// holds half a session.
func storeTokens(token, refreshToken string) error {
	if err := keyring.Set(KeyringService, KeyringKey, token); err != nil {
		return err
	}

	if refreshToken != "" {
		if err := keyring.Set(KeyringService, RefreshKeyringKey, refreshToken); err != nil {
			keyring.Delete(KeyringService, KeyringKey)
			return err
		}
	}

	return nil
}

// ClearKeyring removes any stored session tokens.
func ClearKeyring() {
	keyring.Delete(KeyringService, KeyringKey)
	keyring.Delete(KeyringService, RefreshKeyringKey)
}

// RefreshAccessToken sends a POST request to attain a refreshed access token from the server.
// If there's an error making the request, it returns an error.
func RefreshAccessToken(tokenStr string) (string, error) {

	refreshToken, err := keyring.Get(KeyringService, RefreshKeyringKey)

	if err != nil {
		return "", err
	}

	var payload tokenPayload
	err = sendRequest(http.MethodPost, "/api/auth/refresh", &tokenStr, map[string]string{
		"refresh_token": refreshToken,
	}, &payload)

	if err != nil {
		return "", err
	}

	if err := storeTokens(payload.Token, payload.RefreshToken); err != nil {
		return "", err
	}

	return payload.Token, nil
}

// SignIn sends a request to sign in a user and stores the returned token pair.
func SignIn(username, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()

	if err != nil {
		return "", "", err
	}

	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	var payload tokenPayload
	err = sendRequest(http.MethodPost, "/api/auth/signin", nil, map[string]string{
		"username": username,
		"password": password,
	}, &payload)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(payload.Token, payload.RefreshToken); err != nil {
		return "", "", err
	}

	PrintBanner("signed in successfully")

	return payload.Token, payload.RefreshToken, nil
}

// SignUp sends a request to register a user and stores the returned token pair.
func SignUp(username, email, password string) (string, string, error) {

	isSignedIn, _, err := isJwtTokenInKeyring()

	if err != nil {
		return "", "", err
	}

	if isSignedIn {
		return "", "", errors.New("a user is already signed in")
	}

	if !(len(username) > 1) {
		return "", "", errors.New("username must be at least 2 characters")
	}

	if !utils.ValidateEmail(email) {
		return "", "", errors.New("invalid email format")
	}

	if !utils.ValidatePassword(password) {
		return "", "", errors.New("password must be at least 8 characters and contain both letters and numbers")
	}

	var payload tokenPayload
	err = sendRequest(http.MethodPost, "/api/auth/signup", nil, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, &payload)
	if err != nil {
		return "", "", err
	}

	if err := storeTokens(payload.Token, payload.RefreshToken); err != nil {
		return "", "", err
	}

	PrintBanner("signed up successfully")

	return payload.Token, payload.RefreshToken, nil
}

// GetUser fetches the signed in user's account record.
func GetUser() (*models.User, error) {

	token, err := IsUserAuthenticated()

	if err != nil {
		return nil, err
	}

	if token == "" {
		return nil, errors.New("no user is currently signed in")
	}

	user := &models.User{}
	if err := sendRequest(http.MethodGet, "/api/user", &token, nil, user); err != nil {
		return nil, err
	}

	return user, nil
}

// UpdateUser sends a request to the server to update user information.
func UpdateUser(currentPassword, newUsername, newEmail, newPassword string) error {

	token, err := IsUserAuthenticated()

	if err != nil {
		return err
	}

	if token == "" {
		return errors.New("no user is currently signed in")
	}

	if newUsername == "" && newEmail == "" && newPassword == "" {
		return errors.New("nothing to update")
	}

	if newUsername != "" && len(newUsername) <= 1 {
		return errors.New("new username must be at least 2 characters")
	}
	if newEmail != "" && !utils.ValidateEmail(newEmail) {
		return errors.New("new email is in invalid format")
	}
	if newPassword != "" && !utils.ValidatePassword(newPassword) {
		return errors.New("new password must be at least 8 characters and contain both letters and numbers")
	}

	err = sendRequest(http.MethodPatch, "/api/user", &token, map[string]string{
		"current_password": currentPassword,
		"new_username":     newUsername,
		"new_email":        newEmail,
		"new_password":     newPassword,
	}, nil)
	if err != nil {
		return err
	}

	PrintBanner("updated user successfully")

	return nil
}

// SignOut removes the JWT token and refresh token stored in the keyring,
// effectively signing out the user.
func SignOut() error {

	token, err := IsUserAuthenticated()

	if err != nil {
		return err
	}

	if token == "" {
		return errors.New("no user is currently signed in")
	}

	err = keyring.Delete(KeyringService, KeyringKey)
	if err != nil {
		return errors.New("failed to delete access token from keyring: " + err.Error())
	}

	err = keyring.Delete(KeyringService, RefreshKeyringKey)
	if err != nil {
		keyring.Set(KeyringService, KeyringKey, token)
		return errors.New("failed to delete refresh token from keyring: " + err.Error())
	}

	PrintBanner("user signed out successfully")

	return nil
}

// DeleteUser sends a request to the server to delete the currently authenticated user.
// It signs out the user by calling the SignOut function.
func DeleteUser() error {

	token, err := IsUserAuthenticated()

	if err != nil {
		return err
	}

	if token == "" {
		return errors.New("no user is currently signed in")
	}

	err = sendRequest(http.MethodDelete, "/api/user", &token, nil, nil)

	if err != nil {
		return err
	}

	err = SignOut()

	if err != nil {
		return err
	}

	PrintBanner("user deleted successfully")

	return nil
}

// ConfirmEmail sends the emailed confirmation token to the server to
// activate the signed in user's account.
func ConfirmEmail(confirmationToken string) error {

	token, err := IsUserAuthenticated()

	if err != nil {
		return err
	}

	if token == "" {
		return errors.New("no user is currently signed in")
	}

	err = sendRequest(http.MethodPost, "/api/auth/confirm", &token, map[string]string{
		"token": confirmationToken,
	}, nil)
	if err != nil {
		return err
	}

	return nil
}
