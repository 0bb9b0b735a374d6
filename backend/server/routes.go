package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ebalkanci/habita/backend/server/auth"
	contextKey "github.com/ebalkanci/habita/backend/server/context_key"
	"github.com/ebalkanci/habita/backend/server/habits"
	"github.com/ebalkanci/habita/models"
)

// credentialsRequest carries the fields accepted by the sign-in and
// sign-up endpoints.
type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// tokenResponse is the token pair handed back by the auth endpoints.
type tokenResponse struct {
	Token          string `json:"token"`
	RefreshToken   string `json:"refresh_token"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type confirmRequest struct {
	Token string `json:"token"`
}

type updateUserRequest struct {
	CurrentPassword string `json:"current_password"`
	NewUsername     string `json:"new_username"`
	NewEmail        string `json:"new_email"`
	NewPassword     string `json:"new_password"`
}

type completeRequest struct {
	Value *float64 `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// registerRoutes builds the API router. Authentication is enforced per
// handler: the JWT middleware only annotates the request context, and
// requireUser decides whether the annotation is good enough.
func registerRoutes() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/auth/signup", handleSignUp).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/signin", handleSignIn).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/confirm", handleConfirmEmail).Methods(http.MethodPost)

	r.HandleFunc("/api/user", handleGetUser).Methods(http.MethodGet)
	r.HandleFunc("/api/user", handleUpdateUser).Methods(http.MethodPatch)
	r.HandleFunc("/api/user", handleDeleteUser).Methods(http.MethodDelete)

	r.HandleFunc("/api/habits", handleListHabits).Methods(http.MethodGet)
	r.HandleFunc("/api/habits", handleCreateHabit).Methods(http.MethodPost)
	r.HandleFunc("/api/habits/watch", handleWatchHabits).Methods(http.MethodGet)
	r.HandleFunc("/api/habits/{id}/complete", handleCompleteHabit).Methods(http.MethodPost)
	r.HandleFunc("/api/habits/{id}", handleUpdateHabit).Methods(http.MethodPatch)
	r.HandleFunc("/api/habits/{id}", handleDeleteHabit).Methods(http.MethodDelete)

	r.HandleFunc("/api/stats", handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/achievements", handleAchievements).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", handleProfile).Methods(http.MethodGet)

	return r
}

// requireUser extracts the authenticated user id the JWT middleware put
// into the request context. It returns an empty string after writing a
// 401 when the request carries no valid identity.
func requireUser(w http.ResponseWriter, r *http.Request) string {
	if jwtErr, ok := r.Context().Value(contextKey.JwtErrorKey).(error); ok && jwtErr != nil {
		writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
		return ""
	}
	userId, ok := r.Context().Value(contextKey.UserIDKey).(string)
	if !ok || userId == "" {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return ""
	}
	return userId
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	return true
}

func handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, refreshToken, err := auth.SignUp(req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, RefreshToken: refreshToken})
}

func handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, refreshToken, emailConfirmed, err := auth.SignIn(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:          token,
		RefreshToken:   refreshToken,
		EmailConfirmed: emailConfirmed,
	})
}

// handleRefresh issues a new token pair. The expired auth token still
// identifies the caller: the middleware extracts the id from expired
// claims, and the refresh token in the body proves the session.
func handleRefresh(w http.ResponseWriter, r *http.Request) {
	userId, ok := r.Context().Value(contextKey.UserIDKey).(string)
	if !ok || userId == "" {
		writeError(w, http.StatusUnauthorized, errors.New("authentication required"))
		return
	}

	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	token, refreshToken, err := auth.RefreshToken(userId, req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, RefreshToken: refreshToken})
}

func handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := auth.ConfirmEmail(userId, req.Token); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
}

func handleGetUser(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	user, err := auth.GetUser(userId)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	var req updateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	updated, emailConfirmed, err := auth.UpdateUser(userId, req.CurrentPassword, req.NewUsername, req.NewEmail, req.NewPassword)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{
		"updated":         updated,
		"email_confirmed": emailConfirmed,
	})
}

func handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	if _, err := auth.DeleteUser(userId); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func handleListHabits(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	habitList, err := habits.List(r.Context(), userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if habitList == nil {
		habitList = []models.Habit{}
	}

	writeJSON(w, http.StatusOK, habitList)
}

func handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	var template models.Habit
	if !decodeBody(w, r, &template) {
		return
	}

	habit, unlocked, err := habits.Create(r.Context(), userId, template)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"habit":    habit,
		"unlocked": unlocked,
	})
}

// handleWatchHabits streams the caller's habit list as server-sent
// events: one event with the full list on connect, then one per remote
// change, until the client disconnects.
func handleWatchHabits(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errors.New("streaming not supported"))
		return
	}

	stream, err := habits.Watch(r.Context(), userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for habitList := range stream {
		payload, err := json.Marshal(habitList)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
}

func handleCompleteHabit(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	var req completeRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	result, err := habits.Complete(r.Context(), userId, mux.Vars(r)["id"], req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func handleUpdateHabit(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	var fields map[string]interface{}
	if !decodeBody(w, r, &fields) {
		return
	}

	if err := habits.Update(r.Context(), userId, mux.Vars(r)["id"], fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func handleDeleteHabit(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	if err := habits.Delete(r.Context(), userId, mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func handleStats(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	stats, err := habits.GetStats(r.Context(), userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func handleAchievements(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	achievements, err := habits.GetAchievements(r.Context(), userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, achievements)
}

func handleProfile(w http.ResponseWriter, r *http.Request) {
	userId := requireUser(w, r)
	if userId == "" {
		return
	}

	profile, err := habits.GetProfile(r.Context(), userId)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
