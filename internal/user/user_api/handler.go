package user_api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-commerce/internal/auth"
	"ms-commerce/internal/logger"
	"ms-commerce/internal/models"
	"ms-commerce/internal/user"
)

type Handler struct {
	UserService *user.UserService
	Logger      *logger.Logger
}

func NewHandler(userService *user.UserService, log *logger.Logger) *Handler {
	return &Handler{
		UserService: userService,
		Logger:      log,
	}
}

// RegisterUser creates a new user profile.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("API", "RegisterUser: received request")

	var userReq models.UserRequest
	if err := json.NewDecoder(r.Body).Decode(&userReq); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterUser: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	created, err := h.UserService.RegisterUser(r.Context(), userReq)
	if err != nil {
		if errors.Is(err, user.ErrInvalidEmail) {
			h.Logger.Error("API", fmt.Sprintf("RegisterUser: rejected: %v", err))
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, user.ErrDuplicateEmail) {
			h.Logger.Error("API", fmt.Sprintf("RegisterUser: rejected: %v", err))
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("RegisterUser: could not register user: %v", err))
		http.Error(w, "Could not register user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(created); err != nil {
		h.Logger.Error("API", fmt.Sprintf("RegisterUser: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("RegisterUser: user %s created successfully", created.UserID))
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	h.Logger.Info("API", fmt.Sprintf("GetUser: userId=%s", userID))

	userData, err := h.UserService.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			h.Logger.Error("API", fmt.Sprintf("GetUser: user not found: %v", err))
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetUser: failed to load user: %v", err))
		http.Error(w, "Could not load user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(userData); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetUser: failed to encode response: %v", err))
	}
}

// GetMyProfile returns the profile of the authenticated caller.
func (h *Handler) GetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		h.Logger.Error("API", "GetMyProfile: no authenticated user in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	userData, err := h.UserService.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetMyProfile: failed to load user: %v", err))
		http.Error(w, "Could not load user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(userData); err != nil {
		h.Logger.Error("API", fmt.Sprintf("GetMyProfile: failed to encode response: %v", err))
	}
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	h.Logger.Info("API", fmt.Sprintf("UpdateUser: userId=%s", userID))

	var userReq models.UserRequest
	if err := json.NewDecoder(r.Body).Decode(&userReq); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateUser: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	updated, err := h.UserService.UpdateUser(r.Context(), userID, userReq)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, user.ErrDuplicateEmail) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("UpdateUser: could not update user: %v", err))
		http.Error(w, "Could not update user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(updated); err != nil {
		h.Logger.Error("API", fmt.Sprintf("UpdateUser: failed to encode response: %v", err))
		return
	}
	h.Logger.Info("API", fmt.Sprintf("UpdateUser: user %s updated successfully", userID))
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	h.Logger.Info("API", fmt.Sprintf("DeleteUser: userId=%s", userID))

	if err := h.UserService.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}
		h.Logger.Error("API", fmt.Sprintf("DeleteUser: could not delete user: %v", err))
		http.Error(w, "Could not delete user: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.ListUsers(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListUsers: failed to list users: %v", err))
		http.Error(w, "Could not list users", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(users); err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListUsers: failed to encode response: %v", err))
	}
}
