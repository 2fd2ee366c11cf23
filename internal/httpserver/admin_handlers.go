package httpserver

import (
	"net/http"

	domain "quizportal/backend/internal/domain/auth"
	userusecase "quizportal/backend/internal/usecase/user"
)

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.userService.List(r.Context(), userusecase.Filter{Role: r.URL.Query().Get("role")})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool           `json:"success"`
		Count   int            `json:"count"`
		Users   []*domain.User `json:"users"`
	}{Success: true, Count: len(users), Users: users})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.userService.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleUpdateUserRole(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	user, err := s.userService.UpdateRole(r.Context(), r.PathValue("id"), payload.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleSetUserPermissions(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Permissions []string `json:"permissions"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	user, err := s.userService.SetPermissions(r.Context(), r.PathValue("id"), payload.Permissions)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		IsActive *bool `json:"isActive"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if payload.IsActive == nil {
		s.writeServiceError(w, r, domain.NewValidationError("isActive", "is required"))
		return
	}

	user, err := s.userService.SetActive(r.Context(), r.PathValue("id"), *payload.IsActive)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.userService.Unlock(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	if current.ID == r.PathValue("id") {
		s.writeServiceError(w, r, domain.NewValidationError("id", "cannot delete your own account"))
		return
	}
	if err := s.userService.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "User deleted"})
}
