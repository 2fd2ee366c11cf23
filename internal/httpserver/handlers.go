package httpserver

import (
	"context"
	"net/http"
	"time"

	domain "quizportal/backend/internal/domain/auth"
	authusecase "quizportal/backend/internal/usecase/auth"
)

const forgotPasswordMessage = "If an account with that email exists, a password reset link has been sent"

func (s *Server) registerRoutes() {
	protect := s.protect
	staff := []func(http.Handler) http.Handler{protect, authorize(domain.RoleAdmin, domain.RoleTeacher), checkPermission("users:read")}
	admin := []func(http.Handler) http.Handler{protect, authorize(domain.RoleAdmin)}

	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /register", s.handleRegister)
	s.router.HandleFunc("POST /login", s.handleLogin)
	s.router.HandleFunc("POST /refresh", s.handleRefresh)
	s.router.HandleFunc("POST /forgotpassword", s.handleForgotPassword)
	s.router.HandleFunc("PUT /resetpassword/{resettoken}", s.handleResetPassword)
	s.router.HandleFunc("GET /verifyemail/{token}", s.handleVerifyEmail)
	s.router.Handle("GET /session", s.optionalAuth(http.HandlerFunc(s.handleSession)))

	s.router.Handle("GET /me", protect(http.HandlerFunc(s.handleMe)))
	s.router.Handle("PUT /updatedetails", protect(http.HandlerFunc(s.handleUpdateDetails)))
	s.router.Handle("PUT /updatepassword", protect(http.HandlerFunc(s.handleUpdatePassword)))
	s.router.Handle("POST /logout", protect(http.HandlerFunc(s.handleLogout)))
	s.router.Handle("POST /resendverification", protect(http.HandlerFunc(s.handleResendVerification)))

	s.router.Handle("GET /admin/users", chain(http.HandlerFunc(s.handleListUsers), staff...))
	s.router.Handle("GET /admin/users/{id}", chain(http.HandlerFunc(s.handleGetUser), staff...))
	s.router.Handle("PUT /admin/users/{id}/role", chain(http.HandlerFunc(s.handleUpdateUserRole), admin...))
	s.router.Handle("PUT /admin/users/{id}/permissions", chain(http.HandlerFunc(s.handleSetUserPermissions), admin...))
	s.router.Handle("PUT /admin/users/{id}/status", chain(http.HandlerFunc(s.handleSetUserStatus), admin...))
	s.router.Handle("POST /admin/users/{id}/unlock", chain(http.HandlerFunc(s.handleUnlockUser), admin...))
	s.router.Handle("DELETE /admin/users/{id}", chain(http.HandlerFunc(s.handleDeleteUser), admin...))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.log.Warn(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sessionResponse struct {
	Success      bool         `json:"success"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         *domain.User `json:"user"`
}

type userResponse struct {
	Success bool         `json:"success"`
	User    *domain.User `json:"user"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) writeSession(w http.ResponseWriter, status int, session *authusecase.Session) {
	s.cookies.setSession(w, session.Tokens)
	writeJSON(w, status, sessionResponse{
		Success:      true,
		AccessToken:  session.Tokens.AccessToken,
		RefreshToken: session.Tokens.RefreshToken,
		User:         session.User,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload authusecase.RegisterInput
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	session, err := s.authService.Register(r.Context(), payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	session, err := s.authService.Login(r.Context(), domain.Credentials{Email: payload.Email, Password: payload.Password})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeOptionalJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	token := payload.RefreshToken
	if token == "" {
		if c, err := r.Cookie(refreshCookieName); err == nil {
			token = c.Value
		}
	}

	session, err := s.authService.Refresh(r.Context(), token)
	if err != nil {
		s.cookies.clear(w)
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if err := s.authService.ForgotPassword(r.Context(), payload.Email); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: forgotPasswordMessage})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	session, err := s.authService.ResetPassword(r.Context(), r.PathValue("resettoken"), payload.Password)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.VerifyEmail(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool         `json:"success"`
		Message string       `json:"message"`
		User    *domain.User `json:"user"`
	}{Success: true, Message: "Email verified", User: user})
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	if err := s.authService.ResendVerification(r.Context(), current.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Verification email sent"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Authenticated bool         `json:"authenticated"`
		User          *domain.User `json:"user"`
	}{Authenticated: ok, User: user})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	user, err := s.authService.Me(r.Context(), current.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	var payload authusecase.UpdateDetailsInput
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	user, err := s.authService.UpdateDetails(r.Context(), current.ID, payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	var payload authusecase.UpdatePasswordInput
	if err := decodeJSON(w, r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	session, err := s.authService.UpdatePassword(r.Context(), current.ID, payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, http.StatusOK, session)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	current, _ := currentUserFromContext(r.Context())
	if err := s.authService.Logout(r.Context(), current.ID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.cookies.clear(w)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out"})
}
