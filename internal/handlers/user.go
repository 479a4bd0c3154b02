// internal/handlers/user.go
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/errs"
	"github.com/agus-marmor/typeclash/internal/models"
)

type createUserRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		s.writeError(w, errs.New(errs.KindValidation, "a valid email is required"))
		return
	case req.Username == "":
		s.writeError(w, errs.New(errs.KindValidation, "username is required"))
		return
	case len(req.Password) < 8:
		s.writeError(w, errs.New(errs.KindValidation, "password must be at least 8 characters"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Store.CreateUser(r.Context(), u); err != nil {
		s.writeError(w, err)
		return
	}

	s.issueToken(w, http.StatusCreated, u)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	u, err := s.Store.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		// Same response for unknown email and bad password.
		s.writeError(w, errs.New(errs.KindAuth, "invalid email or password"))
		return
	}
	ok, err := auth.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil || !ok {
		s.writeError(w, errs.New(errs.KindAuth, "invalid email or password"))
		return
	}

	s.issueToken(w, http.StatusOK, u)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	u, err := s.Store.GetUser(r.Context(), id.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// issueToken mints a JWT for u and returns it both in the body and as an
// HttpOnly cookie, so browser and non-browser clients are equally served.
func (s *Server) issueToken(w http.ResponseWriter, status int, u *models.User) {
	token, err := s.Auth.CreateToken(auth.Identity{UserID: u.ID, Username: u.Username})
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	writeJSON(w, status, authResponse{Token: token, User: u})
}
