package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/tectiv3/docchat/auth"
	"gorm.io/gorm"
)

const tokenCookie = "token"

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAuthJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	email, err := ValidateEmail(req.Email)
	if err == nil {
		err = ValidateUsername(req.Username)
	}
	if err == nil {
		err = ValidatePassword(req.Password)
	}
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	user, err := s.createUser(strings.TrimSpace(req.Username), email, hash)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	token, err := s.issueToken(user, auth.RegisterTTL)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	Log.WithField("user", user.ID).Info("user registered")

	w.Header().Set("x-auth-token", token)
	s.writeJSON(w, http.StatusOK, TokenResponse{Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeAuthJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.userByEmail(strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.writeAuthError(w, ErrInvalidCredentials)
		return
	}
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		s.writeAuthError(w, ErrInvalidCredentials)
		return
	}

	token, err := s.issueToken(user, auth.LoginTTL)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	Log.WithField("user", user.ID).Info("user logged in")

	http.SetCookie(w, &http.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(auth.LoginTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil,
	})
	s.writeJSON(w, http.StatusOK, LoginResponse{
		Success:  "true",
		Token:    token,
		ID:       user.ID,
		ThreadID: user.ThreadID,
	})
}

// issueToken signs a token for the user and remembers it as the last issued one
func (s *Server) issueToken(user *User, ttl time.Duration) (string, error) {
	token, err := s.tokens.Issue(auth.UserClaim{ID: user.ID, ThreadID: user.ThreadID}, ttl)
	if err != nil {
		return "", err
	}
	if err := s.saveToken(user, token); err != nil {
		return "", err
	}

	return token, nil
}
