package main

import (
	"github.com/tectiv3/docchat/assistant"
	"github.com/tectiv3/docchat/auth"
	"github.com/tectiv3/docchat/extract"
	"github.com/tectiv3/docchat/session"
	"gorm.io/gorm"
)

type Server struct {
	conf      config
	db        *gorm.DB
	ai        completer
	assistant *assistant.Service
	files     *extract.Extractor
	sessions  *session.Store
	tokens    *auth.Issuer
	metrics   *metrics
}

type User struct {
	gorm.Model
	Username     string
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-"`
	AuthToken    string `json:"-"`
	ThreadID     string `gorm:"default:0"`
}

// API request/response structures
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Msg   string `json:"msg,omitempty"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type LoginResponse struct {
	Success  string `json:"success"`
	Token    string `json:"token"`
	ID       uint   `json:"id"`
	ThreadID string `json:"threadId"`
}

type ChatResponse struct {
	Success  string   `json:"success"`
	Message  string   `json:"message"`
	Value    []string `json:"value"`
	ThreadID string   `json:"threadId"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type AnalysisResponse struct {
	Analysis string `json:"analysis"`
}
