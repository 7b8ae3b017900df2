package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(s.metrics.middleware)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(corsMiddleware(s.conf.allowedOrigins()))

	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/chat", s.handleAssistantChat)
		r.Post("/chat/{id}", s.handleAssistantChat)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/upload", s.handleUpload)
	})

	return r
}

// Helper functions for JSON responses. Unauthorized responses mirror the
// message in msg, the field the web client reads on auth failures.
func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	resp := ErrorResponse{Error: message}
	if status == http.StatusUnauthorized {
		resp.Msg = message
	}
	s.writeJSON(w, status, resp)
}

// writeAuthJSONError is writeJSONError for the /auth endpoints, msg is always set
func (s *Server) writeAuthJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Msg: message})
}

// writeError logs the full error and sends the client facing part of it
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, message := logError(err)
	s.writeJSONError(w, status, message)
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	status, message := logError(err)
	s.writeAuthJSONError(w, status, message)
}

func logError(err error) (int, string) {
	status, message := httpError(err)
	if status >= http.StatusInternalServerError {
		Log.Error(err)
	} else {
		Log.Info(err)
	}

	return status, message
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		Log.Warn("failed to encode response: ", err)
	}
}
