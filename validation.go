package main

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Input validation errors
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrInputTooShort = errors.New("input too short")
	ErrInputTooLong  = errors.New("input too long")
	ErrInvalidFormat = errors.New("invalid format")
)

// Validation constraints
const (
	MinUsernameLength = 3
	MaxUsernameLength = 32
	MinPasswordLength = 6
	MaxPasswordLength = 72 // bcrypt limit
	MaxMessageLength  = 4000
	MaxFileSize       = 10 * 1024 * 1024 // 10MB
	MaxFilesPerTurn   = 10
	maxFormOverhead   = 1 << 20 // form fields and multipart framing
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.\- ]+$`)

// ValidateUsername validates the display name given on registration
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username cannot be empty", ErrInvalidInput)
	}

	if len(username) < MinUsernameLength {
		return fmt.Errorf("%w: username must be at least %d characters", ErrInputTooShort, MinUsernameLength)
	}

	if len(username) > MaxUsernameLength {
		return fmt.Errorf("%w: username must be at most %d characters", ErrInputTooLong, MaxUsernameLength)
	}

	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username can only contain letters, numbers, spaces, dots, dashes and underscores", ErrInvalidFormat)
	}

	return nil
}

// ValidateEmail validates and normalizes an email address
func ValidateEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", fmt.Errorf("%w: email cannot be empty", ErrInvalidInput)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidFormat)
	}

	return email, nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrInvalidInput)
	}

	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInputTooShort, MinPasswordLength)
	}

	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrInputTooLong, MaxPasswordLength)
	}

	return nil
}

// ValidateMessage validates a chat message, an empty message is allowed when files are attached
func ValidateMessage(message string, withFiles bool) error {
	if strings.TrimSpace(message) == "" && !withFiles {
		return fmt.Errorf("%w: message cannot be empty", ErrInvalidInput)
	}

	if len(message) > MaxMessageLength {
		return fmt.Errorf("%w: message must be at most %d characters", ErrInputTooLong, MaxMessageLength)
	}

	return nil
}

// ValidateFileSize validates uploaded file size
func ValidateFileSize(size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: file size must be greater than 0", ErrInvalidInput)
	}

	if size > MaxFileSize {
		return fmt.Errorf("%w: file size must be less than %d bytes", ErrInputTooLong, MaxFileSize)
	}

	return nil
}
