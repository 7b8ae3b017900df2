package main

import (
	"errors"
	"net/http"

	"github.com/tectiv3/docchat/extract"
)

var (
	ErrDuplicateUser      = errors.New("User already exists")
	ErrInvalidCredentials = errors.New("Invalid Credentials")
	ErrUnauthorized       = errors.New("Unauthorized")
	ErrRemoteService      = errors.New("remote service error")
	ErrInternal           = errors.New("internal error")
)

const genericErrorMessage = "Something went wrong, please try again later"

// httpError maps an error to the status and the message shown to the client.
// Anything not recognized is reported as a generic 500.
func httpError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrDuplicateUser):
		return http.StatusBadRequest, ErrDuplicateUser.Error()
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusBadRequest, ErrInvalidCredentials.Error()
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInputTooShort), errors.Is(err, ErrInputTooLong), errors.Is(err, ErrInvalidFormat):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, extract.ErrUnsupportedFileType):
		return http.StatusBadRequest, "Unsupported file type"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, ErrUnauthorized.Error()
	default:
		return http.StatusInternalServerError, genericErrorMessage
	}
}
