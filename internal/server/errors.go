package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/feed-validator/internal/feed"
	"github.com/jonathan/feed-validator/internal/fetch"
	"github.com/jonathan/feed-validator/internal/pipeline"
)

// ErrNotFound indicates the requested resource does not exist yet
type ErrNotFound struct {
	Resource string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found", e.Resource)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		notFound   *ErrNotFound
		validation *ErrValidation
		fetchErr   *fetch.FetchError
		parseErr   *feed.ParseError
	)
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &fetchErr):
		return http.StatusBadGateway
	case errors.As(err, &parseErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
