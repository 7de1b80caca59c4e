package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/NCIOCPL/cdr-admin-sub007/internal/session"
	"github.com/NCIOCPL/cdr-admin-sub007/internal/store"
)

// Error codes carried on the wire. The core packages return sentinel
// errors; mapping to codes and HTTP statuses happens only here.
const (
	CodeBadRequest        = "BAD_REQUEST"
	CodeValidation        = "VALIDATION"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeIllegalTransition = "ILLEGAL_TRANSITION"
	CodeUnavailable       = "UNAVAILABLE"
)

type apiError struct {
	Code   string
	Status int
	Detail string
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func badRequest(detail string) *apiError {
	return &apiError{Code: CodeBadRequest, Status: http.StatusBadRequest, Detail: detail}
}

func validationError(detail string) *apiError {
	return &apiError{Code: CodeValidation, Status: http.StatusBadRequest, Detail: detail}
}

func forbidden(detail string) *apiError {
	return &apiError{Code: CodeForbidden, Status: http.StatusForbidden, Detail: detail}
}

// toAPIError maps sentinel errors from the core packages onto wire
// errors. Anything unrecognized is a store outage.
func toAPIError(err error) *apiError {
	var apiErr *apiError
	switch {
	case errors.As(err, &apiErr):
		return apiErr
	case errors.Is(err, session.ErrUnauthenticated):
		return &apiError{Code: CodeUnauthenticated, Status: http.StatusUnauthorized, Detail: "a valid session is required"}
	case errors.Is(err, store.ErrNotFound):
		return &apiError{Code: CodeNotFound, Status: http.StatusNotFound, Detail: "no such job"}
	case errors.Is(err, store.ErrIllegalTransition):
		return &apiError{Code: CodeIllegalTransition, Status: http.StatusConflict, Detail: "the job is already in a terminal state"}
	default:
		return &apiError{Code: CodeUnavailable, Status: http.StatusServiceUnavailable, Detail: "the job store is unavailable"}
	}
}
