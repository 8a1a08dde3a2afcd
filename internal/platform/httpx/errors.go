package httpx

import (
	"errors"
	"net/http"
)

// Generic transport errors raised before a request reaches the domain.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Class ties a set of errors to one HTTP status and title.
type Class struct {
	Status int
	Title  string
	Errors []error
}

// Classify returns the first class whose errors match err.
func Classify(err error, classes []Class) (Class, bool) {
	for _, c := range classes {
		for _, target := range c.Errors {
			if errors.Is(err, target) {
				return c, true
			}
		}
	}
	return Class{}, false
}

var genericClasses = []Class{
	{Status: http.StatusNotFound, Title: "Not Found", Errors: []error{ErrNotFound}},
	{Status: http.StatusConflict, Title: "Conflict", Errors: []error{ErrConflict}},
	{Status: http.StatusBadRequest, Title: "Validation Failed", Errors: []error{ErrValidation}},
	{Status: http.StatusForbidden, Title: "Forbidden", Errors: []error{ErrForbidden}},
	{Status: http.StatusUnauthorized, Title: "Unauthorized", Errors: []error{ErrUnauthorized}},
}

// RespondError maps err to an RFC7807 response using classes first and the
// generic transport errors second. code is attached when non-empty.
func RespondError(w http.ResponseWriter, err error, code string, classes ...Class) {
	c, ok := Classify(err, classes)
	if !ok {
		c, ok = Classify(err, genericClasses)
	}
	if !ok {
		ProblemWithCode(w, http.StatusInternalServerError, "Internal Error", "", code)
		return
	}
	ProblemWithCode(w, c.Status, c.Title, err.Error(), code)
}
