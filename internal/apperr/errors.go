// Package apperr defines the error taxonomy shared by every client API
// operation. Handlers recover these into the panel error envelope; nothing
// else is allowed to escape to a caller.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class to external integrations. Codes are
// contractually stable; detail strings are not.
type Code string

const (
	CodeAuthentication Code = "AuthenticationError"
	CodeAuthorization  Code = "AuthorizationError"
	CodeValidation     Code = "ValidationError"
	CodeNotFound       Code = "NotFoundError"
	CodeDisplay        Code = "DisplayError"
	CodeDaemon         Code = "DaemonError"
	CodeInternal       Code = "InternalError"
)

// Error is the single error type crossing operation boundaries.
type Error struct {
	Code   Code
	Status int
	Detail string

	// SourceField and Rule populate the meta object on validation errors.
	SourceField string
	Rule        string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Detail)
}

// Authentication builds a 401 error for missing or invalid credentials.
func Authentication(detail string) *Error {
	if detail == "" {
		detail = "Invalid or missing credentials."
	}
	return &Error{Code: CodeAuthentication, Status: http.StatusUnauthorized, Detail: detail}
}

// Authorization builds the uniform 403 returned whenever the permission
// gate fails. The detail is fixed so ungranted callers learn nothing from
// the wording.
func Authorization() *Error {
	return &Error{
		Code:   CodeAuthorization,
		Status: http.StatusForbidden,
		Detail: "You do not have permission to perform this action.",
	}
}

// Validation builds a 422 error naming the offending field and the rule it
// violated.
func Validation(field, rule, detail string) *Error {
	return &Error{
		Code:        CodeValidation,
		Status:      http.StatusUnprocessableEntity,
		Detail:      detail,
		SourceField: field,
		Rule:        rule,
	}
}

// NotFound builds a 404 error for an absent resource.
func NotFound(resource string) *Error {
	return &Error{
		Code:   CodeNotFound,
		Status: http.StatusNotFound,
		Detail: fmt.Sprintf("The requested %s could not be located.", resource),
	}
}

// Display builds a 400 error for a domain-rule violation whose detail is
// safe to show verbatim.
func Display(detail string) *Error {
	return &Error{Code: CodeDisplay, Status: http.StatusBadRequest, Detail: detail}
}

// Daemon builds an error attributed to the node agent. Status is either the
// daemon's own response code (passthrough) or the call site's default.
func Daemon(status int, detail string) *Error {
	if status == 0 {
		status = http.StatusBadGateway
	}
	if detail == "" {
		detail = "An unexpected error occurred while communicating with the node."
	}
	return &Error{Code: CodeDaemon, Status: status, Detail: detail}
}

// Internal builds a 500 error for panel-side failures.
func Internal(detail string) *Error {
	if detail == "" {
		detail = "An unexpected error was encountered while processing this request."
	}
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Detail: detail}
}

// From extracts an *Error from err, wrapping unknown errors as Internal so
// raw failure text never reaches a caller.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("")
}
