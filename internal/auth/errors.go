package auth

import (
	"errors"
	"net/http"

	"github.com/samber/oops"

	"github.com/hongminglow/tours-be/internal/models"
)

// Error codes carried by every error the auth flows and the guard return.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeDuplicateEmail        = "DUPLICATE_EMAIL"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeUnauthenticated       = "UNAUTHENTICATED"
	CodeForbidden             = "FORBIDDEN"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	CodeIncorrectPassword     = "INCORRECT_PASSWORD"
	CodeConflict              = "CONFLICT"
	CodeDeliveryFailed        = "DELIVERY_FAILED"
	CodeInternal              = "INTERNAL"
)

// Reasons attached to CodeUnauthenticated errors under the "reason" context key.
const (
	ReasonMissingToken    = "missing_token"
	ReasonInvalidToken    = "invalid_token"
	ReasonExpiredToken    = "expired_token"
	ReasonUserNotFound    = "user_not_found"
	ReasonPasswordChanged = "password_changed"
	ReasonForbidden       = "forbidden"
)

var statusByCode = map[string]int{
	CodeBadRequest:            http.StatusBadRequest,
	CodeValidationFailed:      http.StatusBadRequest,
	CodeDuplicateEmail:        http.StatusConflict,
	CodeInvalidCredentials:    http.StatusUnauthorized,
	CodeUnauthenticated:       http.StatusUnauthorized,
	CodeForbidden:             http.StatusForbidden,
	CodeNotFound:              http.StatusNotFound,
	CodeInvalidOrExpiredToken: http.StatusBadRequest,
	CodeIncorrectPassword:     http.StatusUnauthorized,
	CodeConflict:              http.StatusConflict,
	CodeDeliveryFailed:        http.StatusInternalServerError,
	CodeInternal:              http.StatusInternalServerError,
}

// HTTPStatus maps an error to the HTTP status its code stands for.
// Errors without a known code are internal.
func HTTPStatus(err error) int {
	if status, ok := statusByCode[ErrorCode(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the oops code of err, or the empty string.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// Reason returns the "reason" context value of err, or the empty string.
func Reason(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	reason, _ := oopsErr.Context()["reason"].(string)
	return reason
}

var unauthenticatedMessages = map[string]string{
	ReasonMissingToken:    "You are not logged in. Please log in to get access.",
	ReasonInvalidToken:    "Invalid token. Please log in again.",
	ReasonExpiredToken:    "Your token has expired. Please log in again.",
	ReasonUserNotFound:    "The user belonging to this token no longer exists.",
	ReasonPasswordChanged: "User recently changed password. Please log in again.",
}

func unauthenticated(reason string) error {
	return oops.Code(CodeUnauthenticated).
		With("reason", reason).
		Errorf("%s", unauthenticatedMessages[reason])
}

func forbidden() error {
	return oops.Code(CodeForbidden).
		With("reason", ReasonForbidden).
		Errorf("You do not have permission to perform this action")
}

// validationFailed converts a model validation error into a coded error, or
// returns nil when err carries none.
func validationFailed(err error) error {
	var ve *models.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	return oops.Code(CodeValidationFailed).
		With("field", ve.Field).
		Errorf("Invalid input data. %s", ve.Message)
}

func internal(operation string, err error) error {
	return oops.Code(CodeInternal).
		With("operation", operation).
		Wrap(err)
}
