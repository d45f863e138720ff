package respond

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hongminglow/tours-be/internal/auth"
	"github.com/hongminglow/tours-be/internal/errutil"
	"github.com/hongminglow/tours-be/internal/models"
	"github.com/hongminglow/tours-be/internal/models/dto"
)

// Envelope statuses.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

const internalMessage = "Something went wrong. Please try again later."

// serverMessages replaces internalMessage for server errors a client can act on.
var serverMessages = map[string]string{
	auth.CodeDeliveryFailed: "There was an error sending the email. Try again later.",
}

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Token   string `json:"token,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("respond: encode payload failed", "error", err)
	}
}

// Success writes a success envelope carrying data.
func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, Envelope{Status: StatusSuccess, Data: data})
}

// Message writes a success envelope carrying only a message.
func Message(w http.ResponseWriter, status int, message string) {
	JSON(w, status, Envelope{Status: StatusSuccess, Message: message})
}

// Session writes a logged-in response: the token plus the sanitized user.
func Session(w http.ResponseWriter, status int, session *auth.Session) {
	JSON(w, status, Envelope{
		Status: StatusSuccess,
		Token:  session.Token,
		Data:   dto.UserData{User: session.User},
	})
}

// User writes a success envelope carrying a single user.
func User(w http.ResponseWriter, user *models.User) {
	Success(w, http.StatusOK, dto.UserData{User: user})
}

// Error writes an error envelope. 4xx statuses are "fail", the rest "error".
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, Envelope{Status: statusFor(status), Code: code, Message: message})
}

// FromError maps a coded error to its response. Server errors are logged
// and answered with a fixed message. A 401 carries the rejection reason.
func FromError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := auth.HTTPStatus(err)
	code := auth.ErrorCode(err)
	if code == "" {
		code = auth.CodeInternal
	}
	if status >= http.StatusInternalServerError {
		errutil.LogError(logger, "request failed", err)
		message, ok := serverMessages[code]
		if !ok {
			message = internalMessage
		}
		Error(w, status, code, message)
		return
	}
	env := Envelope{Status: statusFor(status), Code: code, Message: err.Error()}
	if status == http.StatusUnauthorized {
		env.Reason = auth.Reason(err)
	}
	JSON(w, status, env)
}

// InternalError writes the generic 500 response.
func InternalError(w http.ResponseWriter) {
	Error(w, http.StatusInternalServerError, auth.CodeInternal, internalMessage)
}

func statusFor(status int) string {
	if status >= 400 && status < 500 {
		return StatusFail
	}
	return StatusError
}
