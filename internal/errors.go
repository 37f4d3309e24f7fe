package formrelay

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"go.uber.org/zap"
)

const (
	CodeEmailLimitExceeded = "EMAIL_LIMIT_EXCEEDED"
	CodeInvalidFileType    = "INVALID_FILE_TYPE"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
)

// ValidationError rejects an upload before any side effect.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// SizeLimitError reports an upload or body above the configured cap.
type SizeLimitError struct {
	Limit int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("File too large. Maximum size is %s.", humanBytes(e.Limit))
}

// RateLimitError is returned when the Ledger refuses a submission.
type RateLimitError struct {
	Limit           int
	Noun            string // "applications" or "messages"
	HoursUntilReset int
}

func (e *RateLimitError) Error() string {
	reset := " You can submit again after 24 hours."
	if e.HoursUntilReset > 0 {
		reset = fmt.Sprintf(" You can submit again in %d hours.", e.HoursUntilReset)
	}
	return fmt.Sprintf("You have reached the maximum limit of %d %s per email address.%s", e.Limit, e.Noun, reset)
}

// DeliveryError wraps a transport, auth or provider failure. Its message is the
// provider's, unchanged.
type DeliveryError struct {
	Sender SenderName
	Err    error
}

func (e *DeliveryError) Error() string { return e.Err.Error() }
func (e *DeliveryError) Unwrap() error { return e.Err }

// RequestError marks a body that could not be parsed.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "invalid request body: " + e.Err.Error() }
func (e *RequestError) Unwrap() error { return e.Err }

type errorResponse struct {
	Message         string `json:"message"`
	Error           string `json:"error"`
	HoursUntilReset *int   `json:"hoursUntilReset,omitempty"`
}

// writeError maps err onto the response family shared by both form handlers.
// failMessage is the generic message used for delivery failures.
func writeError(w http.ResponseWriter, r *http.Request, err error, failMessage string) {
	var (
		verr  *ValidationError
		serr  *SizeLimitError
		rerr  *RateLimitError
		derr  *DeliveryError
		reqer *RequestError
	)

	status := http.StatusInternalServerError
	resp := errorResponse{Message: failMessage, Error: err.Error()}

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = errorResponse{Message: verr.Message, Error: verr.Code}
	case errors.As(err, &serr):
		status = http.StatusRequestEntityTooLarge
		resp = errorResponse{Message: serr.Error(), Error: CodeFileTooLarge}
	case errors.As(err, &rerr):
		status = http.StatusTooManyRequests
		hours := rerr.HoursUntilReset
		resp = errorResponse{Message: rerr.Error(), Error: CodeEmailLimitExceeded, HoursUntilReset: &hours}
	case errors.As(err, &reqer):
		status = http.StatusBadRequest
		resp = errorResponse{Message: "Invalid request body", Error: CodeInvalidRequest}
	case errors.As(err, &derr):
		resp = errorResponse{Message: failMessage, Error: derr.Error()}
	}

	logger := LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("submission failed", zap.Int("status", status), zap.Error(err))
	} else {
		logger.Info("submission rejected", zap.Int("status", status), zap.String("reason", resp.Error), zap.Error(err))
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func humanBytes(n int64) string {
	const mib = 1 << 20
	if n >= mib && n%mib == 0 {
		return fmt.Sprintf("%dMB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
