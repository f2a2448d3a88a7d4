package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ingestdomain "github.com/usagelab/netpulse/internal/ingest/domain"
	usagedomain "github.com/usagelab/netpulse/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInternal        = errors.New("internal_error")
	ErrNotFound        = errors.New("not_found")
	ErrInvalidRequest  = errors.New("invalid_request")
	ErrTooManyRequests = errors.New("too_many_requests")
	ErrUploadBusy      = errors.New("upload_in_progress")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(err, code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, ErrUploadBusy):
		return http.StatusConflict, errorPayload{
			Type:    "upload_in_progress",
			Message: "another upload is being processed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidPage),
		errors.Is(err, usagedomain.ErrInvalidPerPage),
		errors.Is(err, usagedomain.ErrInvalidUsername),
		errors.Is(err, usagedomain.ErrNoData),
		errors.Is(err, ingestdomain.ErrMissingColumns),
		errors.Is(err, ingestdomain.ErrEmptyFile),
		errors.Is(err, ingestdomain.ErrNoValidRecords),
		errors.Is(err, ingestdomain.ErrInvalidRows):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, usagedomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, usagedomain.ErrInvalidPage):
		return "invalid_page"
	case errors.Is(err, usagedomain.ErrInvalidPerPage):
		return "invalid_per_page"
	case errors.Is(err, usagedomain.ErrInvalidUsername):
		return "invalid_username"
	case errors.Is(err, usagedomain.ErrNoData):
		return "no_data"
	case errors.Is(err, ingestdomain.ErrMissingColumns):
		return "missing_columns"
	case errors.Is(err, ingestdomain.ErrEmptyFile):
		return "empty_file"
	case errors.Is(err, ingestdomain.ErrNoValidRecords):
		return "no_valid_records"
	case errors.Is(err, ingestdomain.ErrInvalidRows):
		return "invalid_rows"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "missing_columns", "empty_file", "no_valid_records", "invalid_rows":
		return "file"
	case "no_data":
		return "reference_date"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(err error, code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "no_data":
		return "no data available, ingest a dataset first"
	case "missing_columns", "invalid_rows":
		// Keep the column list or row diagnostics wrapped by the ingest service.
		return err.Error()
	default:
		return "invalid value"
	}
}

// classifyErrorForLog labels request errors for the access log without
// leaking anything beyond the error type and code.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil || isValidationError(err) {
		return "validation_error", validationErrorCode(err)
	}
	if isNotFoundError(err) {
		return "not_found", "not_found"
	}
	if errors.Is(err, ErrTooManyRequests) {
		return "too_many_requests", "too_many_requests"
	}
	if errors.Is(err, ErrUploadBusy) {
		return "conflict", "upload_in_progress"
	}
	return "internal_error", "internal_error"
}
