package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/readiness"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// classify maps service errors onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	var (
		startErr  *domain.AttemptStartError
		submitErr *domain.SubmissionError
	)
	switch {
	case errors.As(err, &startErr):
		return http.StatusServiceUnavailable, "attempt_start_failed"
	case errors.As(err, &submitErr):
		return http.StatusBadGateway, "submission_failed"
	case errors.Is(err, domain.ErrCatalogUnavailable):
		return http.StatusNotFound, "quiz_unavailable"
	case errors.Is(err, domain.ErrQuizNotFound):
		return http.StatusNotFound, "quiz_not_found"
	case errors.Is(err, domain.ErrAttemptNotFound):
		return http.StatusNotFound, "attempt_not_found"
	case errors.Is(err, readiness.ErrMetricsNotFound):
		return http.StatusNotFound, "profile_not_found"
	case errors.Is(err, domain.ErrAttemptNotOwned):
		return http.StatusForbidden, "attempt_not_owned"
	case errors.Is(err, domain.ErrAttemptHeldElsewhere):
		return http.StatusConflict, "attempt_held_elsewhere"
	case errors.Is(err, domain.ErrAttemptNotActive):
		return http.StatusConflict, "attempt_not_active"
	case errors.Is(err, domain.ErrQuestionNotFound):
		return http.StatusUnprocessableEntity, "question_not_found"
	case errors.Is(err, domain.ErrOptionNotFound):
		return http.StatusUnprocessableEntity, "option_not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func errorBody(err error) (int, ErrorResponse) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return status, ErrorResponse{Message: message, Code: code, Retryable: domain.IsRetryable(err)}
}

func writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Message: message, Code: "bad_request"})
}
