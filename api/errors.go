package api

import (
	"errors"
	"net/http"

	"github.com/Domenick1991/aimtravel/internal/domain"
	"github.com/gin-gonic/gin"
)

// Error codes carried in the "error" field of failed responses.
const (
	CodeValidation   = "validation_error"
	CodeInvalidAmt   = "invalid_amount"
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeFinalization = "finalization_error"
	CodeProvider     = "provider_error"
	CodeInternal     = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func statusFor(err error) (int, string) {
	var (
		validation   *domain.ValidationError
		finalization *domain.FinalizationError
		provider     *domain.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest, CodeInvalidAmt
	case errors.As(err, &finalization):
		return http.StatusUnprocessableEntity, CodeFinalization
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionUnknown):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrTicketNotPayable),
		errors.Is(err, domain.ErrPaymentNotSettled),
		errors.Is(err, domain.ErrFinalizeInProgress):
		return http.StatusConflict, CodeConflict
	case errors.As(err, &provider), errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusBadGateway, CodeProvider
	}
	return http.StatusInternalServerError, CodeInternal
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	body := errorResponse{Error: code, Message: err.Error()}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		body.Field = validation.Field
		body.Message = validation.Message
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, field, message string) {
	respondError(c, domain.NewValidationError(field, message))
}
