package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/branch-reservation/internal/service"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeValidation         = "validation_failed"
	codeNotFound           = "not_found"
	codeSlotTaken          = "slot_taken"
	codeConcurrentBooking  = "concurrent_booking"
	codeInvalidTransition  = "invalid_transition"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeUnavailable        = "unavailable"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}

// errorMapper maps service errors to responses.  Anything unrecognised is
// logged and reported as 500 without detail.
type errorMapper struct {
	log *zap.Logger
}

func (m errorMapper) handleError(c echo.Context, err error) error {
	var ve *service.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: ve.Error(), Code: codeValidation, Field: ve.Field})
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, http.StatusNotFound, codeNotFound, "reservation not found")
	case errors.Is(err, service.ErrSlotConflict):
		return writeError(c, http.StatusConflict, codeSlotTaken, "this slot is already reserved")
	case errors.Is(err, service.ErrConcurrency):
		c.Response().Header().Set("Retry-After", "1")
		return writeError(c, http.StatusConflict, codeConcurrentBooking, "too many simultaneous bookings, please retry")
	case errors.Is(err, service.ErrInvalidTransition):
		return writeError(c, http.StatusConflict, codeInvalidTransition, err.Error())
	}
	m.log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Request().URL.Path),
		zap.Error(err))
	return writeError(c, http.StatusInternalServerError, codeInternalError, "internal error")
}
