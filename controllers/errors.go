package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"booth-pos/middlewares"
	"booth-pos/services"
)

const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeDayCapacity       = "DAY_CAPACITY"
	CodeInternal          = "INTERNAL_ERROR"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}

// respondServiceError maps service errors onto status codes. Anything
// unrecognised is logged and hidden behind a 500.
func respondServiceError(c *gin.Context, log logrus.FieldLogger, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		respondError(c, http.StatusBadRequest, CodeValidation, verr.Message)
	case errors.Is(err, services.ErrOrderNotFound):
		respondError(c, http.StatusNotFound, CodeNotFound, "order not found")
	case errors.Is(err, services.ErrInvalidTransition):
		respondError(c, http.StatusConflict, CodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrDayCapacityExceeded):
		respondError(c, http.StatusServiceUnavailable, CodeDayCapacity, "daily order capacity reached")
	default:
		log.WithError(err).WithField("request_id", middlewares.RequestIDFrom(c)).Error("request failed")
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
