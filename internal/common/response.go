package common

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// APIResponse standard API response structure
type APIResponse struct {
	Data  interface{} `json:"data"`
	Meta  *Meta       `json:"meta,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
}

// Meta list metadata
type Meta struct {
	PeerID string `json:"peer_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Count  int    `json:"count"`
}

// ErrorInfo error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse returns a successful JSON response
func SuccessResponse(c *gin.Context, data interface{}, meta *Meta) {
	c.JSON(http.StatusOK, APIResponse{
		Data: data,
		Meta: meta,
	})
}

// ErrorResponse returns an error JSON response
func ErrorResponse(c *gin.Context, status int, message string, err error) {
	errInfo := &ErrorInfo{
		Code:    getErrorCode(status),
		Message: message,
	}
	if err != nil && status < 500 {
		errInfo.Details = err.Error()
	}

	c.JSON(status, gin.H{
		"error": errInfo,
	})
}

// HandleServiceError maps messaging errors onto HTTP statuses
func HandleServiceError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		ErrorResponse(c, http.StatusBadRequest, verr.Error(), nil)
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrNotFound):
		ErrorResponse(c, http.StatusNotFound, "message not found", err)
	case errors.Is(err, ErrForbidden):
		ErrorResponse(c, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, ErrUnauthorized):
		ErrorResponse(c, http.StatusUnauthorized, "unauthorized", err)
	case errors.Is(err, ErrSendFailed):
		ErrorResponse(c, http.StatusBadGateway, "message could not be delivered to the store", err)
	default:
		ErrorResponse(c, http.StatusInternalServerError, "internal error", err)
	}
}

// BindErrorResponse reports request binding failures field by field
func BindErrorResponse(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+":"+fe.Tag())
		}
		ErrorResponse(c, http.StatusBadRequest, "invalid request", errors.New(strings.Join(fields, ",")))
		return
	}
	ErrorResponse(c, http.StatusBadRequest, "invalid request", err)
}

// getErrorCode generates error code from HTTP status
func getErrorCode(status int) string {
	switch status {
	case 400:
		return "BAD_REQUEST"
	case 401:
		return "UNAUTHORIZED"
	case 403:
		return "FORBIDDEN"
	case 404:
		return "NOT_FOUND"
	case 409:
		return "CONFLICT"
	case 500:
		return "INTERNAL_SERVER_ERROR"
	case 502:
		return "SEND_FAILED"
	default:
		return "ERROR"
	}
}
