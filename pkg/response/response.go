package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "github.com/taskora/taskora-api/pkg/errors"
)

// ErrorBody is the uniform error shape returned by every endpoint.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details []appErrors.FieldError `json:"details,omitempty"`
}

// JSON sends a success response.
func JSON(c *gin.Context, status int, data interface{}) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(status, data)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data)
}

// Error translates any error into the uniform error body. This is the final
// collapsing step: internal detail stays in logs, the wire sees only the
// taxonomy code and message.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(appErr.Status, ErrorBody{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}
