package utils

import "github.com/gin-gonic/gin"

// ErrorResponse is the JSON error envelope used by every endpoint.
type ErrorResponse struct {
	Error      string         `json:"error"`
	Message    string         `json:"message"`
	StatusCode int            `json:"status_code"`
	Details    map[string]any `json:"details,omitempty"`
}

// AbortWithError writes the envelope and stops the handler chain.
// kind is a stable machine-readable code such as validation_error.
func AbortWithError(c *gin.Context, status int, kind, message string, details map[string]any) {
	if len(details) == 0 {
		details = nil
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:      kind,
		Message:    message,
		StatusCode: status,
		Details:    details,
	})
}
