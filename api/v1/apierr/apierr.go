package apierr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reacher-sentinel/store"
)

// Write maps store errors to HTTP statuses.
func Write(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidService):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"status":  status,
		"message": err.Error(),
	})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  http.StatusBadRequest,
		"message": msg,
	})
}
