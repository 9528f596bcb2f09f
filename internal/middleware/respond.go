package middleware

import (
	"Garame/internal/errs"

	"github.com/gin-gonic/gin"
)

// RespondError writes err with the status of its kind.
func RespondError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error(), "kind": errs.Kind(err)})
}
