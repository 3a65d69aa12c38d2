package httpserver

import (
	"errors"
	"net/http"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
	cartsvc "commercetools-storefront/internal/service/cart"
	"github.com/gin-gonic/gin"
)

// statusFor maps an operation envelope onto an HTTP status. The envelope is
// always written as the body.
func statusFor(success bool, message string) int {
	if success {
		return http.StatusOK
	}
	switch message {
	case "User not authenticated":
		return http.StatusUnauthorized
	case cartsvc.MsgNoActiveCart, "Cart not found", "Line item not found in cart":
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

func writePlatformError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusUnauthorized
	}
	c.JSON(status, gin.H{
		"success": false,
		"message": commercetools.Message(err),
		"errors":  commercetools.NormalizeErrors(err),
	})
}
