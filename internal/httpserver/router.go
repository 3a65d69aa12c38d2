package httpserver

import (
	"errors"
	"log"
	"time"

	"commercetools-storefront/internal/storefront"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Deps holds what the router needs to serve storefront requests.
type Deps struct {
	Registry    *storefront.Registry
	Sessions    *SessionCodec
	Store       pinger
	CORSOrigins []string
}

// buildRouter wires routes for the API.
func buildRouter(logger *log.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Registry == nil || deps.Sessions == nil {
		return nil, errors.New("httpserver: registry and session codec are required")
	}

	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery())
	if len(deps.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     deps.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Store))

	api := router.Group("/api", sessionMiddleware(deps.Sessions, deps.Registry))

	api.GET("/session", sessionStatusHandler)
	api.POST("/session/login", loginHandler)
	api.POST("/session/logout", logoutHandler)
	api.POST("/session/register", registerHandler)
	api.POST("/session/resume", resumeHandler)

	api.GET("/customers/lookup", lookupCustomerHandler)
	api.GET("/me", meHandler)
	api.POST("/me", updateMeHandler)
	api.POST("/me/password", changePasswordHandler)

	api.GET("/cart", getCartHandler)
	api.POST("/cart", createCartHandler)
	api.DELETE("/cart", clearCartHandler)
	api.GET("/cart/empty", cartEmptyHandler)
	api.GET("/cart/events", eventsHandler(deps.Registry))
	api.POST("/cart/line-items", addLineItemHandler)
	api.PATCH("/cart/line-items/:id", changeLineItemHandler)
	api.DELETE("/cart/line-items/:id", removeLineItemHandler)

	api.GET("/products", productSearchHandler)
	api.GET("/products/:id", productHandler)
	api.GET("/products/:id/availability", availabilityHandler)

	api.GET("/discounts", activeDiscountsHandler)
	api.GET("/cart/discounts", cartDiscountsHandler)
	api.POST("/cart/discounts", applyDiscountHandler)
	api.DELETE("/cart/discounts/:id", removeDiscountHandler)

	return router, nil
}
