package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type applyDiscountRequest struct {
	Code string `json:"code"`
}

func activeDiscountsHandler(c *gin.Context) {
	codes := storefrontFrom(c).Discounts.ActiveCodes(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"results": codes})
}

func cartDiscountsHandler(c *gin.Context) {
	res := storefrontFrom(c).Discounts.CartDiscounts(c.Request.Context())
	c.JSON(statusFor(res.Success, res.Message), res)
}

func applyDiscountHandler(c *gin.Context) {
	var req applyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res := storefrontFrom(c).Discounts.Apply(c.Request.Context(), req.Code)
	c.JSON(statusFor(res.Success, res.Message), res)
}

func removeDiscountHandler(c *gin.Context) {
	res := storefrontFrom(c).Discounts.Remove(c.Request.Context(), c.Param("id"))
	c.JSON(statusFor(res.Success, res.Message), res)
}
