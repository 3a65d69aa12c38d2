package httpserver

import (
	"net/http"
	"strconv"

	"commercetools-storefront/internal/domain"
	"github.com/gin-gonic/gin"
)

type addLineItemRequest struct {
	ProductID string `json:"productId" binding:"required"`
	Quantity  int    `json:"quantity"`
	VariantID int    `json:"variantId"`
}

type productSearchRequest struct {
	Text          string   `form:"text"`
	Locale        string   `form:"locale"`
	Fuzzy         *bool    `form:"fuzzy"`
	Limit         int      `form:"limit"`
	Offset        int      `form:"offset"`
	Staged        bool     `form:"staged"`
	Sort          []string `form:"sort"`
	Filter        []string `form:"filter"`
	FilterQuery   []string `form:"filter.query"`
	FilterFacets  []string `form:"filter.facets"`
	Facet         []string `form:"facet"`
	PriceCurrency string   `form:"priceCurrency"`
	PriceCountry  string   `form:"priceCountry"`
}

type changeQuantityRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func getCartHandler(c *gin.Context) {
	res := storefrontFrom(c).Carts.Get(c.Request.Context())
	c.JSON(statusFor(res.Success, res.Message), res)
}

func createCartHandler(c *gin.Context) {
	res := storefrontFrom(c).Carts.Create(c.Request.Context())
	status := http.StatusCreated
	if !res.Success {
		status = statusFor(false, res.Message)
	}
	c.JSON(status, res)
}

func clearCartHandler(c *gin.Context) {
	res := storefrontFrom(c).Carts.Clear(c.Request.Context())
	c.JSON(statusFor(res.Success, res.Message), res)
}

func cartEmptyHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"empty": storefrontFrom(c).Carts.IsEmpty(c.Request.Context())})
}

func addLineItemHandler(c *gin.Context) {
	var req addLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "productId is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	res := storefrontFrom(c).Carts.AddItem(c.Request.Context(), req.ProductID, req.Quantity, req.VariantID)
	c.JSON(statusFor(res.Success, res.Message), res)
}

func changeLineItemHandler(c *gin.Context) {
	var req changeQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity is required")
		return
	}
	res := storefrontFrom(c).Carts.ChangeItemQuantity(c.Request.Context(), c.Param("id"), *req.Quantity)
	c.JSON(statusFor(res.Success, res.Message), res)
}

func removeLineItemHandler(c *gin.Context) {
	res := storefrontFrom(c).Carts.RemoveItem(c.Request.Context(), c.Param("id"))
	c.JSON(statusFor(res.Success, res.Message), res)
}

func productSearchHandler(c *gin.Context) {
	var req productSearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "invalid search parameters")
		return
	}
	res, err := storefrontFrom(c).Products.Search(c.Request.Context(), domain.ProductSearch{
		Text:                 req.Text,
		Locale:               req.Locale,
		Fuzzy:                req.Fuzzy == nil || *req.Fuzzy,
		Limit:                req.Limit,
		Offset:               req.Offset,
		Staged:               req.Staged,
		MarkMatchingVariants: len(req.Filter) > 0 || len(req.FilterQuery) > 0,
		Sort:                 req.Sort,
		Filter:               req.Filter,
		FilterQuery:          req.FilterQuery,
		FilterFacets:         req.FilterFacets,
		Facet:                req.Facet,
		PriceCurrency:        req.PriceCurrency,
		PriceCountry:         req.PriceCountry,
	})
	if err != nil {
		writePlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func productHandler(c *gin.Context) {
	p, err := storefrontFrom(c).Products.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writePlatformError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func availabilityHandler(c *gin.Context) {
	quantity, err := queryInt(c, "quantity", 1)
	if err != nil {
		badRequest(c, "quantity must be a number")
		return
	}
	variantID, err := queryInt(c, "variantId", 0)
	if err != nil {
		badRequest(c, "variantId must be a number")
		return
	}
	res := storefrontFrom(c).Carts.CheckItem(c.Request.Context(), c.Param("id"), quantity, variantID)
	c.JSON(http.StatusOK, res)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
