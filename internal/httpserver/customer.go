package httpserver

import (
	"net/http"

	"commercetools-storefront/internal/domain"
	customersvc "commercetools-storefront/internal/service/customer"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signupRequest struct {
	Email                  string           `json:"email"`
	Password               string           `json:"password"`
	FirstName              string           `json:"firstName"`
	LastName               string           `json:"lastName"`
	DateOfBirth            string           `json:"dateOfBirth"`
	Addresses              []domain.Address `json:"addresses"`
	DefaultShippingAddress *int             `json:"defaultShippingAddress"`
	DefaultBillingAddress  *int             `json:"defaultBillingAddress"`
	ShippingAddresses      []int            `json:"shippingAddresses"`
	BillingAddresses       []int            `json:"billingAddresses"`
}

func (r signupRequest) draft() domain.CustomerDraft {
	return domain.CustomerDraft{
		Email:                  r.Email,
		Password:               r.Password,
		FirstName:              r.FirstName,
		LastName:               r.LastName,
		DateOfBirth:            r.DateOfBirth,
		Addresses:              r.Addresses,
		DefaultShippingAddress: r.DefaultShippingAddress,
		DefaultBillingAddress:  r.DefaultBillingAddress,
		ShippingAddresses:      r.ShippingAddresses,
		BillingAddresses:       r.BillingAddresses,
	}
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func sessionStatusHandler(c *gin.Context) {
	sf := storefrontFrom(c)
	c.JSON(http.StatusOK, gin.H{"loggedIn": sf.Session.Loginned(c.Request.Context())})
}

func loginHandler(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "email and password are required")
		return
	}
	res := storefrontFrom(c).Session.Login(c.Request.Context(), req.Email, req.Password)
	status := http.StatusOK
	if !res.Signed {
		status = http.StatusUnauthorized
	}
	c.JSON(status, res)
}

func logoutHandler(c *gin.Context) {
	storefrontFrom(c).Session.Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func registerHandler(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res := storefrontFrom(c).Session.Register(c.Request.Context(), req.draft())
	status := http.StatusCreated
	if !res.Registered {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

func resumeHandler(c *gin.Context) {
	ok := storefrontFrom(c).Session.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"loggedIn": ok})
}

func lookupCustomerHandler(c *gin.Context) {
	res := storefrontFrom(c).Customers.Lookup(c.Request.Context(), c.Query("email"))
	status := http.StatusOK
	switch res.Message {
	case "Email is required":
		status = http.StatusBadRequest
	case "Server connection failure":
		status = http.StatusBadGateway
	}
	c.JSON(status, res)
}

func meHandler(c *gin.Context) {
	res := storefrontFrom(c).Customers.Current(c.Request.Context())
	c.JSON(statusFor(res.Success, res.Message), res)
}

func updateMeHandler(c *gin.Context) {
	var req customersvc.UpdateData
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	res := storefrontFrom(c).Customers.Update(c.Request.Context(), req)
	c.JSON(statusFor(res.Success, res.Message), res)
}

// changePasswordHandler ends the session after a successful change; the
// platform no longer honours the old customer token.
func changePasswordHandler(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "currentPassword and newPassword are required")
		return
	}
	sf := storefrontFrom(c)
	ctx := c.Request.Context()
	res := sf.Customers.ChangePassword(ctx, req.CurrentPassword, req.NewPassword)
	if res.Success {
		sf.Session.Logout(ctx)
	}
	c.JSON(statusFor(res.Success, res.Message), res)
}
