package domain

import (
	"encoding/json"
	"time"
)

// Cart is the platform's cart as seen by the storefront.
type Cart struct {
	ID              string             `json:"id"`
	Version         int                `json:"version"`
	CustomerID      string             `json:"customerId,omitempty"`
	AnonymousID     string             `json:"anonymousId,omitempty"`
	Country         string             `json:"country,omitempty"`
	CartState       string             `json:"cartState"`
	LineItems       []LineItem         `json:"lineItems"`
	TotalPrice      Money              `json:"totalPrice"`
	TaxedPrice      *TaxedPrice        `json:"taxedPrice,omitempty"`
	DiscountCodes   []DiscountCodeInfo `json:"discountCodes"`
	DirectDiscounts []DirectDiscount   `json:"directDiscounts"`
	CreatedAt       time.Time          `json:"createdAt"`
	LastModifiedAt  time.Time          `json:"lastModifiedAt"`
}

// Empty reports whether the cart has no line items.
func (c *Cart) Empty() bool {
	return c == nil || len(c.LineItems) == 0
}

// LineItem returns the line with the given id.
func (c *Cart) LineItem(id string) (LineItem, bool) {
	if c == nil {
		return LineItem{}, false
	}
	for _, li := range c.LineItems {
		if li.ID == id {
			return li, true
		}
	}
	return LineItem{}, false
}

type LineItem struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"productId"`
	ProductKey string          `json:"productKey,omitempty"`
	Name       LocalizedString `json:"name,omitempty"`
	Variant    Variant         `json:"variant"`
	Price      Price           `json:"price"`
	Quantity   int             `json:"quantity"`
	TotalPrice Money           `json:"totalPrice"`
}

// DiscountCodeInfo references a discount code applied to a cart.
type DiscountCodeInfo struct {
	DiscountCode DiscountCodeReference `json:"discountCode"`
	State        string                `json:"state,omitempty"`
}

type DiscountCodeReference struct {
	TypeID string        `json:"typeId"`
	ID     string        `json:"id"`
	Obj    *DiscountCode `json:"obj,omitempty"`
}

type DirectDiscount struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value,omitempty"`
}

// CartDraft creates a cart. LineItems lets a merge create a populated cart in
// one call.
type CartDraft struct {
	Currency    string          `json:"currency"`
	Country     string          `json:"country,omitempty"`
	AnonymousID string          `json:"anonymousId,omitempty"`
	LineItems   []LineItemDraft `json:"lineItems,omitempty"`
}

type LineItemDraft struct {
	ProductID string `json:"productId"`
	VariantID int    `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// CartUpdateAction is one incremental cart update action.
type CartUpdateAction struct {
	Action       string                 `json:"action"`
	ProductID    string                 `json:"productId,omitempty"`
	VariantID    int                    `json:"variantId,omitempty"`
	LineItemID   string                 `json:"lineItemId,omitempty"`
	Quantity     int                    `json:"quantity,omitempty"`
	Code         string                 `json:"code,omitempty"`
	DiscountCode *DiscountCodeReference `json:"discountCode,omitempty"`
}

func AddLineItem(productID string, variantID, quantity int) CartUpdateAction {
	return CartUpdateAction{Action: "addLineItem", ProductID: productID, VariantID: variantID, Quantity: quantity}
}

func RemoveLineItem(lineItemID string) CartUpdateAction {
	return CartUpdateAction{Action: "removeLineItem", LineItemID: lineItemID}
}

func ChangeLineItemQuantity(lineItemID string, quantity int) CartUpdateAction {
	return CartUpdateAction{Action: "changeLineItemQuantity", LineItemID: lineItemID, Quantity: quantity}
}

func AddDiscountCode(code string) CartUpdateAction {
	return CartUpdateAction{Action: "addDiscountCode", Code: code}
}

func RemoveDiscountCode(discountCodeID string) CartUpdateAction {
	return CartUpdateAction{
		Action:       "removeDiscountCode",
		DiscountCode: &DiscountCodeReference{TypeID: "discount-code", ID: discountCodeID},
	}
}
