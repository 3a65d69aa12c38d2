package discount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
	cartsvc "commercetools-storefront/internal/service/cart"
)

const msgCartNotFound = "Cart not found"

type carts interface {
	Get(ctx context.Context) cartsvc.Result
	Apply(ctx context.Context, actions ...domain.CartUpdateAction) (domain.Cart, error)
}

type clients interface {
	Anonymous() commercetools.API
}

// Service applies discount codes to the current cart. Amounts always come
// from the cart the platform returns.
type Service struct {
	carts   carts
	clients clients
	logger  *log.Logger
	now     func() time.Time
}

func New(carts carts, clients clients, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{carts: carts, clients: clients, logger: logger, now: time.Now}
}

// Apply adds a discount code to the current cart.
func (s *Service) Apply(ctx context.Context, code string) cartsvc.Result {
	code = strings.TrimSpace(code)
	if code == "" {
		return cartsvc.Result{Success: false, Message: "Discount code is required"}
	}
	return s.update(ctx, "Discount code applied", domain.AddDiscountCode(code))
}

// Remove detaches a discount code from the current cart.
func (s *Service) Remove(ctx context.Context, discountCodeID string) cartsvc.Result {
	discountCodeID = strings.TrimSpace(discountCodeID)
	if discountCodeID == "" {
		return cartsvc.Result{Success: false, Message: "Discount code id is required"}
	}
	return s.update(ctx, "Discount code removed", domain.RemoveDiscountCode(discountCodeID))
}

func (s *Service) update(ctx context.Context, okMessage string, action domain.CartUpdateAction) cartsvc.Result {
	c, err := s.carts.Apply(ctx, action)
	if errors.Is(err, cartsvc.ErrNoActiveCart) {
		return cartsvc.Result{Success: false, Message: msgCartNotFound}
	}
	if err != nil {
		s.logger.Printf("discount %s: %v", action.Action, err)
		return cartsvc.Result{Success: false, Message: commercetools.Message(err)}
	}
	return cartsvc.Result{Cart: &c, Success: true, Message: okMessage}
}

// ActiveCode is a promotable discount code.
type ActiveCode struct {
	Code        string     `json:"code"`
	Name        string     `json:"name,omitempty"`
	Description string     `json:"description,omitempty"`
	ValidUntil  *time.Time `json:"validUntil,omitempty"`
}

// ActiveCodes lists codes that are active and not expired. Errors yield an
// empty list.
func (s *Service) ActiveCodes(ctx context.Context) []ActiveCode {
	where := fmt.Sprintf(`isActive = true and (validUntil > "%s" or validUntil is not defined)`,
		s.now().UTC().Format("2006-01-02T15:04:05.000Z"))

	page, err := s.clients.Anonymous().QueryDiscountCodes(ctx, where, 0)
	if err != nil {
		s.logger.Printf("query discount codes: %v", err)
		return []ActiveCode{}
	}
	out := make([]ActiveCode, 0, len(page.Results))
	for _, dc := range page.Results {
		out = append(out, ActiveCode{
			Code:        dc.Code,
			Name:        dc.Name.Get("en"),
			Description: dc.Description.Get("en"),
			ValidUntil:  dc.ValidUntil,
		})
	}
	return out
}

type DirectDiscount struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value,omitempty"`
}

type CodeDiscount struct {
	Code        string `json:"code"`
	ID          string `json:"id"`
	State       string `json:"state,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// TotalDiscount is the cart total minus its taxed net total.
type TotalDiscount struct {
	DiscountedAmount int64  `json:"discountedAmount"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
}

type CartDiscounts struct {
	DirectDiscounts []DirectDiscount `json:"directDiscounts"`
	CodeDiscounts   []CodeDiscount   `json:"codeDiscounts"`
	TotalDiscount   TotalDiscount    `json:"totalDiscount"`
	CartVersion     int              `json:"cartVersion"`
}

type CartDiscountsResult struct {
	Discounts *CartDiscounts `json:"discounts,omitempty"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
}

// CartDiscounts summarizes the discounts on the current cart.
func (s *Service) CartDiscounts(ctx context.Context) CartDiscountsResult {
	res := s.carts.Get(ctx)
	if res.Cart == nil {
		if res.Message != "" && res.Message != cartsvc.MsgNoActiveCart {
			return CartDiscountsResult{Success: false, Message: res.Message}
		}
		return CartDiscountsResult{Success: false, Message: msgCartNotFound}
	}
	summary := Summarize(*res.Cart)
	return CartDiscountsResult{Discounts: &summary, Success: true, Message: "Cart discounts retrieved"}
}

// Summarize formats a cart's discounts from the platform's numbers only.
func Summarize(c domain.Cart) CartDiscounts {
	out := CartDiscounts{
		DirectDiscounts: make([]DirectDiscount, 0, len(c.DirectDiscounts)),
		CodeDiscounts:   make([]CodeDiscount, 0, len(c.DiscountCodes)),
		CartVersion:     c.Version,
	}
	for _, d := range c.DirectDiscounts {
		out.DirectDiscounts = append(out.DirectDiscounts, DirectDiscount{ID: d.ID, Value: d.Value})
	}
	for _, info := range c.DiscountCodes {
		cd := CodeDiscount{Code: "Unknown", ID: info.DiscountCode.ID, State: info.State, Name: "Discount"}
		if obj := info.DiscountCode.Obj; obj != nil {
			if obj.Code != "" {
				cd.Code = obj.Code
			}
			if name := obj.Name.Get("en"); name != "" {
				cd.Name = name
			}
			cd.Description = obj.Description.Get("en")
		}
		out.CodeDiscounts = append(out.CodeDiscounts, cd)
	}

	net := c.TotalPrice.CentAmount
	if c.TaxedPrice != nil {
		net = c.TaxedPrice.TotalNet.CentAmount
	}
	diff := c.TotalPrice
	diff.CentAmount = c.TotalPrice.CentAmount - net
	out.TotalDiscount = TotalDiscount{
		DiscountedAmount: diff.CentAmount,
		Amount:           diff.Decimal().StringFixed(int32(diff.FractionDigits)),
		Currency:         c.TotalPrice.CurrencyCode,
	}
	return out
}
