// Package cttest provides an in-memory commercetools project for tests. It
// enforces cart and customer versions, separates anonymous and customer views
// and issues tokens into the caller's TokenStore the way real clients do.
package cttest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
)

type customerRecord struct {
	customer domain.Customer
	password string
}

type discountRecord struct {
	code    domain.DiscountCode
	percent int64
}

// Platform is a fake commercetools project. The zero value is not usable; use New.
type Platform struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	carts     map[string]*domain.Cart
	customers map[string]*customerRecord
	discounts map[string]*discountRecord
	tokens    map[string]string
	revoked   []string
	calls     map[string]int
	failures  map[string]error
	seq       int
	now       func() time.Time

	// LastDiscountWhere records the where clause of the last discount query.
	LastDiscountWhere string
	// LastSearch records the parameters of the last product search.
	LastSearch domain.ProductSearch
}

var _ commercetools.Connector = (*Platform)(nil)

func New() *Platform {
	return &Platform{
		products:  map[string]domain.Product{},
		carts:     map[string]*domain.Cart{},
		customers: map[string]*customerRecord{},
		discounts: map[string]*discountRecord{},
		tokens:    map[string]string{},
		calls:     map[string]int{},
		failures:  map[string]error{},
		now:       time.Now,
	}
}

// NewProduct builds a product with a priced master variant (id 1) that has
// stock units available.
func NewProduct(id string, centAmount, stock int64) domain.Product {
	onStock := stock > 0
	return domain.Product{
		ID:      id,
		Version: 1,
		MasterData: domain.CatalogData{
			Published: true,
			Current: &domain.ProductData{
				Name: domain.LocalizedString{"en": "Product " + id},
				MasterVariant: domain.Variant{
					ID:           1,
					SKU:          id + "-1",
					Prices:       []domain.Price{{ID: "price-" + id, Value: domain.Money{Type: "centPrecision", CurrencyCode: "EUR", CentAmount: centAmount, FractionDigits: 2}}},
					Availability: &domain.Availability{IsOnStock: &onStock, AvailableQuantity: &stock},
				},
			},
		},
	}
}

func (p *Platform) AddProduct(product domain.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.products[product.ID] = product
}

// AddCustomer registers a customer directly, bypassing SignUp.
func (p *Platform) AddCustomer(email, password string) domain.Customer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCustomerLocked(domain.CustomerDraft{Email: email, Password: password})
}

// AddDiscountCode registers a code taking percent off the cart total.
func (p *Platform) AddDiscountCode(code domain.DiscountCode, percent int64) domain.DiscountCode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if code.ID == "" {
		code.ID = p.nextID("discount")
	}
	code.Version = 1
	p.discounts[code.ID] = &discountRecord{code: code, percent: percent}
	return code
}

// FailNext makes the next call to op return err.
func (p *Platform) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = err
}

// Calls reports how many times op was invoked.
func (p *Platform) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Platform) Cart(id string) (domain.Cart, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.carts[id]
	if !ok {
		return domain.Cart{}, false
	}
	return copyCart(c), true
}

// CustomerCarts returns the carts owned by customerID, oldest first.
func (p *Platform) CustomerCarts(customerID string) []domain.Cart {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Cart
	for _, c := range p.carts {
		if c.CustomerID == customerID {
			out = append(out, copyCart(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (p *Platform) Revoked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.revoked...)
}

// ExpireTokens invalidates every issued access token. Refresh tokens survive.
func (p *Platform) ExpireTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for tok := range p.tokens {
		if !strings.HasPrefix(tok, "refresh:") {
			delete(p.tokens, tok)
		}
	}
}

func (p *Platform) Anonymous(store commercetools.TokenStore) commercetools.API {
	return &view{p: p, store: store, mode: modeAnonymous}
}

func (p *Platform) Password(email, password string, store commercetools.TokenStore) commercetools.API {
	return &view{p: p, store: store, mode: modePassword, email: email, password: password}
}

func (p *Platform) Cached(store commercetools.TokenStore) commercetools.API {
	return &view{p: p, store: store, mode: modeCached}
}

func (p *Platform) Revoke(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Revoke"]++
	if err := p.takeFailure("Revoke"); err != nil {
		return err
	}
	p.revoked = append(p.revoked, token)
	delete(p.tokens, token)
	return nil
}

func (p *Platform) begin(op string) error {
	p.calls[op]++
	return p.takeFailure(op)
}

func (p *Platform) takeFailure(op string) error {
	if err, ok := p.failures[op]; ok {
		delete(p.failures, op)
		return err
	}
	return nil
}

func (p *Platform) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s-%d", prefix, p.seq)
}

func (p *Platform) addCustomerLocked(draft domain.CustomerDraft) domain.Customer {
	c := domain.Customer{
		ID:                 p.nextID("customer"),
		Version:            1,
		Email:              draft.Email,
		FirstName:          draft.FirstName,
		LastName:           draft.LastName,
		DateOfBirth:        draft.DateOfBirth,
		AuthenticationMode: "Password",
	}
	for _, a := range draft.Addresses {
		a.ID = p.nextID("address")
		c.Addresses = append(c.Addresses, a)
	}
	if i := draft.DefaultShippingAddress; i != nil && *i < len(c.Addresses) {
		c.DefaultShippingAddressID = c.Addresses[*i].ID
	}
	if i := draft.DefaultBillingAddress; i != nil && *i < len(c.Addresses) {
		c.DefaultBillingAddressID = c.Addresses[*i].ID
	}
	p.customers[c.ID] = &customerRecord{customer: c, password: draft.Password}
	return c
}

func (p *Platform) customerByEmail(email string) *customerRecord {
	for _, rec := range p.customers {
		if rec.customer.Email == email {
			return rec
		}
	}
	return nil
}

func (p *Platform) newCartLocked(draft domain.CartDraft, customerID string) (*domain.Cart, error) {
	now := p.now()
	c := &domain.Cart{
		ID:             p.nextID("cart"),
		Version:        1,
		CustomerID:     customerID,
		AnonymousID:    draft.AnonymousID,
		Country:        draft.Country,
		CartState:      "Active",
		LineItems:      []domain.LineItem{},
		TotalPrice:     domain.Money{Type: "centPrecision", CurrencyCode: draft.Currency, FractionDigits: 2},
		CreatedAt:      now,
		LastModifiedAt: now,
	}
	for _, li := range draft.LineItems {
		if err := p.addLineLocked(c, li.ProductID, li.VariantID, li.Quantity); err != nil {
			return nil, err
		}
	}
	p.recalcLocked(c)
	p.carts[c.ID] = c
	return c, nil
}

func (p *Platform) addLineLocked(c *domain.Cart, productID string, variantID, quantity int) error {
	product, ok := p.products[productID]
	if !ok || product.MasterData.Current == nil {
		return badRequest("ReferencedResourceNotFound", fmt.Sprintf("The product with ID '%s' was not found.", productID))
	}
	variant, ok := product.MasterData.Current.Variant(variantID)
	if !ok {
		return badRequest("InvalidOperation", fmt.Sprintf("Variant %d of product %s does not exist.", variantID, productID))
	}
	if quantity <= 0 {
		quantity = 1
	}
	for i := range c.LineItems {
		if c.LineItems[i].ProductID == productID && c.LineItems[i].Variant.ID == variant.ID {
			c.LineItems[i].Quantity += quantity
			return nil
		}
	}
	var price domain.Price
	if len(variant.Prices) > 0 {
		price = variant.Prices[0]
	}
	c.LineItems = append(c.LineItems, domain.LineItem{
		ID:        p.nextID("line"),
		ProductID: productID,
		Name:      product.MasterData.Current.Name,
		Variant:   variant,
		Price:     price,
		Quantity:  quantity,
	})
	return nil
}

func (p *Platform) recalcLocked(c *domain.Cart) {
	var total int64
	for i := range c.LineItems {
		li := &c.LineItems[i]
		li.TotalPrice = li.Price.Value
		li.TotalPrice.CentAmount = li.Price.Value.CentAmount * int64(li.Quantity)
		total += li.TotalPrice.CentAmount
		if c.TotalPrice.CurrencyCode == "" {
			c.TotalPrice.CurrencyCode = li.Price.Value.CurrencyCode
		}
	}
	c.TotalPrice.CentAmount = total
	c.TaxedPrice = nil

	var percent int64
	for _, info := range c.DiscountCodes {
		if d, ok := p.discounts[info.DiscountCode.ID]; ok {
			percent += d.percent
		}
	}
	if percent > 0 {
		net := c.TotalPrice
		net.CentAmount = total - total*percent/100
		gross := c.TotalPrice
		c.TaxedPrice = &domain.TaxedPrice{TotalNet: net, TotalGross: gross}
	}
}

func (p *Platform) updateCartLocked(c *domain.Cart, version int, actions []domain.CartUpdateAction) (domain.Cart, error) {
	if c.Version != version {
		return domain.Cart{}, conflict(c.ID, version, c.Version)
	}
	next := copyCart(c)
	for _, a := range actions {
		switch a.Action {
		case "addLineItem":
			if err := p.addLineLocked(&next, a.ProductID, a.VariantID, a.Quantity); err != nil {
				return domain.Cart{}, err
			}
		case "removeLineItem":
			idx := lineIndex(&next, a.LineItemID)
			if idx < 0 {
				return domain.Cart{}, badRequest("InvalidOperation", fmt.Sprintf("Line item '%s' not found.", a.LineItemID))
			}
			next.LineItems = append(next.LineItems[:idx], next.LineItems[idx+1:]...)
		case "changeLineItemQuantity":
			idx := lineIndex(&next, a.LineItemID)
			if idx < 0 {
				return domain.Cart{}, badRequest("InvalidOperation", fmt.Sprintf("Line item '%s' not found.", a.LineItemID))
			}
			if a.Quantity == 0 {
				next.LineItems = append(next.LineItems[:idx], next.LineItems[idx+1:]...)
			} else {
				next.LineItems[idx].Quantity = a.Quantity
			}
		case "addDiscountCode":
			d := p.activeDiscountByCode(a.Code)
			if d == nil {
				return domain.Cart{}, badRequest("DiscountCodeNonApplicable", fmt.Sprintf("The discount code '%s' was not found.", a.Code))
			}
			code := d.code
			next.DiscountCodes = append(next.DiscountCodes, domain.DiscountCodeInfo{
				DiscountCode: domain.DiscountCodeReference{TypeID: "discount-code", ID: code.ID, Obj: &code},
				State:        "MatchesCart",
			})
		case "removeDiscountCode":
			if a.DiscountCode == nil {
				return domain.Cart{}, badRequest("InvalidInput", "discountCode is required")
			}
			kept := next.DiscountCodes[:0]
			found := false
			for _, info := range next.DiscountCodes {
				if info.DiscountCode.ID == a.DiscountCode.ID {
					found = true
					continue
				}
				kept = append(kept, info)
			}
			if !found {
				return domain.Cart{}, badRequest("InvalidOperation", fmt.Sprintf("The cart does not contain discount code '%s'.", a.DiscountCode.ID))
			}
			next.DiscountCodes = kept
		default:
			return domain.Cart{}, badRequest("InvalidInput", fmt.Sprintf("Unknown action '%s'.", a.Action))
		}
	}
	p.recalcLocked(&next)
	next.Version++
	next.LastModifiedAt = p.now()
	*c = next
	return copyCart(c), nil
}

func (p *Platform) activeDiscountByCode(code string) *discountRecord {
	for _, d := range p.discounts {
		if d.code.Code == code && p.discountLive(d.code) {
			return d
		}
	}
	return nil
}

func (p *Platform) discountLive(code domain.DiscountCode) bool {
	return code.IsActive && (code.ValidUntil == nil || code.ValidUntil.After(p.now()))
}

func lineIndex(c *domain.Cart, id string) int {
	for i, li := range c.LineItems {
		if li.ID == id {
			return i
		}
	}
	return -1
}

func copyCart(c *domain.Cart) domain.Cart {
	out := *c
	out.LineItems = append([]domain.LineItem{}, c.LineItems...)
	out.DiscountCodes = append([]domain.DiscountCodeInfo(nil), c.DiscountCodes...)
	out.DirectDiscounts = append([]domain.DirectDiscount(nil), c.DirectDiscounts...)
	if c.TaxedPrice != nil {
		tp := *c.TaxedPrice
		out.TaxedPrice = &tp
	}
	return out
}

var (
	emailWhere       = regexp.MustCompile(`email\s*=\s*"((?:[^"\\]|\\.)*)"`)
	predicateUnquote = strings.NewReplacer(`\"`, `"`, `\\`, `\`)
)

func notFound(msg string) error {
	return &commercetools.StructuredError{
		StatusCode: http.StatusNotFound,
		Message:    msg,
		Errors:     []commercetools.ErrorObject{{Code: "ResourceNotFound", Message: msg}},
	}
}

func badRequest(code, msg string) error {
	return &commercetools.StructuredError{
		StatusCode: http.StatusBadRequest,
		Message:    msg,
		Errors:     []commercetools.ErrorObject{{Code: code, Message: msg}},
	}
}

func conflict(id string, expected, actual int) error {
	msg := fmt.Sprintf("Object %s has a different version than expected. Expected: %d - Actual: %d.", id, expected, actual)
	return &commercetools.StructuredError{
		StatusCode: http.StatusConflict,
		Message:    msg,
		Errors:     []commercetools.ErrorObject{{Code: "ConcurrentModification", Message: msg}},
	}
}

func unauthorized() error {
	return &commercetools.StructuredError{
		StatusCode: http.StatusUnauthorized,
		Message:    "invalid_token",
		Errors:     []commercetools.ErrorObject{{Code: "invalid_token", Message: "invalid_token"}},
	}
}
