package cttest

import (
	"context"
	"sort"
	"strings"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
)

const tokenLifetime = time.Hour

type mode int

const (
	modeAnonymous mode = iota
	modePassword
	modeCached
)

// view is one client handle onto the platform, bound to a token slot.
type view struct {
	p        *Platform
	store    commercetools.TokenStore
	mode     mode
	email    string
	password string
	granted  bool
}

var _ commercetools.API = (*view)(nil)

// authenticate returns the customer id the view's token belongs to, or ""
// for an anonymous token, issuing or refreshing tokens into the store.
func (v *view) authenticate(ctx context.Context) (string, error) {
	now := v.p.now()
	if rec, ok := v.store.Get(ctx); ok {
		if !rec.Expired(now) {
			v.p.mu.Lock()
			owner, known := v.p.tokens[rec.Token]
			v.p.mu.Unlock()
			if known {
				return owner, nil
			}
			v.store.Clear(ctx)
			if v.mode == modeCached {
				return "", unauthorized()
			}
		} else if rec.RefreshToken != "" {
			v.p.mu.Lock()
			owner, known := v.p.refreshOwner(rec.RefreshToken)
			var fresh domain.TokenRecord
			if known {
				fresh = v.p.issueLocked(owner, rec.RefreshToken)
			}
			v.p.mu.Unlock()
			if known {
				v.store.Set(ctx, fresh)
				return owner, nil
			}
			v.store.Clear(ctx)
		} else {
			v.store.Clear(ctx)
		}
	}

	switch v.mode {
	case modeAnonymous:
		v.p.mu.Lock()
		rec := v.p.issueLocked("", "")
		v.p.mu.Unlock()
		v.store.Set(ctx, rec)
		return "", nil
	case modePassword:
		v.p.mu.Lock()
		if v.granted {
			v.p.mu.Unlock()
			return "", commercetools.ErrNoCachedToken
		}
		v.p.calls["PasswordGrant"]++
		cust := v.p.customerByEmail(v.email)
		var rec domain.TokenRecord
		if cust != nil && cust.password == v.password {
			rec = v.p.issueLocked(cust.customer.ID, v.p.nextID("refresh"))
			v.granted = true
		}
		v.p.mu.Unlock()
		if rec.Empty() {
			v.store.Clear(ctx)
			return "", badRequest("invalid_customer_account_credentials", "Customer account with the given credentials not found.")
		}
		v.store.Set(ctx, rec)
		return cust.customer.ID, nil
	default:
		return "", commercetools.ErrNoCachedToken
	}
}

func (p *Platform) issueLocked(owner, refresh string) domain.TokenRecord {
	tok := p.nextID("token")
	p.tokens[tok] = owner
	if refresh != "" {
		p.tokens["refresh:"+refresh] = owner
	}
	return domain.TokenRecord{
		Token:          tok,
		ExpirationTime: p.now().Add(tokenLifetime).UnixMilli(),
		RefreshToken:   refresh,
	}
}

func (p *Platform) refreshOwner(refresh string) (string, bool) {
	owner, ok := p.tokens["refresh:"+refresh]
	return owner, ok
}

func (v *view) customer(ctx context.Context) (string, error) {
	owner, err := v.authenticate(ctx)
	if err != nil {
		return "", err
	}
	if owner == "" {
		return "", badRequest("insufficient_scope", "This endpoint requires a customer token.")
	}
	return owner, nil
}

func (v *view) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.Product{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("GetProduct"); err != nil {
		return domain.Product{}, err
	}
	product, ok := v.p.products[id]
	if !ok {
		return domain.Product{}, notFound("The Resource with ID '" + id + "' was not found.")
	}
	return product, nil
}

// SearchProducts matches Text against product names in any locale. A
// trailing "*" is a prefix marker and ignored; filters and facets are
// recorded in LastSearch but not evaluated.
func (v *view) SearchProducts(ctx context.Context, q domain.ProductSearch) (domain.ProductSearchResponse, error) {
	var out domain.ProductSearchResponse
	if _, err := v.authenticate(ctx); err != nil {
		return out, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("SearchProducts"); err != nil {
		return out, err
	}
	v.p.LastSearch = q

	text := strings.ToLower(strings.TrimSuffix(q.Text, "*"))
	matches := []domain.ProductProjection{}
	for _, product := range v.p.products {
		data := product.MasterData.Current
		if q.Staged && product.MasterData.Staged != nil {
			data = product.MasterData.Staged
		}
		if data == nil || (!q.Staged && !product.MasterData.Published) {
			continue
		}
		if text != "" && !nameContains(data.Name, text) {
			continue
		}
		matches = append(matches, domain.ProductProjection{
			ID:            product.ID,
			Version:       product.Version,
			Key:           product.Key,
			Name:          data.Name,
			Description:   data.Description,
			Slug:          data.Slug,
			MasterVariant: data.MasterVariant,
			Variants:      data.Variants,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	out.Total = len(matches)
	out.Offset = q.Offset
	out.Limit = q.Limit
	if off := max(q.Offset, 0); off < len(matches) {
		matches = matches[off:]
	} else {
		matches = matches[:0]
	}
	if q.Limit > 0 && len(matches) > q.Limit {
		matches = matches[:q.Limit]
	}
	out.Results = matches
	out.Count = len(matches)
	return out, nil
}

func nameContains(name domain.LocalizedString, text string) bool {
	for _, v := range name {
		if strings.Contains(strings.ToLower(v), text) {
			return true
		}
	}
	return false
}

func (v *view) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("GetCart"); err != nil {
		return domain.Cart{}, err
	}
	c, ok := v.p.carts[id]
	if !ok {
		return domain.Cart{}, notFound("The Resource with ID '" + id + "' was not found.")
	}
	return copyCart(c), nil
}

func (v *view) CreateCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("CreateCart"); err != nil {
		return domain.Cart{}, err
	}
	c, err := v.p.newCartLocked(draft, "")
	if err != nil {
		return domain.Cart{}, err
	}
	return copyCart(c), nil
}

func (v *view) UpdateCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("UpdateCart"); err != nil {
		return domain.Cart{}, err
	}
	c, ok := v.p.carts[id]
	if !ok {
		return domain.Cart{}, notFound("The Resource with ID '" + id + "' was not found.")
	}
	return v.p.updateCartLocked(c, version, actions)
}

func (v *view) DeleteCart(ctx context.Context, id string, version int) error {
	if _, err := v.authenticate(ctx); err != nil {
		return err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("DeleteCart"); err != nil {
		return err
	}
	c, ok := v.p.carts[id]
	if !ok {
		return notFound("The Resource with ID '" + id + "' was not found.")
	}
	if c.Version != version {
		return conflict(id, version, c.Version)
	}
	delete(v.p.carts, id)
	return nil
}

func (v *view) GetMyActiveCart(ctx context.Context) (domain.Cart, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("GetMyActiveCart"); err != nil {
		return domain.Cart{}, err
	}
	c := v.p.activeCartLocked(owner)
	if c == nil {
		return domain.Cart{}, notFound("No active cart exists.")
	}
	return copyCart(c), nil
}

func (p *Platform) activeCartLocked(customerID string) *domain.Cart {
	var best *domain.Cart
	for _, c := range p.carts {
		if c.CustomerID != customerID || c.CartState != "Active" {
			continue
		}
		if best == nil || c.LastModifiedAt.After(best.LastModifiedAt) ||
			(c.LastModifiedAt.Equal(best.LastModifiedAt) && c.ID > best.ID) {
			best = c
		}
	}
	return best
}

func (v *view) CreateMyCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("CreateMyCart"); err != nil {
		return domain.Cart{}, err
	}
	draft.AnonymousID = ""
	c, err := v.p.newCartLocked(draft, owner)
	if err != nil {
		return domain.Cart{}, err
	}
	return copyCart(c), nil
}

func (v *view) UpdateMyCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("UpdateMyCart"); err != nil {
		return domain.Cart{}, err
	}
	c, ok := v.p.carts[id]
	if !ok || c.CustomerID != owner {
		return domain.Cart{}, notFound("The Resource with ID '" + id + "' was not found.")
	}
	return v.p.updateCartLocked(c, version, actions)
}

func (v *view) SignUp(ctx context.Context, draft domain.CustomerDraft) (domain.CustomerSignInResult, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.CustomerSignInResult{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("SignUp"); err != nil {
		return domain.CustomerSignInResult{}, err
	}
	if draft.Email == "" {
		return domain.CustomerSignInResult{}, &commercetools.StructuredError{
			StatusCode: 400,
			Message:    "Request body does not contain valid JSON.",
			Errors: []commercetools.ErrorObject{{
				Code:                 "InvalidJsonInput",
				Message:              "Request body does not contain valid JSON.",
				DetailedErrorMessage: "email: Missing required value",
			}},
		}
	}
	if v.p.customerByEmail(draft.Email) != nil {
		msg := "There is already an existing customer with the provided email."
		return domain.CustomerSignInResult{}, &commercetools.StructuredError{
			StatusCode: 400,
			Message:    msg,
			Errors: []commercetools.ErrorObject{{
				Code:           "DuplicateField",
				Message:        msg,
				Field:          "email",
				DuplicateValue: draft.Email,
			}},
		}
	}
	return domain.CustomerSignInResult{Customer: v.p.addCustomerLocked(draft)}, nil
}

func (v *view) SignIn(ctx context.Context, email, password string) (domain.CustomerSignInResult, error) {
	if _, err := v.authenticate(ctx); err != nil {
		return domain.CustomerSignInResult{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("SignIn"); err != nil {
		return domain.CustomerSignInResult{}, err
	}
	rec := v.p.customerByEmail(email)
	if rec == nil || rec.password != password {
		return domain.CustomerSignInResult{}, badRequest("InvalidCredentials", "Account with the given credentials not found.")
	}
	out := domain.CustomerSignInResult{Customer: rec.customer}
	if c := v.p.activeCartLocked(rec.customer.ID); c != nil {
		cart := copyCart(c)
		out.Cart = &cart
	}
	return out, nil
}

func (v *view) QueryCustomers(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.Customer], error) {
	var out domain.PagedQueryResponse[domain.Customer]
	if _, err := v.authenticate(ctx); err != nil {
		return out, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("QueryCustomers"); err != nil {
		return out, err
	}
	m := emailWhere.FindStringSubmatch(where)
	if m == nil {
		return out, badRequest("InvalidInput", "Malformed parameter: where: "+where)
	}
	out.Results = []domain.Customer{}
	if rec := v.p.customerByEmail(predicateUnquote.Replace(m[1])); rec != nil {
		out.Results = append(out.Results, rec.customer)
	}
	out.Limit = limit
	out.Count = len(out.Results)
	out.Total = out.Count
	return out, nil
}

func (v *view) GetMe(ctx context.Context) (domain.Customer, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("GetMe"); err != nil {
		return domain.Customer{}, err
	}
	rec, ok := v.p.customers[owner]
	if !ok {
		return domain.Customer{}, notFound("The Resource with ID '" + owner + "' was not found.")
	}
	return rec.customer, nil
}

func (v *view) UpdateMe(ctx context.Context, version int, actions ...domain.CustomerUpdateAction) (domain.Customer, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("UpdateMe"); err != nil {
		return domain.Customer{}, err
	}
	rec, ok := v.p.customers[owner]
	if !ok {
		return domain.Customer{}, notFound("The Resource with ID '" + owner + "' was not found.")
	}
	if rec.customer.Version != version {
		return domain.Customer{}, conflict(owner, version, rec.customer.Version)
	}

	next := rec.customer
	next.Addresses = append([]domain.Address(nil), rec.customer.Addresses...)
	for _, a := range actions {
		switch a.Action {
		case "setFirstName":
			next.FirstName = a.FirstName
		case "setLastName":
			next.LastName = a.LastName
		case "setDateOfBirth":
			next.DateOfBirth = a.DateOfBirth
		case "changeEmail":
			if other := v.p.customerByEmail(a.Email); other != nil && other.customer.ID != owner {
				return domain.Customer{}, badRequest("DuplicateField", "There is already an existing customer with the provided email.")
			}
			next.Email = a.Email
		case "addAddress":
			if a.Address == nil {
				return domain.Customer{}, badRequest("InvalidInput", "address is required")
			}
			addr := *a.Address
			addr.ID = v.p.nextID("address")
			next.Addresses = append(next.Addresses, addr)
		case "changeAddress", "removeAddress", "setDefaultShippingAddress", "setDefaultBillingAddress":
			idx := addressIndex(next.Addresses, a.AddressID)
			if idx < 0 {
				return domain.Customer{}, badRequest("InvalidOperation", "The customer does not have an address with ID '"+a.AddressID+"'.")
			}
			switch a.Action {
			case "changeAddress":
				if a.Address == nil {
					return domain.Customer{}, badRequest("InvalidInput", "address is required")
				}
				addr := *a.Address
				addr.ID = a.AddressID
				next.Addresses[idx] = addr
			case "removeAddress":
				next.Addresses = append(next.Addresses[:idx], next.Addresses[idx+1:]...)
				if next.DefaultShippingAddressID == a.AddressID {
					next.DefaultShippingAddressID = ""
				}
				if next.DefaultBillingAddressID == a.AddressID {
					next.DefaultBillingAddressID = ""
				}
			case "setDefaultShippingAddress":
				next.DefaultShippingAddressID = a.AddressID
			case "setDefaultBillingAddress":
				next.DefaultBillingAddressID = a.AddressID
			}
		default:
			return domain.Customer{}, badRequest("InvalidInput", "Unknown action '"+a.Action+"'.")
		}
	}
	next.Version++
	rec.customer = next
	return next, nil
}

func addressIndex(addrs []domain.Address, id string) int {
	for i, a := range addrs {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (v *view) ChangeMyPassword(ctx context.Context, version int, currentPassword, newPassword string) (domain.Customer, error) {
	owner, err := v.customer(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("ChangeMyPassword"); err != nil {
		return domain.Customer{}, err
	}
	rec, ok := v.p.customers[owner]
	if !ok {
		return domain.Customer{}, notFound("The Resource with ID '" + owner + "' was not found.")
	}
	if rec.customer.Version != version {
		return domain.Customer{}, conflict(owner, version, rec.customer.Version)
	}
	if rec.password != currentPassword {
		return domain.Customer{}, badRequest("InvalidCurrentPassword", "The given current password does not match.")
	}
	rec.password = newPassword
	rec.customer.Version++
	return rec.customer, nil
}

func (v *view) QueryDiscountCodes(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.DiscountCode], error) {
	var out domain.PagedQueryResponse[domain.DiscountCode]
	if _, err := v.authenticate(ctx); err != nil {
		return out, err
	}
	v.p.mu.Lock()
	defer v.p.mu.Unlock()
	if err := v.p.begin("QueryDiscountCodes"); err != nil {
		return out, err
	}
	v.p.LastDiscountWhere = where
	out.Results = []domain.DiscountCode{}
	for _, d := range v.p.discounts {
		if v.p.discountLive(d.code) {
			out.Results = append(out.Results, d.code)
		}
	}
	sort.Slice(out.Results, func(i, j int) bool { return out.Results[i].Code < out.Results[j].Code })
	if limit > 0 && len(out.Results) > limit {
		out.Results = out.Results[:limit]
	}
	out.Limit = limit
	out.Count = len(out.Results)
	out.Total = out.Count
	return out, nil
}
