package commercetools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"commercetools-storefront/internal/domain"
)

// API is the subset of the commercetools HTTP API the storefront uses.
type API interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	SearchProducts(ctx context.Context, q domain.ProductSearch) (domain.ProductSearchResponse, error)

	GetCart(ctx context.Context, id string) (domain.Cart, error)
	CreateCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error)
	UpdateCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error)
	DeleteCart(ctx context.Context, id string, version int) error

	GetMyActiveCart(ctx context.Context) (domain.Cart, error)
	CreateMyCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error)
	UpdateMyCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error)

	SignUp(ctx context.Context, draft domain.CustomerDraft) (domain.CustomerSignInResult, error)
	SignIn(ctx context.Context, email, password string) (domain.CustomerSignInResult, error)
	QueryCustomers(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.Customer], error)

	GetMe(ctx context.Context) (domain.Customer, error)
	UpdateMe(ctx context.Context, version int, actions ...domain.CustomerUpdateAction) (domain.Customer, error)
	ChangeMyPassword(ctx context.Context, version int, currentPassword, newPassword string) (domain.Customer, error)

	QueryDiscountCodes(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.DiscountCode], error)
}

// Client calls the project-scoped REST API with an OAuth2-authenticated
// HTTP client.
type Client struct {
	baseURL      string
	http         *http.Client
	logger       *log.Logger
	unauthorized func(context.Context) domain.TokenRecord
}

var _ API = (*Client)(nil)

type updateRequest[A any] struct {
	Version int `json:"version"`
	Actions []A `json:"actions"`
}

func (c *Client) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	var out domain.Product
	err := c.do(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) SearchProducts(ctx context.Context, q domain.ProductSearch) (domain.ProductSearchResponse, error) {
	var out domain.ProductSearchResponse
	err := c.do(ctx, http.MethodGet, "/product-projections/search", searchArgs(q), nil, &out)
	return out, err
}

func (c *Client) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	var out domain.Cart
	err := c.do(ctx, http.MethodGet, "/carts/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

func (c *Client) CreateCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error) {
	var out domain.Cart
	err := c.do(ctx, http.MethodPost, "/carts", nil, draft, &out)
	return out, err
}

func (c *Client) UpdateCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	var out domain.Cart
	body := updateRequest[domain.CartUpdateAction]{Version: version, Actions: actions}
	err := c.do(ctx, http.MethodPost, "/carts/"+url.PathEscape(id), nil, body, &out)
	return out, err
}

func (c *Client) DeleteCart(ctx context.Context, id string, version int) error {
	q := url.Values{"version": {strconv.Itoa(version)}}
	return c.do(ctx, http.MethodDelete, "/carts/"+url.PathEscape(id), q, nil, nil)
}

func (c *Client) GetMyActiveCart(ctx context.Context) (domain.Cart, error) {
	var out domain.Cart
	err := c.do(ctx, http.MethodGet, "/me/active-cart", nil, nil, &out)
	return out, err
}

func (c *Client) CreateMyCart(ctx context.Context, draft domain.CartDraft) (domain.Cart, error) {
	var out domain.Cart
	err := c.do(ctx, http.MethodPost, "/me/carts", nil, draft, &out)
	return out, err
}

func (c *Client) UpdateMyCart(ctx context.Context, id string, version int, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	var out domain.Cart
	body := updateRequest[domain.CartUpdateAction]{Version: version, Actions: actions}
	err := c.do(ctx, http.MethodPost, "/me/carts/"+url.PathEscape(id), nil, body, &out)
	return out, err
}

func (c *Client) SignUp(ctx context.Context, draft domain.CustomerDraft) (domain.CustomerSignInResult, error) {
	var out domain.CustomerSignInResult
	err := c.do(ctx, http.MethodPost, "/customers", nil, draft, &out)
	return out, err
}

// SignIn authenticates the customer the client's token belongs to.
func (c *Client) SignIn(ctx context.Context, email, password string) (domain.CustomerSignInResult, error) {
	var out domain.CustomerSignInResult
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "/me/login", nil, body, &out)
	return out, err
}

func (c *Client) QueryCustomers(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.Customer], error) {
	var out domain.PagedQueryResponse[domain.Customer]
	err := c.do(ctx, http.MethodGet, "/customers", queryArgs(where, limit), nil, &out)
	return out, err
}

func (c *Client) GetMe(ctx context.Context) (domain.Customer, error) {
	var out domain.Customer
	err := c.do(ctx, http.MethodGet, "/me", nil, nil, &out)
	return out, err
}

func (c *Client) UpdateMe(ctx context.Context, version int, actions ...domain.CustomerUpdateAction) (domain.Customer, error) {
	var out domain.Customer
	body := updateRequest[domain.CustomerUpdateAction]{Version: version, Actions: actions}
	err := c.do(ctx, http.MethodPost, "/me", nil, body, &out)
	return out, err
}

func (c *Client) ChangeMyPassword(ctx context.Context, version int, currentPassword, newPassword string) (domain.Customer, error) {
	var out domain.Customer
	body := struct {
		Version         int    `json:"version"`
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}{version, currentPassword, newPassword}
	err := c.do(ctx, http.MethodPost, "/me/password", nil, body, &out)
	return out, err
}

func (c *Client) QueryDiscountCodes(ctx context.Context, where string, limit int) (domain.PagedQueryResponse[domain.DiscountCode], error) {
	var out domain.PagedQueryResponse[domain.DiscountCode]
	err := c.do(ctx, http.MethodGet, "/discount-codes", queryArgs(where, limit), nil, &out)
	return out, err
}

func queryArgs(where string, limit int) url.Values {
	q := url.Values{}
	if where != "" {
		q.Set("where", where)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

func searchArgs(q domain.ProductSearch) url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(q.Limit))
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("staged", strconv.FormatBool(q.Staged))
	if q.Text != "" {
		v.Set("text."+q.Locale, q.Text)
		v.Set("fuzzy", strconv.FormatBool(q.Fuzzy))
		if q.Fuzzy && q.FuzzyLevel > 0 {
			v.Set("fuzzyLevel", strconv.Itoa(q.FuzzyLevel))
		}
	}
	if q.MarkMatchingVariants {
		v.Set("markMatchingVariants", "true")
	}
	for key, values := range map[string][]string{
		"sort":          q.Sort,
		"filter":        q.Filter,
		"filter.query":  q.FilterQuery,
		"filter.facets": q.FilterFacets,
		"facet":         q.Facet,
	} {
		for _, value := range values {
			v.Add(key, value)
		}
	}
	if q.PriceCurrency != "" {
		v.Set("priceCurrency", q.PriceCurrency)
	}
	if q.PriceCountry != "" {
		v.Set("priceCountry", q.PriceCountry)
	}
	return v
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return unwrapTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := parseAPIError(resp.StatusCode, raw)
		if resp.StatusCode == http.StatusUnauthorized && c.unauthorized != nil {
			c.unauthorized(ctx)
		}
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// unwrapTransportError surfaces platform errors raised while obtaining a
// token instead of the *url.Error wrapping them.
func unwrapTransportError(err error) error {
	var se *StructuredError
	if errors.As(err, &se) {
		return se
	}
	var ge *GenericError
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, ErrNoCachedToken) {
		return ErrNoCachedToken
	}
	return err
}
