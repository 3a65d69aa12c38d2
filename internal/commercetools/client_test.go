package commercetools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"commercetools-storefront/internal/domain"
)

type memoryStore struct {
	mu  sync.Mutex
	rec domain.TokenRecord
}

func (s *memoryStore) Get(context.Context) (domain.TokenRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, !s.rec.Empty()
}

func (s *memoryStore) Set(_ context.Context, rec domain.TokenRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
}

func (s *memoryStore) Clear(context.Context) domain.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = domain.TokenRecord{}
	return s.rec
}

type fakePlatform struct {
	tokenCalls   atomic.Int32
	refreshCalls atomic.Int32
	apiCalls     atomic.Int32
	lastGrant    atomic.Value
	handler      http.HandlerFunc
}

func newTestFactory(t *testing.T, fp *fakePlatform) *Factory {
	t.Helper()
	mux := http.NewServeMux()
	token := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		grant := r.PostForm.Get("grant_type")
		fp.lastGrant.Store(grant)
		w.Header().Set("Content-Type", "application/json")
		switch grant {
		case "refresh_token":
			fp.refreshCalls.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`))
		case "password":
			fp.tokenCalls.Add(1)
			if r.PostForm.Get("password") != "right" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"statusCode":400,"message":"Customer account with the given credentials not found.","errors":[{"code":"invalid_customer_account_credentials","message":"Customer account with the given credentials not found."}],"error":"invalid_customer_account_credentials","error_description":"Customer account with the given credentials not found."}`))
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"customer-token","token_type":"Bearer","expires_in":3600,"refresh_token":"customer-refresh"}`))
		default:
			fp.tokenCalls.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"anon-token","token_type":"Bearer","expires_in":3600}`))
		}
	}
	mux.HandleFunc("/oauth/token", token)
	mux.HandleFunc("/oauth/shop/customers/token", token)
	mux.HandleFunc("/shop/", func(w http.ResponseWriter, r *http.Request) {
		fp.apiCalls.Add(1)
		if fp.handler != nil {
			fp.handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"p-1","version":1}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewFactory(Config{
		AuthURL:      srv.URL,
		APIURL:       srv.URL,
		ProjectKey:   "shop",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       []string{"manage_project:shop"},
		RetryMax:     3,
		RetryDelay:   time.Millisecond,
	}, nil)
}

func TestAnonymousClient_CachesTokenInStore(t *testing.T) {
	fp := &fakePlatform{}
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer anon-token" {
			t.Errorf("expected bearer anon-token, got %q", got)
		}
		if r.Header.Get("X-Correlation-ID") == "" || r.Header.Get("User-Agent") != userAgent {
			t.Errorf("missing metadata headers: %v", r.Header)
		}
		_, _ = w.Write([]byte(`{"id":"p-1","version":3}`))
	}
	f := newTestFactory(t, fp)
	store := &memoryStore{}
	client := f.Anonymous(store)

	for i := 0; i < 2; i++ {
		p, err := client.GetProduct(context.Background(), "p-1")
		if err != nil {
			t.Fatalf("GetProduct: %v", err)
		}
		if p.Version != 3 {
			t.Fatalf("expected version 3, got %d", p.Version)
		}
	}
	if got := fp.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected one token request, got %d", got)
	}
	if rec, ok := store.Get(context.Background()); !ok || rec.Token != "anon-token" {
		t.Fatalf("expected token cached in store, got %+v", rec)
	}
}

func TestPasswordClient_BadCredentialsClearSlot(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)
	store := &memoryStore{}
	store.Set(context.Background(), domain.TokenRecord{Token: "stale", ExpirationTime: 1})

	client := f.Password("jane@example.com", "wrong", store)
	_, err := client.SignIn(context.Background(), "jane@example.com", "wrong")
	if err == nil {
		t.Fatalf("expected sign in error")
	}
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if fp.apiCalls.Load() != 0 {
		t.Fatalf("API must not be called without a token")
	}
	if _, ok := store.Get(context.Background()); ok {
		t.Fatalf("expected customer slot cleared")
	}
}

func TestPasswordClient_StoresRefreshToken(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)
	store := &memoryStore{}

	client := f.Password("jane@example.com", "right", store)
	if _, err := client.GetMe(context.Background()); err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	rec, ok := store.Get(context.Background())
	if !ok || rec.Token != "customer-token" || rec.RefreshToken != "customer-refresh" {
		t.Fatalf("unexpected cached record %+v", rec)
	}
	if fp.lastGrant.Load() != "password" {
		t.Fatalf("expected password grant, got %v", fp.lastGrant.Load())
	}
}

func TestPasswordClient_GrantsOnlyOnce(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)
	store := &memoryStore{}
	client := f.Password("jane@example.com", "right", store)

	if _, err := client.GetMe(context.Background()); err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	store.Set(context.Background(), domain.TokenRecord{
		Token:          "customer-token",
		ExpirationTime: time.Now().Add(-time.Minute).UnixMilli(),
	})

	_, err := client.GetMe(context.Background())
	if !errors.Is(err, ErrNoCachedToken) || !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrNoCachedToken, got %v", err)
	}
	if got := fp.tokenCalls.Load(); got != 1 {
		t.Fatalf("expected a single password grant, got %d", got)
	}
	if fp.apiCalls.Load() != 1 {
		t.Fatalf("expected one API call, got %d", fp.apiCalls.Load())
	}
	if _, ok := store.Get(context.Background()); ok {
		t.Fatalf("expected customer slot cleared")
	}
}

func TestCachedClient_RefreshesExpiredToken(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)
	store := &memoryStore{}
	store.Set(context.Background(), domain.TokenRecord{
		Token:          "expired",
		ExpirationTime: time.Now().Add(-time.Minute).UnixMilli(),
		RefreshToken:   "customer-refresh",
	})

	client := f.Cached(store)
	if _, err := client.GetMe(context.Background()); err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if fp.refreshCalls.Load() != 1 {
		t.Fatalf("expected one refresh, got %d", fp.refreshCalls.Load())
	}
	rec, _ := store.Get(context.Background())
	if rec.Token != "refreshed" || rec.RefreshToken != "customer-refresh" {
		t.Fatalf("expected refreshed record keeping refresh token, got %+v", rec)
	}
}

func TestCachedClient_NoTokenFailsWithoutNetwork(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)

	_, err := f.Cached(&memoryStore{}).GetMe(context.Background())
	if !errors.Is(err, ErrNoCachedToken) || !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrNoCachedToken, got %v", err)
	}
	if fp.tokenCalls.Load() != 0 || fp.apiCalls.Load() != 0 {
		t.Fatalf("expected no requests")
	}
}

func TestClient_UnauthorizedClearsSlot(t *testing.T) {
	fp := &fakePlatform{}
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"statusCode":401,"message":"invalid_token","errors":[{"code":"invalid_token","message":"invalid_token"}]}`))
	}
	f := newTestFactory(t, fp)
	store := &memoryStore{}

	_, err := f.Anonymous(store).GetCart(context.Background(), "c-1")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, ok := store.Get(context.Background()); ok {
		t.Fatalf("expected slot cleared after 401")
	}
}

func TestRetryTransport_RetriesServerErrors(t *testing.T) {
	fp := &fakePlatform{}
	var hits atomic.Int32
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"c-1","version":4}`))
	}
	f := newTestFactory(t, fp)

	cart, err := f.Anonymous(&memoryStore{}).UpdateCart(context.Background(), "c-1", 3, domain.AddLineItem("p-1", 1, 1))
	if err != nil {
		t.Fatalf("UpdateCart: %v", err)
	}
	if cart.Version != 4 {
		t.Fatalf("expected version 4, got %d", cart.Version)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestRetryTransport_StopsAfterMaxRetries(t *testing.T) {
	fp := &fakePlatform{}
	var hits atomic.Int32
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}
	f := newTestFactory(t, fp)

	_, err := f.Anonymous(&memoryStore{}).GetProduct(context.Background(), "p-1")
	var ge *GenericError
	if !errors.As(err, &ge) || ge.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected GenericError 429, got %v", err)
	}
	if hits.Load() != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", hits.Load())
	}
}

func TestNewFactory_CapsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFactory(Config{AuthURL: srv.URL, APIURL: srv.URL, ProjectKey: "shop", RetryMax: 10, RetryDelay: time.Millisecond}, nil)
	if f.cfg.RetryMax != MaxRetries {
		t.Fatalf("expected retry max %d, got %d", MaxRetries, f.cfg.RetryMax)
	}
	if err := f.Revoke(context.Background(), "abc"); err == nil {
		t.Fatalf("expected revoke error")
	}
	if hits.Load() != MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", MaxRetries+1, hits.Load())
	}
}

func TestRetryTransport_StopsOnCancelledContext(t *testing.T) {
	fp := &fakePlatform{}
	ctx, cancel := context.WithCancel(context.Background())
	var hits atomic.Int32
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		cancel()
		w.WriteHeader(http.StatusBadGateway)
	}
	f := newTestFactory(t, fp)
	store := &memoryStore{}
	store.Set(context.Background(), domain.TokenRecord{Token: "anon-token", ExpirationTime: time.Now().Add(time.Hour).UnixMilli()})

	_, err := f.Anonymous(store).GetProduct(ctx, "p-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestRetryTransport_DoesNotRetryConflicts(t *testing.T) {
	fp := &fakePlatform{}
	var hits atomic.Int32
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"statusCode":409,"message":"Object c-1 has a different version than expected. Expected: 1 - Actual: 2.","errors":[{"code":"ConcurrentModification","message":"Object c-1 has a different version than expected. Expected: 1 - Actual: 2.","currentVersion":2}]}`))
	}
	f := newTestFactory(t, fp)

	_, err := f.Anonymous(&memoryStore{}).UpdateCart(context.Background(), "c-1", 1, domain.RemoveLineItem("li-1"))
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", hits.Load())
	}
}

func TestFactory_Revoke(t *testing.T) {
	var form map[string]string
	var user string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token/revoke" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		user, _, _ = r.BasicAuth()
		form = map[string]string{"token": r.PostForm.Get("token"), "hint": r.PostForm.Get("token_type_hint")}
	}))
	defer srv.Close()

	f := NewFactory(Config{AuthURL: srv.URL, APIURL: srv.URL, ProjectKey: "shop", ClientID: "client", ClientSecret: "secret"}, nil)
	if err := f.Revoke(context.Background(), "abc"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if user != "client" || form["token"] != "abc" || form["hint"] != "access_token" {
		t.Fatalf("unexpected revoke request user=%s form=%v", user, form)
	}
}

func TestFactory_FetchCustomerToken(t *testing.T) {
	fp := &fakePlatform{}
	f := newTestFactory(t, fp)
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	rec, err := f.FetchCustomerToken(context.Background(), "jane@example.com", "right")
	if err != nil {
		t.Fatalf("FetchCustomerToken: %v", err)
	}
	if rec.Token != "customer-token" || rec.ExpirationTime != fixed.Add(time.Hour).UnixMilli() {
		t.Fatalf("unexpected record %+v", rec)
	}

	if _, err := f.FetchCustomerToken(context.Background(), "jane@example.com", "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseAPIError(t *testing.T) {
	err := parseAPIError(http.StatusBadRequest, []byte(`{"statusCode":400,"message":"There is already an existing customer with the provided email.","errors":[{"code":"DuplicateField","message":"There is already an existing customer with the provided email.","duplicateValue":"jane@example.com","field":"email"}]}`))
	var se *StructuredError
	if !errors.As(err, &se) {
		t.Fatalf("expected StructuredError, got %T", err)
	}
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected duplicate field to match ErrAlreadyExists")
	}

	err = parseAPIError(http.StatusBadGateway, []byte(`<html>bad gateway</html>`))
	var ge *GenericError
	if !errors.As(err, &ge) {
		t.Fatalf("expected GenericError, got %T", err)
	}
	if !strings.Contains(ge.Error(), "502") {
		t.Fatalf("expected status in message, got %q", ge.Error())
	}

	err = parseAPIError(http.StatusNotFound, []byte(`{}`))
	if !errors.As(err, &ge) || !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found GenericError, got %v", err)
	}
}

func TestNormalizeErrors(t *testing.T) {
	se := &StructuredError{StatusCode: 400, Errors: []ErrorObject{
		{Code: "DuplicateField", Message: "There is already an existing customer with the provided email.", DuplicateValue: "jane@example.com"},
		{Code: "InvalidInput", Message: "ignored", DetailedErrorMessage: "addresses -> country: Invalid value: must be ISO:3166"},
		{Code: "InvalidOperation", Message: "Password too short."},
	}}

	got := NormalizeErrors(se)
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Code != "DuplicateField" || got[0].Error != "jane@example.com" {
		t.Fatalf("unexpected duplicate entry %+v", got[0])
	}
	if got[1].Code != "addresses -> country" || got[1].Error != "Invalid value" || got[1].Message != "must be ISO:3166" {
		t.Fatalf("unexpected detailed entry %+v", got[1])
	}
	if got[2].Error != "Password too short." || got[2].DetailedErrorMessage != "Password too short." {
		t.Fatalf("unexpected fallback entry %+v", got[2])
	}

	if NormalizeErrors(errors.New("boom")) != nil {
		t.Fatalf("expected nil for unstructured errors")
	}
}

func TestClient_EncodesUpdateBody(t *testing.T) {
	fp := &fakePlatform{}
	var body map[string]any
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shop/me/carts/c-9" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"c-9","version":8}`))
	}
	f := newTestFactory(t, fp)

	_, err := f.Password("jane@example.com", "right", &memoryStore{}).
		UpdateMyCart(context.Background(), "c-9", 7, domain.AddDiscountCode("SAVE10"))
	if err != nil {
		t.Fatalf("UpdateMyCart: %v", err)
	}
	if body["version"].(float64) != 7 {
		t.Fatalf("expected version 7, got %v", body["version"])
	}
	actions := body["actions"].([]any)
	first := actions[0].(map[string]any)
	if first["action"] != "addDiscountCode" || first["code"] != "SAVE10" {
		t.Fatalf("unexpected action %v", first)
	}
}

func TestClient_SearchProducts(t *testing.T) {
	fp := &fakePlatform{}
	fp.handler = func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/shop/product-projections/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("text.en-US") != "shoe*" || q.Get("fuzzy") != "true" || q.Get("fuzzyLevel") != "1" {
			t.Errorf("unexpected text params %v", q)
		}
		if q.Get("limit") != "10" || q.Get("offset") != "20" || q.Get("staged") != "false" {
			t.Errorf("unexpected paging params %v", q)
		}
		if got := q["filter"]; len(got) != 2 || got[1] != `variants.attributes.color:"red"` {
			t.Errorf("unexpected filters %v", got)
		}
		if q.Get("facet") != "variants.attributes.size" || q.Get("sort") != "price asc" {
			t.Errorf("unexpected facet or sort %v", q)
		}
		_, _ = w.Write([]byte(`{"limit":10,"offset":20,"count":1,"total":21,"results":[{"id":"p-1","version":2,"name":{"en-US":"Red shoe"},"masterVariant":{"id":1},"variants":[]}],"facets":{"variants.attributes.size":{"type":"terms"}}}`))
	}
	f := newTestFactory(t, fp)

	res, err := f.Anonymous(&memoryStore{}).SearchProducts(context.Background(), domain.ProductSearch{
		Text:       "shoe*",
		Locale:     "en-US",
		Fuzzy:      true,
		FuzzyLevel: 1,
		Limit:      10,
		Offset:     20,
		Sort:       []string{"price asc"},
		Filter:     []string{"variants.price.centAmount:range (1000 to 2000)", `variants.attributes.color:"red"`},
		Facet:      []string{"variants.attributes.size"},
	})
	if err != nil {
		t.Fatalf("SearchProducts: %v", err)
	}
	if res.Total != 21 || len(res.Results) != 1 || res.Results[0].Name.Get("en-US") != "Red shoe" {
		t.Fatalf("unexpected response %+v", res)
	}
	if _, ok := res.Facets["variants.attributes.size"]; !ok {
		t.Fatalf("expected facet result, got %v", res.Facets)
	}
}
