package commercetools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"commercetools-storefront/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrNoCachedToken is returned by a cached-only client when the token slot
// holds nothing usable.
var ErrNoCachedToken = fmt.Errorf("no cached customer token: %w", domain.ErrUnauthorized)

// defaultTokenLifetime applies when the token endpoint omits expires_in.
const defaultTokenLifetime = 48 * time.Hour

// Config identifies the project and its API client credentials.
type Config struct {
	AuthURL      string
	APIURL       string
	ProjectKey   string
	ClientID     string
	ClientSecret string
	Scopes       []string
	RetryMax     int
	RetryDelay   time.Duration
}

// TokenStore is the get/set/clear hook set a client uses for one identity slot.
type TokenStore interface {
	Get(ctx context.Context) (domain.TokenRecord, bool)
	Set(ctx context.Context, rec domain.TokenRecord)
	Clear(ctx context.Context) domain.TokenRecord
}

// Connector builds platform clients. Factory is the production implementation;
// tests substitute an in-memory platform.
type Connector interface {
	Anonymous(store TokenStore) API
	Password(email, password string, store TokenStore) API
	Cached(store TokenStore) API
	Revoke(ctx context.Context, token string) error
}

// Factory builds clients that share one retrying transport.
type Factory struct {
	cfg    Config
	base   *http.Client
	logger *log.Logger
	now    func() time.Time
}

func NewFactory(cfg Config, logger *log.Logger) *Factory {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.RetryMax = clampRetries(cfg.RetryMax)
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return &Factory{
		cfg:    cfg,
		base:   newBaseClient(cfg.RetryMax, cfg.RetryDelay, logger),
		logger: logger,
		now:    time.Now,
	}
}

// Anonymous returns a client authenticated with the client credentials grant.
func (f *Factory) Anonymous(store TokenStore) API {
	conf := clientcredentials.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		TokenURL:     f.cfg.AuthURL + "/oauth/token",
		Scopes:       f.cfg.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return f.newClient(store, conf.Token, false)
}

// Password returns a client that obtains a customer token with the password
// grant on its first request. The grant runs once: afterwards the client
// only refreshes, and fails with ErrNoCachedToken when it cannot.
func (f *Factory) Password(email, password string, store TokenStore) API {
	return f.newClient(store, func(ctx context.Context) (*oauth2.Token, error) {
		rec, err := f.FetchCustomerToken(ctx, email, password)
		if err != nil {
			return nil, err
		}
		return toOAuthToken(rec), nil
	}, true)
}

// Cached returns a customer client that only uses the cached record,
// refreshing it when possible.
func (f *Factory) Cached(store TokenStore) API {
	return f.newClient(store, nil, false)
}

func (f *Factory) newClient(store TokenStore, fetch func(context.Context) (*oauth2.Token, error), fetchOnce bool) *Client {
	src := &cachingTokenSource{
		ctx:       context.WithValue(context.Background(), oauth2.HTTPClient, f.base),
		store:     store,
		fetch:     fetch,
		fetchOnce: fetchOnce,
		refresh:   f.refresh,
		now:       f.now,
		logger:    f.logger,
	}
	hc := &http.Client{
		Timeout:   f.base.Timeout,
		Transport: &oauth2.Transport{Source: src, Base: f.base.Transport},
	}
	return &Client{
		baseURL:      f.cfg.APIURL + "/" + f.cfg.ProjectKey,
		http:         hc,
		logger:       f.logger,
		unauthorized: store.Clear,
	}
}

func (f *Factory) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	conf := oauth2.Config{
		ClientID:     f.cfg.ClientID,
		ClientSecret: f.cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  f.cfg.AuthURL + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

// Revoke invalidates an access token at the auth server.
func (f *Factory) Revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	resp, err := f.postForm(ctx, f.cfg.AuthURL+"/oauth/token/revoke", form)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("revoke token: %w", parseAPIError(resp.StatusCode, body))
	}
	return nil
}

// FetchCustomerToken performs a direct password grant against the customer
// token endpoint. Password clients use it for their single grant.
func (f *Factory) FetchCustomerToken(ctx context.Context, email, password string) (domain.TokenRecord, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", email)
	form.Set("password", password)

	resp, err := f.postForm(ctx, fmt.Sprintf("%s/oauth/%s/customers/token", f.cfg.AuthURL, f.cfg.ProjectKey), form)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("fetch customer token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("fetch customer token: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return domain.TokenRecord{}, fmt.Errorf("fetch customer token: %w", parseAPIError(resp.StatusCode, body))
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.AccessToken == "" {
		return domain.TokenRecord{}, errors.New("fetch customer token: token not received")
	}
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = defaultTokenLifetime
	}
	return domain.TokenRecord{
		Token:          payload.AccessToken,
		ExpirationTime: f.now().Add(lifetime).UnixMilli(),
		RefreshToken:   payload.RefreshToken,
	}, nil
}

func (f *Factory) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(f.cfg.ClientID, f.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.base.Do(req)
}

// cachingTokenSource serves tokens from a TokenStore, refreshing or fetching
// a new one when the cached record is expired. With fetchOnce set, fetch is
// dropped after its first success.
type cachingTokenSource struct {
	mu        sync.Mutex
	ctx       context.Context
	store     TokenStore
	fetch     func(context.Context) (*oauth2.Token, error)
	fetchOnce bool
	refresh   func(context.Context, string) (*oauth2.Token, error)
	now       func() time.Time
	logger    *log.Logger
}

func (s *cachingTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.store.Get(s.ctx); ok {
		if !rec.Expired(now) {
			return toOAuthToken(rec), nil
		}
		if rec.RefreshToken != "" {
			tok, err := s.refresh(s.ctx, rec.RefreshToken)
			if err == nil {
				fresh := fromOAuthToken(tok, rec.RefreshToken, now)
				s.store.Set(s.ctx, fresh)
				return toOAuthToken(fresh), nil
			}
			s.logger.Printf("token refresh failed: %v", asPlatformError(err))
		}
		s.store.Clear(s.ctx)
	}

	if s.fetch == nil {
		return nil, ErrNoCachedToken
	}
	tok, err := s.fetch(s.ctx)
	if err != nil {
		s.store.Clear(s.ctx)
		return nil, asPlatformError(err)
	}
	if s.fetchOnce {
		s.fetch = nil
	}
	rec := fromOAuthToken(tok, "", now)
	s.store.Set(s.ctx, rec)
	return toOAuthToken(rec), nil
}

func fromOAuthToken(tok *oauth2.Token, fallbackRefresh string, now time.Time) domain.TokenRecord {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultTokenLifetime)
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return domain.TokenRecord{Token: tok.AccessToken, ExpirationTime: expiry.UnixMilli(), RefreshToken: refresh}
}

func toOAuthToken(rec domain.TokenRecord) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  rec.Token,
		TokenType:    "Bearer",
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.ExpiresAt(),
	}
}
