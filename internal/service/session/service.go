package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
	tokenrepo "commercetools-storefront/internal/repository/token"
)

// DefaultLoginFailure is reported when the platform gives no usable message.
const DefaultLoginFailure = "Account with the given credentials not found."

// Merger folds the anonymous cart into the customer's cart right after login.
type Merger interface {
	MergeAnonymousCart(ctx context.Context) error
}

// LoginStatusListener is called after every login state change with the new state.
type LoginStatusListener func(loggedIn bool)

type LoginResult struct {
	Signed   bool             `json:"signed"`
	Message  string           `json:"message"`
	Customer *domain.Customer `json:"customer,omitempty"`
}

type RegisterResult struct {
	Registered bool                `json:"registered"`
	Message    string              `json:"message"`
	Errors     []domain.FieldError `json:"errors,omitempty"`
	Customer   *domain.Customer    `json:"customer,omitempty"`
}

type listener struct {
	id int
	fn LoginStatusListener
}

// Service owns the anonymous and customer identities of one storefront.
// Only Service creates or drops the customer client handle.
type Service struct {
	connector commercetools.Connector
	tokens    *tokenrepo.Cache
	logger    *log.Logger
	now       func() time.Time

	// opMu orders login, logout, register and resume against each other.
	opMu sync.Mutex

	mu        sync.RWMutex
	anonymous commercetools.API
	customer  commercetools.API
	merger    Merger

	listenersMu sync.Mutex
	listeners   []listener
	nextID      int
}

// New builds a Service and its anonymous client.
func New(connector commercetools.Connector, tokens *tokenrepo.Cache, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{
		connector: connector,
		tokens:    tokens,
		logger:    logger,
		now:       time.Now,
		anonymous: connector.Anonymous(tokens.Slot(domain.IdentityAnonymous)),
	}
}

// SetMerger wires the cart merge step run after a successful login.
func (s *Service) SetMerger(m Merger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merger = m
}

// Anonymous returns the client acting as the guest identity.
func (s *Service) Anonymous() commercetools.API {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.anonymous
}

// Customer returns the logged-in customer's client, or nil. A handle whose
// token can no longer authenticate is dropped and listeners are told.
func (s *Service) Customer() commercetools.API {
	return s.customerClient(context.Background())
}

// Loginned reports whether a customer is logged in: the customer token is
// usable and a client handle exists in this process.
func (s *Service) Loginned(ctx context.Context) bool {
	return s.customerClient(ctx) != nil
}

func (s *Service) customerClient(ctx context.Context) commercetools.API {
	s.mu.RLock()
	client := s.customer
	s.mu.RUnlock()
	if client == nil {
		return nil
	}
	if rec, ok := s.tokens.Get(ctx, domain.IdentityCustomer); ok && rec.Usable(s.now()) {
		return client
	}

	s.mu.Lock()
	dropped := s.customer == client
	if dropped {
		s.customer = nil
	}
	s.mu.Unlock()
	if dropped {
		s.tokens.Clear(ctx, domain.IdentityCustomer)
		s.logger.Printf("customer session expired")
		s.emit(false)
	}
	return nil
}

// Login replaces any current customer session with one for email.
func (s *Service) Login(ctx context.Context, email, password string) LoginResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	wasLoggedIn := s.logoutLocked(ctx)

	client := s.connector.Password(email, password, s.tokens.Slot(domain.IdentityCustomer))
	res, err := client.SignIn(ctx, email, password)
	if err != nil {
		s.tokens.Clear(ctx, domain.IdentityCustomer)
		s.logger.Printf("login failed for %s: %v", email, err)
		if wasLoggedIn {
			s.emit(false)
		}
		return LoginResult{Signed: false, Message: loginFailureMessage(err)}
	}

	s.mu.Lock()
	s.customer = client
	merger := s.merger
	s.mu.Unlock()

	if merger != nil {
		if err := merger.MergeAnonymousCart(ctx); err != nil {
			s.logger.Printf("merge anonymous cart: %v", err)
		}
	}
	s.emit(true)

	customer := res.Customer
	return LoginResult{Signed: true, Message: "Login successful", Customer: &customer}
}

func loginFailureMessage(err error) string {
	if errors.Is(err, domain.ErrUnauthorized) {
		return DefaultLoginFailure
	}
	var se *commercetools.StructuredError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return DefaultLoginFailure
}

// Logout ends the customer session. It always notifies listeners, even when
// nobody was logged in.
func (s *Service) Logout(ctx context.Context) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logoutLocked(ctx)
	s.emit(false)
}

// logoutLocked revokes and clears the customer token and drops the handle.
// It reports whether there was anything to tear down.
func (s *Service) logoutLocked(ctx context.Context) bool {
	rec, hadToken := s.tokens.Get(ctx, domain.IdentityCustomer)
	if hadToken {
		if err := s.connector.Revoke(ctx, rec.Token); err != nil {
			s.logger.Printf("revoke customer token: %v", err)
		}
	}
	s.tokens.Clear(ctx, domain.IdentityCustomer)

	s.mu.Lock()
	hadClient := s.customer != nil
	s.customer = nil
	s.mu.Unlock()

	return hadToken || hadClient
}

// Register creates a customer account. Registering never leaves a customer
// logged in.
func (s *Service) Register(ctx context.Context, draft domain.CustomerDraft) RegisterResult {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logoutLocked(ctx)
	res, err := s.Anonymous().SignUp(ctx, draft)
	s.logoutLocked(ctx)
	s.emit(false)

	if err != nil {
		s.logger.Printf("register %s: %v", draft.Email, err)
		return RegisterResult{
			Registered: false,
			Message:    commercetools.Message(err),
			Errors:     commercetools.NormalizeErrors(err),
		}
	}
	customer := res.Customer
	return RegisterResult{Registered: true, Message: "OK", Customer: &customer}
}

// Resume rebuilds the customer handle from a cached token, verifying it
// against the platform. An unusable cache entry is cleared.
func (s *Service) Resume(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.Loginned(ctx) {
		return true
	}

	rec, ok := s.tokens.Get(ctx, domain.IdentityCustomer)
	if !ok || !rec.Usable(s.now()) {
		s.tokens.Clear(ctx, domain.IdentityCustomer)
		return false
	}

	client := s.connector.Cached(s.tokens.Slot(domain.IdentityCustomer))
	if _, err := client.GetMe(ctx); err != nil {
		s.logger.Printf("resume customer session: %v", err)
		s.tokens.Clear(ctx, domain.IdentityCustomer)
		return false
	}

	s.mu.Lock()
	s.customer = client
	s.mu.Unlock()
	s.emit(true)
	return true
}

// OnLoginStatusChange registers fn and returns an id for OffLoginStatusChange.
func (s *Service) OnLoginStatusChange(fn LoginStatusListener) int {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.nextID++
	s.listeners = append(s.listeners, listener{id: s.nextID, fn: fn})
	return s.nextID
}

func (s *Service) OffLoginStatusChange(id int) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Service) emit(loggedIn bool) {
	s.listenersMu.Lock()
	snapshot := make([]listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range snapshot {
		l.fn(loggedIn)
	}
}
