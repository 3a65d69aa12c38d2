package customer

import (
	"context"
	"io"
	"log"
	"strings"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
)

const msgNotAuthenticated = "User not authenticated"

// Clients hands out the platform client for each identity. Customer returns
// nil while nobody is logged in.
type Clients interface {
	Anonymous() commercetools.API
	Customer() commercetools.API
}

// Service reads and edits customer profiles.
type Service struct {
	clients Clients
	logger  *log.Logger
}

func New(clients Clients, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Service{clients: clients, logger: logger}
}

// LookupResult answers whether an email is registered.
type LookupResult struct {
	Found   bool   `json:"found"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// Result is the envelope returned by profile operations.
type Result struct {
	Customer *domain.Customer `json:"customer,omitempty"`
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
}

// AddressChange is one address edit within an update.
type AddressChange struct {
	Action    string          `json:"action"`
	AddressID string          `json:"addressId,omitempty"`
	Address   *domain.Address `json:"address,omitempty"`
}

// UpdateData lists the profile fields to change. Blank fields are left alone.
type UpdateData struct {
	FirstName              string         `json:"firstName,omitempty"`
	LastName               string         `json:"lastName,omitempty"`
	Email                  string         `json:"email,omitempty"`
	DateOfBirth            string         `json:"dateOfBirth,omitempty"`
	Addresses              *AddressChange `json:"addresses,omitempty"`
	DefaultShippingAddress string         `json:"defaultShippingAddress,omitempty"`
	DefaultBillingAddress  string         `json:"defaultBillingAddress,omitempty"`
}

// Actions converts the update into platform update actions, in a fixed order.
// An address change missing its id or address is skipped.
func (d UpdateData) Actions() []domain.CustomerUpdateAction {
	var actions []domain.CustomerUpdateAction
	if d.FirstName != "" {
		actions = append(actions, domain.SetFirstName(d.FirstName))
	}
	if d.LastName != "" {
		actions = append(actions, domain.SetLastName(d.LastName))
	}
	if d.Email != "" {
		actions = append(actions, domain.ChangeEmail(d.Email))
	}
	if d.DateOfBirth != "" {
		actions = append(actions, domain.SetDateOfBirth(d.DateOfBirth))
	}
	if a := d.Addresses; a != nil {
		switch {
		case a.Action == "addAddress" && a.Address != nil:
			actions = append(actions, domain.AddAddress(*a.Address))
		case a.Action == "changeAddress" && a.AddressID != "" && a.Address != nil:
			actions = append(actions, domain.ChangeAddress(a.AddressID, *a.Address))
		case a.Action == "removeAddress" && a.AddressID != "":
			actions = append(actions, domain.RemoveAddress(a.AddressID))
		}
	}
	if d.DefaultShippingAddress != "" {
		actions = append(actions, domain.SetDefaultShippingAddress(d.DefaultShippingAddress))
	}
	if d.DefaultBillingAddress != "" {
		actions = append(actions, domain.SetDefaultBillingAddress(d.DefaultBillingAddress))
	}
	return actions
}

// Lookup checks whether a customer with the given email exists. Platform
// failures are reported as a connection failure.
func (s *Service) Lookup(ctx context.Context, email string) LookupResult {
	email = strings.TrimSpace(email)
	if email == "" {
		return LookupResult{Found: false, Message: "Email is required"}
	}
	page, err := s.clients.Anonymous().QueryCustomers(ctx, emailPredicate(email), 1)
	if err != nil {
		s.logger.Printf("customer lookup: %v", err)
		return LookupResult{Found: false, Message: "Server connection failure"}
	}
	if len(page.Results) == 0 {
		return LookupResult{Found: false, Message: "Customer not found"}
	}
	return LookupResult{Found: true, Message: "Customer found", ID: page.Results[0].ID}
}

var predicateEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// emailPredicate builds a where clause matching email exactly, escaping
// backslashes and double quotes for the predicate language.
func emailPredicate(email string) string {
	return `email="` + predicateEscaper.Replace(email) + `"`
}

// Current returns the logged-in customer's profile.
func (s *Service) Current(ctx context.Context) Result {
	api := s.clients.Customer()
	if api == nil {
		return Result{Success: false, Message: msgNotAuthenticated}
	}
	c, err := api.GetMe(ctx)
	if err != nil {
		return s.failure("get", err)
	}
	return Result{Customer: &c, Success: true, Message: "Customer data retrieved successfully"}
}

// Update applies data to the logged-in customer at its current version.
func (s *Service) Update(ctx context.Context, data UpdateData) Result {
	api := s.clients.Customer()
	if api == nil {
		return Result{Success: false, Message: msgNotAuthenticated}
	}
	current, err := api.GetMe(ctx)
	if err != nil {
		return s.failure("update", err)
	}
	updated, err := api.UpdateMe(ctx, current.Version, data.Actions()...)
	if err != nil {
		return s.failure("update", err)
	}
	return Result{Customer: &updated, Success: true, Message: "Customer updated successfully"}
}

// ChangePassword changes the logged-in customer's password. The platform
// revokes the customer's tokens afterwards, so callers log in again.
func (s *Service) ChangePassword(ctx context.Context, currentPassword, newPassword string) Result {
	api := s.clients.Customer()
	if api == nil {
		return Result{Success: false, Message: msgNotAuthenticated}
	}
	current, err := api.GetMe(ctx)
	if err != nil {
		return s.failure("change password", err)
	}
	updated, err := api.ChangeMyPassword(ctx, current.Version, currentPassword, newPassword)
	if err != nil {
		return s.failure("change password", err)
	}
	return Result{Customer: &updated, Success: true, Message: "Password changed successfully"}
}

func (s *Service) failure(op string, err error) Result {
	s.logger.Printf("customer %s: %v", op, err)
	return Result{Success: false, Message: commercetools.Message(err)}
}
