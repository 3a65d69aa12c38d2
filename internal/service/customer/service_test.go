package customer

import (
	"context"
	"errors"
	"testing"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/commercetools/cttest"
	"commercetools-storefront/internal/domain"
	"commercetools-storefront/internal/repository/kv"
	tokenrepo "commercetools-storefront/internal/repository/token"
)

type stubClients struct {
	anonymous commercetools.API
	customer  commercetools.API
}

func (s stubClients) Anonymous() commercetools.API { return s.anonymous }
func (s stubClients) Customer() commercetools.API  { return s.customer }

func newTestService(t *testing.T, loggedIn bool) (*Service, *cttest.Platform) {
	t.Helper()
	platform := cttest.New()
	platform.AddCustomer("jane@example.com", "Secret123")
	tokens := tokenrepo.NewCache(kv.NewMemory(), nil)
	clients := stubClients{anonymous: platform.Anonymous(tokens.Slot(domain.IdentityAnonymous))}
	if loggedIn {
		clients.customer = platform.Password("jane@example.com", "Secret123", tokens.Slot(domain.IdentityCustomer))
	}
	return New(clients, nil), platform
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	svc, platform := newTestService(t, false)
	john := platform.AddCustomer("john@example.com", "Secret123")

	res := svc.Lookup(ctx, " john@example.com ")
	if !res.Found || res.Message != "Customer found" || res.ID != john.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := svc.Lookup(ctx, "nobody@example.com"); res.Found || res.Message != "Customer not found" || res.ID != "" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := svc.Lookup(ctx, ""); res.Found || res.Message != "Email is required" {
		t.Fatalf("unexpected result %+v", res)
	}
	if platform.Calls("QueryCustomers") != 2 {
		t.Fatalf("expected blank email to skip the platform, got %d calls", platform.Calls("QueryCustomers"))
	}

	platform.FailNext("QueryCustomers", errors.New("dial tcp: refused"))
	if res := svc.Lookup(ctx, "john@example.com"); res.Found || res.Message != "Server connection failure" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestEmailPredicate(t *testing.T) {
	cases := map[string]string{
		"jane@example.com":   `email="jane@example.com"`,
		`o"neil@example.com`: `email="o\"neil@example.com"`,
		`back\slash@x.io`:    `email="back\\slash@x.io"`,
		`"\`:                 `email="\"\\"`,
	}
	for in, want := range cases {
		if got := emailPredicate(in); got != want {
			t.Fatalf("emailPredicate(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestLookup_EmailWithQuotes(t *testing.T) {
	ctx := context.Background()
	svc, platform := newTestService(t, false)
	odd := platform.AddCustomer(`o"neil\x@example.com`, "Secret123")

	res := svc.Lookup(ctx, `o"neil\x@example.com`)
	if !res.Found || res.ID != odd.ID {
		t.Fatalf("unexpected result %+v", res)
	}
	if res := svc.Lookup(ctx, `o"neil`); res.Found {
		t.Fatalf("expected no match for a truncated email, got %+v", res)
	}
}

func TestProfile_RequiresLogin(t *testing.T) {
	ctx := context.Background()
	svc, platform := newTestService(t, false)

	results := []Result{
		svc.Current(ctx),
		svc.Update(ctx, UpdateData{FirstName: "Jane"}),
		svc.ChangePassword(ctx, "Secret123", "Secret456"),
	}
	for i, res := range results {
		if res.Success || res.Message != "User not authenticated" {
			t.Fatalf("result %d: unexpected %+v", i, res)
		}
	}
	if platform.Calls("GetMe") != 0 {
		t.Fatalf("expected no platform calls")
	}
}

func TestCurrentAndUpdate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, true)

	res := svc.Current(ctx)
	if !res.Success || res.Customer.Email != "jane@example.com" {
		t.Fatalf("unexpected result %+v", res)
	}

	res = svc.Update(ctx, UpdateData{
		FirstName: "Jane",
		LastName:  "Doe",
		Addresses: &AddressChange{Action: "addAddress", Address: &domain.Address{Country: "DE", City: "Berlin"}},
	})
	if !res.Success || res.Message != "Customer updated successfully" {
		t.Fatalf("unexpected result %+v", res)
	}
	c := res.Customer
	if c.FirstName != "Jane" || c.LastName != "Doe" || len(c.Addresses) != 1 {
		t.Fatalf("unexpected customer %+v", c)
	}

	addrID := c.Addresses[0].ID
	res = svc.Update(ctx, UpdateData{DefaultShippingAddress: addrID, DefaultBillingAddress: addrID})
	if !res.Success || res.Customer.DefaultShippingAddressID != addrID || res.Customer.DefaultBillingAddressID != addrID {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUpdate_SurfacesPlatformError(t *testing.T) {
	ctx := context.Background()
	svc, platform := newTestService(t, true)
	platform.AddCustomer("taken@example.com", "Secret123")

	res := svc.Update(ctx, UpdateData{Email: "taken@example.com"})
	if res.Success || res.Message != "There is already an existing customer with the provided email." {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, true)

	if res := svc.ChangePassword(ctx, "wrong", "Secret456"); res.Success || res.Message != "The given current password does not match." {
		t.Fatalf("unexpected result %+v", res)
	}
	res := svc.ChangePassword(ctx, "Secret123", "Secret456")
	if !res.Success || res.Message != "Password changed successfully" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestUpdateData_Actions(t *testing.T) {
	addr := &domain.Address{Country: "DE"}
	tests := []struct {
		name string
		data UpdateData
		want []string
	}{
		{"empty", UpdateData{}, nil},
		{"names in order", UpdateData{LastName: "Doe", FirstName: "Jane"}, []string{"setFirstName", "setLastName"}},
		{"change address", UpdateData{Addresses: &AddressChange{Action: "changeAddress", AddressID: "a1", Address: addr}}, []string{"changeAddress"}},
		{"change address without id", UpdateData{Addresses: &AddressChange{Action: "changeAddress", Address: addr}}, nil},
		{"remove address", UpdateData{Addresses: &AddressChange{Action: "removeAddress", AddressID: "a1"}}, []string{"removeAddress"}},
		{"defaults", UpdateData{Email: "x@example.com", DefaultBillingAddress: "a1"}, []string{"changeEmail", "setDefaultBillingAddress"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.data.Actions()
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %+v", tc.want, got)
			}
			for i, a := range got {
				if a.Action != tc.want[i] {
					t.Fatalf("expected %v, got %+v", tc.want, got)
				}
			}
		})
	}
}
