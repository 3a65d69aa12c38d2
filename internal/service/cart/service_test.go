package cart

import (
	"context"
	"errors"
	"strings"
	"testing"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/commercetools/cttest"
	"commercetools-storefront/internal/domain"
	cartrepo "commercetools-storefront/internal/repository/cart"
	"commercetools-storefront/internal/repository/kv"
	tokenrepo "commercetools-storefront/internal/repository/token"
)

type stubClients struct {
	anon     commercetools.API
	customer commercetools.API
}

func (c *stubClients) Anonymous() commercetools.API { return c.anon }
func (c *stubClients) Customer() commercetools.API  { return c.customer }

// lostCarts forgets every cart it is asked for.
type lostCarts struct {
	commercetools.API
}

func (lostCarts) GetCart(context.Context, string) (domain.Cart, error) {
	return domain.Cart{}, &commercetools.StructuredError{StatusCode: 404, Message: "not found"}
}

// staleReads serves carts one version behind, as if another tab had just
// written to them.
type staleReads struct {
	commercetools.API
}

func (s staleReads) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	c, err := s.API.GetCart(ctx, id)
	c.Version--
	return c, err
}

type fixture struct {
	platform *cttest.Platform
	tokens   *tokenrepo.Cache
	refs     *cartrepo.RefStore
	clients  *stubClients
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kv.NewMemory()
	f := &fixture{
		platform: cttest.New(),
		tokens:   tokenrepo.NewCache(store, nil),
		refs:     cartrepo.NewRefStore(store, nil),
	}
	f.clients = &stubClients{anon: f.platform.Anonymous(f.tokens.Slot(domain.IdentityAnonymous))}
	f.svc = New(f.clients, f.refs, Options{}, nil)
	f.platform.AddProduct(cttest.NewProduct("product-123", 1999, 10))
	f.platform.AddProduct(cttest.NewProduct("product-456", 500, 10))
	return f
}

func (f *fixture) login(email, password string) {
	f.platform.AddCustomer(email, password)
	f.clients.customer = f.platform.Password(email, password, f.tokens.Slot(domain.IdentityCustomer))
}

func TestGet_NoCart(t *testing.T) {
	f := newFixture(t)
	res := f.svc.Get(context.Background())
	if res.Success || res.Message != MsgNoActiveCart {
		t.Fatalf("unexpected result %+v", res)
	}
	if f.platform.Calls("GetCart") != 0 {
		t.Fatalf("expected no platform lookup without a cached id")
	}
}

func TestAddItem_AnonymousCreatesCartOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res := f.svc.AddItem(ctx, "product-123", 2, 0)
	if !res.Success || res.Cart == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Cart.LineItems) != 1 || res.Cart.LineItems[0].Quantity != 2 {
		t.Fatalf("unexpected line items %+v", res.Cart.LineItems)
	}
	if got := f.refs.Get(ctx); got != res.Cart.ID {
		t.Fatalf("expected anonymous cart id cached, got %q", got)
	}

	res = f.svc.AddItem(ctx, "product-123", 1, 0)
	if !res.Success || res.Cart.LineItems[0].Quantity != 3 {
		t.Fatalf("unexpected second add %+v", res)
	}
	if f.platform.Calls("CreateCart") != 1 {
		t.Fatalf("expected one cart created, got %d", f.platform.Calls("CreateCart"))
	}
	if res.Cart.TotalPrice.CurrencyCode != "EUR" {
		t.Fatalf("expected EUR cart, got %s", res.Cart.TotalPrice.CurrencyCode)
	}
}

func TestAddItem_RejectedByStockCheckBeforeCartCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.platform.AddProduct(cttest.NewProduct("sold-out", 1000, 0))

	res := f.svc.AddItem(ctx, "product-123", 50, 0)
	if res.Success || res.Message != "Only 10 items available" {
		t.Fatalf("unexpected result %+v", res)
	}
	res = f.svc.AddItem(ctx, "sold-out", 1, 0)
	if res.Success || res.Message != "Product is out of stock" {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, op := range []string{"GetCart", "CreateCart", "UpdateCart"} {
		if n := f.platform.Calls(op); n != 0 {
			t.Fatalf("expected no %s calls, got %d", op, n)
		}
	}
}

func TestAddItem_BoundedAttemptsCreateOneCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.clients.anon = lostCarts{API: f.clients.anon}

	res := f.svc.AddItem(ctx, "product-123", 1, 0)
	if res.Success || res.Message != msgMaxAttempts {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := f.platform.Calls("CreateCart"); n != 1 {
		t.Fatalf("expected exactly one cart created, got %d", n)
	}
}

func TestAddItem_CreateFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.platform.FailNext("CreateCart", errors.New("boom"))

	res := f.svc.AddItem(ctx, "product-123", 1, 0)
	if res.Success || res.Message != "Failed to create new cart" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAddItem_RejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	if res := f.svc.AddItem(context.Background(), "product-123", 0, 0); res.Success {
		t.Fatalf("expected rejection")
	}
}

func TestStaleVersionFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	added := f.svc.AddItem(ctx, "product-123", 1, 0)
	if !added.Success {
		t.Fatalf("add: %+v", added)
	}
	before := f.platform.Calls("UpdateCart")
	f.clients.anon = staleReads{API: f.clients.anon}

	res := f.svc.RemoveItem(ctx, added.Cart.LineItems[0].ID)
	if res.Success {
		t.Fatalf("expected stale version to fail")
	}
	if !strings.Contains(res.Message, "different version") {
		t.Fatalf("expected version conflict message, got %q", res.Message)
	}
	if n := f.platform.Calls("UpdateCart") - before; n != 1 {
		t.Fatalf("expected a single update attempt, got %d", n)
	}
	c, _ := f.platform.Cart(added.Cart.ID)
	if len(c.LineItems) != 1 {
		t.Fatalf("cart must be unchanged, got %+v", c.LineItems)
	}
}

func TestChangeItemQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	added := f.svc.AddItem(ctx, "product-123", 1, 0)
	lineID := added.Cart.LineItems[0].ID

	if res := f.svc.ChangeItemQuantity(ctx, lineID, -1); res.Success || res.Message != "Quantity cannot be negative" {
		t.Fatalf("unexpected negative result %+v", res)
	}
	if res := f.svc.ChangeItemQuantity(ctx, lineID, 11); res.Success || res.Message != "Only 10 items available" {
		t.Fatalf("unexpected over-stock result %+v", res)
	}
	if res := f.svc.ChangeItemQuantity(ctx, "missing", 2); res.Success || res.Message != "Line item not found in cart" {
		t.Fatalf("unexpected missing line result %+v", res)
	}

	res := f.svc.ChangeItemQuantity(ctx, lineID, 4)
	if !res.Success || res.Cart.LineItems[0].Quantity != 4 {
		t.Fatalf("unexpected change result %+v", res)
	}

	res = f.svc.ChangeItemQuantity(ctx, lineID, 0)
	if !res.Success || len(res.Cart.LineItems) != 0 {
		t.Fatalf("expected zero quantity to remove line, got %+v", res)
	}
}

func TestClear_SingleUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.AddItem(ctx, "product-123", 1, 0)
	f.svc.AddItem(ctx, "product-456", 2, 0)
	before := f.platform.Calls("UpdateCart")

	res := f.svc.Clear(ctx)
	if !res.Success || len(res.Cart.LineItems) != 0 {
		t.Fatalf("unexpected clear result %+v", res)
	}
	if n := f.platform.Calls("UpdateCart") - before; n != 1 {
		t.Fatalf("expected one update, got %d", n)
	}

	if res := newFixture(t).svc.Clear(ctx); !res.Success || res.Message != MsgNoActiveCart {
		t.Fatalf("unexpected clear without cart %+v", res)
	}
}

func TestAnonymousCartRecreatedWhenCachedIDIsGone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.refs.Set(ctx, "cart-deleted")

	c, err := f.svc.GetOrCreate(ctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if c.ID == "cart-deleted" || f.refs.Get(ctx) != c.ID {
		t.Fatalf("expected new cart cached, got %s (ref %s)", c.ID, f.refs.Get(ctx))
	}
}

func TestCustomerGetOrCreate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login("jane@example.com", "Secret123")

	c, err := f.svc.GetOrCreate(ctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if c.CustomerID == "" || c.Country != "DE" {
		t.Fatalf("expected customer cart in DE, got %+v", c)
	}
	again, err := f.svc.GetOrCreate(ctx)
	if err != nil || again.ID != c.ID {
		t.Fatalf("expected same cart, got %s err=%v", again.ID, err)
	}
	if f.platform.Calls("CreateMyCart") != 1 || f.platform.Calls("CreateCart") != 0 {
		t.Fatalf("unexpected create calls")
	}
	if f.refs.Get(ctx) != "" {
		t.Fatalf("customer carts must not be cached as anonymous")
	}
	if res := f.svc.Get(ctx); !res.Success || res.Message != "Active cart retrieved" {
		t.Fatalf("unexpected get %+v", res)
	}
}

func TestMerge_CreatesCustomerCartFromAnonymousLines(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.AddItem(ctx, "product-123", 1, 0)
	anon := f.svc.AddItem(ctx, "product-456", 2, 0)
	anonID := anon.Cart.ID

	f.login("jane@example.com", "Secret123")
	if err := f.svc.MergeAnonymousCart(ctx); err != nil {
		t.Fatalf("merge: %v", err)
	}

	me, _ := f.clients.customer.GetMe(ctx)
	carts := f.platform.CustomerCarts(me.ID)
	if len(carts) != 1 || len(carts[0].LineItems) != 2 {
		t.Fatalf("expected one customer cart with 2 lines, got %+v", carts)
	}
	if _, ok := f.platform.Cart(anonID); ok {
		t.Fatalf("expected anonymous cart deleted")
	}
	if f.refs.Get(ctx) != "" {
		t.Fatalf("expected anonymous cart id cleared")
	}

	// A second merge has nothing to do.
	if err := f.svc.MergeAnonymousCart(ctx); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	carts = f.platform.CustomerCarts(me.ID)
	if len(carts) != 1 || len(carts[0].LineItems) != 2 {
		t.Fatalf("second merge changed carts: %+v", carts)
	}
}

func TestMerge_AppendsToExistingCustomerCart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.login("jane@example.com", "Secret123")
	f.svc.AddItem(ctx, "product-123", 1, 0)
	customer := f.clients.customer

	f.clients.customer = nil
	f.svc.AddItem(ctx, "product-123", 2, 0)
	f.svc.AddItem(ctx, "product-456", 1, 0)
	f.clients.customer = customer

	if err := f.svc.MergeAnonymousCart(ctx); err != nil {
		t.Fatalf("merge: %v", err)
	}
	res := f.svc.Get(ctx)
	if !res.Success || len(res.Cart.LineItems) != 2 {
		t.Fatalf("unexpected merged cart %+v", res)
	}
	if q := res.Cart.LineItems[0].Quantity; q != 3 {
		t.Fatalf("expected merged quantity 3, got %d", q)
	}
	if f.platform.Calls("UpdateMyCart") != 2 {
		t.Fatalf("expected one add plus one merge update, got %d", f.platform.Calls("UpdateMyCart"))
	}
}

func TestMerge_RequiresCustomer(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.MergeAnonymousCart(context.Background()); err == nil {
		t.Fatalf("expected error without customer session")
	}
}

func TestSubscribe_ReplaysAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var seen []bool
	unsubscribe := f.svc.Subscribe(ctx, func(empty bool) { seen = append(seen, empty) })
	if len(seen) != 1 || !seen[0] {
		t.Fatalf("expected immediate empty=true, got %v", seen)
	}

	added := f.svc.AddItem(ctx, "product-123", 1, 0)
	if len(seen) != 2 || seen[1] {
		t.Fatalf("expected empty=false after add, got %v", seen)
	}
	f.svc.RemoveItem(ctx, added.Cart.LineItems[0].ID)
	if len(seen) != 3 || !seen[2] {
		t.Fatalf("expected empty=true after remove, got %v", seen)
	}

	unsubscribe()
	f.svc.AddItem(ctx, "product-123", 1, 0)
	if len(seen) != 3 {
		t.Fatalf("listener called after unsubscribe")
	}
}

func TestIsEmpty_FetchErrorCountsAsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.svc.AddItem(ctx, "product-123", 1, 0)
	if f.svc.IsEmpty(ctx) {
		t.Fatalf("expected non-empty cart")
	}
	f.platform.FailNext("GetCart", errors.New("timeout"))
	if !f.svc.IsEmpty(ctx) {
		t.Fatalf("expected fetch error to count as empty")
	}
}

func TestCheckItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	noData := cttest.NewProduct("no-data", 100, 5)
	noData.MasterData.Current.MasterVariant.Availability = nil
	f.platform.AddProduct(noData)

	multi := cttest.NewProduct("multi", 100, 5)
	two := int64(2)
	yes := true
	multi.MasterData.Current.Variants = []domain.Variant{{ID: 2, Availability: &domain.Availability{IsOnStock: &yes, AvailableQuantity: &two}}}
	f.platform.AddProduct(multi)

	cases := []struct {
		product   string
		variant   int
		qty       int
		available bool
		message   string
	}{
		{"missing", 0, 1, false, "Product not found"},
		{"multi", 9, 1, false, "Variant not found"},
		{"no-data", 0, 1, false, "Availability data not available"},
		{"multi", 2, 3, false, "Only 2 items available"},
		{"multi", 2, 2, true, ""},
		{"multi", 1, 5, true, ""},
	}
	for _, tc := range cases {
		got := f.svc.CheckItem(ctx, tc.product, tc.qty, tc.variant)
		if got.Available != tc.available || got.Message != tc.message {
			t.Fatalf("%s/%d qty %d: expected %v %q, got %+v", tc.product, tc.variant, tc.qty, tc.available, tc.message, got)
		}
	}

	f.platform.FailNext("GetProduct", errors.New("timeout"))
	if got := f.svc.CheckItem(ctx, "product-123", 1, 0); got.Message != "Availability check failed" {
		t.Fatalf("unexpected failure message %+v", got)
	}
}
