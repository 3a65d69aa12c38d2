package cart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
	"github.com/google/uuid"
)

// MsgNoActiveCart is the message of results for an identity without a cart.
const MsgNoActiveCart = "No active cart found"

const (
	msgNotEnoughStock = "Not enough stock"
	msgMaxAttempts    = "Maximum attempts reached. Failed to add item to cart."
)

// ErrNoActiveCart is returned by Apply when there is no cart to update.
var ErrNoActiveCart = errors.New("no active cart")

// Clients hands out the platform client for the current identity.
type Clients interface {
	Anonymous() commercetools.API
	Customer() commercetools.API
}

type refStore interface {
	Get(ctx context.Context) string
	Set(ctx context.Context, id string)
	Clear(ctx context.Context)
}

// Result is the envelope returned by cart operations.
type Result struct {
	Cart    *domain.Cart `json:"cart,omitempty"`
	Success bool         `json:"success"`
	Message string       `json:"message"`
}

// Availability is the outcome of a stock pre-check.
type Availability struct {
	Available         bool   `json:"available"`
	Message           string `json:"message,omitempty"`
	AvailableQuantity *int64 `json:"availableQuantity,omitempty"`
}

// EmptinessListener receives the cart's emptiness after every change.
type EmptinessListener func(empty bool)

type Options struct {
	Currency    string
	Country     string
	MaxAttempts int
}

type subscriber struct {
	id int
	fn EmptinessListener
}

// Service coordinates the storefront's current cart across the anonymous
// and customer identities.
type Service struct {
	clients Clients
	refs    refStore
	logger  *log.Logger
	opts    Options

	// mu serializes resolve-or-create and every fetch-then-write pair.
	mu sync.Mutex

	subsMu sync.Mutex
	subs   []subscriber
	nextID int
}

func New(clients Clients, refs refStore, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	if opts.Country == "" {
		opts.Country = "DE"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Service{clients: clients, refs: refs, logger: logger, opts: opts}
}

// current fetches the cart for the active identity. ok is false when the
// identity has no cart.
func (s *Service) current(ctx context.Context) (domain.Cart, bool, error) {
	if customer := s.clients.Customer(); customer != nil {
		c, err := customer.GetMyActiveCart(ctx)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Cart{}, false, nil
		}
		if err != nil {
			return domain.Cart{}, false, err
		}
		return c, true, nil
	}

	id := s.refs.Get(ctx)
	if id == "" {
		return domain.Cart{}, false, nil
	}
	c, err := s.clients.Anonymous().GetCart(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.refs.Clear(ctx)
		return domain.Cart{}, false, nil
	}
	if err != nil {
		return domain.Cart{}, false, err
	}
	return c, true, nil
}

func (s *Service) create(ctx context.Context) (domain.Cart, error) {
	draft := domain.CartDraft{Currency: s.opts.Currency, Country: s.opts.Country}
	if customer := s.clients.Customer(); customer != nil {
		return customer.CreateMyCart(ctx, draft)
	}
	draft.AnonymousID = uuid.NewString()
	c, err := s.clients.Anonymous().CreateCart(ctx, draft)
	if err != nil {
		return domain.Cart{}, err
	}
	s.refs.Set(ctx, c.ID)
	return c, nil
}

func (s *Service) push(ctx context.Context, c domain.Cart, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	if customer := s.clients.Customer(); customer != nil {
		return customer.UpdateMyCart(ctx, c.ID, c.Version, actions...)
	}
	return s.clients.Anonymous().UpdateCart(ctx, c.ID, c.Version, actions...)
}

func (s *Service) failure(op string, err error) Result {
	s.logger.Printf("cart %s: %v", op, err)
	return Result{Success: false, Message: commercetools.Message(err)}
}

// Get returns the current cart without creating one.
func (s *Service) Get(ctx context.Context) Result {
	c, ok, err := s.current(ctx)
	if err != nil {
		return s.failure("get", err)
	}
	if !ok {
		return Result{Success: false, Message: MsgNoActiveCart}
	}
	msg := "Anonymous cart retrieved"
	if s.clients.Customer() != nil {
		msg = "Active cart retrieved"
	}
	return Result{Cart: &c, Success: true, Message: msg}
}

// Create makes a new cart for the current identity.
func (s *Service) Create(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.create(ctx)
	if err != nil {
		return s.failure("create", err)
	}
	return Result{Cart: &c, Success: true, Message: "Cart created successfully"}
}

// GetOrCreate returns the current cart, creating one if there is none.
func (s *Service) GetOrCreate(ctx context.Context) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.current(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if ok {
		return c, nil
	}
	return s.create(ctx)
}

// AddItem adds quantity units of a product variant, creating the cart if
// needed. Creation happens at most once per call.
func (s *Service) AddItem(ctx context.Context, productID string, quantity, variantID int) Result {
	if quantity < 1 {
		return Result{Success: false, Message: "Quantity must be at least 1"}
	}
	avail := s.CheckItem(ctx, productID, quantity, variantID)
	if !avail.Available {
		msg := avail.Message
		if msg == "" {
			msg = msgNotEnoughStock
		}
		return Result{Success: false, Message: msg}
	}

	res := s.addItem(ctx, productID, quantity, variantID)
	if res.Success {
		s.notify(ctx)
	}
	return res
}

func (s *Service) addItem(ctx context.Context, productID string, quantity, variantID int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := false
	for attempt := 0; attempt < s.opts.MaxAttempts; attempt++ {
		c, ok, err := s.current(ctx)
		if err != nil {
			return s.failure("add item", err)
		}
		if ok {
			updated, err := s.push(ctx, c, domain.AddLineItem(productID, variantID, quantity))
			if err != nil {
				return s.failure("add item", err)
			}
			return Result{Cart: &updated, Success: true, Message: "Item added to cart"}
		}
		if created {
			continue
		}
		if _, err := s.create(ctx); err != nil {
			s.logger.Printf("cart add item: create: %v", err)
			return Result{Success: false, Message: "Failed to create new cart"}
		}
		created = true
	}
	return Result{Success: false, Message: msgMaxAttempts}
}

// RemoveItem removes a line item from the current cart.
func (s *Service) RemoveItem(ctx context.Context, lineItemID string) Result {
	c, err := s.Apply(ctx, domain.RemoveLineItem(lineItemID))
	if errors.Is(err, ErrNoActiveCart) {
		return Result{Success: false, Message: MsgNoActiveCart}
	}
	if err != nil {
		return s.failure("remove item", err)
	}
	return Result{Cart: &c, Success: true, Message: "Items removed from cart"}
}

// ChangeItemQuantity sets a line item's quantity. Zero removes the line.
func (s *Service) ChangeItemQuantity(ctx context.Context, lineItemID string, quantity int) Result {
	if quantity < 0 {
		return Result{Success: false, Message: "Quantity cannot be negative"}
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, lineItemID)
	}

	res := s.changeItemQuantity(ctx, lineItemID, quantity)
	if res.Success {
		s.notify(ctx)
	}
	return res
}

func (s *Service) changeItemQuantity(ctx context.Context, lineItemID string, quantity int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.current(ctx)
	if err != nil {
		return s.failure("change quantity", err)
	}
	if !ok {
		return Result{Success: false, Message: MsgNoActiveCart}
	}
	line, ok := c.LineItem(lineItemID)
	if !ok {
		return Result{Success: false, Message: "Line item not found in cart"}
	}

	avail := s.CheckItem(ctx, line.ProductID, quantity, line.Variant.ID)
	if !avail.Available {
		msg := avail.Message
		if msg == "" {
			msg = msgNotEnoughStock
		}
		return Result{Success: false, Message: msg}
	}

	updated, err := s.push(ctx, c, domain.ChangeLineItemQuantity(lineItemID, quantity))
	if err != nil {
		return s.failure("change quantity", err)
	}
	return Result{Cart: &updated, Success: true, Message: "Quantity updated successfully"}
}

// Clear removes every line item with a single update.
func (s *Service) Clear(ctx context.Context) Result {
	res := s.clear(ctx)
	if res.Success && res.Cart != nil {
		s.notify(ctx)
	}
	return res
}

func (s *Service) clear(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.current(ctx)
	if err != nil {
		return s.failure("clear", err)
	}
	if !ok {
		return Result{Success: true, Message: MsgNoActiveCart}
	}
	if len(c.LineItems) == 0 {
		return Result{Cart: &c, Success: true, Message: "Cart cleared successfully"}
	}

	actions := make([]domain.CartUpdateAction, 0, len(c.LineItems))
	for _, li := range c.LineItems {
		actions = append(actions, domain.RemoveLineItem(li.ID))
	}
	updated, err := s.push(ctx, c, actions...)
	if err != nil {
		return s.failure("clear", err)
	}
	return Result{Cart: &updated, Success: true, Message: "Cart cleared successfully"}
}

// Apply pushes actions onto the current cart at its current version and
// notifies subscribers. It never creates a cart.
func (s *Service) Apply(ctx context.Context, actions ...domain.CartUpdateAction) (domain.Cart, error) {
	updated, err := s.apply(ctx, actions)
	if err != nil {
		return domain.Cart{}, err
	}
	s.notify(ctx)
	return updated, nil
}

func (s *Service) apply(ctx context.Context, actions []domain.CartUpdateAction) (domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok, err := s.current(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	if !ok {
		return domain.Cart{}, ErrNoActiveCart
	}
	return s.push(ctx, c, actions...)
}

// CheckItem reports whether quantity units of a product variant are in stock.
// The result is advisory; the platform has the final say.
func (s *Service) CheckItem(ctx context.Context, productID string, quantity, variantID int) Availability {
	if strings.TrimSpace(productID) == "" {
		return Availability{Available: false, Message: "Product not found"}
	}
	product, err := s.clients.Anonymous().GetProduct(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return Availability{Available: false, Message: "Product not found"}
	}
	if err != nil {
		s.logger.Printf("availability check %s: %v", productID, err)
		return Availability{Available: false, Message: "Availability check failed"}
	}
	data := product.MasterData.Current
	if data == nil {
		return Availability{Available: false, Message: "Product not found"}
	}
	variant, ok := data.Variant(variantID)
	if !ok {
		return Availability{Available: false, Message: "Variant not found"}
	}
	if variant.Availability == nil {
		return Availability{Available: false, Message: "Availability data not available"}
	}

	var qty int64
	if variant.Availability.AvailableQuantity != nil {
		qty = *variant.Availability.AvailableQuantity
	}
	onStock := variant.Availability.IsOnStock != nil && *variant.Availability.IsOnStock
	if !onStock {
		return Availability{Available: false, Message: "Product is out of stock"}
	}
	if qty < int64(quantity) {
		return Availability{
			Available:         false,
			Message:           fmt.Sprintf("Only %d items available", qty),
			AvailableQuantity: &qty,
		}
	}
	return Availability{Available: true, AvailableQuantity: &qty}
}

// MergeAnonymousCart moves the anonymous cart's line items into the
// customer's active cart, or into a new customer cart, then deletes the
// anonymous cart.
func (s *Service) MergeAnonymousCart(ctx context.Context) error {
	merged, err := s.mergeAnonymousCart(ctx)
	if merged {
		s.notify(ctx)
	}
	return err
}

func (s *Service) mergeAnonymousCart(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer := s.clients.Customer()
	if customer == nil {
		return false, errors.New("merge anonymous cart: no customer session")
	}
	anonID := s.refs.Get(ctx)
	if anonID == "" {
		return false, nil
	}

	anonymous := s.clients.Anonymous()
	anon, err := anonymous.GetCart(ctx, anonID)
	if errors.Is(err, domain.ErrNotFound) {
		s.refs.Clear(ctx)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fetch anonymous cart: %w", err)
	}

	if len(anon.LineItems) > 0 {
		if err := s.mergeLines(ctx, customer, anon); err != nil {
			return false, err
		}
	}

	if err := anonymous.DeleteCart(ctx, anon.ID, anon.Version); err != nil {
		s.logger.Printf("delete anonymous cart %s: %v", anon.ID, err)
	}
	s.refs.Clear(ctx)
	return true, nil
}

func (s *Service) mergeLines(ctx context.Context, customer commercetools.API, anon domain.Cart) error {
	existing, err := customer.GetMyActiveCart(ctx)
	switch {
	case err == nil:
		actions := make([]domain.CartUpdateAction, 0, len(anon.LineItems))
		for _, li := range anon.LineItems {
			actions = append(actions, domain.AddLineItem(li.ProductID, li.Variant.ID, li.Quantity))
		}
		if _, err := customer.UpdateMyCart(ctx, existing.ID, existing.Version, actions...); err != nil {
			return fmt.Errorf("merge into cart %s: %w", existing.ID, err)
		}
	case errors.Is(err, domain.ErrNotFound):
		draft := domain.CartDraft{
			Currency: anon.TotalPrice.CurrencyCode,
			Country:  anon.Country,
		}
		if draft.Currency == "" {
			draft.Currency = s.opts.Currency
		}
		if draft.Country == "" {
			draft.Country = s.opts.Country
		}
		for _, li := range anon.LineItems {
			draft.LineItems = append(draft.LineItems, domain.LineItemDraft{
				ProductID: li.ProductID,
				VariantID: li.Variant.ID,
				Quantity:  li.Quantity,
			})
		}
		if _, err := customer.CreateMyCart(ctx, draft); err != nil {
			return fmt.Errorf("create merged cart: %w", err)
		}
	default:
		return fmt.Errorf("fetch customer cart: %w", err)
	}
	return nil
}

// IsEmpty reports whether the current cart has no line items. Fetch errors
// count as empty.
func (s *Service) IsEmpty(ctx context.Context) bool {
	c, ok, err := s.current(ctx)
	if err != nil {
		s.logger.Printf("cart emptiness check: %v", err)
		return true
	}
	return !ok || c.Empty()
}

// Subscribe registers fn and calls it once right away with the current
// emptiness. The returned func unsubscribes.
func (s *Service) Subscribe(ctx context.Context, fn EmptinessListener) func() {
	s.subsMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subsMu.Unlock()

	fn(s.IsEmpty(ctx))

	return func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// notify re-evaluates emptiness and calls every subscriber.
func (s *Service) notify(ctx context.Context) {
	s.subsMu.Lock()
	snapshot := make([]subscriber, len(s.subs))
	copy(snapshot, s.subs)
	s.subsMu.Unlock()
	if len(snapshot) == 0 {
		return
	}

	empty := s.IsEmpty(ctx)
	for _, sub := range snapshot {
		sub.fn(empty)
	}
}
