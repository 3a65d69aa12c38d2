package cart

import (
	"context"
	"io"
	"log"
	"strings"

	"commercetools-storefront/internal/repository/kv"
)

const anonymousCartKey = "anonymousCartId"

// RefStore remembers the id of the cart created while the shopper is
// anonymous so it can be merged after login.
type RefStore struct {
	store  kv.Repository
	logger *log.Logger
}

func NewRefStore(store kv.Repository, logger *log.Logger) *RefStore {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RefStore{store: store, logger: logger}
}

// Get returns the remembered anonymous cart id, or "" when none is stored.
func (s *RefStore) Get(ctx context.Context) string {
	id, ok, err := s.store.Get(ctx, anonymousCartKey)
	if err != nil {
		s.logger.Printf("cart ref: read: %v", err)
		return ""
	}
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

func (s *RefStore) Set(ctx context.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		s.Clear(ctx)
		return
	}
	if err := s.store.Set(ctx, anonymousCartKey, id); err != nil {
		s.logger.Printf("cart ref: write: %v", err)
	}
}

func (s *RefStore) Clear(ctx context.Context) {
	if err := s.store.Delete(ctx, anonymousCartKey); err != nil {
		s.logger.Printf("cart ref: clear: %v", err)
	}
}
