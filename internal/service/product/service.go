package product

import (
	"context"
	"strings"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/domain"
)

const (
	DefaultSearchLimit  = 20
	MaxSearchLimit      = 500
	DefaultSearchLocale = "en-US"
)

type clients interface {
	Anonymous() commercetools.API
}

// Service reads catalog products with the storefront's anonymous identity.
type Service struct {
	clients clients
}

func New(clients clients) *Service {
	return &Service{clients: clients}
}

func (s *Service) Get(ctx context.Context, id string) (domain.Product, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, domain.ErrNotFound
	}
	return s.clients.Anonymous().GetProduct(ctx, id)
}

// Search runs a product projection search. Text is a prefix search term;
// paging is clamped to what the platform accepts.
func (s *Service) Search(ctx context.Context, q domain.ProductSearch) (domain.ProductSearchResponse, error) {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultSearchLimit
	case q.Limit > MaxSearchLimit:
		q.Limit = MaxSearchLimit
	}
	q.Offset = max(q.Offset, 0)

	q.Text = strings.TrimSpace(q.Text)
	if q.Text != "" {
		if q.Locale == "" {
			q.Locale = DefaultSearchLocale
		}
		if !strings.HasSuffix(q.Text, "*") {
			q.Text += "*"
		}
		if q.Fuzzy && q.FuzzyLevel == 0 {
			q.FuzzyLevel = 1
		}
	}
	return s.clients.Anonymous().SearchProducts(ctx, q)
}
