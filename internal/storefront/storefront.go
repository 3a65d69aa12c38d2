// Package storefront assembles the per-browser services and keeps one
// instance per session id.
package storefront

import (
	"io"
	"log"

	"commercetools-storefront/internal/commercetools"
	cartrepo "commercetools-storefront/internal/repository/cart"
	"commercetools-storefront/internal/repository/kv"
	tokenrepo "commercetools-storefront/internal/repository/token"
	cartsvc "commercetools-storefront/internal/service/cart"
	customersvc "commercetools-storefront/internal/service/customer"
	discountsvc "commercetools-storefront/internal/service/discount"
	productsvc "commercetools-storefront/internal/service/product"
	sessionsvc "commercetools-storefront/internal/service/session"
)

// Storefront is one isolated app instance: its own token slots, anonymous
// cart reference and customer session.
type Storefront struct {
	ID        string
	Session   *sessionsvc.Service
	Carts     *cartsvc.Service
	Discounts *discountsvc.Service
	Customers *customersvc.Service
	Products  *productsvc.Service
}

// New builds a Storefront whose keys live under id in store.
func New(id string, store kv.Repository, connector commercetools.Connector, opts cartsvc.Options, logger *log.Logger) *Storefront {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	scoped := kv.Namespaced(store, "storefront:"+id)
	tokens := tokenrepo.NewCache(scoped, logger)

	sess := sessionsvc.New(connector, tokens, logger)
	carts := cartsvc.New(sess, cartrepo.NewRefStore(scoped, logger), opts, logger)
	sess.SetMerger(carts)

	return &Storefront{
		ID:        id,
		Session:   sess,
		Carts:     carts,
		Discounts: discountsvc.New(carts, sess, logger),
		Customers: customersvc.New(sess, logger),
		Products:  productsvc.New(sess),
	}
}
