package storefront

import (
	"io"
	"log"
	"sync"
	"time"

	"commercetools-storefront/internal/commercetools"
	"commercetools-storefront/internal/repository/kv"
	cartsvc "commercetools-storefront/internal/service/cart"
)

type entry struct {
	sf       *Storefront
	lastSeen time.Time
	pins     int
}

// Registry hands out the Storefront bound to a browser session. Instances
// are created on first use and dropped after sitting idle; their stored
// tokens and cart reference stay in the repository.
type Registry struct {
	store     kv.Repository
	connector commercetools.Connector
	opts      cartsvc.Options
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry(store kv.Repository, connector commercetools.Connector, opts cartsvc.Options, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		store:     store,
		connector: connector,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]*entry),
	}
}

// Get returns the Storefront for id, creating it when needed.
func (r *Registry) Get(id string) *Storefront {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.touchLocked(id).sf
}

// Pin returns the Storefront for id and keeps it out of Sweep until the
// returned release func is called. Release is safe to call more than once.
func (r *Registry) Pin(id string) (*Storefront, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.touchLocked(id)
	e.pins++
	var once sync.Once
	return e.sf, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.pins--
			e.lastSeen = r.now()
		})
	}
}

func (r *Registry) touchLocked(id string) *entry {
	e, ok := r.entries[id]
	if !ok {
		e = &entry{sf: New(id, r.store, r.connector, r.opts, r.logger)}
		r.entries[id] = e
	}
	e.lastSeen = r.now()
	return e
}

// Len reports the number of live instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops unpinned instances idle for longer than maxIdle and returns
// how many were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for id, e := range r.entries {
		if e.pins == 0 && e.lastSeen.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Printf("evicted %d idle storefront(s), %d live", removed, len(r.entries))
	}
	return removed
}
