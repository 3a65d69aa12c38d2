package token

import (
	"context"
	"encoding/json"
	"io"
	"log"

	"commercetools-storefront/internal/domain"
	"commercetools-storefront/internal/repository/kv"
)

// Cache persists one TokenRecord per identity. Storage failures and corrupt
// entries never surface: they read as "no token" and the slot is cleared.
type Cache struct {
	store  kv.Repository
	logger *log.Logger
}

// NewCache returns a Cache writing through store.
func NewCache(store kv.Repository, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Cache{store: store, logger: logger}
}

// storedRecord uses pointers so missing required fields can be detected.
type storedRecord struct {
	Token          *string `json:"token"`
	ExpirationTime *int64  `json:"expirationTime"`
	RefreshToken   *string `json:"refreshToken,omitempty"`
}

// Get returns the record for id. Expiry is not checked here.
func (c *Cache) Get(ctx context.Context, id domain.Identity) (domain.TokenRecord, bool) {
	key := id.StorageKey()
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Printf("token cache: read %s: %v", key, err)
		return domain.TokenRecord{}, false
	}
	if !ok {
		return domain.TokenRecord{}, false
	}

	var stored storedRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.Token == nil || stored.ExpirationTime == nil {
		c.logger.Printf("token cache: discarding malformed %s entry", key)
		c.Clear(ctx, id)
		return domain.TokenRecord{}, false
	}
	rec := domain.TokenRecord{Token: *stored.Token, ExpirationTime: *stored.ExpirationTime}
	if stored.RefreshToken != nil {
		rec.RefreshToken = *stored.RefreshToken
	}
	if rec.Empty() {
		c.Clear(ctx, id)
		return domain.TokenRecord{}, false
	}
	return rec, true
}

// Set persists rec for id. An empty token clears the slot instead.
func (c *Cache) Set(ctx context.Context, id domain.Identity, rec domain.TokenRecord) {
	if rec.Empty() {
		c.Clear(ctx, id)
		return
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.logger.Printf("token cache: encode %s: %v", id.StorageKey(), err)
		return
	}
	if err := c.store.Set(ctx, id.StorageKey(), string(raw)); err != nil {
		c.logger.Printf("token cache: write %s: %v", id.StorageKey(), err)
	}
}

// Clear removes the slot and returns the canonical empty record.
func (c *Cache) Clear(ctx context.Context, id domain.Identity) domain.TokenRecord {
	if err := c.store.Delete(ctx, id.StorageKey()); err != nil {
		c.logger.Printf("token cache: clear %s: %v", id.StorageKey(), err)
	}
	return domain.TokenRecord{}
}

// Slot binds the cache to a single identity.
func (c *Cache) Slot(id domain.Identity) Slot {
	return Slot{cache: c, identity: id}
}

// Slot is the get/set/clear hook set handed to one credential provider.
type Slot struct {
	cache    *Cache
	identity domain.Identity
}

func (s Slot) Identity() domain.Identity { return s.identity }

func (s Slot) Get(ctx context.Context) (domain.TokenRecord, bool) {
	return s.cache.Get(ctx, s.identity)
}

func (s Slot) Set(ctx context.Context, rec domain.TokenRecord) {
	s.cache.Set(ctx, s.identity, rec)
}

func (s Slot) Clear(ctx context.Context) domain.TokenRecord {
	return s.cache.Clear(ctx, s.identity)
}
