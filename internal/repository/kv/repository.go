package kv

import "context"

// Repository persists small string values by key. Get reports a missing key
// with ok=false and a nil error.
type Repository interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

type namespaced struct {
	repo   Repository
	prefix string
}

// Namespaced scopes every key of repo under prefix, so several storefront
// instances can share one backend without seeing each other's keys.
func Namespaced(repo Repository, prefix string) Repository {
	if prefix == "" {
		return repo
	}
	return &namespaced{repo: repo, prefix: prefix + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.repo.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key, value string) error {
	return n.repo.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.repo.Delete(ctx, n.prefix+key)
}

func (n *namespaced) Ping(ctx context.Context) error {
	return n.repo.Ping(ctx)
}
