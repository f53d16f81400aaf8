package adapters

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"pricewatch/internal/products"
)

// ErrUnsupportedStore is returned by Registry.Lookup for store names no
// adapter is registered under.
var ErrUnsupportedStore = errors.New("unsupported store")

// ErrNoProduct signals the page was fetched but no product could be
// extracted from it.
var ErrNoProduct = errors.New("no product data found in page")

// StoreAdapter is the per-store fetch-and-extract capability. The dedup
// core treats it as an opaque operation; all parsing knowledge lives behind
// this interface.
type StoreAdapter interface {
	Name() string
	DisplayName() string
	FetchAndExtract(ctx context.Context, url string) (*products.Product, error)
}

// RawFetcher is the optional debugging capability of an adapter: fetch the
// page and hand back its raw content without running extraction. Used to
// inspect what a store actually serves when extraction breaks.
type RawFetcher interface {
	FetchRaw(ctx context.Context, url string) (string, error)
}

// Registry maps store names to adapters. Stores are addressed by the
// explicit name in the request; there is no URL-based auto-detection.
type Registry struct {
	adapters map[string]StoreAdapter
}

// NewRegistry builds a registry from the given adapters, keyed by Name().
func NewRegistry(adapters ...StoreAdapter) *Registry {
	r := &Registry{adapters: make(map[string]StoreAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Lookup resolves a store name to its adapter.
func (r *Registry) Lookup(store string) (StoreAdapter, error) {
	a, ok := r.adapters[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedStore, store)
	}
	return a, nil
}

// Supported returns name → display name for every registered store.
func (r *Registry) Supported() map[string]string {
	out := make(map[string]string, len(r.adapters))
	for name, a := range r.adapters {
		out[name] = a.DisplayName()
	}
	return out
}

// Names returns the registered store names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
