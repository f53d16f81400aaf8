package adapters

import (
	"context"
	"fmt"

	"pricewatch/internal/products"
)

// scraperAdapter is a ScraperAPI-backed StoreAdapter: per-store request
// params plus an extraction function over the fetched page.
type scraperAdapter struct {
	name    string
	display string
	client  *Client
	params  map[string]any
	extract func(url, html string) (*products.Product, error)
}

func (a *scraperAdapter) Name() string        { return a.name }
func (a *scraperAdapter) DisplayName() string { return a.display }

func (a *scraperAdapter) FetchAndExtract(ctx context.Context, url string) (*products.Product, error) {
	html, err := a.client.Fetch(ctx, url, a.params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s page: %w", a.name, err)
	}
	p, err := a.extract(url, html)
	if err != nil {
		return nil, fmt.Errorf("extract %s product: %w", a.name, err)
	}
	p.Store = a.name
	return p, nil
}

// FetchRaw fetches the page with the store's params and returns the body
// as-is, skipping extraction.
func (a *scraperAdapter) FetchRaw(ctx context.Context, url string) (string, error) {
	html, err := a.client.Fetch(ctx, url, a.params)
	if err != nil {
		return "", fmt.Errorf("fetch %s page: %w", a.name, err)
	}
	return html, nil
}

// NewWalmart scrapes walmart.com product pages via their __NEXT_DATA__ blob.
func NewWalmart(client *Client) StoreAdapter {
	return &scraperAdapter{
		name:    "walmart",
		display: "Walmart",
		client:  client,
		params: map[string]any{
			"premium":      false,
			"country_code": "us",
			"device_type":  "desktop",
		},
		extract: extractWalmart,
	}
}

// NewCostco scrapes costco.com via the productDataJson script tag. Costco
// requires a premium proxy pool.
func NewCostco(client *Client) StoreAdapter {
	return &scraperAdapter{
		name:    "costco",
		display: "Costco",
		client:  client,
		params: map[string]any{
			"premium":      true,
			"country_code": "us",
			"device_type":  "desktop",
		},
		extract: extractCostco,
	}
}

// NewAlbertsons scrapes albertsons.com via its schema.org ld+json blocks.
func NewAlbertsons(client *Client) StoreAdapter {
	return &scraperAdapter{
		name:    "albertsons",
		display: "Albertsons",
		client:  client,
		params: map[string]any{
			"premium":      true,
			"country_code": "us",
			"device_type":  "desktop",
		},
		extract: extractLDJSON,
	}
}

// NewChefStore scrapes chefstore.com via its schema.org ld+json blocks.
func NewChefStore(client *Client) StoreAdapter {
	return &scraperAdapter{
		name:    "chefstore",
		display: "US Foods CHEF'STORE",
		client:  client,
		params: map[string]any{
			"premium":      false,
			"country_code": "us",
			"device_type":  "desktop",
		},
		extract: extractLDJSON,
	}
}

// NewScraperRegistry wires all supported stores onto one shared client.
func NewScraperRegistry(client *Client) *Registry {
	return NewRegistry(
		NewWalmart(client),
		NewAlbertsons(client),
		NewChefStore(client),
		NewCostco(client),
	)
}

// NewMockRegistry serves deterministic offline products for all supported
// stores, for local development and tests without a ScraperAPI key.
func NewMockRegistry() *Registry {
	return NewRegistry(
		NewMockAdapter("walmart", "Walmart"),
		NewMockAdapter("albertsons", "Albertsons"),
		NewMockAdapter("chefstore", "US Foods CHEF'STORE"),
		NewMockAdapter("costco", "Costco"),
	)
}
