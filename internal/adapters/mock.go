package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"pricewatch/internal/products"
)

var mockBrands = []string{"Great Value", "Kirkland Signature", "Signature Select", "Monarch", "Lucerne"}

var mockCategories = []string{"Dairy", "Produce", "Bakery", "Pantry", "Frozen"}

// MockAdapter serves deterministic synthetic products without any network
// traffic. The same (store, url) pair always yields the same product, so
// repeated fetches are comparable across runs.
type MockAdapter struct {
	name    string
	display string
}

// NewMockAdapter returns an offline adapter for the given store name.
func NewMockAdapter(name, display string) *MockAdapter {
	return &MockAdapter{name: name, display: display}
}

func (m *MockAdapter) Name() string        { return m.name }
func (m *MockAdapter) DisplayName() string { return m.display }

func (m *MockAdapter) FetchAndExtract(ctx context.Context, url string) (*products.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := m.seed(url)

	cents := 99 + seed%9900 // $0.99 .. $99.98
	price := float64(cents) / 100
	perUnit := price / float64(2+seed%14)

	return &products.Product{
		Store:              m.name,
		URL:                url,
		Name:               fmt.Sprintf("Mock Product %06x", seed&0xffffff),
		Price:              price,
		PriceString:        fmt.Sprintf("$%.2f", price),
		PricePerUnit:       perUnit,
		PricePerUnitString: fmt.Sprintf("$%.2f/unit", perUnit),
		StoreID:            fmt.Sprintf("%04d", seed%10000),
		Brand:              mockBrands[seed%uint64(len(mockBrands))],
		SKU:                fmt.Sprintf("%08d", seed%100000000),
		Category:           mockCategories[(seed>>8)%uint64(len(mockCategories))],
	}, nil
}

// FetchRaw returns the synthetic product as pretty-printed JSON, standing
// in for the page content a real adapter would hand back.
func (m *MockAdapter) FetchRaw(ctx context.Context, url string) (string, error) {
	p, err := m.FetchAndExtract(ctx, url)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *MockAdapter) seed(url string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(m.name + "#" + url))
	return h.Sum64()
}
