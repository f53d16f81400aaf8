package products

import "time"

// Product is the last known good fetch result for a (store, url) key.
// One live row per key; Put overwrites unconditionally.
type Product struct {
	Store              string    `json:"store" dynamodbav:"store"`
	URL                string    `json:"url" dynamodbav:"url"`
	Name               string    `json:"name" dynamodbav:"name"`
	Price              float64   `json:"price" dynamodbav:"price"`
	PriceString        string    `json:"price_string" dynamodbav:"price_string"`
	PricePerUnit       float64   `json:"price_per_unit,omitempty" dynamodbav:"price_per_unit,omitempty"`
	PricePerUnitString string    `json:"price_per_unit_string,omitempty" dynamodbav:"price_per_unit_string,omitempty"`
	StoreID            string    `json:"store_id,omitempty" dynamodbav:"store_id,omitempty"`
	StoreAddress       string    `json:"store_address,omitempty" dynamodbav:"store_address,omitempty"`
	StoreZip           string    `json:"store_zip,omitempty" dynamodbav:"store_zip,omitempty"`
	Brand              string    `json:"brand,omitempty" dynamodbav:"brand,omitempty"`
	SKU                string    `json:"sku,omitempty" dynamodbav:"sku,omitempty"`
	Category           string    `json:"category,omitempty" dynamodbav:"category,omitempty"`
	Timestamp          time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Fresh reports whether the product was fetched within the freshness window.
func (p *Product) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(p.Timestamp) < ttl
}
