package validation

// PriceRequest is the payload for POST /api/v1/get-prices. The store is
// explicit; there is no URL-based store detection. Batch size and per-URL
// length bounds are enforced here so the dedup core only ever sees clean
// keys.
type PriceRequest struct {
	Store string   `json:"store" validate:"required"`
	URLs  []string `json:"urls" validate:"required,min=1,max=10,dive,required,max=1024"`
}
