package validation

import (
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with struct-level validation for
// PriceRequest registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()
	v.RegisterStructValidation(priceRequestStructValidation, PriceRequest{})
	return v
}

// priceRequestStructValidation enforces what field tags cannot: every URL
// must carry an http(s) scheme and the batch must not contain duplicates
// after trimming.
func priceRequestStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(PriceRequest)

	seen := make(map[string]bool, len(req.URLs))
	for _, raw := range req.URLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			sl.ReportError(req.URLs, "urls", "URLs", "url_blank", "")
			continue
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			sl.ReportError(req.URLs, "urls", "URLs", "url_scheme", url)
		}
		if seen[url] {
			sl.ReportError(req.URLs, "urls", "URLs", "url_duplicate", url)
		}
		seen[url] = true
	}
}
