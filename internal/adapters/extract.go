package adapters

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"pricewatch/internal/products"
)

// scriptBlocks returns the inner text of every <script> tag whose opening
// tag contains marker, e.g. `id="__NEXT_DATA__"` or
// `type="application/ld+json"`.
func scriptBlocks(html, marker string) []string {
	var blocks []string
	rest := html
	for {
		open := strings.Index(rest, "<script")
		if open < 0 {
			return blocks
		}
		rest = rest[open:]
		tagEnd := strings.Index(rest, ">")
		if tagEnd < 0 {
			return blocks
		}
		tag := rest[:tagEnd+1]
		rest = rest[tagEnd+1:]
		end := strings.Index(rest, "</script>")
		if end < 0 {
			return blocks
		}
		if strings.Contains(tag, marker) {
			blocks = append(blocks, rest[:end])
		}
		rest = rest[end+len("</script>"):]
	}
}

func firstScriptBlock(html, marker string) (string, bool) {
	blocks := scriptBlocks(html, marker)
	if len(blocks) == 0 {
		return "", false
	}
	return blocks[0], true
}

// asFloat coerces the number-or-string price values these pages carry.
func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimPrefix(n, "$"), ",", ""))
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// extractWalmart pulls the product out of the embedded __NEXT_DATA__ JSON.
func extractWalmart(url, html string) (*products.Product, error) {
	raw, ok := firstScriptBlock(html, `id="__NEXT_DATA__"`)
	if !ok {
		return nil, ErrNoProduct
	}

	var data struct {
		Props struct {
			PageProps struct {
				InitialData struct {
					Data struct {
						Product struct {
							Name      string `json:"name"`
							Brand     string `json:"brand"`
							USItemID  string `json:"usItemId"`
							Category  struct {
								Path []struct {
									Name string `json:"name"`
								} `json:"path"`
							} `json:"category"`
							PriceInfo struct {
								CurrentPrice struct {
									Price       any    `json:"price"`
									PriceString string `json:"priceString"`
								} `json:"currentPrice"`
								UnitPrice struct {
									Price       any    `json:"price"`
									PriceString string `json:"priceString"`
								} `json:"unitPrice"`
							} `json:"priceInfo"`
						} `json:"product"`
					} `json:"data"`
				} `json:"initialData"`
			} `json:"pageProps"`
		} `json:"props"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse __NEXT_DATA__: %w", err)
	}

	prod := data.Props.PageProps.InitialData.Data.Product
	price := asFloat(prod.PriceInfo.CurrentPrice.Price)
	if prod.Name == "" || price == 0 {
		return nil, ErrNoProduct
	}

	category := ""
	if n := len(prod.Category.Path); n > 0 {
		category = prod.Category.Path[n-1].Name
	}
	return &products.Product{
		URL:                url,
		Name:               prod.Name,
		Price:              price,
		PriceString:        prod.PriceInfo.CurrentPrice.PriceString,
		PricePerUnit:       asFloat(prod.PriceInfo.UnitPrice.Price),
		PricePerUnitString: prod.PriceInfo.UnitPrice.PriceString,
		Brand:              prod.Brand,
		SKU:                prod.USItemID,
		Category:           category,
	}, nil
}

// extractCostco pulls the product out of the productDataJson script tag.
func extractCostco(url, html string) (*products.Product, error) {
	raw, ok := firstScriptBlock(html, `id="productDataJson"`)
	if !ok {
		return nil, ErrNoProduct
	}

	var data struct {
		Name           string `json:"name"`
		BrandName      string `json:"brandName"`
		ItemNumber     string `json:"itemNumber"`
		CategoryString string `json:"categoryString"`
		ProductPricing struct {
			FinalPrice          any    `json:"finalPrice"`
			FormattedFinalPrice string `json:"formattedFinalPrice"`
		} `json:"productPricing"`
		WarehouseInfo struct {
			WarehouseID string `json:"warehouseId"`
			Address     struct {
				Address1 string `json:"address1"`
				ZipCode  string `json:"zipCode"`
			} `json:"address"`
		} `json:"warehouseInfo"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("parse productDataJson: %w", err)
	}

	price := asFloat(data.ProductPricing.FinalPrice)
	if data.Name == "" || price == 0 {
		return nil, ErrNoProduct
	}
	return &products.Product{
		URL:          url,
		Name:         data.Name,
		Price:        price,
		PriceString:  data.ProductPricing.FormattedFinalPrice,
		StoreID:      data.WarehouseInfo.WarehouseID,
		StoreAddress: data.WarehouseInfo.Address.Address1,
		StoreZip:     data.WarehouseInfo.Address.ZipCode,
		Brand:        data.BrandName,
		SKU:          data.ItemNumber,
		Category:     data.CategoryString,
	}, nil
}

// ldProduct is the schema.org Product shape found in ld+json blocks. Brand
// appears both as a plain string and as a nested object in the wild.
type ldProduct struct {
	Type     string          `json:"@type"`
	Name     string          `json:"name"`
	Brand    json.RawMessage `json:"brand"`
	SKU      string          `json:"sku"`
	Category string          `json:"category"`
	Offers   struct {
		Price any `json:"price"`
	} `json:"offers"`
}

func (p *ldProduct) brandName() string {
	if len(p.Brand) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Brand, &s); err == nil {
		return s
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(p.Brand, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// extractLDJSON scans the page's ld+json blocks for a schema.org Product.
// Albertsons and ChefStore both publish their product data this way.
func extractLDJSON(url, html string) (*products.Product, error) {
	for _, raw := range scriptBlocks(html, `application/ld+json`) {
		var candidates []ldProduct

		var single ldProduct
		if err := json.Unmarshal([]byte(raw), &single); err == nil {
			candidates = append(candidates, single)
		} else {
			var many []ldProduct
			if err := json.Unmarshal([]byte(raw), &many); err == nil {
				candidates = append(candidates, many...)
			}
		}

		for _, c := range candidates {
			if !strings.EqualFold(c.Type, "Product") {
				continue
			}
			price := asFloat(c.Offers.Price)
			if c.Name == "" || price == 0 {
				continue
			}
			return &products.Product{
				URL:         url,
				Name:        c.Name,
				Price:       price,
				PriceString: fmt.Sprintf("$%.2f", price),
				Brand:       c.brandName(),
				SKU:         c.SKU,
				Category:    c.Category,
			}, nil
		}
	}
	return nil, ErrNoProduct
}
