package domain

import "encoding/json"

// LocalizedString maps locale to text.
type LocalizedString map[string]string

// Get returns the value for locale, falling back to any "en*" entry.
func (l LocalizedString) Get(locale string) string {
	if v, ok := l[locale]; ok {
		return v
	}
	for _, k := range []string{"en", "en-US", "en-GB"} {
		if v, ok := l[k]; ok {
			return v
		}
	}
	return ""
}

type Product struct {
	ID         string      `json:"id"`
	Version    int         `json:"version"`
	Key        string      `json:"key,omitempty"`
	MasterData CatalogData `json:"masterData"`
}

type CatalogData struct {
	Current   *ProductData `json:"current,omitempty"`
	Staged    *ProductData `json:"staged,omitempty"`
	Published bool         `json:"published"`
}

type ProductData struct {
	Name          LocalizedString `json:"name"`
	Description   LocalizedString `json:"description,omitempty"`
	Slug          LocalizedString `json:"slug,omitempty"`
	MasterVariant Variant         `json:"masterVariant"`
	Variants      []Variant       `json:"variants"`
}

// Variant resolves a variant id against the master variant and variants.
// Zero selects the master variant.
func (d *ProductData) Variant(id int) (Variant, bool) {
	if id == 0 || id == d.MasterVariant.ID {
		return d.MasterVariant, true
	}
	for _, v := range d.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

type Variant struct {
	ID           int           `json:"id"`
	SKU          string        `json:"sku,omitempty"`
	Prices       []Price       `json:"prices,omitempty"`
	Images       []Image       `json:"images,omitempty"`
	Availability *Availability `json:"availability,omitempty"`
}

type Image struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// Availability is the platform's stock projection for a variant.
type Availability struct {
	IsOnStock         *bool  `json:"isOnStock,omitempty"`
	AvailableQuantity *int64 `json:"availableQuantity,omitempty"`
}

// ProductProjection is a product flattened to one catalog version, as the
// search endpoint returns it.
type ProductProjection struct {
	ID            string          `json:"id"`
	Version       int             `json:"version"`
	Key           string          `json:"key,omitempty"`
	Name          LocalizedString `json:"name"`
	Description   LocalizedString `json:"description,omitempty"`
	Slug          LocalizedString `json:"slug,omitempty"`
	MasterVariant Variant         `json:"masterVariant"`
	Variants      []Variant       `json:"variants"`
}

// ProductSearch are the product projection search parameters. Text is
// matched in Locale; the list parameters are sent as repeated query values.
type ProductSearch struct {
	Text                 string
	Locale               string
	Fuzzy                bool
	FuzzyLevel           int
	Limit                int
	Offset               int
	Staged               bool
	MarkMatchingVariants bool
	Sort                 []string
	Filter               []string
	FilterQuery          []string
	FilterFacets         []string
	Facet                []string
	PriceCurrency        string
	PriceCountry         string
}

type ProductSearchResponse struct {
	PagedQueryResponse[ProductProjection]
	Facets map[string]json.RawMessage `json:"facets,omitempty"`
}
