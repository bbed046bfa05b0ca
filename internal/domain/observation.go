package domain

import "time"

// NormalizedTitle is a product title with marketplace boilerplate removed,
// lower-cased and whitespace-collapsed.
type NormalizedTitle string

// ProductSignature identifies an offer: a product (by title similarity) on a
// storefront at a price, optionally narrowed to a variant label.
type ProductSignature struct {
	Title       NormalizedTitle `json:"title"`
	Marketplace string          `json:"marketplace"`
	Price       string          `json:"price,omitempty"`
	Variant     string          `json:"variant,omitempty"`
}

// Source records where an observation was read.
type Source struct {
	Marketplace string `json:"marketplace"`
	URL         string `json:"url"`
	Route       Route  `json:"route"`
}

// PriceObservation is one price read from one screen.
type PriceObservation struct {
	Signature  ProductSignature `json:"signature"`
	Title      string           `json:"title"`
	Price      *Price           `json:"price,omitempty"`
	Stock      StockStatus      `json:"stock"`
	Source     Source           `json:"source"`
	Seq        int              `json:"seq"`
	ObservedAt time.Time        `json:"observedAt"`
}

// Valid reports whether the observation carries a price for an item that is
// confirmed in stock.
func (o *PriceObservation) Valid() bool {
	return o != nil && o.Price != nil && o.Stock == InStock
}

// VariantTarget is a selectable option on a product page.
type VariantTarget struct {
	Label     string `json:"label"`
	PriceHint *Price `json:"priceHint,omitempty"`
	Point     Point  `json:"point"`
}

// SimilarItemTarget is an entry in a "similar products" section.
type SimilarItemTarget struct {
	Title     string `json:"title"`
	PriceHint *Price `json:"priceHint,omitempty"`
	Point     Point  `json:"point"`
}

// ScreenObservation is the structured reading of one screen capture.
type ScreenObservation struct {
	Title          string              `json:"title"`
	Primary        *PriceObservation   `json:"primary,omitempty"`
	PriceErr       error               `json:"-"`
	Stock          StockStatus         `json:"stock"`
	Variants       []VariantTarget     `json:"variants,omitempty"`
	SimilarItems   []SimilarItemTarget `json:"similarItems,omitempty"`
	Scrollable     bool                `json:"scrollable"`
	AddToCart      *Box                `json:"addToCart,omitempty"`
	SimilarSection *Box                `json:"similarSection,omitempty"`
	CartConfirmed  bool                `json:"cartConfirmed"`
	PageError      bool                `json:"pageError"`
}

// Empty reports whether nothing usable was read.
func (s *ScreenObservation) Empty() bool {
	return s == nil || (s.Title == "" && s.Primary == nil && len(s.Variants) == 0 &&
		len(s.SimilarItems) == 0 && s.AddToCart == nil && !s.CartConfirmed)
}
