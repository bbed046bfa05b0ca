package domain

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when price text carries no currency marker.
const DefaultCurrency = "INR"

var currencySymbols = map[string]string{
	"INR": "₹",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// Price is a non-negative amount in a currency.
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewPrice builds a price from an integer amount, mostly for tests and fixtures.
func NewPrice(amount int64, currency string) Price {
	return Price{Amount: decimal.NewFromInt(amount), Currency: currency}
}

// Less reports whether p is strictly cheaper than other.
func (p Price) Less(other Price) bool {
	return p.Amount.LessThan(other.Amount)
}

// Comparable reports whether two prices share a currency.
func (p Price) Comparable(other Price) bool {
	return p.Currency == other.Currency
}

// Key is the canonical amount string used in signatures.
func (p Price) Key() string {
	return p.Amount.String()
}

func (p Price) String() string {
	if sym, ok := currencySymbols[p.Currency]; ok {
		return sym + p.Amount.String()
	}
	return fmt.Sprintf("%s %s", p.Amount.String(), p.Currency)
}

// StockStatus is the availability read from a product page.
type StockStatus int

const (
	StockUnknown StockStatus = iota
	InStock
	OutOfStock
)

func (s StockStatus) String() string {
	switch s {
	case InStock:
		return "in_stock"
	case OutOfStock:
		return "out_of_stock"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s StockStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts the string form written by MarshalJSON.
func (s *StockStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "in_stock":
		*s = InStock
	case "out_of_stock":
		*s = OutOfStock
	default:
		*s = StockUnknown
	}
	return nil
}
