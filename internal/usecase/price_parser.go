package usecase

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pricelens/backend/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	// Matches an optional currency marker followed by an amount with Indian or
	// western digit grouping: "₹1,23,456", "Rs. 12,499.00", "$19.99", "12499"
	priceTokenPattern = regexp.MustCompile(`(?i)(₹|\brs\.?|\binr|\busd|\$|€|£|\beur|\bgbp)?\s*(\d{1,3}(?:,\d{2,3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`)

	// Text immediately before a struck-through price
	strikeMarkerPattern = regexp.MustCompile(`(?i)(m\.?\s?r\.?\s?p\.?|\bwas|\blist\s+price|\boriginal\s+price)[\s:]*$`)

	// Text immediately around a discount amount rather than a price
	savingPrefixPattern = regexp.MustCompile(`(?i)(\bsave|\bsaving|\bextra|\bdiscount\s+of|\byou\s+save)[\s:]*$`)
	savingSuffixPattern = regexp.MustCompile(`(?i)^\s*(off\b|%)`)

	// Words that mean the text is showing a discounted offer
	discountContextPattern = regexp.MustCompile(`(?i)\boff\b|%|\bdeal\b|\bdiscount|\bsale\b|~~|\bm\.?r\.?p`)

	onlyLeftPattern = regexp.MustCompile(`(?i)\bonly\s+\d+\s+(left|remaining)\b`)
)

var currencyMarkers = map[string]string{
	"₹": "INR", "rs": "INR", "rs.": "INR", "inr": "INR",
	"$": "USD", "usd": "USD",
	"€": "EUR", "eur": "EUR",
	"£": "GBP", "gbp": "GBP",
}

// Stock cues read from page text. Strong cues decide alone; weak ones need a
// second opinion or the absence of purchase cues.
var (
	strongOutOfStockCues = []string{"out of stock", "sold out", "currently unavailable", "no longer available", "temporarily unavailable"}
	weakOutOfStockCues   = []string{"notify me", "not available", "unavailable", "coming soon"}
	inStockCues          = []string{"in stock", "add to cart", "add to bag", "buy now"}
)

// priceToken is one amount found in price text.
type priceToken struct {
	amount   decimal.Decimal
	currency string
	marked   bool // carried an explicit currency marker
	struck   bool // preceded by an MRP or "was" marker
}

// PriceParser extracts prices and stock status from text read off a screen.
type PriceParser struct {
	defaultCurrency string
}

// NewPriceParser creates a parser assuming defaultCurrency for bare amounts.
func NewPriceParser(defaultCurrency string) *PriceParser {
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &PriceParser{defaultCurrency: strings.ToUpper(defaultCurrency)}
}

// Parse extracts the current price from text.
//
// Struck-through amounts (after "MRP" or "was", or inside "~~") lose to unmarked ones and
// discount amounts ("save ₹500", "20% off") are ignored. Several differing
// current amounts resolve to the lowest when the text shows a discount and
// are ambiguous otherwise.
func (p *PriceParser) Parse(raw string) (domain.Price, error) {
	tokens := p.tokens(raw)
	if len(tokens) == 0 {
		return domain.Price{}, fmt.Errorf("%w: no amount in %q", domain.ErrParse, raw)
	}

	var current, struck []priceToken
	for _, t := range tokens {
		if t.struck {
			struck = append(struck, t)
		} else {
			current = append(current, t)
		}
	}

	switch {
	case len(current) == 0 && len(struck) == 1:
		// Listing shows only its MRP
		return struck[0].price(), nil
	case len(current) == 0:
		return domain.Price{}, fmt.Errorf("%w: only struck prices in %q", domain.ErrAmbiguousPrice, raw)
	case len(current) == 1:
		return current[0].price(), nil
	}

	lowest := current[0]
	allEqual := true
	for _, t := range current[1:] {
		if t.currency != lowest.currency {
			return domain.Price{}, fmt.Errorf("%w: mixed currencies in %q", domain.ErrAmbiguousPrice, raw)
		}
		if !t.amount.Equal(lowest.amount) {
			allEqual = false
		}
		if t.amount.LessThan(lowest.amount) {
			lowest = t
		}
	}

	if allEqual || len(struck) > 0 || discountContextPattern.MatchString(raw) {
		return lowest.price(), nil
	}
	return domain.Price{}, fmt.Errorf("%w: %d competing amounts in %q", domain.ErrAmbiguousPrice, len(current), raw)
}

// ParseHint parses a price hint, returning nil when the hint is missing or
// does not parse cleanly.
func (p *PriceParser) ParseHint(raw string) *domain.Price {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	price, err := p.Parse(raw)
	if err != nil {
		return nil
	}
	return &price
}

// tokens finds candidate amounts in raw. When any amount carries a currency
// marker, bare numbers ("only 3 left", "M34") are dropped.
func (p *PriceParser) tokens(raw string) []priceToken {
	matches := priceTokenPattern.FindAllStringSubmatchIndex(raw, -1)

	var tokens []priceToken
	anyMarked := false
	prevEnd := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		numStart := m[4]
		before := raw[prevEnd:start]
		prevEnd = end

		marker := ""
		if m[2] >= 0 {
			marker = strings.ToLower(raw[m[2]:m[3]])
		}

		// Digits glued to letters are model numbers or capacities
		if marker == "" && (letterBefore(raw, numStart) || letterAfter(raw, end)) {
			continue
		}
		if savingPrefixPattern.MatchString(before) || savingSuffixPattern.MatchString(raw[end:]) {
			continue
		}

		amount, err := decimal.NewFromString(strings.ReplaceAll(raw[numStart:m[5]], ",", ""))
		if err != nil || !amount.IsPositive() {
			continue
		}

		currency := p.defaultCurrency
		if c, ok := currencyMarkers[marker]; ok {
			currency = c
		}

		tokens = append(tokens, priceToken{
			amount:   amount,
			currency: currency,
			marked:   marker != "",
			struck:   strikeMarkerPattern.MatchString(before) || insideStrikethrough(raw, start),
		})
		if marker != "" {
			anyMarked = true
		}
	}

	if !anyMarked {
		return tokens
	}
	kept := tokens[:0]
	for _, t := range tokens {
		if t.marked {
			kept = append(kept, t)
		}
	}
	return kept
}

// insideStrikethrough reports whether offset i sits between an opening and a
// closing "~~".
func insideStrikethrough(s string, i int) bool {
	return strings.Count(s[:i], "~~")%2 == 1
}

func (t priceToken) price() domain.Price {
	return domain.Price{Amount: t.amount, Currency: t.currency}
}

func letterBefore(s string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r)
}

func letterAfter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r)
}

// ClassifyStock reads availability cues from page text.
func (p *PriceParser) ClassifyStock(raw string) domain.StockStatus {
	text := strings.ToLower(raw)
	if strings.TrimSpace(text) == "" {
		return domain.StockUnknown
	}

	for _, cue := range strongOutOfStockCues {
		if strings.Contains(text, cue) {
			return domain.OutOfStock
		}
	}

	weak := 0
	for _, cue := range weakOutOfStockCues {
		if strings.Contains(text, cue) {
			weak++
		}
	}
	if weak >= 2 {
		return domain.OutOfStock
	}

	if onlyLeftPattern.MatchString(text) {
		return domain.InStock
	}
	for _, cue := range inStockCues {
		if strings.Contains(text, cue) {
			return domain.InStock
		}
	}

	if weak == 1 {
		return domain.OutOfStock
	}
	return domain.StockUnknown
}
