package usecase

import (
	"regexp"
	"strings"

	"github.com/pricelens/backend/internal/domain"
)

// Compiled regex patterns for title normalization
var (
	// Matches marketplace prefixes like "Amazon.in: " or "Flipkart.com - "
	marketplacePrefixPattern = regexp.MustCompile(`^\s*(amazon(\.in|\.com)?|flipkart(\.com)?|myntra(\.com)?)\s*[:|\-–]\s*`)

	// Matches marketplace suffixes like " | Flipkart.com" or " : Amazon.in: Electronics"
	marketplaceSuffixPattern = regexp.MustCompile(`\s*[:|\-–]\s*(amazon(\.in|\.com)?|flipkart(\.com)?|myntra(\.com)?)\b.*$`)

	// Matches storefront sales copy like "Buy ... Online at Best Price in India"
	salesCopyPattern = regexp.MustCompile(`\bonline\s+at\s+(best|low|lowest)\s+prices?(\s+in\s+india)?\b.*$|\bat\s+(best|lowest)\s+prices?(\s+in\s+india)?\b|^\s*buy\s+`)

	// Matches fulfilment tails like "sold by X" or "with free delivery"
	fulfilmentPattern = regexp.MustCompile(`\b(sold|fulfilled|shipped|dispatched)\s+by\b.*$|\b(with\s+)?free\s+(delivery|shipping)\b.*$`)

	// Joins a number and its unit: "128 GB" -> "128gb"
	numberUnitPattern = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s+(gb|tb|mb|mah|mp|hz|w|inch|inches|cm|mm|kg|g|ml|l)\b`)

	// Anything that is not a letter, digit, dot or space
	titlePunctuationPattern = regexp.MustCompile(`[^\p{L}\p{N}.\s]+`)

	// Dots that are not between digits ("6.5" stays, "Amazon.in" splits)
	strayDotPattern = regexp.MustCompile(`(^|[^\d])\.|\.([^\d]|$)`)

	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// TitleNormalizer strips marketplace boilerplate from listing titles so titles
// for the same product on different storefronts compare equal.
type TitleNormalizer struct{}

// NewTitleNormalizer creates a new title normalizer
func NewTitleNormalizer() *TitleNormalizer {
	return &TitleNormalizer{}
}

// Normalize lower-cases a title, removes storefront prefixes and suffixes,
// sales copy and fulfilment tails, joins numbers to their units and collapses
// punctuation and whitespace.
func (n *TitleNormalizer) Normalize(title string) domain.NormalizedTitle {
	if strings.TrimSpace(title) == "" {
		return ""
	}

	cleaned := strings.ToLower(title)

	// Step 1: Storefront names
	cleaned = marketplacePrefixPattern.ReplaceAllString(cleaned, "")
	cleaned = marketplaceSuffixPattern.ReplaceAllString(cleaned, "")

	// Step 2: Sales copy and fulfilment
	cleaned = salesCopyPattern.ReplaceAllString(cleaned, " ")
	cleaned = fulfilmentPattern.ReplaceAllString(cleaned, " ")

	// Step 3: Punctuation, keeping decimal points
	cleaned = titlePunctuationPattern.ReplaceAllString(cleaned, " ")
	cleaned = strayDotPattern.ReplaceAllString(cleaned, "$1 $2")

	// Step 4: Units attach to their numbers
	cleaned = numberUnitPattern.ReplaceAllString(cleaned, "$1$2")

	cleaned = multiSpacePattern.ReplaceAllString(cleaned, " ")
	return domain.NormalizedTitle(strings.TrimSpace(cleaned))
}
