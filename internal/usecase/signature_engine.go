package usecase

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pricelens/backend/internal/domain"
)

// capacityPattern matches memory and storage sizes after unit joining ("128gb")
var capacityPattern = regexp.MustCompile(`^\d+(gb|tb)$`)

// measurePattern matches quantities with a unit ("5g", "6000mah", "50mp"),
// which are specs rather than model numbers
var measurePattern = regexp.MustCompile(`^\d+(\.\d+)?(g|gb|tb|mb|mah|mp|hz|w|cm|mm|inch)$`)

// signatureStopWords are dropped before token comparison
var signatureStopWords = map[string]bool{
	// Basic English stop words
	"a": true, "an": true, "the": true, "and": true, "or": true,
	"of": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "with": true, "by": true, "from": true, "is": true,
	// Listing noise
	"buy": true, "online": true, "price": true, "best": true, "india": true,
	"new": true, "latest": true, "edition": true, "version": true,
	"ram": true, "rom": true, "storage": true, "memory": true, "internal": true,
	"colour": true, "color": true, "variant": true, "model": true,
	"mobile": true, "phone": true, "smartphone": true,
}

// colorTerms are compared as a feature: two titles naming disjoint colours differ
var colorTerms = map[string]bool{
	"black": true, "white": true, "blue": true, "red": true, "green": true,
	"yellow": true, "purple": true, "pink": true, "gold": true, "silver": true,
	"grey": true, "gray": true, "orange": true, "brown": true, "violet": true,
	"graphite": true, "titanium": true, "bronze": true, "beige": true, "teal": true,
	"cyan": true, "maroon": true, "navy": true, "lavender": true, "mint": true,
}

// accessoryTerms mark a listing as an accessory for a product rather than the product
var accessoryTerms = map[string]bool{
	"case": true, "cover": true, "protector": true, "tempered": true, "guard": true,
	"charger": true, "cable": true, "skin": true, "pouch": true, "holder": true,
	"stand": true, "adapter": true, "sleeve": true, "strap": true, "lens": true,
}

// SignatureConfig holds configuration for the signature engine
type SignatureConfig struct {
	SimilarityThreshold float64
	EnableFuzzyMatching bool
	FuzzyEditDistance   int
}

// SignatureEngine decides whether two titles describe the same product.
type SignatureEngine struct {
	normalizer          *TitleNormalizer
	similarityThreshold float64
	enableFuzzyMatching bool
	fuzzyEditDistance   int
}

// NewSignatureEngine creates a new signature engine with the given configuration
func NewSignatureEngine(config SignatureConfig) *SignatureEngine {
	threshold := config.SimilarityThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}

	fuzzyDist := config.FuzzyEditDistance
	if fuzzyDist <= 0 {
		fuzzyDist = 1
	}

	return &SignatureEngine{
		normalizer:          NewTitleNormalizer(),
		similarityThreshold: threshold,
		enableFuzzyMatching: config.EnableFuzzyMatching,
		fuzzyEditDistance:   fuzzyDist,
	}
}

// Normalize is a convenience wrapper over the engine's title normalizer.
func (e *SignatureEngine) Normalize(title string) domain.NormalizedTitle {
	return e.normalizer.Normalize(title)
}

// Signature builds the offer signature for a title seen on a marketplace.
func (e *SignatureEngine) Signature(title, marketplace string, price *domain.Price, variant string) domain.ProductSignature {
	sig := domain.ProductSignature{
		Title:       e.Normalize(title),
		Marketplace: strings.ToLower(strings.TrimSpace(marketplace)),
		Variant:     string(e.Normalize(variant)),
	}
	if price != nil {
		sig.Price = price.Key()
	}
	return sig
}

// Similarity scores two normalized titles in [0, 1]. It is symmetric and
// scores identical non-empty titles 1. An empty title matches nothing.
//
// The score is the share of the shorter title's significant tokens found in
// the longer one. Conflicting key features (model numbers, capacities,
// colours, accessory words) force 0. A one-token title against a longer one falls back to
// Jaccard so a bare brand never matches a full listing.
func (e *SignatureEngine) Similarity(a, b domain.NormalizedTitle) float64 {
	if strings.TrimSpace(string(a)) == "" || strings.TrimSpace(string(b)) == "" {
		return 0
	}
	if a == b {
		return 1
	}

	tokensA := significantTokens(string(a))
	tokensB := significantTokens(string(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	if featuresConflict(tokensA, tokensB) {
		return 0
	}

	// Count from both sides so fuzzy matches cannot break symmetry
	matched := min(e.countMatches(tokensA, tokensB), e.countMatches(tokensB, tokensA))

	shorter := min(len(tokensA), len(tokensB))
	if shorter == 1 && max(len(tokensA), len(tokensB)) > 1 {
		return float64(matched) / float64(findUnion(tokensA, tokensB))
	}

	score := float64(matched) / float64(shorter)
	if score > 1 {
		score = 1
	}
	return score
}

// SameProduct reports whether two titles clear the similarity threshold.
func (e *SignatureEngine) SameProduct(a, b domain.NormalizedTitle) bool {
	return e.Similarity(a, b) >= e.similarityThreshold
}

// SameSignature reports whether two signatures denote the same offer: the same
// product on the same marketplace at the same price. Variant labels only
// distinguish signatures when both carry one.
func (e *SignatureEngine) SameSignature(a, b domain.ProductSignature) bool {
	if a.Marketplace != b.Marketplace || a.Price != b.Price {
		return false
	}
	if a.Variant != "" && b.Variant != "" && a.Variant != b.Variant {
		return false
	}
	return e.SameProduct(a.Title, b.Title)
}

// SameFamily reports whether two signatures belong to the same product,
// regardless of marketplace, price or variant.
func (e *SignatureEngine) SameFamily(a, b domain.ProductSignature) bool {
	return e.SameProduct(a.Title, b.Title)
}

// countMatches counts tokens of from present in to, exactly or within the
// fuzzy edit distance. Tokens containing digits only match exactly.
func (e *SignatureEngine) countMatches(from, to []string) int {
	set := make(map[string]bool, len(to))
	for _, t := range to {
		set[t] = true
	}

	count := 0
	for _, token := range from {
		if set[token] {
			count++
			continue
		}
		if !e.enableFuzzyMatching || hasDigit(token) {
			continue
		}
		for _, candidate := range to {
			if !hasDigit(candidate) && fuzzyTokenMatch(token, candidate, e.fuzzyEditDistance) {
				count++
				break
			}
		}
	}
	return count
}

// significantTokens splits a normalized title into unique tokens, dropping
// stop words and single characters (numbers are kept: "15" tells iPhones apart).
func significantTokens(s string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, word := range strings.Fields(s) {
		if len([]rune(word)) <= 1 && !isNumeric(word) {
			continue
		}
		if signatureStopWords[word] || seen[word] {
			continue
		}
		seen[word] = true
		tokens = append(tokens, word)
	}
	return tokens
}

// featuresConflict reports key-feature disagreement between two token sets.
func featuresConflict(a, b []string) bool {
	if hasAccessory(a) != hasAccessory(b) {
		return true
	}

	capA, capB := filterTokens(a, capacityPattern.MatchString), filterTokens(b, capacityPattern.MatchString)
	if len(capA) > 0 && len(capB) > 0 && !isSubset(capA, capB) && !isSubset(capB, capA) {
		return true
	}

	// A model number on one side only, or two unrelated ones, is another product
	modelA, modelB := filterTokens(a, isModelToken), filterTokens(b, isModelToken)
	if (len(modelA) == 0) != (len(modelB) == 0) {
		return true
	}
	if len(modelA) > 0 && len(modelB) > 0 {
		if n, _ := findIntersection(modelA, modelB); n == 0 {
			return true
		}
	}

	isColor := func(t string) bool { return colorTerms[t] }
	colA, colB := filterTokens(a, isColor), filterTokens(b, isColor)
	if len(colA) > 0 && len(colB) > 0 {
		if n, _ := findIntersection(colA, colB); n == 0 {
			return true
		}
	}
	return false
}

// isModelToken reports whether t mixes letters and digits without being a
// measured quantity: "m34", "a15", "s23fe".
func isModelToken(t string) bool {
	if !hasDigit(t) || isNumeric(t) || measurePattern.MatchString(t) {
		return false
	}
	for _, r := range t {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func hasAccessory(tokens []string) bool {
	for _, t := range tokens {
		if accessoryTerms[t] {
			return true
		}
	}
	return false
}

func filterTokens(tokens []string, keep func(string) bool) []string {
	var out []string
	for _, t := range tokens {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func isSubset(small, big []string) bool {
	n, _ := findIntersection(small, big)
	return n == len(small)
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

func hasDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}

// fuzzyTokenMatch checks if two tokens are similar within the edit distance threshold
func fuzzyTokenMatch(token1, token2 string, threshold int) bool {
	if token1 == token2 {
		return true
	}

	// Only apply fuzzy matching to longer tokens to avoid false positives
	if len(token1) < 5 || len(token2) < 5 {
		return false
	}

	lenDiff := len(token1) - len(token2)
	if lenDiff < 0 {
		lenDiff = -lenDiff
	}
	if lenDiff > threshold {
		return false
	}

	return levenshteinDistance(token1, token2) <= threshold
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	r1 := []rune(s1)
	r2 := []rune(s2)
	m := len(r1)
	n := len(r2)

	// Two rows instead of the full matrix
	prev := make([]int, n+1)
	curr := make([]int, n+1)

	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[n]
}

// findIntersection returns the count of common tokens and the list of matched tokens
func findIntersection(tokens1, tokens2 []string) (int, []string) {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}

	var matched []string
	seen := make(map[string]bool)
	for _, t := range tokens2 {
		if set[t] && !seen[t] {
			matched = append(matched, t)
			seen[t] = true
		}
	}

	return len(matched), matched
}

// findUnion returns the count of unique tokens across both sets
func findUnion(tokens1, tokens2 []string) int {
	set := make(map[string]bool)
	for _, t := range tokens1 {
		set[t] = true
	}
	for _, t := range tokens2 {
		set[t] = true
	}
	return len(set)
}
