package domain

// Marketplace is a storefront the search phase queries.
type Marketplace struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// SearchRequest is one per-marketplace query sent to a SearchProvider.
type SearchRequest struct {
	Query       string
	Marketplace Marketplace
	Limit       int
}

// Candidate is a search hit that may be opened on the device.
type Candidate struct {
	Marketplace string `json:"marketplace"`
	Title       string `json:"title"`
	RawPrice    string `json:"rawPrice"`
	URL         string `json:"url"`
}

// RankedCandidate is a candidate with its parsed price hint, nil when the
// raw price could not be parsed.
type RankedCandidate struct {
	Candidate
	Price *Price `json:"price,omitempty"`
}
