package serper

import (
	"net/url"
	"strings"

	"github.com/pricelens/backend/internal/domain"
)

// searchPayload is the request body shared by /shopping and /search
type searchPayload struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
	Num int    `json:"num,omitempty"`
}

type shoppingResult struct {
	Title    string  `json:"title"`
	Source   string  `json:"source"`
	Link     string  `json:"link"`
	Price    string  `json:"price"`
	Rating   float64 `json:"rating,omitempty"`
	Position int     `json:"position"`
}

type organicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

type searchResponse struct {
	Shopping []shoppingResult `json:"shopping"`
	Organic  []organicResult  `json:"organic"`
}

// Regional language path segments some storefronts insert ("/hi/", "/ta/")
var languageSegments = map[string]bool{
	"hi": true, "mr": true, "ta": true, "te": true, "bn": true,
	"kn": true, "ml": true, "gu": true, "pa": true, "or": true,
}

// MapShopping converts shopping results on the marketplace's domain into
// candidates, keeping at most limit.
func MapShopping(results []shoppingResult, mk domain.Marketplace, limit int) []domain.Candidate {
	var out []domain.Candidate
	for _, r := range results {
		if len(out) >= limit {
			break
		}
		if !OnMarketplace(r.Link, mk.Domain) {
			continue
		}
		out = append(out, domain.Candidate{
			Marketplace: mk.Name,
			Title:       strings.TrimSpace(r.Title),
			RawPrice:    r.Price,
			URL:         StripLanguageCode(r.Link),
		})
	}
	return out
}

// MapOrganic converts organic results; the snippet stands in for the price
// text since organic results carry no price field.
func MapOrganic(results []organicResult, mk domain.Marketplace, limit int) []domain.Candidate {
	var out []domain.Candidate
	for _, r := range results {
		if len(out) >= limit {
			break
		}
		if !OnMarketplace(r.Link, mk.Domain) {
			continue
		}
		out = append(out, domain.Candidate{
			Marketplace: mk.Name,
			Title:       strings.TrimSpace(r.Title),
			RawPrice:    r.Snippet,
			URL:         StripLanguageCode(r.Link),
		})
	}
	return out
}

// OnMarketplace reports whether link points at host or one of its subdomains.
// An empty host accepts any absolute link.
func OnMarketplace(link, host string) bool {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || u.Host == "" {
		return false
	}
	if host == "" {
		return true
	}
	h := strings.ToLower(u.Hostname())
	host = strings.ToLower(host)
	return h == host || strings.HasSuffix(h, "."+host)
}

// StripLanguageCode removes regional language path segments so the page
// opens in English.
func StripLanguageCode(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" {
		return link
	}
	segments := strings.Split(u.Path, "/")
	kept := segments[:0]
	removed := false
	for _, s := range segments {
		if languageSegments[strings.ToLower(s)] {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	if !removed {
		return link
	}
	u.Path = strings.Join(kept, "/")
	u.RawPath = ""
	return u.String()
}
